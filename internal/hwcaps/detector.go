// Package hwcaps probes the runtime environment once and exposes a
// read-only capability snapshot. Probe failures degrade the corresponding
// flag to false; detection never aborts the process.
package hwcaps

import (
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/afero"

	"sensebridge/internal/domain"
)

const (
	deviceTreeModelPath = "/proc/device-tree/model"
	rpiIssuePath        = "/etc/rpi-issue"
	framebufferPath     = "/dev/fb0"
	gpioChipPath        = "/dev/gpiochip0"
	gpioSysPath         = "/sys/class/gpio"
)

// Probes supplies the hardware checks that need external libraries. Each is
// optional; a nil probe degrades its capability to absent.
type Probes struct {
	// AudioInputs returns the number of enumerable audio devices.
	AudioInputs func() (int, error)
	// Bluetooth reports whether a bluetooth stack is reachable.
	Bluetooth func() error
}

// Detector computes a CapabilitySnapshot from the filesystem, environment
// and injected probes.
type Detector struct {
	fs     afero.Fs
	env    func(string) string
	probes Probes
	logger *slog.Logger
}

// New builds a detector over the real host environment.
func New(probes Probes, logger *slog.Logger) *Detector {
	return NewWithEnv(afero.NewOsFs(), os.Getenv, probes, logger)
}

// NewWithEnv builds a detector with an explicit filesystem and environment,
// used by tests.
func NewWithEnv(fs afero.Fs, env func(string) string, probes Probes, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		fs:     fs,
		env:    env,
		probes: probes,
		logger: logger.With("component", "hwcaps"),
	}
}

// Detect probes every capability once. Idempotent; callers hold the result
// for the process lifetime instead of re-probing.
func (d *Detector) Detect() domain.CapabilitySnapshot {
	snapshot := domain.CapabilitySnapshot{Platform: runtime.GOOS}
	snapshot.EmbeddedTarget = d.detectEmbeddedTarget()
	snapshot.HasGPIO = d.detectGPIO()
	snapshot.HasAudio = d.detectAudio()
	snapshot.HasBluetooth = d.detectBluetooth()
	snapshot.HasDisplay = d.detectDisplay(snapshot.EmbeddedTarget)

	d.logger.Info("hardware detection complete",
		"platform", snapshot.Platform,
		"embedded", snapshot.EmbeddedTarget,
		"gpio", snapshot.HasGPIO,
		"audio", snapshot.HasAudio,
		"bluetooth", snapshot.HasBluetooth,
		"display", snapshot.HasDisplay,
	)
	return snapshot
}

func (d *Detector) detectEmbeddedTarget() bool {
	model, err := afero.ReadFile(d.fs, deviceTreeModelPath)
	if err == nil && strings.Contains(string(model), "Raspberry Pi") {
		return true
	}

	if ok, _ := afero.Exists(d.fs, rpiIssuePath); ok {
		return true
	}
	return false
}

func (d *Detector) detectGPIO() bool {
	for _, path := range []string{gpioChipPath, gpioSysPath} {
		if ok, err := afero.Exists(d.fs, path); err == nil && ok {
			return true
		}
	}
	d.logger.Warn("gpio access not available")
	return false
}

func (d *Detector) detectAudio() bool {
	if d.probes.AudioInputs == nil {
		d.logger.Warn("audio probe not available")
		return false
	}
	count, err := d.probes.AudioInputs()
	if err != nil {
		d.logger.Warn("audio capture not available", "error", err)
		return false
	}
	return count > 0
}

func (d *Detector) detectBluetooth() bool {
	if d.probes.Bluetooth == nil {
		d.logger.Warn("bluetooth probe not available")
		return false
	}
	if err := d.probes.Bluetooth(); err != nil {
		d.logger.Warn("bluetooth not available", "error", err)
		return false
	}
	return true
}

func (d *Detector) detectDisplay(embedded bool) bool {
	if strings.TrimSpace(d.env("DISPLAY")) != "" {
		return true
	}

	// Embedded boards drive a panel through the framebuffer without X.
	if embedded {
		if ok, err := afero.Exists(d.fs, framebufferPath); err == nil && ok {
			return true
		}
	}
	return false
}
