// Package devctl drives local indicators. The real GPIO driver is an
// external collaborator behind ports.Actuator; SimActuator stands in for it
// off-target.
package devctl

import (
	"log/slog"
	"sync"
)

// SimActuator logs signal patterns and lets tests or the simulator inject
// button presses.
type SimActuator struct {
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	callback func()
	signals  []string
}

func NewSimActuator(logger *slog.Logger) *SimActuator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimActuator{logger: logger.With("component", "devctl")}
}

func (a *SimActuator) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = true
	a.logger.Info("device controller started (simulated)")
	return nil
}

func (a *SimActuator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	a.logger.Info("device controller stopped")
}

// SetButtonCallback replaces the press handler. Safe while running.
func (a *SimActuator) SetButtonCallback(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callback = fn
}

// Signal records an indicator pattern.
func (a *SimActuator) Signal(pattern string) {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.signals = append(a.signals, pattern)
	a.mu.Unlock()

	a.logger.Debug("indicator signal", "pattern", pattern)
}

// PressButton simulates a physical button press.
func (a *SimActuator) PressButton() {
	a.mu.Lock()
	fn := a.callback
	running := a.running
	a.mu.Unlock()

	if running && fn != nil {
		fn()
	}
}

// Signals returns the patterns emitted so far.
func (a *SimActuator) Signals() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.signals))
	copy(out, a.signals)
	return out
}
