// Package bootstrap assembles the runtime graph: capability-gated port
// implementations wired into the orchestrator.
package bootstrap

import (
	"fmt"
	"log/slog"

	"sensebridge/internal/config"
	"sensebridge/internal/devctl"
	"sensebridge/internal/domain"
	"sensebridge/internal/notify"
	"sensebridge/internal/orchestrator"
	"sensebridge/internal/ports"
	"sensebridge/internal/present"
	"sensebridge/internal/providers/deepgram"
	"sensebridge/internal/simulator"
	"sensebridge/internal/speech"
	paudio "sensebridge/internal/speech/portaudio"
	"sensebridge/internal/wearable"
	"sensebridge/internal/wearable/bluez"
)

// Services is the assembled runtime graph.
type Services struct {
	Orchestrator *orchestrator.Orchestrator
	Config       config.Config
	Simulator    *simulator.Simulator
}

// Build wires all workers for the given runtime context. A failure here is
// the one fatal error category: whatever was constructed holds no started
// resources yet, so the caller simply exits non-zero.
func Build(rc orchestrator.RuntimeContext) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, fmt.Errorf("configuration failed: %w", err)
	}

	logger := rc.Logger
	if logger == nil {
		logger = slog.Default()
		rc.Logger = logger
	}

	actuator := devctl.NewSimActuator(logger)

	wearableSession := buildWearable(rc, cfg, logger)

	notifier := notify.NewManager(notify.Config{
		Desktop:        cfg.Notify.Desktop && rc.Caps.HasDisplay,
		QueueSize:      cfg.Notify.QueueSize,
		QuietStartHour: cfg.Notify.QuietStartHour,
		QuietEndHour:   cfg.Notify.QuietEndHour,
	}, wearableSession, actuator, logger)

	speechLoop := buildSpeech(rc, cfg, logger)

	deps := orchestrator.Deps{
		Actuator:     actuator,
		Notifier:     notifier,
		Wearable:     wearableSession,
		Speech:       speechLoop,
		Presentation: present.NewConsoleSink(logger),
	}

	var sim *simulator.Simulator
	orch, err := orchestrator.New(rc, deps)
	if err != nil {
		return Services{}, err
	}

	if rc.Simulation {
		sim = simulator.New(simulator.DefaultScript(), orch.OnSoundDetected, orch.OnButtonPress, logger)
		orch.AttachSimulator(sim, sim)
	}

	return Services{Orchestrator: orch, Config: cfg, Simulator: sim}, nil
}

func buildWearable(rc orchestrator.RuntimeContext, cfg config.Config, logger *slog.Logger) *wearable.Session {
	sessionCfg := wearable.Config{
		Endpoint: domain.WearableEndpoint{
			MAC:         cfg.Wearable.MAC,
			Channel:     cfg.Wearable.Channel,
			DisplayName: cfg.Wearable.DeviceName,
		},
		IdleInterval:  cfg.Wearable.IdleInterval,
		ErrorInterval: cfg.Wearable.ErrorInterval,
		ReplyTimeout:  cfg.Wearable.ReplyTimeout,
		JoinTimeout:   cfg.Wearable.JoinTimeout,
	}

	var transport ports.WearableTransport
	switch {
	case rc.Simulation:
		transport = wearable.NewSimulatedTransport()
	case rc.Caps.HasBluetooth:
		transport = bluez.NewTransport()
	default:
		transport = nil // session runs in simulated-accept mode
	}

	return wearable.NewSession(sessionCfg, transport, logger)
}

func buildSpeech(rc orchestrator.RuntimeContext, cfg config.Config, logger *slog.Logger) *speech.CaptureLoop {
	speechCfg := speech.Config{
		Language:       cfg.Speech.Language,
		MicOrder:       cfg.Speech.MicOrder,
		ListenTimeout:  cfg.Speech.ListenTimeout,
		PhraseLimit:    cfg.Speech.PhraseLimit,
		CalibrateFor:   cfg.Speech.CalibrateFor,
		QueueSize:      cfg.Speech.QueueSize,
		ServiceBackoff: cfg.Speech.ServiceBackoff,
		ListenBackoff:  cfg.Speech.ListenBackoff,
		Simulate:       rc.Simulation,
		SimPhrases:     cfg.Speech.SimPhrases,
		SimCadence:     cfg.Speech.SimCadence,
		SimMaxPhrases:  cfg.Speech.SimMaxPhrases,
	}

	var mic ports.MicrophoneInput
	var recognizer ports.Recognizer
	if rc.Caps.HasAudio && !rc.Simulation {
		mic = paudio.NewInput()
		if cfg.Recognition.APIKey != "" {
			recognizer = deepgram.NewRecognizer(deepgram.Config{
				APIKey:      cfg.Recognition.APIKey,
				APIBaseURL:  cfg.Recognition.APIBaseURL,
				Model:       cfg.Recognition.Model,
				SmartFormat: cfg.Recognition.SmartFormat,
			})
		}
	}

	return speech.NewCaptureLoop(speechCfg, mic, recognizer, logger)
}
