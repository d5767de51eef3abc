// Package orchestrator owns the lifecycle of every worker: startup order,
// callback fan-out and graceful shutdown. It is the only component allowed
// to hold references to all others.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"sensebridge/internal/domain"
	"sensebridge/internal/ports"
)

// RuntimeContext is the explicit process-wide state: the capability
// snapshot computed once at startup plus run-mode flags. It replaces hidden
// global lookups.
type RuntimeContext struct {
	Caps       domain.CapabilitySnapshot
	Headless   bool
	Simulation bool
	Logger     *slog.Logger
}

// Worker is the minimal lifecycle every managed component exposes.
type Worker interface {
	Start() error
	Stop()
}

// WearableWorker adds command sending and status to the base lifecycle.
type WearableWorker interface {
	Worker
	SendCommand(name string, params map[string]any) bool
	Status() domain.WearableStatus
}

// SpeechWorker adds the per-utterance callback registration.
type SpeechWorker interface {
	Worker
	SetCallback(fn func(domain.Transcript))
}

// SoundWorker adds the per-detection callback registration.
type SoundWorker interface {
	Worker
	SetCallback(fn func(label string, confidence float64))
}

// NotificationWorker couples the sink contract with a lifecycle.
type NotificationWorker interface {
	Worker
	Notify(event domain.Event) error
}

// Deps carries the constructed workers. Audio-dependent entries may be nil;
// the orchestrator also nils them itself when the snapshot lacks audio.
type Deps struct {
	Actuator     ports.Actuator
	Notifier     NotificationWorker
	Wearable     WearableWorker
	Speech       SpeechWorker
	Sound        SoundWorker
	Presentation ports.PresentationSink
	EventLog     ports.EventLog
}

const eventQueueSize = 16

// Orchestrator coordinates startup, fan-out and shutdown.
type Orchestrator struct {
	rc   RuntimeContext
	deps Deps

	soundCh  chan domain.Event
	speechCh chan domain.Event
	buttonCh chan domain.Event

	running atomic.Bool

	sim Worker

	mu           sync.Mutex
	started      bool
	stopped      bool
	dispatchStop chan struct{}
	dispatchDone chan struct{}
	timeoutTimer *time.Timer
	doneCh       chan struct{}
}

// New validates dependencies and applies capability gating. Audio-dependent
// subsystems are disabled when the snapshot has no audio; absence of a
// display forces headless mode.
func New(rc RuntimeContext, deps Deps) (*Orchestrator, error) {
	if rc.Logger == nil {
		rc.Logger = slog.Default()
	}
	rc.Logger = rc.Logger.With("component", "orchestrator")

	if deps.Notifier == nil {
		return nil, fmt.Errorf("orchestrator requires a notification worker")
	}
	if deps.Presentation == nil {
		return nil, fmt.Errorf("orchestrator requires a presentation sink")
	}

	if !rc.Caps.HasAudio {
		if deps.Speech != nil || deps.Sound != nil {
			rc.Logger.Warn("audio not available, speech and sound detection disabled")
		}
		deps.Speech = nil
		deps.Sound = nil
	}
	if !rc.Caps.HasDisplay && !rc.Headless {
		rc.Logger.Warn("no display detected, switching to headless mode")
		rc.Headless = true
	}

	return &Orchestrator{
		rc:       rc,
		deps:     deps,
		soundCh:  make(chan domain.Event, eventQueueSize),
		speechCh: make(chan domain.Event, eventQueueSize),
		buttonCh: make(chan domain.Event, eventQueueSize),
		doneCh:   make(chan struct{}),
	}, nil
}

// AttachSimulator wires a scripted event source into the lifecycle and its
// activity log into the fan-out. Must be called before Start.
func (o *Orchestrator) AttachSimulator(sim Worker, log ports.EventLog) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sim = sim
	o.deps.EventLog = log
}

// Start brings workers up in dependency order. A worker that fails to start
// is logged and skipped; the rest still start.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.stopped = false
	o.dispatchStop = make(chan struct{})
	o.dispatchDone = make(chan struct{})
	select {
	case <-o.doneCh:
		o.doneCh = make(chan struct{})
	default:
	}
	o.mu.Unlock()

	o.running.Store(true)
	o.rc.Logger.Info("starting bridge")

	go o.dispatchLoop(o.dispatchStop, o.dispatchDone)

	if o.deps.Actuator != nil {
		o.deps.Actuator.SetButtonCallback(o.OnButtonPress)
	}
	if o.deps.Speech != nil {
		o.deps.Speech.SetCallback(o.OnSpeechRecognized)
	}
	if o.deps.Sound != nil {
		o.deps.Sound.SetCallback(o.OnSoundDetected)
	}

	if o.deps.Actuator != nil {
		o.startWorker("actuator", o.deps.Actuator.Start)
	}
	o.startWorker("notify", o.deps.Notifier.Start)
	if o.deps.Wearable != nil {
		o.startWorker("wearable", o.deps.Wearable.Start)
	}
	if o.deps.Speech != nil {
		o.startWorker("speech", o.deps.Speech.Start)
	}
	if o.deps.Sound != nil {
		o.startWorker("sound", o.deps.Sound.Start)
	}
	if o.sim != nil {
		o.startWorker("simulator", o.sim.Start)
	}
	o.startWorker("presentation", o.deps.Presentation.Start)

	o.deps.Presentation.ShowNotification("sensebridge is ready")
	o.deps.Presentation.UpdateStatus("System active")

	o.rc.Logger.Info("bridge started")
	return nil
}

// StartWithTimeout starts normally and schedules an automatic Stop after
// duration, for bounded demo and test runs.
func (o *Orchestrator) StartWithTimeout(duration time.Duration) error {
	o.mu.Lock()
	o.timeoutTimer = time.AfterFunc(duration, func() {
		o.rc.Logger.Info("runtime timeout reached", "after", duration)
		o.Stop()
	})
	o.mu.Unlock()

	return o.Start()
}

// Stop joins the dispatcher, then brings workers down in exactly the
// reverse of start order. Each stop is wrapped so one worker's failure
// cannot block the rest. Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started || o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	if o.timeoutTimer != nil {
		o.timeoutTimer.Stop()
		o.timeoutTimer = nil
	}
	dispatchStop := o.dispatchStop
	dispatchDone := o.dispatchDone
	o.mu.Unlock()

	o.rc.Logger.Info("stopping bridge")
	o.running.Store(false)

	// Quiesce the fan-out first so no delivery is in flight when its sinks
	// are stopped below.
	close(dispatchStop)
	select {
	case <-dispatchDone:
	case <-time.After(2 * time.Second):
		o.rc.Logger.Warn("dispatcher did not exit within join timeout")
	}

	o.stopWorker("presentation", o.deps.Presentation.Stop)
	if o.sim != nil {
		o.stopWorker("simulator", o.sim.Stop)
	}
	if o.deps.Sound != nil {
		o.stopWorker("sound", o.deps.Sound.Stop)
	}
	if o.deps.Speech != nil {
		o.stopWorker("speech", o.deps.Speech.Stop)
	}
	if o.deps.Wearable != nil {
		o.stopWorker("wearable", o.deps.Wearable.Stop)
	}
	o.stopWorker("notify", o.deps.Notifier.Stop)
	if o.deps.Actuator != nil {
		o.stopWorker("actuator", o.deps.Actuator.Stop)
	}

	o.mu.Lock()
	o.started = false
	select {
	case <-o.doneCh:
	default:
		close(o.doneCh)
	}
	o.mu.Unlock()

	o.rc.Logger.Info("bridge stopped")
}

// HandleSignals registers interrupt and termination handlers that trigger a
// graceful stop. Termination signals are inherently process-global; this is
// the one deliberately global hook.
func (o *Orchestrator) HandleSignals() {
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig, ok := <-sigC
		if !ok {
			return
		}
		o.rc.Logger.Info("received signal, shutting down", "signal", sig.String())
		o.running.Store(false)
		o.Stop()
	}()
}

// Run blocks until the orchestrator stops or the context is canceled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	done := o.doneCh
	o.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.Stop()
		return ctx.Err()
	}
}

// Running reports the process-wide keep-running flag.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Status summarizes the runtime, including wearable state when present.
func (o *Orchestrator) Status() domain.Status {
	status := domain.Status{Running: o.running.Load(), Headless: o.rc.Headless}
	if o.deps.Wearable != nil {
		status.Wearable = o.deps.Wearable.Status()
	}
	return status
}

// OnSoundDetected feeds one classified ambient sound into the fan-out.
func (o *Orchestrator) OnSoundDetected(label string, confidence float64) {
	o.rc.Logger.Info("sound detected", "label", label, "confidence", confidence)
	o.enqueue(o.soundCh, domain.Event{
		Kind:       domain.EventKindSound,
		Label:      label,
		Confidence: confidence,
		At:         time.Now(),
	})
}

// OnSpeechRecognized feeds one recognized utterance into the fan-out.
func (o *Orchestrator) OnSpeechRecognized(tr domain.Transcript) {
	if tr.Text == "" {
		return
	}
	o.rc.Logger.Info("speech recognized", "text", tr.Text)
	o.enqueue(o.speechCh, domain.Event{
		Kind:       domain.EventKindSpeech,
		Label:      "speech",
		Confidence: 1.0,
		Payload:    tr.Text,
		At:         tr.At,
	})
}

// OnButtonPress feeds one button press into the fan-out.
func (o *Orchestrator) OnButtonPress() {
	o.rc.Logger.Info("button pressed")
	o.enqueue(o.buttonCh, domain.Event{
		Kind:       domain.EventKindButton,
		Label:      "doorbell",
		Confidence: 1.0,
		At:         time.Now(),
	})
}

func (o *Orchestrator) enqueue(ch chan domain.Event, event domain.Event) {
	select {
	case ch <- event:
	default:
		// Drop the oldest queued event rather than block a worker.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// dispatchLoop is the single consumer of all event channels. Fan-out is
// serialized here so presentation state never sees interleaved updates.
func (o *Orchestrator) dispatchLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		case event := <-o.soundCh:
			o.fanOut(event)
		case event := <-o.speechCh:
			o.fanOut(event)
		case event := <-o.buttonCh:
			o.fanOut(event)
		}
	}
}

func (o *Orchestrator) fanOut(event domain.Event) {
	if err := o.deps.Notifier.Notify(event); err != nil {
		o.rc.Logger.Warn("notification delivery failed", "kind", event.Kind, "error", err)
	}

	switch event.Kind {
	case domain.EventKindSpeech:
		o.deps.Presentation.UpdateSpeechText(event.Payload)
		o.logToSimulator(fmt.Sprintf("Speech recognized: %s", event.Payload))
	case domain.EventKindButton:
		o.deps.Presentation.ShowNotification("Button pressed")
		o.logToSimulator("Button pressed")
	default:
		o.deps.Presentation.ShowNotification(fmt.Sprintf("Detected: %s", event.Label))
		o.deps.Presentation.UpdateStatus(fmt.Sprintf("Last event: %s (%.2f)", event.Label, event.Confidence))
		o.logToSimulator(fmt.Sprintf("Detected sound: %s (%.2f)", event.Label, event.Confidence))
	}
}

func (o *Orchestrator) logToSimulator(entry string) {
	if o.deps.EventLog != nil {
		o.deps.EventLog.LogEvent(entry)
	}
}

func (o *Orchestrator) startWorker(name string, start func() error) {
	defer func() {
		if r := recover(); r != nil {
			o.rc.Logger.Error("worker start panicked", "worker", name, "panic", r)
		}
	}()

	if err := start(); err != nil {
		o.rc.Logger.Error("worker failed to start", "worker", name, "error", err)
	}
}

func (o *Orchestrator) stopWorker(name string, stop func()) {
	defer func() {
		if r := recover(); r != nil {
			o.rc.Logger.Error("worker stop panicked", "worker", name, "panic", r)
		}
	}()
	stop()
}
