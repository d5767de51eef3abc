// Package simulator replays a scripted timeline of ambient events for demo
// and bounded test runs, and records a human-readable activity log.
package simulator

import (
	"log/slog"
	"sync"
	"time"
)

// ScriptedEvent is one entry in the timeline. After is relative to Start.
type ScriptedEvent struct {
	After      time.Duration
	Sound      string
	Confidence float64
	Button     bool
}

// DefaultScript covers the event kinds the bridge reacts to.
func DefaultScript() []ScriptedEvent {
	return []ScriptedEvent{
		{After: 2 * time.Second, Sound: "doorbell", Confidence: 0.92},
		{After: 5 * time.Second, Sound: "knock", Confidence: 0.78},
		{After: 8 * time.Second, Button: true},
		{After: 12 * time.Second, Sound: "alarm", Confidence: 0.97},
	}
}

// Simulator feeds scripted events into the same callbacks the real
// detectors use.
type Simulator struct {
	script  []ScriptedEvent
	logger  *slog.Logger
	onSound func(label string, confidence float64)
	onPress func()

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	log     []string
}

func New(script []ScriptedEvent, onSound func(string, float64), onPress func(), logger *slog.Logger) *Simulator {
	if len(script) == 0 {
		script = DefaultScript()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		script:  script,
		logger:  logger.With("component", "simulator"),
		onSound: onSound,
		onPress: onPress,
	}
}

func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(s.stop, s.done)
	s.logger.Info("simulator started", "events", len(s.script))
	return nil
}

func (s *Simulator) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop := s.stop
	done := s.done
	s.stop = nil
	s.done = nil
	s.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.logger.Warn("simulator did not exit within join timeout")
	}
}

// LogEvent appends one entry to the activity log.
func (s *Simulator) LogEvent(entry string) {
	s.mu.Lock()
	s.log = append(s.log, entry)
	s.mu.Unlock()
	s.logger.Debug("simulator event", "entry", entry)
}

// Log returns a copy of the activity log.
func (s *Simulator) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.log))
	copy(out, s.log)
	return out
}

func (s *Simulator) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	start := time.Now()
	for _, event := range s.script {
		wait := event.After - time.Since(start)
		if wait > 0 {
			select {
			case <-stop:
				return
			case <-time.After(wait):
			}
		}

		switch {
		case event.Button:
			if s.onPress != nil {
				s.onPress()
			}
		case event.Sound != "":
			if s.onSound != nil {
				s.onSound(event.Sound, event.Confidence)
			}
		}
	}
}
