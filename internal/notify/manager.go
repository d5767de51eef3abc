// Package notify delivers events to the user: desktop toast, wearable
// command and local indicator pattern, all from one dispatch goroutine so
// delivery never blocks the producing worker.
package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/oklog/ulid/v2"

	"sensebridge/internal/domain"
	"sensebridge/internal/ports"
)

// CommandSender is the wearable-facing side of notification delivery.
type CommandSender interface {
	SendCommand(name string, params map[string]any) bool
}

// Config controls delivery channels.
type Config struct {
	Desktop   bool
	QueueSize int

	// Quiet hours suppress desktop toasts only; the wearable and local
	// indicator still alert. Equal values disable the window.
	QuietStartHour int
	QuietEndHour   int
}

// Manager implements ports.NotificationSink and runs its own worker.
type Manager struct {
	cfg      Config
	sender   CommandSender
	actuator ports.Actuator
	logger   *slog.Logger

	toast func(title, message string) error
	now   func() time.Time

	mu      sync.Mutex
	running bool
	queue   chan domain.Event
	done    chan struct{}
}

func NewManager(cfg Config, sender CommandSender, actuator ports.Actuator, logger *slog.Logger) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		sender:   sender,
		actuator: actuator,
		logger:   logger.With("component", "notify"),
		toast: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		now: time.Now,
	}
}

// Start spawns the delivery worker. No-op if already running.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	m.running = true
	m.queue = make(chan domain.Event, m.cfg.QueueSize)
	m.done = make(chan struct{})

	go m.deliverLoop(m.queue, m.done)
	m.logger.Info("notification manager started")
	return nil
}

// Stop drains the worker with a bounded join.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	queue := m.queue
	done := m.done
	m.queue = nil
	m.done = nil
	// Closed under the lock so no Notify can be mid-send on this channel.
	close(queue)
	m.mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		m.logger.Warn("notification worker did not exit within join timeout")
	}
	m.logger.Info("notification manager stopped")
}

// Notify enqueues one event for delivery. Never blocks: when the queue is
// full the event is dropped and counted against the log.
func (m *Manager) Notify(event domain.Event) error {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("notification manager is not running")
	}

	// The non-blocking send happens under the same lock Stop takes to close
	// the queue, so a concurrent Stop cannot close it mid-send.
	select {
	case m.queue <- event:
		m.mu.Unlock()
		return nil
	default:
		m.mu.Unlock()
		m.logger.Warn("notification queue full, dropping event", "id", event.ID, "kind", event.Kind)
		return fmt.Errorf("notification queue full")
	}
}

func (m *Manager) deliverLoop(queue <-chan domain.Event, done chan<- struct{}) {
	defer close(done)

	for event := range queue {
		m.deliver(event)
	}
}

func (m *Manager) deliver(event domain.Event) {
	title, body := renderMessage(event)

	if m.cfg.Desktop && !m.inQuietHours() {
		if err := m.toast(title, body); err != nil {
			m.logger.Warn("desktop notification failed", "error", err)
		}
	}

	if m.sender != nil {
		params := map[string]any{
			"event":      string(event.Kind),
			"label":      event.Label,
			"confidence": event.Confidence,
		}
		if !m.sender.SendCommand("alert", params) {
			m.logger.Debug("wearable alert not delivered", "id", event.ID)
		}
	}

	if m.actuator != nil {
		m.actuator.Signal(signalPattern(event.Kind))
	}
}

func (m *Manager) inQuietHours() bool {
	start, end := m.cfg.QuietStartHour, m.cfg.QuietEndHour
	if start == end {
		return false
	}
	hour := m.now().Hour()
	if start < end {
		return hour >= start && hour < end
	}
	// Window wraps midnight, e.g. 22..7.
	return hour >= start || hour < end
}

func renderMessage(event domain.Event) (string, string) {
	switch event.Kind {
	case domain.EventKindSpeech:
		return "Speech recognized", event.Payload
	case domain.EventKindButton:
		return "Button pressed", "Test notification"
	default:
		label := event.Label
		if label == "" {
			label = "sound"
		}
		title := "Detected: " + capitalize(label)
		return title, fmt.Sprintf("confidence %.2f", event.Confidence)
	}
}

func signalPattern(kind domain.EventKind) string {
	switch kind {
	case domain.EventKindSpeech:
		return "pulse-short"
	case domain.EventKindButton:
		return "pulse-single"
	default:
		return "pulse-double"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
