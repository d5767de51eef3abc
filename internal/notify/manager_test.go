package notify

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensebridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	mu       sync.Mutex
	commands []string
	params   []map[string]any
	accept   bool
}

func (s *recordingSender) SendCommand(name string, params map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, name)
	s.params = append(s.params, params)
	return s.accept
}

func (s *recordingSender) commandCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands)
}

type recordingActuator struct {
	mu      sync.Mutex
	signals []string
}

func (a *recordingActuator) Start() error             { return nil }
func (a *recordingActuator) Stop()                    {}
func (a *recordingActuator) SetButtonCallback(func()) {}
func (a *recordingActuator) Signal(pattern string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signals = append(a.signals, pattern)
}

func (a *recordingActuator) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.signals))
	copy(out, a.signals)
	return out
}

type toastRecorder struct {
	mu     sync.Mutex
	titles []string
	bodies []string
}

func (r *toastRecorder) toast(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return nil
}

func (r *toastRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestNotifyDeliversToAllChannels(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{accept: true}
	actuator := &recordingActuator{}
	toasts := &toastRecorder{}

	m := NewManager(Config{Desktop: true}, sender, actuator, testLogger())
	m.toast = toasts.toast

	require.NoError(t, m.Start())
	defer m.Stop()

	require.NoError(t, m.Notify(domain.Event{
		Kind:       domain.EventKindSound,
		Label:      "doorbell",
		Confidence: 0.91,
	}))

	waitFor(t, 2*time.Second, func() bool { return toasts.count() == 1 })
	waitFor(t, 2*time.Second, func() bool { return sender.commandCount() == 1 })

	toasts.mu.Lock()
	assert.Equal(t, "Detected: Doorbell", toasts.titles[0])
	toasts.mu.Unlock()

	sender.mu.Lock()
	assert.Equal(t, "alert", sender.commands[0])
	assert.Equal(t, "doorbell", sender.params[0]["label"])
	assert.Equal(t, "sound", sender.params[0]["event"])
	sender.mu.Unlock()

	waitFor(t, 2*time.Second, func() bool { return len(actuator.recorded()) == 1 })
	assert.Equal(t, "pulse-double", actuator.recorded()[0])
}

func TestSignalPatternsPerEventKind(t *testing.T) {
	t.Parallel()

	actuator := &recordingActuator{}
	m := NewManager(Config{}, nil, actuator, testLogger())
	require.NoError(t, m.Start())
	defer m.Stop()

	require.NoError(t, m.Notify(domain.Event{Kind: domain.EventKindSpeech, Payload: "hello"}))
	require.NoError(t, m.Notify(domain.Event{Kind: domain.EventKindButton}))
	require.NoError(t, m.Notify(domain.Event{Kind: domain.EventKindSound, Label: "alarm"}))

	waitFor(t, 2*time.Second, func() bool { return len(actuator.recorded()) == 3 })
	assert.Equal(t, []string{"pulse-short", "pulse-single", "pulse-double"}, actuator.recorded())
}

func TestQuietHoursSuppressOnlyDesktopToasts(t *testing.T) {
	t.Parallel()

	actuator := &recordingActuator{}
	toasts := &toastRecorder{}

	m := NewManager(Config{Desktop: true, QuietStartHour: 22, QuietEndHour: 7}, nil, actuator, testLogger())
	m.toast = toasts.toast
	m.now = func() time.Time {
		return time.Date(2026, 8, 29, 23, 30, 0, 0, time.UTC)
	}

	require.NoError(t, m.Start())
	defer m.Stop()

	require.NoError(t, m.Notify(domain.Event{Kind: domain.EventKindSound, Label: "alarm"}))

	waitFor(t, 2*time.Second, func() bool { return len(actuator.recorded()) == 1 })
	assert.Equal(t, 0, toasts.count(), "toast delivered inside quiet hours")

	// Same event outside the window reaches the desktop.
	m.now = func() time.Time {
		return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	}
	require.NoError(t, m.Notify(domain.Event{Kind: domain.EventKindSound, Label: "alarm"}))
	waitFor(t, 2*time.Second, func() bool { return toasts.count() == 1 })
}

func TestConcurrentNotifyDuringStopDoesNotPanic(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{QueueSize: 1}, nil, nil, testLogger())
	require.NoError(t, m.Start())

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				// Errors (queue full, manager stopped) are expected here;
				// a send on the closed queue would panic the test.
				_ = m.Notify(domain.Event{Kind: domain.EventKindSound, Label: "burst"})
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	m.Stop()
	close(done)
	wg.Wait()
}

func TestNotifyFailsWhenStopped(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{}, nil, nil, testLogger())
	err := m.Notify(domain.Event{Kind: domain.EventKindSound})
	assert.Error(t, err)

	require.NoError(t, m.Start())
	m.Stop()

	err = m.Notify(domain.Event{Kind: domain.EventKindSound})
	assert.Error(t, err)
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	// A rejecting sender keeps delivery cheap while the queue backs up.
	blockGate := make(chan struct{})
	sender := senderFunc(func(string, map[string]any) bool {
		<-blockGate
		return true
	})

	m := NewManager(Config{QueueSize: 1}, sender, nil, testLogger())
	require.NoError(t, m.Start())

	var dropped bool
	for i := 0; i < 8; i++ {
		if err := m.Notify(domain.Event{Kind: domain.EventKindSound, Label: "burst"}); err != nil {
			dropped = true
			break
		}
	}
	assert.True(t, dropped, "expected at least one drop with a saturated queue")

	close(blockGate)
	m.Stop()
}

type senderFunc func(name string, params map[string]any) bool

func (f senderFunc) SendCommand(name string, params map[string]any) bool { return f(name, params) }
