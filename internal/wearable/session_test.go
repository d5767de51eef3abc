package wearable

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"sensebridge/internal/domain"
	"sensebridge/internal/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

type failingTransport struct {
	mu    sync.Mutex
	dials []time.Time
}

func (t *failingTransport) Dial(context.Context, domain.WearableEndpoint) (ports.WearableConn, error) {
	t.mu.Lock()
	t.dials = append(t.dials, time.Now())
	t.mu.Unlock()
	return nil, errors.New("device out of range")
}

func (t *failingTransport) dialTimes() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Time, len(t.dials))
	copy(out, t.dials)
	return out
}

type flakyConn struct {
	mu      sync.Mutex
	sends   int
	sendErr error
}

func (c *flakyConn) Send([]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	if c.sends > 1 {
		return c.sendErr
	}
	return nil
}

func (c *flakyConn) ReadReply(time.Duration) ([]byte, error) {
	return nil, errors.New("no reply")
}

func (c *flakyConn) Close() error { return nil }

type flakyTransport struct {
	conn *flakyConn
}

func (t *flakyTransport) Dial(context.Context, domain.WearableEndpoint) (ports.WearableConn, error) {
	return t.conn, nil
}

// droppingTransport hands out a fresh connection per dial whose handshake
// succeeds but whose next write fails, so every session drops cleanly.
type droppingTransport struct {
	mu    sync.Mutex
	dials []time.Time
}

func (t *droppingTransport) Dial(context.Context, domain.WearableEndpoint) (ports.WearableConn, error) {
	t.mu.Lock()
	t.dials = append(t.dials, time.Now())
	t.mu.Unlock()
	return &flakyConn{sendErr: errors.New("link reset")}, nil
}

func (t *droppingTransport) dialTimes() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Time, len(t.dials))
	copy(out, t.dials)
	return out
}

func TestSimulatedModeAcceptsCommandsWithoutTransport(t *testing.T) {
	t.Parallel()

	session := NewSession(Config{}, nil, testLogger())
	if err := session.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Stop()

	if !session.SendCommand("vibrate", map[string]any{"intensity": 3}) {
		t.Fatalf("expected simulated session to accept command")
	}
	if got := session.Status().State; got != domain.WearableStateSimulated {
		t.Fatalf("unexpected state: %s", got)
	}
}

func TestSendCommandWhileDisconnectedReturnsFalse(t *testing.T) {
	t.Parallel()

	session := NewSession(
		Config{Endpoint: domain.WearableEndpoint{MAC: "AA:BB:CC:DD:EE:FF"}},
		&failingTransport{},
		testLogger(),
	)

	start := time.Now()
	if session.SendCommand("vibrate", nil) {
		t.Fatalf("expected send to fail while disconnected")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("send blocked for %v", elapsed)
	}
}

func TestReconnectBackoffIsLongerAfterHardError(t *testing.T) {
	t.Parallel()

	transport := &failingTransport{}
	session := NewSession(Config{
		Endpoint:      domain.WearableEndpoint{MAC: "AA:BB:CC:DD:EE:FF"},
		IdleInterval:  10 * time.Millisecond,
		ErrorInterval: 60 * time.Millisecond,
		JoinTimeout:   time.Second,
	}, transport, testLogger())

	if err := session.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Stop()

	waitFor(t, 2*time.Second, func() bool { return len(transport.dialTimes()) >= 3 })

	times := transport.dialTimes()
	for i := 1; i < 3; i++ {
		gap := times[i].Sub(times[i-1])
		if gap < 55*time.Millisecond {
			t.Fatalf("retry gap %v shorter than error backoff", gap)
		}
	}

	status := session.Status()
	if status.State != domain.WearableStateDisconnected && status.State != domain.WearableStateConnecting {
		t.Fatalf("unexpected state: %s", status.State)
	}
	if status.Retries < 3 {
		t.Fatalf("expected retry count >= 3, got %d", status.Retries)
	}
}

func TestCleanDropReconnectsOnIdleCadence(t *testing.T) {
	t.Parallel()

	transport := &droppingTransport{}
	session := NewSession(Config{
		Endpoint:      domain.WearableEndpoint{MAC: "AA:BB:CC:DD:EE:FF"},
		IdleInterval:  10 * time.Millisecond,
		ErrorInterval: 300 * time.Millisecond,
		JoinTimeout:   time.Second,
	}, transport, testLogger())

	if err := session.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Stop()

	waitFor(t, time.Second, func() bool {
		return session.Status().State == domain.WearableStateConnected
	})

	// Drop the link through a failed write, then time the redial. A clean
	// drop reconnects on the short idle cadence, well inside the error
	// interval that hard connect failures earn.
	droppedAt := time.Now()
	if session.SendCommand("alert", nil) {
		t.Fatalf("expected send failure")
	}

	waitFor(t, time.Second, func() bool { return len(transport.dialTimes()) >= 2 })
	gap := transport.dialTimes()[1].Sub(droppedAt)
	if gap >= 150*time.Millisecond {
		t.Fatalf("redial after a clean drop waited %v, idle cadence expected", gap)
	}
}

func TestMissingAddressUsesIdleBackoff(t *testing.T) {
	t.Parallel()

	transport := &failingTransport{}
	session := NewSession(Config{
		IdleInterval:  10 * time.Millisecond,
		ErrorInterval: 500 * time.Millisecond,
		JoinTimeout:   time.Second,
	}, transport, testLogger())

	if err := session.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	session.Stop()

	// Without an address there is nothing to dial; the loop keeps idling
	// on the short interval and never attempts a transport open.
	if got := len(transport.dialTimes()); got != 0 {
		t.Fatalf("expected no dial attempts, got %d", got)
	}
}

func TestSendFailureDowngradesToDisconnected(t *testing.T) {
	t.Parallel()

	conn := &flakyConn{sendErr: errors.New("link reset")}
	session := NewSession(Config{
		Endpoint:     domain.WearableEndpoint{MAC: "AA:BB:CC:DD:EE:FF"},
		IdleInterval: 10 * time.Millisecond,
		JoinTimeout:  time.Second,
	}, &flakyTransport{conn: conn}, testLogger())

	if err := session.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Stop()

	waitFor(t, time.Second, func() bool {
		return session.Status().State == domain.WearableStateConnected
	})

	if session.SendCommand("alert", nil) {
		t.Fatalf("expected send failure")
	}
	if got := session.Status().State; got != domain.WearableStateDisconnected {
		t.Fatalf("expected disconnected after send failure, got %s", got)
	}
}

func TestHandshakeAndCommandFraming(t *testing.T) {
	t.Parallel()

	transport := NewSimulatedTransport()
	session := NewSession(Config{
		Endpoint:     domain.WearableEndpoint{MAC: "AA:BB:CC:DD:EE:FF", Channel: 1},
		LocalName:    "sensebridge",
		IdleInterval: 10 * time.Millisecond,
		JoinTimeout:  time.Second,
	}, transport, testLogger())

	if err := session.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Stop()

	waitFor(t, time.Second, func() bool {
		return session.Status().State == domain.WearableStateConnected
	})

	if !session.SendCommand("alert", map[string]any{"event": "doorbell"}) {
		t.Fatalf("send failed while connected")
	}

	conn := transport.LastConn()
	frames := conn.Frames()
	if len(frames) < 2 {
		t.Fatalf("expected hello and alert frames, got %d", len(frames))
	}
	if !bytes.Contains(frames[0], []byte(`"cmd":"hello"`)) {
		t.Fatalf("first frame is not a hello: %s", frames[0])
	}
	for _, frame := range frames {
		if frame[len(frame)-1] != '\n' {
			t.Fatalf("frame is not newline terminated: %q", frame)
		}
	}
	if !bytes.Contains(frames[len(frames)-1], []byte(`"cmd":"alert"`)) {
		t.Fatalf("missing alert frame: %s", frames[len(frames)-1])
	}
}

func TestStopIsBoundedAndSessionRestarts(t *testing.T) {
	t.Parallel()

	transport := NewSimulatedTransport()
	session := NewSession(Config{
		Endpoint:     domain.WearableEndpoint{MAC: "AA:BB:CC:DD:EE:FF"},
		IdleInterval: 10 * time.Millisecond,
		JoinTimeout:  time.Second,
	}, transport, testLogger())

	if err := session.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return session.Status().State == domain.WearableStateConnected
	})

	start := time.Now()
	session.Stop()
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Fatalf("stop took %v", elapsed)
	}
	if got := session.Status().State; got != domain.WearableStateStopped {
		t.Fatalf("expected stopped, got %s", got)
	}

	// Stop again is a no-op.
	session.Stop()

	if err := session.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return session.Status().State == domain.WearableStateConnected
	})
	session.Stop()

	if transport.Dials() < 2 {
		t.Fatalf("expected a fresh dial after restart, got %d", transport.Dials())
	}
}
