package wearable

import (
	"context"
	"errors"
	"sync"
	"time"

	"sensebridge/internal/domain"
	"sensebridge/internal/ports"
)

var errClosed = errors.New("simulated connection closed")

// SimulatedTransport is an in-memory WearableTransport for demo runs and
// tests. Every dial succeeds and frames are retained for inspection.
type SimulatedTransport struct {
	mu     sync.Mutex
	conns  []*SimulatedConn
	nDials int
}

func NewSimulatedTransport() *SimulatedTransport {
	return &SimulatedTransport{}
}

func (t *SimulatedTransport) Dial(_ context.Context, endpoint domain.WearableEndpoint) (ports.WearableConn, error) {
	conn := &SimulatedConn{endpoint: endpoint}

	t.mu.Lock()
	t.nDials++
	t.conns = append(t.conns, conn)
	t.mu.Unlock()

	return conn, nil
}

// Dials reports how many connections were opened.
func (t *SimulatedTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nDials
}

// LastConn returns the most recently dialed connection, or nil.
func (t *SimulatedTransport) LastConn() *SimulatedConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// SimulatedConn records sent frames and answers the handshake.
type SimulatedConn struct {
	endpoint domain.WearableEndpoint

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *SimulatedConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *SimulatedConn) ReadReply(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	return []byte(`{"cmd":"hello_ack","params":{}}` + "\n"), nil
}

func (c *SimulatedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Frames returns copies of every frame written so far.
func (c *SimulatedConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}
