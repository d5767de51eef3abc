// Package wearable keeps a best-effort live connection to one paired
// peripheral. The peripheral is expected to intermittently leave and
// re-enter range, so reconnection never gives up.
package wearable

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"sensebridge/internal/domain"
	"sensebridge/internal/ports"
)

// Config controls session behavior.
type Config struct {
	Endpoint      domain.WearableEndpoint
	LocalName     string
	IdleInterval  time.Duration
	ErrorInterval time.Duration
	ReplyTimeout  time.Duration
	JoinTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.LocalName == "" {
		c.LocalName = "sensebridge"
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 5 * time.Second
	}
	if c.ErrorInterval <= 0 {
		c.ErrorInterval = 10 * time.Second
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 5 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 2 * time.Second
	}
}

type frame struct {
	Cmd    string         `json:"cmd"`
	Params map[string]any `json:"params"`
}

// Session owns the logical connection to the wearable. A nil transport puts
// the session into a permanently-simulated running state: commands are
// accepted but no I/O is performed.
type Session struct {
	cfg       Config
	transport ports.WearableTransport
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	state    domain.WearableState
	conn     ports.WearableConn
	lastErr  string
	retries  int
	cancel   context.CancelFunc
	stopping chan struct{}
	done     chan struct{}
}

// NewSession builds a session. Pass a nil transport when the bluetooth
// capability is absent.
func NewSession(cfg Config, transport ports.WearableTransport, logger *slog.Logger) *Session {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:       cfg,
		transport: transport,
		logger:    logger.With("component", "wearable"),
		state:     domain.WearableStateDisconnected,
	}
}

// Start spawns the reconnect loop and returns immediately. No-op if already
// running.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("wearable session already running")
		return nil
	}

	if s.transport == nil {
		s.logger.Warn("bluetooth not available, wearable running in simulated mode")
		s.running = true
		s.state = domain.WearableStateSimulated
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.state = domain.WearableStateDisconnected
	s.cancel = cancel
	s.stopping = make(chan struct{})
	s.done = make(chan struct{})

	go s.reconnectLoop(ctx, s.stopping, s.done)
	s.logger.Info("wearable session started")
	return nil
}

// Stop signals the reconnect loop to exit, closes any open transport handle
// and waits a bounded time for the loop to terminate. Safe to call again;
// the session can be restarted afterwards.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.state = domain.WearableStateStopped

	cancel := s.cancel
	stopping := s.stopping
	done := s.done
	conn := s.conn
	s.cancel = nil
	s.stopping = nil
	s.done = nil
	s.conn = nil
	s.mu.Unlock()

	if stopping != nil {
		close(stopping)
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(s.cfg.JoinTimeout):
			s.logger.Warn("wearable loop did not exit within join timeout")
		}
	}

	s.logger.Info("wearable session stopped")
}

// SendCommand serializes one command frame and writes it to the transport.
// Returns false immediately when not connected; a write failure downgrades
// the session and returns false. Never blocks on reconnection.
func (s *Session) SendCommand(name string, params map[string]any) bool {
	s.mu.Lock()
	if s.state == domain.WearableStateSimulated && s.running {
		s.mu.Unlock()
		s.logger.Debug("simulated wearable accepted command", "cmd", name)
		return true
	}

	conn := s.conn
	connected := s.state == domain.WearableStateConnected && conn != nil
	s.mu.Unlock()

	if !connected {
		s.logger.Warn("cannot send command, not connected to wearable", "cmd", name)
		return false
	}

	payload, err := encodeFrame(name, params)
	if err != nil {
		s.logger.Error("failed to encode wearable command", "cmd", name, "error", err)
		return false
	}

	if err := conn.Send(payload); err != nil {
		s.logger.Error("failed to send command to wearable", "cmd", name, "error", err)
		s.markDisconnected(conn, err)
		return false
	}
	return true
}

// Status reports the current session state.
func (s *Session) Status() domain.WearableStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.WearableStatus{State: s.state, LastError: s.lastErr, Retries: s.retries}
}

func (s *Session) reconnectLoop(ctx context.Context, stopping <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		interval := s.cfg.IdleInterval
		if !s.isConnected() {
			if err := s.connect(ctx); err != nil {
				s.logger.Error("error connecting to wearable", "error", err)
				interval = s.cfg.ErrorInterval
			}
		}

		select {
		case <-stopping:
			return
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// connect performs one Disconnected -> Connecting -> Connected attempt. A
// missing endpoint is a clean unsuccessful attempt (no error); open or
// handshake failures are hard errors and earn the longer backoff.
func (s *Session) connect(ctx context.Context) error {
	if s.cfg.Endpoint.MAC == "" {
		s.logger.Warn("no wearable address configured")
		return nil
	}

	s.setState(domain.WearableStateConnecting)
	s.logger.Info("connecting to wearable", "mac", s.cfg.Endpoint.MAC, "channel", s.cfg.Endpoint.Channel)

	conn, err := s.transport.Dial(ctx, s.cfg.Endpoint)
	if err != nil {
		s.recordFailure(err)
		return err
	}

	hello, err := encodeFrame("hello", map[string]any{"name": s.cfg.LocalName})
	if err == nil {
		err = conn.Send(hello)
	}
	if err != nil {
		_ = conn.Close()
		s.recordFailure(err)
		return err
	}

	// A missing or garbled reply is tolerated; the frame protocol does not
	// require acknowledgements.
	if reply, replyErr := conn.ReadReply(s.cfg.ReplyTimeout); replyErr == nil {
		s.logger.Info("wearable replied", "reply", string(reply))
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	s.state = domain.WearableStateConnected
	s.lastErr = ""
	s.mu.Unlock()

	s.logger.Info("connected to wearable")
	return nil
}

func (s *Session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.WearableStateConnected
}

func (s *Session) setState(state domain.WearableState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.state = state
	}
}

func (s *Session) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries++
	s.lastErr = err.Error()
	if s.running {
		s.state = domain.WearableStateDisconnected
	}
}

func (s *Session) markDisconnected(conn ports.WearableConn, err error) {
	_ = conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
	}
	s.lastErr = err.Error()
	if s.running && s.state != domain.WearableStateSimulated {
		s.state = domain.WearableStateDisconnected
	}
}

func encodeFrame(name string, params map[string]any) ([]byte, error) {
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(frame{Cmd: name, Params: params})
	if err != nil {
		return nil, err
	}
	return append(payload, '\n'), nil
}
