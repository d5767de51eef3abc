// Package speech produces a stream of recognized text from live audio. The
// correct input device is unknown a priori, so the loop walks a fixed
// priority list of candidates and commits to the first that works.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sensebridge/internal/domain"
	"sensebridge/internal/ports"
)

// Callback receives each recognized utterance.
type Callback func(domain.Transcript)

// Config controls the capture loop.
type Config struct {
	Language       string
	MicOrder       []int
	ListenTimeout  time.Duration
	PhraseLimit    time.Duration
	CalibrateFor   time.Duration
	QueueSize      int
	ServiceBackoff time.Duration
	ListenBackoff  time.Duration

	// Simulate switches to the synthetic phrase generator. Explicit
	// configuration, never inferred from hardware absence.
	Simulate      bool
	SimPhrases    []string
	SimCadence    time.Duration
	SimMaxPhrases int
}

func (c *Config) applyDefaults() {
	if c.Language == "" {
		c.Language = "en-US"
	}
	if len(c.MicOrder) == 0 {
		c.MicOrder = []int{13, 14, 15, 16, 5, 4, 1, 0}
	}
	if c.ListenTimeout <= 0 {
		c.ListenTimeout = 5 * time.Second
	}
	if c.PhraseLimit <= 0 {
		c.PhraseLimit = 5 * time.Second
	}
	if c.CalibrateFor <= 0 {
		c.CalibrateFor = 2 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	if c.ServiceBackoff <= 0 {
		c.ServiceBackoff = time.Second
	}
	if c.ListenBackoff <= 0 {
		c.ListenBackoff = 500 * time.Millisecond
	}
	if len(c.SimPhrases) == 0 {
		c.SimPhrases = []string{"Help me", "What was that noise", "Turn on the lights", "Call for help"}
	}
	if c.SimCadence <= 0 {
		c.SimCadence = time.Minute
	}
	if c.SimMaxPhrases <= 0 {
		c.SimMaxPhrases = 5
	}
}

// CaptureLoop runs continuous listen/recognize cycles on its own goroutine.
type CaptureLoop struct {
	cfg        Config
	mic        ports.MicrophoneInput
	recognizer ports.Recognizer
	logger     *slog.Logger

	callback atomic.Pointer[Callback]
	queue    chan domain.Transcript

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCaptureLoop builds the loop. A nil recognizer (or nil microphone input
// outside simulation) leaves the loop permanently disabled: Start logs and
// returns without spawning anything.
func NewCaptureLoop(cfg Config, mic ports.MicrophoneInput, recognizer ports.Recognizer, logger *slog.Logger) *CaptureLoop {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureLoop{
		cfg:        cfg,
		mic:        mic,
		recognizer: recognizer,
		logger:     logger.With("component", "speech"),
		queue:      make(chan domain.Transcript, cfg.QueueSize),
	}
}

// Start spawns the capture loop (or the simulation generator) and returns
// immediately. No-op if already running.
func (l *CaptureLoop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		l.logger.Warn("speech capture already running")
		return nil
	}

	if l.cfg.Simulate {
		ctx, cancel := context.WithCancel(context.Background())
		l.running = true
		l.cancel = cancel
		l.done = make(chan struct{})
		go l.simulationLoop(ctx, l.done)
		l.logger.Info("speech capture started in simulation mode")
		return nil
	}

	if l.recognizer == nil || l.mic == nil {
		l.logger.Warn("speech recognition not available, capture disabled")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.captureLoop(ctx, l.done)
	l.logger.Info("speech capture started")
	return nil
}

// Stop signals the loop to exit and joins it with a bounded timeout. The
// loop can be started again afterwards.
func (l *CaptureLoop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.done = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			l.logger.Warn("speech loop did not exit within join timeout")
		}
	}
	l.logger.Info("speech capture stopped")
}

// SetCallback replaces the per-utterance callback. Safe to call while the
// loop is running; the loop reads the reference once per utterance.
func (l *CaptureLoop) SetCallback(fn func(domain.Transcript)) {
	if fn == nil {
		l.callback.Store(nil)
		return
	}
	cb := Callback(fn)
	l.callback.Store(&cb)
}

// GetText pops one transcript from the queue, waiting at most timeout.
func (l *CaptureLoop) GetText(timeout time.Duration) (string, bool) {
	select {
	case tr := <-l.queue:
		return tr.Text, true
	case <-time.After(timeout):
		return "", false
	}
}

func (l *CaptureLoop) captureLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	candidates, err := l.candidateIndices()
	if err != nil {
		l.logger.Error("could not enumerate microphones", "error", err)
		return
	}

	for _, index := range candidates {
		if ctx.Err() != nil {
			return
		}

		l.logger.Info("trying microphone", "index", index)
		session, err := l.mic.Open(ctx, index)
		if err != nil {
			l.logger.Warn("could not use microphone", "index", index, "error", err)
			continue
		}

		if err := session.Calibrate(ctx, l.cfg.CalibrateFor); err != nil {
			l.logger.Warn("could not calibrate microphone", "index", index, "error", err)
			_ = session.Close()
			continue
		}

		// Committed: this device serves the remainder of the run.
		l.logger.Info("connected to microphone", "index", index)
		l.recognizeLoop(ctx, session)
		_ = session.Close()
		return
	}

	l.logger.Error("could not connect to any microphone")
}

func (l *CaptureLoop) candidateIndices() ([]int, error) {
	devices, err := l.mic.Devices()
	if err != nil {
		return nil, err
	}
	available := len(devices)

	candidates := make([]int, 0, len(l.cfg.MicOrder))
	for _, index := range l.cfg.MicOrder {
		if index < available {
			candidates = append(candidates, index)
		}
	}
	return candidates, nil
}

func (l *CaptureLoop) recognizeLoop(ctx context.Context, session ports.MicSession) {
	for ctx.Err() == nil {
		segment, err := session.Listen(ctx, l.cfg.ListenTimeout, l.cfg.PhraseLimit)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ports.ErrNoSpeech) {
				continue
			}
			l.logger.Error("error capturing speech", "error", err)
			sleepCtx(ctx, l.cfg.ListenBackoff)
			continue
		}

		text, err := l.recognizer.Recognize(ctx, segment, l.cfg.Language)
		switch {
		case err == nil:
			l.emit(text)
		case errors.Is(err, ports.ErrUnintelligible):
			// Expected outcome of ambient noise.
		case errors.Is(err, ports.ErrService):
			l.logger.Warn("speech recognition service error", "error", err)
			sleepCtx(ctx, l.cfg.ServiceBackoff)
		default:
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("error in speech recognition", "error", err)
			sleepCtx(ctx, l.cfg.ListenBackoff)
		}
	}
}

func (l *CaptureLoop) simulationLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for i := 0; i < l.cfg.SimMaxPhrases; i++ {
		if !sleepCtx(ctx, l.cfg.SimCadence) {
			return
		}
		phrase := l.cfg.SimPhrases[i%len(l.cfg.SimPhrases)]
		l.logger.Info("simulation recognized speech", "text", phrase)
		l.emit(phrase)
	}

	// Finished the scripted phrases; idle until stopped.
	<-ctx.Done()
}

func (l *CaptureLoop) emit(text string) {
	if text == "" {
		return
	}
	tr := domain.Transcript{Text: text, At: time.Now()}
	l.logger.Info("recognized speech", "text", text)

	// Bounded queue with drop-oldest backpressure.
	select {
	case l.queue <- tr:
	default:
		select {
		case <-l.queue:
		default:
		}
		select {
		case l.queue <- tr:
		default:
		}
	}

	if cb := l.callback.Load(); cb != nil {
		(*cb)(tr)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
