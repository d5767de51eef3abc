package ports

import (
	"context"
	"errors"
	"time"

	"sensebridge/internal/domain"
)

// ErrUnintelligible reports that a captured segment contained no usable
// speech. Expected under ambient noise, never fatal.
var ErrUnintelligible = errors.New("speech was unintelligible")

// ErrService reports a recognition-service failure. Recoverable; callers
// back off and retry.
var ErrService = errors.New("recognition service error")

// ErrNoSpeech reports that a listen window elapsed without speech onset.
var ErrNoSpeech = errors.New("no speech detected before timeout")

// WearableConn is one open transport handle to a peripheral. Exclusively
// owned by the wearable session for its connected lifetime.
type WearableConn interface {
	Send(frame []byte) error
	ReadReply(timeout time.Duration) ([]byte, error)
	Close() error
}

// WearableTransport opens point-to-point links to a peripheral.
type WearableTransport interface {
	Dial(ctx context.Context, endpoint domain.WearableEndpoint) (WearableConn, error)
}

// AudioSegment is a captured mono utterance ready for recognition.
type AudioSegment struct {
	PCM        []byte // signed 16-bit little-endian samples
	SampleRate int
	Channels   int
}

// MicSession is an open input device. At most one listen is outstanding.
type MicSession interface {
	Calibrate(ctx context.Context, duration time.Duration) error
	Listen(ctx context.Context, timeout, maxPhrase time.Duration) (AudioSegment, error)
	Close() error
}

// MicrophoneInput enumerates and opens audio input devices.
type MicrophoneInput interface {
	Devices() ([]domain.MicCandidate, error)
	Open(ctx context.Context, index int) (MicSession, error)
}

// Recognizer converts a captured segment into text. Returns
// ErrUnintelligible for noise and wraps ErrService for provider failures.
type Recognizer interface {
	Recognize(ctx context.Context, segment AudioSegment, language string) (string, error)
}

// SoundClassifier labels a fixed-length sample buffer. Black box.
type SoundClassifier interface {
	Classify(ctx context.Context, samples []float32) (label string, confidence float64, ok bool, err error)
}

// Actuator drives local indicators and surfaces button presses.
type Actuator interface {
	Start() error
	Stop()
	SetButtonCallback(fn func())
	Signal(pattern string)
}

// NotificationSink receives events for user-facing delivery. Must not block
// the caller for more than a trivial duration.
type NotificationSink interface {
	Notify(event domain.Event) error
}

// PresentationSink is the display surface. A headless implementation is
// substituted when no display is present.
type PresentationSink interface {
	Start() error
	Stop()
	ShowNotification(message string)
	UpdateStatus(message string)
	UpdateSpeechText(text string)
}

// EventLog records human-readable activity, e.g. for a simulator window.
type EventLog interface {
	LogEvent(entry string)
}
