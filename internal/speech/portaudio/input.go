// Package portaudio implements the microphone input port on top of the
// portaudio bindings: device enumeration, ambient-noise calibration and
// energy-gated phrase capture.
package portaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"sensebridge/internal/domain"
	"sensebridge/internal/ports"
)

const (
	sampleRate      = 16000
	framesPerBuffer = 1024

	// pauseWindow of sub-threshold audio ends a phrase.
	pauseWindow = 800 * time.Millisecond

	// calibration headroom over measured ambient energy.
	thresholdGain = 1.8
	minThreshold  = 0.01
)

// Input enumerates and opens capture devices.
type Input struct {
	initOnce sync.Once
	initErr  error
}

func NewInput() *Input {
	return &Input{}
}

func (in *Input) ensureInit() error {
	in.initOnce.Do(func() {
		in.initErr = portaudio.Initialize()
	})
	return in.initErr
}

// CountInputs reports the number of enumerable devices, for capability
// probing.
func (in *Input) CountInputs() (int, error) {
	devices, err := in.Devices()
	if err != nil {
		return 0, err
	}
	return len(devices), nil
}

// Devices lists every audio device in host order. Candidate preference over
// this list is the caller's policy.
func (in *Input) Devices() ([]domain.MicCandidate, error) {
	if err := in.ensureInit(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}

	candidates := make([]domain.MicCandidate, 0, len(devices))
	for i, dev := range devices {
		candidates = append(candidates, domain.MicCandidate{Index: i, Name: dev.Name})
	}
	return candidates, nil
}

// Open starts a mono capture stream on the device at index.
func (in *Input) Open(_ context.Context, index int) (ports.MicSession, error) {
	if err := in.ensureInit(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}
	if index < 0 || index >= len(devices) {
		return nil, fmt.Errorf("audio device index %d out of range", index)
	}

	dev := devices[index]
	if dev.MaxInputChannels < 1 {
		return nil, fmt.Errorf("device %q has no input channels", dev.Name)
	}

	buffer := make([]int16, framesPerBuffer)
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = sampleRate
	params.FramesPerBuffer = framesPerBuffer

	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("failed to start capture on %q: %w", dev.Name, err)
	}

	return &micSession{stream: stream, buffer: buffer, threshold: minThreshold}, nil
}

type micSession struct {
	stream *portaudio.Stream
	buffer []int16

	mu        sync.Mutex
	threshold float64
	closed    bool
}

// Calibrate measures ambient energy over the window and raises the speech
// gate above it.
func (s *micSession) Calibrate(ctx context.Context, duration time.Duration) error {
	deadline := time.Now().Add(duration)
	var sum float64
	var frames int

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.stream.Read(); err != nil {
			return fmt.Errorf("calibration read failed: %w", err)
		}
		sum += frameEnergy(s.buffer)
		frames++
	}

	if frames == 0 {
		return fmt.Errorf("calibration captured no frames")
	}

	threshold := (sum / float64(frames)) * thresholdGain
	if threshold < minThreshold {
		threshold = minThreshold
	}

	s.mu.Lock()
	s.threshold = threshold
	s.mu.Unlock()
	return nil
}

// Listen waits for speech onset within timeout, then collects frames until
// the speaker pauses or maxPhrase elapses.
func (s *micSession) Listen(ctx context.Context, timeout, maxPhrase time.Duration) (ports.AudioSegment, error) {
	s.mu.Lock()
	threshold := s.threshold
	s.mu.Unlock()

	onsetDeadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return ports.AudioSegment{}, err
		}
		if time.Now().After(onsetDeadline) {
			return ports.AudioSegment{}, ports.ErrNoSpeech
		}
		if err := s.stream.Read(); err != nil {
			return ports.AudioSegment{}, fmt.Errorf("listen read failed: %w", err)
		}
		if frameEnergy(s.buffer) >= threshold {
			break
		}
	}

	phraseDeadline := time.Now().Add(maxPhrase)
	samples := make([]int16, 0, sampleRate*int(maxPhrase/time.Second+1))
	samples = append(samples, s.buffer...)
	var quiet time.Duration
	frameDuration := time.Duration(framesPerBuffer) * time.Second / sampleRate

	for time.Now().Before(phraseDeadline) {
		if err := ctx.Err(); err != nil {
			return ports.AudioSegment{}, err
		}
		if err := s.stream.Read(); err != nil {
			return ports.AudioSegment{}, fmt.Errorf("listen read failed: %w", err)
		}
		samples = append(samples, s.buffer...)

		if frameEnergy(s.buffer) < threshold {
			quiet += frameDuration
			if quiet >= pauseWindow {
				break
			}
		} else {
			quiet = 0
		}
	}

	return ports.AudioSegment{
		PCM:        encodeS16LE(samples),
		SampleRate: sampleRate,
		Channels:   1,
	}, nil
}

func (s *micSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.stream.Stop()
	return s.stream.Close()
}

func frameEnergy(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range frame {
		normalized := float64(sample) / math.MaxInt16
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func encodeS16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}
