// Package deepgram implements the recognition collaborator against the
// Deepgram websocket API. Each captured utterance gets its own short-lived
// session: stream the segment, collect the transcript, close.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"sensebridge/internal/ports"
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	SmartFormat bool
}

const (
	chunkSize     = 4096
	resultTimeout = 10 * time.Second
)

// Recognizer implements ports.Recognizer.
type Recognizer struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewRecognizer(cfg Config) *Recognizer {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Recognizer{cfg: cfg, dialer: websocket.DefaultDialer}
}

// Recognize streams one segment and returns its transcript. An empty
// transcript maps to ports.ErrUnintelligible; transport and provider
// failures wrap ports.ErrService.
func (r *Recognizer) Recognize(ctx context.Context, segment ports.AudioSegment, language string) (string, error) {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return "", fmt.Errorf("%w: DEEPGRAM_API_KEY is not configured", ports.ErrService)
	}
	if len(segment.PCM) == 0 {
		return "", ports.ErrUnintelligible
	}

	wsURL, err := buildListenURL(r.cfg, segment, language)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ports.ErrService, err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, _, err := r.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return "", fmt.Errorf("%w: failed to connect: %v", ports.ErrService, err)
	}
	defer func() { _ = conn.Close() }()

	if err := writeSegment(conn, segment); err != nil {
		return "", fmt.Errorf("%w: %v", ports.ErrService, err)
	}

	text, err := collectTranscript(ctx, conn)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ports.ErrUnintelligible
	}
	return text, nil
}

func writeSegment(conn *websocket.Conn, segment ports.AudioSegment) error {
	data := segment.PCM
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data[:n]); err != nil {
			return fmt.Errorf("failed to send audio: %v", err)
		}
		data = data[n:]
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("failed to close stream: %v", err)
	}
	return nil
}

func collectTranscript(ctx context.Context, conn *websocket.Conn) (string, error) {
	deadline := time.Now().Add(resultTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetReadDeadline(deadline)

	var finals []string
	var lastSpoken string

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				break
			}
			if len(finals) > 0 || lastSpoken != "" {
				// The provider sometimes drops the link after delivering
				// the final result; keep what we have.
				break
			}
			return "", fmt.Errorf("%w: failed to read provider event: %v", ports.ErrService, err)
		}

		var response listenResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "provider returned an unknown error"
			}
			return "", fmt.Errorf("%w: %s", ports.ErrService, message)
		}
		if strings.EqualFold(response.Type, "Metadata") {
			// Metadata is the last frame of a session.
			break
		}

		transcript := extractTranscript(response)
		if transcript == "" {
			continue
		}
		lastSpoken = transcript
		if response.IsFinal || response.SpeechFinal {
			finals = append(finals, transcript)
		}
	}

	joined := strings.TrimSpace(strings.Join(finals, " "))
	if joined == "" {
		return lastSpoken, nil
	}
	return joined, nil
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func extractTranscript(response listenResponse) string {
	if len(response.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(response.Channel.Alternatives[0].Transcript)
}

func buildListenURL(cfg Config, segment ports.AudioSegment, language string) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid API base URL: %v", err)
	}

	sampleRate := segment.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := segment.Channels
	if channels <= 0 {
		channels = 1
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	query.Set("channels", fmt.Sprintf("%d", channels))
	query.Set("interim_results", "false")
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if language != "" {
		query.Set("language", language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
