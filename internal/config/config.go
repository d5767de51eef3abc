package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the bridge core.
type Config struct {
	Wearable    WearableConfig
	Speech      SpeechConfig
	Recognition RecognitionConfig
	Notify      NotifyConfig
}

type WearableConfig struct {
	MAC           string
	Channel       int
	DeviceName    string
	IdleInterval  time.Duration
	ErrorInterval time.Duration
	ReplyTimeout  time.Duration
	JoinTimeout   time.Duration
}

type SpeechConfig struct {
	Language       string
	MicOrder       []int
	ListenTimeout  time.Duration
	PhraseLimit    time.Duration
	CalibrateFor   time.Duration
	QueueSize      int
	SimPhrases     []string
	SimCadence     time.Duration
	SimMaxPhrases  int
	ServiceBackoff time.Duration
	ListenBackoff  time.Duration
}

type RecognitionConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	SmartFormat bool
}

type NotifyConfig struct {
	Desktop   bool
	QueueSize int

	// Quiet hours suppress desktop toasts; wearable and indicator delivery
	// stay active. Equal values disable the window.
	QuietStartHour int
	QuietEndHour   int
}

// defaultMicOrder prefers higher device indices, which on the target board
// are real capture devices rather than loopback outputs.
var defaultMicOrder = []int{13, 14, 15, 16, 5, 4, 1, 0}

var defaultSimPhrases = []string{
	"Help me",
	"What was that noise",
	"Turn on the lights",
	"Call for help",
}

// Load resolves configuration from environment variables and defaults.
func Load() (Config, error) {
	cfg := Config{
		Wearable: WearableConfig{
			MAC:           strings.TrimSpace(os.Getenv("SENSEBRIDGE_WEARABLE_MAC")),
			Channel:       envOrDefaultInt("SENSEBRIDGE_WEARABLE_CHANNEL", 1),
			DeviceName:    envOrDefault("SENSEBRIDGE_WEARABLE_NAME", "sensebridge-wearable"),
			IdleInterval:  envOrDefaultDuration("SENSEBRIDGE_WEARABLE_IDLE_MS", 5000*time.Millisecond),
			ErrorInterval: envOrDefaultDuration("SENSEBRIDGE_WEARABLE_ERROR_MS", 10000*time.Millisecond),
			ReplyTimeout:  envOrDefaultDuration("SENSEBRIDGE_WEARABLE_REPLY_MS", 5000*time.Millisecond),
			JoinTimeout:   envOrDefaultDuration("SENSEBRIDGE_WEARABLE_JOIN_MS", 2000*time.Millisecond),
		},
		Speech: SpeechConfig{
			Language:       envOrDefault("SENSEBRIDGE_LANGUAGE", "en-US"),
			MicOrder:       envOrDefaultIntList("SENSEBRIDGE_MIC_ORDER", defaultMicOrder),
			ListenTimeout:  envOrDefaultDuration("SENSEBRIDGE_LISTEN_TIMEOUT_MS", 5000*time.Millisecond),
			PhraseLimit:    envOrDefaultDuration("SENSEBRIDGE_PHRASE_LIMIT_MS", 5000*time.Millisecond),
			CalibrateFor:   envOrDefaultDuration("SENSEBRIDGE_CALIBRATE_MS", 2000*time.Millisecond),
			QueueSize:      envOrDefaultInt("SENSEBRIDGE_SPEECH_QUEUE", 32),
			SimPhrases:     envOrDefaultList("SENSEBRIDGE_SIM_PHRASES", defaultSimPhrases),
			SimCadence:     envOrDefaultDuration("SENSEBRIDGE_SIM_CADENCE_MS", 60000*time.Millisecond),
			SimMaxPhrases:  envOrDefaultInt("SENSEBRIDGE_SIM_MAX_PHRASES", 5),
			ServiceBackoff: envOrDefaultDuration("SENSEBRIDGE_SERVICE_BACKOFF_MS", 1000*time.Millisecond),
			ListenBackoff:  envOrDefaultDuration("SENSEBRIDGE_LISTEN_BACKOFF_MS", 500*time.Millisecond),
		},
		Recognition: RecognitionConfig{
			APIKey:      strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:  envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:       envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			SmartFormat: envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
		},
		Notify: NotifyConfig{
			Desktop:        envOrDefaultBool("SENSEBRIDGE_DESKTOP_NOTIFICATIONS", true),
			QueueSize:      envOrDefaultInt("SENSEBRIDGE_NOTIFY_QUEUE", 16),
			QuietStartHour: envOrDefaultInt("SENSEBRIDGE_QUIET_START_HOUR", 0),
			QuietEndHour:   envOrDefaultInt("SENSEBRIDGE_QUIET_END_HOUR", 0),
		},
	}

	if cfg.Wearable.Channel <= 0 {
		cfg.Wearable.Channel = 1
	}
	if cfg.Speech.QueueSize <= 0 {
		cfg.Speech.QueueSize = 32
	}
	if cfg.Speech.SimMaxPhrases <= 0 {
		cfg.Speech.SimMaxPhrases = 5
	}
	if len(cfg.Speech.MicOrder) == 0 {
		cfg.Speech.MicOrder = defaultMicOrder
	}
	if cfg.Notify.QueueSize <= 0 {
		cfg.Notify.QueueSize = 16
	}
	if cfg.Notify.QuietStartHour < 0 || cfg.Notify.QuietStartHour > 23 {
		cfg.Notify.QuietStartHour = 0
	}
	if cfg.Notify.QuietEndHour < 0 || cfg.Notify.QuietEndHour > 23 {
		cfg.Notify.QuietEndHour = 0
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultIntList(key string, fallback []int) []int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}

	parts := strings.Split(value, ",")
	parsed := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return fallback
		}
		parsed = append(parsed, n)
	}
	if len(parsed) == 0 {
		return fallback
	}
	return parsed
}

func envOrDefaultList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}

	parts := strings.Split(value, ";")
	parsed := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parsed = append(parsed, trimmed)
		}
	}
	if len(parsed) == 0 {
		return fallback
	}
	return parsed
}
