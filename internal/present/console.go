// Package present holds presentation-sink implementations. The graphical
// surface is an external collaborator; ConsoleSink is the headless fallback
// used whenever no display is available.
package present

import (
	"log/slog"
	"sync"
)

// ConsoleSink implements ports.PresentationSink over structured logs.
type ConsoleSink struct {
	logger *slog.Logger

	mu     sync.Mutex
	status string
	speech string
}

func NewConsoleSink(logger *slog.Logger) *ConsoleSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleSink{logger: logger.With("component", "present")}
}

func (s *ConsoleSink) Start() error {
	s.logger.Info("running in headless mode")
	return nil
}

func (s *ConsoleSink) Stop() {}

func (s *ConsoleSink) ShowNotification(message string) {
	s.logger.Info("notification", "message", message)
}

func (s *ConsoleSink) UpdateStatus(message string) {
	s.mu.Lock()
	s.status = message
	s.mu.Unlock()
	s.logger.Info("status", "message", message)
}

func (s *ConsoleSink) UpdateSpeechText(text string) {
	s.mu.Lock()
	s.speech = text
	s.mu.Unlock()
	s.logger.Info("speech", "text", text)
}

// Status returns the last status message shown.
func (s *ConsoleSink) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SpeechText returns the last recognized text shown.
func (s *ConsoleSink) SpeechText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speech
}
