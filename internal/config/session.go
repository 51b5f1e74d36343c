package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"whisper-relay/internal/domain"
)

// ErrEmptyModel is returned when a blank model identifier is selected.
var ErrEmptyModel = errors.New("model identifier is required")

// ErrInvalidSubtask is returned for subtasks other than transcribe and translate.
var ErrInvalidSubtask = errors.New("invalid subtask")

// Session holds the active session configuration. It is mutated only through its
// setters; dispatch reads a copy via Current.
type Session struct {
	mu  sync.RWMutex
	cfg domain.SessionConfig
}

// NewSession creates a session configuration seeded with initial values.
func NewSession(initial domain.SessionConfig) *Session {
	return &Session{cfg: initial}
}

// Current returns a copy of the configuration.
func (s *Session) Current() domain.SessionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetModel selects the model checkpoint.
func (s *Session) SetModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return ErrEmptyModel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Model = model
	return nil
}

// SetMultilingual toggles multilingual checkpoints. Subtask and language keep their
// stored values when disabled.
func (s *Session) SetMultilingual(multilingual bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Multilingual = multilingual
}

// SetQuantized toggles quantized weights.
func (s *Session) SetQuantized(quantized bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Quantized = quantized
}

// SetSubtask selects transcribe or translate.
func (s *Session) SetSubtask(subtask domain.Subtask) error {
	if !subtask.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSubtask, subtask)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Subtask = subtask
	return nil
}

// SetLanguage selects the source language code or domain.LanguageAuto.
func (s *Session) SetLanguage(language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Language = strings.TrimSpace(language)
}
