package config

import (
	"errors"
	"testing"

	"whisper-relay/internal/domain"
)

func TestSessionSetters(t *testing.T) {
	s := NewSession(DefaultSession())

	if err := s.SetModel("Xenova/whisper-base"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	s.SetMultilingual(true)
	s.SetQuantized(false)
	if err := s.SetSubtask(domain.SubtaskTranslate); err != nil {
		t.Fatalf("SetSubtask: %v", err)
	}
	s.SetLanguage(" fr ")

	got := s.Current()
	want := domain.SessionConfig{
		Model:        "Xenova/whisper-base",
		Multilingual: true,
		Quantized:    false,
		Subtask:      domain.SubtaskTranslate,
		Language:     "fr",
	}
	if got != want {
		t.Fatalf("config = %+v, want %+v", got, want)
	}
}

func TestSessionRejectsInvalidValues(t *testing.T) {
	s := NewSession(DefaultSession())

	if err := s.SetModel("  "); !errors.Is(err, ErrEmptyModel) {
		t.Fatalf("SetModel error = %v, want %v", err, ErrEmptyModel)
	}
	if err := s.SetSubtask("summarize"); !errors.Is(err, ErrInvalidSubtask) {
		t.Fatalf("SetSubtask error = %v, want %v", err, ErrInvalidSubtask)
	}
	if got := s.Current(); got != DefaultSession() {
		t.Fatalf("config mutated by rejected setters: %+v", got)
	}
}

func TestSessionKeepsLanguageWhenMonolingual(t *testing.T) {
	s := NewSession(DefaultSession())
	s.SetMultilingual(true)
	s.SetLanguage("ja")
	s.SetMultilingual(false)

	if got := s.Current().Language; got != "ja" {
		t.Fatalf("language = %q, want stored value ja", got)
	}
}
