// Package transcribe is the inference side of the worker protocol: it loads
// models, runs a speech-to-text backend and reports progress as worker events.
package transcribe

import (
	"context"
	"strings"

	"whisper-relay/internal/domain"
)

// Job is one inference run.
type Job struct {
	FileName  string
	Samples   []float32
	ModelPath string
	// Language is empty for auto-detect.
	Language  string
	Translate bool
}

// Result is a finished transcript.
type Result struct {
	Text   string
	Chunks []domain.Chunk
}

// Backend turns samples into text. onChunk receives segments as they are decoded
// and may be called zero or more times before Transcribe returns.
type Backend interface {
	Name() string
	// NeedsModel reports whether Job.ModelPath must point at a local model file.
	NeedsModel() bool
	Transcribe(ctx context.Context, job Job, onChunk func(domain.Chunk)) (Result, error)
}

func joinChunks(chunks []domain.Chunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if text := strings.TrimSpace(c.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
