package domain

// SampleRate is the fixed rate, in Hz, every decode path produces and every worker expects.
const SampleRate = 16000

// LanguageAuto is the language sentinel that lets the worker detect the spoken language.
const LanguageAuto = "auto"

// Subtask selects between same-language transcription and translation to English.
type Subtask string

const (
	SubtaskTranscribe Subtask = "transcribe"
	SubtaskTranslate  Subtask = "translate"
)

// Valid reports whether the subtask is one the worker understands.
func (s Subtask) Valid() bool {
	return s == SubtaskTranscribe || s == SubtaskTranslate
}

// SessionConfig is the user-selected configuration read at dispatch time.
type SessionConfig struct {
	Model        string  `json:"model" yaml:"model"`
	Multilingual bool    `json:"multilingual" yaml:"multilingual"`
	Quantized    bool    `json:"quantized" yaml:"quantized"`
	Subtask      Subtask `json:"subtask" yaml:"subtask"`
	Language     string  `json:"language" yaml:"language"`
}

// ProgressItem tracks the download of one model artifact file.
type ProgressItem struct {
	File     string  `json:"file"`
	Name     string  `json:"name"`
	Loaded   int64   `json:"loaded"`
	Total    int64   `json:"total"`
	Progress float64 `json:"progress"`
}

// TranscriptEntry is the latest transcription state for one file name.
type TranscriptEntry struct {
	IsBusy bool    `json:"isBusy"`
	Text   string  `json:"text"`
	Chunks []Chunk `json:"chunks"`
}

// FileTranscript pairs a transcript with the file name it is keyed by.
type FileTranscript struct {
	FileName string `json:"fileName"`
	TranscriptEntry
}

// Snapshot is the consumer-facing, read-only view of engine state.
type Snapshot struct {
	IsBusy         bool             `json:"isBusy"`
	IsModelLoading bool             `json:"isModelLoading"`
	ProgressItems  []ProgressItem   `json:"progressItems"`
	Transcripts    []FileTranscript `json:"transcripts"`
	Error          string           `json:"error,omitempty"`
}

// Transcript looks up the entry for fileName.
func (s Snapshot) Transcript(fileName string) (TranscriptEntry, bool) {
	for _, t := range s.Transcripts {
		if t.FileName == fileName {
			return t.TranscriptEntry, true
		}
	}
	return TranscriptEntry{}, false
}

// Clone returns a deep copy so callers cannot alias engine storage.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.ProgressItems = append([]ProgressItem(nil), s.ProgressItems...)
	out.Transcripts = make([]FileTranscript, len(s.Transcripts))
	for i, t := range s.Transcripts {
		t.Chunks = CloneChunks(t.Chunks)
		out.Transcripts[i] = t
	}
	return out
}
