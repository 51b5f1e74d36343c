// Package worker owns the conduit to the out-of-process inference worker and the
// wire protocol spoken across it.
package worker

import (
	"encoding/json"
	"fmt"

	"whisper-relay/internal/domain"
)

// Event statuses emitted by the worker.
const (
	StatusInitiate = "initiate"
	StatusProgress = "progress"
	StatusDone     = "done"
	StatusReady    = "ready"
	StatusUpdate   = "update"
	StatusComplete = "complete"
	StatusError    = "error"
)

// Event is a closed union of worker events. Use a type switch on the concrete type.
type Event interface {
	Status() string
	isEvent()
}

// InitiateEvent announces that a model artifact file started loading.
type InitiateEvent struct {
	File string `json:"file"`
	Name string `json:"name"`
}

// ProgressEvent reports download progress for a model artifact file. Each of
// Progress, Loaded and Total is nil when the worker did not report it; an
// explicit zero is kept.
type ProgressEvent struct {
	File     string   `json:"file"`
	Progress *float64 `json:"progress,omitempty"`
	Loaded   *int64   `json:"loaded,omitempty"`
	Total    *int64   `json:"total,omitempty"`
}

// Int64 returns a pointer to v, for optional byte counts.
func Int64(v int64) *int64 {
	return &v
}

// DoneEvent reports that a model artifact file finished loading.
type DoneEvent struct {
	File string `json:"file"`
}

// ReadyEvent reports that the model is loaded and inference can start.
type ReadyEvent struct{}

// UpdateEvent carries a partial transcript for one file.
type UpdateEvent struct {
	FileName string
	Text     string
	Chunks   []domain.Chunk
}

// CompleteEvent carries the final transcript for one file.
type CompleteEvent struct {
	FileName string
	Text     string
	Chunks   []domain.Chunk
}

// ErrorEvent is a session-level failure. The protocol does not scope it to a file.
type ErrorEvent struct {
	Message string
}

// UnknownEvent holds events with a status this side does not recognise.
type UnknownEvent struct {
	Kind string
	Raw  json.RawMessage
}

func (InitiateEvent) Status() string  { return StatusInitiate }
func (ProgressEvent) Status() string  { return StatusProgress }
func (DoneEvent) Status() string      { return StatusDone }
func (ReadyEvent) Status() string     { return StatusReady }
func (UpdateEvent) Status() string    { return StatusUpdate }
func (CompleteEvent) Status() string  { return StatusComplete }
func (ErrorEvent) Status() string     { return StatusError }
func (e UnknownEvent) Status() string { return e.Kind }

func (InitiateEvent) isEvent() {}
func (ProgressEvent) isEvent() {}
func (DoneEvent) isEvent()     {}
func (ReadyEvent) isEvent()    {}
func (UpdateEvent) isEvent()   {}
func (CompleteEvent) isEvent() {}
func (ErrorEvent) isEvent()    {}
func (UnknownEvent) isEvent()  {}

type chunkList struct {
	Chunks []domain.Chunk `json:"chunks"`
}

type transcriptData struct {
	Text   string         `json:"text"`
	Chunks []domain.Chunk `json:"chunks"`
}

type errorData struct {
	Message string `json:"message"`
}

// wireEvent is the JSON envelope shared by every event.
type wireEvent struct {
	Status   string          `json:"status"`
	File     string          `json:"file,omitempty"`
	Name     string          `json:"name,omitempty"`
	Progress *float64        `json:"progress,omitempty"`
	Loaded   *int64          `json:"loaded,omitempty"`
	Total    *int64          `json:"total,omitempty"`
	FileName string          `json:"fileName,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ParseEvent decodes one JSON frame into the matching Event variant.
func ParseEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch w.Status {
	case StatusInitiate:
		return InitiateEvent{File: w.File, Name: w.Name}, nil
	case StatusProgress:
		return ProgressEvent{File: w.File, Progress: w.Progress, Loaded: w.Loaded, Total: w.Total}, nil
	case StatusDone:
		return DoneEvent{File: w.File}, nil
	case StatusReady:
		return ReadyEvent{}, nil
	case StatusUpdate:
		// data is the tuple [text, {chunks}]
		var tuple []json.RawMessage
		if err := json.Unmarshal(w.Data, &tuple); err != nil {
			return nil, fmt.Errorf("decode update data: %w", err)
		}
		if len(tuple) != 2 {
			return nil, fmt.Errorf("decode update data: want 2 elements, got %d", len(tuple))
		}
		e := UpdateEvent{FileName: w.FileName}
		if err := json.Unmarshal(tuple[0], &e.Text); err != nil {
			return nil, fmt.Errorf("decode update text: %w", err)
		}
		var list chunkList
		if err := json.Unmarshal(tuple[1], &list); err != nil {
			return nil, fmt.Errorf("decode update chunks: %w", err)
		}
		e.Chunks = list.Chunks
		return e, nil
	case StatusComplete:
		var d transcriptData
		if err := json.Unmarshal(w.Data, &d); err != nil {
			return nil, fmt.Errorf("decode complete data: %w", err)
		}
		return CompleteEvent{FileName: w.FileName, Text: d.Text, Chunks: d.Chunks}, nil
	case StatusError:
		var d errorData
		if len(w.Data) > 0 {
			if err := json.Unmarshal(w.Data, &d); err != nil {
				return nil, fmt.Errorf("decode error data: %w", err)
			}
		}
		return ErrorEvent{Message: d.Message}, nil
	default:
		return UnknownEvent{Kind: w.Status, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// EncodeEvent renders an Event in its wire form.
func EncodeEvent(e Event) ([]byte, error) {
	w := wireEvent{Status: e.Status()}

	var err error
	switch v := e.(type) {
	case InitiateEvent:
		w.File, w.Name = v.File, v.Name
	case ProgressEvent:
		w.File, w.Progress, w.Loaded, w.Total = v.File, v.Progress, v.Loaded, v.Total
	case DoneEvent:
		w.File = v.File
	case ReadyEvent:
	case UpdateEvent:
		w.FileName = v.FileName
		w.Data, err = json.Marshal([]any{v.Text, chunkList{Chunks: nonNilChunks(v.Chunks)}})
	case CompleteEvent:
		w.FileName = v.FileName
		w.Data, err = json.Marshal(transcriptData{Text: v.Text, Chunks: nonNilChunks(v.Chunks)})
	case ErrorEvent:
		w.Data, err = json.Marshal(errorData{Message: v.Message})
	case UnknownEvent:
		return append([]byte(nil), v.Raw...), nil
	default:
		return nil, fmt.Errorf("encode event: unsupported type %T", e)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", w.Status, err)
	}
	return json.Marshal(w)
}

func nonNilChunks(chunks []domain.Chunk) []domain.Chunk {
	if chunks == nil {
		return []domain.Chunk{}
	}
	return chunks
}

// Request is one job description sent to the worker.
type Request struct {
	Audio        []float32 `json:"audio"`
	Model        string    `json:"model"`
	Multilingual bool      `json:"multilingual"`
	Quantized    bool      `json:"quantized"`
	Subtask      *string   `json:"subtask"`
	Language     *string   `json:"language"`
	FileName     string    `json:"fileName"`
}
