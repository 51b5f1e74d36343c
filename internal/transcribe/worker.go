package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"whisper-relay/internal/domain"
	"whisper-relay/internal/worker"
)

// Worker serves transcription requests one at a time over a worker session.
type Worker struct {
	models  *ModelStore
	backend Backend
	logger  *slog.Logger

	loaded string
	ready  bool
}

// NewWorker creates a handler. models may be nil when backend does not need local models.
func NewWorker(models *ModelStore, backend Backend, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		models:  models,
		backend: backend,
		logger:  logger.With("component", "transcribe.Worker", "backend", backend.Name()),
	}
}

// Serve implements worker.Handler. A failed request is reported as an error event
// and the session keeps serving; it ends when the client stops sending.
func (w *Worker) Serve(ctx context.Context, s worker.Session) error {
	for {
		req, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive request: %w", err)
		}

		if err := w.handle(ctx, s, req); err != nil {
			w.logger.Error("request failed", "file_name", req.FileName, "error", err)
			if sendErr := s.Send(worker.ErrorEvent{Message: err.Error()}); sendErr != nil {
				return fmt.Errorf("send error event: %w", sendErr)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, s worker.Session, req worker.Request) error {
	var sendErr error
	emit := func(e worker.Event) {
		if sendErr != nil {
			return
		}
		sendErr = s.Send(e)
	}

	modelPath, err := w.prepare(ctx, req, emit)
	if err != nil {
		return err
	}
	if sendErr != nil {
		return sendErr
	}

	job := Job{
		FileName:  req.FileName,
		Samples:   req.Audio,
		ModelPath: modelPath,
		Translate: req.Subtask != nil && *req.Subtask == string(domain.SubtaskTranslate),
	}
	if req.Language != nil {
		job.Language = *req.Language
	}

	w.logger.Info("transcribing", "file_name", req.FileName, "samples", len(req.Audio), "model", req.Model)
	var partial []domain.Chunk
	result, err := w.backend.Transcribe(ctx, job, func(c domain.Chunk) {
		partial = append(partial, c)
		emit(worker.UpdateEvent{
			FileName: req.FileName,
			Text:     joinChunks(partial),
			Chunks:   domain.CloneChunks(partial),
		})
	})
	if err != nil {
		return err
	}

	emit(worker.CompleteEvent{FileName: req.FileName, Text: result.Text, Chunks: result.Chunks})
	return sendErr
}

// prepare loads the requested model and announces readiness once per model.
func (w *Worker) prepare(ctx context.Context, req worker.Request, emit func(worker.Event)) (string, error) {
	if !w.backend.NeedsModel() {
		if !w.ready {
			emit(worker.ReadyEvent{})
			w.ready = true
		}
		return "", nil
	}
	if w.models == nil {
		return "", &PipelineError{Stage: StageModel, Message: "no model store configured"}
	}

	file, err := ResolveModel(req.Model, req.Multilingual, req.Quantized)
	if err != nil {
		return "", &PipelineError{Stage: StageModel, Message: "resolve model", Err: err}
	}
	if w.loaded == file.FileName {
		return w.models.Path(file), nil
	}

	path, err := w.models.Ensure(ctx, file, emit)
	if err != nil {
		return "", err
	}
	w.loaded = file.FileName
	emit(worker.ReadyEvent{})
	return path, nil
}
