package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"whisper-relay/internal/worker"
)

const (
	whisperCPPBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"
	userAgent         = "whisper-relay"
)

// ModelFile is the ggml artifact backing one model selection.
type ModelFile struct {
	ModelID  string
	FileName string
	URL      string
}

type ggmlModel struct {
	name       string
	quantTag   string
	englishURL string
}

// ggmlModels maps catalog ids to whisper.cpp checkpoints. Distil entries are
// English-only and ship a single precision.
var ggmlModels = map[string]ggmlModel{
	"Xenova/whisper-tiny":             {name: "tiny", quantTag: "q5_1"},
	"Xenova/whisper-base":             {name: "base", quantTag: "q5_1"},
	"Xenova/whisper-small":            {name: "small", quantTag: "q5_1"},
	"Xenova/whisper-medium":           {name: "medium", quantTag: "q5_0"},
	"distil-whisper/distil-medium.en": {englishURL: "https://huggingface.co/distil-whisper/distil-medium.en/resolve/main/ggml-medium-32-2.en.bin"},
	"distil-whisper/distil-large-v2":  {englishURL: "https://huggingface.co/distil-whisper/distil-large-v2/resolve/main/ggml-large-32-2.en.bin"},
}

// ResolveModel maps a catalog model id and its flags to a ggml file.
func ResolveModel(modelID string, multilingual, quantized bool) (ModelFile, error) {
	model, ok := ggmlModels[strings.TrimSpace(modelID)]
	if !ok {
		return ModelFile{}, fmt.Errorf("unknown model: %s", modelID)
	}

	if model.englishURL != "" {
		return ModelFile{
			ModelID:  modelID,
			FileName: filepath.Base(model.englishURL),
			URL:      model.englishURL,
		}, nil
	}

	name := model.name
	if !multilingual {
		name += ".en"
	}
	if quantized {
		name += "-" + model.quantTag
	}
	fileName := "ggml-" + name + ".bin"
	return ModelFile{
		ModelID:  modelID,
		FileName: fileName,
		URL:      whisperCPPBaseURL + fileName,
	}, nil
}

// ModelStore keeps downloaded model files in one directory.
type ModelStore struct {
	dir    string
	client *http.Client
	logger *slog.Logger
}

// NewModelStore creates a store rooted at dir. A nil client uses http.DefaultClient.
func NewModelStore(dir string, client *http.Client, logger *slog.Logger) *ModelStore {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelStore{
		dir:    dir,
		client: client,
		logger: logger.With("component", "transcribe.ModelStore"),
	}
}

// Dir returns the model directory.
func (s *ModelStore) Dir() string {
	return s.dir
}

// Path returns where file is stored locally.
func (s *ModelStore) Path(file ModelFile) string {
	return filepath.Join(s.dir, file.FileName)
}

// Ensure makes file available locally, downloading it if needed. Loading is
// reported through emit as initiate, progress and done events.
func (s *ModelStore) Ensure(ctx context.Context, file ModelFile, emit func(worker.Event)) (string, error) {
	target := s.Path(file)
	emit(worker.InitiateEvent{File: file.FileName, Name: file.ModelID})

	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		s.logger.Debug("model cached", "path", target)
		emit(worker.DoneEvent{File: file.FileName})
		return target, nil
	}

	s.logger.Info("downloading model", "url", file.URL, "path", target)
	progress := &progressReporter{file: file.FileName, emit: emit}
	if err := s.download(ctx, target, file.URL, progress); err != nil {
		return "", &PipelineError{
			Stage:   StageModel,
			Message: fmt.Sprintf("download model %s", file.ModelID),
			Err:     err,
		}
	}
	emit(worker.DoneEvent{File: file.FileName})
	return target, nil
}

func (s *ModelStore) download(ctx context.Context, destinationPath, sourceURL string, progress *progressReporter) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	progress.total = resp.ContentLength
	_, copyErr := io.Copy(file, io.TeeReader(resp.Body, progress))
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}
	return nil
}

// progressReporter turns written byte counts into progress events, at most one
// per whole percent.
type progressReporter struct {
	file    string
	emit    func(worker.Event)
	total   int64
	loaded  int64
	percent int
}

func (p *progressReporter) Write(b []byte) (int, error) {
	p.loaded += int64(len(b))

	event := worker.ProgressEvent{File: p.file, Loaded: worker.Int64(p.loaded)}
	if p.total >= 0 {
		event.Total = worker.Int64(p.total)
	}
	if p.total > 0 {
		fraction := float64(p.loaded) / float64(p.total)
		percent := int(fraction * 100)
		if percent == p.percent && p.loaded < p.total {
			return len(b), nil
		}
		p.percent = percent
		event.Progress = &fraction
	}
	p.emit(event)
	return len(b), nil
}
