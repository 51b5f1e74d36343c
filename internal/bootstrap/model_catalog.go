package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"whisper-relay/internal/domain"
	"whisper-relay/internal/transcribe"
	"whisper-relay/internal/worker"
)

// EventModelProgress carries progress of a model download started from the UI.
const EventModelProgress = "model:progress"

// GetModels returns the catalog entries selectable with the current session flags,
// marking those already present in the model directory.
func (a *App) GetModels() []domain.ModelOption {
	session := a.GetSession()
	models := domain.AvailableModels(session.Quantized, session.Multilingual)
	markCachedModels(models, a.Settings.ModelDir, session.Multilingual, session.Quantized)
	return models
}

// DownloadModel fetches the session's model into the model directory ahead of the
// first transcription so the worker finds it cached.
func (a *App) DownloadModel() (string, error) {
	session := a.GetSession()
	file, err := transcribe.ResolveModel(session.Model, session.Multilingual, session.Quantized)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(a.Settings.ModelDir) == "" {
		return "", fmt.Errorf("model directory is not configured")
	}

	store := transcribe.NewModelStore(a.Settings.ModelDir, nil, a.logger)
	item := domain.ProgressItem{File: file.FileName, Name: file.ModelID}
	path, err := store.Ensure(context.Background(), file, func(e worker.Event) {
		if p, ok := e.(worker.ProgressEvent); ok {
			if p.Loaded != nil {
				item.Loaded = *p.Loaded
			}
			if p.Total != nil {
				item.Total = *p.Total
			}
			if p.Progress != nil {
				item.Progress = *p.Progress
			}
			a.pushEvent(EventModelProgress, item)
		}
	})
	if err != nil {
		return "", err
	}

	a.logger.Info("model ready", "model", file.ModelID, "path", path)
	a.RefreshDiagnostics()
	return path, nil
}

func markCachedModels(models []domain.ModelOption, modelDir string, multilingual, quantized bool) {
	if strings.TrimSpace(modelDir) == "" {
		return
	}
	for i := range models {
		file, err := transcribe.ResolveModel(models[i].ID, multilingual, quantized)
		if err != nil {
			continue
		}
		info, err := os.Stat(filepath.Join(modelDir, file.FileName))
		if err != nil || info.IsDir() {
			continue
		}
		models[i].Cached = true
	}
}
