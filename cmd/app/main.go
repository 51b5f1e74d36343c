package main

import (
	"log/slog"
	"os"

	"whisper-relay/internal/bootstrap"
	"whisper-relay/internal/config"
	"whisper-relay/internal/domain"
)

func main() {
	cfg, err := config.Loader{Store: config.NewFileStore(config.DefaultSettingsPath())}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := config.NewLogger(os.Stderr, cfg.LogLevel)
	logger.Info("starting app",
		"worker_transport", cfg.Worker.Transport,
		"worker_command", cfg.Worker.Command,
		"worker_address", cfg.Worker.Address,
		"model_dir", cfg.ModelDir,
	)

	app, err := bootstrap.New(cfg, logger)
	if err != nil {
		logger.Error("bootstrap app", "error", err)
		os.Exit(1)
	}
	for _, item := range app.GetDiagnostics().Items {
		if item.Status == domain.DiagnosticStatusFail {
			logger.Warn("diagnostic failed", "check", item.ID, "message", item.Message, "blocking", item.Blocking)
		}
	}

	if err := app.Run(); err != nil {
		logger.Error("run app", "error", err)
		os.Exit(1)
	}
}
