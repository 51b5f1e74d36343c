package config

import (
	"os"
	"path/filepath"

	"whisper-relay/internal/domain"
)

const (
	DefaultLogLevel      = "info"
	DefaultWorkerCommand = "whisper-relay-worker"
	DefaultWorkerAddress = "127.0.0.1:50071"
	DefaultLanguage      = "en"
)

// DefaultSession returns the session configuration a fresh session starts with.
func DefaultSession() domain.SessionConfig {
	return domain.SessionConfig{
		Model:        domain.DefaultModel,
		Multilingual: false,
		Quantized:    true,
		Subtask:      domain.SubtaskTranscribe,
		Language:     DefaultLanguage,
	}
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		Worker: domain.WorkerSettings{
			Transport: domain.TransportProcess,
			Command:   DefaultWorkerCommand,
			Args:      []string{"-mode", "stdio"},
			Address:   DefaultWorkerAddress,
		},
		ModelDir: filepath.Join(homeDir, ".whisper-relay", "models"),
		LogLevel: DefaultLogLevel,
		Session:  DefaultSession(),
	}
}

// applyDefaults fills zero-valued fields left empty by a partial settings file.
func applyDefaults(cfg *domain.Settings) {
	def := DefaultSettings()
	if cfg.Worker.Transport == "" {
		cfg.Worker.Transport = def.Worker.Transport
	}
	if cfg.Worker.Command == "" {
		cfg.Worker.Command = def.Worker.Command
		if len(cfg.Worker.Args) == 0 {
			cfg.Worker.Args = def.Worker.Args
		}
	}
	if cfg.Worker.Address == "" {
		cfg.Worker.Address = def.Worker.Address
	}
	if cfg.ModelDir == "" {
		cfg.ModelDir = def.ModelDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Session.Model == "" {
		cfg.Session.Model = def.Session.Model
	}
	if cfg.Session.Subtask == "" {
		cfg.Session.Subtask = def.Session.Subtask
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = def.Session.Language
	}
}

// DefaultSettingsPath returns the settings file location shared by the app and the worker.
func DefaultSettingsPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".whisper-relay", "settings.yaml")
}
