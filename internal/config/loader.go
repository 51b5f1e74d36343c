package config

import (
	"os"
	"strconv"
	"strings"

	"whisper-relay/internal/domain"
)

// Loader reads settings from a Store and applies environment overrides. Tests can
// override Lookup to inject deterministic maps.
type Loader struct {
	Store  Store
	Lookup func(string) (string, bool)
}

// Load retrieves the settings and applies WHISPER_RELAY_* overrides.
func (l Loader) Load() (domain.Settings, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	cfg := DefaultSettings()
	if l.Store != nil {
		loaded, err := l.Store.Load()
		if err != nil {
			return domain.Settings{}, err
		}
		cfg = loaded
	}

	overrideString(l.Lookup, "WHISPER_RELAY_WORKER_TRANSPORT", &cfg.Worker.Transport)
	overrideString(l.Lookup, "WHISPER_RELAY_WORKER_COMMAND", &cfg.Worker.Command)
	overrideString(l.Lookup, "WHISPER_RELAY_WORKER_ADDRESS", &cfg.Worker.Address)
	overrideString(l.Lookup, "WHISPER_RELAY_MODEL_DIR", &cfg.ModelDir)
	overrideString(l.Lookup, "WHISPER_RELAY_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "WHISPER_RELAY_MODEL", &cfg.Session.Model)
	overrideString(l.Lookup, "WHISPER_RELAY_LANGUAGE", &cfg.Session.Language)
	overrideBool(l.Lookup, "WHISPER_RELAY_MULTILINGUAL", &cfg.Session.Multilingual)
	overrideBool(l.Lookup, "WHISPER_RELAY_QUANTIZED", &cfg.Session.Quantized)

	if raw, ok := l.Lookup("WHISPER_RELAY_WORKER_ARGS"); ok {
		cfg.Worker.Args = strings.Fields(raw)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) {
	if lookup == nil || target == nil {
		return
	}
	value, ok := lookup(key)
	if !ok {
		return
	}
	if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		*target = parsed
	}
}
