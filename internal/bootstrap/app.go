package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"whisper-relay/internal/audio"
	"whisper-relay/internal/config"
	"whisper-relay/internal/diagnostics"
	"whisper-relay/internal/domain"
	"whisper-relay/internal/engine"
	"whisper-relay/internal/fetch"
	"whisper-relay/internal/jobs"
	"whisper-relay/internal/worker"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// Frontend event names.
const (
	EventSnapshot      = "engine:snapshot"
	EventAudioProgress = "audio:progress"
)

// urlSlot is the fetch slot for the single URL input.
const urlSlot = "url"

var (
	errNoInput       = errors.New("no audio input loaded")
	errWorkerBlocked = errors.New("worker unavailable: fix the blocking diagnostics first")
)

var audioDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio files",
		Pattern:     "*.wav;*.mp3;*.m4a;*.flac;*.aac;*.ogg;*.webm;*.opus;*.mp4",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// audioDecoder isolates ffmpeg decoding behind an interface.
type audioDecoder interface {
	DecodeFile(ctx context.Context, path string) (audio.Buffer, error)
	DecodeBytes(ctx context.Context, data []byte, mimeType string) (audio.Buffer, error)
}

// audioFetcher isolates URL downloads behind an interface.
type audioFetcher interface {
	Fetch(ctx context.Context, slot, url string, onProgress func(float64)) (fetch.Download, error)
	Close()
}

// App wires the engine, audio acquisition and UI runtime callbacks.
type App struct {
	Settings domain.Settings
	// Diagnostics is guarded by mu once the app is running.
	Diagnostics domain.DiagnosticReport

	engine  *engine.Engine
	decoder audioDecoder
	fetcher audioFetcher
	checker *diagnostics.Checker
	assets  fs.FS
	logger  *slog.Logger
	emit    func(ctx context.Context, name string, data ...interface{})

	mu          sync.Mutex
	inputs      []engine.Input
	loadCancel  context.CancelCauseFunc // URL load in flight, if any
	runtimeCtx  context.Context
	unsubscribe func()
}

// New builds the application from loaded settings: worker transport, engine and
// startup diagnostics.
func New(settings domain.Settings, logger *slog.Logger) (*App, error) {
	return NewWithAssets(nil, settings, logger)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS, settings domain.Settings, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	transport, err := newTransport(settings, logger)
	if err != nil {
		return nil, err
	}

	eng := engine.New(
		worker.NewChannel(transport, logger),
		config.NewSession(settings.Session),
		engine.WithLogger(logger),
	)
	app := newApp(settings, eng, audio.NewDecoder(), fetch.New(nil, logger), diagnostics.NewChecker(), logger)
	app.assets = assets
	return app, nil
}

func newApp(settings domain.Settings, eng *engine.Engine, decoder audioDecoder, fetcher audioFetcher, checker *diagnostics.Checker, logger *slog.Logger) *App {
	a := &App{
		Settings: settings,
		engine:   eng,
		decoder:  decoder,
		fetcher:  fetcher,
		checker:  checker,
		logger:   logger.With("component", "bootstrap.App", "session_id", eng.ID()),
		emit:     wailsruntime.EventsEmit,
	}
	if checker != nil {
		a.Diagnostics = checker.Run(settings)
	}
	return a
}

// newTransport selects the worker transport configured in settings.
func newTransport(settings domain.Settings, logger *slog.Logger) (worker.Transport, error) {
	cfg := settings.Worker
	switch cfg.Transport {
	case domain.TransportProcess, "":
		return worker.ProcessTransport{
			Path:   cfg.Command,
			Args:   cfg.Args,
			Env:    append(os.Environ(), "WHISPER_RELAY_MODEL_DIR="+settings.ModelDir),
			Logger: logger,
		}, nil
	case domain.TransportGRPC:
		return worker.GRPCTransport{Target: cfg.Address}, nil
	default:
		return nil, fmt.Errorf("unknown worker transport %q", cfg.Transport)
	}
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Whisper Relay",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context, subscribes to snapshots and starts the worker.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.unsubscribe = a.engine.Subscribe(a.pushSnapshot)
	blocked := a.Diagnostics.Blocked
	a.mu.Unlock()

	if blocked {
		a.logger.Warn("worker not started, blocking diagnostics failed")
		return
	}
	a.engine.Start(context.Background())
}

// Shutdown stops fetches and the worker.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	a.cancelURLLoad(fetch.ErrCancelled)
	a.fetcher.Close()
	if err := a.engine.Close(); err != nil {
		a.logger.Error("close engine", "error", err)
	}
}

// GetSnapshot returns the current engine state.
func (a *App) GetSnapshot() domain.Snapshot {
	return a.engine.Snapshot()
}

// GetSession returns the session configuration the next dispatch will use.
func (a *App) GetSession() domain.SessionConfig {
	return a.engine.Session().Current()
}

// SetModel selects the model checkpoint.
func (a *App) SetModel(model string) (domain.SessionConfig, error) {
	if err := a.engine.Session().SetModel(model); err != nil {
		return domain.SessionConfig{}, err
	}
	return a.GetSession(), nil
}

// SetMultilingual toggles multilingual checkpoints.
func (a *App) SetMultilingual(multilingual bool) domain.SessionConfig {
	a.engine.Session().SetMultilingual(multilingual)
	return a.GetSession()
}

// SetQuantized toggles quantized checkpoints.
func (a *App) SetQuantized(quantized bool) domain.SessionConfig {
	a.engine.Session().SetQuantized(quantized)
	return a.GetSession()
}

// SetSubtask selects transcribe or translate.
func (a *App) SetSubtask(subtask string) (domain.SessionConfig, error) {
	if err := a.engine.Session().SetSubtask(domain.Subtask(subtask)); err != nil {
		return domain.SessionConfig{}, err
	}
	return a.GetSession(), nil
}

// SetLanguage selects the source language, or "auto".
func (a *App) SetLanguage(language string) domain.SessionConfig {
	a.engine.Session().SetLanguage(language)
	return a.GetSession()
}

// PickFiles opens a native dialog and adds the chosen audio files.
func (a *App) PickFiles() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select audio files",
		Filters: audioDialogFilter,
	})
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return a.InputFiles(), nil
	}
	return a.AddFiles(paths)
}

// AddFiles decodes local files and adds them to the input set. A file whose name
// is already loaded replaces the earlier one.
func (a *App) AddFiles(paths []string) ([]string, error) {
	a.cancelURLLoad(fetch.ErrCancelled)

	decoded := make([]engine.Input, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		buf, err := a.decoder.DecodeFile(context.Background(), p)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
		}
		decoded = append(decoded, engine.Input{FileName: filepath.Base(p), Audio: buf})
	}
	if len(decoded) == 0 {
		return a.InputFiles(), nil
	}

	a.mu.Lock()
	for _, in := range decoded {
		a.inputs = upsertInput(a.inputs, in)
	}
	a.mu.Unlock()

	a.engine.ResetOnNewInput()
	a.logger.Info("files added", "count", len(decoded))
	return a.InputFiles(), nil
}

// LoadFromURL downloads and decodes remote audio as the input set. Loading a new
// URL cancels a download still in flight.
func (a *App) LoadFromURL(rawURL string) ([]string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("url is empty")
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	a.mu.Lock()
	a.cancelURLLoadLocked(fetch.ErrSuperseded)
	a.loadCancel = cancel
	a.mu.Unlock()

	a.engine.ResetOnNewInput()
	download, err := a.fetcher.Fetch(ctx, urlSlot, rawURL, func(progress float64) {
		if ctx.Err() == nil {
			a.pushEvent(EventAudioProgress, progress)
		}
	})
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, err
	}

	buf, err := a.decoder.DecodeBytes(ctx, download.Data, download.MimeType)
	if cause := context.Cause(ctx); cause != nil {
		return nil, cause
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", rawURL, err)
	}

	// Cancellers hold mu, so the check and the commit are atomic against them.
	a.mu.Lock()
	if cause := context.Cause(ctx); cause != nil {
		a.mu.Unlock()
		return nil, cause
	}
	a.inputs = []engine.Input{{FileName: fileNameFromURL(rawURL), Audio: buf}}
	a.loadCancel = nil
	a.mu.Unlock()
	return a.InputFiles(), nil
}

// ClearInput drops all loaded audio and cancels a pending URL download.
func (a *App) ClearInput() {
	a.mu.Lock()
	a.cancelURLLoadLocked(fetch.ErrCancelled)
	a.inputs = nil
	a.mu.Unlock()
	a.engine.ResetOnNewInput()
}

// cancelURLLoad stops a URL load in flight, including its download, so it
// cannot replace newer input.
func (a *App) cancelURLLoad(cause error) {
	a.mu.Lock()
	a.cancelURLLoadLocked(cause)
	a.mu.Unlock()
}

func (a *App) cancelURLLoadLocked(cause error) {
	if a.loadCancel != nil {
		a.loadCancel(cause)
		a.loadCancel = nil
	}
}

// InputFiles lists the loaded input file names in load order.
func (a *App) InputFiles() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.inputs))
	for _, in := range a.inputs {
		names = append(names, in.FileName)
	}
	return names
}

// StartTranscription dispatches every loaded input to the worker.
func (a *App) StartTranscription() error {
	a.mu.Lock()
	blocked := a.Diagnostics.Blocked
	inputs := append([]engine.Input(nil), a.inputs...)
	a.mu.Unlock()
	if blocked {
		return errWorkerBlocked
	}
	if len(inputs) == 0 {
		return errNoInput
	}
	return a.engine.Dispatch(inputs)
}

// EngineEvents returns all journal entries with sequence greater than sinceSeq.
func (a *App) EngineEvents(sinceSeq int64) []jobs.Event {
	return a.engine.Journal(sinceSeq)
}

// GetLanguages returns the selectable source languages.
func (a *App) GetLanguages() []domain.LanguageOption {
	return domain.Languages()
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reruns dependency checks against the loaded settings.
func (a *App) RefreshDiagnostics() domain.DiagnosticReport {
	if a.checker == nil {
		return a.GetDiagnostics()
	}
	report := a.checker.Run(a.Settings)
	a.mu.Lock()
	a.Diagnostics = report
	a.mu.Unlock()
	return report
}

// TranscriptCSV renders the transcripts as "Filename;Transcription" rows.
func (a *App) TranscriptCSV() string {
	return transcriptCSV(a.engine.Snapshot())
}

// SaveTranscriptCSV asks for a destination and writes the CSV export there.
func (a *App) SaveTranscriptCSV() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	target, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:           "Save transcript",
		DefaultFilename: "transcript.csv",
	})
	if err != nil {
		return "", err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return "", nil
	}
	if err := os.WriteFile(target, []byte(a.TranscriptCSV()), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return target, nil
}

func transcriptCSV(snap domain.Snapshot) string {
	var b strings.Builder
	b.WriteString("Filename;Transcription")
	for _, t := range snap.Transcripts {
		b.WriteString("\n")
		b.WriteString(t.FileName)
		b.WriteString(";")
		b.WriteString(t.Text)
	}
	return b.String()
}

func (a *App) pushSnapshot(snap domain.Snapshot) {
	a.pushEvent(EventSnapshot, snap)
}

// pushEvent emits a runtime push notification when the UI is attached.
func (a *App) pushEvent(name string, data interface{}) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		a.emit(ctx, name, data)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

func upsertInput(inputs []engine.Input, in engine.Input) []engine.Input {
	for i := range inputs {
		if inputs[i].FileName == in.FileName {
			inputs[i] = in
			return inputs
		}
	}
	return append(inputs, in)
}

// fileNameFromURL uses the last path segment, or the host when the path is empty.
func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
		return name
	}
	if u.Host != "" {
		return u.Host
	}
	return rawURL
}
