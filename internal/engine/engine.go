// Package engine is the orchestration object for one transcription session: it
// owns the worker channel handle, the session configuration and the aggregated
// state, and publishes snapshots to subscribers.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"whisper-relay/internal/config"
	"whisper-relay/internal/domain"
	"whisper-relay/internal/jobs"
	"whisper-relay/internal/telemetry"
	"whisper-relay/internal/worker"
)

const defaultJournalSize = 500

// Channel is the subset of worker.Channel the engine drives.
type Channel interface {
	OnEvent(h func(worker.Event))
	Start(ctx context.Context)
	Send(req worker.Request) error
	Close() error
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder shares a telemetry recorder across engines.
func WithRecorder(recorder *telemetry.Recorder) Option {
	return func(e *Engine) {
		if recorder != nil {
			e.recorder = recorder
		}
	}
}

// WithJournalSize bounds the in-memory event journal.
func WithJournalSize(size int) Option {
	return func(e *Engine) {
		e.journalSize = size
	}
}

// Engine coordinates dispatch and event aggregation for one worker session.
type Engine struct {
	id          string
	channel     Channel
	session     *config.Session
	aggregator  *jobs.Aggregator
	dispatcher  *Dispatcher
	journal     *jobs.EventBus
	journalSize int
	recorder    *telemetry.Recorder
	logger      *slog.Logger

	// publishMu serialises snapshot publication so subscribers observe state in order.
	publishMu   sync.Mutex
	subMu       sync.RWMutex
	subscribers map[int]func(domain.Snapshot)
	nextSub     int

	metricsMu sync.Mutex
	metrics   map[string][]*telemetry.JobMetrics

	closeOnce sync.Once
}

// New builds an engine around channel and session. The channel is not started.
func New(channel Channel, session *config.Session, opts ...Option) *Engine {
	e := &Engine{
		id:          uuid.NewString(),
		channel:     channel,
		session:     session,
		aggregator:  jobs.NewAggregator(),
		journalSize: defaultJournalSize,
		logger:      slog.Default(),
		subscribers: make(map[int]func(domain.Snapshot)),
		metrics:     make(map[string][]*telemetry.JobMetrics),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.session == nil {
		e.session = config.NewSession(config.DefaultSession())
	}
	if e.recorder == nil {
		e.recorder = telemetry.NewRecorder(e.logger)
	}
	e.logger = e.logger.With("component", "engine.Engine", "session_id", e.id)
	e.journal = jobs.NewEventBus(e.journalSize)
	e.dispatcher = NewDispatcher(channel, e.aggregator, Hooks{
		Started: e.jobStarted,
		Failed:  e.jobFailed,
	}, e.logger)

	channel.OnEvent(e.handleEvent)
	return e
}

// ID returns the session identifier.
func (e *Engine) ID() string {
	return e.id
}

// Session returns the mutable session configuration.
func (e *Engine) Session() *config.Session {
	return e.session
}

// Start opens the worker channel.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("starting engine session")
	e.channel.Start(ctx)
}

// Dispatch sends inputs using the current session configuration.
func (e *Engine) Dispatch(inputs []Input) error {
	if len(inputs) == 0 {
		return nil
	}
	cfg := e.session.Current()
	if err := e.dispatcher.Dispatch(inputs, cfg); err != nil {
		e.journal.Publish(jobs.Event{SessionID: e.id, Type: jobs.EventTypeError, Message: err.Error()})
		return err
	}

	e.recorder.RecordDispatch(len(inputs))
	for _, in := range inputs {
		e.journal.Publish(jobs.Event{SessionID: e.id, Type: jobs.EventTypeDispatch, FileName: in.FileName})
	}
	e.logger.Info("dispatched files", "files", len(inputs), "model", cfg.Model, "multilingual", cfg.Multilingual)
	e.publish()
	return nil
}

// ResetOnNewInput clears transcripts when the user picks a new input.
func (e *Engine) ResetOnNewInput() {
	e.aggregator.ResetTranscripts()
	e.journal.Publish(jobs.Event{SessionID: e.id, Type: jobs.EventTypeReset})
	e.publish()
}

// Snapshot returns the current read-only engine state.
func (e *Engine) Snapshot() domain.Snapshot {
	return e.aggregator.Snapshot()
}

// Subscribe registers fn to receive every new snapshot. The returned func unsubscribes.
func (e *Engine) Subscribe(fn func(domain.Snapshot)) (cancel func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subscribers, id)
		e.subMu.Unlock()
	}
}

// Journal returns journal entries newer than since.
func (e *Engine) Journal(since int64) []jobs.Event {
	return e.journal.Since(since)
}

// Telemetry returns the recorder totals.
func (e *Engine) Telemetry() telemetry.Snapshot {
	return e.recorder.Snapshot()
}

// Close tears the worker down and waits for pending sends.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.channel.Close()
		e.dispatcher.Wait()

		totals := e.recorder.Snapshot()
		e.logger.Info("engine session closed",
			"total_jobs", totals.TotalJobs,
			"total_completions", totals.TotalCompletions,
			"total_failures", totals.TotalFailures,
			"total_errors", totals.TotalErrors,
		)
	})
	return err
}

func (e *Engine) handleEvent(event worker.Event) {
	entry := jobs.Event{SessionID: e.id, Type: jobs.EventTypeWorker, Status: event.Status()}

	switch v := event.(type) {
	case worker.InitiateEvent:
		entry.File = v.File
		e.recorder.RecordModelFile(v.File)
	case worker.DoneEvent:
		entry.File = v.File
	case worker.UpdateEvent:
		entry.FileName = v.FileName
		if m := e.peekMetrics(v.FileName); m != nil {
			m.RecordUpdate(v.Text)
		}
	case worker.CompleteEvent:
		entry.FileName = v.FileName
		if m := e.popMetrics(v.FileName); m != nil {
			m.Finish(nil)
		}
	case worker.ErrorEvent:
		entry.Type = jobs.EventTypeError
		entry.Message = v.Message
		e.recorder.RecordSessionError(v.Message)
		e.failAllMetrics(v.Message)
	case worker.ProgressEvent:
		// too chatty for the journal
		entry = jobs.Event{}
	}

	if entry.Type != "" {
		e.journal.Publish(entry)
	}
	if e.aggregator.Apply(event) {
		e.publish()
	}
}

func (e *Engine) publish() {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	snapshot := e.aggregator.Snapshot()

	e.subMu.RLock()
	subs := make([]func(domain.Snapshot), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.subMu.RUnlock()

	for _, fn := range subs {
		fn(snapshot.Clone())
	}
}

func (e *Engine) jobStarted(req worker.Request) {
	m := e.recorder.StartJob(e.id, req.FileName, len(req.Audio))
	e.metricsMu.Lock()
	e.metrics[req.FileName] = append(e.metrics[req.FileName], m)
	e.metricsMu.Unlock()
}

func (e *Engine) jobFailed(fileName string, err error) {
	e.journal.Publish(jobs.Event{SessionID: e.id, Type: jobs.EventTypeError, FileName: fileName, Message: err.Error()})
	if m := e.popMetrics(fileName); m != nil {
		m.Finish(err)
	}
	e.publish()
}

func (e *Engine) peekMetrics(fileName string) *telemetry.JobMetrics {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	if list := e.metrics[fileName]; len(list) > 0 {
		return list[0]
	}
	return nil
}

func (e *Engine) popMetrics(fileName string) *telemetry.JobMetrics {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	list := e.metrics[fileName]
	if len(list) == 0 {
		return nil
	}
	if len(list) == 1 {
		delete(e.metrics, fileName)
	} else {
		e.metrics[fileName] = list[1:]
	}
	return list[0]
}

func (e *Engine) failAllMetrics(message string) {
	e.metricsMu.Lock()
	pending := e.metrics
	e.metrics = make(map[string][]*telemetry.JobMetrics)
	e.metricsMu.Unlock()

	for _, list := range pending {
		for _, m := range list {
			m.Finish(workerError(message))
		}
	}
}

type workerError string

func (e workerError) Error() string { return string(e) }
