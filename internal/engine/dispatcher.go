package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"whisper-relay/internal/audio"
	"whisper-relay/internal/domain"
	"whisper-relay/internal/jobs"
	"whisper-relay/internal/worker"
)

// Sender is the outbound half of the worker channel.
type Sender interface {
	Send(req worker.Request) error
}

// Input is one named audio buffer to transcribe.
type Input struct {
	FileName string
	Audio    audio.Buffer
}

// BuildRequest assembles the worker request for one file. Subtask is forwarded only
// for multilingual models; language only when multilingual and not auto-detect.
func BuildRequest(fileName string, samples []float32, cfg domain.SessionConfig) worker.Request {
	req := worker.Request{
		Audio:        samples,
		Model:        cfg.Model,
		Multilingual: cfg.Multilingual,
		Quantized:    cfg.Quantized,
		FileName:     fileName,
	}
	if cfg.Multilingual {
		subtask := string(cfg.Subtask)
		req.Subtask = &subtask
		if cfg.Language != domain.LanguageAuto {
			language := cfg.Language
			req.Language = &language
		}
	}
	return req
}

// Hooks observe per-file dispatch. Started runs just before the request is sent;
// Failed runs when a file could not be sent. Either may be nil.
type Hooks struct {
	Started func(req worker.Request)
	Failed  func(fileName string, err error)
}

// Dispatcher fans a set of inputs out to the worker, one goroutine per file.
type Dispatcher struct {
	sender     Sender
	aggregator *jobs.Aggregator
	hooks      Hooks
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher wires a dispatcher to its sender and aggregation sink.
func NewDispatcher(sender Sender, aggregator *jobs.Aggregator, hooks Hooks, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:     sender,
		aggregator: aggregator,
		hooks:      hooks,
		logger:     logger.With("component", "engine.Dispatcher"),
	}
}

// Dispatch clears prior transcripts, marks the session busy and sends one request
// per input without waiting for any of them. An empty input set is a no-op. Inputs
// are validated before any state changes.
func (d *Dispatcher) Dispatch(inputs []Input, cfg domain.SessionConfig) error {
	if len(inputs) == 0 {
		return nil
	}

	names := make([]string, len(inputs))
	for i, in := range inputs {
		if err := in.Audio.Validate(); err != nil {
			return fmt.Errorf("input %q: %w", in.FileName, err)
		}
		names[i] = in.FileName
	}

	d.aggregator.Begin(names)

	for _, in := range inputs {
		d.wg.Add(1)
		go d.send(in, cfg)
	}
	return nil
}

// Wait blocks until every dispatched send attempt has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) send(in Input, cfg domain.SessionConfig) {
	defer d.wg.Done()

	if len(in.Audio.Channels) > 2 {
		d.logger.Warn("using first channel of multichannel input",
			"file_name", in.FileName,
			"channels", len(in.Audio.Channels),
		)
	}
	samples, err := audio.Normalize(in.Audio)
	if err != nil {
		d.fail(in.FileName, fmt.Errorf("normalize: %w", err))
		return
	}

	req := BuildRequest(in.FileName, samples, cfg)
	if d.hooks.Started != nil {
		d.hooks.Started(req)
	}
	if err := d.sender.Send(req); err != nil {
		d.fail(in.FileName, fmt.Errorf("send: %w", err))
	}
}

func (d *Dispatcher) fail(fileName string, err error) {
	d.logger.Error("dispatch failed", "file_name", fileName, "error", err)
	d.aggregator.Abandon(fileName)
	if d.hooks.Failed != nil {
		d.hooks.Failed(fileName, err)
	}
}
