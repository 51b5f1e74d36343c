// Package telemetry keeps in-process counters for engine sessions.
package telemetry

import (
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// Recorder tracks engine-level telemetry across sessions.
type Recorder struct {
	log *slog.Logger

	totalDispatches  atomic.Uint64
	totalJobs        atomic.Uint64
	activeJobs       atomic.Int64
	totalSamples     atomic.Uint64
	totalUpdates     atomic.Uint64
	totalCompletions atomic.Uint64
	totalFailures    atomic.Uint64
	totalErrors      atomic.Uint64
	totalModelFiles  atomic.Uint64
}

// Snapshot captures cumulative metrics recorded so far.
type Snapshot struct {
	TotalDispatches  uint64
	TotalJobs        uint64
	ActiveJobs       int64
	TotalSamples     uint64
	TotalUpdates     uint64
	TotalCompletions uint64
	TotalFailures    uint64
	TotalErrors      uint64
	TotalModelFiles  uint64
}

// NewRecorder constructs a Recorder using the provided logger.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		log: logger.With("component", "telemetry.Recorder"),
	}
}

// Snapshot returns an immutable view of the recorder totals.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		TotalDispatches:  r.totalDispatches.Load(),
		TotalJobs:        r.totalJobs.Load(),
		ActiveJobs:       r.activeJobs.Load(),
		TotalSamples:     r.totalSamples.Load(),
		TotalUpdates:     r.totalUpdates.Load(),
		TotalCompletions: r.totalCompletions.Load(),
		TotalFailures:    r.totalFailures.Load(),
		TotalErrors:      r.totalErrors.Load(),
		TotalModelFiles:  r.totalModelFiles.Load(),
	}
}

// RecordDispatch counts one dispatch batch.
func (r *Recorder) RecordDispatch(files int) {
	if r == nil {
		return
	}
	r.totalDispatches.Add(1)
	r.log.Debug("dispatch started", "files", files)
}

// RecordModelFile counts one model artifact that started loading.
func (r *Recorder) RecordModelFile(file string) {
	if r == nil {
		return
	}
	r.totalModelFiles.Add(1)
	r.log.Debug("model file loading", "file", file)
}

// RecordSessionError counts a session-level worker error.
func (r *Recorder) RecordSessionError(message string) {
	if r == nil {
		return
	}
	r.totalErrors.Add(1)
	r.log.Warn("session error recorded", "message", message)
}

// JobMetrics accumulates statistics for a single transcription job.
type JobMetrics struct {
	recorder *Recorder
	log      *slog.Logger

	started time.Time
	updates int
	closed  atomic.Bool
}

// StartJob initialises JobMetrics bound to the recorder.
func (r *Recorder) StartJob(sessionID, fileName string, samples int) *JobMetrics {
	if r == nil {
		return nil
	}

	r.totalJobs.Add(1)
	r.activeJobs.Add(1)
	if samples > 0 {
		r.totalSamples.Add(uint64(samples))
	}

	return &JobMetrics{
		recorder: r,
		log: r.log.With(
			"session_id", sessionID,
			"file_name", fileName,
			"samples", samples,
		),
		started: time.Now(),
	}
}

// RecordUpdate counts a partial transcript for the job.
func (j *JobMetrics) RecordUpdate(text string) {
	if j == nil {
		return
	}
	j.updates++
	j.recorder.totalUpdates.Add(1)
	j.log.Debug("partial transcript",
		"chars", len(text),
		"runes", utf8.RuneCountInString(text),
	)
}

// Finish logs a summary and releases the active job slot. Only the first call counts.
func (j *JobMetrics) Finish(err error) {
	if j == nil {
		return
	}
	if !j.closed.CompareAndSwap(false, true) {
		return
	}

	defer j.recorder.activeJobs.Add(-1)

	args := []any{
		"duration_ms", time.Since(j.started).Milliseconds(),
		"updates", j.updates,
	}
	if err != nil {
		j.recorder.totalFailures.Add(1)
		j.log.Error("job failed", append(args, "error", err)...)
		return
	}

	j.recorder.totalCompletions.Add(1)
	j.log.Info("job completed", args...)
}
