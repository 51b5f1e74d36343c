package telemetry

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestRecorderSnapshot(t *testing.T) {
	recorder := NewRecorder(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if snapshot := recorder.Snapshot(); snapshot.TotalJobs != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snapshot)
	}

	recorder.RecordDispatch(2)
	recorder.RecordModelFile("model.bin")
	first := recorder.StartJob("session-1", "a.wav", 16000)
	second := recorder.StartJob("session-1", "b.wav", 8000)

	first.RecordUpdate("hello")
	first.RecordUpdate("hello world")
	first.Finish(nil)
	second.Finish(errors.New("send failed"))

	snapshot := recorder.Snapshot()
	if snapshot.TotalDispatches != 1 {
		t.Fatalf("unexpected TotalDispatches: %d", snapshot.TotalDispatches)
	}
	if snapshot.TotalJobs != 2 {
		t.Fatalf("unexpected TotalJobs: %d", snapshot.TotalJobs)
	}
	if snapshot.TotalSamples != 24000 {
		t.Fatalf("unexpected TotalSamples: %d", snapshot.TotalSamples)
	}
	if snapshot.TotalUpdates != 2 {
		t.Fatalf("unexpected TotalUpdates: %d", snapshot.TotalUpdates)
	}
	if snapshot.TotalCompletions != 1 || snapshot.TotalFailures != 1 {
		t.Fatalf("unexpected completions/failures: %+v", snapshot)
	}
	if snapshot.ActiveJobs != 0 {
		t.Fatalf("expected zero active jobs, got %d", snapshot.ActiveJobs)
	}
	if snapshot.TotalModelFiles != 1 {
		t.Fatalf("unexpected TotalModelFiles: %d", snapshot.TotalModelFiles)
	}
}

func TestJobFinishIsIdempotent(t *testing.T) {
	recorder := NewRecorder(slog.New(slog.NewTextHandler(io.Discard, nil)))
	job := recorder.StartJob("s", "a.wav", 10)
	job.Finish(nil)
	job.Finish(errors.New("late"))

	snapshot := recorder.Snapshot()
	if snapshot.TotalCompletions != 1 || snapshot.TotalFailures != 0 {
		t.Fatalf("second Finish changed totals: %+v", snapshot)
	}
	if snapshot.ActiveJobs != 0 {
		t.Fatalf("expected zero active jobs, got %d", snapshot.ActiveJobs)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var recorder *Recorder
	recorder.RecordDispatch(1)
	recorder.RecordSessionError("boom")
	job := recorder.StartJob("s", "a", 1)
	job.RecordUpdate("x")
	job.Finish(nil)
	if snapshot := recorder.Snapshot(); snapshot != (Snapshot{}) {
		t.Fatalf("expected zero snapshot, got %+v", snapshot)
	}
}
