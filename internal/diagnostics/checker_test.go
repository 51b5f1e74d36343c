package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"whisper-relay/internal/domain"
)

func foundEverywhere(name string) (string, error) { return "/usr/local/bin/" + name, nil }

func processSettings(modelDir string) domain.Settings {
	return domain.Settings{
		Worker: domain.WorkerSettings{
			Transport: domain.TransportProcess,
			Command:   "whisper-relay-worker",
		},
		ModelDir: modelDir,
	}
}

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	modelDir := filepath.Join(t.TempDir(), "models")
	checker := NewCheckerForTests(foundEverywhere, os.ReadDir, os.MkdirAll, os.CreateTemp, os.Remove)

	report := checker.Run(processSettings(modelDir))

	if report.HasFailures || report.Blocked {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	if _, err := os.Stat(modelDir); err != nil {
		t.Fatalf("expected model dir to be created: %v", err)
	}
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.ReadDir,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(processSettings(""))

	if !report.HasFailures || !report.Blocked {
		t.Fatalf("expected blocking failures, got %+v", report)
	}
	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "tool_ffprobe", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "worker", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "model_dir", domain.DiagnosticStatusFail)
}

// TestCheckerRunToolFailuresDoNotBlock validates only the worker check blocks.
func TestCheckerRunToolFailuresDoNotBlock(t *testing.T) {
	checker := NewCheckerForTests(
		func(name string) (string, error) {
			if strings.HasPrefix(name, "ff") {
				return "", errors.New("not found")
			}
			return "/opt/" + name, nil
		},
		os.ReadDir,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(processSettings(t.TempDir()))

	if !report.HasFailures || report.Blocked {
		t.Fatalf("expected non-blocking failures, got %+v", report)
	}
	assertStatusByID(t, report, "worker", domain.DiagnosticStatusPass)
}

// TestCheckerRunGRPCAddress validates the gRPC address check.
func TestCheckerRunGRPCAddress(t *testing.T) {
	checker := NewCheckerForTests(foundEverywhere, os.ReadDir, os.MkdirAll, os.CreateTemp, os.Remove)

	tests := []struct {
		address string
		want    domain.DiagnosticStatus
	}{
		{address: "127.0.0.1:50071", want: domain.DiagnosticStatusPass},
		{address: "localhost", want: domain.DiagnosticStatusFail},
		{address: "", want: domain.DiagnosticStatusFail},
	}
	for _, tt := range tests {
		settings := processSettings(t.TempDir())
		settings.Worker = domain.WorkerSettings{Transport: domain.TransportGRPC, Address: tt.address}
		assertStatusByID(t, checker.Run(settings), "worker", tt.want)
	}
}

// TestCheckerRunCountsCachedModels validates the model directory message.
func TestCheckerRunCountsCachedModels(t *testing.T) {
	modelDir := t.TempDir()
	for _, name := range []string{"ggml-base.bin", "README.txt"} {
		if err := os.WriteFile(filepath.Join(modelDir, name), []byte("stub"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	checker := NewCheckerForTests(foundEverywhere, os.ReadDir, os.MkdirAll, os.CreateTemp, os.Remove)

	report := checker.Run(processSettings(modelDir))

	for _, item := range report.Items {
		if item.ID == "model_dir" && !strings.Contains(item.Message, "1 cached models") {
			t.Fatalf("unexpected model dir message: %q", item.Message)
		}
	}
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
