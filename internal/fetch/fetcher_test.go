package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestFetcher() *Fetcher {
	return New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// progressLog collects progress callbacks.
type progressLog struct {
	mu     sync.Mutex
	values []float64
}

func (p *progressLog) record(v float64) {
	p.mu.Lock()
	p.values = append(p.values, v)
	p.mu.Unlock()
}

func (p *progressLog) snapshot() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.values...)
}

// TestFetchDownloadsAudio verifies the payload, MIME type and final progress.
func TestFetchDownloadsAudio(t *testing.T) {
	body := strings.Repeat("a", 100*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "whisper-relay" {
			t.Errorf("unexpected user agent %q", got)
		}
		w.Header().Set("Content-Type", "audio/mpeg; charset=binary")
		_, _ = io.WriteString(w, body)
	}))
	defer server.Close()

	progress := &progressLog{}
	download, err := newTestFetcher().Fetch(context.Background(), "input", server.URL+"/clip.mp3", progress.record)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if string(download.Data) != body {
		t.Fatalf("unexpected body length %d", len(download.Data))
	}
	if download.MimeType != "audio/mpeg" {
		t.Fatalf("mime type = %q, want audio/mpeg", download.MimeType)
	}
	values := progress.snapshot()
	if len(values) == 0 || values[len(values)-1] != 1 {
		t.Fatalf("expected progress to finish at 1, got %v", values)
	}
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			t.Fatalf("progress went backwards: %v", values)
		}
	}
}

// TestFetchMimeDefaults verifies missing and audio/wave types become audio/wav.
func TestFetchMimeDefaults(t *testing.T) {
	tests := []struct {
		name        string
		contentType []string
		want        string
	}{
		{name: "missing", contentType: nil, want: "audio/wav"},
		{name: "wave alias", contentType: []string{"audio/wave"}, want: "audio/wav"},
		{name: "ogg", contentType: []string{"audio/ogg"}, want: "audio/ogg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header()["Content-Type"] = tt.contentType
				_, _ = w.Write([]byte("data"))
			}))
			defer server.Close()

			download, err := newTestFetcher().Fetch(context.Background(), "input", server.URL, nil)
			if err != nil {
				t.Fatalf("Fetch returned error: %v", err)
			}
			if download.MimeType != tt.want {
				t.Fatalf("mime type = %q, want %q", download.MimeType, tt.want)
			}
		})
	}
}

// TestFetchRejectsHTTPErrors verifies non-200 responses fail.
func TestFetchRejectsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestFetcher().Fetch(context.Background(), "input", server.URL, nil)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

// slowServer sends a first block and then stalls until the client goes away.
func slowServer(t *testing.T, requested chan<- struct{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/slow" {
			_, _ = io.WriteString(w, "fast")
			return
		}
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write(make([]byte, 10))
		w.(http.Flusher).Flush()
		requested <- struct{}{}
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)
	return server
}

// TestFetchSupersedesSameSlot verifies a newer fetch cancels the older one for its slot.
func TestFetchSupersedesSameSlot(t *testing.T) {
	requested := make(chan struct{}, 1)
	server := slowServer(t, requested)
	fetcher := newTestFetcher()

	firstProgress := &progressLog{}
	firstErr := make(chan error, 1)
	go func() {
		_, err := fetcher.Fetch(context.Background(), "input", server.URL+"/slow", firstProgress.record)
		firstErr <- err
	}()

	select {
	case <-requested:
	case <-time.After(5 * time.Second):
		t.Fatalf("slow request never arrived")
	}

	download, err := fetcher.Fetch(context.Background(), "input", server.URL+"/fast", nil)
	if err != nil {
		t.Fatalf("second Fetch returned error: %v", err)
	}
	if string(download.Data) != "fast" {
		t.Fatalf("unexpected second payload %q", download.Data)
	}

	select {
	case err := <-firstErr:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("expected ErrSuperseded, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("first fetch was not cancelled")
	}

	for _, v := range firstProgress.snapshot() {
		if v == 1 {
			t.Fatalf("superseded fetch reported completion: %v", firstProgress.snapshot())
		}
	}
}

// TestFetchSlotsAreIndependent verifies fetches on other slots keep running.
func TestFetchSlotsAreIndependent(t *testing.T) {
	requested := make(chan struct{}, 1)
	server := slowServer(t, requested)
	fetcher := newTestFetcher()

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := fetcher.Fetch(ctx, "left", server.URL+"/slow", nil)
		firstErr <- err
	}()
	<-requested

	if _, err := fetcher.Fetch(context.Background(), "right", server.URL+"/fast", nil); err != nil {
		t.Fatalf("Fetch on other slot returned error: %v", err)
	}
	select {
	case err := <-firstErr:
		t.Fatalf("left slot finished early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := <-firstErr; err == nil || errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

// TestFetchCancel verifies Cancel stops the slot's fetch.
func TestFetchCancel(t *testing.T) {
	requested := make(chan struct{}, 1)
	server := slowServer(t, requested)
	fetcher := newTestFetcher()

	errs := make(chan error, 1)
	go func() {
		_, err := fetcher.Fetch(context.Background(), "input", server.URL+"/slow", nil)
		errs <- err
	}()
	<-requested

	fetcher.Cancel("input")
	select {
	case err := <-errs:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("fetch was not cancelled")
	}
}
