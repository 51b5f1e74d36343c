// Package fetch downloads remote audio for an input slot. Starting a new download
// for a slot cancels the one already running there.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
)

// ErrSuperseded is returned by a fetch that was replaced by a newer one for the same slot.
var ErrSuperseded = errors.New("fetch superseded by a newer request")

// ErrCancelled is returned by a fetch stopped through Cancel or Close.
var ErrCancelled = errors.New("fetch cancelled")

const (
	defaultMimeType = "audio/wav"
	readChunkSize   = 32 * 1024
	userAgent       = "whisper-relay"
)

// Download is a fetched audio payload.
type Download struct {
	Data     []byte
	MimeType string
	URL      string
}

// Fetcher runs at most one download per slot.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint64
	slots  map[string]*inflight
}

type inflight struct {
	id     uint64
	cancel context.CancelCauseFunc

	// mu orders progress callbacks against cancellation.
	mu      sync.Mutex
	stopped bool
}

func (f *inflight) stop(cause error) {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	f.cancel(cause)
}

func (f *inflight) report(onProgress func(float64), value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		onProgress(value)
	}
}

// New constructs a Fetcher. A nil client uses http.DefaultClient.
func New(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: client,
		logger: logger.With("component", "fetch.Fetcher"),
		slots:  make(map[string]*inflight),
	}
}

// Fetch downloads url into memory for slot, cancelling any fetch in flight for the
// same slot. onProgress, if set, receives the fraction loaded in [0, 1] and is never
// called once this fetch has been superseded or cancelled.
func (f *Fetcher) Fetch(ctx context.Context, slot, url string, onProgress func(float64)) (Download, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	current := f.register(slot, cancel)
	defer f.release(slot, current)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Download{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Download{}, f.cause(ctx, fmt.Errorf("request audio: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Download{}, fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	total := resp.ContentLength
	data := make([]byte, 0, max(total, 0))
	buf := make([]byte, readChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			if onProgress != nil && total > 0 {
				current.report(onProgress, float64(len(data))/float64(total))
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return Download{}, f.cause(ctx, fmt.Errorf("read audio: %w", readErr))
		}
	}
	if err := context.Cause(ctx); err != nil {
		return Download{}, f.cause(ctx, err)
	}
	if onProgress != nil {
		current.report(onProgress, 1)
	}

	download := Download{
		Data:     data,
		MimeType: normalizeMimeType(resp.Header.Get("Content-Type")),
		URL:      url,
	}
	f.logger.Info("audio fetched", "slot", slot, "url", url, "bytes", len(data), "mime_type", download.MimeType)
	return download, nil
}

// Cancel stops the fetch in flight for slot, if any.
func (f *Fetcher) Cancel(slot string) {
	f.mu.Lock()
	current := f.slots[slot]
	delete(f.slots, slot)
	f.mu.Unlock()

	if current != nil {
		current.stop(ErrCancelled)
	}
}

// Close stops every fetch in flight.
func (f *Fetcher) Close() {
	f.mu.Lock()
	slots := f.slots
	f.slots = make(map[string]*inflight)
	f.mu.Unlock()

	for _, current := range slots {
		current.stop(ErrCancelled)
	}
}

func (f *Fetcher) register(slot string, cancel context.CancelCauseFunc) *inflight {
	f.mu.Lock()
	f.nextID++
	current := &inflight{id: f.nextID, cancel: cancel}
	previous := f.slots[slot]
	f.slots[slot] = current
	f.mu.Unlock()

	if previous != nil {
		f.logger.Debug("superseding fetch", "slot", slot)
		previous.stop(ErrSuperseded)
	}
	return current
}

func (f *Fetcher) release(slot string, current *inflight) {
	f.mu.Lock()
	if f.slots[slot] == current {
		delete(f.slots, slot)
	}
	f.mu.Unlock()
	current.cancel(nil)
}

// cause prefers the cancellation reason over the transport error it produced.
func (f *Fetcher) cause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		if errors.Is(cause, ErrSuperseded) || errors.Is(cause, ErrCancelled) {
			return cause
		}
		return fmt.Errorf("%w: %v", cause, err)
	}
	return err
}

// normalizeMimeType defaults missing types to audio/wav and folds audio/wave into it.
func normalizeMimeType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || strings.TrimSpace(mediaType) == "" {
		return defaultMimeType
	}
	if mediaType == "audio/wave" {
		return defaultMimeType
	}
	return mediaType
}
