package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

const waitTimeout = 5 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is an in-memory Conn fed by the test.
type fakeConn struct {
	sent      chan Request
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	sendErr   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sent:   make(chan Request, 16),
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(req Request) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent <- req
	return nil
}

func (c *fakeConn) Recv() ([]byte, error) {
	select {
	case frame, ok := <-c.frames:
		if !ok {
			return nil, ErrWorkerExited
		}
		return frame, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// eventRecorder collects delivered events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{notify: make(chan struct{}, 64)}
}

func (r *eventRecorder) handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *eventRecorder) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		r.mu.Lock()
		if len(r.events) >= n {
			out := append([]Event(nil), r.events...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func staticTransport(conn Conn) Transport {
	return TransportFunc(func(context.Context) (Conn, error) { return conn, nil })
}

// TestChannelDeliversEventsInOrder verifies events reach the handler in emission order.
func TestChannelDeliversEventsInOrder(t *testing.T) {
	conn := newFakeConn()
	ch := NewChannel(staticTransport(conn), discardLogger())
	rec := newEventRecorder()
	ch.OnEvent(rec.handle)
	ch.Start(context.Background())
	t.Cleanup(func() { _ = ch.Close() })

	conn.frames <- []byte(`{"status":"initiate","file":"f","name":"m"}`)
	conn.frames <- []byte(`{"status":"progress","file":"f","progress":0.5}`)
	conn.frames <- []byte(`{"status":"done","file":"f"}`)
	conn.frames <- []byte(`{"status":"ready"}`)
	conn.frames <- []byte(`{"status":"complete","fileName":"a","data":{"text":"x","chunks":[]}}`)

	events := rec.waitFor(t, 5)
	want := []string{StatusInitiate, StatusProgress, StatusDone, StatusReady, StatusComplete}
	for i, status := range want {
		if events[i].Status() != status {
			t.Fatalf("event %d: expected %s, got %s", i, status, events[i].Status())
		}
	}
}

// TestChannelQueuesRequestsBeforeOpen verifies Send does not block while the worker is opening.
func TestChannelQueuesRequestsBeforeOpen(t *testing.T) {
	conn := newFakeConn()
	release := make(chan struct{})
	transport := TransportFunc(func(ctx context.Context) (Conn, error) {
		select {
		case <-release:
			return conn, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	ch := NewChannel(transport, discardLogger())
	ch.Start(context.Background())
	t.Cleanup(func() { _ = ch.Close() })

	if err := ch.Send(Request{FileName: "one"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if err := ch.Send(Request{FileName: "two"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	close(release)

	for _, want := range []string{"one", "two"} {
		select {
		case got := <-conn.sent:
			if got.FileName != want {
				t.Fatalf("expected %q, got %q", want, got.FileName)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

// TestChannelOpenFailureEmitsSingleError verifies a failed open yields one terminal error.
func TestChannelOpenFailureEmitsSingleError(t *testing.T) {
	transport := TransportFunc(func(context.Context) (Conn, error) {
		return nil, errors.New("executable not found")
	})
	ch := NewChannel(transport, discardLogger())
	rec := newEventRecorder()
	ch.OnEvent(rec.handle)
	ch.Start(context.Background())
	t.Cleanup(func() { _ = ch.Close() })

	events := rec.waitFor(t, 1)
	errEvent, ok := events[0].(ErrorEvent)
	if !ok {
		t.Fatalf("expected ErrorEvent, got %T", events[0])
	}
	if !strings.Contains(errEvent.Message, "executable not found") {
		t.Fatalf("unexpected error message: %q", errEvent.Message)
	}
	if !ch.Dead() {
		t.Fatalf("expected channel to be dead")
	}
	if err := ch.Send(Request{FileName: "late"}); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if got := len(rec.snapshot()); got != 1 {
		t.Fatalf("expected exactly one event, got %d", got)
	}
}

// TestChannelWorkerExitIsTerminal verifies an unexpected exit emits one error and no restart.
func TestChannelWorkerExitIsTerminal(t *testing.T) {
	conn := newFakeConn()
	opens := 0
	var mu sync.Mutex
	transport := TransportFunc(func(context.Context) (Conn, error) {
		mu.Lock()
		opens++
		mu.Unlock()
		return conn, nil
	})
	ch := NewChannel(transport, discardLogger())
	rec := newEventRecorder()
	ch.OnEvent(rec.handle)
	ch.Start(context.Background())
	t.Cleanup(func() { _ = ch.Close() })

	conn.frames <- []byte(`{"status":"ready"}`)
	close(conn.frames)

	events := rec.waitFor(t, 2)
	if _, ok := events[1].(ErrorEvent); !ok {
		t.Fatalf("expected terminal ErrorEvent, got %T", events[1])
	}
	if err := ch.Send(Request{FileName: "after"}); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}

	ch.Start(context.Background())
	mu.Lock()
	defer mu.Unlock()
	if opens != 1 {
		t.Fatalf("expected a single open, got %d", opens)
	}
}

// TestChannelSendFailureIsTerminal verifies a write error kills the channel.
func TestChannelSendFailureIsTerminal(t *testing.T) {
	conn := newFakeConn()
	conn.sendErr = errors.New("broken pipe")
	ch := NewChannel(staticTransport(conn), discardLogger())
	rec := newEventRecorder()
	ch.OnEvent(rec.handle)
	ch.Start(context.Background())
	t.Cleanup(func() { _ = ch.Close() })

	if err := ch.Send(Request{FileName: "a.wav"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	events := rec.waitFor(t, 1)
	errEvent, ok := events[0].(ErrorEvent)
	if !ok || !strings.Contains(errEvent.Message, "broken pipe") {
		t.Fatalf("unexpected terminal event: %#v", events[0])
	}
}

// TestChannelCloseEmitsNoError verifies a requested close is silent.
func TestChannelCloseEmitsNoError(t *testing.T) {
	conn := newFakeConn()
	ch := NewChannel(staticTransport(conn), discardLogger())
	rec := newEventRecorder()
	ch.OnEvent(rec.handle)
	ch.Start(context.Background())

	conn.frames <- []byte(`{"status":"ready"}`)
	rec.waitFor(t, 1)

	if err := ch.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if got := len(rec.snapshot()); got != 1 {
		t.Fatalf("expected no events after close, got %d total", got)
	}
	if err := ch.Send(Request{}); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed after close, got %v", err)
	}
}

// TestChannelSkipsMalformedFrames verifies a bad frame does not kill the channel.
func TestChannelSkipsMalformedFrames(t *testing.T) {
	conn := newFakeConn()
	ch := NewChannel(staticTransport(conn), discardLogger())
	rec := newEventRecorder()
	ch.OnEvent(rec.handle)
	ch.Start(context.Background())
	t.Cleanup(func() { _ = ch.Close() })

	conn.frames <- []byte(`{not json`)
	conn.frames <- []byte(`{"status":"heartbeat"}`)
	conn.frames <- []byte(`{"status":"ready"}`)

	events := rec.waitFor(t, 2)
	if _, ok := events[0].(UnknownEvent); !ok {
		t.Fatalf("expected UnknownEvent first, got %T", events[0])
	}
	if _, ok := events[1].(ReadyEvent); !ok {
		t.Fatalf("expected ReadyEvent second, got %T", events[1])
	}
	if ch.Dead() {
		t.Fatalf("expected channel to stay alive")
	}
}

// TestChannelNoEventAfterTerminalError verifies a frame read while a send failure
// is being reported is dropped rather than delivered after the ErrorEvent.
func TestChannelNoEventAfterTerminalError(t *testing.T) {
	conn := newFakeConn()
	conn.sendErr = errors.New("broken pipe")
	ch := NewChannel(staticTransport(conn), discardLogger())
	t.Cleanup(func() { _ = ch.Close() })

	rec := newEventRecorder()
	entered := make(chan struct{})
	release := make(chan struct{})
	var first sync.Once
	ch.OnEvent(func(e Event) {
		blocked := false
		first.Do(func() { blocked = true })
		if blocked {
			close(entered)
			<-release
		}
		rec.handle(e)
	})
	ch.Start(context.Background())

	conn.frames <- []byte(`{"status":"ready"}`)
	conn.frames <- []byte(`{"status":"complete","fileName":"a.wav","data":{"text":"late","chunks":[]}}`)
	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatalf("first event never delivered")
	}

	if err := ch.Send(Request{FileName: "a.wav"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	deadline := time.After(waitTimeout)
	for !ch.Dead() {
		select {
		case <-deadline:
			t.Fatalf("channel never failed")
		case <-time.After(time.Millisecond):
		}
	}
	close(release)

	rec.waitFor(t, 2)
	time.Sleep(50 * time.Millisecond)
	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected ready then error, got %#v", events)
	}
	if _, ok := events[0].(ReadyEvent); !ok {
		t.Fatalf("expected ReadyEvent first, got %T", events[0])
	}
	if _, ok := events[1].(ErrorEvent); !ok {
		t.Fatalf("expected terminal ErrorEvent, got %T", events[1])
	}
}
