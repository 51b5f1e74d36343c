package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrChannelClosed is returned by Send once the channel is closed or has failed.
var ErrChannelClosed = errors.New("worker channel closed")

// Channel is the single conduit between the engine and one worker. Requests are
// queued without blocking; events are delivered to the registered handler one at
// a time in the order the worker emitted them.
type Channel struct {
	transport Transport
	logger    *slog.Logger

	mu      sync.Mutex
	handler func(Event)
	outbox  []Request
	started bool
	dead    bool
	closing bool
	conn    Conn
	cancel  context.CancelFunc

	wake      chan struct{}
	deliverMu sync.Mutex
	failOnce  sync.Once
	wg        sync.WaitGroup
}

// NewChannel wraps transport. The worker is not contacted until Start.
func NewChannel(transport Transport, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		transport: transport,
		logger:    logger.With("component", "worker.Channel"),
		wake:      make(chan struct{}, 1),
	}
}

// OnEvent registers the event handler, replacing any previous one. The handler
// runs on the channel's reader goroutine and must not call Close.
func (c *Channel) OnEvent(h func(Event)) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Start opens the worker in the background. An open failure is reported as a
// single ErrorEvent. Calling Start again is a no-op.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.dead {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx)
}

// Send queues req for the worker and returns immediately. Requests queued before
// the worker is open are sent once it is.
func (c *Channel) Send(req Request) error {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.outbox = append(c.outbox, req)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dead reports whether the channel failed or was closed.
func (c *Channel) Dead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead
}

// Close stops the worker and waits for the channel goroutines. No ErrorEvent is
// emitted for a requested close.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closing = true
	c.dead = true
	c.outbox = nil
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()

	conn, err := c.transport.Open(ctx)
	if err != nil {
		c.fail(fmt.Errorf("open worker: %w", err))
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("worker connected")

	c.wg.Add(1)
	go c.writeLoop(ctx, conn)
	c.readLoop(conn)
}

func (c *Channel) writeLoop(ctx context.Context, conn Conn) {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		if c.dead {
			c.mu.Unlock()
			return
		}
		if len(c.outbox) == 0 {
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
			}
			continue
		}
		req := c.outbox[0]
		c.outbox[0] = Request{}
		c.outbox = c.outbox[1:]
		c.mu.Unlock()

		if err := conn.Send(req); err != nil {
			c.fail(fmt.Errorf("send %q: %w", req.FileName, err))
			return
		}
		c.logger.Debug("request sent", "file_name", req.FileName, "samples", len(req.Audio))
	}
}

func (c *Channel) readLoop(conn Conn) {
	for {
		frame, err := conn.Recv()
		if err != nil {
			c.fail(err)
			return
		}
		event, err := ParseEvent(frame)
		if err != nil {
			c.logger.Warn("dropping malformed worker frame", "error", err)
			continue
		}
		if _, ok := event.(UnknownEvent); ok {
			c.logger.Debug("unknown worker event", "status", event.Status())
		}

		if !c.deliver(event) {
			return
		}
	}
}

// fail marks the channel dead and emits the terminal ErrorEvent unless the
// channel is being closed on request.
func (c *Channel) fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		closing := c.closing
		c.dead = true
		c.outbox = nil
		cancel := c.cancel
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.Close()
		}
		if closing {
			return
		}

		c.logger.Error("worker channel failed", "error", err)
		c.deliverTerminal(ErrorEvent{Message: err.Error()})
	})
}

// deliver hands e to the handler unless the channel is dead. dead is checked
// under deliverMu, so no event follows the terminal ErrorEvent. It reports
// whether the channel is still live.
func (c *Channel) deliver(e Event) bool {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	dead := c.dead
	h := c.handler
	c.mu.Unlock()
	if dead {
		return false
	}
	if h != nil {
		h(e)
	}
	return true
}

func (c *Channel) deliverTerminal(e ErrorEvent) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(e)
	}
}
