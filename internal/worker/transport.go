package worker

import (
	"context"
	"errors"
)

// ErrWorkerExited is returned by a Conn when the worker went away without being asked to.
var ErrWorkerExited = errors.New("worker exited")

// Transport opens a connection to one worker instance.
type Transport interface {
	Open(ctx context.Context) (Conn, error)
}

// Conn is an open, bidirectional link to a worker. Send and Recv may be called
// concurrently with each other but not with themselves.
type Conn interface {
	// Send writes one request frame.
	Send(req Request) error
	// Recv blocks until the next raw event frame arrives.
	Recv() ([]byte, error)
	// Close tears the worker link down and unblocks pending calls.
	Close() error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context) (Conn, error)

// Open calls f(ctx).
func (f TransportFunc) Open(ctx context.Context) (Conn, error) {
	return f(ctx)
}
