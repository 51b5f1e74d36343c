package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// ServiceName is the gRPC service the worker registers and reports health for.
	ServiceName = "whisperrelay.Worker"

	sessionMethod = "/" + ServiceName + "/Session"
	codecName     = "json"

	defaultHealthTimeout = 5 * time.Second
)

// ErrNotServing is returned when the worker health check does not report SERVING.
var ErrNotServing = errors.New("worker is not serving")

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries protocol frames as JSON over gRPC. It is selected per call with
// the "json" content subtype so proto services (health) on the same server keep
// their default codec.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

var sessionStreamDesc = grpc.StreamDesc{
	StreamName:    "Session",
	ServerStreams: true,
	ClientStreams: true,
}

// GRPCTransport connects to a worker that serves RegisterGRPCServer.
type GRPCTransport struct {
	Target        string
	DialOptions   []grpc.DialOption
	HealthTimeout time.Duration
}

// Open dials the worker, waits for a SERVING health report and opens the session stream.
func (t GRPCTransport) Open(ctx context.Context) (Conn, error) {
	if strings.TrimSpace(t.Target) == "" {
		return nil, errors.New("worker address is required")
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, t.DialOptions...)
	conn, err := grpc.NewClient(t.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial worker %s: %w", t.Target, err)
	}

	timeout := t.HealthTimeout
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	healthCtx, cancelHealth := context.WithTimeout(ctx, timeout)
	resp, err := healthgrpc.NewHealthClient(conn).Check(healthCtx, &healthgrpc.HealthCheckRequest{Service: ServiceName}, grpc.WaitForReady(true))
	cancelHealth()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("worker health check: %w", err)
	}
	if resp.GetStatus() != healthgrpc.HealthCheckResponse_SERVING {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotServing, resp.GetStatus())
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := conn.NewStream(streamCtx, &sessionStreamDesc, sessionMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("open worker session: %w", err)
	}
	return &grpcConn{conn: conn, stream: stream, cancel: cancel}, nil
}

type grpcConn struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
}

func (c *grpcConn) Send(req Request) error {
	if err := c.stream.SendMsg(&req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

func (c *grpcConn) Recv() ([]byte, error) {
	var frame json.RawMessage
	if err := c.stream.RecvMsg(&frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerExited, err)
	}
	return frame, nil
}

func (c *grpcConn) Close() error {
	c.cancel()
	return c.conn.Close()
}
