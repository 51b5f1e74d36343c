package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
)

// Session is the worker-side view of one connected client.
type Session interface {
	// Recv returns the next request, or io.EOF once the client stopped sending.
	Recv() (Request, error)
	Send(e Event) error
}

// Handler serves one client session until it ends.
type Handler func(ctx context.Context, s Session) error

type sessionServer interface {
	serve(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*sessionServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    sessionStreamDesc.StreamName,
			ServerStreams: true,
			ClientStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(sessionServer).serve(stream)
			},
		},
	},
	Metadata: "whisperrelay/worker",
}

// RegisterGRPCServer exposes h as the worker session service on s.
func RegisterGRPCServer(s *grpc.Server, h Handler) {
	s.RegisterService(&serviceDesc, &grpcService{handler: h})
}

type grpcService struct {
	handler Handler
}

func (g *grpcService) serve(stream grpc.ServerStream) error {
	return g.handler(stream.Context(), &grpcSession{stream: stream})
}

type grpcSession struct {
	stream grpc.ServerStream
}

func (s *grpcSession) Recv() (Request, error) {
	var req Request
	if err := s.stream.RecvMsg(&req); err != nil {
		return Request{}, err
	}
	return req, nil
}

func (s *grpcSession) Send(e Event) error {
	payload, err := EncodeEvent(e)
	if err != nil {
		return err
	}
	frame := json.RawMessage(payload)
	return s.stream.SendMsg(&frame)
}

// ServeStdio runs h over newline-delimited JSON: requests from r, events to w.
func ServeStdio(ctx context.Context, r io.Reader, w io.Writer, h Handler) error {
	return h(ctx, &stdioSession{in: bufio.NewReader(r), out: w})
}

type stdioSession struct {
	in *bufio.Reader

	mu  sync.Mutex
	out io.Writer
}

func (s *stdioSession) Recv() (Request, error) {
	for {
		line, err := s.in.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var req Request
			if decodeErr := json.Unmarshal(trimmed, &req); decodeErr != nil {
				return Request{}, fmt.Errorf("decode request: %w", decodeErr)
			}
			return req, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Request{}, io.EOF
			}
			return Request{}, fmt.Errorf("read request: %w", err)
		}
	}
}

func (s *stdioSession) Send(e Event) error {
	payload, err := EncodeEvent(e)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
