package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	"whisper-relay/internal/config"
	"whisper-relay/internal/transcribe"
	"whisper-relay/internal/worker"
)

const (
	modeStdio = "stdio"
	modeGRPC  = "grpc"

	backendWhisperCPP = "whispercpp"
	backendOpenAI     = "openai"
)

type options struct {
	mode       string
	listen     string
	backend    string
	whisperBin string
	threads    int
	openAIURL  string
	modelDir   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Loader{Store: config.NewFileStore(config.DefaultSettingsPath())}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	opts := options{}
	flag.StringVar(&opts.mode, "mode", modeStdio, "transport: stdio or grpc")
	flag.StringVar(&opts.listen, "listen", cfg.Worker.Address, "gRPC listen address")
	flag.StringVar(&opts.backend, "backend", envOr("WHISPER_RELAY_BACKEND", backendWhisperCPP), "inference backend: whispercpp or openai")
	flag.StringVar(&opts.whisperBin, "whisper-bin", transcribe.DefaultWhisperBinary, "whisper.cpp CLI")
	flag.IntVar(&opts.threads, "threads", 0, "whisper.cpp threads (0 = tool default)")
	flag.StringVar(&opts.openAIURL, "openai-base-url", os.Getenv("OPENAI_BASE_URL"), "OpenAI API base URL")
	flag.StringVar(&opts.modelDir, "models", cfg.ModelDir, "model directory")
	flag.Parse()

	// stdout carries the protocol in stdio mode.
	logger := config.NewLogger(os.Stderr, cfg.LogLevel).With("process", "worker")
	logger.Info("starting worker", "mode", opts.mode, "backend", opts.backend, "model_dir", opts.modelDir)

	backend, err := newBackend(opts)
	if err != nil {
		logger.Error("failed to initialise backend", "error", err)
		os.Exit(1)
	}
	store := transcribe.NewModelStore(opts.modelDir, nil, logger)
	handler := func(ctx context.Context, s worker.Session) error {
		return transcribe.NewWorker(store, backend, logger).Serve(ctx, s)
	}

	switch opts.mode {
	case modeStdio:
		err = worker.ServeStdio(ctx, os.Stdin, os.Stdout, handler)
	case modeGRPC:
		err = serveGRPC(ctx, opts.listen, handler, logger)
	default:
		err = fmt.Errorf("unknown mode %q", opts.mode)
	}
	if err != nil {
		logger.Error("worker terminated with error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func newBackend(opts options) (transcribe.Backend, error) {
	switch opts.backend {
	case backendWhisperCPP:
		return transcribe.NewWhisperCPP(opts.whisperBin, opts.threads), nil
	case backendOpenAI:
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the openai backend")
		}
		return transcribe.NewOpenAI(transcribe.OpenAIConfig{APIKey: key, BaseURL: opts.openAIURL}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.backend)
	}
}

func serveGRPC(ctx context.Context, addr string, handler worker.Handler, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}
	defer lis.Close()

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, healthServer)

	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(worker.ServiceName, healthgrpc.HealthCheckResponse_NOT_SERVING)

	worker.RegisterGRPCServer(grpcServer, handler)

	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(worker.ServiceName, healthgrpc.HealthCheckResponse_SERVING)
	logger.Info("gRPC worker listening", "addr", lis.Addr().String())

	go func() {
		<-ctx.Done()
		logger.Info("shutdown requested, stopping gRPC server")
		healthServer.SetServingStatus(worker.ServiceName, healthgrpc.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			logger.Warn("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
