package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// ProcessTransport runs the worker as a child process speaking newline-delimited
// JSON: requests on its stdin, events on its stdout. Stderr lines are logged.
type ProcessTransport struct {
	Path   string
	Args   []string
	Env    []string
	Dir    string
	Logger *slog.Logger
}

// Open starts the worker process.
func (t ProcessTransport) Open(ctx context.Context) (Conn, error) {
	if strings.TrimSpace(t.Path) == "" {
		return nil, errors.New("worker command is required")
	}
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker.process", "command", t.Path)

	cmd := exec.CommandContext(ctx, t.Path, t.Args...)
	cmd.Dir = t.Dir
	if len(t.Env) > 0 {
		cmd.Env = t.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %q: %w", t.Path, err)
	}
	logger.Debug("worker process started", "pid", cmd.Process.Pid)

	c := &processConn{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		logger: logger,
		logged: make(chan struct{}),
	}
	go c.forwardStderr(stderr)
	return c, nil
}

type processConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	logger *slog.Logger

	writeMu sync.Mutex

	// logged closes once stderr hit EOF; Wait must not run before that.
	logged   chan struct{}
	waitOnce sync.Once
	waitErr  error
}

func (c *processConn) Send(req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(payload); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

func (c *processConn) Recv() ([]byte, error) {
	for {
		line, err := c.stdout.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			return trimmed, nil
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read event: %w", err)
		}
		if waitErr := c.wait(); waitErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrWorkerExited, waitErr)
		}
		return nil, ErrWorkerExited
	}
}

func (c *processConn) Close() error {
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	err := c.wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// killed on request
		return nil
	}
	return err
}

func (c *processConn) wait() error {
	c.waitOnce.Do(func() {
		<-c.logged
		c.waitErr = c.cmd.Wait()
	})
	return c.waitErr
}

func (c *processConn) forwardStderr(r io.Reader) {
	defer close(c.logged)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			c.logger.Info("worker stderr", "line", line)
		}
	}
}
