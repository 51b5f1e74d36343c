package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"whisper-relay/internal/domain"
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stderr   string   `json:"stderr"`
}

// DecodeError is a stage-aware decode failure with optional command context.
type DecodeError struct {
	Stage   string     `json:"stage"`
	Message string     `json:"message"`
	Log     CommandLog `json:"log"`
	Err     error      `json:"-"`
}

// Error formats decode failures for logs and UI.
func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Log.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s (cmd=%s exit=%d)", e.Stage, e.Message, e.Log.Command, e.Log.ExitCode)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.Bytes(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Decoder turns media files into Buffers at domain.SampleRate using ffprobe and ffmpeg.
type Decoder struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	readFile    func(name string) ([]byte, error)
	writeFile   func(name string, data []byte, perm os.FileMode) error
}

// NewDecoder constructs the production decoder with OS dependencies.
func NewDecoder() *Decoder {
	return &Decoder{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		runner:      &execRunner{},
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		readFile:    os.ReadFile,
		writeFile:   os.WriteFile,
	}
}

// DecodeFile decodes a media file, keeping its channel layout.
func (d *Decoder) DecodeFile(ctx context.Context, path string) (Buffer, error) {
	if strings.TrimSpace(path) == "" {
		return Buffer{}, &DecodeError{Stage: "probe", Message: "input path is required"}
	}

	channels, err := d.probeChannels(ctx, path)
	if err != nil {
		return Buffer{}, err
	}

	tempDir, err := d.mkdirTemp("", "whisper-relay-decode-*")
	if err != nil {
		return Buffer{}, &DecodeError{Stage: "decode", Message: "failed to create temporary workspace", Err: err}
	}
	defer func() { _ = d.removeAll(tempDir) }()

	outPath := filepath.Join(tempDir, "samples.f32")
	args := buildDecodeArgs(path, outPath, channels)
	res, runErr := d.runner.Run(ctx, d.ffmpegPath, args...)
	log := CommandLog{Command: d.ffmpegPath, Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr}
	if runErr != nil {
		return Buffer{}, &DecodeError{Stage: "decode", Message: "ffmpeg audio conversion failed", Log: log, Err: runErr}
	}

	raw, err := d.readFile(outPath)
	if err != nil {
		return Buffer{}, &DecodeError{Stage: "decode", Message: "ffmpeg completed but output is missing", Log: log, Err: err}
	}

	return Buffer{
		SampleRate: domain.SampleRate,
		Channels:   Deinterleave(bytesToFloat32(raw), channels),
	}, nil
}

// DecodeBytes writes data to a temporary file and decodes it.
func (d *Decoder) DecodeBytes(ctx context.Context, data []byte, mimeType string) (Buffer, error) {
	tempDir, err := d.mkdirTemp("", "whisper-relay-input-*")
	if err != nil {
		return Buffer{}, &DecodeError{Stage: "decode", Message: "failed to create temporary workspace", Err: err}
	}
	defer func() { _ = d.removeAll(tempDir) }()

	inPath := filepath.Join(tempDir, "input"+extensionForMIME(mimeType))
	if err := d.writeFile(inPath, data, 0o644); err != nil {
		return Buffer{}, &DecodeError{Stage: "decode", Message: "failed to stage input", Err: err}
	}
	return d.DecodeFile(ctx, inPath)
}

// probeChannels asks ffprobe for the channel count of the first audio stream.
func (d *Decoder) probeChannels(ctx context.Context, path string) (int, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=channels",
		"-of", "csv=p=0",
		path,
	}
	res, err := d.runner.Run(ctx, d.ffprobePath, args...)
	log := CommandLog{Command: d.ffprobePath, Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr}
	if err != nil {
		return 0, &DecodeError{Stage: "probe", Message: "ffprobe failed", Log: log, Err: err}
	}

	channels, err := strconv.Atoi(strings.TrimSpace(string(res.Stdout)))
	if err != nil || channels <= 0 {
		return 0, &DecodeError{Stage: "probe", Message: "input has no audio stream", Log: log, Err: ErrNoChannels}
	}
	return channels, nil
}

// buildDecodeArgs builds ffmpeg args for raw little-endian float32 at the fixed rate.
func buildDecodeArgs(inputPath, outPath string, channels int) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(domain.SampleRate),
		"-f", "f32le",
		outPath,
	}
}

func bytesToFloat32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// extensionForMIME gives ffmpeg a filename hint for the container format.
func extensionForMIME(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0])) {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/mp4", "audio/x-m4a", "video/mp4":
		return ".m4a"
	default:
		return ".bin"
	}
}

// NewDecoderForTests constructs a decoder with injectable dependencies.
func NewDecoderForTests(runner commandRunner, mkdirTemp func(dir, pattern string) (string, error), removeAll func(path string) error) *Decoder {
	return &Decoder{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		runner:      runner,
		mkdirTemp:   mkdirTemp,
		removeAll:   removeAll,
		readFile:    os.ReadFile,
		writeFile:   os.WriteFile,
	}
}
