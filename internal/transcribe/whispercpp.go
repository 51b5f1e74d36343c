package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"whisper-relay/internal/audio"
	"whisper-relay/internal/domain"
)

// DefaultWhisperBinary is the whisper.cpp CLI looked up on PATH.
const DefaultWhisperBinary = "whisper-cli"

var segmentLine = regexp.MustCompile(`^\[(\d+):(\d{2}):(\d{2})\.(\d{3}) --> (\d+):(\d{2}):(\d{2})\.(\d{3})\]\s*(.*)$`)

// WhisperCPP runs the whisper.cpp command line tool on a temporary WAV file.
type WhisperCPP struct {
	binary    string
	threads   int
	runner    commandRunner
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	readFile  func(name string) ([]byte, error)
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// NewWhisperCPP constructs the production backend. An empty binary uses DefaultWhisperBinary.
func NewWhisperCPP(binary string, threads int) *WhisperCPP {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultWhisperBinary
	}
	return &WhisperCPP{
		binary:    binary,
		threads:   threads,
		runner:    &execRunner{},
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		readFile:  os.ReadFile,
		writeFile: os.WriteFile,
	}
}

func (w *WhisperCPP) Name() string     { return "whisper.cpp" }
func (w *WhisperCPP) NeedsModel() bool { return true }

// Transcribe writes the samples as WAV, runs whisper.cpp and reads its JSON output.
// Segment lines printed on stdout are forwarded to onChunk while the tool runs.
func (w *WhisperCPP) Transcribe(ctx context.Context, job Job, onChunk func(domain.Chunk)) (Result, error) {
	if strings.TrimSpace(job.ModelPath) == "" {
		return Result{}, &PipelineError{Stage: StageTranscribe, Message: "model path is required"}
	}

	tempDir, err := w.mkdirTemp("", "whisper-relay-job-*")
	if err != nil {
		return Result{}, &PipelineError{Stage: StageTranscribe, Message: "failed to create temporary workspace", Err: err}
	}
	defer func() { _ = w.removeAll(tempDir) }()

	wavPath := filepath.Join(tempDir, "input.wav")
	if err := w.writeFile(wavPath, audio.EncodeWAV(job.Samples, domain.SampleRate), 0o644); err != nil {
		return Result{}, &PipelineError{Stage: StageTranscribe, Message: "failed to write audio", Err: err}
	}

	outBase := filepath.Join(tempDir, "transcript")
	args := buildWhisperArgs(job.ModelPath, wavPath, outBase, job.Language, job.Translate, w.threads)
	onLine := func(line string) {
		if chunk, ok := parseSegmentLine(line); ok && onChunk != nil {
			onChunk(chunk)
		}
	}

	res, runErr := w.runner.Run(ctx, onLine, w.binary, args...)
	log := CommandLog{
		Command:  w.binary,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	if runErr != nil {
		return Result{}, &PipelineError{
			Stage:      StageTranscribe,
			Message:    "whisper.cpp transcription failed",
			CommandLog: log,
			Err:        runErr,
		}
	}

	raw, err := w.readFile(outBase + ".json")
	if err != nil {
		return Result{}, &PipelineError{
			Stage:      StageExport,
			Message:    "whisper.cpp completed but transcript .json file is missing",
			CommandLog: log,
			Err:        err,
		}
	}
	chunks, err := parseWhisperJSON(raw)
	if err != nil {
		return Result{}, &PipelineError{
			Stage:      StageExport,
			Message:    "failed to parse whisper.cpp output",
			CommandLog: log,
			Err:        err,
		}
	}

	return Result{Text: joinChunks(chunks), Chunks: chunks}, nil
}

// buildWhisperArgs builds whisper.cpp args for JSON transcript export.
func buildWhisperArgs(modelPath, audioPath, outBase, language string, translate bool, threads int) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
	}
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}
	if translate {
		args = append(args, "--translate")
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	return args
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, domain.LanguageAuto) {
		return ""
	}
	return lang
}

// parseSegmentLine reads "[00:00:00.000 --> 00:00:02.500]  text" progress lines.
func parseSegmentLine(line string) (domain.Chunk, bool) {
	m := segmentLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return domain.Chunk{}, false
	}
	start := clockSeconds(m[1], m[2], m[3], m[4])
	end := clockSeconds(m[5], m[6], m[7], m[8])
	return domain.Chunk{Text: strings.TrimSpace(m[9]), Start: start, End: &end}, true
}

func clockSeconds(h, m, s, ms string) float64 {
	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)
	seconds, _ := strconv.Atoi(s)
	millis, _ := strconv.Atoi(ms)
	return float64(hours*3600+minutes*60+seconds) + float64(millis)/1000
}

type whisperOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseWhisperJSON converts whisper.cpp -oj output into chunks.
func parseWhisperJSON(raw []byte) ([]domain.Chunk, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode whisper.cpp json: %w", err)
	}
	chunks := make([]domain.Chunk, 0, len(out.Transcription))
	for _, seg := range out.Transcription {
		end := float64(seg.Offsets.To) / 1000
		chunks = append(chunks, domain.Chunk{
			Text:  strings.TrimSpace(seg.Text),
			Start: float64(seg.Offsets.From) / 1000,
			End:   &end,
		})
	}
	return chunks, nil
}

