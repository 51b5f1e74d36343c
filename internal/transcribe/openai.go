package transcribe

import (
	"bytes"
	"context"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"whisper-relay/internal/audio"
	"whisper-relay/internal/domain"
)

// DefaultOpenAIModel is the hosted Whisper model.
const DefaultOpenAIModel = "whisper-1"

// OpenAIConfig configures the hosted backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // Optional, defaults to OpenAI's API
	Model   string // Optional, defaults to "whisper-1"
}

// OpenAI sends audio to the OpenAI audio API. It needs no local model file.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a hosted backend using the official SDK.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	client := openai.NewClient(opts...)
	return &OpenAI{client: &client, model: model}
}

func (o *OpenAI) Name() string     { return "openai" }
func (o *OpenAI) NeedsModel() bool { return false }

// verboseResponse is the verbose_json body shared by transcription and translation.
type verboseResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

// Transcribe uploads the samples as WAV. The API answers in one response, so
// onChunk is called once per returned segment after the request completes.
func (o *OpenAI) Transcribe(ctx context.Context, job Job, onChunk func(domain.Chunk)) (Result, error) {
	wav := audio.EncodeWAV(job.Samples, domain.SampleRate)
	file := openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav")

	var resp verboseResponse
	var err error
	if job.Translate {
		_, err = o.client.Audio.Translations.New(ctx, openai.AudioTranslationNewParams{
			File:           file,
			Model:          openai.AudioModel(o.model),
			ResponseFormat: openai.AudioTranslationNewParamsResponseFormatVerboseJSON,
		}, option.WithResponseBodyInto(&resp))
	} else {
		params := openai.AudioTranscriptionNewParams{
			File:           file,
			Model:          openai.AudioModel(o.model),
			ResponseFormat: openai.AudioResponseFormatVerboseJSON,
		}
		if lang := normalizeLanguage(job.Language); lang != "" {
			params.Language = openai.String(lang)
		}
		_, err = o.client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&resp))
	}
	if err != nil {
		return Result{}, &PipelineError{Stage: StageTranscribe, Message: "openai transcription failed", Err: err}
	}

	chunks := make([]domain.Chunk, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		end := seg.End
		chunks = append(chunks, domain.Chunk{Text: strings.TrimSpace(seg.Text), Start: seg.Start, End: &end})
	}
	if len(chunks) == 0 && strings.TrimSpace(resp.Text) != "" {
		chunks = append(chunks, domain.Chunk{Text: strings.TrimSpace(resp.Text)})
	}
	if onChunk != nil {
		for _, c := range chunks {
			onChunk(c)
		}
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		text = joinChunks(chunks)
	}
	return Result{Text: text, Chunks: chunks}, nil
}
