package genai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrEmptyTranscription is returned for empty audio or a blank transcript.
var ErrEmptyTranscription = errors.New("empty transcription")

// DefaultSTTModel is the Whisper model served by Groq.
const DefaultSTTModel = "whisper-large-v3"

// Transcriber turns a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimetype string) (string, error)
}

type transcriptionService interface {
	New(ctx context.Context, body openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

// WhisperTranscriber calls an OpenAI-compatible audio transcription endpoint.
type WhisperTranscriber struct {
	svc      transcriptionService
	model    string
	language string
}

var _ Transcriber = (*WhisperTranscriber)(nil)

// NewWhisperTranscriber builds a transcriber. Only WithAPIKey, WithBaseURL
// and WithModel are honored.
func NewWhisperTranscriber(opts ...Option) (*WhisperTranscriber, error) {
	o := Opts{Model: DefaultSTTModel}
	for _, opt := range opts {
		opt(&o)
	}
	if o.APIKey == "" {
		return nil, fmt.Errorf("whisper transcriber: %w", ErrAPIKeyNotSet)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(o.APIKey)}
	if o.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	return &WhisperTranscriber{svc: &cli.Audio.Transcriptions, model: o.Model, language: "es"}, nil
}

// Transcribe uploads the audio and returns the trimmed transcript.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, mimetype string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyTranscription
	}
	if mimetype == "" {
		mimetype = "audio/ogg"
	}
	params := openai.AudioTranscriptionNewParams{
		File:        openai.File(bytes.NewReader(audio), "voice"+extensionFor(mimetype), mimetype),
		Model:       openai.AudioModel(w.model),
		Language:    openai.String(w.language),
		Temperature: openai.Float(0),
	}
	resp, err := w.svc.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyTranscription
	}
	slog.Debug("genai WhisperTranscriber transcribed", "bytes", len(audio), "length", len(text))
	return text, nil
}

func extensionFor(mimetype string) string {
	base, _, _ := strings.Cut(mimetype, ";")
	switch strings.TrimSpace(base) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	default:
		return ".ogg"
	}
}
