// Package genai provides the language model collaborators of CitaBot: chat
// completion clients (OpenAI-compatible and Gemini), speech to text, the
// AI-assisted name check and structured extraction of admin bookings.

package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	// ErrNoChoicesReturned is returned when the completion carries no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyResponse is returned when the model answered with blank text.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrAPIKeyNotSet is returned by constructors called without a key.
	ErrAPIKeyNotSet = errors.New("API key not set")
)

const (
	DefaultModel       = "llama-3.3-70b-versatile"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 500
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation sent to a model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ClientInterface is implemented by every chat backend.
type ClientInterface interface {
	// GeneratePromptWithContext answers a single user prompt under a system prompt.
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// GenerateWithMessages answers the last message of a conversation.
	GenerateWithMessages(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the OpenAI-compatible client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	DebugMode   bool
	StateDir    string
}

// Option configures a Client.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint such as Groq.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the length of each answer.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode dumps every request and response under <stateDir>/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory used for debug dumps.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	debugMode   bool
	stateDir    string
}

var _ ClientInterface = (*Client)(nil)

// NewClient initializes a chat client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	o := Opts{Model: DefaultModel, Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&o)
	}
	if o.APIKey == "" {
		return nil, fmt.Errorf("openai client: %w", ErrAPIKeyNotSet)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(o.APIKey)}
	if o.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	return &Client{
		chat:        completionsAdapter{svc: &cli.Chat.Completions},
		model:       o.Model,
		temperature: o.Temperature,
		maxTokens:   o.MaxTokens,
		debugMode:   o.DebugMode,
		stateDir:    o.StateDir,
	}, nil
}

// GeneratePrompt is GeneratePromptWithContext without a deadline.
func (c *Client) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return c.GeneratePromptWithContext(context.Background(), systemPrompt, userPrompt)
}

// GeneratePromptWithContext generates a response for a system and user prompt.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, "GeneratePromptWithContext", systemPrompt, []Message{{Role: RoleUser, Content: userPrompt}})
}

// GenerateWithMessages generates a response for a conversation.
func (c *Client) GenerateWithMessages(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	return c.complete(ctx, "GenerateWithMessages", systemPrompt, messages)
}

func (c *Client) complete(ctx context.Context, method, systemPrompt string, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    buildMessages(systemPrompt, messages),
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Warn("genai Client chat completion failed", "method", method, "model", c.model, "error", err)
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("genai Client chat completion", "method", method, "model", c.model, "messages", len(messages), "length", len(content), "elapsed", time.Since(start))
	c.debugLog(method, systemPrompt, messages, content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func buildMessages(systemPrompt string, messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for _, m := range messages {
		if m.Role == RoleAssistant {
			out = append(out, openai.AssistantMessage(m.Content))
			continue
		}
		out = append(out, openai.UserMessage(m.Content))
	}
	return out
}

// debugLog writes one JSON file per call when debug mode is enabled.
func (c *Client) debugLog(method, systemPrompt string, messages []Message, response string) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("genai Client debugLog mkdir failed", "dir", dir, "error", err)
		return
	}
	now := time.Now()
	entry := map[string]any{
		"timestamp": now.Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params": map[string]any{
			"system":      systemPrompt,
			"messages":    messages,
			"temperature": c.temperature,
			"max_tokens":  c.maxTokens,
		},
		"response": response,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("genai Client debugLog marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("genai Client debugLog write failed", "error", err)
	}
}
