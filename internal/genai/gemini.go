package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	gemini "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model id is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiOpts holds configuration for GeminiClient.
type GeminiOpts struct {
	Model       string
	Temperature float32
	MaxTokens   int32
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*GeminiOpts)

// WithGeminiModel sets the model id.
func WithGeminiModel(model string) GeminiOption {
	return func(o *GeminiOpts) { o.Model = model }
}

// WithGeminiTemperature sets the sampling temperature.
func WithGeminiTemperature(t float32) GeminiOption {
	return func(o *GeminiOpts) { o.Temperature = t }
}

// WithGeminiMaxTokens caps the answer length.
func WithGeminiMaxTokens(n int32) GeminiOption {
	return func(o *GeminiOpts) { o.MaxTokens = n }
}

// GeminiClient implements ClientInterface on Google's Gemini API. It holds
// one SDK client per API key and fails over to the next key when a call errors.
type GeminiClient struct {
	clients []*gemini.Client
	opts    GeminiOpts
}

var _ ClientInterface = (*GeminiClient)(nil)

// NewGeminiClient creates a client for the given API keys, tried in order.
func NewGeminiClient(ctx context.Context, apiKeys []string, opts ...GeminiOption) (*GeminiClient, error) {
	o := GeminiOpts{Model: DefaultGeminiModel, Temperature: 0.7, MaxTokens: 300}
	for _, opt := range opts {
		opt(&o)
	}
	if strings.TrimSpace(o.Model) == "" {
		o.Model = DefaultGeminiModel
	}

	g := &GeminiClient{opts: o}
	for _, key := range apiKeys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		cli, err := gemini.NewClient(ctx, option.WithAPIKey(key))
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		g.clients = append(g.clients, cli)
	}
	if len(g.clients) == 0 {
		return nil, fmt.Errorf("gemini client: %w", ErrAPIKeyNotSet)
	}
	return g, nil
}

// GeneratePromptWithContext answers a single prompt.
func (g *GeminiClient) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.GenerateWithMessages(ctx, systemPrompt, []Message{{Role: RoleUser, Content: userPrompt}})
}

// GenerateWithMessages sends all messages but the last as chat history and
// the last one as the new turn.
func (g *GeminiClient) GenerateWithMessages(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("gemini requires at least one message")
	}
	var lastErr error
	for i, cli := range g.clients {
		text, err := g.send(ctx, cli, systemPrompt, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err
		slog.Warn("genai GeminiClient key failed", "key_index", i, "error", err)
	}
	return "", lastErr
}

func (g *GeminiClient) send(ctx context.Context, cli *gemini.Client, systemPrompt string, messages []Message) (string, error) {
	model := cli.GenerativeModel(g.opts.Model)
	model.SetTemperature(g.opts.Temperature)
	if g.opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(g.opts.MaxTokens)
	}
	if strings.TrimSpace(systemPrompt) != "" {
		model.SystemInstruction = gemini.NewUserContent(gemini.Text(systemPrompt))
	}

	cs := model.StartChat()
	for _, m := range messages[:len(messages)-1] {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &gemini.Content{Role: role, Parts: []gemini.Part{gemini.Text(content)}})
	}

	resp, err := cs.SendMessage(ctx, gemini.Text(messages[len(messages)-1].Content))
	if err != nil {
		return "", fmt.Errorf("failed to send gemini message: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoChoicesReturned
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(gemini.Text); ok {
			b.WriteString(string(t))
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Close releases the SDK clients.
func (g *GeminiClient) Close() error {
	var errs []error
	for _, cli := range g.clients {
		if err := cli.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
