package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
	calls  int
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	m.calls++
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGeneratePrompt_Success(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completion("  Hola  ")}, model: "test-model"}
	out, err := client.GeneratePrompt("system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hola" {
		t.Errorf("expected 'Hola', got '%s'", out)
	}
}

func TestGeneratePrompt_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.GeneratePrompt("sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePrompt_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := &Client{chat: &mockChatService{resp: mockResp}}
	_, err := client.GeneratePrompt("sys", "usr")
	if err != ErrNoChoicesReturned {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestGeneratePrompt_EmptyContent(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completion("   ")}}
	_, err := client.GeneratePrompt("sys", "usr")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected empty response error, got %v", err)
	}
}

func TestGenerateWithMessages_BuildsConversation(t *testing.T) {
	mock := &mockChatService{resp: completion("ok")}
	client := &Client{chat: mock, model: "test-model", temperature: 0.2, maxTokens: 50}
	history := []Message{
		{Role: RoleUser, Content: "¿Hacen limpiezas?"},
		{Role: RoleAssistant, Content: "Sí, todos los días."},
		{Role: RoleUser, Content: "¿Cuánto cuesta?"},
	}
	if _, err := client.GenerateWithMessages(context.Background(), "Eres la asistente", history); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(mock.params.Messages); got != 4 {
		t.Fatalf("expected system plus 3 messages, got %d", got)
	}
	if mock.params.Messages[0].OfSystem == nil || mock.params.Messages[2].OfAssistant == nil {
		t.Error("roles not mapped to the right message params")
	}
	if string(mock.params.Model) != "test-model" {
		t.Errorf("model = %q", mock.params.Model)
	}
}

func TestGenerateWithMessages_NoSystemPrompt(t *testing.T) {
	mock := &mockChatService{resp: completion("ok")}
	client := &Client{chat: mock}
	if _, err := client.GeneratePromptWithContext(context.Background(), "", "hola"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.params.Messages) != 1 || mock.params.Messages[0].OfUser == nil {
		t.Errorf("expected a single user message, got %d", len(mock.params.Messages))
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected error when API key not provided, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithBaseURL("https://api.groq.com/openai/v1"), WithModel("m"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil || cli.model != "m" {
		t.Errorf("options not applied: %+v", cli)
	}
}

func TestNewGeminiClient_NoKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), []string{"", "  "})
	if !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet, got %v", err)
	}
}
