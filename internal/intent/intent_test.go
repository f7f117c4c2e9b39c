package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/CitaBot/internal/genai"
	"github.com/BTreeMap/CitaBot/internal/models"
)

type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func (f *fakeLLM) GenerateWithMessages(ctx context.Context, systemPrompt string, messages []genai.Message) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestCancelKeywordSkipsLLM(t *testing.T) {
	llm := &fakeLLM{reply: "SALUDO"}
	c := New(WithLLM(llm))

	d := c.Classify(context.Background(), "Quiero CANCELAR mi cita!!")
	if d.Intent != models.IntentCancel || d.Stage != StageFuzzy {
		t.Fatalf("decision = %+v, want CANCEL from the fuzzy stage", d)
	}
	if d.Keyword != "cancelar mi cita" {
		t.Errorf("tie should go to the longer phrase, got %q", d.Keyword)
	}
	if llm.calls != 0 {
		t.Errorf("LLM called %d times for a keyword hit", llm.calls)
	}
}

func TestFuzzyToleratesTypos(t *testing.T) {
	c := New()
	tests := []struct {
		in   string
		want models.Intent
	}{
		{"reservaar una cita", models.IntentBook},
		{"cual es el orario", models.IntentHours},
		{"ubicasion porfa", models.IntentLocation},
		{"Buenos días", models.IntentGreeting},
		{"cuánto cuesta una limpieza", models.IntentPricing},
	}
	for _, tt := range tests {
		d := c.Classify(context.Background(), tt.in)
		if d.Intent != tt.want || d.Stage != StageFuzzy {
			t.Errorf("Classify(%q) = %+v, want %s from fuzzy", tt.in, d, tt.want)
		}
	}
}

func TestShortPhrasesNeedExactMatch(t *testing.T) {
	c := New()
	d := c.Classify(context.Background(), "holaaa")
	if d.Intent != models.IntentGreeting || d.Stage != StageSubstring {
		t.Errorf("decision = %+v, want GREETING from the substring stage", d)
	}
}

func TestSubstringTally(t *testing.T) {
	c := New(WithKeywords([]Keyword{
		{"ab", models.IntentBook},
		{"cd", models.IntentCancel},
		{"ef", models.IntentCancel},
	}))
	d := c.Classify(context.Background(), "xxabxx xxcdxx xxefxx")
	if d.Intent != models.IntentCancel || d.Stage != StageSubstring || d.Score != 2 {
		t.Errorf("decision = %+v, want CANCEL with 2 hits", d)
	}
}

func TestLLMStage(t *testing.T) {
	ctx := context.Background()
	const nonsense = "blorf qwpz zzkx"

	tests := []struct {
		name   string
		llm    *fakeLLM
		want   models.Intent
		reason string
	}{
		{"valid tag", &fakeLLM{reply: " deriva_medico \n"}, models.IntentHandoff, ""},
		{"english tag", &fakeLLM{reply: "PRICING"}, models.IntentPricing, ""},
		{"error", &fakeLLM{err: errors.New("timeout")}, models.IntentLLMFallback, ReasonLLMError},
		{"empty", &fakeLLM{reply: "  "}, models.IntentLLMFallback, ReasonLLMEmpty},
		{"invalid", &fakeLLM{reply: "Claro, te ayudo"}, models.IntentLLMFallback, ReasonLLMInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(WithLLM(tt.llm)).Classify(ctx, nonsense)
			if d.Intent != tt.want || d.Stage != StageLLM || d.Reason != tt.reason {
				t.Errorf("decision = %+v, want %s (%q)", d, tt.want, tt.reason)
			}
			if tt.llm.calls != 1 {
				t.Errorf("LLM calls = %d, want 1", tt.llm.calls)
			}
		})
	}

	d := New().Classify(ctx, nonsense)
	if d.Intent != models.IntentLLMFallback || d.Reason != ReasonLLMUnavailable {
		t.Errorf("without a model: %+v", d)
	}

	d = New(WithLLM(&fakeLLM{reply: "OTRO"})).Classify(ctx, "¿?¡!")
	if d.Intent != models.IntentOther {
		t.Errorf("punctuation-only message should reach the model: %+v", d)
	}
}

func TestObserver(t *testing.T) {
	var seen []Decision
	c := New(WithObserver(func(d Decision) { seen = append(seen, d) }))
	c.Classify(context.Background(), "hola")
	if len(seen) != 1 || seen[0].Intent != models.IntentGreeting {
		t.Errorf("observer saw %+v", seen)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  ¡Hóla,   Señor! "); got != "hola senor" {
		t.Errorf("Normalize = %q", got)
	}
}
