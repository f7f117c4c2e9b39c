package genai

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/CitaBot/internal/validate"
)

const nameCheckTimeout = 8 * time.Second

var (
	reAffirmative = regexp.MustCompile(`\b(si|yes|verdadero|true|ok)\b`)
	reNegative    = regexp.MustCompile(`^\W*(no|falso|false)\b`)
)

// NameVerdict is the outcome of a registration name check.
type NameVerdict struct {
	Valid  bool
	Reason string // user-facing, set when Valid is false
	UsedAI bool   // false when the rule-based validator decided alone
}

// NameValidator runs the rule-based name check and, when it passes, asks a
// model for confirmation. A model failure or an answer that is neither SI
// nor NO keeps the rule-based verdict.
type NameValidator struct {
	llm ClientInterface
}

// NewNameValidator creates a validator. A nil llm disables the AI step.
func NewNameValidator(llm ClientInterface) *NameValidator {
	return &NameValidator{llm: llm}
}

// Check validates a candidate name.
func (v *NameValidator) Check(ctx context.Context, name string) NameVerdict {
	if err := validate.Name(name); err != nil {
		return NameVerdict{Reason: validate.Reason(err)}
	}
	if v == nil || v.llm == nil {
		return NameVerdict{Valid: true}
	}

	ctx, cancel := context.WithTimeout(ctx, nameCheckTimeout)
	defer cancel()
	prompt := fmt.Sprintf("¿%q es un nombre de persona? Responde solo: SI o NO", name)
	answer, err := v.llm.GeneratePromptWithContext(ctx, "", prompt)
	if err != nil {
		slog.Warn("genai NameValidator model unavailable, using rules", "error", err)
		return NameVerdict{Valid: true}
	}
	folded := strings.TrimSpace(validate.Fold(answer))
	switch {
	case reAffirmative.MatchString(folded):
		return NameVerdict{Valid: true, UsedAI: true}
	case reNegative.MatchString(folded):
		return NameVerdict{Reason: "Por favor ingresa tu nombre real", UsedAI: true}
	}
	slog.Warn("genai NameValidator unparsable answer, using rules", "len", len(answer))
	return NameVerdict{Valid: true}
}
