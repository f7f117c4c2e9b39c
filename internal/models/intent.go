package models

import "strings"

// Intent is the closed set of classifications that drive flow dispatch.
type Intent string

const (
	IntentGreeting    Intent = "GREETING"
	IntentBook        Intent = "BOOK"
	IntentCancel      Intent = "CANCEL"
	IntentLocation    Intent = "LOCATION"
	IntentHours       Intent = "HOURS"
	IntentHandoff     Intent = "HUMAN_HANDOFF"
	IntentSpecialties Intent = "SPECIALTIES"
	IntentPricing     Intent = "PRICING"
	IntentLLMFallback Intent = "LLM_FALLBACK"
	IntentOther       Intent = "OTHER"
)

// AllIntents lists every intent in dispatch priority order.
var AllIntents = []Intent{
	IntentGreeting,
	IntentBook,
	IntentCancel,
	IntentLocation,
	IntentHours,
	IntentHandoff,
	IntentSpecialties,
	IntentPricing,
	IntentLLMFallback,
	IntentOther,
}

// intentAliases maps the Spanish tags used by the clinic staff and older prompts.
var intentAliases = map[string]Intent{
	"SALUDO":         IntentGreeting,
	"RESERVA":        IntentBook,
	"CANCELAR":       IntentCancel,
	"UBICACION":      IntentLocation,
	"HORARIO":        IntentHours,
	"DERIVA_MEDICO":  IntentHandoff,
	"ESPECIALIDADES": IntentSpecialties,
	"PRECIOS":        IntentPricing,
	"GEMINI":         IntentLLMFallback,
	"OTRO":           IntentOther,
}

// ParseIntent converts free text such as an LLM answer into an Intent.
// Matching is case-insensitive and ignores surrounding whitespace and punctuation.
func ParseIntent(s string) (Intent, bool) {
	tag := strings.ToUpper(strings.Trim(strings.TrimSpace(s), " .,;:!\"'`*"))
	tag = strings.ReplaceAll(tag, "Ó", "O")
	if tag == "" {
		return "", false
	}
	for _, in := range AllIntents {
		if string(in) == tag {
			return in, true
		}
	}
	if in, ok := intentAliases[tag]; ok {
		return in, true
	}
	return "", false
}
