// Package intent maps a free-text patient message to one of the closed set
// of intents that drive flow dispatch.
//
// Classification runs in three stages and stops at the first that decides:
// a fuzzy match against the keyword table, a literal substring tally over
// the same table, and finally a language model whose answer is accepted
// only when it names a known intent. Model failures never surface to the
// caller; they resolve to models.IntentLLMFallback.
package intent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/BTreeMap/CitaBot/internal/genai"
	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/validate"
)

const (
	// DefaultThreshold is the highest normalized edit distance accepted by the fuzzy stage.
	DefaultThreshold = 0.4
	// DefaultLLMTimeout bounds the model stage.
	DefaultLLMTimeout = 10 * time.Second
	// minFuzzyRunes is the shortest phrase allowed to match with edits; shorter ones must match exactly.
	minFuzzyRunes = 6
)

// Stage names the classifier stage that produced a decision.
type Stage string

const (
	StageFuzzy     Stage = "fuzzy"
	StageSubstring Stage = "substring"
	StageLLM       Stage = "llm"
)

// Fallback reasons for decisions that resolved to models.IntentLLMFallback.
const (
	ReasonLLMUnavailable = "llm_unavailable"
	ReasonLLMError       = "llm_error"
	ReasonLLMEmpty       = "llm_empty"
	ReasonLLMInvalid     = "llm_invalid"
)

// Decision is the result of one classification.
type Decision struct {
	Intent  models.Intent
	Stage   Stage
	Keyword string  // matched phrase for the keyword stages
	Score   float64 // normalized edit distance for StageFuzzy, hit count for StageSubstring
	Reason  string  // set when the model stage fell back
}

const classificationPrompt = `Eres el clasificador de intenciones del asistente de WhatsApp de una clínica dental.
Responde SOLO con una de estas etiquetas, sin explicación:
SALUDO: saludos sin otra petición.
RESERVA: quiere agendar, reservar o programar una cita.
CANCELAR: quiere cancelar o anular una cita.
UBICACION: pregunta dónde está la clínica o cómo llegar.
HORARIO: pregunta por los días u horas de atención.
DERIVA_MEDICO: pide hablar con un doctor o una persona, o describe una urgencia.
ESPECIALIDADES: pregunta por los tratamientos o especialidades.
PRECIOS: pregunta por precios, costos o descuentos.
GEMINI: cualquier otra pregunta sobre salud dental que requiera conversación.
OTRO: mensajes sin relación con la clínica.`

// Opts holds Classifier configuration.
type Opts struct {
	Keywords   []Keyword
	Threshold  float64
	LLM        genai.ClientInterface
	LLMTimeout time.Duration
	Observer   func(Decision)
}

// Option configures a Classifier.
type Option func(*Opts)

// WithKeywords replaces the keyword table.
func WithKeywords(k []Keyword) Option {
	return func(o *Opts) { o.Keywords = k }
}

// WithThreshold sets the fuzzy acceptance threshold.
func WithThreshold(t float64) Option {
	return func(o *Opts) { o.Threshold = t }
}

// WithLLM enables the model stage.
func WithLLM(llm genai.ClientInterface) Option {
	return func(o *Opts) { o.LLM = llm }
}

// WithLLMTimeout bounds a single model call.
func WithLLMTimeout(d time.Duration) Option {
	return func(o *Opts) { o.LLMTimeout = d }
}

// WithObserver is called with every decision, for metrics.
func WithObserver(fn func(Decision)) Option {
	return func(o *Opts) { o.Observer = fn }
}

type entry struct {
	phrase string
	tokens int
	runes  int
	intent models.Intent
}

// Classifier is safe for concurrent use.
type Classifier struct {
	entries    []entry
	threshold  float64
	llm        genai.ClientInterface
	llmTimeout time.Duration
	observer   func(Decision)
}

// New creates a Classifier over DefaultKeywords unless WithKeywords is given.
func New(opts ...Option) *Classifier {
	o := Opts{Keywords: DefaultKeywords, Threshold: DefaultThreshold, LLMTimeout: DefaultLLMTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Classifier{threshold: o.Threshold, llm: o.LLM, llmTimeout: o.LLMTimeout, observer: o.Observer}
	for _, k := range o.Keywords {
		p := Normalize(k.Phrase)
		if p == "" {
			continue
		}
		c.entries = append(c.entries, entry{
			phrase: p,
			tokens: len(strings.Fields(p)),
			runes:  utf8.RuneCountInString(p),
			intent: k.Intent,
		})
	}
	return c
}

// Classify resolves text to an intent. It never fails.
func (c *Classifier) Classify(ctx context.Context, text string) Decision {
	d := c.classify(ctx, text)
	slog.Debug("intent Classifier decided", "intent", d.Intent, "stage", d.Stage, "keyword", d.Keyword, "score", d.Score, "reason", d.Reason)
	if c.observer != nil {
		c.observer(d)
	}
	return d
}

func (c *Classifier) classify(ctx context.Context, text string) Decision {
	msg := Normalize(text)
	if msg != "" {
		if d, ok := c.fuzzy(msg); ok {
			return d
		}
		if d, ok := c.substring(msg); ok {
			return d
		}
	}
	return c.askLLM(ctx, text)
}

// fuzzy slides a window of each phrase's token length over the message and
// keeps the lowest normalized edit distance. Ties go to the longer phrase.
func (c *Classifier) fuzzy(msg string) (Decision, bool) {
	words := strings.Fields(msg)
	best := Decision{Score: 2}
	bestRunes := 0
	for _, e := range c.entries {
		for _, window := range windows(words, e.tokens) {
			score := distance(window, e.phrase)
			if e.runes < minFuzzyRunes && score > 0 {
				continue
			}
			if score < best.Score || (score == best.Score && e.runes > bestRunes) {
				best = Decision{Intent: e.intent, Stage: StageFuzzy, Keyword: e.phrase, Score: score}
				bestRunes = e.runes
			}
		}
	}
	if best.Score > c.threshold {
		return Decision{}, false
	}
	return best, true
}

// substring tallies literal phrase hits per intent.
func (c *Classifier) substring(msg string) (Decision, bool) {
	counts := make(map[models.Intent]int)
	first := make(map[models.Intent]string)
	var order []models.Intent
	for _, e := range c.entries {
		if !strings.Contains(msg, e.phrase) {
			continue
		}
		if counts[e.intent] == 0 {
			order = append(order, e.intent)
			first[e.intent] = e.phrase
		}
		counts[e.intent]++
	}
	if len(order) == 0 {
		return Decision{}, false
	}
	winner := order[0]
	for _, in := range order[1:] {
		if counts[in] > counts[winner] {
			winner = in
		}
	}
	return Decision{Intent: winner, Stage: StageSubstring, Keyword: first[winner], Score: float64(counts[winner])}, true
}

func (c *Classifier) askLLM(ctx context.Context, text string) Decision {
	fallback := func(reason string) Decision {
		return Decision{Intent: models.IntentLLMFallback, Stage: StageLLM, Reason: reason}
	}
	if c.llm == nil {
		return fallback(ReasonLLMUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, c.llmTimeout)
	defer cancel()

	answer, err := c.llm.GeneratePromptWithContext(ctx, classificationPrompt, text)
	if err != nil {
		slog.Warn("intent Classifier model failed", "error", err)
		return fallback(ReasonLLMError)
	}
	if strings.TrimSpace(answer) == "" {
		return fallback(ReasonLLMEmpty)
	}
	in, ok := models.ParseIntent(answer)
	if !ok {
		slog.Warn("intent Classifier model answered an unknown tag", "length", len(answer))
		return fallback(ReasonLLMInvalid)
	}
	return Decision{Intent: in, Stage: StageLLM}
}

var reNonWord = regexp.MustCompile(`[^a-z0-9\s]+`)

// Normalize lowercases text, strips diacritics and punctuation and collapses spaces.
func Normalize(text string) string {
	s := reNonWord.ReplaceAllString(validate.Fold(text), " ")
	return strings.Join(strings.Fields(s), " ")
}

// windows returns every run of n consecutive words, or the whole message
// when it is shorter than n.
func windows(words []string, n int) []string {
	if len(words) == 0 {
		return nil
	}
	if len(words) <= n {
		return []string{strings.Join(words, " ")}
	}
	out := make([]string, 0, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		out = append(out, strings.Join(words[i:i+n], " "))
	}
	return out
}

func distance(a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
}
