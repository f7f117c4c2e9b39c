// Package speller corrects the spelling of patient messages through the
// LanguageTool HTTP API before they reach the date resolver.
package speller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/tidwall/gjson"
)

const (
	// DefaultEndpoint is the public LanguageTool check endpoint.
	DefaultEndpoint = "https://api.languagetool.org/v2/check"
	// DefaultLanguage is the variant used for checks.
	DefaultLanguage = "es-ES"
	// DefaultTimeout bounds a single check.
	DefaultTimeout = 4 * time.Second
)

// Corrector rewrites text. Implementations return the input unchanged on failure.
type Corrector interface {
	Correct(ctx context.Context, text string) string
}

// Nop leaves text untouched.
type Nop struct{}

// Correct returns text.
func (Nop) Correct(_ context.Context, text string) string { return text }

// Opts holds LanguageTool client configuration.
type Opts struct {
	Endpoint string
	Language string
	Client   *http.Client
}

// Option configures a LanguageTool client.
type Option func(*Opts)

// WithEndpoint overrides the check URL, for self-hosted servers.
func WithEndpoint(u string) Option {
	return func(o *Opts) { o.Endpoint = u }
}

// WithLanguage sets the language variant.
func WithLanguage(lang string) Option {
	return func(o *Opts) { o.Language = lang }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// LanguageTool applies the first suggested replacement of every match.
type LanguageTool struct {
	endpoint string
	language string
	client   *http.Client
}

var _ Corrector = (*LanguageTool)(nil)

// NewLanguageTool creates a client for the LanguageTool check API.
func NewLanguageTool(opts ...Option) *LanguageTool {
	o := Opts{Endpoint: DefaultEndpoint, Language: DefaultLanguage}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: DefaultTimeout}
	}
	return &LanguageTool{endpoint: o.Endpoint, language: o.Language, client: o.Client}
}

// Correct returns the corrected text, or text itself when the API fails.
func (l *LanguageTool) Correct(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	out, err := l.check(ctx, text)
	if err != nil {
		slog.Warn("speller LanguageTool check failed, keeping original text", "error", err)
		return text
	}
	return out
}

type replacement struct {
	offset, length int
	value          string
}

func (l *LanguageTool) check(ctx context.Context, text string) (string, error) {
	form := url.Values{"text": {text}, "language": {l.language}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call languagetool: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read languagetool response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("languagetool returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("languagetool returned invalid JSON")
	}

	var reps []replacement
	gjson.GetBytes(body, "matches").ForEach(func(_, m gjson.Result) bool {
		value := m.Get("replacements.0.value")
		if value.Exists() {
			reps = append(reps, replacement{
				offset: int(m.Get("offset").Int()),
				length: int(m.Get("length").Int()),
				value:  value.String(),
			})
		}
		return true
	})
	return apply(text, reps), nil
}

// apply splices replacements back to front. LanguageTool offsets count
// UTF-16 code units.
func apply(text string, reps []replacement) string {
	if len(reps) == 0 {
		return text
	}
	sort.Slice(reps, func(i, j int) bool { return reps[i].offset > reps[j].offset })
	units := utf16.Encode([]rune(text))
	limit := len(units)
	for _, r := range reps {
		end := r.offset + r.length
		if r.offset < 0 || end > limit || r.length < 0 {
			continue
		}
		repl := utf16.Encode([]rune(r.value))
		next := make([]uint16, 0, len(units)-r.length+len(repl))
		next = append(next, units[:r.offset]...)
		next = append(next, repl...)
		next = append(next, units[end:]...)
		units = next
		limit = r.offset
	}
	return string(utf16.Decode(units))
}
