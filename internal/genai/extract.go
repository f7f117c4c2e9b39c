package genai

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrMalformedExtraction is returned when the model reply holds no JSON object.
var ErrMalformedExtraction = errors.New("model reply is not a JSON object")

const extractionPrompt = `Extrae datos de citas médicas en JSON.

HOY: %s (%s)

Formato de salida:
{
  "nombre": "string o null",
  "email": "string o null",
  "telefono": "solo números o null",
  "fecha": "YYYY-MM-DD",
  "hora": "HH:MM en formato 24h",
  "motivo": "string o null"
}

Fechas relativas:
- hoy = %s
- mañana = +1 día
- próximo [día] = calcular desde %s

Solo JSON, sin markdown.`

var (
	reJSONObject = regexp.MustCompile(`(?s)\{.*\}`)
	spanishDays  = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
)

// Extraction is the appointment data pulled from an admin's free text.
type Extraction struct {
	Name   string
	Email  string
	Phone  string
	Date   string // YYYY-MM-DD
	Hour   string // HH:MM
	Reason string
}

// Missing lists the required fields the model could not find, in Spanish.
func (e Extraction) Missing() []string {
	var out []string
	if e.Name == "" {
		out = append(out, "nombre")
	}
	if e.Date == "" {
		out = append(out, "fecha")
	}
	if e.Hour == "" {
		out = append(out, "hora")
	}
	return out
}

// Start interprets Date and Hour in loc.
func (e Extraction) Start(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", e.Date+" "+e.Hour, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse extracted date and hour: %w", err)
	}
	return t, nil
}

// ExtractBooking asks the model for the appointment fields of text. now
// anchors relative dates and must already be in the clinic location.
func ExtractBooking(ctx context.Context, llm ClientInterface, text string, now time.Time) (Extraction, error) {
	today := now.Format("2006-01-02")
	system := fmt.Sprintf(extractionPrompt, today, spanishDays[now.Weekday()], today, today)
	reply, err := llm.GeneratePromptWithContext(ctx, system, text)
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to extract booking data: %w", err)
	}
	return parseExtraction(reply)
}

// parseExtraction reads the first JSON object of a reply, tolerating
// markdown fences and chatter around it.
func parseExtraction(reply string) (Extraction, error) {
	raw := reJSONObject.FindString(reply)
	if raw == "" || !gjson.Valid(raw) {
		return Extraction{}, ErrMalformedExtraction
	}
	res := gjson.Parse(raw)
	field := func(key string) string {
		return strings.TrimSpace(res.Get(key).String())
	}
	phone := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, field("telefono"))
	return Extraction{
		Name:   field("nombre"),
		Email:  field("email"),
		Phone:  phone,
		Date:   field("fecha"),
		Hour:   normalizeHour(field("hora")),
		Reason: field("motivo"),
	}, nil
}

// normalizeHour pads "9:30" to "09:30".
func normalizeHour(h string) string {
	if len(h) == 4 && h[1] == ':' {
		return "0" + h
	}
	return h
}
