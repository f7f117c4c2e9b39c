// Package validate holds the rule-based checks applied to user replies:
// registration and booking names, e-mail addresses, appointment reasons,
// cancel commands and yes/no answers.
package validate

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Error carries the user-facing reason a value was rejected.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string { return e.Field + ": " + e.Reason }

func invalid(field, reason string) error { return &Error{Field: field, Reason: reason} }

// Reason extracts the user-facing text of a validation error, or "" for other errors.
func Reason(err error) string {
	if v, ok := err.(*Error); ok {
		return v.Reason
	}
	return ""
}

const (
	vowels     = "aeiouáéíóúü"
	consonants = "bcdfghjklmnpqrstvwxyzñ"
)

var (
	reNameChars = regexp.MustCompile(`^[a-zA-ZáéíóúüñÁÉÍÓÚÜÑ\s'-]+$`)
	reHasLetter = regexp.MustCompile(`[a-zA-ZáéíóúñÁÉÍÓÚÑ]`)
	reSpaces    = regexp.MustCompile(`\s+`)

	keyboardMash = []*regexp.Regexp{
		regexp.MustCompile(`^[qwerty]{4,}$`),
		regexp.MustCompile(`^[asdfgh]{4,}$`),
		regexp.MustCompile(`^[zxcvbn]{4,}$`),
		regexp.MustCompile(`^[jkl]{3,}$`),
	}
)

// notNames are words people send at the name prompt that are never names.
var notNames = map[string]bool{
	"hola": true, "buenas": true, "noches": true, "dias": true, "tardes": true,
	"hotel": true, "test": true, "prueba": true, "ejemplo": true, "admin": true,
	"user": true, "si": true, "no": true, "ok": true, "bien": true,
	"jkuil": true, "asdf": true, "qwerty": true, "xyz": true, "abc": true, "klok": true,
}

// Name applies the registration name rules: letters only, at most five
// words, plausible vowel/consonant structure and no keyboard mashing.
func Name(s string) error {
	name := strings.TrimSpace(s)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		return invalid("name", "El nombre no puede estar vacío")
	case n < 2:
		return invalid("name", "El nombre es demasiado corto")
	case n > 60:
		return invalid("name", "El nombre es demasiado largo")
	}
	if !reNameChars.MatchString(name) {
		return invalid("name", "El nombre solo puede contener letras")
	}

	words := strings.Fields(name)
	if len(words) == 0 {
		return invalid("name", "Ingresa tu nombre")
	}
	if len(words) > 5 {
		return invalid("name", "Por favor ingresa solo tu nombre (máximo 5 palabras)")
	}
	for _, w := range words {
		if err := nameWord(w); err != nil {
			return err
		}
	}

	lower := strings.ToLower(name)
	if notNames[lower] {
		return invalid("name", "Por favor ingresa tu nombre real")
	}
	for _, w := range words {
		if notNames[strings.ToLower(w)] {
			return invalid("name", "Por favor ingresa tu nombre real")
		}
	}
	for _, re := range keyboardMash {
		if re.MatchString(lower) {
			return invalid("name", "Por favor ingresa tu nombre real")
		}
	}
	return nil
}

func nameWord(w string) error {
	lower := strings.ToLower(w)
	if utf8.RuneCountInString(w) < 2 {
		return invalid("name", "Cada parte del nombre debe tener al menos 2 letras")
	}
	v, c := countRunes(lower, vowels), countRunes(lower, consonants)
	if v == 0 {
		return invalid("name", "El nombre debe contener vocales")
	}
	if c == 0 {
		return invalid("name", "El nombre no tiene una estructura válida")
	}
	if ratio := float64(v) / float64(c); ratio < 0.2 || ratio > 5.0 {
		return invalid("name", "El nombre no parece válido")
	}
	if longestRun(lower) >= 4 {
		return invalid("name", "El nombre contiene caracteres repetidos inválidos")
	}
	if longestClass(lower, consonants) >= 5 || longestClass(lower, vowels) >= 4 {
		return invalid("name", "El nombre tiene una estructura inusual")
	}
	return nil
}

// BookingName is the lighter check used when a patient books under a
// different name than the one on file.
func BookingName(s string) error {
	name := strings.TrimSpace(s)
	if n := utf8.RuneCountInString(name); n < 2 || n > 50 {
		return invalid("booking_name", "Por favor ingresa un nombre válido")
	}
	if !reHasLetter.MatchString(name) || !reNameChars.MatchString(name) {
		return invalid("booking_name", "Por favor ingresa un nombre válido")
	}
	if strings.Contains(name, "  ") || strings.IndexAny(name, "-'") == 0 || strings.HasSuffix(name, "-") || strings.HasSuffix(name, "'") {
		return invalid("booking_name", "Por favor ingresa un nombre válido")
	}

	clean := []rune(strings.NewReplacer(" ", "", "'", "", "-", "").Replace(strings.ToLower(name)))
	freq := map[rune]int{}
	maxFreq := 0
	for _, r := range clean {
		freq[r]++
		if freq[r] > maxFreq {
			maxFreq = freq[r]
		}
	}
	if len(freq) == 1 {
		return invalid("booking_name", "Por favor ingresa un nombre válido")
	}
	if len(clean) >= 6 && float64(maxFreq)/float64(len(clean)) > 0.4 {
		return invalid("booking_name", "Por favor ingresa un nombre válido")
	}
	if repeatsPrefix(clean) {
		return invalid("booking_name", "Por favor ingresa un nombre válido")
	}
	if (len(clean) < 5 && len(freq) < 2) || (len(clean) >= 5 && len(freq) < 3) {
		return invalid("booking_name", "Por favor ingresa un nombre válido")
	}
	return nil
}

// repeatsPrefix detects "ababab" style input: a 2-4 rune chunk repeated over
// at least half of the text.
func repeatsPrefix(s []rune) bool {
	for size := 2; size <= 4; size++ {
		if len(s) < size*3 {
			continue
		}
		half := len(s) / 2
		match := true
		for i := 0; i < half; i++ {
			if s[i] != s[i%size] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// FormatName trims, collapses spaces and title-cases a name: "juan  PÉREZ" -> "Juan Pérez".
func FormatName(s string) string {
	return cases.Title(language.Spanish).String(strings.ToLower(reSpaces.ReplaceAllString(strings.TrimSpace(s), " ")))
}

func countRunes(s, set string) int {
	n := 0
	for _, r := range s {
		if strings.ContainsRune(set, r) {
			n++
		}
	}
	return n
}

// longestRun is the length of the longest run of one repeated rune.
func longestRun(s string) int {
	best, run := 0, 0
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			run++
		} else {
			run = 1
			prev = r
		}
		if run > best {
			best = run
		}
	}
	return best
}

// longestClass is the length of the longest run of runes from set.
func longestClass(s, set string) int {
	best, run := 0, 0
	for _, r := range s {
		if strings.ContainsRune(set, unicode.ToLower(r)) {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	return best
}
