package validate

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// AllowedEmailDomains limits the accepted e-mail providers. Empty accepts any domain.
var AllowedEmailDomains = []string{"gmail.com", "hotmail.com", "outlook.com"}

var reEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[A-Za-z]{2,}$`)

// Email checks the syntax of an address and its domain against AllowedEmailDomains.
func Email(s string) error {
	if err := EmailSyntax(s); err != nil {
		return err
	}
	addr := strings.ToLower(strings.TrimSpace(s))
	_, domain, _ := strings.Cut(addr, "@")
	if len(AllowedEmailDomains) == 0 {
		return nil
	}
	for _, d := range AllowedEmailDomains {
		if domain == d {
			return nil
		}
	}
	return invalid("email", "Solo aceptamos correos de Gmail, Hotmail u Outlook")
}

// EmailSyntax checks only the shape of an address, for any domain.
func EmailSyntax(s string) error {
	addr := strings.ToLower(strings.TrimSpace(s))
	if !reEmail.MatchString(addr) {
		return invalid("email", "Este correo no es válido, revisa y dame de nuevo")
	}
	local, domain, _ := strings.Cut(addr, "@")
	if local == "" || len(local) > 64 || strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") || strings.Contains(local, "..") {
		return invalid("email", "Este correo no es válido, revisa y dame de nuevo")
	}
	if !strings.Contains(domain, ".") || strings.Contains(domain, "..") {
		return invalid("email", "Este correo no es válido, revisa y dame de nuevo")
	}
	return nil
}

var noEmailPhrases = []string{
	"no tengo", "sin correo", "sin email", "no cuento con", "no poseo", "no dispongo", "no uso correo",
}

// NoEmail reports replies such as "no tengo correo" at the e-mail prompt.
func NoEmail(s string) bool {
	m := Fold(s)
	for _, p := range noEmailPhrases {
		if strings.Contains(m, p) {
			return true
		}
	}
	return false
}

// Description checks an appointment reason: 5-500 characters with at least
// one letter and no runs of the same character.
func Description(s string) error {
	d := strings.TrimSpace(s)
	if n := utf8.RuneCountInString(d); n < 5 || n > 500 {
		return invalid("description", "Por favor proporciona más detalles (mínimo 5 caracteres).")
	}
	if !reHasLetter.MatchString(d) {
		return invalid("description", "Por favor describe el motivo con palabras.")
	}
	compact := strings.Join(strings.Fields(d), "")
	if longestRun(compact) == utf8.RuneCountInString(compact) || longestRun(d) >= 4 {
		return invalid("description", "Por favor proporciona más detalles (mínimo 5 caracteres).")
	}
	return nil
}

var cancelCommands = map[string]bool{
	"cancelar": true, "salir": true, "abortar": true, "exit": true, "quit": true,
	"cancel": true, "stop": true, "back": true, "volver": true, "atras": true,
	"cerrar": true, "terminar": true, "parar": true, "nope": true, "nah": true,
	"nada": true, "ninguno": true, "ninguna": true,
	"n": true, "q": true, "x": true,
}

var reEmphaticNo = regexp.MustCompile(`^no+[!.]*$`)

// CancelCommand reports a reply that abandons the current capture step.
// Only whole-message commands count, so "no puedo el lunes" is not a cancel.
func CancelCommand(s string) bool {
	m := strings.TrimSpace(Fold(s))
	if cancelCommands[m] || cancelCommands[strings.ReplaceAll(m, " ", "")] {
		return true
	}
	return reEmphaticNo.MatchString(m)
}

var bareNo = map[string]bool{"nope": true, "nah": true, "nop": true, "n": true}

// BareNo reports a reply that is only a negative ("no", "nooo!", "nope").
// At yes/no steps it answers the question instead of cancelling.
func BareNo(s string) bool {
	m := strings.TrimSpace(Fold(s))
	return bareNo[m] || reEmphaticNo.MatchString(m)
}

// Answer is the reading of a yes/no reply.
type Answer int

const (
	Unclear Answer = iota
	Yes
	No
)

func (a Answer) String() string {
	switch a {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unclear"
	}
}

var (
	yesWords = []string{
		"si", "sip", "sep", "yes", "ok", "okay", "vale", "dale", "claro", "confirmar", "confirmo",
		"correcto", "exacto", "afirmativo", "positivo", "perfecto", "adelante", "listo", "aceptar",
		"acepto", "de acuerdo", "esta bien", "por supuesto", "bueno", "normal",
	}
	noWords = []string{
		"no", "nop", "nope", "negativo", "incorrecto", "cancelar", "mal", "error", "otra",
		"otro", "tampoco", "para nada", "mejor no",
	}
)

// YesNo reads a free-text confirmation. Negative phrases are checked first and
// matched as whole words, so "no quiero" is No and "sino" is Unclear.
func YesNo(s string) Answer {
	m := " " + strings.Join(strings.Fields(stripPunct(Fold(s))), " ") + " "
	for _, w := range noWords {
		if strings.Contains(m, " "+w+" ") {
			return No
		}
	}
	for _, w := range yesWords {
		if strings.Contains(m, " "+w+" ") {
			return Yes
		}
	}
	return Unclear
}

var (
	suggestionYes = map[string]bool{
		"si": true, "sip": true, "ok": true, "dale": true, "aceptar": true, "confirmar": true,
		"esta bien": true, "normal": true, "si claro": true,
	}
	suggestionNo = map[string]bool{
		"no": true, "nop": true, "nope": true, "negativo": true, "otra": true,
	}
)

// SuggestionReply reads the answer to a proposed alternative slot. Only exact
// replies count; anything else is Unclear and should be parsed as a new date.
func SuggestionReply(s string) Answer {
	m := strings.Join(strings.Fields(stripPunct(Fold(s))), " ")
	switch {
	case suggestionYes[m]:
		return Yes
	case suggestionNo[m]:
		return No
	default:
		return Unclear
	}
}

var rePhoneDigits = regexp.MustCompile(`^\d{8,15}$`)

// Phone strips formatting from an admin-typed number and requires 8-15 digits.
func Phone(s string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if !rePhoneDigits.MatchString(digits) {
		return "", invalid("phone", "El número debe tener entre 8 y 15 dígitos.")
	}
	return digits, nil
}

// Fold lowercases s and strips diacritics.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

var rePunct = regexp.MustCompile(`[^\p{L}\p{N}\s@.]+`)

func stripPunct(s string) string {
	s = rePunct.ReplaceAllString(s, " ")
	return strings.Trim(s, ". ")
}
