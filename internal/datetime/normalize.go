package datetime

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics ("Miércoles" -> "miercoles", "mañana" -> "manana").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// numberWords maps spelled-out numbers to digits. "una" is handled separately
// because it is also the indefinite article.
var numberWords = map[string]string{
	"cero":          "0",
	"uno":           "1",
	"dos":           "2",
	"tres":          "3",
	"cuatro":        "4",
	"cinco":         "5",
	"seis":          "6",
	"siete":         "7",
	"ocho":          "8",
	"nueve":         "9",
	"diez":          "10",
	"once":          "11",
	"doce":          "12",
	"trece":         "13",
	"catorce":       "14",
	"quince":        "15",
	"dieciseis":     "16",
	"diecisiete":    "17",
	"dieciocho":     "18",
	"diecinueve":    "19",
	"veinte":        "20",
	"veintiuno":     "21",
	"veintidos":     "22",
	"veintitres":    "23",
	"veinticuatro":  "24",
	"veinticinco":   "25",
	"veintiseis":    "26",
	"veintisiete":   "27",
	"veintiocho":    "28",
	"veintinueve":   "29",
	"treinta":       "30",
	"treinta y uno": "31",
}

var (
	reNumberWords = compileNumberWords()
	reArticleOne  = regexp.MustCompile(`\b(la|las|en|de) (una|un)\b`)
	reNoon        = regexp.MustCompile(`\bmedio\s*dia\b`)
	reDotTime     = regexp.MustCompile(`\b(\d{1,2})\.(\d{2})\b`)
	reGluedSuffix = regexp.MustCompile(`(\d)(am|pm|hrs|hr|h)\b`)
	reNoise       = regexp.MustCompile(`[^a-z0-9:/ ]+`)
	reSpaces      = regexp.MustCompile(`\s+`)

	rePM = regexp.MustCompile(`\b(tarde|pm|noche)\b`)
	reAM = regexp.MustCompile(`\bam\b`)
)

var meridiemDots = strings.NewReplacer("p. m.", " pm ", "p.m.", " pm ", "a. m.", " am ", "a.m.", " am ")

func compileNumberWords() *regexp.Regexp {
	words := make([]string, 0, len(numberWords))
	for w := range numberWords {
		words = append(words, regexp.QuoteMeta(w))
	}
	// Longest first so "treinta y uno" wins over "treinta".
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})
	return regexp.MustCompile(`\b(` + strings.Join(words, "|") + `)\b`)
}

// markers are the day-part hints found in a normalized message.
type markers struct {
	noon bool
	pm   bool
	am   bool
}

// normalize folds the text, rewrites noon to "12:00" and spelled numbers
// to digits so the grammar only ever sees numerals.
func normalize(text string) (string, markers) {
	s := meridiemDots.Replace(Fold(text))
	s = reDotTime.ReplaceAllString(s, "$1:$2")
	s = reGluedSuffix.ReplaceAllString(s, "$1 $2")

	var m markers
	if reNoon.MatchString(s) {
		m.noon = true
		s = reNoon.ReplaceAllString(s, "12:00")
	}

	s = reNoise.ReplaceAllString(s, " ")
	s = strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
	s = reArticleOne.ReplaceAllString(s, "$1 1")
	s = reNumberWords.ReplaceAllStringFunc(s, func(w string) string {
		return numberWords[w]
	})

	m.pm = rePM.MatchString(s)
	m.am = reAM.MatchString(s)
	return s, m
}
