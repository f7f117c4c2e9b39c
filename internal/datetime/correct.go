package datetime

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// minSimilarity is the lowest similarity at which a word is replaced by a vocabulary term.
const minSimilarity = 0.6

// vocabulary holds the folded temporal terms the typo pass may substitute.
var vocabulary = []string{
	"lunes", "martes", "miercoles", "jueves", "viernes", "sabado", "domingo",
	"hoy", "manana", "pasado", "proximo", "siguiente",
	"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio",
	"agosto", "septiembre", "octubre", "noviembre", "diciembre",
	"tarde", "noche", "madrugada", "mediodia",
	"para", "los", "las",
}

var inVocabulary = func() map[string]bool {
	m := make(map[string]bool, len(vocabulary))
	for _, w := range vocabulary {
		m[w] = true
	}
	return m
}()

// similarity is 1 - distance/longest, in [0,1].
func similarity(a, b string) float64 {
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// closestTerm returns the vocabulary term most similar to word, if any passes minSimilarity.
func closestTerm(word string) (string, bool) {
	best, bestScore := "", 0.0
	for _, term := range vocabulary {
		if s := similarity(word, term); s > bestScore {
			best, bestScore = term, s
		}
	}
	if bestScore > minSimilarity {
		return best, true
	}
	return "", false
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// correctTypos replaces misspelled temporal words in an already normalized message.
// Short words, numbers and words already in the vocabulary are kept.
func correctTypos(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len([]rune(w)) < 3 || isDigits(w) || strings.ContainsAny(w, ":/") || inVocabulary[w] {
			continue
		}
		if term, ok := closestTerm(w); ok {
			words[i] = term
		}
	}
	return strings.Join(words, " ")
}
