// Package util provides utility functions for the CitaBot application.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Not suitable for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// PickVariant returns one of the given message variants at random.
// An empty slice yields "".
func PickVariant(variants []string) string {
	switch len(variants) {
	case 0:
		return ""
	case 1:
		return variants[0]
	}
	return variants[rand.IntN(len(variants))]
}

// FillTemplate replaces every {key} placeholder in tmpl with its value.
func FillTemplate(tmpl string, values map[string]string) string {
	if len(values) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
