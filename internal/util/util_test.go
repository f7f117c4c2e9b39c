package util

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomHex(t *testing.T) {
	got := GenerateRandomHex(16)
	if len(got) != 16 {
		t.Fatalf("expected 16 chars, got %d", len(got))
	}
	if strings.Trim(got, "0123456789abcdef") != "" {
		t.Errorf("non-hex characters in %q", got)
	}
	if GenerateRandomHex(0) != "" {
		t.Error("zero length should be empty")
	}
}

func TestPickVariant(t *testing.T) {
	if PickVariant(nil) != "" {
		t.Error("empty variants should yield empty string")
	}
	variants := []string{"a", "b", "c"}
	for i := 0; i < 20; i++ {
		v := PickVariant(variants)
		if v != "a" && v != "b" && v != "c" {
			t.Fatalf("unexpected variant %q", v)
		}
	}
}

func TestFillTemplate(t *testing.T) {
	got := FillTemplate("Hola {nombre}, tu cita es el {fecha}", map[string]string{"nombre": "Ana", "fecha": "lunes"})
	if got != "Hola Ana, tu cita es el lunes" {
		t.Errorf("unexpected fill: %q", got)
	}
}

func TestCanonicalPhone(t *testing.T) {
	tests := map[string]string{
		"59170000000@s.whatsapp.net":    "59170000000",
		"59170000000:12@s.whatsapp.net": "59170000000",
		"whatsapp:+59170000000":         "59170000000",
		" +591 700-00000 ":              "59170000000",
	}
	for in, want := range tests {
		if got := CanonicalPhone(in); got != want {
			t.Errorf("CanonicalPhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLocalBolivian(t *testing.T) {
	if got := LocalBolivian("59170000000"); got != "70000000" {
		t.Errorf("expected local number, got %q", got)
	}
	if got := LocalBolivian("15551234567"); got != "15551234567" {
		t.Errorf("foreign number changed: %q", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("CITABOT_TEST_DURATION", "")
	if got := ParseDurationEnv("CITABOT_TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("unset should yield default, got %v", got)
	}
	t.Setenv("CITABOT_TEST_DURATION", "50s")
	if got := ParseDurationEnv("CITABOT_TEST_DURATION", time.Second); got != 50*time.Second {
		t.Errorf("expected 50s, got %v", got)
	}
	t.Setenv("CITABOT_TEST_DURATION", "3000")
	if got := ParseDurationEnv("CITABOT_TEST_DURATION", time.Second); got != 3*time.Second {
		t.Errorf("bare integer should be milliseconds, got %v", got)
	}
	t.Setenv("CITABOT_TEST_DURATION", "soon")
	if got := ParseDurationEnv("CITABOT_TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("invalid should yield default, got %v", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("CITABOT_TEST_BOOL", "yes")
	if !ParseBoolEnv("CITABOT_TEST_BOOL", false) {
		t.Error("yes should parse as true")
	}
	t.Setenv("CITABOT_TEST_BOOL", "maybe")
	if ParseBoolEnv("CITABOT_TEST_BOOL", false) {
		t.Error("invalid value should yield default")
	}
}
