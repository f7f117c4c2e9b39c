package speller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLanguageToolCorrect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("language") != "es-ES" || r.Form.Get("text") != "mañana a las tress de la tarde" {
			t.Errorf("unexpected form %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"matches":[
			{"offset":13,"length":5,"replacements":[{"value":"tres"},{"value":"tes"}]},
			{"offset":0,"length":6,"replacements":[]}
		]}`))
	}))
	defer srv.Close()

	lt := NewLanguageTool(WithEndpoint(srv.URL))
	got := lt.Correct(context.Background(), "mañana a las tress de la tarde")
	if got != "mañana a las tres de la tarde" {
		t.Errorf("Correct = %q", got)
	}
}

func TestLanguageToolFailureKeepsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	lt := NewLanguageTool(WithEndpoint(srv.URL))
	if got := lt.Correct(context.Background(), "el juevs"); got != "el juevs" {
		t.Errorf("Correct = %q, want original text", got)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer bad.Close()
	if got := NewLanguageTool(WithEndpoint(bad.URL)).Correct(context.Background(), "hola"); got != "hola" {
		t.Errorf("invalid JSON should keep the text, got %q", got)
	}
}

func TestApplyUTF16Offsets(t *testing.T) {
	// "😀" is two UTF-16 code units, so "holaa" starts at offset 3.
	got := apply("😀 holaa", []replacement{{offset: 3, length: 5, value: "hola"}})
	if got != "😀 hola" {
		t.Errorf("apply = %q", got)
	}

	got = apply("abc", []replacement{{offset: 2, length: 5, value: "x"}})
	if got != "abc" {
		t.Errorf("out of range replacement applied: %q", got)
	}
}

func TestNop(t *testing.T) {
	if (Nop{}).Correct(context.Background(), "x") != "x" {
		t.Error("Nop changed the text")
	}
}
