package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
)

func TestSendBookingConfirmation(t *testing.T) {
	var body map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != sendPath {
			t.Errorf("path = %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m, err := NewSendGridMailer("SG.key", "citas@clinica.bo", WithHost(srv.URL))
	if err != nil {
		t.Fatalf("NewSendGridMailer: %v", err)
	}
	branch := models.DefaultBranches()[1]
	start := time.Date(2026, 3, 16, 16, 0, 0, 0, time.UTC)
	if err := m.SendBookingConfirmation(context.Background(), "ana@gmail.com", "Ana Rojas", start, branch); err != nil {
		t.Fatalf("SendBookingConfirmation: %v", err)
	}
	if auth != "Bearer SG.key" {
		t.Errorf("Authorization = %q", auth)
	}
	raw, _ := json.Marshal(body)
	for _, want := range []string{"ana@gmail.com", "citas@clinica.bo", "16 de marzo de 2026, 16:00", "Sucursal Norte"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("request body missing %q", want)
		}
	}
}

func TestSendBookingConfirmationRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"message":"bad"}]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	m, err := NewSendGridMailer("SG.key", "citas@clinica.bo", WithHost(srv.URL))
	if err != nil {
		t.Fatalf("NewSendGridMailer: %v", err)
	}
	if err := m.SendBookingConfirmation(context.Background(), "ana@gmail.com", "Ana", time.Now(), models.Branch{}); err == nil {
		t.Fatal("expected an error for a 400 response")
	}
}

func TestNewSendGridMailerRequiresConfig(t *testing.T) {
	if _, err := NewSendGridMailer("", "a@b.com"); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := NewSendGridMailer("k", ""); err != ErrMissingSender {
		t.Errorf("err = %v, want ErrMissingSender", err)
	}
	if err := (Nop{}).SendBookingConfirmation(context.Background(), "", "", time.Time{}, models.Branch{}); err != nil {
		t.Errorf("Nop returned %v", err)
	}
}
