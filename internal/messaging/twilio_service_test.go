package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/twiliowhatsapp"
)

func post(svc *TwilioService, form url.Values, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, req)
	return rec
}

func TestTwilioWebhookText(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rec := post(svc, url.Values{"From": {"whatsapp:+59171234567"}, "Body": {"hola"}, "MessageSid": {"SM1"}}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	ev := <-svc.Events()
	text, ok := ev.(models.TextMessage)
	if !ok || text.From != "59171234567" || text.Body != "hola" || text.Ref.ID != "SM1" {
		t.Fatalf("unexpected event %#v", ev)
	}
}

func TestTwilioWebhookVoiceAndLocation(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	mock.Media["https://api.twilio.com/media/ME1"] = []byte("OggS")
	svc := NewTwilioService(mock)

	post(svc, url.Values{
		"From": {"whatsapp:+59171234567"}, "MessageSid": {"SM2"}, "NumMedia": {"1"},
		"MediaContentType0": {"audio/ogg"}, "MediaUrl0": {"https://api.twilio.com/media/ME1"},
	}, nil)
	voice, ok := (<-svc.Events()).(models.VoiceNote)
	if !ok {
		t.Fatal("expected a voice note")
	}
	data, err := svc.DownloadMedia(context.Background(), voice.Ref)
	if err != nil || string(data) != "OggS" {
		t.Fatalf("DownloadMedia = %q, %v", data, err)
	}

	post(svc, url.Values{"From": {"whatsapp:+59171234567"}, "MessageSid": {"SM3"}, "Latitude": {"-16.5"}, "Longitude": {"-68.13"}}, nil)
	if loc, ok := (<-svc.Events()).(models.LocationShare); !ok || loc.Longitude != -68.13 {
		t.Fatalf("expected a location share, got %#v", loc)
	}
}

func TestTwilioWebhookMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if rec := post(svc, url.Values{"Body": {"hola"}}, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing From: status = %d", rec.Code)
	}
	if rec := post(svc, url.Values{"From": {"whatsapp:+59171234567"}}, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing Body: status = %d", rec.Code)
	}
}

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k + form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioWebhookSignature(t *testing.T) {
	const publicURL = "https://bot.example.com/twilio/webhook"
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidation("secret", publicURL))
	form := url.Values{"From": {"whatsapp:+59171234567"}, "Body": {"hola"}, "MessageSid": {"SM4"}}

	if rec := post(svc, form, http.Header{"X-Twilio-Signature": {"bogus"}}); rec.Code != http.StatusForbidden {
		t.Errorf("bad signature: status = %d", rec.Code)
	}
	if rec := post(svc, form, http.Header{"X-Twilio-Signature": {sign("secret", publicURL, form)}}); rec.Code != http.StatusOK {
		t.Errorf("good signature: status = %d", rec.Code)
	}
}

func TestTwilioServiceSendAfterStop(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	if err := svc.SendText(context.Background(), "59171234567", "hola"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := svc.SendText(context.Background(), "59171234567", "hola"); err != ErrServiceStopped {
		t.Errorf("err = %v, want ErrServiceStopped", err)
	}
	if len(mock.Sent()) != 1 {
		t.Errorf("sent %d messages", len(mock.Sent()))
	}
}
