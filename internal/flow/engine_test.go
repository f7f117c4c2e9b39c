package flow

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/CitaBot/internal/calendar"
	"github.com/BTreeMap/CitaBot/internal/datetime"
	"github.com/BTreeMap/CitaBot/internal/intent"
	"github.com/BTreeMap/CitaBot/internal/messaging"
	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/store"
	"github.com/BTreeMap/CitaBot/internal/testutil"
	"github.com/BTreeMap/CitaBot/internal/whatsapp"
)

const (
	patient  = "59171234567"
	patient2 = "59176543210"
	adminID  = "59170000001"
)

// harness wires an Engine to in-memory collaborators. The clock starts on
// Tuesday 10 March 2026 at 09:00 in the clinic timezone.
type harness struct {
	t      *testing.T
	client *whatsapp.MockClient
	store  *store.InMemoryStore
	cal    *calendar.Memory
	clock  *testutil.Clock
	engine *Engine
	seq    atomic.Int64
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	loc := datetime.ClinicLocation()
	h := &harness{
		t:      t,
		client: whatsapp.NewMockClient(),
		store:  store.NewInMemoryStore(),
		cal:    calendar.NewMemory(calendar.WithLocation(loc)),
		clock:  testutil.NewClock(time.Date(2026, 3, 10, 9, 0, 0, 0, loc)),
	}
	base := []Option{
		WithCalendar(h.cal),
		WithClock(h.clock.Now),
		WithAdminNumber(adminID),
		WithResolver(datetime.NewResolver(datetime.WithLocation(loc))),
	}
	h.engine = New(messaging.NewWhatsAppService(h.client), h.store, append(base, opts...)...)
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) sayAs(user, text string) {
	n := h.seq.Add(1)
	h.engine.HandleTurn(context.Background(), Turn{
		UserID: user,
		Text:   text,
		Ref:    models.MessageRef{ID: fmt.Sprintf("msg-%d", n), ChatID: user, SenderID: user},
	})
}

func (h *harness) say(text string) { h.sayAs(patient, text) }

func (h *harness) textsTo(to string) []string {
	var out []string
	for _, m := range h.client.SentTexts() {
		if m.To == to {
			out = append(out, m.Body)
		}
	}
	return out
}

func (h *harness) lastTo(to string) string {
	texts := h.textsTo(to)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

// sentSince returns the texts for to sent after the first n.
func (h *harness) sentSince(to string, n int) []string {
	texts := h.textsTo(to)
	if n >= len(texts) {
		return nil
	}
	return texts[n:]
}

func (h *harness) session(user string) *models.Session {
	h.t.Helper()
	s, err := h.engine.opts.States.Load(context.Background(), user)
	if err != nil {
		h.t.Fatalf("failed to load session: %v", err)
	}
	return s
}

func (h *harness) expectStep(user string, step models.StepID) {
	h.t.Helper()
	if got := h.session(user).Step; got != step {
		h.t.Fatalf("expected step %q, got %q (last reply %q)", step, got, h.lastTo(user))
	}
}

func (h *harness) expectIdle(user string) {
	h.t.Helper()
	if s := h.session(user); s.Awaiting() {
		h.t.Fatalf("expected idle session, got %s/%s", s.Flow, s.Step)
	}
}

func (h *harness) register(user, name string) {
	testutil.SeedCustomer(h.t, h.store, user, name)
}

func containsAny(texts []string, sub string) bool {
	for _, s := range texts {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// fixedClassifier always answers with one intent.
type fixedClassifier models.Intent

func (f fixedClassifier) Classify(context.Context, string) intent.Decision {
	return intent.Decision{Intent: models.Intent(f), Stage: intent.StageSubstring}
}

func TestRegistrationStoresNameAndReplaysFirstMessage(t *testing.T) {
	h := newHarness(t)

	h.say("hola")
	h.expectStep(patient, models.StepRegistrationName)
	if h.session(patient).Registration.PendingMessage != "hola" {
		t.Fatalf("pending message not kept: %+v", h.session(patient).Registration)
	}

	before := len(h.textsTo(patient))
	h.say("ana pérez")
	c, err := h.store.FindByPhone(context.Background(), patient)
	if err != nil || c == nil {
		t.Fatalf("customer not stored: %v", err)
	}
	if c.Name != "Ana Pérez" || c.Status != models.StatusActive {
		t.Errorf("unexpected customer %+v", c)
	}
	replies := h.sentSince(patient, before)
	if len(replies) < 2 {
		t.Fatalf("expected thanks and greeting, got %q", replies)
	}
	if !strings.Contains(replies[len(replies)-1], "Ana Pérez") {
		t.Errorf("greeting should use the new name, got %q", replies[len(replies)-1])
	}
	testutil.AssertHistoryCount(t, h.store, patient, models.IntentGreeting, 1)
	h.expectIdle(patient)
}

func TestRegistrationGivesUpAfterThreeInvalidNames(t *testing.T) {
	h := newHarness(t)

	h.say("hola")
	for i := 0; i < maxNameAttempts; i++ {
		h.say("123")
	}
	if got := h.lastTo(patient); got != msgNameAttempts {
		t.Errorf("expected attempts message, got %q", got)
	}
	h.expectIdle(patient)
	if c, _ := h.store.FindByPhone(context.Background(), patient); c.Registered() {
		t.Errorf("customer should not be registered: %+v", c)
	}
}

func TestGreetingIsRecordedOnce(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")

	h.say("hola")
	h.say("hola")
	if !strings.Contains(h.lastTo(patient), "Ana") {
		t.Errorf("greeting should name the customer, got %q", h.lastTo(patient))
	}
	testutil.AssertHistoryCount(t, h.store, patient, models.IntentGreeting, 1)
}

func TestEmptyTurnAsksForText(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")

	h.say("   ")
	if got := h.lastTo(patient); got != msgEmptyTurn {
		t.Errorf("expected empty-turn reply, got %q", got)
	}
}

func TestOtherIntentIsSilent(t *testing.T) {
	h := newHarness(t, WithClassifier(fixedClassifier(models.IntentOther)))
	h.register(patient, "Ana")

	h.say("asdf")
	if n := len(h.textsTo(patient)); n != 0 {
		t.Errorf("expected no reply, got %q", h.textsTo(patient))
	}
	h.expectIdle(patient)
}

func TestSessionsAreIsolatedPerUser(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")
	h.register(patient2, "Luis")

	h.say("agendar")
	h.sayAs(patient2, "horario")

	h.expectStep(patient, models.StepBookingBranch)
	h.expectStep(patient2, models.StepHoursOffer)
	h.say("2")
	h.expectStep(patient, models.StepBookingDateTime)
	h.expectStep(patient2, models.StepHoursOffer)
}

func TestInactivityExpiresSuspendedSession(t *testing.T) {
	h := newHarness(t, WithInactivityTimeout(80*time.Millisecond))
	h.register(patient, "Ana")

	h.say("agendar")
	h.expectStep(patient, models.StepBookingBranch)

	deadline := time.Now().Add(2 * time.Second)
	for h.lastTo(patient) != msgExpired && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := h.lastTo(patient); got != msgExpired {
		t.Fatalf("expected expiry message, got %q", got)
	}
	h.expectIdle(patient)
}

func TestMessageBeforeTimeoutKeepsSession(t *testing.T) {
	h := newHarness(t, WithInactivityTimeout(150*time.Millisecond))
	h.register(patient, "Ana")

	h.say("agendar")
	time.Sleep(60 * time.Millisecond)
	h.say("2")
	time.Sleep(120 * time.Millisecond)

	h.expectStep(patient, models.StepBookingDateTime)
	for _, s := range h.textsTo(patient) {
		if s == msgExpired {
			t.Fatal("session expired although the user answered in time")
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.lastTo(patient) != msgExpired && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	expired := 0
	for _, s := range h.textsTo(patient) {
		if s == msgExpired {
			expired++
		}
	}
	if expired != 1 {
		t.Errorf("expected exactly one expiry message, got %d", expired)
	}
}

func TestTerminalTurnClearsSession(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")

	h.say("agendar")
	h.say("cancelar")
	h.expectIdle(patient)
	if h.engine.opts.Timer.Active(patient) {
		t.Error("timer should be stopped after a terminal turn")
	}
}

func TestRecoverSessionsRearmsTimers(t *testing.T) {
	h := newHarness(t)
	s := models.NewSession(patient, h.clock.Now())
	s.Await(models.FlowBooking, models.StepBookingBranch)
	if err := h.engine.opts.States.Save(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	n, err := h.engine.RecoverSessions(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("RecoverSessions = %d, %v", n, err)
	}
	if !h.engine.opts.Timer.Active(patient) {
		t.Error("expected timer to be armed for the recovered session")
	}
}

func TestBlockedSenderIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")
	if _, err := h.store.Block(context.Background(), patient); err != nil {
		t.Fatal(err)
	}

	h.engine.HandleEvent(context.Background(), models.TextMessage{From: patient + "@s.whatsapp.net", Body: "hola", Ref: models.MessageRef{ID: "x"}})
	h.engine.HandleEvent(context.Background(), models.CallEvent{From: patient, CallID: "c1", Status: models.CallOffer})
	h.engine.Wait()

	if len(h.client.SentTexts()) != 0 {
		t.Errorf("blocked sender got replies: %+v", h.client.SentTexts())
	}
	if h.engine.opts.Debounce.Pending(patient) != 0 {
		t.Error("blocked text should not be queued")
	}
}

func TestCallIsRejected(t *testing.T) {
	h := newHarness(t)

	h.engine.HandleEvent(context.Background(), models.CallEvent{From: patient, CallID: "c1", Status: models.CallOffer, Caller: patient + "@s.whatsapp.net"})
	h.engine.Wait()

	if len(h.client.Rejected) != 1 {
		t.Errorf("expected one rejected call, got %v", h.client.Rejected)
	}
	texts := h.textsTo(patient)
	if len(texts) != 2 || texts[0] != msgCallBusy || texts[1] != msgCallFollowUp {
		t.Errorf("unexpected call replies %q", texts)
	}
}

func TestVoiceNoteFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")
	h.say("agendar")

	note := models.VoiceNote{From: patient, Ref: models.MessageRef{ID: "v1"}, Mimetype: "audio/ogg"}
	h.engine.HandleTurn(context.Background(), Turn{UserID: patient, Ref: note.Ref, Voice: &note})

	if got := h.lastTo(patient); got != msgVoiceRetry {
		t.Errorf("expected voice retry message, got %q", got)
	}
	h.expectStep(patient, models.StepBookingBranch)
}
