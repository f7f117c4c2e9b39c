package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CitaBot/internal/calendar"
	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/testutil"
)

func seedAppointment(t *testing.T, h *harness, day, hour int) models.Appointment {
	t.Helper()
	start := time.Date(2026, 3, day, hour, 0, 0, 0, h.clock.Now().Location())
	a, err := h.cal.CreateEvent(context.Background(), calendar.Event{Title: "Cita - Ana", Start: start, End: start.Add(time.Hour), Phone: "71234567", BranchID: "1"})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestCancelDeletesSelectedAppointment(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")
	seedAppointment(t, h, 12, 10)
	seedAppointment(t, h, 13, 11)

	h.say("cancelar")
	h.expectStep(patient, models.StepCancelSelect)
	list := h.lastTo(patient)
	if !strings.Contains(list, "*1.*") || !strings.Contains(list, "*2.*") {
		t.Fatalf("expected two listed appointments, got %q", list)
	}

	h.say("5")
	h.expectStep(patient, models.StepCancelSelect)
	if !strings.Contains(h.lastTo(patient), "entre 1 y 2") {
		t.Errorf("expected range hint, got %q", h.lastTo(patient))
	}

	h.say("1")
	h.expectStep(patient, models.StepCancelConfirm)
	h.say("sí, cancélala")

	h.expectIdle(patient)
	if !strings.Contains(h.lastTo(patient), "Cita cancelada exitosamente") {
		t.Errorf("unexpected reply %q", h.lastTo(patient))
	}
	if h.cal.Len() != 1 {
		t.Errorf("expected one remaining event, got %d", h.cal.Len())
	}
	left, _ := h.cal.ListEvents(context.Background(), "71234567", h.clock.Now())
	if len(left) != 1 || left[0].Start.Day() != 13 {
		t.Errorf("the wrong appointment was deleted: %+v", left)
	}
}

func TestCancelWithoutAppointments(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")

	h.say("cancelar")
	if got := h.lastTo(patient); got != msgNoAppointments {
		t.Errorf("expected no-appointments reply, got %q", got)
	}
	h.expectIdle(patient)
}

func TestCancelKeptOnNo(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")
	seedAppointment(t, h, 12, 10)

	h.say("cancelar")
	h.say("1")
	h.say("no")
	if got := h.lastTo(patient); got != msgCancelKept {
		t.Errorf("expected kept reply, got %q", got)
	}
	if h.cal.Len() != 1 {
		t.Error("appointment should still exist")
	}
}

func TestCancelAppointmentAlreadyGone(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")
	a := seedAppointment(t, h, 12, 10)

	h.say("cancelar")
	h.say("1")
	if err := h.cal.DeleteEvent(context.Background(), a.EventID); err != nil {
		t.Fatal(err)
	}
	h.say("si")
	if got := h.lastTo(patient); got != msgCancelGone {
		t.Errorf("expected gone reply, got %q", got)
	}
}

func TestHoursOfferLeadsToBooking(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")

	h.say("horario")
	h.expectStep(patient, models.StepHoursOffer)
	h.say("horario")
	testutil.AssertHistoryCount(t, h.store, patient, models.IntentHours, 1)

	h.say("si")
	h.expectStep(patient, models.StepBookingBranch)
}

func TestOfferDeclined(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")

	h.say("horario")
	h.say("no gracias")
	if got := h.lastTo(patient); got != msgAnythingElse {
		t.Errorf("expected anything-else reply, got %q", got)
	}
	h.expectIdle(patient)
}

func TestLocationRecommendsNearestBranchAndBooksThere(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")

	h.say("ubicacion")
	h.expectStep(patient, models.StepLocationDecide)
	texts := h.textsTo(patient)
	if !containsAny(texts, "Sucursal Centro") || !containsAny(texts, "Sucursal Norte") {
		t.Fatalf("expected both branches to be shown, got %q", texts)
	}
	testutil.AssertHistoryCount(t, h.store, patient, models.IntentLocation, 1)

	h.say("si")
	h.expectStep(patient, models.StepLocationShare)

	share := models.LocationShare{From: patient, Latitude: -16.4890, Longitude: -68.1460, Ref: models.MessageRef{ID: "loc"}}
	h.engine.HandleTurn(context.Background(), Turn{UserID: patient, Ref: share.Ref, Location: &share})
	h.expectStep(patient, models.StepLocationOffer)
	if got := h.lastTo(patient); !strings.Contains(got, "Te recomiendo la Sucursal Norte") {
		t.Fatalf("expected Norte to be recommended, got %q", got)
	}

	h.say("si")
	h.expectStep(patient, models.StepBookingDateTime)
	if got := h.session(patient).Booking.BranchID; got != "2" {
		t.Errorf("expected recommended branch to be preselected, got %q", got)
	}
}

func TestHaversine(t *testing.T) {
	// About 4.7 km across La Paz.
	km := haversineKm(-16.5000, -68.1500, -16.5133, -68.1925)
	if km < 4 || km > 6 {
		t.Errorf("unexpected distance %.2f km", km)
	}
	if d := haversineKm(-16.5, -68.1, -16.5, -68.1); d != 0 {
		t.Errorf("distance to self = %v", d)
	}
}

func TestSpecialtyAnswerAndPriceFollowUp(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")

	h.say("especialidades")
	h.expectStep(patient, models.StepSpecialtyWhich)
	h.say("ortodoncia")
	h.expectStep(patient, models.StepSpecialtyFollow)
	if !strings.Contains(h.lastTo(patient), "*Ortodoncia*") {
		t.Errorf("unexpected specialty answer %q", h.lastTo(patient))
	}

	h.say("cuanto cuesta")
	h.expectStep(patient, models.StepPricingFollow)
	if got := h.lastTo(patient); !strings.Contains(got, "5,000 Bs.") || strings.Contains(got, "3,000 Bs.") {
		t.Errorf("expected only the ortodoncia price, got %q", got)
	}
}

func TestUnknownSpecialtyListsOptions(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")

	h.say("especialidades")
	h.say("cardiología")
	h.expectStep(patient, models.StepSpecialtyWhich)
	if !strings.Contains(h.lastTo(patient), "no tengo información sobre esa especialidad") {
		t.Errorf("unexpected reply %q", h.lastTo(patient))
	}
}

func TestPricingListsAllAndHandlesDiscount(t *testing.T) {
	h := newHarness(t)
	h.register(patient, "Ana")

	h.say("precios")
	all := h.lastTo(patient)
	for _, p := range []string{"3,000 Bs.", "5,000 Bs.", "15,000 - 20,000 Bs."} {
		if !strings.Contains(all, p) {
			t.Errorf("price list %q missing %q", all, p)
		}
	}
	if !h.session(patient).FAQ.ShowedAllPrices {
		t.Error("expected all prices to be flagged as shown")
	}

	h.say("hay descuento?")
	h.expectStep(patient, models.StepPricingFollow)
	if !strings.Contains(h.lastTo(patient), "opciones de pago") {
		t.Errorf("expected discount reply, got %q", h.lastTo(patient))
	}

	h.say("no")
	if !strings.Contains(h.lastTo(patient), "cuando desees puedes visitarnos") {
		t.Errorf("unexpected reply %q", h.lastTo(patient))
	}
	h.expectIdle(patient)
}

func TestHandoffNotifiesAdminAndSilencesBot(t *testing.T) {
	h := newHarness(t, WithClassifier(fixedClassifier(models.IntentHandoff)))
	h.register(patient, "Ana")

	h.say("quiero hablar con el doctor")
	c, _ := h.store.FindByPhone(context.Background(), patient)
	if c.Status != models.StatusAwaitingHuman {
		t.Fatalf("expected AWAITING_HUMAN, got %s", c.Status)
	}
	if got := h.lastTo(adminID); !strings.Contains(got, "NUEVA CONSULTA MÉDICA") || !strings.Contains(got, "+"+patient) {
		t.Errorf("unexpected admin notification %q", got)
	}
	testutil.AssertHistoryCount(t, h.store, patient, models.IntentHandoff, 1)

	h.say("hola??")
	if got := h.lastTo(patient); got != msgHandoffPending {
		t.Errorf("expected pending reply, got %q", got)
	}

	h.sayAs(adminID, "estado 71234567")
	if !strings.Contains(h.lastTo(adminID), "Estado actualizado exitosamente") {
		t.Errorf("unexpected admin reply %q", h.lastTo(adminID))
	}
	c, _ = h.store.FindByPhone(context.Background(), patient)
	if c.Status != models.StatusActive {
		t.Errorf("expected ACTIVE after admin command, got %s", c.Status)
	}
}

func TestChatUsesPreviousExchanges(t *testing.T) {
	llm := testutil.NewScriptedLLM("Primera respuesta", "Segunda respuesta")
	h := newHarness(t, WithClassifier(fixedClassifier(models.IntentLLMFallback)), WithChatModel(llm, ""))
	h.register(patient, "Ana")

	h.say("me duele una muela")
	if got := h.lastTo(patient); got != "Primera respuesta" {
		t.Fatalf("unexpected chat reply %q", got)
	}
	h.say("y qué hago?")
	if got := h.lastTo(patient); got != "Segunda respuesta" {
		t.Fatalf("unexpected chat reply %q", got)
	}
	if len(llm.Calls) != 2 || len(llm.Calls[1]) != 3 {
		t.Fatalf("expected the second call to carry one previous exchange, got %+v", llm.Calls)
	}
	if llm.Calls[1][0].Content != "me duele una muela" || llm.Calls[1][1].Content != "Primera respuesta" {
		t.Errorf("unexpected context %+v", llm.Calls[1])
	}
	testutil.AssertHistoryCount(t, h.store, patient, models.IntentLLMFallback, 2)
}

func TestChatContextSpansIntentsAndSkipsErrors(t *testing.T) {
	llm := testutil.NewScriptedLLM("Respuesta")
	h := newHarness(t, WithClassifier(fixedClassifier(models.IntentLLMFallback)), WithChatModel(llm, ""))
	h.register(patient, "Ana")
	ctx := context.Background()
	for _, entry := range []models.HistoryEntry{
		{Intent: models.IntentGreeting, Question: "hola", Response: "¡Hola Ana!"},
		{Intent: models.IntentHours, Question: "horarios", Response: "Atendemos de 8 a 18"},
		{Intent: models.IntentLLMFallback, Question: "duele?", Response: msgChatUnavailable},
		{Intent: models.IntentBook, Question: "agendar", Response: genericError[0]},
	} {
		if err := h.store.AppendHistory(ctx, patient, entry); err != nil {
			t.Fatal(err)
		}
	}

	h.say("y los sábados?")
	if len(llm.Calls) != 1 || len(llm.Calls[0]) != 5 {
		t.Fatalf("expected two previous exchanges plus the question, got %+v", llm.Calls)
	}
	msgs := llm.Calls[0]
	if msgs[0].Content != "hola" || msgs[2].Content != "horarios" || msgs[3].Content != "Atendemos de 8 a 18" {
		t.Errorf("context should hold the last non-error exchanges, got %+v", msgs)
	}
	if msgs[4].Content != "y los sábados?" {
		t.Errorf("question should come last, got %+v", msgs[4])
	}
}

func TestChatFailureIsNotRecorded(t *testing.T) {
	llm := testutil.NewScriptedLLM()
	llm.Err = errors.New("quota")
	h := newHarness(t, WithClassifier(fixedClassifier(models.IntentLLMFallback)), WithChatModel(llm, ""))
	h.register(patient, "Ana")

	h.say("pregunta")
	if got := h.lastTo(patient); got != msgChatUnavailable {
		t.Errorf("expected unavailable reply, got %q", got)
	}
	testutil.AssertHistoryCount(t, h.store, patient, models.IntentLLMFallback, 0)
}

func TestAdminBlockListUnblock(t *testing.T) {
	h := newHarness(t)

	h.sayAs(adminID, "bloquear")
	if !strings.Contains(h.lastTo(adminID), "Formato incorrecto") {
		t.Errorf("unexpected reply %q", h.lastTo(adminID))
	}
	h.sayAs(adminID, "bloquear 12")
	if !strings.Contains(h.lastTo(adminID), "Número inválido") {
		t.Errorf("unexpected reply %q", h.lastTo(adminID))
	}

	h.sayAs(adminID, "bloquear 71234567")
	if !strings.Contains(h.lastTo(adminID), "bloqueado exitosamente") {
		t.Fatalf("unexpected reply %q", h.lastTo(adminID))
	}
	if blocked, _ := h.store.IsBlocked(context.Background(), patient); !blocked {
		t.Fatal("local number should block the canonical sender")
	}
	h.sayAs(adminID, "bloquear 71234567")
	if !strings.Contains(h.lastTo(adminID), "ya está en la lista negra") {
		t.Errorf("unexpected reply %q", h.lastTo(adminID))
	}

	h.sayAs(adminID, "listar")
	if got := h.lastTo(adminID); !strings.Contains(got, "(1)") || !strings.Contains(got, "+"+patient) {
		t.Errorf("unexpected list %q", got)
	}

	h.sayAs(adminID, "desbloquear 71234567")
	if !strings.Contains(h.lastTo(adminID), "desbloqueado exitosamente") {
		t.Errorf("unexpected reply %q", h.lastTo(adminID))
	}
	h.sayAs(adminID, "listar")
	if got := h.lastTo(adminID); got != "📋 La lista negra está vacía" {
		t.Errorf("unexpected list %q", got)
	}

	h.sayAs(adminID, "ayuda")
	if got := h.lastTo(adminID); got != adminHelp {
		t.Errorf("expected help text, got %q", got)
	}
}

func TestAdminScheduleCreatesEvent(t *testing.T) {
	llm := testutil.NewScriptedLLM(`{"nombre":"juan pérez","email":"juan@empresa.com","telefono":"71112222","fecha":"2026-03-12","hora":"10:00","motivo":"control"}`)
	h := newHarness(t, WithExtractor(llm))

	h.sayAs(adminID, "agendar")
	h.expectStep(adminID, models.StepAdminScheduleData)
	h.sayAs(adminID, "Juan Pérez, juan@empresa.com, 71112222, jueves 10am, control")
	h.expectStep(adminID, models.StepAdminScheduleConfirm)
	if got := h.lastTo(adminID); !strings.Contains(got, "Juan Pérez") || !strings.Contains(got, "10:00 - 11:00") {
		t.Fatalf("unexpected draft %q", got)
	}

	h.sayAs(adminID, "sí")
	h.expectIdle(adminID)
	if !strings.Contains(h.lastTo(adminID), "Cita creada exitosamente") {
		t.Errorf("unexpected reply %q", h.lastTo(adminID))
	}
	appts, _ := h.cal.ListEvents(context.Background(), "71112222", h.clock.Now())
	if len(appts) != 1 || appts[0].Title != "Cita - Juan Pérez" {
		t.Errorf("unexpected events %+v", appts)
	}
}

func TestAdminScheduleMissingFields(t *testing.T) {
	llm := testutil.NewScriptedLLM(`{"nombre":"juan","fecha":"","hora":""}`)
	h := newHarness(t, WithExtractor(llm))

	h.sayAs(adminID, "agendar")
	h.sayAs(adminID, "juan")
	if got := h.lastTo(adminID); !strings.Contains(got, "Faltan datos: fecha, hora") {
		t.Errorf("unexpected reply %q", got)
	}
	h.expectStep(adminID, models.StepAdminScheduleData)
}

func TestAdminCashReport(t *testing.T) {
	h := newHarness(t)
	loc := h.clock.Now().Location()
	ctx := context.Background()
	for _, tx := range []models.Transaction{
		{Type: models.TransactionIncome, Amount: 300, Description: "Consulta", Date: time.Date(2026, 3, 10, 8, 30, 0, 0, loc)},
		{Type: models.TransactionExpense, Amount: 50, Description: "Material", Date: time.Date(2026, 3, 10, 8, 45, 0, 0, loc)},
	} {
		if err := h.store.AddTransaction(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	h.sayAs(adminID, "arqueo")
	got := h.lastTo(adminID)
	for _, want := range []string{"Ingresos: Bs. 300.00", "Egresos: Bs. 50.00", "Saldo: Bs. 250.00", "08:45 - ➖ Egreso: Bs. 50.00", "Consulta"} {
		if !strings.Contains(got, want) {
			t.Errorf("report %q missing %q", got, want)
		}
	}

	if err := h.engine.SendCashReport(ctx); err != nil {
		t.Fatalf("SendCashReport: %v", err)
	}
	if h.lastTo(adminID) != got {
		t.Errorf("pushed report differs from the command output")
	}
}

func TestCashReportEmpty(t *testing.T) {
	if got := CashReport(nil); !strings.Contains(got, "No hay transacciones registradas para hoy") {
		t.Errorf("unexpected empty report %q", got)
	}
}
