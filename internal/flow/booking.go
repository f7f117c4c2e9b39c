package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CitaBot/internal/calendar"
	"github.com/BTreeMap/CitaBot/internal/datetime"
	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/store"
	"github.com/BTreeMap/CitaBot/internal/util"
	"github.com/BTreeMap/CitaBot/internal/validate"
)

// startBooking opens a Pending Reservation. A branch recommended by the
// location flow is taken as chosen and the branch question is skipped.
func (e *Engine) startBooking(ctx context.Context, t *turn) {
	recommended := t.sess.FAQ.RecommendedBranch
	t.sess.Booking = models.BookingData{}
	t.sess.FAQ = models.FAQData{}
	slog.Info("flow Engine booking started", "user", t.UserID, "branch", recommended)

	if b, ok := models.FindBranch(e.opts.Branches, recommended); ok {
		t.sess.Booking.BranchID = b.ID
		e.reply(ctx, t.UserID, branchHours(b), pick(askDate, nil))
		t.await(models.FlowBooking, models.StepBookingDateTime)
		return
	}
	e.reply(ctx, t.UserID, e.branchMenu())
	t.await(models.FlowBooking, models.StepBookingBranch)
}

func (e *Engine) branchMenu() string {
	var sb strings.Builder
	sb.WriteString("🏥 *Tenemos dos sucursales:*\n")
	for _, b := range e.opts.Branches {
		fmt.Fprintf(&sb, "\n*%s.* %s\n📍 %s\n⏰ %s de %s\n", b.ID, b.Name, b.Address, b.DaysLabel, b.HoursLabel)
	}
	sb.WriteString("\n¿Cuál te queda más cerca? (Responde con el número de sucursal)")
	return sb.String()
}

func branchHours(b models.Branch) string {
	return fmt.Sprintf("⏰ *Horario de atención*: %s de %s", b.DaysLabel, b.HoursLabel)
}

// abortBooking ends the booking flow on a cancel command.
func (e *Engine) abortBooking(ctx context.Context, t *turn) {
	slog.Info("flow Engine booking abandoned", "user", t.UserID)
	e.reply(ctx, t.UserID, pick(processCancelled, nil))
}

func (e *Engine) captureBranch(ctx context.Context, t *turn) {
	if validate.CancelCommand(t.Text) {
		e.abortBooking(ctx, t)
		return
	}
	choice := strings.Trim(t.Text, " .)*")
	b, ok := models.FindBranch(e.opts.Branches, choice)
	if !ok {
		e.reply(ctx, t.UserID, msgInvalidBranch)
		t.await(models.FlowBooking, models.StepBookingBranch)
		return
	}
	t.sess.Booking.BranchID = b.ID
	e.react(ctx, t.Ref, "👍")
	e.reply(ctx, t.UserID, branchHours(b), pick(askDate, nil))
	t.await(models.FlowBooking, models.StepBookingDateTime)
}

// captureDateTime resolves the requested start. A pending suggestion is
// answered first, so a plain "no" rejects it rather than the booking; a
// partial date or hour from an earlier turn is combined with this one.
func (e *Engine) captureDateTime(ctx context.Context, t *turn) {
	b := &t.sess.Booking
	if b.Suggestion != nil {
		switch validate.SuggestionReply(t.Text) {
		case validate.Yes:
			e.acceptSuggestion(ctx, t)
			return
		case validate.No:
			b.Suggestion = nil
			e.reply(ctx, t.UserID, named(askAnotherDate, e.nameOf(ctx, t)))
			t.await(models.FlowBooking, models.StepBookingDateTime)
			return
		}
	}
	if validate.CancelCommand(t.Text) {
		e.abortBooking(ctx, t)
		return
	}
	b.Suggestion = nil

	text := e.opts.Speller.Correct(ctx, t.Text)
	var res datetime.Result
	switch {
	case b.PartialDate != nil:
		res = e.opts.Resolver.CombineTime(*b.PartialDate, text, t.now)
	case b.PartialHour != nil:
		res = e.opts.Resolver.CombineDate(*b.PartialHour, b.PartialMinute, text, t.now)
	default:
		res = e.opts.Resolver.Resolve(text, t.now)
	}
	slog.Debug("flow Engine booking datetime", "user", t.UserID, "outcome", res.Outcome, "corrected", res.Corrected)

	switch res.Outcome {
	case datetime.OutcomeNeedTime:
		d := res.PartialDate
		b.PartialDate, b.PartialHour, b.PartialMinute = &d, nil, 0
		e.reply(ctx, t.UserID, res.Message)
		t.await(models.FlowBooking, models.StepBookingDateTime)
		return
	case datetime.OutcomeNeedDate:
		h := res.Hour
		b.PartialDate, b.PartialHour, b.PartialMinute = nil, &h, res.Minute
		e.reply(ctx, t.UserID, res.Message)
		t.await(models.FlowBooking, models.StepBookingDateTime)
		return
	case datetime.OutcomeRejected:
		b.PartialDate, b.PartialHour, b.PartialMinute = nil, nil, 0
		e.reply(ctx, t.UserID, res.Message)
		t.await(models.FlowBooking, models.StepBookingDateTime)
		return
	case datetime.OutcomeUnparsed:
		e.reply(ctx, t.UserID, res.Message)
		t.await(models.FlowBooking, models.StepBookingDateTime)
		return
	}
	b.PartialDate, b.PartialHour, b.PartialMinute = nil, nil, 0

	start := res.Time
	branch, _ := models.FindBranch(e.opts.Branches, b.BranchID)
	if msg, ok := branchRule(branch, start); !ok {
		e.reply(ctx, t.UserID, msg)
		t.await(models.FlowBooking, models.StepBookingDateTime)
		return
	}
	e.checkSlot(ctx, t, branch, start)
}

// branchRule checks start against the branch's own days and hours.
func branchRule(b models.Branch, start time.Time) (string, bool) {
	if b.ID == "" || b.OpenAt(start) {
		return "", true
	}
	for _, d := range b.Weekdays {
		if start.Weekday() == d {
			return fmt.Sprintf("❌ La sucursal seleccionada solo atiende de %s. Por favor, selecciona otro horario.", b.HoursLabel), false
		}
	}
	return fmt.Sprintf("❌ La sucursal seleccionada solo atiende los días %s. Por favor, selecciona otro horario.", b.DaysLabel), false
}

func (e *Engine) checkSlot(ctx context.Context, t *turn, branch models.Branch, start time.Time) {
	b := &t.sess.Booking
	end := start.Add(calendar.DefaultSlotDuration)

	e.reply(ctx, t.UserID, msgChecking)
	avail, err := e.opts.Calendar.CheckAvailability(ctx, start, end, b.BranchID)
	if err != nil {
		slog.Error("flow Engine availability check failed", "user", t.UserID, "branch", b.BranchID, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("calendar")
		e.reply(ctx, t.UserID, msgCheckFailed)
		t.await(models.FlowBooking, models.StepBookingDateTime)
		return
	}
	if avail.Available {
		b.Start, b.End = start, end
		e.reply(ctx, t.UserID, pick(slotAvailable, nil))
		e.askNameConfirm(ctx, t)
		return
	}
	if avail.Suggestion == nil {
		e.reply(ctx, t.UserID, pick(slotTaken, nil), msgNoSuggestion)
		t.await(models.FlowBooking, models.StepBookingDateTime)
		return
	}

	b.Suggestion = avail.Suggestion
	sb := branch
	if s, ok := models.FindBranch(e.opts.Branches, avail.Suggestion.BranchID); ok {
		sb = s
	}
	e.reply(ctx, t.UserID, fmt.Sprintf("%s\n\n📅 *Sugerencia de horario disponible:*\n⏰ %s\n🏢 %s\n📍 %s\n\n¿Te funciona este horario? (Responde \"sí\" o \"no\")",
		pick(slotTaken, nil), datetime.FormatDateTime(avail.Suggestion.Start), sb.Name, sb.Address))
	t.await(models.FlowBooking, models.StepBookingDateTime)
}

func (e *Engine) acceptSuggestion(ctx context.Context, t *turn) {
	b := &t.sess.Booking
	sg := b.Suggestion
	b.Suggestion = nil
	b.Start, b.End = sg.Start, sg.End
	if sg.BranchID != "" {
		b.BranchID = sg.BranchID
	}
	branch, _ := models.FindBranch(e.opts.Branches, b.BranchID)
	e.reply(ctx, t.UserID, fmt.Sprintf("Perfecto! \n📅 %s\n🏢 %s\n\nSigamos...", datetime.FormatDateTime(b.Start), branch.Name))
	e.askNameConfirm(ctx, t)
}

func (e *Engine) askNameConfirm(ctx context.Context, t *turn) {
	name := e.nameOf(ctx, t)
	if name == "" {
		e.reply(ctx, t.UserID, pick(askName, nil))
		t.await(models.FlowBooking, models.StepBookingNewName)
		return
	}
	e.reply(ctx, t.UserID, named(confirmName, name))
	t.await(models.FlowBooking, models.StepBookingNameConfirm)
}

// captureNameConfirm treats a bare "no" as the answer: it asks for another
// name. Explicit commands like "cancelar" still end the booking.
func (e *Engine) captureNameConfirm(ctx context.Context, t *turn) {
	if validate.CancelCommand(t.Text) && !validate.BareNo(t.Text) {
		e.abortBooking(ctx, t)
		return
	}
	switch validate.YesNo(t.Text) {
	case validate.Yes:
		t.sess.Booking.Name = e.nameOf(ctx, t)
		e.askEmail(ctx, t)
	case validate.No:
		e.reply(ctx, t.UserID, pick(askName, nil))
		t.await(models.FlowBooking, models.StepBookingNewName)
	default:
		e.reply(ctx, t.UserID, msgYesNoRetry)
		t.await(models.FlowBooking, models.StepBookingNameConfirm)
	}
}

func (e *Engine) captureNewName(ctx context.Context, t *turn) {
	if validate.CancelCommand(t.Text) {
		e.abortBooking(ctx, t)
		return
	}
	if err := validate.BookingName(t.Text); err != nil {
		e.reply(ctx, t.UserID, validate.Reason(err))
		t.await(models.FlowBooking, models.StepBookingNewName)
		return
	}
	t.sess.Booking.Name = validate.FormatName(t.Text)
	e.askEmail(ctx, t)
}

// askEmail skips the question when the customer already has an e-mail on file.
func (e *Engine) askEmail(ctx context.Context, t *turn) {
	if c := e.customerOf(ctx, t); c != nil && c.Email != "" {
		t.sess.Booking.Email = c.Email
		e.askReason(ctx, t)
		return
	}
	e.reply(ctx, t.UserID, pick(askEmail, nil))
	t.await(models.FlowBooking, models.StepBookingEmail)
}

func (e *Engine) captureEmail(ctx context.Context, t *turn) {
	if validate.CancelCommand(t.Text) {
		e.abortBooking(ctx, t)
		return
	}
	if t.voice {
		e.reply(ctx, t.UserID, msgEmailByVoice)
		t.await(models.FlowBooking, models.StepBookingEmail)
		return
	}
	if validate.NoEmail(t.Text) {
		t.sess.Booking.Email = ""
		e.askReason(ctx, t)
		return
	}
	if err := validate.Email(t.Text); err != nil {
		e.reply(ctx, t.UserID, validate.Reason(err))
		t.await(models.FlowBooking, models.StepBookingEmail)
		return
	}
	email := strings.ToLower(strings.TrimSpace(t.Text))
	t.sess.Booking.Email = email
	if err := store.UpsertEmail(ctx, e.records, t.UserID, email); err != nil {
		slog.Warn("flow Engine email upsert failed", "user", t.UserID, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("store")
	}
	e.askReason(ctx, t)
}

func (e *Engine) askReason(ctx context.Context, t *turn) {
	e.reply(ctx, t.UserID, pick(askReason, nil))
	t.await(models.FlowBooking, models.StepBookingReason)
}

func (e *Engine) captureReason(ctx context.Context, t *turn) {
	if validate.CancelCommand(t.Text) {
		e.abortBooking(ctx, t)
		return
	}
	if err := validate.Description(t.Text); err != nil {
		e.reply(ctx, t.UserID, validate.Reason(err))
		t.await(models.FlowBooking, models.StepBookingReason)
		return
	}
	t.sess.Booking.Reason = strings.TrimSpace(t.Text)
	e.reply(ctx, t.UserID, e.bookingSummary(t.sess.Booking))
	t.await(models.FlowBooking, models.StepBookingConfirm)
}

func (e *Engine) bookingSummary(b models.BookingData) string {
	email := b.Email
	if email == "" {
		email = "sin correo"
	}
	branch, _ := models.FindBranch(e.opts.Branches, b.BranchID)
	return fmt.Sprintf("*Resumen de tu cita*:\n• Nombre: *%s*\n• Email: *%s*\n• Sucursal: *%s*\n• Fecha y hora: *%s*\n• Motivo: *%s*\n¿Quieres confirmar? *(Sí/No)*",
		b.Name, email, branch.Name, datetime.FormatDateTime(b.Start), b.Reason)
}

func (e *Engine) captureBookingConfirm(ctx context.Context, t *turn) {
	switch validate.YesNo(t.Text) {
	case validate.Yes:
		e.commitBooking(ctx, t)
	case validate.No:
		slog.Info("flow Engine booking declined", "user", t.UserID)
		e.reply(ctx, t.UserID, msgBookingAborted)
	default:
		e.reply(ctx, t.UserID, msgYesNoRetry)
		t.await(models.FlowBooking, models.StepBookingConfirm)
	}
}

// commitBooking creates the calendar event. Exactly one BOOK history entry
// is written on success and none on failure; the session ends either way.
func (e *Engine) commitBooking(ctx context.Context, t *turn) {
	b := t.sess.Booking
	if !b.Complete() {
		slog.Error("flow Engine booking incomplete at commit", "user", t.UserID, "branch", b.BranchID, "start", b.Start)
		e.reply(ctx, t.UserID, msgCreateFailed)
		return
	}
	branch, _ := models.FindBranch(e.opts.Branches, b.BranchID)
	phone := util.LocalBolivian(t.UserID)
	contact := b.Email
	if contact == "" {
		contact = "-"
	}

	e.reply(ctx, t.UserID, msgCreating)
	appt, err := e.opts.Calendar.CreateEvent(ctx, calendar.Event{
		Title:       "Cita - " + b.Name,
		Description: fmt.Sprintf("Motivo: %s\nContacto: %s\nTeléfono: %s\nSucursal: %s", b.Reason, contact, phone, branch.Name),
		Start:       b.Start,
		End:         b.End,
		Phone:       phone,
		Email:       b.Email,
		BranchID:    b.BranchID,
	})
	if err != nil {
		slog.Error("flow Engine booking commit failed", "user", t.UserID, "branch", b.BranchID, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("calendar")
		e.reply(ctx, t.UserID, msgCreateFailed)
		return
	}
	slog.Info("flow Engine booking committed", "user", t.UserID, "event", appt.EventID, "branch", b.BranchID, "start", b.Start)

	done := named(bookingDone, b.Name)
	e.record(ctx, t, models.IntentBook, fmt.Sprintf("%s %s, %s", done, datetime.FormatDateTime(b.Start), branch.Name))
	e.reply(ctx, t.UserID, done)

	if b.Email != "" {
		if err := e.opts.Mailer.SendBookingConfirmation(ctx, b.Email, b.Name, b.Start, branch); err != nil {
			slog.Warn("flow Engine confirmation mail failed", "user", t.UserID, "error", err)
			e.opts.Metrics.ObserveCollaboratorError("mailer")
		}
	}
}
