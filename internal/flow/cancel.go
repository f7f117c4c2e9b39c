package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/CitaBot/internal/calendar"
	"github.com/BTreeMap/CitaBot/internal/datetime"
	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/util"
	"github.com/BTreeMap/CitaBot/internal/validate"
)

// startCancel lists the customer's upcoming appointments.
func (e *Engine) startCancel(ctx context.Context, t *turn) {
	e.reply(ctx, t.UserID, msgSearchingAppts)
	appts, err := e.opts.Calendar.ListEvents(ctx, util.LocalBolivian(t.UserID), t.now)
	if err != nil {
		slog.Error("flow Engine appointment search failed", "user", t.UserID, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("calendar")
		e.reply(ctx, t.UserID, msgSearchFailed)
		return
	}
	if len(appts) == 0 {
		e.reply(ctx, t.UserID, msgNoAppointments)
		return
	}
	t.sess.Cancel = models.CancelData{Appointments: appts}

	var sb strings.Builder
	sb.WriteString("Tus citas agendadas:\n")
	for i, a := range appts {
		fmt.Fprintf(&sb, "\n*%d.* %s\n   📌 %s", i+1, datetime.FormatDateTime(a.Start.In(t.now.Location())), a.Title)
	}
	sb.WriteString("\n\n¿Cuál quieres cancelar? (Responde con el número)")
	e.reply(ctx, t.UserID, sb.String())
	t.await(models.FlowCancel, models.StepCancelSelect)
}

func (e *Engine) captureCancelSelect(ctx context.Context, t *turn) {
	c := &t.sess.Cancel
	if validate.CancelCommand(t.Text) || validate.Fold(t.Text) == "salir" {
		e.reply(ctx, t.UserID, msgOperationAborted)
		return
	}
	n, err := strconv.Atoi(strings.Trim(t.Text, " .)*"))
	if err != nil || n < 1 || n > len(c.Appointments) {
		e.reply(ctx, t.UserID, fmt.Sprintf("❌ Opción inválida.\nPor favor responde con un número entre 1 y %d", len(c.Appointments)))
		t.await(models.FlowCancel, models.StepCancelSelect)
		return
	}
	c.Selected = n
	a := c.Appointments[n-1]
	e.reply(ctx, t.UserID, fmt.Sprintf("📅 %s\n📌 %s\n\n%s", datetime.FormatDateTime(a.Start.In(t.now.Location())), a.Title, msgCancelAsk))
	t.await(models.FlowCancel, models.StepCancelConfirm)
}

// cancelWords are dropped before reading the confirmation, so "sí, cancélala"
// counts as a yes.
var cancelWords = strings.NewReplacer("cancelarla", "", "cancelala", "", "cancelar", "", "cancela", "")

func (e *Engine) captureCancelConfirm(ctx context.Context, t *turn) {
	c := &t.sess.Cancel
	switch validate.YesNo(cancelWords.Replace(validate.Fold(t.Text))) {
	case validate.No:
		e.reply(ctx, t.UserID, msgCancelKept)
		return
	case validate.Unclear:
		e.reply(ctx, t.UserID, msgYesNoRetry)
		t.await(models.FlowCancel, models.StepCancelConfirm)
		return
	}
	if c.Selected < 1 || c.Selected > len(c.Appointments) {
		slog.Error("flow Engine cancel selection out of range", "user", t.UserID, "selected", c.Selected, "count", len(c.Appointments))
		e.reply(ctx, t.UserID, msgCancelFailed)
		return
	}
	a := c.Appointments[c.Selected-1]

	e.reply(ctx, t.UserID, msgCancelling)
	err := e.opts.Calendar.DeleteEvent(ctx, a.EventID)
	switch {
	case errors.Is(err, calendar.ErrEventNotFound):
		slog.Warn("flow Engine appointment already gone", "user", t.UserID, "event", a.EventID)
		e.reply(ctx, t.UserID, msgCancelGone)
		return
	case err != nil:
		slog.Error("flow Engine appointment delete failed", "user", t.UserID, "event", a.EventID, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("calendar")
		e.reply(ctx, t.UserID, msgCancelFailed)
		return
	}
	slog.Info("flow Engine appointment cancelled", "user", t.UserID, "event", a.EventID)
	msg := fmt.Sprintf("✅ *Cita cancelada exitosamente*\n\n📅 %s\n📌 %s", datetime.FormatDateTime(a.Start.In(t.now.Location())), a.Title)
	e.record(ctx, t, models.IntentCancel, msg)
	e.reply(ctx, t.UserID, msg)
}
