package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/validate"
)

// maxNameAttempts is how many invalid names end the registration flow.
const maxNameAttempts = 3

// startRegistration asks a new customer for their name. The message that
// opened the conversation is kept and classified once the name is stored.
func (e *Engine) startRegistration(ctx context.Context, t *turn) {
	t.sess.Registration = models.RegistrationData{PendingMessage: t.Text}
	slog.Info("flow Engine registration started", "user", t.UserID)
	e.reply(ctx, t.UserID, pick(registrationWelcome, nil))
	t.await(models.FlowRegistration, models.StepRegistrationName)
}

func (e *Engine) captureName(ctx context.Context, t *turn) {
	reg := &t.sess.Registration
	verdict := e.opts.Names.Check(ctx, t.Text)
	if !verdict.Valid {
		reg.Attempts++
		slog.Debug("flow Engine registration name rejected", "user", t.UserID, "attempts", reg.Attempts, "ai", verdict.UsedAI)
		reason := verdict.Reason
		if reason == "" {
			reason = msgNameDefault
		}
		if reg.Attempts >= maxNameAttempts {
			e.reply(ctx, t.UserID, reason, msgNameAttempts)
			return
		}
		e.reply(ctx, t.UserID, reason)
		t.await(models.FlowRegistration, models.StepRegistrationName)
		return
	}

	name := validate.FormatName(t.Text)
	status := models.StatusActive
	if err := e.records.Upsert(ctx, t.UserID, models.CustomerUpdate{Name: &name, Status: &status}); err != nil {
		slog.Error("flow Engine registration upsert failed", "user", t.UserID, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("store")
		e.reply(ctx, t.UserID, msgRegisterFailed)
		return
	}
	t.customer = &models.Customer{Phone: t.UserID, Name: name, Status: status, CreatedAt: t.now, UpdatedAt: t.now}
	t.loaded = true
	slog.Info("flow Engine customer registered", "user", t.UserID)
	e.reply(ctx, t.UserID, named(registrationThanks, name))

	pending := reg.PendingMessage
	t.sess.Registration = models.RegistrationData{}
	if pending == "" {
		return
	}
	t.Text = pending
	e.classify(ctx, t)
}

// greet answers a greeting. A customer who already talked to the bot today
// gets the shorter variants, and a greeting is recorded only when the
// previous history entry was something else.
func (e *Engine) greet(ctx context.Context, t *turn) {
	last, err := e.records.LastHistoryEntry(ctx, t.UserID)
	if err != nil {
		slog.Error("flow Engine greeting history lookup failed", "user", t.UserID, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("store")
		e.reply(ctx, t.UserID, msgLookupFailed)
		return
	}
	variants := greetingNewDay
	if last != nil && sameDay(last.CreatedAt, t.now) {
		variants = greetingSameDay
	}
	msg := named(variants, e.nameOf(ctx, t))
	if last == nil || last.Intent != models.IntentGreeting {
		e.record(ctx, t, models.IntentGreeting, msg)
	}
	e.reply(ctx, t.UserID, msg)
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
