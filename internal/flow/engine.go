package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/util"
)

// expireTimeout bounds the work done when an inactivity timer fires.
const expireTimeout = 30 * time.Second

// Turn is one settled unit of user input: a debounced text batch, a voice
// note still to be transcribed, or a shared location.
type Turn struct {
	UserID   string
	Text     string
	Ref      models.MessageRef
	Voice    *models.VoiceNote
	Location *models.LocationShare
}

// turn is the working state of one Turn while its handlers run.
type turn struct {
	Turn
	sess     *models.Session
	now      time.Time
	voice    bool
	customer *models.Customer
	loaded   bool
}

func (t *turn) await(flow models.FlowID, step models.StepID) {
	t.sess.Await(flow, step)
}

// HandleEvent routes one inbound event. Blocked senders are dropped before
// anything is read or sent. Texts from patients go through the debounce
// queue; everything else starts its turn right away.
func (e *Engine) HandleEvent(ctx context.Context, ev models.InboundEvent) {
	e.HandleEventThen(ctx, ev, nil)
}

// HandleEventThen is HandleEvent with a callback that runs once the turn
// carrying ev has finished, or right away when ev starts no turn.
func (e *Engine) HandleEventThen(ctx context.Context, ev models.InboundEvent, done func()) {
	if done == nil {
		done = func() {}
	}
	userID := util.CanonicalPhone(ev.Sender())
	if userID == "" {
		slog.Warn("flow Engine HandleEvent dropping event without sender", "kind", models.EventKind(ev))
		done()
		return
	}
	if e.blocked(ctx, userID) {
		slog.Info("flow Engine HandleEvent dropping blocked sender", "user", userID, "kind", models.EventKind(ev))
		done()
		return
	}

	switch v := ev.(type) {
	case models.CallEvent:
		e.async(func() {
			defer done()
			e.handleCall(ctx, userID, v)
		})
	case models.TextMessage:
		if strings.TrimSpace(v.Body) == "" {
			done()
			return
		}
		e.opts.Timer.Stop(userID)
		if e.isAdmin(userID) {
			e.markRead(ctx, v.Ref)
			e.async(func() {
				defer done()
				e.HandleTurn(ctx, Turn{UserID: userID, Text: v.Body, Ref: v.Ref})
			})
			return
		}
		ref := v.Ref
		e.opts.Debounce.Enqueue(userID, v.Body, ref, func(text, user string) {
			e.HandleTurn(ctx, Turn{UserID: user, Text: text, Ref: ref})
		}, done)
	case models.VoiceNote:
		e.opts.Timer.Stop(userID)
		e.markRead(ctx, v.Ref)
		note := v
		e.async(func() {
			defer done()
			e.HandleTurn(ctx, Turn{UserID: userID, Ref: v.Ref, Voice: &note})
		})
	case models.LocationShare:
		e.opts.Timer.Stop(userID)
		e.markRead(ctx, v.Ref)
		loc := v
		e.async(func() {
			defer done()
			e.HandleTurn(ctx, Turn{UserID: userID, Ref: v.Ref, Location: &loc})
		})
	default:
		slog.Debug("flow Engine HandleEvent ignoring event", "user", userID, "kind", models.EventKind(ev))
		done()
	}
}

// HandleTurn runs one turn to completion under the user's lock.
func (e *Engine) HandleTurn(ctx context.Context, in Turn) {
	e.opts.Registry.Do(in.UserID, func() { e.runTurn(ctx, in) })
}

func (e *Engine) runTurn(ctx context.Context, in Turn) {
	userID := in.UserID
	e.opts.Timer.Stop(userID)

	sess, err := e.opts.States.Load(ctx, userID)
	if err != nil {
		e.opts.Metrics.ObserveCollaboratorError("session")
		e.reply(ctx, userID, msgTurnFailed)
		return
	}
	t := &turn{Turn: in, sess: sess, now: e.now()}
	defer e.finish(ctx, t)

	if in.Voice != nil {
		text, err := e.transcribe(ctx, userID, *in.Voice)
		if err != nil {
			slog.Warn("flow Engine voice note failed", "user", userID, "error", err)
			e.opts.Metrics.ObserveCollaboratorError("transcriber")
			e.reply(ctx, userID, msgVoiceFailed, msgVoiceRetry)
			return
		}
		t.Text = text
		t.voice = true
	}
	t.Text = strings.TrimSpace(t.Text)
	sess.Message = t.Text
	sess.FromVoice = t.voice
	slog.Debug("flow Engine turn", "user", userID, "flow", sess.Flow, "step", sess.Step, "len", len(t.Text), "voice", t.voice, "location", t.Location != nil)

	if e.isAdmin(userID) {
		e.admin(ctx, t)
		return
	}
	if sess.Awaiting() {
		e.resume(ctx, t)
		return
	}
	e.entry(ctx, t)
}

// finish saves a suspended session and arms its timer, or clears a
// terminal one. A panic in a handler ends the turn with a generic error.
func (e *Engine) finish(ctx context.Context, t *turn) {
	if r := recover(); r != nil {
		slog.Error("flow Engine turn panicked", "user", t.UserID, "flow", t.sess.Flow, "step", t.sess.Step, "panic", r, "stack", string(debug.Stack()))
		e.reply(ctx, t.UserID, pick(genericError, nil))
		e.clear(ctx, t.UserID)
		return
	}
	if !t.sess.Awaiting() {
		e.clear(ctx, t.UserID)
		return
	}
	if err := e.opts.States.Save(ctx, t.sess); err != nil {
		e.opts.Metrics.ObserveCollaboratorError("session")
		e.reply(ctx, t.UserID, pick(genericError, nil))
		e.clear(ctx, t.UserID)
		return
	}
	e.arm(t.UserID)
	e.opts.Metrics.ObserveFlow(string(t.sess.Flow))
}

// resume hands the turn to the step the session is suspended on. The step
// is cleared first so a handler that does not await again ends the flow.
func (e *Engine) resume(ctx context.Context, t *turn) {
	step := t.sess.Step
	t.sess.Await(models.FlowNone, models.StepNone)

	h, ok := e.stepHandler(step)
	if !ok {
		slog.Warn("flow Engine resume unknown step", "user", t.UserID, "step", step)
		e.entry(ctx, t)
		return
	}
	h(ctx, t)
}

func (e *Engine) stepHandler(step models.StepID) (func(context.Context, *turn), bool) {
	switch step {
	case models.StepRegistrationName:
		return e.captureName, true
	case models.StepBookingBranch:
		return e.captureBranch, true
	case models.StepBookingDateTime:
		return e.captureDateTime, true
	case models.StepBookingNameConfirm:
		return e.captureNameConfirm, true
	case models.StepBookingNewName:
		return e.captureNewName, true
	case models.StepBookingEmail:
		return e.captureEmail, true
	case models.StepBookingReason:
		return e.captureReason, true
	case models.StepBookingConfirm:
		return e.captureBookingConfirm, true
	case models.StepCancelSelect:
		return e.captureCancelSelect, true
	case models.StepCancelConfirm:
		return e.captureCancelConfirm, true
	case models.StepHoursOffer, models.StepLocationOffer:
		return e.answerOffer, true
	case models.StepLocationDecide:
		return e.captureLocationDecide, true
	case models.StepLocationShare:
		return e.captureLocationShare, true
	case models.StepSpecialtyWhich:
		return e.captureSpecialtyWhich, true
	case models.StepSpecialtyFollow:
		return e.captureSpecialtyFollow, true
	case models.StepPricingFollow:
		return e.capturePricingFollow, true
	case models.StepAdminScheduleData:
		return e.captureAdminData, true
	case models.StepAdminScheduleConfirm:
		return e.captureAdminConfirm, true
	}
	return nil, false
}

// entry routes a turn that is not answering a capture step.
func (e *Engine) entry(ctx context.Context, t *turn) {
	cust, err := e.records.FindByPhone(ctx, t.UserID)
	if err != nil {
		slog.Error("flow Engine customer lookup failed", "user", t.UserID, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("store")
		e.reply(ctx, t.UserID, msgLookupFailed)
		return
	}
	t.customer, t.loaded = cust, true

	switch {
	case !cust.Registered():
		e.startRegistration(ctx, t)
	case cust.Status == models.StatusAwaitingHuman:
		slog.Debug("flow Engine customer awaiting human", "user", t.UserID)
		e.reply(ctx, t.UserID, msgHandoffPending)
	case t.Location != nil:
		e.recommendBranch(ctx, t)
	default:
		e.classify(ctx, t)
	}
}

// classify picks the intent of the turn's text and dispatches it.
func (e *Engine) classify(ctx context.Context, t *turn) {
	if t.Text == "" {
		e.reply(ctx, t.UserID, msgEmptyTurn)
		return
	}
	d := e.opts.Classifier.Classify(ctx, t.Text)
	e.opts.Metrics.ObserveIntent(string(d.Stage), string(d.Intent))
	slog.Info("flow Engine intent", "user", t.UserID, "intent", d.Intent, "stage", d.Stage, "keyword", d.Keyword, "score", d.Score)
	e.dispatch(ctx, t, d.Intent)
}

func (e *Engine) dispatch(ctx context.Context, t *turn, in models.Intent) {
	switch in {
	case models.IntentGreeting:
		e.greet(ctx, t)
	case models.IntentBook:
		e.startBooking(ctx, t)
	case models.IntentCancel:
		e.startCancel(ctx, t)
	case models.IntentHours:
		e.startHours(ctx, t)
	case models.IntentLocation:
		e.startLocation(ctx, t)
	case models.IntentSpecialties:
		e.startSpecialties(ctx, t)
	case models.IntentPricing:
		e.startPricing(ctx, t)
	case models.IntentHandoff:
		e.handoff(ctx, t)
	case models.IntentLLMFallback:
		e.chat(ctx, t)
	default:
		slog.Debug("flow Engine no flow for intent", "user", t.UserID, "intent", in)
	}
}

// arm starts the inactivity timer of a suspended session.
func (e *Engine) arm(userID string) {
	e.opts.Timer.Restart(userID, e.opts.InactivityTimeout, func() { e.expire(userID) })
}

// expire ends a session that sat on a capture step for the whole
// inactivity window. A turn that started in the meantime either cleared
// the session or armed a new timer, and both leave nothing to do here.
func (e *Engine) expire(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()

	e.opts.Registry.Do(userID, func() {
		if e.opts.Timer.Active(userID) {
			return
		}
		sess, err := e.opts.States.Load(ctx, userID)
		if err != nil {
			e.opts.Metrics.ObserveCollaboratorError("session")
			return
		}
		if !sess.Awaiting() {
			return
		}
		slog.Info("flow Engine session expired", "user", userID, "flow", sess.Flow, "step", sess.Step)
		e.opts.Metrics.ObserveExpired()
		e.opts.Metrics.ObserveFlow(string(models.FlowExpired))
		e.reply(ctx, userID, msgExpired)
		e.clear(ctx, userID)
	})
}

// RecoverSessions re-arms the inactivity timer of every session that was
// suspended when the process stopped. It returns how many were re-armed.
func (e *Engine) RecoverSessions(ctx context.Context) (int, error) {
	sessions, err := e.opts.States.Suspended(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list suspended sessions: %w", err)
	}
	for _, s := range sessions {
		e.arm(s.UserID)
	}
	slog.Info("flow Engine recovered sessions", "count", len(sessions))
	return len(sessions), nil
}

func (e *Engine) clear(ctx context.Context, userID string) {
	e.opts.Timer.Stop(userID)
	if err := e.opts.States.Clear(ctx, userID); err != nil {
		e.opts.Metrics.ObserveCollaboratorError("session")
	}
}

// reply sends each non-empty text in order, showing the typing indicator first.
func (e *Engine) reply(ctx context.Context, to string, texts ...string) {
	for _, text := range texts {
		if text == "" {
			continue
		}
		if err := e.svc.SendPresence(ctx, to, models.PresenceComposing); err != nil {
			slog.Debug("flow Engine presence failed", "user", to, "error", err)
		}
		if e.opts.TypingDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.opts.TypingDelay):
			}
		}
		if err := e.svc.SendText(ctx, to, text); err != nil {
			slog.Error("flow Engine reply failed", "user", to, "len", len(text), "error", err)
			e.opts.Metrics.ObserveCollaboratorError("transport")
		}
	}
}

func (e *Engine) react(ctx context.Context, ref models.MessageRef, emoji string) {
	if ref.ID == "" {
		return
	}
	if err := e.svc.SendReaction(ctx, ref, emoji); err != nil {
		slog.Debug("flow Engine reaction failed", "ref", ref.ID, "error", err)
	}
}

func (e *Engine) markRead(ctx context.Context, ref models.MessageRef) {
	if ref.ID == "" {
		return
	}
	if err := e.svc.MarkRead(ctx, ref); err != nil {
		slog.Debug("flow Engine mark read failed", "ref", ref.ID, "error", err)
	}
}

func (e *Engine) isAdmin(userID string) bool {
	return e.opts.AdminNumber != "" && userID == e.opts.AdminNumber
}

// blocked reports a blocklisted sender. A failed lookup lets the message through.
func (e *Engine) blocked(ctx context.Context, userID string) bool {
	if e.isAdmin(userID) {
		return false
	}
	blocked, err := e.records.IsBlocked(ctx, userID)
	if err != nil {
		slog.Warn("flow Engine blocklist lookup failed", "user", userID, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("store")
		return false
	}
	return blocked
}

// customerOf returns the turn's customer, loading it once. Lookup errors
// are logged and read as an unknown customer.
func (e *Engine) customerOf(ctx context.Context, t *turn) *models.Customer {
	if t.loaded {
		return t.customer
	}
	cust, err := e.records.FindByPhone(ctx, t.UserID)
	if err != nil {
		slog.Warn("flow Engine customer lookup failed", "user", t.UserID, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("store")
		return nil
	}
	t.customer, t.loaded = cust, true
	return cust
}

func (e *Engine) nameOf(ctx context.Context, t *turn) string {
	if c := e.customerOf(ctx, t); c != nil {
		return c.Name
	}
	return ""
}

// remember appends a history entry unless the latest one is already for in.
func (e *Engine) remember(ctx context.Context, t *turn, in models.Intent, response string) {
	last, err := e.records.LastHistoryEntry(ctx, t.UserID)
	if err != nil {
		slog.Warn("flow Engine history lookup failed", "user", t.UserID, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("store")
		return
	}
	if last != nil && last.Intent == in {
		slog.Debug("flow Engine history unchanged", "user", t.UserID, "intent", in)
		return
	}
	e.record(ctx, t, in, response)
}

func (e *Engine) record(ctx context.Context, t *turn, in models.Intent, response string) {
	entry := models.HistoryEntry{Intent: in, Question: t.Text, Response: response, CreatedAt: t.now}
	if entry.Question == "" {
		entry.Question = "-"
	}
	if err := e.records.AppendHistory(ctx, t.UserID, entry); err != nil {
		slog.Warn("flow Engine history append failed", "user", t.UserID, "intent", in, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("store")
	}
}

func (e *Engine) transcribe(ctx context.Context, userID string, v models.VoiceNote) (string, error) {
	if e.opts.Transcriber == nil {
		return "", errors.New("voice notes are not enabled")
	}
	e.reply(ctx, userID, msgListening)
	audio, err := e.svc.DownloadMedia(ctx, v.Ref)
	if err != nil {
		return "", fmt.Errorf("failed to download voice note: %w", err)
	}
	text, err := e.opts.Transcriber.Transcribe(ctx, audio, v.Mimetype)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe voice note: %w", err)
	}
	slog.Debug("flow Engine voice note transcribed", "user", userID, "seconds", v.Seconds, "len", len(text))
	return text, nil
}
