package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CitaBot/internal/genai"
	"github.com/BTreeMap/CitaBot/internal/models"
)

const (
	chatContextTurns = 2
	chatHistoryScan  = 20
)

// chat answers an open question with the chat model, using the latest
// recorded exchanges of any intent as context. Failed answers are not recorded.
func (e *Engine) chat(ctx context.Context, t *turn) {
	if e.opts.ChatModel == nil {
		slog.Debug("flow Engine chat model not configured", "user", t.UserID)
		e.reply(ctx, t.UserID, msgChatUnavailable)
		return
	}

	var msgs []genai.Message
	history, err := e.records.ListHistory(ctx, t.UserID, chatHistoryScan)
	if err != nil {
		slog.Warn("flow Engine chat history lookup failed", "user", t.UserID, "error", err)
	}
	var prior []models.HistoryEntry
	for _, h := range history {
		if !isErrorReply(h.Response) {
			prior = append(prior, h)
		}
	}
	if len(prior) > chatContextTurns {
		prior = prior[len(prior)-chatContextTurns:]
	}
	for _, h := range prior {
		msgs = append(msgs,
			genai.Message{Role: genai.RoleUser, Content: h.Question},
			genai.Message{Role: genai.RoleAssistant, Content: h.Response},
		)
	}
	msgs = append(msgs, genai.Message{Role: genai.RoleUser, Content: t.Text})

	answer, err := e.opts.ChatModel.GenerateWithMessages(ctx, e.opts.ChatPrompt, msgs)
	answer = strings.TrimSpace(answer)
	if err != nil || answer == "" {
		slog.Error("flow Engine chat failed", "user", t.UserID, "context", len(prior), "error", err)
		e.opts.Metrics.ObserveCollaboratorError("llm")
		e.reply(ctx, t.UserID, msgChatUnavailable)
		return
	}
	slog.Debug("flow Engine chat answered", "user", t.UserID, "context", len(prior), "len", len(answer))
	e.record(ctx, t, models.IntentLLMFallback, answer)
	e.reply(ctx, t.UserID, answer)
}

// isErrorReply reports responses that only told the patient something failed.
func isErrorReply(resp string) bool {
	if strings.Contains(strings.ToLower(resp), "ocurrió un error") {
		return true
	}
	for _, m := range genericError {
		if resp == m {
			return true
		}
	}
	return false
}

// handoff marks the customer as waiting for the doctor and notifies the admin.
// Until the admin reactivates the customer every message gets a fixed reply.
func (e *Engine) handoff(ctx context.Context, t *turn) {
	cust, err := e.records.SetStatus(ctx, t.UserID, models.StatusAwaitingHuman)
	if err != nil || cust == nil {
		slog.Error("flow Engine handoff status update failed", "user", t.UserID, "found", cust != nil, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("store")
		e.reply(ctx, t.UserID, msgHandoffFailed)
		return
	}
	e.reply(ctx, t.UserID, msgHandoffConnect)

	if e.opts.AdminNumber != "" {
		e.reply(ctx, e.opts.AdminNumber, fmt.Sprintf("🔔 *NUEVA CONSULTA MÉDICA*\n\n👤 Paciente: %s\n📞 Número: +%s\n⏰ Hora: %s\n\n⚠️ *El paciente desea hablar con usted directamente*",
			cust.Name, t.UserID, t.now.Format("15:04")))
	} else {
		slog.Warn("flow Engine handoff without admin number", "user", t.UserID)
	}
	slog.Info("flow Engine handed off to doctor", "user", t.UserID)
	e.reply(ctx, t.UserID, msgHandoffSent)
	e.record(ctx, t, models.IntentHandoff, "Derivado al medico")
}

// handleCall rejects an incoming voice call and asks for a written message.
func (e *Engine) handleCall(ctx context.Context, userID string, call models.CallEvent) {
	if call.Status != models.CallOffer {
		return
	}
	if err := e.svc.RejectCall(ctx, call); err != nil {
		slog.Warn("flow Engine call reject failed", "user", userID, "call", call.CallID, "error", err)
		e.opts.Metrics.ObserveCollaboratorError("transport")
	}
	slog.Info("flow Engine call rejected", "user", userID, "call", call.CallID)
	e.reply(ctx, userID, msgCallBusy, msgCallFollowUp)
}
