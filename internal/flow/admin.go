package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CitaBot/internal/calendar"
	"github.com/BTreeMap/CitaBot/internal/datetime"
	"github.com/BTreeMap/CitaBot/internal/genai"
	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/util"
	"github.com/BTreeMap/CitaBot/internal/validate"
)

const adminHelp = "*COMANDOS DISPONIBLES*\n\n" +
	"• `listar` → Ver números bloqueados\n" +
	"• `bloquear <numero>` → Agregar a lista negra\n" +
	"• `desbloquear <numero>` → Quitar de lista negra\n" +
	"• `estado <numero>` → Activar cliente\n" +
	"• `agendar` → Crear una cita con los datos de un paciente\n" +
	"• `arqueo` → Ver transacciones del día\n\n" +
	"_Ejemplo: bloquear 71234567_"

const (
	msgCashReportFailed = "❌ Ocurrió un error al obtener el arqueo del día. Por favor, inténtalo de nuevo más tarde."
	msgAdminStoreFailed = "❌ Ocurrió un error. Intenta nuevamente."
)

// admin runs the admin's commands. The admin never goes through
// registration, classification or the debounce queue.
func (e *Engine) admin(ctx context.Context, t *turn) {
	if t.sess.Awaiting() {
		e.resume(ctx, t)
		return
	}
	fields := strings.Fields(t.Text)
	if len(fields) == 0 {
		e.reply(ctx, t.UserID, adminHelp)
		return
	}
	cmd := validate.Fold(fields[0])
	arg := strings.Join(fields[1:], " ")
	slog.Info("flow Engine admin command", "command", cmd)

	switch cmd {
	case "listar", "lista":
		e.adminList(ctx, t)
	case "bloquear":
		e.adminBlock(ctx, t, arg)
	case "desbloquear":
		e.adminUnblock(ctx, t, arg)
	case "estado":
		e.adminActivate(ctx, t, arg)
	case "agendar":
		t.sess.Admin = models.AdminData{}
		e.reply(ctx, t.UserID, "Claro, dame los datos del paciente")
		t.await(models.FlowAdminSchedule, models.StepAdminScheduleData)
	case "arqueo":
		e.adminCashReport(ctx, t)
	default:
		e.reply(ctx, t.UserID, adminHelp)
	}
}

func (e *Engine) adminList(ctx context.Context, t *turn) {
	entries, err := e.records.ListBlocked(ctx)
	if err != nil {
		slog.Error("flow Engine admin list failed", "error", err)
		e.reply(ctx, t.UserID, msgAdminStoreFailed)
		return
	}
	if len(entries) == 0 {
		e.reply(ctx, t.UserID, "📋 La lista negra está vacía")
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "*NÚMEROS BLOQUEADOS* (%d):\n", len(entries))
	for i, b := range entries {
		fmt.Fprintf(&sb, "\n%d. 📞 +%s", i+1, b.Phone)
	}
	e.reply(ctx, t.UserID, sb.String())
}

// adminNumber parses a command argument into the canonical sender form.
func (e *Engine) adminNumber(ctx context.Context, t *turn, cmd, arg string) (string, bool) {
	if arg == "" {
		e.reply(ctx, t.UserID, fmt.Sprintf("⚠️ *Formato incorrecto*\n\nEjemplo: `%s 71234567`", cmd))
		return "", false
	}
	digits, err := validate.Phone(arg)
	if err != nil {
		e.reply(ctx, t.UserID, "⚠️ *Número inválido*\n\n"+validate.Reason(err))
		return "", false
	}
	return util.InternationalBolivian(digits), true
}

func (e *Engine) adminBlock(ctx context.Context, t *turn, arg string) {
	phone, ok := e.adminNumber(ctx, t, "bloquear", arg)
	if !ok {
		return
	}
	added, err := e.records.Block(ctx, phone)
	switch {
	case err != nil:
		slog.Error("flow Engine admin block failed", "phone", phone, "error", err)
		e.reply(ctx, t.UserID, msgAdminStoreFailed)
	case !added:
		e.reply(ctx, t.UserID, fmt.Sprintf("ℹ️ El número +%s ya está en la lista negra\n\nEnvía otro comando o escribe \"listar\"", phone))
	default:
		slog.Info("flow Engine sender blocked", "phone", phone)
		e.reply(ctx, t.UserID, fmt.Sprintf("✅ *Número bloqueado exitosamente*\n\n📞 +%s", phone))
		e.react(ctx, t.Ref, "🚫")
	}
}

func (e *Engine) adminUnblock(ctx context.Context, t *turn, arg string) {
	phone, ok := e.adminNumber(ctx, t, "desbloquear", arg)
	if !ok {
		return
	}
	removed, err := e.records.Unblock(ctx, phone)
	switch {
	case err != nil:
		slog.Error("flow Engine admin unblock failed", "phone", phone, "error", err)
		e.reply(ctx, t.UserID, msgAdminStoreFailed)
	case !removed:
		e.reply(ctx, t.UserID, fmt.Sprintf("ℹ️ El número +%s no estaba bloqueado\n\nEnvía otro comando o escribe \"listar\"", phone))
	default:
		slog.Info("flow Engine sender unblocked", "phone", phone)
		e.reply(ctx, t.UserID, fmt.Sprintf("✅ *Número desbloqueado exitosamente*\n\n📞 +%s", phone))
		e.react(ctx, t.Ref, "✅")
	}
}

// adminActivate returns a handed-off customer to the bot.
func (e *Engine) adminActivate(ctx context.Context, t *turn, arg string) {
	phone, ok := e.adminNumber(ctx, t, "estado", arg)
	if !ok {
		return
	}
	cust, err := e.records.SetStatus(ctx, phone, models.StatusActive)
	if err != nil {
		slog.Error("flow Engine admin status update failed", "phone", phone, "error", err)
		e.reply(ctx, t.UserID, msgAdminStoreFailed)
		return
	}
	if cust == nil {
		e.reply(ctx, t.UserID, fmt.Sprintf("❌ *No se encontró el cliente*\n\nEl número +%s no está registrado.", phone))
		return
	}
	slog.Info("flow Engine customer reactivated", "phone", phone)
	e.reply(ctx, t.UserID, fmt.Sprintf("✅ *Estado actualizado exitosamente*\n\n👤 Cliente: %s\n📞 Número: +%s\n🟢 Estado: ACTIVO\n\n⏰ %s",
		cust.Name, phone, t.now.Format("02/01/2006 15:04")))
	e.react(ctx, t.Ref, "✅")
}

func (e *Engine) adminCashReport(ctx context.Context, t *turn) {
	txs, err := e.records.DailyTransactions(ctx, t.now)
	if err != nil {
		slog.Error("flow Engine cash report failed", "error", err)
		e.reply(ctx, t.UserID, msgCashReportFailed)
		return
	}
	e.reply(ctx, t.UserID, CashReport(txs))
}

// SendCashReport pushes today's cash report to the admin.
func (e *Engine) SendCashReport(ctx context.Context) error {
	if e.opts.AdminNumber == "" {
		return fmt.Errorf("failed to send cash report: no admin number configured")
	}
	txs, err := e.records.DailyTransactions(ctx, e.now())
	if err != nil {
		return fmt.Errorf("failed to load daily transactions: %w", err)
	}
	if err := e.svc.SendText(ctx, e.opts.AdminNumber, CashReport(txs)); err != nil {
		return fmt.Errorf("failed to send cash report: %w", err)
	}
	slog.Info("flow Engine cash report sent", "transactions", len(txs))
	return nil
}

// CashReport renders the day's movements with their totals. txs are
// expected newest first, as returned by the ledger.
func CashReport(txs []models.Transaction) string {
	if len(txs) == 0 {
		return "*ARQUEO DEL DÍA*\n\nNo hay transacciones registradas para hoy."
	}
	var income, expense float64
	lines := make([]string, 0, len(txs))
	for _, tx := range txs {
		label := "➕ Ingreso"
		if tx.Type == models.TransactionExpense {
			label = "➖ Egreso"
			expense += tx.Amount
		} else {
			income += tx.Amount
		}
		line := fmt.Sprintf("%s - %s: Bs. %.2f", tx.Date.Format("15:04"), label, tx.Amount)
		if tx.Description != "" {
			line += "\n   " + tx.Description
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf("*ARQUEO DEL DÍA*\n\n💰 Ingresos: Bs. %.2f\n💸 Egresos: Bs. %.2f\n📊 Saldo: Bs. %.2f\n\n*ÚLTIMAS TRANSACCIONES*\n\n%s",
		income, expense, income-expense, strings.Join(lines, "\n\n"))
}

// captureAdminData turns the admin's free text into a draft appointment.
func (e *Engine) captureAdminData(ctx context.Context, t *turn) {
	if validate.CancelCommand(t.Text) {
		e.reply(ctx, t.UserID, "❌ Cita cancelada.")
		return
	}
	if e.opts.Extractor == nil {
		e.reply(ctx, t.UserID, "❌ La lectura automática de datos no está configurada.")
		return
	}
	e.reply(ctx, t.UserID, "🤖 Analizando los datos...")
	ex, err := genai.ExtractBooking(ctx, e.opts.Extractor, t.Text, t.now)
	if err != nil {
		slog.Error("flow Engine admin extraction failed", "error", err)
		e.opts.Metrics.ObserveCollaboratorError("llm")
		e.reply(ctx, t.UserID, "❌ Hubo un error al procesar los datos. Intenta nuevamente.")
		t.await(models.FlowAdminSchedule, models.StepAdminScheduleData)
		return
	}
	if missing := ex.Missing(); len(missing) > 0 {
		e.reply(ctx, t.UserID, fmt.Sprintf("❌ Faltan datos: %s.\n\nIntenta de nuevo incluyendo toda la información.", strings.Join(missing, ", ")))
		t.await(models.FlowAdminSchedule, models.StepAdminScheduleData)
		return
	}
	if ex.Email != "" {
		if err := validate.EmailSyntax(ex.Email); err != nil {
			e.reply(ctx, t.UserID, "❌ El email no es válido. Verifica e intenta nuevamente.")
			t.await(models.FlowAdminSchedule, models.StepAdminScheduleData)
			return
		}
	}
	start, err := ex.Start(t.now.Location())
	if err != nil {
		e.reply(ctx, t.UserID, "❌ No pude interpretar la fecha y hora.\n\nUsa formatos como:\n• \"mañana 10am\"\n• \"15 de marzo 3pm\"\n• \"próximo lunes 9:30am\"")
		t.await(models.FlowAdminSchedule, models.StepAdminScheduleData)
		return
	}
	if start.Before(t.now) {
		e.reply(ctx, t.UserID, "❌ La fecha y hora no pueden ser en el pasado.")
		t.await(models.FlowAdminSchedule, models.StepAdminScheduleData)
		return
	}

	reason := ex.Reason
	if reason == "" {
		reason = "Consulta general"
	}
	d := &models.AdminBooking{
		PatientName: validate.FormatName(ex.Name),
		Email:       strings.ToLower(ex.Email),
		Phone:       ex.Phone,
		Reason:      reason,
		Start:       start,
		End:         start.Add(calendar.DefaultSlotDuration),
	}
	t.sess.Admin.Draft = d
	e.reply(ctx, t.UserID, fmt.Sprintf("📋 *Datos de la cita:*\n\n👤 Paciente: %s\n📅 Fecha: %s\n⏰ Hora: %s - %s\n📧 Email: %s\n📞 Teléfono: %s\n📝 Motivo: %s\n\n¿Confirmar esta cita? *(Sí/No)*",
		d.PatientName, datetime.FormatDate(d.Start), d.Start.Format("15:04"), d.End.Format("15:04"), orDash(d.Email), orDash(d.Phone), d.Reason))
	t.await(models.FlowAdminSchedule, models.StepAdminScheduleConfirm)
}

func (e *Engine) captureAdminConfirm(ctx context.Context, t *turn) {
	d := t.sess.Admin.Draft
	switch validate.YesNo(t.Text) {
	case validate.No:
		e.reply(ctx, t.UserID, "❌ Cita cancelada.")
		return
	case validate.Unclear:
		e.reply(ctx, t.UserID, "No entendí. Responde *Sí* para confirmar o *No* para cancelar.")
		t.await(models.FlowAdminSchedule, models.StepAdminScheduleConfirm)
		return
	}
	if d == nil {
		e.reply(ctx, t.UserID, adminHelp)
		return
	}

	e.reply(ctx, t.UserID, "⏳ Creando la cita en el calendario...")
	phone := util.LocalBolivian(d.Phone)
	appt, err := e.opts.Calendar.CreateEvent(ctx, calendar.Event{
		Title:       "Cita - " + d.PatientName,
		Description: fmt.Sprintf("Motivo: %s\nContacto: %s\nTeléfono: %s", d.Reason, orDash(d.Email), orDash(phone)),
		Start:       d.Start,
		End:         d.End,
		Phone:       phone,
		Email:       d.Email,
	})
	if err != nil {
		slog.Error("flow Engine admin booking failed", "error", err)
		e.opts.Metrics.ObserveCollaboratorError("calendar")
		e.reply(ctx, t.UserID, "❌ Error al crear la cita. Intenta nuevamente.")
		return
	}
	slog.Info("flow Engine admin booking committed", "event", appt.EventID, "start", d.Start)
	e.reply(ctx, t.UserID, fmt.Sprintf("✅ *¡Cita creada exitosamente!*\n\n👤 %s\n📅 %s\n⏰ %s - %s\n📝 %s",
		d.PatientName, datetime.FormatDate(d.Start), d.Start.Format("15:04"), d.End.Format("15:04"), d.Reason))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
