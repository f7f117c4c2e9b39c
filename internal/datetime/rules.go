package datetime

import (
	"fmt"
	"time"

	"github.com/BTreeMap/CitaBot/internal/util"
)

// Window is a half-open range of opening hours [From, To).
type Window struct {
	From int
	To   int
}

// ClinicHours lists the clinic-wide opening windows per weekday.
// A weekday without windows is closed.
var ClinicHours = map[time.Weekday][]Window{
	time.Monday:    {{10, 13}, {15, 20}},
	time.Tuesday:   {{10, 13}, {15, 20}},
	time.Wednesday: {{10, 13}, {15, 20}},
	time.Thursday:  {{10, 13}, {15, 20}},
	time.Friday:    {{10, 13}, {15, 20}},
	time.Saturday:  {{15, 20}},
}

const (
	msgUnparsed = "No pude entender la fecha y hora.\n\n📝 Ejemplos válidos:\n• \"hoy a las 6 PM\"\n• \"mañana a las 2:30 de la tarde\"\n• \"el lunes a las 10 AM\"\n• \"tres de la tarde\""
	msgSpecify  = "Por favor especifica la fecha y hora.\n\n💡 Ejemplo: \"mañana a las 3 pm\""
	msgNoHour   = "No entendí la hora. Intenta con:\n• \"3 PM\"\n• \"15:30\"\n• \"2 de la tarde\""
	msgBadDate  = "📅 Esa fecha no existe. Revisa el día y el mes, por ejemplo \"28/02 a las 10\"."
	msgNoDay    = "No entendí la fecha. Intenta con:\n• \"mañana\"\n• \"el lunes\"\n• \"15 de noviembre\""
	msgSunday   = "📅 No hay atención los domingos.\n🗓️ Horarios disponibles:\n• Lunes a Viernes: 10:00-13:00 y 15:00-20:00\n• Sábado: 15:00-20:00"
	msgSaturday = "🕰️ Los sábados solo hay atención de 15:00 a 20:00 hrs."
	msgWeekday  = "🕰️ Horarios de atención:\n📅 Lunes a Viernes:\n  • Mañana: 10:00 - 13:00\n  • Tarde: 15:00 - 20:00\n📅 Sábado:\n  • Tarde: 15:00 - 20:00"
)

var askHour = []string{
	"Súper, ahora dime a qué hora prefieres 😊",
	"Perfecto, ¿qué hora te gustaría? 🕒",
	"Genial, ¿a qué hora te viene bien? ⏰",
	"Entendido, dime la hora que prefieres 👍",
	"Vale, ¿qué horario te queda más cómodo? 💡",
	"Excelente, dime la hora que te quede bien ✨",
}

var askDay = []string{
	"Perfecto, ¿para qué día? 📅",
	"Genial, ¿para qué día? 📅",
	"Entendido, dime el día que prefieres 👍",
	"Perfecto, dime el día que te gustaría agendar 📅",
	"Excelente, dime el día que te quede bien ✨",
	"De acuerdo, ¿para qué día quieres tu cita? 🩺",
}

func pickAskHour() string { return util.PickVariant(askHour) }
func pickAskDay() string  { return util.PickVariant(askDay) }

func leadTimeMessage(now time.Time, lead time.Duration) string {
	return fmt.Sprintf("No puedes agendar una cita en el pasado o muy próxima.\n\n⏰ Hora actual: %s\n💡 Intenta con al menos %d minutos de anticipación.",
		now.Format("02/01/2006, 15:04"), int(lead.Minutes()))
}

// clinicOpen checks t against ClinicHours and returns the rule message on failure.
func clinicOpen(t time.Time) (string, bool) {
	h := t.Hour()
	for _, w := range ClinicHours[t.Weekday()] {
		if h >= w.From && h < w.To {
			return "", true
		}
	}
	switch t.Weekday() {
	case time.Sunday:
		return msgSunday, false
	case time.Saturday:
		return msgSaturday, false
	default:
		return msgWeekday, false
	}
}

var (
	weekdayNames = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	monthNames   = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}
)

// FormatDate renders t as "lunes, 16 de marzo de 2026".
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%s, %d de %s de %d", weekdayNames[t.Weekday()], t.Day(), monthNames[t.Month()-1], t.Year())
}

// FormatDateTime renders t as "lunes, 16 de marzo de 2026, 10:00".
func FormatDateTime(t time.Time) string {
	return FormatDate(t) + ", " + t.Format("15:04")
}
