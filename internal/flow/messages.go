package flow

import (
	"github.com/BTreeMap/CitaBot/internal/util"
)

var (
	greetingSameDay = []string{
		"Hola de nuevo {nombre} 😊 ¿En qué te ayudo ahora?",
		"¡Otra vez por aquí {nombre}! ¿Qué necesitas?",
		"Te escucho {nombre} 👂 ¿En qué más puedo ayudarte?",
		"Dime {nombre}, ¿qué más necesitas?",
		"Aquí estoy {nombre} 😄 ¿Cómo te ayudo?",
	}
	greetingNewDay = []string{
		"Hola {nombre} 👋 ¿En qué puedo ayudarte hoy?",
		"¡Qué bueno verte {nombre}! ¿Qué necesitas?",
		"Hola de nuevo {nombre} 😊 ¿Cómo te ayudo hoy?",
		"¡Hola {nombre}! ¿En qué te asisto hoy?",
	}
	registrationWelcome = []string{
		"👋 ¡Bienvenido a la Clínica Virgen del Carmen! Antes de empezar, ¿podrías decirme tu nombre?",
		"😊 Te damos la bienvenida a la Clínica Virgen del Carmen. Para ayudarte mejor, ¿cuál es tu nombre?",
		"✨ Hola y bienvenida/o a la Clínica Virgen del Carmen! ¿Me dices tu nombre para comenzar?",
		"🎉 Es un placer darte la bienvenida a la Clínica Virgen del Carmen. ¿Cómo te llamas?",
		"🏥 ¡Qué gusto tenerte en la Clínica Virgen del Carmen! Para iniciar, ¿puedes decirme tu nombre?",
	}
	registrationThanks = []string{
		"¡Gracias {nombre}! 😄",
		"Perfecto {nombre}, gracias 😊",
		"¡Listo {nombre}! 🎉",
		"Excelente {nombre} 👍",
	}
	locationIntro = []string{
		"📍 Estamos ubicados en:",
		"Nuestra ubicación es en:",
		"Nos encontramos en:",
		"Te esperamos en:",
		"Aquí tienes nuestra ubicación:",
	}
	offerBooking = []string{
		"{nombre}, ¿te gustaría agendar una cita? 📅",
		"{nombre}, ¿quieres agendar una cita? ✅",
		"{nombre}, ¿te interesa agendar una cita? 👍",
		"{nombre}, ¿deseas programar una cita? 🗓️",
		"{nombre}, ¿agendamos tu turno? 💡",
	}
	askDate = []string{
		"Cuándo te gustaría tu cita? 📅",
		"Listo, dime para cuándo la quieres 😊",
		"Qué día te gustaría agendar tu cita? 🗓️",
		"Para qué día deseas programarla? 📆",
		"Dime la fecha que prefieras y la agendamos 👍",
	}
	slotAvailable = []string{
		"Perfecto! El horario está disponible ⏰",
		"Ese horario está libre 👍",
		"Genial! El turno está disponible 😄",
		"El horario que elegiste está disponible 🕒",
	}
	slotTaken = []string{
		"El horario que eligiste ya está ocupado 🕒",
		"Lo siento, ese horario ya está reservado",
		"Ese horario no está disponible",
	}
	askAnotherDate = []string{
		"Entiendo, {nombre}, dime otra fecha y hora que prefieras 🕒",
		"No te preocupes, {nombre}, dime un nuevo día y hora que te quede cómodo 📅",
		"Vale, {nombre}, entiendo, ¿qué otro horario te gustaría? 👍",
		"Tranquilo, {nombre}, dime otra fecha que te funcione ✨",
	}
	confirmName = []string{
		"A nombre de {nombre}, verdad? 😊",
		"Entonces sería a nombre de {nombre}, cierto? 👍",
		"Solo para confirmar, es a nombre de {nombre}? 💡",
		"Déjame confirmar, es a nombre de {nombre}? 📋",
	}
	askName = []string{
		"Uy! entonces dime a qué nombre le pongo 😊",
		"Ah, entendido 😅 dime por favor el nombre correcto.",
		"No hay problema 😄 ¿a qué nombre agendamos la cita?",
		"Ah, vale 😊 ¿a nombre de quién registramos la cita?",
	}
	askEmail = []string{
		"📧 ¿Cuál es tu email?",
		"Dime tu correo electrónico",
		"¿A qué email te envío la confirmación?",
	}
	askReason = []string{
		"📝 ¿Para qué es la cita? (motivo o descripción)",
		"¿Cuál es el motivo de tu consulta?",
		"Descríbeme brevemente tu necesidad",
	}
	bookingDone = []string{
		"🎉 ¡Cita agendada exitosamente {nombre}!",
		"Todo listo {nombre}! Te esperamos 😊",
		"✅ Confirmado {nombre}! Nos vemos pronto",
	}
	genericError = []string{
		"Hubo un problema. Intenta nuevamente 🙏",
		"Algo salió mal. ¿Intentamos de nuevo?",
		"Ocurrió un error. Por favor reintenta",
	}
	processCancelled = []string{
		"Proceso cancelado. ¿En qué más puedo ayudarte?",
		"De acuerdo, cancelado. ¿Necesitas algo más?",
		"Entendido. ¿Qué más necesitas?",
	}
)

const (
	msgEmptyTurn        = "No pude entender tu mensaje. Por favor, envía un texto."
	msgTurnFailed       = "Ocurrió un error al procesar tu mensaje. Intenta nuevamente."
	msgHandoffPending   = "Ya se le comunicó al médico, no spamee por favor..."
	msgExpired          = "Vuelve a enviar un mensaje para continuar 👋"
	msgListening        = "🎧 Escuchando tu nota de voz..."
	msgVoiceFailed      = "❌ Lo siento, hubo un error al procesar tu nota de voz."
	msgVoiceRetry       = "Por favor, intenta de nuevo o escribe tu mensaje en texto."
	msgCallBusy         = "📞 Hola, gracias por llamar. En este momento no puedo contestar."
	msgCallFollowUp     = "¿En qué te puedo ayudar? Por favor, escríbeme tu consulta y te responderé lo antes posible. 😊"
	msgNameAttempts     = "⚠️ Has superado los intentos. En que te puedo ayudar?"
	msgNameDefault      = "Por favor ingresa un nombre válido"
	msgRegisterFailed   = "Hubo un problema al registrarte. Intenta nuevamente 🙏"
	msgLookupFailed     = "Hubo un problema al buscar tu información. Intenta nuevamente 🙏"
	msgAnythingElse     = "Entiendo, ¿en qué más te puedo ayudar?"
	msgYesNoRetry       = "Respuesta no válida. Por favor responde *SÍ* o *NO*"
	msgTextOnly         = "Por favor, responde con texto para poder ayudarte mejor"
	msgEmailByVoice     = "Los correos en notas de voz no están permitidas...escríbelo por favor"
	msgInvalidBranch    = "❌ Opción inválida. Por favor, responde solo con el número de la sucursal (1 o 2):"
	msgChecking         = "Verificando disponibilidad, dame un momento..."
	msgCheckFailed      = "Hubo un error al verificar la disponibilidad, dime otra fecha"
	msgNoSuggestion     = "No encontré otro horario libre cercano. Dime otra fecha y hora que prefieras 🕒"
	msgCreating         = "⏳ Creando tu cita dame un momento..."
	msgCreateFailed     = "Error al crear la cita"
	msgBookingAborted   = "Proceso cancelado."
	msgSearchingAppts   = "🔍 Buscando tus citas agendadas..."
	msgNoAppointments   = "No tienes citas"
	msgSearchFailed     = "Hubo un error al buscar tus citas."
	msgCancelAsk        = "¿Seguro de cancelar esta cita? *(Sí/No)*"
	msgCancelKept       = "Cita no cancelada. Tu reserva sigue activa."
	msgCancelling       = "⏳ Cancelando tu cita..."
	msgCancelFailed     = "❌ Hubo un error al cancelar tu cita."
	msgCancelGone       = "❌ No se pudo cancelar la cita. Ya no existe en el calendario."
	msgOperationAborted = "Operación cancelada."
	msgShareLocation    = "¡Perfecto! Por favor comparte tu ubicación actual y te diré cuál sucursal te queda más cerca 📍"
	msgShareHowTo       = "Por favor, comparte tu ubicación usando el botón de adjuntar 📎 > Ubicación 📍"
	msgLocationUnclear  = "No entendí tu respuesta. ¿Necesitas ayuda para decidir qué sucursal te queda más cerca? Por favor responde Sí o No"
	msgLocationNoHelp   = "Entendido. ¿Te gustaría agendar una cita en alguna de nuestras sucursales?"
	msgHoursIntro       = "Nuestro horario de atencion es de:"
	msgRephrase         = "Puedes replantear tu pregunta porfavor 😅"
	msgChatUnavailable  = "Lo siento, ocurrió un error. ¿Puedes intentarlo de nuevo en unos minutos?"
	msgHandoffFailed    = "⚠️ Hubo un problema al procesar tu solicitud.\n\nPor favor, intenta nuevamente."
	msgHandoffConnect   = "👨‍⚕️ *Conectando con el médico...*\n\nUn momento por favor, estoy notificando al doctor.\nPronto te atenderá personalmente."
	msgHandoffSent      = "✅ *Notificación enviada*\n\nEl doctor ha sido notificado y te responderá a la brevedad posible."
)

const defaultChatPrompt = `Eres el asistente virtual de la Clínica Virgen del Carmen, una clínica dental en La Paz, Bolivia.
Responde en español, en no más de tres oraciones, con un tono cálido y profesional.
No inventes precios, horarios ni diagnósticos. Si el paciente necesita atención, invítalo a agendar una cita escribiendo "agendar".`

func pick(variants []string, values map[string]string) string {
	return util.FillTemplate(util.PickVariant(variants), values)
}

func named(variants []string, name string) string {
	return pick(variants, map[string]string{"nombre": name})
}
