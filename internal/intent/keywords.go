package intent

import "github.com/BTreeMap/CitaBot/internal/models"

// Keyword maps one normalized phrase to an intent.
type Keyword struct {
	Phrase string
	Intent models.Intent
}

// DefaultKeywords is the clinic keyword table. Phrases are written already
// folded (lowercase, no diacritics) so they compare directly with the
// normalized message.
var DefaultKeywords = []Keyword{
	{"hola", models.IntentGreeting},
	{"buenos dias", models.IntentGreeting},
	{"buenas tardes", models.IntentGreeting},
	{"buenas noches", models.IntentGreeting},
	{"buenas", models.IntentGreeting},
	{"saludos", models.IntentGreeting},
	{"que tal", models.IntentGreeting},

	{"reservar", models.IntentBook},
	{"reserva", models.IntentBook},
	{"agendar", models.IntentBook},
	{"agendar cita", models.IntentBook},
	{"quiero una cita", models.IntentBook},
	{"sacar cita", models.IntentBook},
	{"sacar una cita", models.IntentBook},
	{"pedir cita", models.IntentBook},
	{"turno", models.IntentBook},
	{"consulta", models.IntentBook},
	{"programar cita", models.IntentBook},

	{"cancelar", models.IntentCancel},
	{"cancelar cita", models.IntentCancel},
	{"cancelar mi cita", models.IntentCancel},
	{"anular cita", models.IntentCancel},
	{"eliminar cita", models.IntentCancel},
	{"ya no podre ir", models.IntentCancel},

	{"ubicacion", models.IntentLocation},
	{"direccion", models.IntentLocation},
	{"donde estan", models.IntentLocation},
	{"donde queda", models.IntentLocation},
	{"como llego", models.IntentLocation},
	{"sucursal", models.IntentLocation},
	{"mapa", models.IntentLocation},

	{"horario", models.IntentHours},
	{"horarios", models.IntentHours},
	{"hora de atencion", models.IntentHours},
	{"a que hora abren", models.IntentHours},
	{"a que hora atienden", models.IntentHours},
	{"atienden los sabados", models.IntentHours},

	{"hablar con un doctor", models.IntentHandoff},
	{"hablar con el doctor", models.IntentHandoff},
	{"hablar con una persona", models.IntentHandoff},
	{"hablar con alguien", models.IntentHandoff},
	{"asesor", models.IntentHandoff},
	{"operador", models.IntentHandoff},
	{"urgencia", models.IntentHandoff},
	{"emergencia", models.IntentHandoff},

	{"especialidades", models.IntentSpecialties},
	{"especialidad", models.IntentSpecialties},
	{"servicios", models.IntentSpecialties},
	{"tratamientos", models.IntentSpecialties},
	{"implantes", models.IntentSpecialties},
	{"ortodoncia", models.IntentSpecialties},
	{"brackets", models.IntentSpecialties},

	{"precio", models.IntentPricing},
	{"precios", models.IntentPricing},
	{"cuanto cuesta", models.IntentPricing},
	{"cuanto sale", models.IntentPricing},
	{"costo", models.IntentPricing},
	{"tarifa", models.IntentPricing},
	{"descuento", models.IntentPricing},
}
