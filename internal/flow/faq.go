package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"regexp"
	"strings"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/validate"
)

// answerOffer reads the reply to "¿te gustaría agendar una cita?". A reply
// that is neither yes nor no is classified as a new request.
func (e *Engine) answerOffer(ctx context.Context, t *turn) {
	switch validate.YesNo(t.Text) {
	case validate.Yes:
		e.startBooking(ctx, t)
	case validate.No:
		e.reply(ctx, t.UserID, msgAnythingElse)
	default:
		t.sess.FAQ = models.FAQData{}
		e.classify(ctx, t)
	}
}

func (e *Engine) startHours(ctx context.Context, t *turn) {
	var sb strings.Builder
	for i, b := range e.opts.Branches {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "🏢 *%s*: %s, %s", b.Name, b.DaysLabel, b.HoursLabel)
	}
	offer := fmt.Sprintf("%s, ¿deseas agendar una cita?", e.nameOf(ctx, t))
	e.reply(ctx, t.UserID, msgHoursIntro, sb.String(), offer)
	e.remember(ctx, t, models.IntentHours, msgHoursIntro+"\n"+sb.String())
	t.await(models.FlowHours, models.StepHoursOffer)
}

// startLocation sends every branch with its map, then offers to pick the
// nearest one from a shared location.
func (e *Engine) startLocation(ctx context.Context, t *turn) {
	e.reply(ctx, t.UserID, pick(locationIntro, nil))
	for _, b := range e.opts.Branches {
		e.sendBranch(ctx, t.UserID, b)
	}
	e.reply(ctx, t.UserID, fmt.Sprintf("%s, ¿quieres que te ayude a decidir cuál te queda más cerca? 🗺️", e.nameOf(ctx, t)))
	e.remember(ctx, t, models.IntentLocation, "[Imagen y mapa enviados]")
	t.await(models.FlowLocation, models.StepLocationDecide)
}

// sendBranch sends the branch picture with its caption, or the caption
// alone when the branch has no readable picture.
func (e *Engine) sendBranch(ctx context.Context, to string, b models.Branch) {
	caption := fmt.Sprintf("📍 *%s*\n%s", b.Name, b.Address)
	if b.MapsURL != "" {
		caption += "\n" + b.MapsURL
	}
	if b.ImagePath != "" {
		img, err := os.ReadFile(b.ImagePath)
		if err == nil {
			if err := e.svc.SendImage(ctx, to, img, caption); err == nil {
				return
			}
			slog.Warn("flow Engine branch image send failed", "user", to, "branch", b.ID, "error", err)
		} else {
			slog.Warn("flow Engine branch image unreadable", "branch", b.ID, "path", b.ImagePath, "error", err)
		}
	}
	e.reply(ctx, to, caption)
}

func (e *Engine) captureLocationDecide(ctx context.Context, t *turn) {
	if t.Location != nil {
		e.recommendBranch(ctx, t)
		return
	}
	switch validate.YesNo(t.Text) {
	case validate.Yes:
		e.reply(ctx, t.UserID, msgShareLocation)
		t.await(models.FlowLocation, models.StepLocationShare)
	case validate.No:
		e.reply(ctx, t.UserID, msgLocationNoHelp)
		t.await(models.FlowLocation, models.StepLocationOffer)
	default:
		e.reply(ctx, t.UserID, msgLocationUnclear)
		t.await(models.FlowLocation, models.StepLocationDecide)
	}
}

func (e *Engine) captureLocationShare(ctx context.Context, t *turn) {
	if t.Location != nil {
		e.recommendBranch(ctx, t)
		return
	}
	if validate.CancelCommand(t.Text) || validate.YesNo(t.Text) == validate.No {
		e.reply(ctx, t.UserID, msgAnythingElse)
		return
	}
	e.reply(ctx, t.UserID, msgShareHowTo)
	t.await(models.FlowLocation, models.StepLocationShare)
}

// recommendBranch answers a shared location with the nearest branch.
func (e *Engine) recommendBranch(ctx context.Context, t *turn) {
	b, km, ok := nearestBranch(e.opts.Branches, t.Location.Latitude, t.Location.Longitude)
	if !ok {
		e.reply(ctx, t.UserID, msgLocationNoHelp)
		t.await(models.FlowLocation, models.StepLocationOffer)
		return
	}
	t.sess.FAQ.RecommendedBranch = b.ID
	slog.Info("flow Engine branch recommended", "user", t.UserID, "branch", b.ID, "km", km)

	msg := fmt.Sprintf("✅ *Te recomiendo la %s*\n\n📍 %s\n📏 Está a aproximadamente %.1f km de tu ubicación", b.Name, b.Address, km)
	if b.MapsURL != "" {
		msg += "\n\n🗺️ " + b.MapsURL
	}
	msg += "\n\n¿Te gustaría agendar una cita en esta sucursal?"
	e.reply(ctx, t.UserID, msg)
	t.await(models.FlowLocation, models.StepLocationOffer)
}

const earthRadiusKm = 6371.0

// haversineKm is the great-circle distance between two points.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func nearestBranch(branches []models.Branch, lat, lng float64) (models.Branch, float64, bool) {
	var best models.Branch
	bestKm := math.Inf(1)
	for _, b := range branches {
		if km := haversineKm(lat, lng, b.Latitude, b.Longitude); km < bestKm {
			best, bestKm = b, km
		}
	}
	return best, bestKm, len(branches) > 0
}

// specialty is one treatment line of the clinic.
type specialty struct {
	key         string
	title       string
	keywords    []string
	description string
	price       string
	note        string
}

var specialties = []specialty{
	{
		key:         "implantologia",
		title:       "Implantología",
		keywords:    []string{"implant"},
		description: "El médico de la clínica cuenta con experiencia en colocación de implantes dentales.",
		price:       "3,000 Bs.",
	},
	{
		key:         "ortodoncia",
		title:       "Ortodoncia",
		keywords:    []string{"ortodon", "bracket", "frenillo"},
		description: "El médico trabaja con brackets tradicionales y estéticos según las necesidades de cada paciente.",
		price:       "5,000 Bs.",
	},
	{
		key:         "rehabilitacion",
		title:       "Rehabilitación Oral",
		keywords:    []string{"rehabilit", "protesis", "corona"},
		description: "El médico realiza prótesis, coronas y tratamientos de rehabilitación para recuperar la función de tu sonrisa.",
		price:       "15,000 - 20,000 Bs.",
		note:        "(El precio varía según el tratamiento específico)",
	},
}

var (
	rePriceQuestion = regexp.MustCompile(`\b(precios?|cuanto|cuesta|vale|costo|coste|tarifa)\b`)
	reDiscount      = regexp.MustCompile(`\b(rebaja|descuentos?|mas barato|oferta|promocion|reducir|menos precio|mas economico)\b`)
)

func detectSpecialty(text string) (specialty, bool) {
	m := validate.Fold(text)
	for _, sp := range specialties {
		for _, kw := range sp.keywords {
			if strings.Contains(m, kw) {
				return sp, true
			}
		}
	}
	return specialty{}, false
}

func specialtyByKey(key string) (specialty, bool) {
	for _, sp := range specialties {
		if sp.key == key {
			return sp, true
		}
	}
	return specialty{}, false
}

func asksPrice(text string) bool    { return rePriceQuestion.MatchString(validate.Fold(text)) }
func asksDiscount(text string) bool { return reDiscount.MatchString(validate.Fold(text)) }

func specialtyList() string {
	var sb strings.Builder
	for _, sp := range specialties {
		sb.WriteString("\n🔹 " + sp.title)
	}
	return sb.String()
}

func specialtyAnswer(name string, sp specialty) string {
	return fmt.Sprintf("¡%s! 😊\n\n✅ Sí, ofrecemos atención en *%s*.\n\n%s ¿Te gustaría agendar una consulta de evaluación?", name, sp.title, sp.description)
}

func (e *Engine) startSpecialties(ctx context.Context, t *turn) {
	name := e.nameOf(ctx, t)
	if sp, ok := detectSpecialty(t.Text); ok {
		if asksPrice(t.Text) {
			t.sess.FAQ.CarriedSpecialty = sp.key
			e.startPricing(ctx, t)
			return
		}
		msg := specialtyAnswer(name, sp)
		t.sess.FAQ.Specialty = sp.key
		e.reply(ctx, t.UserID, msg)
		e.remember(ctx, t, models.IntentSpecialties, msg)
		t.await(models.FlowSpecialties, models.StepSpecialtyFollow)
		return
	}
	msg := fmt.Sprintf("%s! 😊\n¿En qué especialidad estás interesado?\nTenemos:%s", name, specialtyList())
	e.reply(ctx, t.UserID, msg)
	e.remember(ctx, t, models.IntentSpecialties, msg)
	t.await(models.FlowSpecialties, models.StepSpecialtyWhich)
}

func (e *Engine) captureSpecialtyWhich(ctx context.Context, t *turn) {
	if validate.CancelCommand(t.Text) {
		e.reply(ctx, t.UserID, msgAnythingElse)
		return
	}
	sp, ok := detectSpecialty(t.Text)
	if asksPrice(t.Text) {
		if ok {
			t.sess.FAQ.CarriedSpecialty = sp.key
		}
		e.startPricing(ctx, t)
		return
	}
	if !ok {
		e.reply(ctx, t.UserID, "Lo siento, no tengo información sobre esa especialidad. Nuestras especialidades son:"+specialtyList()+"\n\n¿Alguna de estas te interesa?")
		t.await(models.FlowSpecialties, models.StepSpecialtyWhich)
		return
	}
	t.sess.FAQ.Specialty = sp.key
	e.reply(ctx, t.UserID, specialtyAnswer(e.nameOf(ctx, t), sp))
	t.await(models.FlowSpecialties, models.StepSpecialtyFollow)
}

func (e *Engine) captureSpecialtyFollow(ctx context.Context, t *turn) {
	if asksPrice(t.Text) {
		if sp, ok := detectSpecialty(t.Text); ok {
			t.sess.FAQ.CarriedSpecialty = sp.key
		} else {
			t.sess.FAQ.CarriedSpecialty = t.sess.FAQ.Specialty
		}
		e.startPricing(ctx, t)
		return
	}
	e.answerOffer(ctx, t)
}

func priceLine(sp specialty) string {
	line := fmt.Sprintf("💰 *%s*: %s", sp.title, sp.price)
	if sp.note != "" {
		line += "\n" + sp.note
	}
	return line
}

// startPricing answers a price question. A specialty carried over from the
// specialties flow or named in the text gets its own price; a discount
// question gets the in-person invitation; anything else lists every price.
func (e *Engine) startPricing(ctx context.Context, t *turn) {
	name := e.nameOf(ctx, t)
	faq := &t.sess.FAQ
	carried := faq.CarriedSpecialty
	faq.CarriedSpecialty = ""

	var msg string
	sp, ok := specialtyByKey(carried)
	if !ok {
		sp, ok = detectSpecialty(t.Text)
	}
	switch {
	case asksDiscount(t.Text):
		faq.AskedDiscount = true
		msg = discountMessage(name)
	case ok:
		faq.Specialty = sp.key
		msg = fmt.Sprintf("Hola %s! 😊\n\n%s\n\n¿Te gustaría agendar una cita?", name, priceLine(sp))
	default:
		faq.ShowedAllPrices = true
		lines := make([]string, 0, len(specialties))
		for _, s := range specialties {
			lines = append(lines, priceLine(s))
		}
		msg = fmt.Sprintf("Hola %s! 😊 Estos son nuestros precios:\n\n%s\n\n¿Te gustaría agendar una cita para algún tratamiento?", name, strings.Join(lines, "\n\n"))
	}
	e.reply(ctx, t.UserID, msg)
	e.remember(ctx, t, models.IntentPricing, msg)
	t.await(models.FlowPricing, models.StepPricingFollow)
}

func discountMessage(name string) string {
	return fmt.Sprintf("Hola %s! 😊\n\nPara conversar sobre opciones de pago, facilidades o planes especiales, te invito a que te apersones a la clínica.\n\nAllí podremos revisar tu caso específico y brindarte la mejor opción. ¿Te gustaría agendar una cita?", name)
}

func (e *Engine) capturePricingFollow(ctx context.Context, t *turn) {
	faq := &t.sess.FAQ
	if asksDiscount(t.Text) {
		faq.AskedDiscount = true
		e.reply(ctx, t.UserID, discountMessage(e.nameOf(ctx, t)))
		t.await(models.FlowPricing, models.StepPricingFollow)
		return
	}
	if sp, ok := detectSpecialty(t.Text); ok && asksPrice(t.Text) {
		faq.CarriedSpecialty = sp.key
		e.startPricing(ctx, t)
		return
	}
	if faq.AskedDiscount && validate.YesNo(t.Text) == validate.No {
		e.reply(ctx, t.UserID, "Entiendo, cuando desees puedes visitarnos o escribirnos. ¿En qué más te puedo ayudar?")
		return
	}
	e.answerOffer(ctx, t)
}
