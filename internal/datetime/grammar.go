package datetime

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var months = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June, "julio": time.July,
	"agosto": time.August, "septiembre": time.September, "setiembre": time.September,
	"octubre": time.October, "noviembre": time.November, "diciembre": time.December,
}

var weekdays = map[string]time.Weekday{
	"domingo": time.Sunday, "lunes": time.Monday, "martes": time.Tuesday,
	"miercoles": time.Wednesday, "jueves": time.Thursday, "viernes": time.Friday,
	"sabado": time.Saturday,
}

var (
	reRelative    = regexp.MustCompile(`\b(?:en|dentro de)\s+(\d{1,3})\s+(minutos?|horas?|dias?|semanas?)\b`)
	rePasado      = regexp.MustCompile(`\bpasado manana\b`)
	reManana      = regexp.MustCompile(`\bmanana\b`)
	reToday       = regexp.MustCompile(`\b(hoy|anteayer|ayer)\b`)
	reMonthDate   = regexp.MustCompile(`\b(\d{1,2})\s+de\s+(enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|setiembre|octubre|noviembre|diciembre)(?:\s+(?:de|del)\s+(\d{4}))?\b`)
	reNumericDate = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2}|\d{4}))?\b`)
	reWeekday     = regexp.MustCompile(`\b(?:(proximo|siguiente)\s+)?(lunes|martes|miercoles|jueves|viernes|sabado|domingo)(?:\s+(que viene|proximo|siguiente))?\b`)
	reDayOfMonth  = regexp.MustCompile(`\bel\s+(\d{1,2})\b( ?(?::|am\b|pm\b|hrs?\b|h\b|horas\b|de la\b|y\b))?`)

	reClock    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	reMeridiem = regexp.MustCompile(`\b(\d{1,2})(?:\s+y\s+(media|cuarto|\d{1,2}))?\s*(am|pm)\b`)
	reAtHour   = regexp.MustCompile(`\b(?:a\s+)?las?\s+(\d{1,2})(?:\s+y\s+(media|cuarto|\d{1,2}))?\b`)
	reDayPart  = regexp.MustCompile(`\b(\d{1,2})(?:\s+y\s+(media|cuarto|\d{1,2}))?\s+(?:de|en|por)\s+la\s+(?:tarde|noche|manana|madrugada)\b`)
	reHours    = regexp.MustCompile(`\b(\d{1,2})(?:\s+y\s+(media|cuarto|\d{1,2}))?\s*(?:hrs?|h|horas)\b`)

	reDayPartOnly = regexp.MustCompile(`\b(tarde|noche|manana|madrugada)\b`)
)

// parsed is what the grammar found in one normalized message.
type parsed struct {
	hasDate bool
	date    time.Time // midnight in the resolver location
	badDate bool      // a day and month were written but no such date exists

	hasTime bool
	hour    int
	minute  int
}

func (p parsed) empty() bool { return !p.hasDate && !p.hasTime && !p.badDate }

// scanner consumes matched spans so date words are not read again as times.
type scanner struct {
	s string
}

func (sc *scanner) find(re *regexp.Regexp) []string {
	loc := re.FindStringSubmatchIndex(sc.s)
	if loc == nil {
		return nil
	}
	groups := make([]string, len(loc)/2)
	for i := range groups {
		if loc[2*i] >= 0 {
			groups[i] = sc.s[loc[2*i]:loc[2*i+1]]
		}
	}
	sc.s = sc.s[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + sc.s[loc[1]:]
	return groups
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// calendarDate builds a date and rejects overflowing days such as 31/02.
func calendarDate(y int, m time.Month, d int, loc *time.Location) (time.Time, bool) {
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if t.Day() != d || t.Month() != m {
		return time.Time{}, false
	}
	return t, true
}

// parse runs the date grammar and then the time grammar over s. now must
// already be in the resolver location.
func parse(s string, m markers, now time.Time) parsed {
	var p parsed
	sc := &scanner{s: " " + s + " "}
	today := midnight(now)

	if g := sc.find(reRelative); g != nil {
		n := atoi(g[1])
		switch {
		case strings.HasPrefix(g[2], "minuto"):
			return relativeInstant(now.Add(time.Duration(n) * time.Minute))
		case strings.HasPrefix(g[2], "hora"):
			return relativeInstant(now.Add(time.Duration(n) * time.Hour))
		case strings.HasPrefix(g[2], "semana"):
			p.hasDate, p.date = true, today.AddDate(0, 0, 7*n)
		default:
			p.hasDate, p.date = true, today.AddDate(0, 0, n)
		}
	}

	if !p.hasDate {
		var dm dateMatch
		p.date, dm = parseDate(sc, today)
		p.hasDate, p.badDate = dm == dateValid, dm == dateInvalid
	}

	p.hasTime, p.hour, p.minute = parseTime(sc)
	if m.noon {
		p.hasTime, p.hour, p.minute = true, 12, 0
	} else if p.hasTime {
		p.hour = applyMeridiem(p.hour, m)
	}
	return p
}

func relativeInstant(t time.Time) parsed {
	return parsed{hasDate: true, date: midnight(t), hasTime: true, hour: t.Hour(), minute: t.Minute()}
}

// applyMeridiem shifts 1-11 to the afternoon when an afternoon or evening marker is present.
func applyMeridiem(hour int, m markers) int {
	switch {
	case hour >= 1 && hour <= 11 && m.pm:
		return hour + 12
	case hour == 12 && m.am && !m.pm:
		return 0
	default:
		return hour
	}
}

type dateMatch int

const (
	dateNone dateMatch = iota
	dateValid
	dateInvalid
)

func matched(d time.Time, ok bool) (time.Time, dateMatch) {
	if !ok {
		return time.Time{}, dateInvalid
	}
	return d, dateValid
}

func parseDate(sc *scanner, today time.Time) (time.Time, dateMatch) {
	loc := today.Location()

	if sc.find(rePasado) != nil {
		return today.AddDate(0, 0, 2), dateValid
	}
	if tomorrowAt(sc) {
		return today.AddDate(0, 0, 1), dateValid
	}
	if g := sc.find(reToday); g != nil {
		switch g[1] {
		case "ayer":
			return today.AddDate(0, 0, -1), dateValid
		case "anteayer":
			return today.AddDate(0, 0, -2), dateValid
		default:
			return today, dateValid
		}
	}
	if g := sc.find(reMonthDate); g != nil {
		month := months[g[2]]
		year := today.Year()
		if g[3] != "" {
			year = atoi(g[3])
		}
		d, ok := calendarDate(year, month, atoi(g[1]), loc)
		if ok && g[3] == "" && d.Before(today) {
			d, ok = calendarDate(year+1, month, atoi(g[1]), loc)
		}
		return matched(d, ok)
	}
	if g := sc.find(reNumericDate); g != nil {
		month := time.Month(atoi(g[2]))
		year := today.Year()
		switch len(g[3]) {
		case 2:
			year = 2000 + atoi(g[3])
		case 4:
			year = atoi(g[3])
		}
		d, ok := calendarDate(year, month, atoi(g[1]), loc)
		if ok && g[3] == "" && d.Before(today) {
			d, ok = calendarDate(year+1, month, atoi(g[1]), loc)
		}
		return matched(d, ok)
	}
	if g := sc.find(reWeekday); g != nil {
		target := weekdays[g[2]]
		skipToday := g[1] != "" || g[3] != ""
		ahead := (int(target) - int(today.Weekday()) + 7) % 7
		if ahead == 0 && skipToday {
			ahead = 7
		}
		return today.AddDate(0, 0, ahead), dateValid
	}
	if loc := reDayOfMonth.FindStringSubmatchIndex(sc.s); loc != nil && loc[4] < 0 {
		day := atoi(sc.s[loc[2]:loc[3]])
		sc.s = sc.s[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + sc.s[loc[1]:]
		d, ok := calendarDate(today.Year(), today.Month(), day, today.Location())
		if ok && d.Before(today) {
			next := today.AddDate(0, 1, 1-today.Day())
			d, ok = calendarDate(next.Year(), next.Month(), day, today.Location())
		}
		return matched(d, ok)
	}
	return time.Time{}, dateNone
}

// tomorrowAt finds "manana" meaning tomorrow, skipping "la manana" (the morning).
func tomorrowAt(sc *scanner) bool {
	for _, loc := range reManana.FindAllStringIndex(sc.s, -1) {
		if strings.HasSuffix(sc.s[:loc[0]], "la ") {
			continue
		}
		sc.s = sc.s[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + sc.s[loc[1]:]
		return true
	}
	return false
}

func parseTime(sc *scanner) (bool, int, int) {
	if g := sc.find(reClock); g != nil {
		return validClock(atoi(g[1]), atoi(g[2]))
	}
	for _, re := range []*regexp.Regexp{reMeridiem, reAtHour, reDayPart, reHours} {
		if g := sc.find(re); g != nil {
			return validClock(atoi(g[1]), minutesWord(g[2]))
		}
	}
	return false, 0, 0
}

func minutesWord(s string) int {
	switch s {
	case "":
		return 0
	case "media":
		return 30
	case "cuarto":
		return 15
	default:
		return atoi(s)
	}
}

func validClock(h, m int) (bool, int, int) {
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return false, 0, 0
	}
	return true, h, m
}
