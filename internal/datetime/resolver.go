// Package datetime resolves Spanish natural-language date and time
// expressions into appointment start times.
//
// A message may carry a full date and time, only one of the two, or
// nothing usable. Partial answers are returned to the caller, which keeps
// them in the conversation and later merges them with the missing piece
// through CombineTime or CombineDate. Every complete instant is checked
// against the lead time and the clinic hours before it is accepted.
package datetime

import (
	"log/slog"
	"time"
)

const (
	// DefaultLeadTime is the minimum notice for a new appointment.
	DefaultLeadTime = 60 * time.Minute
	// DefaultTimezone is the clinic timezone.
	DefaultTimezone = "America/La_Paz"
)

// Outcome classifies a resolution attempt.
type Outcome int

const (
	// OutcomeComplete carries a validated start time.
	OutcomeComplete Outcome = iota
	// OutcomeNeedTime carries a date without an hour.
	OutcomeNeedTime
	// OutcomeNeedDate carries an hour without a date.
	OutcomeNeedDate
	// OutcomeUnparsed means nothing usable was found.
	OutcomeUnparsed
	// OutcomeRejected means a full instant was found but breaks a business rule.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeNeedTime:
		return "need_time"
	case OutcomeNeedDate:
		return "need_date"
	case OutcomeUnparsed:
		return "unparsed"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result is the decision for one message. Message is set for every outcome
// except OutcomeComplete and is meant to be sent to the user as is.
type Result struct {
	Outcome     Outcome
	Time        time.Time // OutcomeComplete, and OutcomeRejected when a full instant was found
	PartialDate time.Time // OutcomeNeedTime
	Hour        int       // OutcomeNeedDate
	Minute      int       // OutcomeNeedDate
	Message     string
	Corrected   bool // the typo pass changed the text before it parsed
}

// OK reports whether the result is a validated start time.
func (r Result) OK() bool { return r.Outcome == OutcomeComplete }

// Opts holds configuration for a Resolver.
type Opts struct {
	Location *time.Location
	LeadTime time.Duration
}

// Option configures a Resolver.
type Option func(*Opts)

// WithLocation sets the timezone dates are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) {
		o.Location = loc
	}
}

// WithLeadTime sets the minimum notice between now and an accepted start.
func WithLeadTime(d time.Duration) Option {
	return func(o *Opts) {
		o.LeadTime = d
	}
}

// Resolver turns message text into appointment start times.
// It holds no per-user state and is safe for concurrent use.
type Resolver struct {
	loc      *time.Location
	leadTime time.Duration
}

// NewResolver creates a Resolver. Without options it uses the clinic
// timezone and DefaultLeadTime.
func NewResolver(opts ...Option) *Resolver {
	o := Opts{LeadTime: DefaultLeadTime}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Location == nil {
		o.Location = ClinicLocation()
	}
	if o.LeadTime < 0 {
		o.LeadTime = 0
	}
	return &Resolver{loc: o.Location, leadTime: o.LeadTime}
}

// ClinicLocation loads DefaultTimezone, falling back to a fixed UTC-4 zone
// when the tz database is unavailable. Bolivia has no daylight saving time.
func ClinicLocation() *time.Location {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		slog.Warn("datetime ClinicLocation tz database unavailable, using fixed offset", "zone", DefaultTimezone, "error", err)
		return time.FixedZone("BOT", -4*60*60)
	}
	return loc
}

// Location returns the timezone the resolver works in.
func (r *Resolver) Location() *time.Location { return r.loc }

// LeadTime returns the configured minimum notice.
func (r *Resolver) LeadTime() time.Duration { return r.leadTime }

// analyze normalizes and parses text, running the typo pass and a single
// retry when the first parse finds nothing.
func (r *Resolver) analyze(text string, now time.Time) (parsed, markers, bool) {
	s, m := normalize(text)
	p := parse(s, m, now)
	if !p.empty() {
		return p, m, false
	}
	fixed := correctTypos(s)
	if fixed == s {
		return p, m, false
	}
	s, m = normalize(fixed)
	p = parse(s, m, now)
	if !p.empty() {
		slog.Debug("datetime analyze typo correction applied", "length", len(text))
	}
	return p, m, !p.empty()
}

// Resolve interprets a standalone message.
func (r *Resolver) Resolve(text string, now time.Time) Result {
	now = now.In(r.loc)
	p, m, corrected := r.analyze(text, now)

	var res Result
	switch {
	case p.badDate:
		res = Result{Outcome: OutcomeUnparsed, Message: msgBadDate}
	case p.hasDate && p.hasTime:
		res = r.Validate(at(p.date, p.hour, p.minute), now)
	case p.hasDate:
		res = Result{Outcome: OutcomeNeedTime, PartialDate: p.date, Message: pickAskHour()}
	case p.hasTime:
		res = Result{Outcome: OutcomeNeedDate, Hour: p.hour, Minute: p.minute, Message: pickAskDay()}
	default:
		res = Result{Outcome: OutcomeUnparsed, Message: msgUnparsed}
		if onlyDayPart(text, m) {
			res.Message = msgSpecify
		}
	}
	res.Corrected = corrected
	return res
}

// CombineTime merges a stored partial date with a message that should
// carry the hour. The stored date always wins over any date in the message.
func (r *Resolver) CombineTime(partialDate time.Time, text string, now time.Time) Result {
	now = now.In(r.loc)
	p, _, corrected := r.analyze(text, now)
	if !p.hasTime {
		return Result{Outcome: OutcomeNeedTime, PartialDate: partialDate, Message: msgNoHour, Corrected: corrected}
	}
	res := r.Validate(at(midnight(partialDate.In(r.loc)), p.hour, p.minute), now)
	res.Corrected = corrected
	return res
}

// CombineDate merges a stored hour and minute with a message that should
// carry the date. The stored hour always wins over any hour in the message;
// a day-part marker in the message still moves a 1-11 hour to the afternoon.
func (r *Resolver) CombineDate(hour, minute int, text string, now time.Time) Result {
	now = now.In(r.loc)
	p, m, corrected := r.analyze(text, now)
	if !p.hasDate {
		msg := msgNoDay
		if p.badDate {
			msg = msgBadDate
		}
		return Result{Outcome: OutcomeNeedDate, Hour: hour, Minute: minute, Message: msg, Corrected: corrected}
	}
	if !p.hasTime && !m.noon {
		hour = applyMeridiem(hour, m)
	}
	res := r.Validate(at(p.date, hour, minute), now)
	res.Corrected = corrected
	return res
}

// Validate applies the lead time and the clinic hours to a full instant.
func (r *Resolver) Validate(t, now time.Time) Result {
	t = t.In(r.loc)
	now = now.In(r.loc)
	if !t.After(now.Add(r.leadTime)) {
		return Result{Outcome: OutcomeRejected, Time: t, Message: leadTimeMessage(now, r.leadTime)}
	}
	if msg, ok := clinicOpen(t); !ok {
		return Result{Outcome: OutcomeRejected, Time: t, Message: msg}
	}
	return Result{Outcome: OutcomeComplete, Time: t}
}

func at(date time.Time, hour, minute int) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, date.Location())
}

// onlyDayPart reports a message like "en la tarde" that names a part of the
// day but neither a date nor an hour.
func onlyDayPart(text string, m markers) bool {
	s, _ := normalize(text)
	return m.pm || reDayPartOnly.MatchString(s)
}
