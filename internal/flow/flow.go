// Package flow is the dialogue engine of CitaBot.
//
// Every inbound turn for a user runs under that user's lock in a
// session.Registry. The engine loads the user's Conversation State, resumes
// the capture step the session is suspended on (or routes a fresh turn
// through the blocklist, registration and intent checks), and at the end
// either saves the suspended session and arms the inactivity timer or
// clears the session. A flow suspends by calling await on its turn; a turn
// that ends without awaiting is terminal and its state is dropped.
package flow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/CitaBot/internal/calendar"
	"github.com/BTreeMap/CitaBot/internal/datetime"
	"github.com/BTreeMap/CitaBot/internal/debounce"
	"github.com/BTreeMap/CitaBot/internal/genai"
	"github.com/BTreeMap/CitaBot/internal/intent"
	"github.com/BTreeMap/CitaBot/internal/messaging"
	"github.com/BTreeMap/CitaBot/internal/metrics"
	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/notify"
	"github.com/BTreeMap/CitaBot/internal/session"
	"github.com/BTreeMap/CitaBot/internal/speller"
	"github.com/BTreeMap/CitaBot/internal/store"
	"github.com/BTreeMap/CitaBot/internal/util"
)

// DefaultInactivityTimeout is the idle window of a suspended capture step.
const DefaultInactivityTimeout = 50 * time.Second

// Records is the durable data the flows read and write.
type Records interface {
	store.CustomerStore
	store.BlocklistStore
	store.LedgerStore
}

// Opts holds the collaborators and settings of an Engine.
type Opts struct {
	States            StateManager
	Timer             Timer
	Registry          *session.Registry
	Debounce          *debounce.Queue
	Classifier        Classifier
	Resolver          *datetime.Resolver
	Calendar          calendar.Calendar
	Speller           speller.Corrector
	Names             NameChecker
	Transcriber       genai.Transcriber
	ChatModel         genai.ClientInterface
	ChatPrompt        string
	Extractor         genai.ClientInterface
	Mailer            notify.Mailer
	Metrics           *metrics.Metrics
	Branches          []models.Branch
	AdminNumber       string
	InactivityTimeout time.Duration
	TypingDelay       time.Duration
	Now               func() time.Time
}

// Option configures an Engine.
type Option func(*Opts)

// WithStateManager sets where Conversation State is kept.
func WithStateManager(sm StateManager) Option {
	return func(o *Opts) { o.States = sm }
}

// WithTimer replaces the inactivity timer.
func WithTimer(t Timer) Option {
	return func(o *Opts) { o.Timer = t }
}

// WithRegistry sets the per-user lock registry.
func WithRegistry(r *session.Registry) Option {
	return func(o *Opts) { o.Registry = r }
}

// WithDebounce sets the input debounce queue.
func WithDebounce(q *debounce.Queue) Option {
	return func(o *Opts) { o.Debounce = q }
}

// WithClassifier sets the intent classifier.
func WithClassifier(c Classifier) Option {
	return func(o *Opts) { o.Classifier = c }
}

// WithResolver sets the date/time resolver.
func WithResolver(r *datetime.Resolver) Option {
	return func(o *Opts) { o.Resolver = r }
}

// WithCalendar sets the booking backend.
func WithCalendar(c calendar.Calendar) Option {
	return func(o *Opts) { o.Calendar = c }
}

// WithSpeller sets the spelling corrector applied to booking dates.
func WithSpeller(c speller.Corrector) Option {
	return func(o *Opts) { o.Speller = c }
}

// WithNameChecker sets the registration name validator.
func WithNameChecker(n NameChecker) Option {
	return func(o *Opts) { o.Names = n }
}

// WithTranscriber enables voice notes.
func WithTranscriber(t genai.Transcriber) Option {
	return func(o *Opts) { o.Transcriber = t }
}

// WithChatModel sets the model of the open conversation flow and its system prompt.
func WithChatModel(llm genai.ClientInterface, systemPrompt string) Option {
	return func(o *Opts) {
		o.ChatModel = llm
		if systemPrompt != "" {
			o.ChatPrompt = systemPrompt
		}
	}
}

// WithExtractor sets the model that reads the admin's free-text bookings.
func WithExtractor(llm genai.ClientInterface) Option {
	return func(o *Opts) { o.Extractor = llm }
}

// WithMailer sets the booking confirmation mailer.
func WithMailer(m notify.Mailer) Option {
	return func(o *Opts) { o.Mailer = m }
}

// WithMetrics records flow transitions, intents and collaborator errors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithBranches sets the clinic branches.
func WithBranches(b []models.Branch) Option {
	return func(o *Opts) { o.Branches = b }
}

// WithAdminNumber sets the digits of the admin sender.
func WithAdminNumber(n string) Option {
	return func(o *Opts) { o.AdminNumber = util.CanonicalPhone(n) }
}

// WithInactivityTimeout sets the idle window of suspended sessions.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *Opts) { o.InactivityTimeout = d }
}

// WithTypingDelay pauses between the typing indicator and each reply.
func WithTypingDelay(d time.Duration) Option {
	return func(o *Opts) { o.TypingDelay = d }
}

// WithClock sets the engine's clock.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Engine runs the dialogue flows over a messaging.Service.
type Engine struct {
	svc     messaging.Service
	records Records
	opts    Opts

	wg sync.WaitGroup
}

var _ messaging.DeferredEventHandler = (*Engine)(nil)

// New creates an Engine. Collaborators left unset get in-process defaults:
// memory sessions, memory calendar, rule-only name checks and no speller.
func New(svc messaging.Service, records Records, opts ...Option) *Engine {
	o := Opts{
		Branches:          models.DefaultBranches(),
		InactivityTimeout: DefaultInactivityTimeout,
		ChatPrompt:        defaultChatPrompt,
		Now:               time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.States == nil {
		o.States = NewSessionStateManager(session.NewMemoryStore())
	}
	if o.Timer == nil {
		o.Timer = NewInactivityTimer()
	}
	if o.Registry == nil {
		o.Registry = session.NewRegistry()
	}
	if o.Debounce == nil {
		o.Debounce = debounce.New(debounce.WithReadMarker(svc))
	}
	if o.Classifier == nil {
		o.Classifier = intent.New()
	}
	if o.Resolver == nil {
		o.Resolver = datetime.NewResolver()
	}
	if o.Calendar == nil {
		o.Calendar = calendar.NewMemory(calendar.WithBranches(o.Branches), calendar.WithLocation(o.Resolver.Location()))
	}
	if o.Speller == nil {
		o.Speller = speller.Nop{}
	}
	if o.Names == nil {
		o.Names = genai.NewNameValidator(nil)
	}
	if o.Mailer == nil {
		o.Mailer = notify.Nop{}
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = DefaultInactivityTimeout
	}
	slog.Debug("flow Engine created", "branches", len(o.Branches), "admin_set", o.AdminNumber != "", "inactivity", o.InactivityTimeout)
	return &Engine{svc: svc, records: records, opts: o}
}

// now returns the engine clock in the clinic timezone.
func (e *Engine) now() time.Time {
	return e.opts.Now().In(e.opts.Resolver.Location())
}

func (e *Engine) async(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Wait blocks until turns started in the background have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close drops buffered input, waits for debounced turns already settling,
// cancels inactivity timers and waits for running turns.
func (e *Engine) Close() {
	e.opts.Debounce.Stop()
	e.opts.Timer.StopAll()
	e.wg.Wait()
	slog.Info("flow Engine closed")
}
