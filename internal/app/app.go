// Package app bootstraps CitaBot.
//
// Run builds the durable store, the Conversation State store, the chosen
// WhatsApp transport and every collaborator of the dialogue engine, then
// pumps inbound events into the engine and serves /healthz, /metrics and
// the Twilio webhook until the process is told to stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/api/option"

	"github.com/BTreeMap/CitaBot/internal/calendar"
	"github.com/BTreeMap/CitaBot/internal/datetime"
	"github.com/BTreeMap/CitaBot/internal/debounce"
	"github.com/BTreeMap/CitaBot/internal/flow"
	"github.com/BTreeMap/CitaBot/internal/genai"
	"github.com/BTreeMap/CitaBot/internal/intent"
	"github.com/BTreeMap/CitaBot/internal/lockfile"
	"github.com/BTreeMap/CitaBot/internal/messaging"
	"github.com/BTreeMap/CitaBot/internal/metrics"
	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/notify"
	"github.com/BTreeMap/CitaBot/internal/scheduler"
	"github.com/BTreeMap/CitaBot/internal/session"
	"github.com/BTreeMap/CitaBot/internal/speller"
	"github.com/BTreeMap/CitaBot/internal/store"
	"github.com/BTreeMap/CitaBot/internal/twiliowhatsapp"
	"github.com/BTreeMap/CitaBot/internal/whatsapp"
)

// Transports.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

const (
	DefaultAddr             = ":8080"
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultRecoveryTimeout  = 30 * time.Second
	registryEvictSchedule   = "@every 10m"
	registryIdleAfter       = 30 * time.Minute
	httpReadTimeout         = 15 * time.Second
	httpWriteTimeout        = 15 * time.Second
	httpIdleTimeout         = 60 * time.Second
	defaultSessionKeyPrefix = "citabot:session:"
)

// Opts holds the wiring of one CitaBot process.
type Opts struct {
	Addr      string
	StateDir  string
	Transport string

	WhatsApp        []whatsapp.Option
	Twilio          []twiliowhatsapp.Option
	TwilioAuthToken string // enables webhook signature checks with TwilioPublicURL
	TwilioPublicURL string

	Store      []store.Option
	RedisURL   string
	SessionTTL time.Duration

	LLM        []genai.Option
	STT        []genai.Option
	GeminiKeys []string
	Gemini     []genai.GeminiOption

	SpellerEnabled bool
	Speller        []speller.Option

	CalendarID          string
	CalendarCredentials string

	SendGridKey string
	MailFrom    string

	AdminNumber        string
	Location           *time.Location
	DebounceWindow     time.Duration
	InactivityTimeout  time.Duration
	LeadTime           time.Duration
	TypingDelay        time.Duration
	CashReportSchedule string
}

// Option configures Run.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStateDir sets the directory holding the instance lock.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithTransport selects TransportWhatsApp or TransportTwilio.
func WithTransport(t string) Option {
	return func(o *Opts) { o.Transport = t }
}

// WithWhatsAppOptions configures the whatsmeow client.
func WithWhatsAppOptions(opts ...whatsapp.Option) Option {
	return func(o *Opts) { o.WhatsApp = append(o.WhatsApp, opts...) }
}

// WithTwilioOptions configures the Twilio client.
func WithTwilioOptions(opts ...twiliowhatsapp.Option) Option {
	return func(o *Opts) { o.Twilio = append(o.Twilio, opts...) }
}

// WithTwilioSignature verifies inbound webhooks against authToken.
func WithTwilioSignature(authToken, publicURL string) Option {
	return func(o *Opts) {
		o.TwilioAuthToken = authToken
		o.TwilioPublicURL = publicURL
	}
}

// WithStoreOptions configures the durable store. No DSN means in-memory.
func WithStoreOptions(opts ...store.Option) Option {
	return func(o *Opts) { o.Store = append(o.Store, opts...) }
}

// WithRedisURL keeps Conversation State in redis instead of memory.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.RedisURL = url }
}

// WithSessionTTL bounds how long redis keeps an abandoned session.
func WithSessionTTL(d time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = d }
}

// WithLLMOptions configures the OpenAI-compatible model. Without an API
// key the model is disabled.
func WithLLMOptions(opts ...genai.Option) Option {
	return func(o *Opts) { o.LLM = append(o.LLM, opts...) }
}

// WithTranscriberOptions configures speech to text. Without an API key
// voice notes are refused.
func WithTranscriberOptions(opts ...genai.Option) Option {
	return func(o *Opts) { o.STT = append(o.STT, opts...) }
}

// WithGemini enables Gemini with the given keys, tried in order.
func WithGemini(keys []string, opts ...genai.GeminiOption) Option {
	return func(o *Opts) {
		o.GeminiKeys = keys
		o.Gemini = append(o.Gemini, opts...)
	}
}

// WithSpeller enables LanguageTool correction of booking dates.
func WithSpeller(opts ...speller.Option) Option {
	return func(o *Opts) {
		o.SpellerEnabled = true
		o.Speller = append(o.Speller, opts...)
	}
}

// WithGoogleCalendar books on a Google calendar. An empty credentials file
// falls back to application default credentials.
func WithGoogleCalendar(calendarID, credentialsFile string) Option {
	return func(o *Opts) {
		o.CalendarID = calendarID
		o.CalendarCredentials = credentialsFile
	}
}

// WithSendGrid enables booking confirmation e-mails.
func WithSendGrid(apiKey, from string) Option {
	return func(o *Opts) {
		o.SendGridKey = apiKey
		o.MailFrom = from
	}
}

// WithAdminNumber sets the admin sender.
func WithAdminNumber(n string) Option {
	return func(o *Opts) { o.AdminNumber = n }
}

// WithLocation sets the clinic timezone.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithDebounceWindow sets the quiet period that closes a burst of messages.
func WithDebounceWindow(d time.Duration) Option {
	return func(o *Opts) { o.DebounceWindow = d }
}

// WithInactivityTimeout sets how long a capture step waits for a reply.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *Opts) { o.InactivityTimeout = d }
}

// WithLeadTime sets the minimum notice for a booking.
func WithLeadTime(d time.Duration) Option {
	return func(o *Opts) { o.LeadTime = d }
}

// WithTypingDelay pauses between the typing indicator and each reply.
func WithTypingDelay(d time.Duration) Option {
	return func(o *Opts) { o.TypingDelay = d }
}

// WithCashReportSchedule pushes the daily cash report on a cron expression.
func WithCashReportSchedule(expr string) Option {
	return func(o *Opts) { o.CashReportSchedule = expr }
}

// App is a wired CitaBot process.
type App struct {
	opts     Opts
	svc      messaging.Service
	engine   *flow.Engine
	pump     *messaging.InboundPump
	sched    *scheduler.Scheduler
	registry *session.Registry
	server   *http.Server

	// closers run in reverse order on shutdown.
	closers []func() error
}

// Run starts CitaBot and blocks until ctx ends or SIGINT/SIGTERM arrives.
func Run(ctx context.Context, opts ...Option) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, opts...)
	if err != nil {
		return err
	}
	return a.Serve(ctx)
}

func buildOpts(opts []Option) Opts {
	o := Opts{Addr: DefaultAddr, Transport: TransportWhatsApp}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Location == nil {
		o.Location = datetime.ClinicLocation()
	}
	return o
}

// New builds every component. On error whatever was already opened is closed.
func New(ctx context.Context, opts ...Option) (_ *App, err error) {
	o := buildOpts(opts)
	a := &App{opts: o}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	slog.Info("app New bootstrapping", "transport", o.Transport, "addr", o.Addr, "state_dir", o.StateDir)

	if o.StateDir != "" {
		lock, err := lockfile.AcquireLock(o.StateDir, lockfile.Owner{Transport: o.Transport, Addr: o.Addr})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, lock.Release)
	}

	st, err := store.Open(o.Store...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.closers = append(a.closers, st.Close)

	sessions, checks, err := a.openSessions(ctx)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	webhook, err := a.openTransport(ctx, checks)
	if err != nil {
		return nil, err
	}

	engineOpts, err := a.collaborators(ctx, m)
	if err != nil {
		return nil, err
	}
	a.registry = session.NewRegistry()
	queueOpts := []debounce.Option{
		debounce.WithReadMarker(a.svc),
		debounce.WithBatchObserver(func(_ string, parts int) { m.ObserveDebounceBatch(parts) }),
	}
	if o.DebounceWindow > 0 {
		queueOpts = append(queueOpts, debounce.WithWindow(o.DebounceWindow))
	}
	engineOpts = append(engineOpts,
		flow.WithStateManager(flow.NewSessionStateManager(sessions)),
		flow.WithRegistry(a.registry),
		flow.WithDebounce(debounce.New(queueOpts...)),
		flow.WithMetrics(m),
		flow.WithAdminNumber(o.AdminNumber),
	)
	if o.InactivityTimeout > 0 {
		engineOpts = append(engineOpts, flow.WithInactivityTimeout(o.InactivityTimeout))
	}
	if o.TypingDelay > 0 {
		engineOpts = append(engineOpts, flow.WithTypingDelay(o.TypingDelay))
	}
	a.engine = flow.New(a.svc, st, engineOpts...)
	a.pump = messaging.NewInboundPump(a.svc, a.engine, messaging.WithDedup(st), messaging.WithMetrics(m))

	a.sched = scheduler.NewScheduler(scheduler.WithLocation(o.Location))
	if err := a.sched.AddJob(registryEvictSchedule, func() {
		if n := a.registry.Evict(registryIdleAfter); n > 0 {
			slog.Debug("app evicted idle session locks", "count", n)
		}
	}); err != nil {
		return nil, err
	}
	if o.CashReportSchedule != "" {
		if o.AdminNumber == "" {
			slog.Warn("app cash report schedule ignored without admin number", "schedule", o.CashReportSchedule)
		} else if err := a.sched.ScheduleCashReport(o.CashReportSchedule, a.engine); err != nil {
			return nil, err
		}
	}

	a.server = &http.Server{
		Addr: o.Addr,
		Handler: NewRouter(RouterConfig{
			Transport:     o.Transport,
			Gatherer:      reg,
			TwilioWebhook: webhook,
			Checks:        checks,
		}),
		ReadTimeout:  httpReadTimeout,
		WriteTimeout: httpWriteTimeout,
		IdleTimeout:  httpIdleTimeout,
	}
	return a, nil
}

// openSessions picks redis or memory for Conversation State.
func (a *App) openSessions(ctx context.Context) (session.Store, map[string]HealthCheck, error) {
	checks := make(map[string]HealthCheck)
	if a.opts.RedisURL == "" {
		slog.Info("app sessions kept in memory")
		return session.NewMemoryStore(), checks, nil
	}
	redisOpts := []session.RedisOption{session.WithKeyPrefix(defaultSessionKeyPrefix)}
	if a.opts.SessionTTL > 0 {
		redisOpts = append(redisOpts, session.WithTTL(a.opts.SessionTTL))
	}
	rs, err := session.NewRedisStoreFromURL(ctx, a.opts.RedisURL, redisOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}
	a.closers = append(a.closers, rs.Close)
	checks["sessions"] = rs.Ping
	slog.Info("app sessions kept in redis")
	return rs, checks, nil
}

// openTransport connects the WhatsApp transport and returns the Twilio
// webhook handler when that transport is used.
func (a *App) openTransport(ctx context.Context, checks map[string]HealthCheck) (http.HandlerFunc, error) {
	switch a.opts.Transport {
	case TransportTwilio:
		c, err := twiliowhatsapp.NewClient(a.opts.Twilio...)
		if err != nil {
			return nil, fmt.Errorf("failed to create twilio client: %w", err)
		}
		var svcOpts []messaging.TwilioOption
		if a.opts.TwilioAuthToken != "" && a.opts.TwilioPublicURL != "" {
			svcOpts = append(svcOpts, messaging.WithSignatureValidation(a.opts.TwilioAuthToken, a.opts.TwilioPublicURL))
		} else {
			slog.Warn("app twilio webhook signatures not verified")
		}
		ts := messaging.NewTwilioService(c, svcOpts...)
		a.svc = ts
		return ts.TwilioWebhookHandler, nil
	case TransportWhatsApp, "":
		wa, err := whatsapp.NewClient(ctx, a.opts.WhatsApp...)
		if err != nil {
			return nil, fmt.Errorf("failed to create whatsapp client: %w", err)
		}
		a.closers = append(a.closers, func() error { wa.Disconnect(); return nil })
		checks["whatsapp"] = func(context.Context) error {
			if !wa.IsConnected() {
				return whatsapp.ErrNotConnected
			}
			return nil
		}
		a.svc = messaging.NewWhatsAppService(wa)
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", a.opts.Transport)
	}
}

// collaborators builds the optional engine collaborators. Each one that is
// not configured is left to the engine's in-process default.
func (a *App) collaborators(ctx context.Context, m *metrics.Metrics) ([]flow.Option, error) {
	o := a.opts
	var out []flow.Option

	var llm, gem genai.ClientInterface
	if c, err := genai.NewClient(o.LLM...); err == nil {
		llm = c
	} else if !errors.Is(err, genai.ErrAPIKeyNotSet) {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	if len(o.GeminiKeys) > 0 {
		g, err := genai.NewGeminiClient(ctx, o.GeminiKeys, o.Gemini...)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		gem = g
	}
	chat := firstModel(gem, llm)
	classifierModel := firstModel(llm, gem)
	slog.Info("app language models", "openai_compatible", llm != nil, "gemini", gem != nil)

	intentOpts := []intent.Option{intent.WithObserver(func(d intent.Decision) {
		slog.Debug("app intent decided", "intent", d.Intent, "stage", d.Stage)
	})}
	if classifierModel != nil {
		intentOpts = append(intentOpts, intent.WithLLM(classifierModel))
	}
	out = append(out,
		flow.WithClassifier(intent.New(intentOpts...)),
		flow.WithNameChecker(genai.NewNameValidator(classifierModel)),
	)
	if chat != nil {
		out = append(out, flow.WithChatModel(chat, ""), flow.WithExtractor(chat))
	}

	if t, err := genai.NewWhisperTranscriber(o.STT...); err == nil {
		out = append(out, flow.WithTranscriber(t))
	} else if errors.Is(err, genai.ErrAPIKeyNotSet) {
		slog.Info("app voice notes disabled: no speech-to-text key")
	} else {
		return nil, err
	}

	if o.SpellerEnabled {
		out = append(out, flow.WithSpeller(speller.NewLanguageTool(o.Speller...)))
	}

	resolverOpts := []datetime.Option{datetime.WithLocation(o.Location)}
	if o.LeadTime > 0 {
		resolverOpts = append(resolverOpts, datetime.WithLeadTime(o.LeadTime))
	}
	out = append(out, flow.WithResolver(datetime.NewResolver(resolverOpts...)))

	branches := models.DefaultBranches()
	calOpts := []calendar.Option{calendar.WithBranches(branches), calendar.WithLocation(o.Location)}
	if o.CalendarID != "" {
		var clientOpts []option.ClientOption
		if o.CalendarCredentials != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(o.CalendarCredentials))
		}
		gc, err := calendar.NewGoogleCalendar(ctx, o.CalendarID, clientOpts, calOpts...)
		if err != nil {
			return nil, err
		}
		out = append(out, flow.WithCalendar(gc))
		slog.Info("app booking on google calendar")
	} else {
		out = append(out, flow.WithCalendar(calendar.NewMemory(calOpts...)))
		slog.Warn("app booking on in-memory calendar; appointments are lost on restart")
	}
	out = append(out, flow.WithBranches(branches))

	if o.SendGridKey != "" {
		mailer, err := notify.NewSendGridMailer(o.SendGridKey, o.MailFrom)
		if err != nil {
			return nil, err
		}
		out = append(out, flow.WithMailer(mailer))
	}
	return out, nil
}

// firstModel returns the first configured model, nil when none is.
func firstModel(candidates ...genai.ClientInterface) genai.ClientInterface {
	for _, m := range candidates {
		if m != nil {
			return m
		}
	}
	return nil
}

// Serve starts the transport, recovers suspended sessions and serves HTTP
// until ctx ends, then shuts everything down.
func (a *App) Serve(ctx context.Context) error {
	if err := a.svc.Start(ctx); err != nil {
		a.close()
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		a.pump.Run(ctx)
	}()

	rctx, cancel := context.WithTimeout(ctx, DefaultRecoveryTimeout)
	n, err := a.engine.RecoverSessions(rctx)
	cancel()
	if err != nil {
		slog.Error("app session recovery failed", "error", err)
	} else {
		slog.Info("app sessions recovered", "count", n)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("app HTTP server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("app shutting down")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server failed: %w", err)
		}
	}

	sctx, scancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer scancel()
	if err := a.server.Shutdown(sctx); err != nil {
		slog.Error("app HTTP server forced to shutdown", "error", err)
	}
	a.sched.Stop()
	if err := a.svc.Stop(); err != nil {
		slog.Warn("app messaging service stop failed", "error", err)
	}
	<-pumpDone
	a.engine.Close()
	a.close()
	slog.Info("app stopped")
	return runErr
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("app close failed", "error", err)
		}
	}
	a.closers = nil
}
