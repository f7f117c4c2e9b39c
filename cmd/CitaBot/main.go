package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/CitaBot/internal/app"
	"github.com/BTreeMap/CitaBot/internal/datetime"
	"github.com/BTreeMap/CitaBot/internal/genai"
	"github.com/BTreeMap/CitaBot/internal/speller"
	"github.com/BTreeMap/CitaBot/internal/store"
	"github.com/BTreeMap/CitaBot/internal/twiliowhatsapp"
	"github.com/BTreeMap/CitaBot/internal/util"
	"github.com/BTreeMap/CitaBot/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CitaBot state data
	DefaultStateDir = "/var/lib/citabot"
	// DefaultAppDBFileName is the default SQLite database for customers and ledger
	DefaultAppDBFileName = "citabot.db"
	// DefaultWhatsAppDBFileName is the default SQLite database for the whatsmeow device
	DefaultWhatsAppDBFileName = "whatsapp.db"
	// LanguageToolOff disables date spelling correction
	LanguageToolOff = "off"
)

func main() {
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)
	initializeLogger(*flags.logLevel)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	opts := buildAppOptions(config, flags)
	slog.Info("Bootstrapping CitaBot", "transport", *flags.transport, "state_dir", *flags.stateDir)
	slog.Debug("Final configuration",
		"db_dsn_set", *flags.appDBDSN != "",
		"redis_set", *flags.redisURL != "",
		"api_addr", *flags.apiAddr,
		"admin_set", *flags.adminNumber != "",
		"options", len(opts))
	if err := app.Run(context.Background(), opts...); err != nil {
		slog.Error("CitaBot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CitaBot exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	Transport        string
	RedisURL         string
	AdminNumber      string
	APIAddr          string
	LogLevel         string

	TwilioAuthToken string
	TwilioPublicURL string

	OpenAIKey   string
	LLMBaseURL  string
	LLMModel    string
	GeminiKeys  []string
	GeminiModel string
	STTKey      string
	STTBaseURL  string
	STTModel    string

	LanguageToolURL     string
	CalendarID          string
	CalendarCredentials string
	SendGridKey         string
	MailFrom            string

	Timezone          string
	DebounceWindow    time.Duration
	InactivityTimeout time.Duration
	LeadTime          time.Duration
	TypingDelay       time.Duration
	CashReportCron    string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	appDBDSN      *string
	whatsappDBDSN *string
	transport     *string
	redisURL      *string
	adminNumber   *string
	apiAddr       *string
	logLevel      *string
}

// initializeLogger sets up structured text logging at the given level, info when unparsable
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         util.GetEnvOrDefault("CITABOT_STATE_DIR", DefaultStateDir),
		ApplicationDBDSN: os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		Transport:        util.GetEnvOrDefault("TRANSPORT", app.TransportWhatsApp),
		RedisURL:         os.Getenv("REDIS_URL"),
		AdminNumber:      os.Getenv("ADMIN_NUMBER"),
		APIAddr:          util.GetEnvOrDefault("API_ADDR", app.DefaultAddr),
		LogLevel:         util.GetEnvOrDefault("LOG_LEVEL", "info"),

		TwilioAuthToken: os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioPublicURL: os.Getenv("TWILIO_WEBHOOK_URL"),

		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		LLMBaseURL:  os.Getenv("LLM_BASE_URL"),
		LLMModel:    os.Getenv("LLM_MODEL"),
		GeminiKeys:  splitKeys(os.Getenv("GEMINI_API_KEY")),
		GeminiModel: os.Getenv("GEMINI_MODEL"),
		STTModel:    os.Getenv("STT_MODEL"),

		LanguageToolURL:     os.Getenv("LANGUAGETOOL_URL"),
		CalendarID:          os.Getenv("GOOGLE_CALENDAR_ID"),
		CalendarCredentials: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		SendGridKey:         os.Getenv("SENDGRID_API_KEY"),
		MailFrom:            os.Getenv("MAIL_FROM"),

		Timezone:          util.GetEnvOrDefault("CLINIC_TZ", datetime.DefaultTimezone),
		DebounceWindow:    util.ParseDurationEnv("DEBOUNCE_WINDOW", 3*time.Second),
		InactivityTimeout: util.ParseDurationEnv("INACTIVITY_TIMEOUT", 50*time.Second),
		LeadTime:          util.ParseDurationEnv("BOOKING_LEAD_TIME", 60*time.Minute),
		TypingDelay:       util.ParseDurationEnv("TYPING_DELAY", 0),
		CashReportCron:    os.Getenv("ARQUEO_SCHEDULE"),
	}
	// Speech to text reuses the LLM credentials unless given its own.
	config.STTKey = util.GetEnvOrDefault("STT_API_KEY", config.OpenAIKey)
	config.STTBaseURL = util.GetEnvOrDefault("STT_BASE_URL", config.LLMBaseURL)

	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No DATABASE_URL set, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"CITABOT_STATE_DIR", config.StateDir,
		"TRANSPORT", config.Transport,
		"REDIS_URL_SET", config.RedisURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GEMINI_KEYS", len(config.GeminiKeys),
		"GOOGLE_CALENDAR_ID_SET", config.CalendarID != "",
		"SENDGRID_API_KEY_SET", config.SendGridKey != "",
		"CLINIC_TZ", config.Timezone,
		"ARQUEO_SCHEDULE", config.CashReportCron)
	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// splitKeys parses a comma separated list of API keys.
func splitKeys(v string) []string {
	var keys []string
	for _, k := range strings.Split(v, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for CitaBot data (overrides $CITABOT_STATE_DIR)"),
		appDBDSN:      flag.String("db-dsn", config.ApplicationDBDSN, "customer store DSN, postgres URL or sqlite path (overrides $DATABASE_URL)"),
		whatsappDBDSN: flag.String("wa-dsn", config.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)"),
		transport:     flag.String("transport", config.Transport, "whatsapp or twilio (overrides $TRANSPORT)"),
		redisURL:      flag.String("redis-url", config.RedisURL, "redis URL for conversation state, empty keeps it in memory (overrides $REDIS_URL)"),
		adminNumber:   flag.String("admin-number", config.AdminNumber, "admin WhatsApp number (overrides $ADMIN_NUMBER)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "HTTP server address (overrides $API_ADDR)"),
		logLevel:      flag.String("log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)"),
	}
	flag.Parse()
	applyStateDirOverride(config, flags)
	return flags
}

// applyStateDirOverride moves default file DSNs into a state directory given
// on the command line.
func applyStateDirOverride(config Config, flags Flags) {
	if *flags.stateDir == config.StateDir {
		return
	}
	if *flags.appDBDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
		*flags.appDBDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
		slog.Debug("Updated db DSN based on state directory", "new_state_dir", *flags.stateDir)
	}
	if *flags.whatsappDBDSN == defaultWhatsAppDSN(config.StateDir) {
		*flags.whatsappDBDSN = defaultWhatsAppDSN(*flags.stateDir)
		slog.Debug("Updated whatsapp DSN based on state directory", "new_state_dir", *flags.stateDir)
	}
}

// ensureDirectoriesExist creates the state directory and the directories of
// file-based databases.
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	for _, dsn := range []string{*flags.appDBDSN, *flags.whatsappDBDSN} {
		if dsn == "" || store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.Index(path, "?"); i >= 0 {
			path = path[:i]
		}
		dirs = append(dirs, filepath.Dir(path))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs whatsmeow configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDBDSN))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.appDBDSN != "" {
		if store.DetectDSNType(*flags.appDBDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.appDBDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.appDBDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.appDBDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs the OpenAI-compatible chat options
func buildGenAIOptions(config Config) []genai.Option {
	var genaiOpts []genai.Option
	if config.OpenAIKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(config.OpenAIKey))
	}
	if config.LLMBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(config.LLMBaseURL))
	}
	if config.LLMModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(config.LLMModel))
	}
	return genaiOpts
}

// buildTranscriberOptions constructs the speech-to-text options
func buildTranscriberOptions(config Config) []genai.Option {
	var sttOpts []genai.Option
	if config.STTKey != "" {
		sttOpts = append(sttOpts, genai.WithAPIKey(config.STTKey))
	}
	if config.STTBaseURL != "" {
		sttOpts = append(sttOpts, genai.WithBaseURL(config.STTBaseURL))
	}
	if config.STTModel != "" {
		sttOpts = append(sttOpts, genai.WithModel(config.STTModel))
	}
	return sttOpts
}

// buildAppOptions assembles every option passed to app.Run
func buildAppOptions(config Config, flags Flags) []app.Option {
	opts := []app.Option{
		app.WithAddr(*flags.apiAddr),
		app.WithStateDir(*flags.stateDir),
		app.WithTransport(*flags.transport),
		app.WithWhatsAppOptions(buildWhatsAppOptions(flags)...),
		app.WithStoreOptions(buildStoreOptions(flags)...),
		app.WithRedisURL(*flags.redisURL),
		app.WithAdminNumber(*flags.adminNumber),
		app.WithLLMOptions(buildGenAIOptions(config)...),
		app.WithTranscriberOptions(buildTranscriberOptions(config)...),
		app.WithDebounceWindow(config.DebounceWindow),
		app.WithInactivityTimeout(config.InactivityTimeout),
		app.WithLeadTime(config.LeadTime),
		app.WithTypingDelay(config.TypingDelay),
		app.WithCashReportSchedule(config.CashReportCron),
	}
	if *flags.transport == app.TransportTwilio {
		// Credentials come from TWILIO_* inside twiliowhatsapp.NewClient.
		opts = append(opts,
			app.WithTwilioOptions(twiliowhatsapp.WithFromWhats(os.Getenv("TWILIO_FROM_NUMBER"))),
			app.WithTwilioSignature(config.TwilioAuthToken, config.TwilioPublicURL),
		)
	}
	if len(config.GeminiKeys) > 0 {
		var gemOpts []genai.GeminiOption
		if config.GeminiModel != "" {
			gemOpts = append(gemOpts, genai.WithGeminiModel(config.GeminiModel))
		}
		opts = append(opts, app.WithGemini(config.GeminiKeys, gemOpts...))
	}
	switch {
	case strings.EqualFold(config.LanguageToolURL, LanguageToolOff):
		slog.Debug("LanguageTool disabled")
	case config.LanguageToolURL != "":
		opts = append(opts, app.WithSpeller(speller.WithEndpoint(config.LanguageToolURL)))
	default:
		opts = append(opts, app.WithSpeller())
	}
	if config.CalendarID != "" {
		opts = append(opts, app.WithGoogleCalendar(config.CalendarID, config.CalendarCredentials))
	}
	if config.SendGridKey != "" {
		opts = append(opts, app.WithSendGrid(config.SendGridKey, config.MailFrom))
	}
	if loc, err := time.LoadLocation(config.Timezone); err == nil {
		opts = append(opts, app.WithLocation(loc))
	} else {
		slog.Warn("Invalid CLINIC_TZ, using the clinic default", "tz", config.Timezone, "error", err)
	}
	return opts
}
