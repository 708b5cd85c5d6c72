package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/CampusCompass/VoiceIntake/internal/api"
	"github.com/CampusCompass/VoiceIntake/internal/genai"
	"github.com/CampusCompass/VoiceIntake/internal/lockfile"
	"github.com/CampusCompass/VoiceIntake/internal/recovery"
	"github.com/CampusCompass/VoiceIntake/internal/store"
	"github.com/CampusCompass/VoiceIntake/internal/telephony"
	"github.com/CampusCompass/VoiceIntake/internal/util"
	"github.com/CampusCompass/VoiceIntake/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for VoiceIntake state data
	DefaultStateDir = "/var/lib/voiceintake"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "voiceintake.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	// One daemon per state directory; a second one would re-resume the
	// same sessions.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	apiOpts := buildAPIOptions(flags)

	waClient := connectWhatsApp(flags)
	if waClient != nil {
		defer waClient.Disconnect()
		apiOpts = append(apiOpts, api.WithSender(waClient))
	}

	server := api.NewServer(st, apiOpts...)
	if waClient != nil {
		waClient.OnIncomingText(server.Router().Route)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if util.ParseBoolEnv("VOICEINTAKE_RECOVER_SESSIONS", true) {
		if err := recovery.NewManager(st, server).RecoverAll(ctx); err != nil {
			slog.Warn("Session recovery incomplete", "error", err)
		}
	}

	slog.Info("VoiceIntake starting", "state_dir", *flags.stateDir, "api_addr", *flags.apiAddr)
	if err := server.Run(ctx); err != nil {
		slog.Error("VoiceIntake failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("VoiceIntake exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	WhatsAppDSN string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	PublicURL   string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	whatsApp  *bool
	stateDir  *string
	dbDSN     *string
	openaiKey *string
	apiAddr   *string
	publicURL *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and
// .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:    os.Getenv("VOICEINTAKE_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("VOICEINTAKE_API_ADDR"),
		PublicURL:   os.Getenv("VOICEINTAKE_PUBLIC_URL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No VOICEINTAKE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"VOICEINTAKE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"VOICEINTAKE_API_ADDR", config.APIAddr,
		"VOICEINTAKE_PUBLIC_URL_SET", config.PublicURL != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment
// defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:   flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		whatsApp:  flag.Bool("whatsapp", util.ParseBoolEnv("VOICEINTAKE_WHATSAPP_ENABLED", false), "connect the native WhatsApp client (overrides $VOICEINTAKE_WHATSAPP_ENABLED)"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for VoiceIntake data (overrides $VOICEINTAKE_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN for the handoff store (overrides $DATABASE_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $VOICEINTAKE_API_ADDR)"),
		publicURL: flag.String("public-url", config.PublicURL, "public base URL for Twilio webhooks (overrides $VOICEINTAKE_PUBLIC_URL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"whatsapp", *flags.whatsApp,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"publicURL_set", *flags.publicURL != "")

	// Follow a moved state directory when the DSN was derived from it.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// buildStore opens the handoff store matching the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Info("No database DSN provided, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildAPIOptions constructs API server configuration options. Telephony and
// GenAI are enabled when their credentials are present.
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.publicURL != "" {
		apiOpts = append(apiOpts, api.WithPublicURL(*flags.publicURL))
	}

	if caller, err := telephony.NewClient(); err != nil {
		slog.Info("Telephony disabled", "reason", err)
	} else {
		apiOpts = append(apiOpts, api.WithCaller(caller))
	}

	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if gaClient, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Info("Exam evaluation disabled", "reason", err)
	} else {
		apiOpts = append(apiOpts, api.WithGenAI(gaClient))
	}

	return apiOpts
}

// connectWhatsApp brings up the native WhatsApp client when enabled. Its
// inbound messages are routed into the API server's session router once the
// server exists.
func connectWhatsApp(flags Flags) *whatsapp.Client {
	if !*flags.whatsApp {
		slog.Debug("WhatsApp client not enabled")
		return nil
	}

	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if dsn := os.Getenv("WHATSAPP_DB_DSN"); dsn != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(dsn))
	} else {
		waOpts = append(waOpts, whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsmeow.db")))
	}

	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		slog.Error("WhatsApp client failed to connect, text sessions disabled", "error", err)
		return nil
	}
	return client
}
