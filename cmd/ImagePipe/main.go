package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/BTreeMap/ImagePipe/internal/auth"
	"github.com/BTreeMap/ImagePipe/internal/flow"
	"github.com/BTreeMap/ImagePipe/internal/imaging"
	"github.com/BTreeMap/ImagePipe/internal/messaging"
	"github.com/BTreeMap/ImagePipe/internal/stability"
	"github.com/BTreeMap/ImagePipe/internal/store"
	"github.com/BTreeMap/ImagePipe/internal/translate"
	"github.com/BTreeMap/ImagePipe/internal/util"
	"github.com/BTreeMap/ImagePipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ImagePipe state data
	DefaultStateDir = "/var/lib/imagepipe"
	// DefaultWhatsAppDBFileName is the default WhatsApp session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultHistoryDBFileName is the default generation history database filename
	DefaultHistoryDBFileName = "imagepipe.db"
	// DefaultLogoFileName is the default watermark logo filename
	DefaultLogoFileName = "logo.png"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping ImagePipe with configured modules")
	if err := run(flags); err != nil {
		slog.Error("ImagePipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ImagePipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	WhatsAppDBDSN string
	HistoryDBDSN  string
	StabilityKey  string
	OpenAIKey     string
	UserIDs       string
	AdminIDs      string
	WatermarkOn   bool
	LogoPath      string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	whatsappDBDSN *string
	historyDBDSN  *string
	stabilityKey  *string
	openaiKey     *string
	userIDs       *string
	adminIDs      *string
	logoPath      *string
	watermarkOn   bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		StateDir:      os.Getenv("IMAGEPIPE_STATE_DIR"),
		WhatsAppDBDSN: os.Getenv("WHATSAPP_DB_DSN"),
		HistoryDBDSN:  os.Getenv("DATABASE_DSN"),
		StabilityKey:  os.Getenv("STABILITY_API_KEY"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		UserIDs:       os.Getenv("USER_ID"),
		AdminIDs:      os.Getenv("ADMIN_ID"),
		WatermarkOn:   util.ParseBoolEnv("WATERMARK_ENABLED", true),
		LogoPath:      os.Getenv("WATERMARK_LOGO"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No IMAGEPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
		slog.Debug("No WhatsApp DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDBDSN)
	}
	if config.HistoryDBDSN == "" {
		config.HistoryDBDSN = filepath.Join(config.StateDir, DefaultHistoryDBFileName)
		slog.Debug("No history DSN provided, defaulting to SQLite", "sqlite_path", config.HistoryDBDSN)
	}
	if config.LogoPath == "" {
		config.LogoPath = DefaultLogoFileName
	}

	slog.Debug("environment variables loaded",
		"IMAGEPIPE_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"DATABASE_DSN_SET", config.HistoryDBDSN != "",
		"STABILITY_API_KEY_SET", config.StabilityKey != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"USER_ID_SET", config.UserIDs != "",
		"ADMIN_ID_SET", config.AdminIDs != "",
		"WATERMARK_ENABLED", config.WatermarkOn)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for ImagePipe data (overrides $IMAGEPIPE_STATE_DIR)"),
		whatsappDBDSN: flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "database DSN for the WhatsApp session store (overrides $WHATSAPP_DB_DSN)"),
		historyDBDSN:  flag.String("db-dsn", config.HistoryDBDSN, "database DSN for the generation history store (overrides $DATABASE_DSN)"),
		stabilityKey:  flag.String("stability-api-key", config.StabilityKey, "Stability AI API key (overrides $STABILITY_API_KEY)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for prompt translation (overrides $OPENAI_API_KEY)"),
		userIDs:       flag.String("user-ids", config.UserIDs, "comma separated allowed user identifiers (overrides $USER_ID)"),
		adminIDs:      flag.String("admin-ids", config.AdminIDs, "comma separated allowed admin identifiers (overrides $ADMIN_ID)"),
		logoPath:      flag.String("watermark-logo", config.LogoPath, "path to the watermark logo (overrides $WATERMARK_LOGO)"),
		watermarkOn:   config.WatermarkOn,
	}

	flag.Parse()

	// Follow a changed state directory when the DSNs were left at their defaults
	if *flags.stateDir != config.StateDir {
		if *flags.whatsappDBDSN == config.WhatsAppDBDSN {
			*flags.whatsappDBDSN = "file:" + filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
			slog.Debug("Updated WhatsApp DSN based on state directory", "new_state_dir", *flags.stateDir)
		}
		if *flags.historyDBDSN == config.HistoryDBDSN {
			*flags.historyDBDSN = filepath.Join(*flags.stateDir, DefaultHistoryDBFileName)
			slog.Debug("Updated history DSN based on state directory", "new_state_dir", *flags.stateDir)
		}
	}

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"whatsappDBDSN_set", *flags.whatsappDBDSN != "",
		"historyDBDSN_set", *flags.historyDBDSN != "",
		"stabilityKeySet", *flags.stabilityKey != "",
		"openaiKeySet", *flags.openaiKey != "")

	return flags
}

// outputDir returns the directory for generated images.
func outputDir(flags Flags) string {
	return filepath.Join(*flags.stateDir, "output")
}

// mediaDir returns the directory for downloaded participant media.
func mediaDir(flags Flags) string {
	return filepath.Join(*flags.stateDir, "media")
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir, outputDir(flags), mediaDir(flags)}
	if store.DetectDSNType(*flags.historyDBDSN) != "postgres" {
		dirs = append(dirs, filepath.Dir(*flags.historyDBDSN))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
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

// buildHistoryStore selects the generation history backend by DSN.
func buildHistoryStore(flags Flags) (store.Store, error) {
	dsn := *flags.historyDBDSN
	if dsn == "" {
		slog.Debug("No history DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL history store")
		pg, err := store.NewPostgresStore(store.WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite history store", "db_path", dsn)
	sq, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	return sq, nil
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gate := auth.NewGate(*flags.userIDs, *flags.adminIDs)

	history, err := buildHistoryStore(flags)
	if err != nil {
		return err
	}
	defer history.Close()

	waClient, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
	if err != nil {
		return err
	}
	msgService := messaging.NewWhatsAppService(waClient, mediaDir(flags))
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := msgService.Stop(); err != nil {
			slog.Error("Failed to stop messaging service", "error", err)
		}
	}()

	genClient, err := stability.NewClient(*flags.stabilityKey, stability.WithOutputDir(outputDir(flags)))
	if err != nil {
		return err
	}

	var translator flow.Translator
	if *flags.openaiKey != "" {
		tr, err := translate.NewTranslator(*flags.openaiKey)
		if err != nil {
			return err
		}
		translator = tr
	} else {
		slog.Info("No OpenAI API key configured, prompt translation disabled")
	}

	watermarker := imaging.NewWatermarker(*flags.logoPath, flags.watermarkOn)

	sessions := flow.NewSessionStore()
	engine := flow.NewEngine(msgService, gate, genClient, translator, watermarker, sessions, history)
	reaper := flow.NewReaper(sessions, msgService, flow.DefaultReaperInterval, flow.DefaultStepTimeout, flow.DefaultStallTimeout)
	go reaper.Run(ctx)

	engine.Run(ctx)
	return nil
}
