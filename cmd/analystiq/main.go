// Command analystiq runs the Telegram business-data assistant.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/analystiq/analystiq/internal/access"
	"github.com/analystiq/analystiq/internal/bot"
	"github.com/analystiq/analystiq/internal/config"
	"github.com/analystiq/analystiq/internal/dispatch"
	"github.com/analystiq/analystiq/internal/flow"
	"github.com/analystiq/analystiq/internal/genai"
	"github.com/analystiq/analystiq/internal/memory"
	"github.com/analystiq/analystiq/internal/scheduler"
	"github.com/analystiq/analystiq/internal/store"
	"github.com/analystiq/analystiq/internal/telegram"
	"github.com/analystiq/analystiq/internal/tools"
	"github.com/analystiq/analystiq/internal/util"
)

// Flags holds command line flag values.
type Flags struct {
	configPath *string
	dbDriver   *string
	dbDSN      *string
	stateDir   *string
	debug      *bool
}

func main() {
	flags := parseCommandLineFlags()
	initializeLogger(*flags.debug)

	cfg, err := config.Load(*flags.configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	applyFlagOverrides(cfg, flags)

	if err := ensureStateDirExists(cfg); err != nil {
		slog.Error("Failed to create state directory", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping AnalystIQ", "dbDriver", cfg.Database.Driver)
	if err := run(cfg); err != nil {
		slog.Error("AnalystIQ failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("AnalystIQ exited successfully")
}

// run wires the modules together and blocks until shutdown.
func run(cfg *config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	client, err := genai.NewClient(genai.WithAPIKey(cfg.OpenAI.APIKey), genai.WithModel(cfg.OpenAI.Model))
	if err != nil {
		return fmt.Errorf("failed to create generation client: %w", err)
	}

	transport, err := telegram.NewTransport(telegram.WithToken(cfg.Telegram.Token))
	if err != nil {
		return fmt.Errorf("failed to create telegram transport: %w", err)
	}

	mem := memory.NewStoreWithWindow(util.ParseIntEnv("ANALYSTIQ_MEMORY_WINDOW", memory.DefaultWindowSize))
	orchestrator := flow.NewOrchestrator(client, st)
	registry := tools.NewRegistry(
		orchestrator.QueryHandler(),
		orchestrator.ReportHandler(),
		tools.NewReminderHandler(st),
		tools.NewWeatherHandler(cfg.Weather.APIKey),
		tools.NewCurrencyHandler(),
		tools.NewChitChatHandler(client),
	)
	dispatcher := dispatch.NewDispatcher(client, mem, registry.Catalog())

	engine := bot.NewBot(bot.Opts{
		Transport:  transport,
		Guard:      access.NewGuard(cfg.Whitelist),
		Dispatcher: dispatcher,
		Registry:   registry,
		Memory:     mem,
		Store:      st,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reminders := scheduler.NewScheduler(st, transport)
	if err := reminders.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reminder scheduler: %w", err)
	}
	defer reminders.Stop()

	return engine.Run(ctx)
}

// openStore selects the configured database backend.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return store.NewPostgresStore(store.WithDSN(cfg.Database.DSN))
	default:
		return store.NewSQLiteStore(store.WithDSN(cfg.Database.DSN))
	}
}

// initializeLogger sets up structured logging.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// parseCommandLineFlags parses command line arguments.
func parseCommandLineFlags() Flags {
	flags := Flags{
		configPath: flag.String("config", os.Getenv("ANALYSTIQ_CONFIG"), "path to YAML config file (overrides $ANALYSTIQ_CONFIG)"),
		dbDriver:   flag.String("db-driver", "", "database driver, sqlite3 or postgres (overrides $ANALYSTIQ_DB_DRIVER)"),
		dbDSN:      flag.String("db-dsn", "", "database DSN (overrides $DATABASE_URL)"),
		stateDir:   flag.String("state-dir", "", "state directory for AnalystIQ data (overrides $ANALYSTIQ_STATE_DIR)"),
		debug:      flag.Bool("debug", util.ParseBoolEnv("ANALYSTIQ_DEBUG", false), "enable debug logging (overrides $ANALYSTIQ_DEBUG)"),
	}
	flag.Parse()
	return flags
}

// applyFlagOverrides lets flags win over file and environment values.
func applyFlagOverrides(cfg *config.Config, flags Flags) {
	if *flags.dbDriver != "" {
		cfg.Database.Driver = *flags.dbDriver
	}
	if *flags.stateDir != "" {
		cfg.StateDir = *flags.stateDir
		if *flags.dbDSN == "" && cfg.Database.Driver == "sqlite3" {
			cfg.Database.DSN = filepath.Join(cfg.StateDir, config.DefaultDBFileName)
		}
	}
	if *flags.dbDSN != "" {
		cfg.Database.DSN = *flags.dbDSN
	}
}

// ensureStateDirExists creates the state directory for file-based storage.
func ensureStateDirExists(cfg *config.Config) error {
	if strings.Contains(cfg.Database.DSN, "postgres://") || strings.Contains(cfg.Database.DSN, "host=") {
		return nil
	}
	dir := filepath.Dir(cfg.Database.DSN)
	slog.Debug("Creating state directory for file-based database", "stateDir", dir)
	return os.MkdirAll(dir, 0755)
}
