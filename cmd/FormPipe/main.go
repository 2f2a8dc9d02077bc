package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/FormPipe/internal/api"
	"github.com/BTreeMap/FormPipe/internal/catalog"
	"github.com/BTreeMap/FormPipe/internal/extraction"
	"github.com/BTreeMap/FormPipe/internal/flow"
	"github.com/BTreeMap/FormPipe/internal/genai"
	"github.com/BTreeMap/FormPipe/internal/lockfile"
	"github.com/BTreeMap/FormPipe/internal/provider"
	"github.com/BTreeMap/FormPipe/internal/recovery"
	"github.com/BTreeMap/FormPipe/internal/store"
	"github.com/BTreeMap/FormPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for FormPipe state data
	DefaultStateDir = "/var/lib/formpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "formpipe.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Single-instance guard for file-based state.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err, "state_dir", *flags.stateDir)
		os.Exit(1)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release state directory lock", "error", err)
		}
	}()

	slog.Info("Bootstrapping FormPipe with configured modules")
	if err := run(flags); err != nil {
		slog.Error("FormPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("FormPipe exited successfully")
}

func run(flags Flags) error {
	st, err := store.NewStore(buildStoreOptions(flags)...)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := catalog.NewRegistry(st)
	if err := registry.Load(); err != nil {
		return err
	}
	if *flags.capabilitiesFile != "" {
		if err := registry.LoadFile(*flags.capabilitiesFile); err != nil {
			return err
		}
	}

	if err := recovery.NewRevalidator(st, registry, *flags.draftStaleAfter).Run(); err != nil {
		return err
	}

	// Extraction is optional: without an OpenAI key, turns still handle
	// confirmation and cancel signals, just without inferred values.
	var extractor *extraction.Extractor
	genaiClient, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		slog.Warn("GenAI client unavailable, text extraction disabled", "error", err)
	} else {
		extractor = extraction.NewExtractor(genaiClient)
	}

	invoker := provider.NewHTTPInvoker(buildProviderOptions(flags)...)
	gateway := provider.NewGateway(invoker, provider.WithPageSize(*flags.optionPageSize))
	submitter := provider.NewSubmitter(invoker)
	drafts := flow.NewDraftManager(st)
	planner := flow.NewPlanner(registry, st, drafts, gateway, submitter)
	coordinator := flow.NewCoordinator(planner, drafts, st, gateway, extractor)

	server := api.NewServer(registry, st, planner, coordinator, buildAPIOptions(flags)...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx)
}

// Config holds environment configuration
type Config struct {
	DatabaseDSN     string
	StateDir        string
	OpenAIKey       string
	OpenAIModel     string
	APIAddr         string
	ProviderTimeout time.Duration
	OptionPageSize  int
	DraftStaleAfter time.Duration
	Debug           bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	dbDSN            *string
	openaiKey        *string
	openaiModel      *string
	apiAddr          *string
	capabilitiesFile *string
	providerTimeout  *time.Duration
	optionPageSize   *int
	draftStaleAfter  *time.Duration
}

// initializeLogger sets up structured logging; FORMPIPE_DEBUG raises the level
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("FORMPIPE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		DatabaseDSN:     os.Getenv("FORMPIPE_DATABASE_DSN"),
		StateDir:        os.Getenv("FORMPIPE_STATE_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		APIAddr:         os.Getenv("FORMPIPE_API_ADDR"),
		ProviderTimeout: util.ParseDurationEnv("FORMPIPE_PROVIDER_TIMEOUT", provider.DefaultTimeout),
		OptionPageSize:  util.ParseIntEnv("FORMPIPE_OPTION_PAGE_SIZE", provider.DefaultPageSize),
		DraftStaleAfter: util.ParseDurationEnv("FORMPIPE_DRAFT_STALE_AFTER", recovery.DefaultStaleAfter),
		Debug:           util.ParseBoolEnv("FORMPIPE_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No FORMPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database DSN is provided, default to SQLite in the state directory.
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}

	slog.Debug("environment variables loaded",
		"FORMPIPE_DATABASE_DSN_SET", config.DatabaseDSN != "",
		"FORMPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"FORMPIPE_API_ADDR", config.APIAddr,
		"FORMPIPE_PROVIDER_TIMEOUT", config.ProviderTimeout,
		"FORMPIPE_OPTION_PAGE_SIZE", config.OptionPageSize,
		"FORMPIPE_DRAFT_STALE_AFTER", config.DraftStaleAfter)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for FormPipe data (overrides $FORMPIPE_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseDSN, "database DSN: sqlite path, postgres://, or redis:// (overrides $FORMPIPE_DATABASE_DSN)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for text extraction (overrides $OPENAI_API_KEY)"),
		openaiModel:      flag.String("openai-model", config.OpenAIModel, "OpenAI model for text extraction (overrides $OPENAI_MODEL)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $FORMPIPE_API_ADDR)"),
		capabilitiesFile: flag.String("capabilities", "", "JSON file with capability specs to register at startup"),
		providerTimeout:  flag.Duration("provider-timeout", config.ProviderTimeout, "per-call timeout for provider HTTP requests (overrides $FORMPIPE_PROVIDER_TIMEOUT)"),
		optionPageSize:   flag.Int("option-page-size", config.OptionPageSize, "option page size requested from providers (overrides $FORMPIPE_OPTION_PAGE_SIZE)"),
		draftStaleAfter:  flag.Duration("draft-stale-after", config.DraftStaleAfter, "age past which untouched drafts are discarded at startup (overrides $FORMPIPE_DRAFT_STALE_AFTER)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"capabilitiesFile", *flags.capabilitiesFile)

	// Follow an overridden state directory when the DSN was left at its
	// state-dir-derived default.
	if *flags.dbDSN == config.DatabaseDSN && config.DatabaseDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return err
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		switch store.DetectDSNType(*flags.dbDSN) {
		case "postgres":
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		case "redis":
			slog.Debug("Detected Redis DSN, configuring Redis store")
			storeOpts = append(storeOpts, store.WithRedisDSN(*flags.dbDSN))
		default:
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildProviderOptions constructs provider invoker configuration options
func buildProviderOptions(flags Flags) []provider.Option {
	var providerOpts []provider.Option
	if *flags.providerTimeout > 0 {
		providerOpts = append(providerOpts, provider.WithTimeout(*flags.providerTimeout))
	}
	return providerOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
