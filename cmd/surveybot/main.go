package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/daribar/surveybot/internal/api"
	"github.com/daribar/surveybot/internal/assistant"
	"github.com/daribar/surveybot/internal/conversation"
	"github.com/daribar/surveybot/internal/records"
	"github.com/daribar/surveybot/internal/serializer"
	"github.com/daribar/surveybot/internal/state"
	"github.com/daribar/surveybot/internal/util"
	"github.com/daribar/surveybot/internal/yandex"
)

// DefaultDBFileName is the SQLite database used when no DSN is configured.
const DefaultDBFileName = "surveybot.db"

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.Debug)
	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := buildRepository(flags)
	if err != nil {
		slog.Error("Failed to open records repository", "error", err)
		os.Exit(1)
	}

	store := buildStateStore(ctx, flags)

	client, err := assistant.NewOpenAIClient(buildAssistantOptions(flags)...)
	if err != nil {
		slog.Error("Failed to create assistant client", "error", err)
		os.Exit(1)
	}

	flowOpts := buildFlowOptions(flags)
	flow := conversation.NewFlow(store, serializer.New(), client, repo, flowOpts...)

	if *flags.identityURL == "" {
		slog.Error("IDENTITY_SERVICE_URL is required")
		os.Exit(1)
	}
	verifier := api.NewIdentityClient(*flags.identityURL)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(flow, repo, verifier, apiOpts...)

	slog.Info("Bootstrapping surveybot")
	if err := server.Run(ctx); err != nil {
		slog.Error("surveybot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("surveybot exited successfully")
}

// Config holds environment configuration.
type Config struct {
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        string
	OpenAIKey      string
	OpenAIModel    string
	YandexKey      string
	YandexFolderID string
	IdentityURL    string
	APIAddr        string
	Debug          bool
}

// Flags holds command line flag values.
type Flags struct {
	dbDSN       *string
	redisAddr   *string
	openaiKey   *string
	openaiModel *string
	yandexKey   *string
	identityURL *string
	apiAddr     *string

	redisPassword  string
	redisDB        string
	yandexFolderID string
}

func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        os.Getenv("REDIS_DB"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		YandexKey:      os.Getenv("YANDEX_API_KEY"),
		YandexFolderID: os.Getenv("YANDEX_FOLDER_ID"),
		IdentityURL:    os.Getenv("IDENTITY_SERVICE_URL"),
		APIAddr:        os.Getenv("API_ADDR"),
		Debug:          util.ParseBoolEnv("SURVEYBOT_DEBUG", false),
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = DefaultDBFileName
		slog.Debug("No DATABASE_URL set, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_ADDR", config.RedisAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"YANDEX_API_KEY_SET", config.YandexKey != "",
		"IDENTITY_SERVICE_URL", config.IdentityURL,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for the records store (overrides $DATABASE_URL)"),
		redisAddr:   flag.String("redis-addr", config.RedisAddr, "Redis address for the state store (overrides $REDIS_ADDR)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel: flag.String("openai-model", config.OpenAIModel, "OpenAI model name (overrides $OPENAI_MODEL)"),
		yandexKey:   flag.String("yandex-api-key", config.YandexKey, "Yandex Cloud API key (overrides $YANDEX_API_KEY)"),
		identityURL: flag.String("identity-url", config.IdentityURL, "identity service base URL (overrides $IDENTITY_SERVICE_URL)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),

		redisPassword:  config.RedisPassword,
		redisDB:        config.RedisDB,
		yandexFolderID: config.YandexFolderID,
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"dbDSN_set", *flags.dbDSN != "",
		"redisAddr", *flags.redisAddr,
		"openaiKeySet", *flags.openaiKey != "",
		"yandexKeySet", *flags.yandexKey != "",
		"identityURL", *flags.identityURL,
		"apiAddr", *flags.apiAddr)

	return flags
}

// buildRepository opens the records store, choosing the backend from the DSN shape.
func buildRepository(flags Flags) (records.Repository, error) {
	dsn := *flags.dbDSN
	if strings.HasPrefix(dsn, "postgres://") || strings.Contains(dsn, "host=") {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL records store")
		return records.NewPostgresRepository(records.WithDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite records store", "db_path", dsn)
	return records.NewSQLiteRepository(records.WithDSN(dsn))
}

// buildStateStore creates the dual-tier conversation state store. A Redis that
// is down at startup is kept as the remote tier anyway: every operation retries
// it, so the store resynchronizes the moment Redis answers again. Only a
// missing address leaves the store on the in-process tier alone.
func buildStateStore(ctx context.Context, flags Flags) *state.DualTierStore {
	fallback := state.NewFallbackStore()

	if *flags.redisAddr == "" {
		slog.Warn("No Redis address configured, state store runs on in-process tier only")
		return state.NewDualTierStore(state.NewFallbackStore(), fallback)
	}

	storeOpts := []state.Option{state.WithAddr(*flags.redisAddr)}
	if flags.redisPassword != "" {
		storeOpts = append(storeOpts, state.WithPassword(flags.redisPassword))
	}
	if flags.redisDB != "" {
		if db, err := strconv.Atoi(flags.redisDB); err == nil {
			storeOpts = append(storeOpts, state.WithDB(db))
		} else {
			slog.Warn("Ignoring non-numeric REDIS_DB", "value", flags.redisDB)
		}
	}

	remote, err := state.NewRedisStore(ctx, storeOpts...)
	if err != nil {
		slog.Error("Failed to create Redis store, state store runs on in-process tier only", "error", err)
		return state.NewDualTierStore(state.NewFallbackStore(), fallback)
	}
	return state.NewDualTierStore(remote, fallback)
}

func buildAssistantOptions(flags Flags) []assistant.Option {
	var opts []assistant.Option
	if *flags.openaiKey != "" {
		opts = append(opts, assistant.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		opts = append(opts, assistant.WithModel(*flags.openaiModel))
	}
	return opts
}

// buildFlowOptions wires the speech and translation collaborators when Yandex
// credentials are configured; without them the bot is text-only.
func buildFlowOptions(flags Flags) []conversation.FlowOption {
	if *flags.yandexKey == "" {
		slog.Warn("No Yandex API key configured, audio and translation disabled")
		return nil
	}
	yandexOpts := []yandex.Option{yandex.WithAPIKey(*flags.yandexKey)}
	if flags.yandexFolderID != "" {
		yandexOpts = append(yandexOpts, yandex.WithFolderID(flags.yandexFolderID))
	}
	speech, err := yandex.NewClient(yandexOpts...)
	if err != nil {
		slog.Error("Failed to create Yandex client, audio and translation disabled", "error", err)
		return nil
	}
	return []conversation.FlowOption{
		conversation.WithTranscriber(speech),
		conversation.WithTranslator(speech),
		conversation.WithSynthesizer(speech),
	}
}
