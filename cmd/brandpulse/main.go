package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hrygo/brandpulse/internal/profile"
	"github.com/hrygo/brandpulse/server"
	"github.com/hrygo/brandpulse/internal/observability"
	"github.com/hrygo/brandpulse/store"
	"github.com/hrygo/brandpulse/store/db"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "brandpulse",
	Short: `Conversational analytics over brand, campaign and social media sentiment data`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if path := viper.GetString("config"); path != "" {
			viper.SetConfigFile(path)
			if err := viper.ReadInConfig(); err != nil {
				return errors.Wrapf(err, "failed to read config file %s", path)
			}
		}
		slog.SetDefault(observability.NewLogger(os.Stderr, viper.GetString("mode"), viper.GetString("log-level")))
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("vector-backend", "file")
	viper.SetDefault("max-query-retries", 1)
	viper.SetDefault("schema-sample-rows", 3)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, toml or json)")
	flags.String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	flags.String("addr", "", "address of server")
	flags.Int("port", 8081, "port of server")
	flags.String("data", "", "data directory")
	flags.String("driver", "sqlite", "database driver, sqlite or postgres")
	flags.String("dsn", "", "database source name (aka. DSN)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")

	flags.String("openai-api-key", "", "OpenAI compatible API key")
	flags.String("openai-base-url", "", "OpenAI compatible base URL")
	flags.String("chat-model", "", "model used by the chat agent")
	flags.String("summary-model", "", "model used for dashboard summaries")
	flags.String("embedding-model", "", "model used for proper noun embeddings")
	flags.Int("embedding-dimensions", 0, "embedding dimensions")

	flags.String("vector-backend", "file", "proper noun index backend, file or pgvector")
	flags.String("vector-index", "", "directory of the file index (default <data>/vector_db)")
	flags.Bool("require-index", false, "refuse to start without a vector index")

	flags.Int("max-rows", 50, "row cap applied to every agent query")
	flags.Int("max-steps", 8, "model calls allowed per question")
	flags.Int("max-query-retries", 1, "corrective query rewrites allowed per question")
	flags.Int("history-window", 10, "conversation turns replayed to the model")
	flags.Int("memory-max-turns", 100, "turns kept per session")
	flags.Int("schema-sample-rows", 3, "example rows rendered per table in the schema")
	flags.Int("stream-buffer", 8, "events buffered between the agent and the client")
	flags.Int64("max-concurrent-runs", 16, "agent runs served at the same time")
	flags.Duration("query-timeout", 0, "timeout of a single SQL statement (default 30s)")
	flags.String("checkpoint", "", "sqlite file persisting conversation memory")
	flags.Float64("rate-limit-rps", 2, "chat requests per second allowed per client")
	flags.Int("rate-limit-burst", 5, "chat request burst allowed per client")

	flags.VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})

	viper.SetEnvPrefix("brandpulse")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.AddCommand(newServeCmd(), newIndexCmd(), newSchemaCmd(), newAskCmd())
}

// loadProfile reads the profile from flags, environment and config file.
// Commands that never call a model pass requireModel=false.
func loadProfile(requireModel bool) (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:                viper.GetString("mode"),
		Addr:                viper.GetString("addr"),
		Port:                viper.GetInt("port"),
		Data:                viper.GetString("data"),
		Driver:              viper.GetString("driver"),
		DSN:                 viper.GetString("dsn"),
		Version:             version,
		OpenAIAPIKey:        viper.GetString("openai-api-key"),
		OpenAIBaseURL:       viper.GetString("openai-base-url"),
		ChatModel:           viper.GetString("chat-model"),
		SummaryModel:        viper.GetString("summary-model"),
		EmbeddingModel:      viper.GetString("embedding-model"),
		EmbeddingDimensions: viper.GetInt("embedding-dimensions"),
		VectorBackend:       viper.GetString("vector-backend"),
		VectorIndexPath:     viper.GetString("vector-index"),
		RequireIndex:        viper.GetBool("require-index"),
		MaxRows:             viper.GetInt("max-rows"),
		MaxSteps:            viper.GetInt("max-steps"),
		MaxQueryRetries:     viper.GetInt("max-query-retries"),
		HistoryWindow:       viper.GetInt("history-window"),
		MemoryMaxTurns:      viper.GetInt("memory-max-turns"),
		SchemaSampleRows:    viper.GetInt("schema-sample-rows"),
		StreamBuffer:        viper.GetInt("stream-buffer"),
		MaxConcurrentRuns:   viper.GetInt64("max-concurrent-runs"),
		QueryTimeout:        viper.GetDuration("query-timeout"),
		CheckpointPath:      viper.GetString("checkpoint"),
		RateLimitRPS:        viper.GetFloat64("rate-limit-rps"),
		RateLimitBurst:      viper.GetInt("rate-limit-burst"),
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		if requireModel || !errors.Is(err, profile.ErrMissingCredentials) {
			return nil, err
		}
	}
	return p, nil
}

// openStore connects to the analytics database described by p.
func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	st := store.New(driver, p)
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func runServe(ctx context.Context) error {
	p, err := loadProfile(true)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := openStore(ctx, p)
	if err != nil {
		return errors.Wrap(err, "failed to open analytics store")
	}

	s, err := server.NewServer(ctx, p, st)
	if err != nil {
		st.Close()
		return errors.Wrap(err, "failed to create server")
	}

	c := make(chan os.Signal, 1)
	// Trigger graceful shutdown on SIGINT or SIGTERM.
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	if err := s.Start(ctx); err != nil {
		s.Shutdown(ctx)
		return errors.Wrap(err, "failed to start server")
	}

	printGreetings(p)

	<-c
	s.Shutdown(context.Background())
	return nil
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("brandpulse %s started successfully!\n", p.Version)
	if p.IsDev() {
		fmt.Fprintf(os.Stderr, "Development mode is enabled\n")
		fmt.Fprintf(os.Stderr, "Database: %s (%s)\n", p.DSN, p.Driver)
	}
	addr := p.Addr
	if addr == "" {
		addr = "localhost"
	}
	fmt.Printf("Server running on http://%s:%d\n", addr, p.Port)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
