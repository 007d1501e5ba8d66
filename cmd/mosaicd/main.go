// Command mosaicd is the Mosaic canvas server: it owns the authoritative tile
// state, relays edits between subscribed connections, and writes tiles back
// to the persistence backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mosaicgrid/mosaic/internal/auth"
	"github.com/mosaicgrid/mosaic/internal/config"
	"github.com/mosaicgrid/mosaic/internal/server"
	"github.com/mosaicgrid/mosaic/internal/session"
	"github.com/mosaicgrid/mosaic/internal/store"
)

var (
	flagConfig      string
	flagListen      string
	flagInstance    string
	flagEngine      string
	flagRedisURL    string
	flagPostgresURI string
	flagAuthSecret  string
)

var rootCmd = &cobra.Command{
	Use:   "mosaicd",
	Short: "Mosaic collaborative canvas server",
	Long: `mosaicd serves the Mosaic collaborative pixel canvas: an unbounded grid
of 512x512 tiles that authenticated users paint on together in real time.

Connections subscribe to tiles over a websocket, receive a full snapshot on
join, and then stream every edit other subscribers make. Tile state persists
to Redis or Postgres and idle tiles are evicted from memory.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "mosaic.yml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&flagListen, "listen", "", "HTTP listen address (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagInstance, "instance", "", "instance name for key namespacing (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagEngine, "persistence-engine", "", "persistence engine: redis or postgres (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagRedisURL, "redis-url", "", "Redis connection URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagPostgresURI, "postgres-uri", "", "Postgres connection URI (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagAuthSecret, "auth-secret", "", "session token signing secret (overrides config)")
}

func run() error {
	// 1. Load configuration; flags beat environment beats file.
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Connect the persistence backend.
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	// 3. Build the store, hub, and HTTP server.
	st := store.New(backend, logger)
	hub := session.NewHub(st, session.Config{
		FlushInterval: cfg.Persistence.FlushInterval.Std(),
		EvictInterval: cfg.Persistence.EvictInterval.Std(),
		MaxIdle:       cfg.Persistence.MaxIdle.Std(),
	}, logger)

	authenticator, err := auth.NewTokenAuthenticator(cfg.Auth.Secret)
	if err != nil {
		return err
	}
	srv := server.New(hub, authenticator, logger)

	logger.Info("mosaicd starting",
		zap.String("listen", cfg.Listen),
		zap.String("instance", cfg.Instance),
		zap.String("engine", cfg.Persistence.Engine))

	// 4. Run until a signal arrives; the hub flushes dirty tiles on the way
	// out.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	hubErr := make(chan error, 1)
	go func() { hubErr <- hub.Run(ctx) }()
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run(ctx, cfg.Listen) }()

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
		<-srvErr
		return <-hubErr
	case err := <-srvErr:
		cancel()
		<-hubErr
		return err
	case err := <-hubErr:
		cancel()
		<-srvErr
		return err
	}
}

func applyFlags(cfg *config.Config) {
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagInstance != "" {
		cfg.Instance = flagInstance
	}
	if flagEngine != "" {
		cfg.Persistence.Engine = flagEngine
	}
	if flagRedisURL != "" {
		cfg.Persistence.RedisURL = flagRedisURL
	}
	if flagPostgresURI != "" {
		cfg.Persistence.PostgresURI = flagPostgresURI
	}
	if flagAuthSecret != "" {
		cfg.Auth.Secret = flagAuthSecret
	}
}

func newBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Persistence.Engine {
	case config.EngineRedis:
		redisOpts, err := redis.ParseURL(cfg.Persistence.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		backend, err := store.NewRedisBackend(redisOpts, cfg.Instance)
		if err != nil {
			return nil, err
		}
		if err := backend.Ping(ctx); err != nil {
			backend.Close()
			return nil, fmt.Errorf("redis not accessible: %w", err)
		}
		return backend, nil

	case config.EnginePostgres:
		backend, err := store.NewPostgresBackend(ctx, cfg.Persistence.PostgresURI)
		if err != nil {
			return nil, err
		}
		return backend, nil

	default:
		return nil, fmt.Errorf("unknown persistence engine %q", cfg.Persistence.Engine)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
