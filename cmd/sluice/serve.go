package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	backend "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/aretw0/sluice"
	httpAdapter "github.com/aretw0/sluice/internal/adapters/http"
	"github.com/aretw0/sluice/internal/config"
	"github.com/aretw0/sluice/internal/logging"
	"github.com/aretw0/sluice/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/sluice/pkg/adapters/redis"
	"github.com/aretw0/sluice/pkg/adapters/sqlite"
	"github.com/aretw0/sluice/pkg/observability"
	"github.com/aretw0/sluice/pkg/persistence/middleware"
	"github.com/aretw0/sluice/pkg/ports"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the workflow engine HTTP server",
	Long:  `Starts the engine with the configured store, recovers interrupted instances and exposes the JSON API over HTTP.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		demo, _ := cmd.Flags().GetBool("demo")

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("Error loading configuration: %v\n", err)
			os.Exit(1)
		}

		logger := newLogger(cfg)
		eng, err := buildEngine(cfg, logger)
		if err != nil {
			fmt.Printf("Error building engine: %v\n", err)
			os.Exit(1)
		}

		metrics := observability.NewMetrics(nil)
		metrics.Observe(eng.Bus())
		eng.Registry().Use(metrics.HandlerDuration())

		if demo {
			if err := deployDemo(eng); err != nil {
				fmt.Printf("Error deploying demo process: %v\n", err)
				os.Exit(1)
			}
			logger.Info("demo process deployed", "definition", demoDefinitionID)
		}

		// Resume whatever the previous run left ACTIVE in the store.
		if err := eng.Recover(context.Background()); err != nil {
			fmt.Printf("Error recovering instances: %v\n", err)
			os.Exit(1)
		}

		srv := &http.Server{
			Addr:    cfg.Listen,
			Handler: httpAdapter.NewHandler(eng),
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			logger.Info("server listening", "addr", cfg.Listen, "store", cfg.Store.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// Blocking main and waiting for shutdown.
		select {
		case err := <-serverErrors:
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)

		case sig := <-shutdown:
			fmt.Printf("\nStart shutdown... Signal: %v\n", sig)

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
				if err := srv.Close(); err != nil {
					fmt.Printf("Error killing server: %v\n", err)
				}
			}
			if err := eng.Close(); err != nil {
				fmt.Printf("Error closing engine: %v\n", err)
			}
			fmt.Println("Sluice server stopped gracefully")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("demo", false, "Deploy the built-in order process so the API has something to run")
}

func newLogger(cfg config.Config) *slog.Logger {
	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.LogFormat == "json" {
		return logging.NewJSON(level)
	}
	return logging.New(level)
}

func buildEngine(cfg config.Config, logger *slog.Logger) (*sluice.Engine, error) {
	store, locker, err := buildStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	opts := []sluice.Option{
		sluice.WithStore(store),
		sluice.WithLogger(logger),
	}
	if locker != nil {
		opts = append(opts, sluice.WithLocker(locker), sluice.WithLockTTL(30*time.Second))
	}
	return sluice.New(opts...), nil
}

func buildStore(cfg config.StoreConfig, logger *slog.Logger) (ports.Store, ports.DistributedLocker, error) {
	var store ports.Store
	var locker ports.DistributedLocker

	switch cfg.Backend {
	case "sqlite":
		s, err := sqlite.Open(cfg.Path, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		store = s
	case "redis":
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		var redisOpts []redisAdapter.Option
		if cfg.Redis.Prefix != "" {
			redisOpts = append(redisOpts, redisAdapter.WithPrefix(cfg.Redis.Prefix))
		}
		store = redisAdapter.NewFromClient(client, redisOpts...)
		if cfg.Redis.Lock {
			prefix := cfg.Redis.Prefix
			if prefix == "" {
				prefix = "sluice:"
			}
			locker = redisAdapter.NewLocker(client, prefix)
		}
	default:
		store = memory.NewStore()
	}

	if cfg.EncryptionKey != "" {
		store = middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey: []byte(cfg.EncryptionKey),
		})(store)
	}
	return store, locker, nil
}
