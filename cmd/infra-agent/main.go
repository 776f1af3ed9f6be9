package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acauret/infrastructure-agent/archive"
	"github.com/acauret/infrastructure-agent/archive/store"
	"github.com/acauret/infrastructure-agent/broker"
	"github.com/acauret/infrastructure-agent/config"
	"github.com/acauret/infrastructure-agent/contrib/provider"
	"github.com/acauret/infrastructure-agent/pkg/logging"
	"github.com/acauret/infrastructure-agent/pkg/telemetry"
	"github.com/acauret/infrastructure-agent/server"
	"github.com/acauret/infrastructure-agent/team"
	"github.com/acauret/infrastructure-agent/workbench"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("infra-agent: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Logger()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "infrastructure-agent",
		ServiceVersion: "0.1.0",
		Environment:    os.Getenv("INFRA_AGENT_ENV"),
	})
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	client, err := provider.New(ctx, cfg.Provider)
	if err != nil {
		return err
	}

	manager := workbench.NewManager()
	runner := team.New(client, manager, cfg.Workbenches,
		team.WithTokenBudget(cfg.Provider.Model, 0))

	opts := []broker.Option{broker.WithConcurrencyLimit(cfg.MaxConcurrentTasks)}
	runStore, err := buildArchive(cfg.Archive)
	if err != nil {
		return err
	}
	if runStore != nil {
		defer runStore.Close()
		opts = append(opts, broker.WithArchive(runStore))
	}
	b := broker.New(runner, opts...)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.New(b, manager, cfg.Workbenches).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "workbenches", len(cfg.Workbenches))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildArchive(cfg config.ArchiveConfig) (archive.Store, error) {
	switch cfg.Backend {
	case config.ArchiveNone:
		return nil, nil
	case config.ArchiveMemory:
		return store.NewInMemoryStore(), nil
	case config.ArchiveRedis:
		return store.NewRedisStore(&store.RedisConfig{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		}), nil
	case config.ArchivePostgres:
		return store.NewPostgresStore(&store.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			DBName:   cfg.PostgresDB,
			SSLMode:  "disable",
		})
	case config.ArchiveMongo:
		return store.NewMongoStore(&store.MongoConfig{
			URI:        cfg.MongoURI,
			Database:   "infra_agent",
			Collection: "runs",
		})
	default:
		return nil, errors.New("unknown archive backend " + cfg.Backend)
	}
}
