package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/api"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/clock"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/config"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/events/kafka"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/installments"
	interfaces "github.com/sheikh-saqib/card-ledger-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/ledger"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/logger"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/storage/memory"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/storage/postgres"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/sweeper"
)

// backend is everything the services need from storage.
type backend interface {
	interfaces.AccountStore
	interfaces.CardStore
	interfaces.TransactionStore
	interfaces.TransactionWriter
	interfaces.TransferLog
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	loc, err := cfg.Sweeper.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid sweeper timezone")
	}

	store, closeStore, err := openStore(cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	var publisher interfaces.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := kafka.NewPublisher(cfg.Kafka.Brokers)
		defer kp.Close()
		publisher = kp
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Publishing events to kafka")
	}

	opts := ledger.Options{
		PageSize:      cfg.Ledger.PageSize,
		MaxPages:      cfg.Ledger.MaxPages,
		FetchTimeout:  cfg.Ledger.FetchTimeout,
		RetryAttempts: cfg.Ledger.RetryAttempts,
		RetryBackoff:  cfg.Ledger.RetryBackoff,
		Location:      loc,
	}
	stores := ledger.Stores{Accounts: store, Cards: store, Transactions: store, Transfers: store}
	clk := clock.System{}

	reconciler := ledger.NewReconciler(stores, publisher, clk, log, opts)
	sweep := sweeper.New(stores, reconciler, ledger.NewFetcher(opts, log), log)
	planner := installments.NewPlanner(store, store, reconciler, publisher, clk, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := sweeper.NewScheduler(sweep, store, clk, cfg.Sweeper.Interval, log)
	if cfg.Sweeper.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start sweep scheduler")
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(api.NewHandler(reconciler, sweep, planner, log), log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Sweep scheduler did not stop in time")
	}
	reconciler.Wait()

	log.Info().Msg("Server exited")
}

// openStore connects to postgres when a DSN is configured and falls back
// to the in-memory store otherwise.
func openStore(cfg config.DatabaseConfig, log zerolog.Logger) (backend, func(), error) {
	if cfg.DSN == "" {
		log.Warn().Msg("No database DSN configured, using in-memory store")
		return memory.NewStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, err
	}
	if cfg.Migrations {
		if err := postgres.RunMigrations(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info().Msg("Database migrations applied")
	}
	return postgres.NewPostgresStore(db), func() { db.Close() }, nil
}
