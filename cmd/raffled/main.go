package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"golang.org/x/time/rate"

	app "github.com/R3E-Network/raffle_service/internal/app"
	"github.com/R3E-Network/raffle_service/internal/app/httpapi"
	"github.com/R3E-Network/raffle_service/internal/app/metrics"
	"github.com/R3E-Network/raffle_service/internal/app/storage/postgres"
	"github.com/R3E-Network/raffle_service/internal/config"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// Optional; environment variables win over .env contents.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("raffled").WithError(err).Fatal("load configuration")
	}

	log := logger.New("raffled", cfg.LogLevel)

	stores := app.Stores{}
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("open database")
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.WithError(err).Fatal("ping database")
		}
		if err := postgres.Migrate(db); err != nil {
			log.WithError(err).Fatal("migrate database")
		}
		store := postgres.New(db)
		stores.Raffle = store
		stores.Ledger = store
		log.Info("using postgres storage")
	} else {
		log.Warn("RAFFLE_DATABASE_URL not set; using in-memory storage")
	}

	application, err := app.New(stores, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}

	var limiter *rate.Limiter
	if cfg.EntryRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EntryRatePerSecond), cfg.EntryRateBurst)
	}

	root := mux.NewRouter()
	root.Handle("/metrics", metrics.Handler())
	root.PathPrefix("/").Handler(httpapi.NewHandler(application, limiter))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           metrics.InstrumentHandler(root),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
	log.Info("stopped")
}
