package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/R3E-Network/raffle_service/internal/app/events"
	ledgersvc "github.com/R3E-Network/raffle_service/internal/app/services/ledger"
	rafflesvc "github.com/R3E-Network/raffle_service/internal/app/services/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/services/vrf"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
	"github.com/R3E-Network/raffle_service/internal/app/storage/memory"
	"github.com/R3E-Network/raffle_service/internal/app/system"
	"github.com/R3E-Network/raffle_service/internal/config"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation. Raffle and Ledger must share a backend so entry
// escrow and payouts stay in one transaction domain.
type Stores struct {
	Raffle storage.RaffleStore
	Ledger storage.LedgerStore
}

// Application ties the raffle services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Raffle *rafflesvc.Service
	Ledger *ledgersvc.Service
	Events *events.Hub
}

// New builds a fully initialised application with the provided stores and
// configuration.
func New(stores Stores, cfg config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	if stores.Raffle == nil || stores.Ledger == nil {
		mem := memory.New()
		if stores.Raffle == nil {
			stores.Raffle = mem
		}
		if stores.Ledger == nil {
			stores.Ledger = mem
		}
	}

	manager := system.NewManager()
	hub := events.NewHub(log.WithField("component", "events"))

	httpClient := &http.Client{Timeout: 10 * time.Second}

	var provider vrf.Provider
	var checker vrf.StatusChecker
	var local *vrf.LocalProvider
	if cfg.Provider.Endpoint != "" {
		httpProvider, err := vrf.NewHTTPProvider(httpClient, cfg.Provider.Endpoint, cfg.Provider.APIKey, log.WithField("component", "vrf"))
		if err != nil {
			return nil, fmt.Errorf("configure randomness provider: %w", err)
		}
		provider = httpProvider
		checker = httpProvider
	} else {
		log.Warn("no provider endpoint configured; using in-process randomness")
		local = vrf.NewLocalProvider(log.WithField("component", "vrf"))
		local.WithDelay(cfg.Provider.LocalDelay.Std())
		provider = local
	}

	raffleService, err := rafflesvc.New(stores.Raffle, provider, rafflesvc.Config{
		EntranceFee:   cfg.EntranceFee,
		RoundInterval: cfg.RoundInterval.Std(),
		Request: vrf.RequestParams{
			KeyHash:          cfg.Provider.KeyHash,
			SubscriptionID:   cfg.Provider.SubscriptionID,
			Confirmations:    cfg.Provider.Confirmations,
			CallbackGasLimit: cfg.Provider.CallbackGasLimit,
			NativePayment:    cfg.Provider.NativePayment,
		},
	}, log.WithField("component", "raffle"))
	if err != nil {
		return nil, fmt.Errorf("build raffle service: %w", err)
	}
	raffleService.WithPublisher(hub)

	if local != nil {
		local.WithCallback(func(requestID string, word uint64) {
			if _, err := raffleService.Fulfill(context.Background(), requestID, word); err != nil {
				log.WithError(err).Warn("local fulfillment rejected")
			}
		})
	}

	ledgerService := ledgersvc.New(stores.Ledger, log.WithField("component", "ledger"))

	upkeepPoller := rafflesvc.NewUpkeepPoller(raffleService, cfg.Upkeep.Interval.Std(), log.WithField("component", "upkeep"))
	if cfg.Upkeep.CronSpec != "" {
		if err := upkeepPoller.WithCronSpec(cfg.Upkeep.CronSpec); err != nil {
			return nil, fmt.Errorf("parse upkeep cron spec: %w", err)
		}
	}

	services := []system.Service{openingService{raffle: raffleService}, upkeepPoller}
	if checker != nil {
		fulfiller := rafflesvc.NewFulfillmentPoller(raffleService, checker, log.WithField("component", "fulfiller"))
		fulfiller.WithInterval(cfg.Provider.PollInterval.Std())
		services = append(services, fulfiller)
	}

	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager: manager,
		log:     log,
		Raffle:  raffleService,
		Ledger:  ledgerService,
		Events:  hub,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// openingService makes sure round 1 exists before any poller runs.
type openingService struct {
	raffle *rafflesvc.Service
}

func (openingService) Name() string { return "raffle-opening" }

func (s openingService) Start(ctx context.Context) error {
	_, err := s.raffle.EnsureRound(ctx)
	return err
}

func (openingService) Stop(context.Context) error { return nil }
