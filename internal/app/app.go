// Package app wires the engine from configuration. Both the API server and
// the cronjob runner start from Build.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"fulfillment-engine/internal/config"
	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/logger"
	"fulfillment-engine/internal/notify"
	"fulfillment-engine/internal/payment"
	"fulfillment-engine/internal/repository"
	"fulfillment-engine/internal/repository/memory"
	"fulfillment-engine/internal/repository/postgres"
	"fulfillment-engine/internal/repository/seed"
	"fulfillment-engine/internal/security"
	"fulfillment-engine/internal/service"
)

type App struct {
	Config       *config.Config
	Store        repository.Store
	Ledger       service.InventoryLedger
	Transactions service.TransactionService
	Reconciler   service.PaymentReconciler
	Gateways     *payment.Registry
	Tokens       security.TokenManager

	db *sql.DB
}

func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	if err := ensurePolicy(ctx, store, cfg.Risk.Policy); err != nil {
		a.Close()
		return nil, err
	}

	a.Gateways = payment.NewRegistry(payment.NewSimulatedGateway(cfg.Payment.Gateway, cfg.Payment.WebhookSecret))
	a.Tokens = security.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.AccessTokenTTL())
	a.Ledger = service.NewInventoryLedger(store)
	a.Transactions, a.Reconciler = service.NewEngine(
		store,
		a.Ledger,
		a.Gateways,
		buildNotifier(ctx, cfg),
		security.NewFingerprintHasher(cfg.Security.FingerprintKey),
		service.EngineConfig{
			Currency:       cfg.Payment.Currency,
			FallbackPolicy: cfg.Risk.Policy,
			NotifyTimeout:  cfg.NotifyTimeout(),
		},
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	switch a.Config.Store.Driver {
	case "memory":
		logger.Info("Using in-memory store", "seed_file", a.Config.Store.SeedFile)
		store := memory.NewStore()
		if a.Config.Store.SeedFile != "" {
			f, err := seed.Load(a.Config.Store.SeedFile)
			if err != nil {
				return nil, err
			}
			if err := f.Apply(ctx, store, time.Now().UTC()); err != nil {
				return nil, fmt.Errorf("failed to seed store: %w", err)
			}
		}
		return store, nil
	default:
		cfg := a.Config.Database
		logger.Info("Connecting to database...", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database, "user", cfg.User)
		db, err := sql.Open("postgres", a.Config.GetDatabaseConnectionString())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("Database connection established")
		a.db = db
		return postgres.NewStore(db), nil
	}
}

// ensurePolicy stores the configured risk policy when no policy has been saved yet.
func ensurePolicy(ctx context.Context, store repository.Store, policy domain.RiskPolicy) error {
	_, err := store.Policies().GetActive(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to load risk policy: %w", err)
	}
	if err := store.Policies().Save(ctx, &policy); err != nil {
		return fmt.Errorf("failed to save risk policy: %w", err)
	}
	logger.Info("Risk policy initialized", "version", policy.Version)
	return nil
}

// buildNotifier always logs, and adds push and email delivery when configured.
func buildNotifier(ctx context.Context, cfg *config.Config) notify.Notifier {
	out := notify.FanOut{notify.NewLogNotifier()}

	fb := cfg.Notification.Firebase
	if fb.CredentialsFile != "" {
		push, err := notify.NewPushNotifier(ctx, fb.CredentialsFile, fb.ProjectID)
		if err != nil {
			logger.Warn("Push notifications disabled", "error", err)
		} else {
			out = append(out, push)
		}
	}

	sg := cfg.Notification.SendGrid
	if sg.APIKey != "" {
		out = append(out, notify.NewEmailNotifier(sg.APIKey, sg.FromEmail, sg.FromName, sg.OpsEmail))
	}
	return out
}

func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
