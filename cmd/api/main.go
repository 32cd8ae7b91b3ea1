package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/example/equishard/internal/api"
	"github.com/example/equishard/internal/catalog"
	"github.com/example/equishard/internal/config"
	"github.com/example/equishard/internal/events"
	"github.com/example/equishard/internal/events/kafka"
	"github.com/example/equishard/internal/holdings"
	"github.com/example/equishard/internal/identity"
	"github.com/example/equishard/internal/invest"
	"github.com/example/equishard/internal/leaderboard"
	"github.com/example/equishard/internal/ledger"
	"github.com/example/equishard/internal/security"
	"github.com/example/equishard/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var (
		ledgerStore   ledger.Store
		assetStore    catalog.Store
		identityStore identity.Store
		holdingStore  holdings.Store
	)
	if cfg.MemoryMode() {
		logger.Warn("DATABASE_URL not set, running on in-memory stores")
		ledgerStore = ledger.NewMemoryStore()
		assetStore = catalog.NewMemoryStore()
		identityStore = identity.NewMemoryStore()
		holdingStore = holdings.NewMemoryStore()
	} else {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		ledgerStore = ledger.NewPostgresStore(pool)
		assetStore = catalog.NewPostgresStore(pool)
		identityStore = identity.NewPostgresStore(pool)
		holdingStore = holdings.NewPostgresStore(pool)
	}

	ledgerSvc := ledger.NewService(ledgerStore)

	sink, err := audit.OpenSQLiteSink(cfg.AuditDBPath)
	if err != nil {
		logger.Error("failed to open audit sink", "path", cfg.AuditDBPath, "error", err)
		os.Exit(1)
	}
	defer sink.Close()
	lastHash, err := sink.LastHash()
	if err != nil {
		logger.Error("failed to read audit chain head", "path", cfg.AuditDBPath, "error", err)
		os.Exit(1)
	}
	recorder := audit.NewRecorderFrom(sink, lastHash)

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers)
		defer kp.Close()
		publisher = kp
	}

	coordinator := invest.NewCoordinator(invest.Dependencies{
		Identity: identityStore,
		Assets:   assetStore,
		Ledger:   ledgerSvc,
		Holdings: holdingStore,
		Events:   publisher,
		Audit:    recorder,
		Logger:   logger,
	})

	deps := api.Dependencies{
		Logger:       logger,
		Coordinator:  coordinator,
		Identity:     identityStore,
		Assets:       assetStore,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()

		deps.Leaderboard = leaderboard.NewService(redisClient, identityStore, holdingStore, assetStore, logger)
		deps.RateLimiter = &security.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "equishard_api",
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitRefill,
		}
	} else {
		logger.Warn("REDIS_ADDR not set, leaderboard and rate limiting disabled")
	}

	if cfg.MemoryMode() {
		if err := seedDemoTenant(context.Background(), ledgerSvc, identityStore, assetStore); err != nil {
			logger.Error("failed to seed demo tenant", "error", err)
			os.Exit(1)
		}
		logger.Info("seeded demo tenant", "tenant_id", "demo", "principal_id", "demo-alice")
	}

	router, err := api.NewRouter(deps)
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("investment api listening", "addr", cfg.HTTPAddr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// seedDemoTenant provisions one tenant with a funded principal and two assets
// so the in-memory mode is usable out of the box.
func seedDemoTenant(ctx context.Context, ledgerSvc *ledger.Service, identityStore identity.Store, assetStore catalog.Store) error {
	if err := identityStore.CreateTenant(ctx, &identity.Tenant{ID: "demo", Slug: "demo", Name: "Demo Tenant"}); err != nil {
		return err
	}

	if _, err := ledgerSvc.CreateAccount(ctx, &ledger.Account{
		TenantID: "demo", Type: ledger.TypeLiability, Category: ledger.CategoryReserve, Currency: "USD", Name: "System Reserve",
	}); err != nil {
		return err
	}
	wallet, err := ledgerSvc.CreateAccount(ctx, &ledger.Account{
		TenantID: "demo", OwnerID: "demo-alice", Type: ledger.TypeAsset, Category: ledger.CategoryWallet, Currency: "USD", Name: "Wallet - demo-alice",
	})
	if err != nil {
		return err
	}
	escrow, err := ledgerSvc.CreateAccount(ctx, &ledger.Account{
		TenantID: "demo", Type: ledger.TypeLiability, Category: ledger.CategoryEscrow, Currency: "USD", Name: "Asset Escrow",
	})
	if err != nil {
		return err
	}

	if err := identityStore.CreatePrincipal(ctx, &identity.Principal{
		ID: "demo-alice", TenantID: "demo", Username: "alice",
		RiskTolerance: 3, Accredited: false, WalletAccountID: wallet.ID,
	}); err != nil {
		return err
	}

	for _, a := range []*catalog.Asset{
		{
			ID: "demo-acme", TenantID: "demo", Symbol: "ACME", Name: "Acme Holdings",
			UnitPrice: decimal.RequireFromString("100.00"), RiskLevel: 2,
			TotalUnits:      decimal.RequireFromString("10000"),
			AvailableUnits:  decimal.RequireFromString("10000"),
			EscrowAccountID: escrow.ID,
		},
		{
			ID: "demo-vntr", TenantID: "demo", Symbol: "VNTR", Name: "Venture Basket",
			UnitPrice: decimal.RequireFromString("250.00"), RiskLevel: 4, AccreditationRequired: true,
			TotalUnits:      decimal.RequireFromString("1000"),
			AvailableUnits:  decimal.RequireFromString("1000"),
			EscrowAccountID: escrow.ID,
		},
	} {
		if err := assetStore.CreateAsset(ctx, a); err != nil {
			return err
		}
	}

	if _, err := ledgerSvc.GrantFunds(ctx, "demo", wallet.ID, decimal.RequireFromString("10000.00")); err != nil {
		return err
	}
	return nil
}
