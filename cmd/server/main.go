package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/marketplace/config"
	"github.com/d60-Lab/marketplace/internal/api/handler"
	"github.com/d60-Lab/marketplace/internal/api/router"
	"github.com/d60-Lab/marketplace/internal/cache"
	"github.com/d60-Lab/marketplace/internal/delivery"
	"github.com/d60-Lab/marketplace/internal/middleware"
	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/internal/service"
	"github.com/d60-Lab/marketplace/internal/storage"
	"github.com/d60-Lab/marketplace/internal/verifier"
	"github.com/d60-Lab/marketplace/pkg/database"
	"github.com/d60-Lab/marketplace/pkg/jwt"
	"github.com/d60-Lab/marketplace/pkg/logger"
	"github.com/d60-Lab/marketplace/pkg/sentryx"
	"github.com/d60-Lab/marketplace/pkg/tracing"
)

var version = "dev"

// @title Marketplace API
// @version 1.0
// @description Orders, SINPE payment receipts and reviews.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "marketplace",
		Short:         "Marketplace order and payment service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), tokenCmd())
	return root
}

func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			db, err := database.InitDB(cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)
			if err := database.AutoMigrate(db); err != nil {
				return err
			}
			logger.Info("migration finished", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an access token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			if !model.Role(role).Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL).Generate(args[0], role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(model.RoleBuyer), "buyer, seller or admin")
	return cmd
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "run migrations before serving")
	return cmd
}

func serve(cfg *config.Config, migrate bool) error {
	ctx := context.Background()

	flush, err := sentryx.Init(cfg.Sentry, version)
	if err != nil {
		return err
	}
	defer flush()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)
	if migrate || cfg.Database.Driver == "sqlite" {
		if err := database.AutoMigrate(db); err != nil {
			return err
		}
	}

	orderCache := newOrderCache(ctx, cfg)
	stores := service.NewStores(db)
	fees := delivery.NewCalculator(cfg.Delivery)

	receipts, stopDispatcher := newReceiptService(cfg, db, stores, orderCache)
	h := handler.New(
		service.NewOrderService(db, stores, fees, orderCache),
		receipts,
		service.NewReviewService(db, stores),
		service.NewProductService(stores),
		fees,
	)

	relay := service.NewOutboxRelay(stores.Outbox, service.LogNotifier{}, cfg.Outbox.BatchSize, cfg.Outbox.PollInterval).
		WithClaimLease(cfg.Outbox.ClaimLease)
	stopRelay := relay.Start()

	limiter := middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				limiter.Sweep(now)
			case <-sweepDone:
				return
			}
		}
	}()

	tokens := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Setup(cfg, h, tokens, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	close(sweepDone)
	if err := stopDispatcher(shutdownCtx); err != nil {
		logger.Warn("verification workers did not stop in time", zap.Error(err))
	}
	if err := stopRelay(shutdownCtx); err != nil {
		logger.Warn("outbox relay did not stop in time", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

func newOrderCache(ctx context.Context, cfg *config.Config) *cache.OrderCache {
	if !cfg.Redis.Enabled {
		return nil
	}
	client, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
	if err != nil {
		logger.Warn("redis unavailable, order cache disabled", zap.Error(err))
		return nil
	}
	return cache.NewOrderCache(client, cfg.Redis.OrderTTL)
}

// newReceiptService wires the verifier; with async verification on, uploads are
// queued to a worker pool whose stop function is returned.
func newReceiptService(cfg *config.Config, db *gorm.DB, stores service.Stores, orderCache *cache.OrderCache) (service.ReceiptService, func(context.Context) error) {
	images := storage.NewReceiptStore(cfg.Storage.ReceiptDir, cfg.Payment.MaxReceiptBytes)
	client := verifier.NewHTTPClient(cfg.Payment)
	policy := verifier.NewPolicy(cfg.Payment)
	settings := service.ReceiptSettings{
		StorageDays:         cfg.Payment.ReceiptStorageDays,
		StaleVerifyingAfter: cfg.Payment.StaleVerifyingAfter,
		PersistTimeout:      cfg.Payment.VerifierTimeout,
	}

	if !cfg.Payment.AsyncVerification {
		return service.NewReceiptService(db, stores, images, client, policy, nil, orderCache, settings),
			func(context.Context) error { return nil }
	}

	var svc service.ReceiptService
	dispatcher := service.NewVerificationDispatcher(func(ctx context.Context, id string) error {
		_, err := svc.Verify(ctx, id)
		return err
	}, cfg.Payment.QueueSize, cfg.Payment.VerifierTimeout+10*time.Second)
	svc = service.NewReceiptService(db, stores, images, client, policy, dispatcher, orderCache, settings)
	stop := dispatcher.Start(cfg.Payment.Workers)

	go func() {
		for d := range dispatcher.Metrics() {
			logger.Debug("receipt verified", zap.Duration("queue_to_done", d))
		}
	}()
	return svc, stop
}
