package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Cheertaboi/reviewcard-checkout/internal/api"
	"github.com/Cheertaboi/reviewcard-checkout/internal/api/handlers"
	"github.com/Cheertaboi/reviewcard-checkout/internal/api/middleware"
	"github.com/Cheertaboi/reviewcard-checkout/internal/cache"
	"github.com/Cheertaboi/reviewcard-checkout/internal/catalog"
	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
	"github.com/Cheertaboi/reviewcard-checkout/internal/outbox"
	"github.com/Cheertaboi/reviewcard-checkout/internal/payment"
	"github.com/Cheertaboi/reviewcard-checkout/internal/repository"
	"github.com/Cheertaboi/reviewcard-checkout/internal/service"
	"github.com/Cheertaboi/reviewcard-checkout/pkg/config"
	"github.com/Cheertaboi/reviewcard-checkout/pkg/db"
	"github.com/Cheertaboi/reviewcard-checkout/pkg/logger"
	"github.com/Cheertaboi/reviewcard-checkout/pkg/tracing"
)

const serviceName = "checkout-service"

func serveCmd() *cobra.Command {
	var (
		migrate bool
		relay   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the notification relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logger.New(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log, migrate, relay)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")
	cmd.Flags().BoolVar(&relay, "relay", true, "run the outbox relay in this process")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, migrate, runRelay bool) error {
	shutdownTracing, err := tracing.Init(ctx, serviceName, cfg.OTLPEndpoint, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// Postgres
	conn, err := db.NewPostgresConnection(cfg.PostgresConfig)
	if err != nil {
		return err
	}
	defer conn.Close()
	if migrate {
		if err := db.Migrate(ctx, conn); err != nil {
			return err
		}
		log.Info("schema migrated")
	}

	// Redis; the service degrades to database reads when it is down
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, continuing without cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	plans := catalog.Default()
	if cfg.PlansFile != "" {
		if plans, err = catalog.Load(cfg.PlansFile); err != nil {
			return err
		}
	}

	rate, err := cfg.Commission()
	if err != nil {
		return err
	}

	gateways, err := buildGateways(cfg, log)
	if err != nil {
		return err
	}
	if err := checkPricing(plans, gateways); err != nil {
		return err
	}

	// Repositories & services
	orderRepo := repository.NewOrderRepo(conn)
	promoRepo := repository.NewPromoRepo(conn)
	commissionRepo := repository.NewCommissionRepo(conn)
	outboxRepo := repository.NewOutboxRepo(conn)

	promoSvc := service.NewPromoService(promoRepo, cache.NewPromoCache(rdb, cfg.PromoCacheTTL), log)
	checkoutSvc := service.NewCheckoutService(service.CheckoutDeps{
		DB:             conn,
		Catalog:        plans,
		Promos:         promoSvc,
		Orders:         orderRepo,
		Usage:          promoRepo,
		Ledger:         commissionRepo,
		Outbox:         outboxRepo,
		Gateways:       gateways,
		APIBaseURL:     cfg.APIBaseURL,
		ClientURL:      cfg.ClientURL,
		CommissionRate: rate,
		Log:            log,
	})
	ledgerSvc := service.NewLedgerService(commissionRepo, rate)

	router := api.NewRouter(api.RouterDeps{
		Log:       log,
		Checkout:  handlers.NewCheckoutHandler(log, checkoutSvc, promoSvc, cache.NewIdempotencyStore(rdb, cfg.IdempotencyTTL)),
		Promos:    handlers.NewPromoHandler(log, promoSvc, ledgerSvc),
		JWTSecret: []byte(cfg.JWTSecret),
		Limiter:   middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.ProviderTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	// Run relay
	if runRelay {
		writer := outbox.NewKafkaWriter(cfg.Brokers())
		defer writer.Close()
		r := outbox.NewRelay(log, outboxRepo, outbox.NewDispatcher(log, writer, cfg.NotifyTopic), outbox.RelayOptions{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				log.Error("relay stopped with error", zap.Error(err))
			}
		}()
	}

	// Run HTTP
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.Strings("payment_methods", methodNames(gateways)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	wg.Wait()

	log.Info("checkout-service stopped")
	return serveErr
}

// buildGateways registers every provider that has credentials configured.
func buildGateways(cfg *config.Config, log *zap.Logger) (*payment.Registry, error) {
	hc := &http.Client{Timeout: cfg.ProviderTimeout}

	var gws []payment.Gateway
	if cfg.PayPalConfig.ClientID != "" {
		gws = append(gws, payment.NewPayPal(payment.PayPalOptions{
			ClientID:     cfg.PayPalConfig.ClientID,
			ClientSecret: cfg.PayPalConfig.ClientSecret,
			BaseURL:      payment.PayPalBaseURL(cfg.PayPalConfig.Mode),
			Currency:     cfg.PayPalConfig.Currency,
		}, hc, log))
	}
	if cfg.WebPayConfig.CommerceCode != "" {
		gws = append(gws, payment.NewWebPay(payment.WebPayOptions{
			CommerceCode: cfg.WebPayConfig.CommerceCode,
			APIKey:       cfg.WebPayConfig.APIKey,
			BaseURL:      payment.WebPayBaseURL(cfg.WebPayConfig.Mode),
		}, hc, log))
	}
	if cfg.MercadoPagoConfig.AccessToken != "" {
		gws = append(gws, payment.NewMercadoPago(payment.MercadoPagoOptions{
			AccessToken: cfg.MercadoPagoConfig.AccessToken,
			Currency:    cfg.MercadoPagoConfig.Currency,
		}, hc, log))
	}
	if len(gws) == 0 {
		return nil, errors.New("no payment provider configured")
	}
	return payment.NewRegistry(gws...), nil
}

// checkPricing refuses to start when a gateway charges in a currency some
// plan has no price for.
func checkPricing(plans *catalog.Catalog, gateways *payment.Registry) error {
	for _, gw := range gateways.All() {
		if missing := plans.Unpriced(gw.Currency()); len(missing) > 0 {
			return fmt.Errorf("%s charges in %s but plans %s have no %s price",
				gw.Method(), gw.Currency(), strings.Join(missing, ", "), gw.Currency())
		}
	}
	return nil
}

func methodNames(r *payment.Registry) []string {
	var out []string
	for _, m := range []models.PaymentMethod{models.PaymentMethodPayPal, models.PaymentMethodWebPay, models.PaymentMethodMercadoPago} {
		if r.Supports(m) {
			out = append(out, string(m))
		}
	}
	return out
}
