package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/bonaevents/storefront/internal/domain"
	"github.com/bonaevents/storefront/internal/payments"
	"github.com/bonaevents/storefront/internal/platform/config"
	pfirestore "github.com/bonaevents/storefront/internal/platform/firestore"
	"github.com/bonaevents/storefront/internal/platform/localstore"
	"github.com/bonaevents/storefront/internal/platform/observability"
	"github.com/bonaevents/storefront/internal/platform/paymentclient"
	"github.com/bonaevents/storefront/internal/platform/secrets"
	firestoreRepo "github.com/bonaevents/storefront/internal/repositories/firestore"
	"github.com/bonaevents/storefront/internal/services"
)

// app holds the client's dependencies. Local ones (state file, catalog, cart) are cheap and built
// for every command; remote ones are only built by commands that reach Firestore or the adapter.
// Tests set the remote fields directly.
type app struct {
	statePath string
	apiURL    string
	session   string
	verbose   bool
	out       io.Writer

	logger  *zap.Logger
	store   localstore.Store
	catalog services.CatalogService
	carts   services.CartService

	cfg       config.Config
	loaded    bool
	payments  services.PaymentAdapter
	confirmer payments.CardConfirmer
	orders    services.OrderService
	referrals services.ReferralService
	closers   []func(context.Context) error
}

func (a *app) local() error {
	if a.carts != nil {
		return nil
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	if a.logger == nil {
		logger, err := observability.NewConsoleLogger(a.verbose)
		if err != nil {
			return fmt.Errorf("initialise logger: %w", err)
		}
		a.logger = logger.Named("storefront")
	}
	if a.store == nil {
		store, err := localstore.NewFileStore(a.statePath)
		if err != nil {
			return err
		}
		a.store = store
	}
	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{})
	if err != nil {
		return err
	}
	carts, err := services.NewCartService(services.CartServiceDeps{
		Catalog:  catalog,
		Sessions: a.store,
		Logger:   observability.EventLogger(a.logger.Named("cart")),
	})
	if err != nil {
		return err
	}
	a.catalog = catalog
	a.carts = carts
	return nil
}

// config loads the shared API configuration. The client needs the Firestore project and the
// Stripe publishable key from it.
func (a *app) config(ctx context.Context) (config.Config, error) {
	if a.loaded {
		return a.cfg, nil
	}
	env, err := config.EnvironmentValues()
	if err != nil {
		return config.Config{}, err
	}
	fetcherOpts := []secrets.Option{secrets.WithLogger(a.logger.Named("secrets"))}
	if project := strings.TrimSpace(env["API_SECRET_DEFAULT_PROJECT_ID"]); project != "" {
		fetcherOpts = append(fetcherOpts, secrets.WithProject(project))
	}
	if path := strings.TrimSpace(env["API_SECRET_FALLBACK_FILE"]); path != "" {
		fetcherOpts = append(fetcherOpts, secrets.WithFallbackFile(path))
	}
	fetcher, err := secrets.NewFetcher(ctx, fetcherOpts...)
	if err != nil {
		return config.Config{}, fmt.Errorf("initialise secret fetcher: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return fetcher.Close() })

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		return config.Config{}, err
	}
	a.cfg = cfg
	a.loaded = true
	return cfg, nil
}

// referralService connects the referral service to Firestore.
func (a *app) referralService(ctx context.Context) (services.ReferralService, error) {
	if a.referrals != nil {
		return a.referrals, nil
	}
	if err := a.ledger(ctx); err != nil {
		return nil, err
	}
	return a.referrals, nil
}

func (a *app) ledger(ctx context.Context) error {
	if a.orders != nil && a.referrals != nil {
		return nil
	}
	cfg, err := a.config(ctx)
	if err != nil {
		return err
	}
	provider := pfirestore.NewProvider(cfg.Firestore)
	a.closers = append(a.closers, provider.Close)

	orderRepo, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return err
	}
	referralRepo, err := firestoreRepo.NewReferralRepository(provider)
	if err != nil {
		return err
	}
	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: orderRepo,
		Logger: observability.EventLogger(a.logger.Named("orders")),
	})
	if err != nil {
		return err
	}
	referrals, err := services.NewReferralService(services.ReferralServiceDeps{
		Referrals: referralRepo,
		Orders:    orders,
		Sessions:  a.store,
		Logger:    observability.EventLogger(a.logger.Named("referrals")),
	})
	if err != nil {
		return err
	}
	a.orders = orders
	a.referrals = referrals
	return nil
}

// checkoutService builds the sequencer against the remote adapter. Cards are confirmed with the
// publishable key, the same way the browser widget does it.
func (a *app) checkoutService(ctx context.Context) (services.CheckoutService, error) {
	if err := a.ledger(ctx); err != nil {
		return nil, err
	}
	if a.payments == nil {
		client, err := paymentclient.New(paymentclient.Config{
			BaseURL: a.apiURL,
			OnStateChange: func(from, to gobreaker.State) {
				a.logger.Warn("payment adapter circuit changed", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		if err != nil {
			return nil, err
		}
		a.payments = client
	}
	if a.confirmer == nil {
		cfg, err := a.config(ctx)
		if err != nil {
			return nil, err
		}
		key := strings.TrimSpace(cfg.PSP.StripePublishableKey)
		if key == "" {
			return nil, errors.New("API_PSP_STRIPE_PUBLISHABLE_KEY is required to confirm card payments")
		}
		confirmer, err := payments.NewStripeCardConfirmer(payments.StripeCardConfirmerConfig{
			APIKey: key,
			Logger: observability.EventLogger(a.logger.Named("stripe")),
		})
		if err != nil {
			return nil, err
		}
		a.confirmer = confirmer
	}

	deposit := a.cfg.Checkout.Deposit
	if !a.loaded {
		deposit = domain.DepositPerPackage
	}
	return services.NewCheckoutService(services.CheckoutServiceDeps{
		Payments:    a.payments,
		Confirmer:   a.confirmer,
		Ledger:      a.orders,
		Attribution: a.referrals,
		Carts:       a.carts,
		Deposit:     deposit,
		Currency:    a.cfg.PSP.Currency,
		Timeout:     a.cfg.Checkout.Timeout,
		Logger:      observability.EventLogger(a.logger.Named("checkout")),
	})
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
