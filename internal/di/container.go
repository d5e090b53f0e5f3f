package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bonaevents/storefront/internal/payments"
	"github.com/bonaevents/storefront/internal/platform/config"
	"github.com/bonaevents/storefront/internal/platform/localstore"
	"github.com/bonaevents/storefront/internal/platform/observability"
	"github.com/bonaevents/storefront/internal/repositories"
	"github.com/bonaevents/storefront/internal/services"
)

// Backends are the infrastructure clients the services run on. The server assembles them from
// configuration; tests supply fakes.
type Backends struct {
	Orders    repositories.OrderRepository
	Referrals repositories.ReferralRepository
	Sessions  localstore.Store
	// Gateway and Confirmer may be nil when no Stripe key is configured.
	Gateway   payments.Gateway
	Confirmer payments.CardConfirmer
	Webhooks  *payments.WebhookVerifier
	// Publisher is optional; without it purchases are not announced.
	Publisher services.ConfirmationPublisher
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	// Location renders confirmation dates. Defaults to UTC.
	Location *time.Location
	Closers  []func(context.Context) error
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Catalog   services.CatalogService
	Carts     services.CartService
	Payments  services.PaymentService
	Orders    services.OrderService
	Referrals services.ReferralService
	Checkout  services.CheckoutService
	Notifier  services.ConfirmationNotifier
}

// Container wires backends and services for runtime use.
type Container struct {
	Config   config.Config
	Backends Backends
	Services Services
}

// NewContainer constructs the runtime services on top of the supplied backends.
func NewContainer(cfg config.Config, backends Backends) (*Container, error) {
	if backends.Orders == nil {
		return nil, errors.New("di: order repository is required")
	}
	if backends.Referrals == nil {
		return nil, errors.New("di: referral repository is required")
	}
	if backends.Sessions == nil {
		return nil, errors.New("di: session store is required")
	}
	if backends.Logger == nil {
		backends.Logger = zap.NewNop()
	}

	svc, err := buildServices(cfg, backends)
	if err != nil {
		return nil, err
	}
	return &Container{Config: cfg, Backends: backends, Services: svc}, nil
}

// Close releases backend clients in reverse order of registration.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.Backends.Closers) - 1; i >= 0; i-- {
		if closeFn := c.Backends.Closers[i]; closeFn != nil {
			if err := closeFn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func buildServices(cfg config.Config, b Backends) (Services, error) {
	var svc Services
	logger := b.Logger

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalog

	carts, err := services.NewCartService(services.CartServiceDeps{
		Catalog:  catalog,
		Sessions: b.Sessions,
		Logger:   observability.EventLogger(logger.Named("cart")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Carts = carts

	paymentDeps := services.PaymentServiceDeps{
		Gateway:  b.Gateway,
		Webhooks: b.Webhooks,
		Currency: cfg.PSP.Currency,
		Logger:   observability.EventLogger(logger.Named("payments")),
	}
	if b.Metrics != nil {
		paymentDeps.Metrics = b.Metrics
	}
	paymentSvc, err := services.NewPaymentService(paymentDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: b.Orders,
		Logger: observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	referrals, err := services.NewReferralService(services.ReferralServiceDeps{
		Referrals: b.Referrals,
		Orders:    orders,
		Sessions:  b.Sessions,
		Logger:    observability.EventLogger(logger.Named("referrals")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build referral service: %w", err)
	}
	svc.Referrals = referrals

	if b.Publisher != nil {
		notifier, err := services.NewConfirmationNotifier(services.ConfirmationNotifierDeps{
			Publisher: b.Publisher,
			SiteURL:   cfg.Site.URL,
			Location:  b.Location,
			OnResult:  b.Metrics.IncNotification,
			Logger:    observability.EventLogger(logger.Named("notifier")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build confirmation notifier: %w", err)
		}
		svc.Notifier = notifier
	}

	confirmer := b.Confirmer
	if confirmer == nil {
		confirmer = unconfiguredConfirmer{}
	}
	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Payments:      paymentSvc,
		Confirmer:     confirmer,
		Ledger:        orders,
		Attribution:   referrals,
		Carts:         carts,
		Notifier:      svc.Notifier,
		Deposit:       cfg.Checkout.Deposit,
		Currency:      cfg.PSP.Currency,
		Timeout:       cfg.Checkout.Timeout,
		NotifyTimeout: cfg.Checkout.NotifyTimeout,
		OnOutcome: func(status services.OrderStatus) {
			b.Metrics.IncCheckoutOutcome(string(status))
		},
		Logger: observability.EventLogger(logger.Named("checkout")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	return svc, nil
}

// unconfiguredConfirmer stands in for Stripe when no key is set. Paid checkouts fail earlier at
// intent creation, so it is only reached if a gateway is injected without a confirmer.
type unconfiguredConfirmer struct{}

func (unconfiguredConfirmer) ConfirmCard(context.Context, payments.ConfirmRequest) (payments.Intent, error) {
	return payments.Intent{}, payments.ErrGatewayUnconfigured
}
