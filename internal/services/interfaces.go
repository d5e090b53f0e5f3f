package services

import (
	"context"

	"github.com/bonaevents/storefront/internal/domain"
	"github.com/bonaevents/storefront/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart              = domain.Cart
	CartLine          = domain.CartLine
	Package           = domain.Package
	Order             = domain.Order
	OrderDraft        = domain.OrderDraft
	OrderStatus       = domain.OrderStatus
	Referral          = domain.Referral
	ReferralStats     = domain.ReferralStats
	ReferralGroup     = domain.ReferralGroup
	PromoterDashboard = domain.PromoterDashboard
)

// PaymentAdapter is the sequencer's view of the payment gateway adapter, local or over HTTP.
type PaymentAdapter interface {
	CreateIntent(ctx context.Context, req PaymentRequest) (payments.Intent, error)
	// GetStatus returns the raw gateway status for the intent.
	GetStatus(ctx context.Context, id string) (string, error)
}

// PaymentService fronts the hosted payment API for the HTTP adapter.
type PaymentService interface {
	PaymentAdapter
	// HandleWebhook verifies and decodes a gateway event. It never writes to the ledger.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (payments.Event, error)
}

// OrderService is the order ledger.
type OrderService interface {
	Write(ctx context.Context, draft OrderDraft) (Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	ListByReferral(ctx context.Context, code string) ([]Order, error)
	SoftDeleteAll(ctx context.Context) (int, error)
	GroupByReferral(ctx context.Context) (map[string]ReferralGroup, error)
}

// ReferralService handles attribution for shoppers and code management for admins.
type ReferralService interface {
	ExtractCode(entryURL string) (string, bool)
	// Validate reports the referral only when the exact code exists and is active.
	Validate(ctx context.Context, code string) (Referral, bool)
	Capture(ctx context.Context, session, entryURL string) (string, bool, error)
	Current(ctx context.Context, session string) (string, error)

	Create(ctx context.Context, cmd CreateReferralCommand) (Referral, error)
	List(ctx context.Context) ([]Referral, error)
	SetActive(ctx context.Context, code string, active bool) (Referral, error)
	Stats(ctx context.Context) (map[string]ReferralStats, error)
	PromoterDashboard(ctx context.Context, name string) (PromoterDashboard, error)
}

// CatalogService exposes the immutable package catalog.
type CatalogService interface {
	ListPackages(ctx context.Context) []Package
	GetPackage(ctx context.Context, id string) (Package, error)
}

// CartService keeps one cart per session, mirrored to the session store on every mutation.
type CartService interface {
	Load(ctx context.Context, session string) (Cart, error)
	Add(ctx context.Context, session, packageID string, quantity int) (Cart, error)
	Remove(ctx context.Context, session, packageID string) (Cart, error)
	SetQuantity(ctx context.Context, session, packageID string, quantity int) (Cart, error)
	Clear(ctx context.Context, session string) error
	Deduct(ctx context.Context, session string, charged []CartLine) (Cart, error)
}

// CheckoutService runs one purchase attempt from intent creation to a recorded outcome.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// ConfirmationNotifier tells the customer their purchase is final. Delivery is best effort.
type ConfirmationNotifier interface {
	Notify(ctx context.Context, confirmation Confirmation) error
}

// ConfirmationPublisher hands the rendered e-mail parameters to the delivery queue.
type ConfirmationPublisher interface {
	PublishConfirmation(ctx context.Context, message ConfirmationEmail) (string, error)
}

// Logger is the structured event hook shared by services.
type Logger func(ctx context.Context, event string, fields map[string]any)

func loggerOrNoop(logger Logger) Logger {
	if logger == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return logger
}
