package payments

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/bonaevents/storefront/internal/domain"
)

const (
	// FreeClientSecret is returned in place of a gateway secret for zero-amount intents.
	FreeClientSecret = "free_transaction"
	freeIntentPrefix = "free_"
	freeSuffixLength = 9
)

var (
	// ErrIntentNotFound indicates the gateway has no intent with the requested id.
	ErrIntentNotFound = errors.New("payments: intent not found")
	// ErrGatewayUnconfigured indicates the gateway secret key is missing.
	ErrGatewayUnconfigured = errors.New("payments: gateway secret key not configured")
	// ErrInvalidAmount indicates a negative or unrepresentable amount.
	ErrInvalidAmount = errors.New("payments: invalid amount")
	// ErrGatewayUnreachable indicates the payment server could not be reached at all: a dial or
	// transport failure, a timeout, or an open circuit breaker.
	ErrGatewayUnreachable = errors.New("payments: payment server unreachable")
)

// IntentRequest describes a payment intent to create, in minor currency units.
type IntentRequest struct {
	AmountMinor    int64
	Currency       string
	Description    string
	Email          string
	IdempotencyKey string
}

// Intent is the gateway view of a payment attempt.
type Intent struct {
	ID                string
	ClientSecret      string
	GatewayStatus     string
	Status            domain.PaymentStatus
	IsFreeTransaction bool
}

// Gateway creates and retrieves payment intents on the hosted payment API.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	RetrieveIntent(ctx context.Context, id string) (Intent, error)
}

// GatewayError carries the message reported by the hosted payment API.
type GatewayError struct {
	Op      string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("payments: %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("payments: %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsUnreachable reports whether err is a transport-level failure rather than an answer from the
// payment server.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrGatewayUnreachable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ToMinorUnits converts a major-unit amount to minor units, rounding to the nearest integer.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, ErrInvalidAmount
	}
	minor := amount.Shift(2).Round(0)
	if !minor.IsInteger() || minor.GreaterThan(decimal.NewFromInt(1<<53)) {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

// NewFreeIntent synthesises a succeeded intent for a zero-amount attempt without contacting the gateway.
func NewFreeIntent(now time.Time, entropy io.Reader) Intent {
	if entropy == nil {
		entropy = rand.Reader
	}
	id := ulid.MustNew(ulid.Timestamp(now), entropy).String()
	suffix := strings.ToLower(id[len(id)-freeSuffixLength:])
	return Intent{
		ID:                fmt.Sprintf("%s%d_%s", freeIntentPrefix, now.UnixMilli(), suffix),
		ClientSecret:      FreeClientSecret,
		GatewayStatus:     string(domain.PaymentStatusSucceeded),
		Status:            domain.PaymentStatusSucceeded,
		IsFreeTransaction: true,
	}
}

// IsFreeIntentID reports whether the id was synthesised for a zero-amount attempt.
func IsFreeIntentID(id string) bool {
	return strings.HasPrefix(strings.TrimSpace(id), freeIntentPrefix)
}

// NormalizeStatus folds a raw gateway status into the statuses the checkout flow reasons about.
func NormalizeStatus(raw string) domain.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded":
		return domain.PaymentStatusSucceeded
	case "processing":
		return domain.PaymentStatusProcessing
	case "requires_action", "requires_confirmation", "requires_capture":
		return domain.PaymentStatusRequiresAction
	case "requires_payment_method", "canceled", "failed":
		return domain.PaymentStatusFailed
	default:
		return domain.PaymentStatusProcessing
	}
}
