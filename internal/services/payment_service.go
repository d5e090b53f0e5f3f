package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bonaevents/storefront/internal/domain"
	"github.com/bonaevents/storefront/internal/payments"
)

// ErrPaymentInvalidInput indicates a malformed intent request.
var ErrPaymentInvalidInput = errors.New("payment: invalid input")

// PaymentRequest asks for an intent in major currency units.
type PaymentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Description    string
	Email          string
	IdempotencyKey string
}

// PaymentMetrics receives adapter counters.
type PaymentMetrics interface {
	IncIntentCreated(free bool)
	IncWebhookEvent(kind string)
}

// PaymentServiceDeps wires the payment service.
type PaymentServiceDeps struct {
	// Gateway may be nil when no secret key is configured; every paid request then fails with
	// payments.ErrGatewayUnconfigured.
	Gateway  payments.Gateway
	Webhooks *payments.WebhookVerifier
	Currency string
	Metrics  PaymentMetrics
	Clock    func() time.Time
	Entropy  io.Reader
	Logger   Logger
}

type paymentService struct {
	gateway  payments.Gateway
	webhooks *payments.WebhookVerifier
	currency string
	metrics  PaymentMetrics
	now      func() time.Time
	entropy  io.Reader
	logger   Logger
}

// NewPaymentService constructs the adapter-side payment service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	entropy := deps.Entropy
	if entropy == nil {
		entropy = rand.Reader
	}
	return &paymentService{
		gateway:  deps.Gateway,
		webhooks: deps.Webhooks,
		currency: currency,
		metrics:  deps.Metrics,
		now:      clock,
		entropy:  entropy,
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

// CreateIntent short-circuits zero amounts into a synthesised free intent; anything else goes to
// the gateway in minor units.
func (s *paymentService) CreateIntent(ctx context.Context, req PaymentRequest) (payments.Intent, error) {
	if req.Amount.IsNegative() {
		return payments.Intent{}, fmt.Errorf("%w: amount must not be negative", ErrPaymentInvalidInput)
	}
	if req.Amount.IsZero() {
		intent := payments.NewFreeIntent(s.now(), s.entropy)
		s.countIntent(true)
		s.logger(ctx, "payments.intent.free", map[string]any{"paymentIntent": intent.ID})
		return intent, nil
	}

	minor, err := payments.ToMinorUnits(req.Amount)
	if err != nil {
		return payments.Intent{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}
	if minor == 0 {
		return payments.Intent{}, fmt.Errorf("%w: amount rounds to zero", ErrPaymentInvalidInput)
	}
	if s.gateway == nil {
		return payments.Intent{}, payments.ErrGatewayUnconfigured
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}
	intent, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		AmountMinor:    minor,
		Currency:       currency,
		Description:    strings.TrimSpace(req.Description),
		Email:          strings.TrimSpace(req.Email),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		s.logger(ctx, "payments.intent.create_failed", map[string]any{"error": err.Error()})
		return payments.Intent{}, err
	}
	s.countIntent(false)
	return intent, nil
}

func (s *paymentService) GetStatus(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", payments.ErrIntentNotFound
	}
	if payments.IsFreeIntentID(id) {
		return string(domain.PaymentStatusSucceeded), nil
	}
	if s.gateway == nil {
		return "", payments.ErrGatewayUnconfigured
	}
	intent, err := s.gateway.RetrieveIntent(ctx, id)
	if err != nil {
		return "", err
	}
	return intent.GatewayStatus, nil
}

func (s *paymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (payments.Event, error) {
	event, err := s.webhooks.Verify(payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			s.logger(ctx, "payments.webhook.signature_failed", map[string]any{"error": err.Error()})
		}
		return nil, err
	}

	switch evt := event.(type) {
	case payments.PaymentSucceededEvent:
		s.logger(ctx, "payments.webhook.payment_succeeded", map[string]any{
			"event":         evt.ID,
			"paymentIntent": evt.IntentID,
			"amount":        evt.Amount,
			"currency":      evt.Currency,
		})
	case payments.PaymentFailedEvent:
		s.logger(ctx, "payments.webhook.payment_failed", map[string]any{
			"event":         evt.ID,
			"paymentIntent": evt.IntentID,
			"failureCode":   evt.FailureCode,
			"failureReason": evt.FailureMessage,
		})
	case payments.UnrecognizedEvent:
		s.logger(ctx, "payments.webhook.ignored", map[string]any{"event": evt.ID, "type": evt.Type})
	}
	if s.metrics != nil {
		s.metrics.IncWebhookEvent(event.Kind())
	}
	return event, nil
}

func (s *paymentService) countIntent(free bool) {
	if s.metrics != nil {
		s.metrics.IncIntentCreated(free)
	}
}
