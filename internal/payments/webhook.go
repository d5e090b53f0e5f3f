package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

var (
	// ErrWebhookUnconfigured indicates the webhook signing secret is missing.
	ErrWebhookUnconfigured = errors.New("payments: webhook signing secret not configured")
	// ErrInvalidSignature indicates the payload failed signature verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
)

const (
	eventPaymentSucceeded = "payment_intent.succeeded"
	eventPaymentFailed    = "payment_intent.payment_failed"
)

// Event is a verified gateway event. The set of implementations is closed.
type Event interface {
	EventID() string
	Kind() string
	sealed()
}

// PaymentSucceededEvent reports that an intent completed.
type PaymentSucceededEvent struct {
	ID       string
	IntentID string
	Amount   int64
	Currency string
}

// PaymentFailedEvent reports that an intent's payment attempt failed.
type PaymentFailedEvent struct {
	ID             string
	IntentID       string
	FailureCode    string
	FailureMessage string
}

// UnrecognizedEvent is any verified event type the storefront does not act on.
type UnrecognizedEvent struct {
	ID   string
	Type string
}

func (e PaymentSucceededEvent) EventID() string { return e.ID }
func (e PaymentSucceededEvent) Kind() string    { return "payment_succeeded" }
func (PaymentSucceededEvent) sealed()           {}

func (e PaymentFailedEvent) EventID() string { return e.ID }
func (e PaymentFailedEvent) Kind() string    { return "payment_failed" }
func (PaymentFailedEvent) sealed()           {}

func (e UnrecognizedEvent) EventID() string { return e.ID }
func (e UnrecognizedEvent) Kind() string    { return "unrecognized" }
func (UnrecognizedEvent) sealed()           {}

// WebhookVerifier checks Stripe-Signature headers and decodes events.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier constructs a verifier. An empty secret is accepted; Verify then reports ErrWebhookUnconfigured.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: strings.TrimSpace(secret)}
}

// Verify authenticates the payload and decodes it. Nothing in the payload is trusted before the signature checks out.
func (v *WebhookVerifier) Verify(payload []byte, signatureHeader string) (Event, error) {
	if v == nil || v.secret == "" {
		return nil, ErrWebhookUnconfigured
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeEvent(evt)
}

func decodeEvent(evt stripe.Event) (Event, error) {
	switch string(evt.Type) {
	case eventPaymentSucceeded:
		intent, err := decodeIntent(evt)
		if err != nil {
			return nil, err
		}
		return PaymentSucceededEvent{
			ID:       evt.ID,
			IntentID: intent.ID,
			Amount:   intent.Amount,
			Currency: string(intent.Currency),
		}, nil
	case eventPaymentFailed:
		intent, err := decodeIntent(evt)
		if err != nil {
			return nil, err
		}
		failed := PaymentFailedEvent{ID: evt.ID, IntentID: intent.ID}
		if intent.LastPaymentError != nil {
			failed.FailureCode = string(intent.LastPaymentError.Code)
			failed.FailureMessage = intent.LastPaymentError.Msg
		}
		return failed, nil
	default:
		return UnrecognizedEvent{ID: evt.ID, Type: string(evt.Type)}, nil
	}
}

func decodeIntent(evt stripe.Event) (stripe.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return intent, fmt.Errorf("payments: event %s has no data", evt.ID)
	}
	if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
		return intent, fmt.Errorf("payments: decode event %s: %w", evt.ID, err)
	}
	return intent, nil
}
