package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v78"
)

// ErrMissingCard indicates that no card input was collected.
var ErrMissingCard = errors.New("payments: card input is required")

// CardInput references card details collected by the payment widget. Either a single-use
// card token or an existing payment method id is accepted; raw card numbers never reach this code.
type CardInput struct {
	Token           string `json:"token,omitempty"`
	PaymentMethodID string `json:"paymentMethodId,omitempty"`
}

// Present reports whether any card reference was collected.
func (c CardInput) Present() bool {
	return strings.TrimSpace(c.Token) != "" || strings.TrimSpace(c.PaymentMethodID) != ""
}

// ConfirmRequest carries the card and billing details used to authorise an intent.
type ConfirmRequest struct {
	ClientSecret string
	Card         CardInput
	BillingName  string
	BillingEmail string
}

// CardConfirmer authorises a created intent with the customer's card.
type CardConfirmer interface {
	ConfirmCard(ctx context.Context, req ConfirmRequest) (Intent, error)
}

// StripeCardConfirmerConfig configures the StripeCardConfirmer.
type StripeCardConfirmerConfig struct {
	// APIKey may be a publishable key, in which case confirmation is authorised by the client secret.
	APIKey   string
	Backends *stripe.Backends
	Logger   Logger
	Clients  *stripeClients
}

// StripeCardConfirmer confirms PaymentIntents using a card token and billing details.
type StripeCardConfirmer struct {
	api         stripeClients
	publishable bool
	logger      Logger
}

// NewStripeCardConfirmer constructs a StripeCardConfirmer.
func NewStripeCardConfirmer(cfg StripeCardConfirmerConfig) (*StripeCardConfirmer, error) {
	clients, err := resolveStripeClients(cfg.APIKey, cfg.Backends, cfg.Clients)
	if err != nil {
		return nil, err
	}
	if clients.intents == nil || clients.paymentMethods == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}
	return &StripeCardConfirmer{
		api:         clients,
		publishable: strings.HasPrefix(strings.TrimSpace(cfg.APIKey), "pk_"),
		logger:      loggerOrNoop(cfg.Logger),
	}, nil
}

// ConfirmCard attaches the card to the intent identified by the client secret and confirms it.
func (c *StripeCardConfirmer) ConfirmCard(ctx context.Context, req ConfirmRequest) (Intent, error) {
	if c == nil {
		return Intent{}, ErrGatewayUnconfigured
	}
	if !req.Card.Present() {
		return Intent{}, ErrMissingCard
	}
	intentID := IntentIDFromClientSecret(req.ClientSecret)
	if intentID == "" {
		return Intent{}, &GatewayError{Op: "confirm payment intent", Message: "invalid client secret"}
	}

	paymentMethodID := strings.TrimSpace(req.Card.PaymentMethodID)
	if paymentMethodID == "" {
		pmParams := &stripe.PaymentMethodParams{
			Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
			Card: &stripe.PaymentMethodCardParams{
				Token: stripe.String(strings.TrimSpace(req.Card.Token)),
			},
			BillingDetails: &stripe.PaymentMethodBillingDetailsParams{},
		}
		pmParams.Context = ctx
		if name := strings.TrimSpace(req.BillingName); name != "" {
			pmParams.BillingDetails.Name = stripe.String(name)
		}
		if email := strings.TrimSpace(req.BillingEmail); email != "" {
			pmParams.BillingDetails.Email = stripe.String(email)
		}
		pm, err := c.api.paymentMethods.New(pmParams)
		if err != nil {
			return Intent{}, wrapStripeError("create payment method", err)
		}
		paymentMethodID = pm.ID
	}

	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(paymentMethodID),
	}
	params.Context = ctx
	if c.publishable {
		params.AddExtra("client_secret", req.ClientSecret)
	}

	intent, err := c.api.intents.Confirm(intentID, params)
	if err != nil {
		return Intent{}, wrapStripeError("confirm payment intent", err)
	}

	c.logger(ctx, "payments.stripe.intent.confirmed", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
	})
	return intentFromStripe(intent), nil
}

// IntentIDFromClientSecret extracts the intent id from a client secret of the form "<id>_secret_<token>".
func IntentIDFromClientSecret(secret string) string {
	secret = strings.TrimSpace(secret)
	idx := strings.Index(secret, "_secret_")
	if idx <= 0 {
		return ""
	}
	return secret[:idx]
}
