package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// Logger defines the logging contract for gateway operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
}

type stripePaymentMethodAPI interface {
	New(params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripeClients struct {
	intents        stripePaymentIntentAPI
	paymentMethods stripePaymentMethodAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   Logger
	Clients  *stripeClients
}

// StripeGateway implements Gateway on Stripe PaymentIntents.
type StripeGateway struct {
	api    stripeClients
	logger Logger
}

// NewStripeGateway constructs a StripeGateway. A missing API key yields ErrGatewayUnconfigured so callers
// can keep serving and report the misconfiguration per request.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	clients, err := resolveStripeClients(cfg.APIKey, cfg.Backends, cfg.Clients)
	if err != nil {
		return nil, err
	}
	if clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}
	return &StripeGateway{api: clients, logger: loggerOrNoop(cfg.Logger)}, nil
}

// CreateIntent creates a PaymentIntent carrying the receipt email and package name metadata.
func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if g == nil {
		return Intent{}, ErrGatewayUnconfigured
	}
	if req.AmountMinor <= 0 {
		return Intent{}, ErrInvalidAmount
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
		params.AddMetadata("packageName", req.Description)
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}

	intent, err := g.api.intents.New(params)
	if err != nil {
		return Intent{}, wrapStripeError("create payment intent", err)
	}

	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})
	return intentFromStripe(intent), nil
}

// RetrieveIntent fetches the PaymentIntent by id.
func (g *StripeGateway) RetrieveIntent(ctx context.Context, id string) (Intent, error) {
	if g == nil {
		return Intent{}, ErrGatewayUnconfigured
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := g.api.intents.Get(id, params)
	if err != nil {
		return Intent{}, wrapStripeError("retrieve payment intent", err)
	}
	return intentFromStripe(intent), nil
}

func resolveStripeClients(apiKey string, backends *stripe.Backends, injected *stripeClients) (stripeClients, error) {
	if injected != nil {
		return *injected, nil
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return stripeClients{}, ErrGatewayUnconfigured
	}
	sc := client.New(apiKey, backends)
	return stripeClients{
		intents:        sc.PaymentIntents,
		paymentMethods: sc.PaymentMethods,
	}, nil
}

func intentFromStripe(intent *stripe.PaymentIntent) Intent {
	if intent == nil {
		return Intent{}
	}
	raw := string(intent.Status)
	return Intent{
		ID:            intent.ID,
		ClientSecret:  intent.ClientSecret,
		GatewayStatus: raw,
		Status:        NormalizeStatus(raw),
	}
}

func wrapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound {
			return &GatewayError{Op: op, Message: stripeErr.Msg, Err: fmt.Errorf("%w: %w", ErrIntentNotFound, err)}
		}
		return &GatewayError{Op: op, Message: stripeErr.Msg, Err: err}
	}
	if IsUnreachable(err) {
		return &GatewayError{Op: op, Err: fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)}
	}
	return &GatewayError{Op: op, Err: err}
}

func loggerOrNoop(logger Logger) Logger {
	if logger == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return logger
}
