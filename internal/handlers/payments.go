package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bonaevents/storefront/internal/payments"
	"github.com/bonaevents/storefront/internal/platform/httpx"
	"github.com/bonaevents/storefront/internal/services"
)

const (
	maxPaymentRequestBody = 8 * 1024
	maxWebhookBody        = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
	idempotencyKeyHeader  = "Idempotency-Key"
)

// PaymentHandlers exposes the payment gateway adapter: intent creation, status lookup and the
// signed webhook receiver.
type PaymentHandlers struct {
	payments services.PaymentService
	replay   func(http.Handler) http.Handler
}

// PaymentOption customises PaymentHandlers.
type PaymentOption func(*PaymentHandlers)

// WithPaymentReplay guards intent creation with the given replay middleware.
func WithPaymentReplay(mw func(http.Handler) http.Handler) PaymentOption {
	return func(h *PaymentHandlers) {
		h.replay = mw
	}
}

// NewPaymentHandlers constructs the adapter handlers.
func NewPaymentHandlers(payments services.PaymentService, opts ...PaymentOption) *PaymentHandlers {
	h := &PaymentHandlers{payments: payments}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the adapter endpoints and their legacy aliases at the router root.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	create := http.Handler(http.HandlerFunc(h.createIntent))
	if h.replay != nil {
		create = h.replay(create)
	}
	r.Method(http.MethodPost, "/create", create)
	r.Method(http.MethodPost, "/api/create-payment", create)
	r.Get("/status/{intentID}", h.getStatus)
	r.Get("/api/payment-status/{intentID}", h.getStatus)
	r.Post("/webhook", h.webhook)
}

type createIntentRequest struct {
	Amount      *decimal.Decimal `json:"amount"`
	Currency    string           `json:"currency"`
	Description string           `json:"description"`
	Email       string           `json:"email"`
}

type createIntentResponse struct {
	ClientSecret      string `json:"clientSecret"`
	ID                string `json:"id"`
	Status            string `json:"status,omitempty"`
	IsFreeTransaction bool   `json:"isFreeTransaction,omitempty"`
}

type intentStatusResponse struct {
	Status string `json:"status"`
}

func (h *PaymentHandlers) createIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_unconfigured", "payment service unavailable", http.StatusInternalServerError))
		return
	}

	var req createIntentRequest
	if !decodeJSONBody(w, r, maxPaymentRequestBody, &req) {
		return
	}
	if req.Amount == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount is required", http.StatusBadRequest))
		return
	}
	if req.Amount.IsNegative() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must not be negative", http.StatusBadRequest))
		return
	}

	intent, err := h.payments.CreateIntent(ctx, services.PaymentRequest{
		Amount:         *req.Amount,
		Currency:       strings.TrimSpace(req.Currency),
		Description:    strings.TrimSpace(req.Description),
		Email:          strings.TrimSpace(req.Email),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		writePaymentError(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, createIntentResponse{
		ClientSecret:      intent.ClientSecret,
		ID:                intent.ID,
		Status:            intent.GatewayStatus,
		IsFreeTransaction: intent.IsFreeTransaction,
	})
}

func (h *PaymentHandlers) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_unconfigured", "payment service unavailable", http.StatusInternalServerError))
		return
	}

	id := strings.TrimSpace(chi.URLParam(r, "intentID"))
	if id == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment intent id is required", http.StatusBadRequest))
		return
	}

	status, err := h.payments.GetStatus(ctx, id)
	if err != nil {
		writePaymentError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, intentStatusResponse{Status: status})
}

func (h *PaymentHandlers) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unconfigured", "webhook processing unavailable", http.StatusInternalServerError))
		return
	}

	payload, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSONResponse(w, status, map[string]string{"error": err.Error()})
		return
	}

	if _, err := h.payments.HandleWebhook(ctx, payload, r.Header.Get(stripeSignatureHeader)); err != nil {
		switch {
		case errors.Is(err, payments.ErrWebhookUnconfigured):
			httpx.WriteError(ctx, w, httpx.NewError("webhook_unconfigured", "webhook signing secret not configured", http.StatusInternalServerError))
		default:
			writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "Webhook Error: " + err.Error()})
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
}

func writePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput), errors.Is(err, payments.ErrInvalidAmount):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrGatewayUnconfigured):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_unconfigured", "payment gateway secret key not configured", http.StatusInternalServerError))
	case errors.Is(err, payments.ErrIntentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_intent_not_found", "payment intent not found", http.StatusNotFound))
	default:
		message := "payment gateway request failed"
		var gwErr *payments.GatewayError
		if errors.As(err, &gwErr) && strings.TrimSpace(gwErr.Message) != "" {
			message = gwErr.Message
		}
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", message, http.StatusBadGateway))
	}
}
