package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bonaevents/storefront/internal/domain"
	"github.com/bonaevents/storefront/internal/payments"
	"github.com/bonaevents/storefront/internal/platform/httpx"
	"github.com/bonaevents/storefront/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers runs the server-side checkout for a hosted cart.
type CheckoutHandlers struct {
	carts    services.CartService
	checkout services.CheckoutService
	replay   func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutReplay wraps the checkout endpoint in a replay guard, so a retried request with the
// same Idempotency-Key gets the recorded outcome instead of a second charge.
func WithCheckoutReplay(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.replay = mw
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(carts services.CartService, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{carts: carts, checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the checkout endpoint.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.replay != nil {
		r = r.With(h.replay)
	}
	r.Post("/carts/{cartID}/checkout", h.checkoutCart)
}

// CheckoutReplayScope partitions replay keys by cart, for use with the idempotency middleware.
func CheckoutReplayScope(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "cartID"))
}

type checkoutCustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type checkoutRequest struct {
	Customer checkoutCustomerRequest `json:"customer"`
	Card     payments.CardInput      `json:"card"`
}

type checkoutResponse struct {
	Status          string      `json:"status"`
	Message         string      `json:"message"`
	Amount          float64     `json:"amount"`
	Description     string      `json:"description"`
	PaymentIntentID string      `json:"paymentIntentId,omitempty"`
	Free            bool        `json:"isFreeTransaction,omitempty"`
	Orders          []orderView `json:"orders"`
	LedgerError     string      `json:"ledgerError,omitempty"`
}

func (h *CheckoutHandlers) checkoutCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil || h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}

	session := strings.TrimSpace(chi.URLParam(r, "cartID"))
	cart, err := h.carts.Load(ctx, session)
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	if cart.IsEmpty() {
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items", http.StatusBadRequest))
		return
	}

	result, err := h.checkout.Checkout(ctx, services.CheckoutCommand{
		SessionID:      session,
		Lines:          cart.Lines,
		OriginalAmount: cart.TotalPrice(),
		Customer: domain.Customer{
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: strings.TrimSpace(req.Customer.Phone),
		},
		Card:           req.Card,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCheckoutInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrCheckoutInFlight):
			httpx.WriteError(ctx, w, httpx.NewError("checkout_in_progress", "a checkout for this cart is already in progress", http.StatusConflict))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to run checkout", http.StatusInternalServerError))
		}
		return
	}

	resp := checkoutResponse{
		Status:          string(result.Status),
		Message:         result.Message,
		Amount:          money(result.Amount),
		Description:     result.Description,
		PaymentIntentID: result.Attempt.ID,
		Free:            result.Attempt.IsFreeTransaction,
		Orders:          buildOrderViews(result.Orders),
	}
	if result.LedgerErr != nil {
		resp.LedgerError = "order could not be recorded"
	}

	status := http.StatusOK
	switch result.Status {
	case domain.OrderStatusProcessing:
		status = http.StatusAccepted
	case domain.OrderStatusFailed:
		status = http.StatusPaymentRequired
	}
	writeJSONResponse(w, status, resp)
}
