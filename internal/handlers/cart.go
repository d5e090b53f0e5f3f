package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bonaevents/storefront/internal/domain"
	"github.com/bonaevents/storefront/internal/platform/httpx"
	"github.com/bonaevents/storefront/internal/services"
)

const maxCartRequestBody = 4 * 1024

// CartHandlers exposes server-hosted carts keyed by cart id, plus referral capture for the same
// session.
type CartHandlers struct {
	carts     services.CartService
	referrals services.ReferralService
	deposit   int64
}

// CartOption customises CartHandlers.
type CartOption func(*CartHandlers)

// WithCartReferrals enables referral capture on the cart session.
func WithCartReferrals(referrals services.ReferralService) CartOption {
	return func(h *CartHandlers) {
		h.referrals = referrals
	}
}

// WithCartDeposit overrides the per-unit deposit shown in cart views.
func WithCartDeposit(deposit int64) CartOption {
	return func(h *CartHandlers) {
		if deposit >= 0 {
			h.deposit = deposit
		}
	}
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(carts services.CartService, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{carts: carts, deposit: domain.DepositPerPackage}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers cart endpoints under /carts.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/carts/{cartID}", h.getCart)
	r.Delete("/carts/{cartID}", h.clearCart)
	r.Post("/carts/{cartID}/items", h.addItem)
	r.Put("/carts/{cartID}/items/{packageID}", h.setQuantity)
	r.Delete("/carts/{cartID}/items/{packageID}", h.removeItem)
	r.Post("/carts/{cartID}/referral", h.captureReferral)
}

type addCartItemRequest struct {
	PackageID string `json:"packageId"`
	Quantity  *int   `json:"quantity"`
}

type setCartQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

type referralCaptureResponse struct {
	Captured     bool   `json:"captured"`
	ReferralCode string `json:"referralCode,omitempty"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	cart, err := h.carts.Load(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartView(cart, h.deposit))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	if err := h.carts.Clear(r.Context(), chi.URLParam(r, "cartID")); err != nil {
		writeCartError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req addCartItemRequest
	if !decodeJSONBody(w, r, maxCartRequestBody, &req) {
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	cart, err := h.carts.Add(r.Context(), chi.URLParam(r, "cartID"), strings.TrimSpace(req.PackageID), quantity)
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartView(cart, h.deposit))
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req setCartQuantityRequest
	if !decodeJSONBody(w, r, maxCartRequestBody, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.SetQuantity(r.Context(), chi.URLParam(r, "cartID"), chi.URLParam(r, "packageID"), *req.Quantity)
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartView(cart, h.deposit))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	cart, err := h.carts.Remove(r.Context(), chi.URLParam(r, "cartID"), chi.URLParam(r, "packageID"))
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartView(cart, h.deposit))
}

// captureReferral treats the request URL as the shopper's entry URL. Unknown or inactive codes are
// not an error: the previously captured code, if any, stays in place.
func (h *CartHandlers) captureReferral(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.referrals == nil {
		httpx.WriteError(ctx, w, httpx.NewError("referrals_unavailable", "referral service unavailable", http.StatusServiceUnavailable))
		return
	}
	session := chi.URLParam(r, "cartID")

	code, captured, err := h.referrals.Capture(ctx, session, r.URL.String())
	if err != nil {
		writeReferralError(w, r, err)
		return
	}
	if !captured {
		current, err := h.referrals.Current(ctx, session)
		if err != nil {
			writeReferralError(w, r, err)
			return
		}
		code = current
	}
	writeJSONResponse(w, http.StatusOK, referralCaptureResponse{Captured: captured, ReferralCode: code})
}

func (h *CartHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.carts == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("cart_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func writeCartError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartUnknownPackage):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_package", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart", http.StatusInternalServerError))
	}
}
