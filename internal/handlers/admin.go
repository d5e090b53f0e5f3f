package handlers

import (
	"errors"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bonaevents/storefront/internal/platform/auth"
	"github.com/bonaevents/storefront/internal/platform/httpx"
	"github.com/bonaevents/storefront/internal/platform/pagination"
	"github.com/bonaevents/storefront/internal/services"
)

const (
	maxAdminRequestBody  = 4 * 1024
	defaultLoginAttempts = 10
	defaultLoginWindow   = 15 * time.Minute
)

// AdminHandlers serves the password-gated dashboard API: ledger browsing, soft delete and referral
// management.
type AdminHandlers struct {
	gate        *auth.AdminGate
	orders      services.OrderService
	referrals   services.ReferralService
	logins      rateLimiter
	loginWindow time.Duration
	proxies     []netip.Prefix
}

// AdminOption customises AdminHandlers.
type AdminOption func(*AdminHandlers)

// WithLoginRateLimit caps password attempts per client address within window. A zero limit
// disables the cap.
func WithLoginRateLimit(limit int, window time.Duration) AdminOption {
	return func(h *AdminHandlers) {
		h.logins = newSimpleRateLimiter(limit, window, nil)
		h.loginWindow = window
	}
}

// WithTrustedProxies lets the login limiter read X-Forwarded-For when the peer is one of prefixes.
func WithTrustedProxies(prefixes ...netip.Prefix) AdminOption {
	return func(h *AdminHandlers) {
		h.proxies = append([]netip.Prefix(nil), prefixes...)
	}
}

// NewAdminHandlers constructs admin handlers. Every route except login requires a token issued by gate.
func NewAdminHandlers(gate *auth.AdminGate, orders services.OrderService, referrals services.ReferralService, opts ...AdminOption) *AdminHandlers {
	h := &AdminHandlers{
		gate:        gate,
		orders:      orders,
		referrals:   referrals,
		logins:      newSimpleRateLimiter(defaultLoginAttempts, defaultLoginWindow, nil),
		loginWindow: defaultLoginWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/admin/login", h.login)

	r.Group(func(protected chi.Router) {
		protected.Use(h.gate.RequireAdmin())

		protected.Get("/admin/orders", h.listOrders)
		protected.Delete("/admin/orders", h.softDeleteOrders)
		protected.Get("/admin/orders/by-referral", h.ordersByReferral)

		protected.Get("/admin/referrals", h.listReferrals)
		protected.Post("/admin/referrals", h.createReferral)
		protected.Get("/admin/referrals/stats", h.referralStats)
		protected.Patch("/admin/referrals/{code}", h.updateReferral)
		protected.Get("/admin/referrals/{code}/orders", h.referralOrders)

		protected.Get("/admin/promoters/{name}", h.promoterDashboard)
	})
}

type adminLoginRequest struct {
	Password string `json:"password"`
}

type adminLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

type createReferralRequest struct {
	Code       string   `json:"code"`
	Name       string   `json:"name"`
	Commission *float64 `json:"commission"`
}

type updateReferralRequest struct {
	Active *bool `json:"active"`
}

type promoterDashboardResponse struct {
	Referral referralView      `json:"referral"`
	Orders   []orderView       `json:"orders"`
	Stats    referralStatsView `json:"stats"`
}

func (h *AdminHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.logins != nil && !h.logins.Allow(clientAddress(r, h.proxies)) {
		w.Header().Set("Retry-After", strconv.Itoa(int(h.loginWindow.Seconds())))
		httpx.WriteError(ctx, w, httpx.NewError("too_many_attempts", "too many login attempts, try again later", http.StatusTooManyRequests))
		return
	}
	var req adminLoginRequest
	if !decodeJSONBody(w, r, maxAdminRequestBody, &req) {
		return
	}

	session, err := h.gate.Login(req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAdminUnconfigured):
			httpx.WriteError(ctx, w, httpx.NewError("admin_unconfigured", "admin password not configured", http.StatusInternalServerError))
		case errors.Is(err, auth.ErrInvalidCredentials):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "invalid password", http.StatusUnauthorized))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("login_failed", "failed to issue admin session", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, adminLoginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	if !h.ordersReady(w, r) {
		return
	}
	params, err := pagination.FromRequest(r, orderListOptions)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	orders, err := h.orders.ListAll(r.Context())
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	orders = filterOrders(orders, params.Filters)
	page, next, err := pagination.Page(orders, params)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	resp := map[string]any{"orders": buildOrderViews(page)}
	if params.Paged() || len(params.Filters) > 0 {
		resp["total"] = len(orders)
	}
	if next != "" {
		resp["nextPageToken"] = next
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

var orderListOptions = pagination.Options{
	DefaultPageSize:     50,
	MaxPageSize:         500,
	AllowedFilterFields: []string{"status", "referralCode"},
}

func filterOrders(orders []services.Order, filters []pagination.Filter) []services.Order {
	if len(filters) == 0 {
		return orders
	}
	out := make([]services.Order, 0, len(orders))
	for _, order := range orders {
		keep := true
		for _, f := range filters {
			var value string
			switch f.Field {
			case "status":
				value = string(order.Status)
			case "referralCode":
				value = order.ReferralCode
			}
			if !f.Matches(value) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, order)
		}
	}
	return out
}

func (h *AdminHandlers) softDeleteOrders(w http.ResponseWriter, r *http.Request) {
	if !h.ordersReady(w, r) {
		return
	}
	count, err := h.orders.SoftDeleteAll(r.Context())
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{"deleted": count})
}

func (h *AdminHandlers) ordersByReferral(w http.ResponseWriter, r *http.Request) {
	if !h.ordersReady(w, r) {
		return
	}
	groups, err := h.orders.GroupByReferral(r.Context())
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"groups": buildReferralGroupViews(groups)})
}

func (h *AdminHandlers) referralOrders(w http.ResponseWriter, r *http.Request) {
	if !h.ordersReady(w, r) {
		return
	}
	code := pathParam(r, "code")
	orders, err := h.orders.ListByReferral(r.Context(), code)
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"code": code, "orders": buildOrderViews(orders)})
}

func (h *AdminHandlers) listReferrals(w http.ResponseWriter, r *http.Request) {
	if !h.referralsReady(w, r) {
		return
	}
	referrals, err := h.referrals.List(r.Context())
	if err != nil {
		writeReferralError(w, r, err)
		return
	}
	views := make([]referralView, 0, len(referrals))
	for _, ref := range referrals {
		views = append(views, buildReferralView(ref))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"referrals": views})
}

func (h *AdminHandlers) createReferral(w http.ResponseWriter, r *http.Request) {
	if !h.referralsReady(w, r) {
		return
	}
	var req createReferralRequest
	if !decodeJSONBody(w, r, maxAdminRequestBody, &req) {
		return
	}
	referral, err := h.referrals.Create(r.Context(), services.CreateReferralCommand{
		Code:       req.Code,
		Name:       req.Name,
		Commission: req.Commission,
	})
	if err != nil {
		writeReferralError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildReferralView(referral))
}

func (h *AdminHandlers) updateReferral(w http.ResponseWriter, r *http.Request) {
	if !h.referralsReady(w, r) {
		return
	}
	var req updateReferralRequest
	if !decodeJSONBody(w, r, maxAdminRequestBody, &req) {
		return
	}
	if req.Active == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "active is required", http.StatusBadRequest))
		return
	}
	referral, err := h.referrals.SetActive(r.Context(), pathParam(r, "code"), *req.Active)
	if err != nil {
		writeReferralError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildReferralView(referral))
}

func (h *AdminHandlers) referralStats(w http.ResponseWriter, r *http.Request) {
	if !h.referralsReady(w, r) {
		return
	}
	stats, err := h.referrals.Stats(r.Context())
	if err != nil {
		writeReferralError(w, r, err)
		return
	}
	views := make(map[string]referralStatsView, len(stats))
	for code, s := range stats {
		views[code] = buildReferralStatsView(s)
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"stats": views})
}

func (h *AdminHandlers) promoterDashboard(w http.ResponseWriter, r *http.Request) {
	if !h.referralsReady(w, r) {
		return
	}
	dashboard, err := h.referrals.PromoterDashboard(r.Context(), pathParam(r, "name"))
	if err != nil {
		writeReferralError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, promoterDashboardResponse{
		Referral: buildReferralView(dashboard.Referral),
		Orders:   buildOrderViews(dashboard.Orders),
		Stats:    buildReferralStatsView(dashboard.Stats),
	})
}

func (h *AdminHandlers) ordersReady(w http.ResponseWriter, r *http.Request) bool {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("orders_unavailable", "order ledger unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *AdminHandlers) referralsReady(w http.ResponseWriter, r *http.Request) bool {
	if h.referrals == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("referrals_unavailable", "referral service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

// pathParam returns the decoded URL parameter; promoter names may contain escaped spaces.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return strings.TrimSpace(decoded)
	}
	return strings.TrimSpace(raw)
}

func writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order ledger unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("orders_error", "failed to read order ledger", http.StatusInternalServerError))
	}
}

func writeReferralError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrReferralInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReferralDuplicate):
		httpx.WriteError(ctx, w, httpx.NewError("referral_exists", "referral code already exists", http.StatusConflict))
	case errors.Is(err, services.ErrReferralNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("referral_not_found", "referral not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReferralUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("referrals_unavailable", "referral store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("referrals_error", "failed to process referral request", http.StatusInternalServerError))
	}
}
