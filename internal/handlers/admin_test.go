package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bonaevents/storefront/internal/domain"
	"github.com/bonaevents/storefront/internal/platform/auth"
	"github.com/bonaevents/storefront/internal/services"
)

type stubOrderService struct {
	orders      []services.Order
	deleted     int
	deleteCalls int
	byReferral  map[string][]services.Order
}

func (s *stubOrderService) Write(context.Context, services.OrderDraft) (services.Order, error) {
	return services.Order{}, fmt.Errorf("write not expected")
}

func (s *stubOrderService) ListAll(context.Context) ([]services.Order, error) { return s.orders, nil }

func (s *stubOrderService) ListByReferral(_ context.Context, code string) ([]services.Order, error) {
	return s.byReferral[code], nil
}

func (s *stubOrderService) SoftDeleteAll(context.Context) (int, error) {
	s.deleteCalls++
	return s.deleted, nil
}

func (s *stubOrderService) GroupByReferral(context.Context) (map[string]services.ReferralGroup, error) {
	return map[string]services.ReferralGroup{
		domain.DirectReferralGroup: {Code: domain.DirectReferralGroup, Orders: s.orders, Total: decimal.NewFromInt(100)},
		"MARCO10":                  {Code: "MARCO10", Total: decimal.Zero},
	}, nil
}

type stubAdminReferralService struct {
	services.ReferralService

	created   services.CreateReferralCommand
	createErr error
	active    map[string]bool
}

func (s *stubAdminReferralService) Create(_ context.Context, cmd services.CreateReferralCommand) (services.Referral, error) {
	s.created = cmd
	if s.createErr != nil {
		return services.Referral{}, s.createErr
	}
	return services.Referral{Code: strings.ToUpper(cmd.Code), Name: cmd.Name, Commission: 10, Active: true}, nil
}

func (s *stubAdminReferralService) List(context.Context) ([]services.Referral, error) {
	return []services.Referral{{Code: "MARCO10", Name: "Marco", Commission: 10, Active: true}}, nil
}

func (s *stubAdminReferralService) SetActive(_ context.Context, code string, active bool) (services.Referral, error) {
	if code != "MARCO10" {
		return services.Referral{}, fmt.Errorf("%w: %s", services.ErrReferralNotFound, code)
	}
	if s.active == nil {
		s.active = map[string]bool{}
	}
	s.active[code] = active
	return services.Referral{Code: code, Name: "Marco", Commission: 10, Active: active}, nil
}

func (s *stubAdminReferralService) Stats(context.Context) (map[string]services.ReferralStats, error) {
	return map[string]services.ReferralStats{
		"MARCO10": {OrdersCount: 3, TotalSales: decimal.NewFromInt(200), TotalCommission: decimal.NewFromInt(20)},
	}, nil
}

func (s *stubAdminReferralService) PromoterDashboard(_ context.Context, name string) (services.PromoterDashboard, error) {
	if name != "Marco Bianchi" {
		return services.PromoterDashboard{}, fmt.Errorf("%w: %s", services.ErrReferralNotFound, name)
	}
	return services.PromoterDashboard{
		Referral: services.Referral{Code: "MARCO10", Name: name, Commission: 10, Active: true},
		Stats:    services.ReferralStats{OrdersCount: 1, TotalSales: decimal.NewFromInt(100), TotalCommission: decimal.NewFromInt(10)},
	}, nil
}

type adminFixture struct {
	router    http.Handler
	orders    *stubOrderService
	referrals *stubAdminReferralService
	token     string
}

func newAdminFixture(t *testing.T, password string) *adminFixture {
	t.Helper()
	gate, err := auth.NewAdminGate(password, "test-signing-secret", auth.WithSessionTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewAdminGate: %v", err)
	}
	orders := &stubOrderService{
		orders:     []services.Order{{ID: "o1", PackageName: "Pacchetto Base", Price: decimal.NewFromInt(100), Status: domain.OrderStatusCompleted}},
		deleted:    1,
		byReferral: map[string][]services.Order{"MARCO10": {{ID: "o2", ReferralCode: "MARCO10", Status: domain.OrderStatusFailed}}},
	}
	referrals := &stubAdminReferralService{}
	f := &adminFixture{
		router:    NewRouter(WithAdminRoutes(NewAdminHandlers(gate, orders, referrals).Routes)),
		orders:    orders,
		referrals: referrals,
	}
	if password != "" {
		session, err := gate.Login(password)
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		f.token = session.Token
	}
	return f
}

func (f *adminFixture) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestAdminHandlersLogin(t *testing.T) {
	f := newAdminFixture(t, "s3cret")

	rr := f.do(http.MethodPost, "/api/v1/admin/login", `{"password":"s3cret"}`, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if token, _ := body["token"].(string); token == "" {
		t.Fatalf("expected token, got %v", body)
	}

	rr = f.do(http.MethodPost, "/api/v1/admin/login", `{"password":"wrong"}`, false)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAdminHandlersLoginUnconfigured(t *testing.T) {
	f := newAdminFixture(t, "")

	rr := f.do(http.MethodPost, "/api/v1/admin/login", `{"password":""}`, false)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "admin_unconfigured" {
		t.Fatalf("unexpected error %v", body["error"])
	}
}

func TestAdminHandlersLoginRateLimited(t *testing.T) {
	gate, err := auth.NewAdminGate("s3cret", "test-signing-secret")
	if err != nil {
		t.Fatalf("NewAdminGate: %v", err)
	}
	router := NewRouter(WithAdminRoutes(NewAdminHandlers(gate, &stubOrderService{}, &stubAdminReferralService{}, WithLoginRateLimit(2, time.Minute)).Routes))

	attempt := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", strings.NewReader(`{"password":"guess"}`))
		req.RemoteAddr = remote
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := attempt("203.0.113.7:5000"); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rr.Code)
		}
	}
	rr := attempt("203.0.113.7:5001")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("unexpected Retry-After %q", rr.Header().Get("Retry-After"))
	}
	if body := decodeBody(t, rr); body["error"] != "too_many_attempts" {
		t.Fatalf("unexpected error %v", body["error"])
	}

	if rr := attempt("198.51.100.2:5000"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected another client to be unaffected, got %d", rr.Code)
	}
}

func TestAdminHandlersLoginRateLimitIgnoresSpoofedForwarding(t *testing.T) {
	gate, err := auth.NewAdminGate("s3cret", "test-signing-secret")
	if err != nil {
		t.Fatalf("NewAdminGate: %v", err)
	}
	router := NewRouter(WithAdminRoutes(NewAdminHandlers(gate, &stubOrderService{}, &stubAdminReferralService{}, WithLoginRateLimit(2, time.Minute)).Routes))

	throttled := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", strings.NewReader(`{"password":"guess"}`))
		req.RemoteAddr = "203.0.113.7:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.1.%d", i))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			throttled++
		}
	}
	if throttled != 18 {
		t.Fatalf("expected rotating forwarded headers to stay throttled, got %d throttled", throttled)
	}
}

func TestAdminHandlersLoginRateLimitBehindTrustedProxy(t *testing.T) {
	gate, err := auth.NewAdminGate("s3cret", "test-signing-secret")
	if err != nil {
		t.Fatalf("NewAdminGate: %v", err)
	}
	admin := NewAdminHandlers(gate, &stubOrderService{}, &stubAdminReferralService{},
		WithLoginRateLimit(1, time.Minute),
		WithTrustedProxies(netip.MustParsePrefix("10.0.0.0/8")),
	)
	router := NewRouter(WithAdminRoutes(admin.Routes))

	attempt := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", strings.NewReader(`{"password":"guess"}`))
		req.RemoteAddr = "10.1.2.3:443"
		req.Header.Set("X-Forwarded-For", forwarded)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := attempt("198.51.100.9"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code := attempt("203.0.113.50"); code != http.StatusUnauthorized {
		t.Fatalf("expected a different client behind the proxy to get its own budget, got %d", code)
	}
	// A client-prepended hop does not escape the budget of the address the proxy saw.
	if code := attempt("192.0.2.77, 198.51.100.9"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestClientAddress(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	cases := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{name: "untrusted peer", remote: "203.0.113.7:5000", forwarded: "10.0.0.1", want: "203.0.113.7"},
		{name: "trusted peer", remote: "10.0.0.2:80", forwarded: "198.51.100.1", want: "198.51.100.1"},
		{name: "proxy chain", remote: "10.0.0.2:80", forwarded: "192.0.2.1, 198.51.100.1, 10.0.0.3", want: "198.51.100.1"},
		{name: "garbage hop", remote: "10.0.0.2:80", forwarded: "nonsense", want: "10.0.0.2"},
		{name: "no port", remote: "198.51.100.4", want: "198.51.100.4"},
		{name: "mapped ipv4", remote: "[::ffff:198.51.100.5]:80", want: "198.51.100.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", nil)
			req.RemoteAddr = tc.remote
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if got := clientAddress(req, trusted); got != tc.want {
				t.Fatalf("clientAddress = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSimpleRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(1, time.Minute, func() time.Time { return now })

	if !limiter.Allow("a") {
		t.Fatal("first event should pass")
	}
	if limiter.Allow("a") {
		t.Fatal("second event inside the window should be refused")
	}
	now = now.Add(61 * time.Second)
	if !limiter.Allow("a") {
		t.Fatal("window should have reset")
	}
	if newSimpleRateLimiter(0, time.Minute, nil) != nil {
		t.Fatal("zero limit should disable the limiter")
	}
}

func TestAdminHandlersRequireToken(t *testing.T) {
	f := newAdminFixture(t, "s3cret")

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/admin/orders"},
		{http.MethodDelete, "/api/v1/admin/orders"},
		{http.MethodGet, "/api/v1/admin/referrals"},
		{http.MethodGet, "/api/v1/admin/promoters/Marco"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			rr := f.do(p.method, p.path, "", false)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}
	if f.orders.deleteCalls != 0 {
		t.Fatalf("soft delete must not run without a token")
	}
}

func TestAdminHandlersOrders(t *testing.T) {
	f := newAdminFixture(t, "s3cret")

	rr := f.do(http.MethodGet, "/api/v1/admin/orders", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	orders, _ := decodeBody(t, rr)["orders"].([]any)
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %v", orders)
	}

	rr = f.do(http.MethodGet, "/api/v1/admin/orders/by-referral", "", true)
	groups, _ := decodeBody(t, rr)["groups"].([]any)
	if len(groups) != 2 {
		t.Fatalf("expected two groups, got %v", groups)
	}
	if last, _ := groups[1].(map[string]any); last["code"] != domain.DirectReferralGroup {
		t.Fatalf("expected direct group last, got %v", groups)
	}

	rr = f.do(http.MethodGet, "/api/v1/admin/referrals/MARCO10/orders", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if orders, _ := decodeBody(t, rr)["orders"].([]any); len(orders) != 1 {
		t.Fatalf("expected one referral order, got %v", orders)
	}

	rr = f.do(http.MethodDelete, "/api/v1/admin/orders", "", true)
	if rr.Code != http.StatusOK || decodeBody(t, rr)["deleted"] != float64(1) {
		t.Fatalf("unexpected soft delete response %d %s", rr.Code, rr.Body.String())
	}
	if f.orders.deleteCalls != 1 {
		t.Fatalf("expected one soft delete, got %d", f.orders.deleteCalls)
	}
}

func TestAdminHandlersOrdersPagination(t *testing.T) {
	f := newAdminFixture(t, "s3cret")
	f.orders.orders = []services.Order{
		{ID: "o3", Status: domain.OrderStatusCompleted, ReferralCode: "MARCO10"},
		{ID: "o2", Status: domain.OrderStatusFailed},
		{ID: "o1", Status: domain.OrderStatusCompleted},
	}

	rr := f.do(http.MethodGet, "/api/v1/admin/orders?pageSize=2", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	orders, _ := body["orders"].([]any)
	next, _ := body["nextPageToken"].(string)
	if len(orders) != 2 || next == "" || body["total"] != float64(3) {
		t.Fatalf("unexpected first page %v", body)
	}

	rr = f.do(http.MethodGet, "/api/v1/admin/orders?pageSize=2&pageToken="+next, "", true)
	body = decodeBody(t, rr)
	orders, _ = body["orders"].([]any)
	if len(orders) != 1 || body["nextPageToken"] != nil {
		t.Fatalf("unexpected last page %v", body)
	}
	if last, _ := orders[0].(map[string]any); last["id"] != "o1" {
		t.Fatalf("expected oldest order last, got %v", orders)
	}

	rr = f.do(http.MethodGet, "/api/v1/admin/orders?filter=status==completed", "", true)
	body = decodeBody(t, rr)
	if orders, _ := body["orders"].([]any); len(orders) != 2 {
		t.Fatalf("expected two completed orders, got %v", body)
	}

	rr = f.do(http.MethodGet, "/api/v1/admin/orders?filter=customerEmail==x", "", true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown filter field, got %d", rr.Code)
	}
	rr = f.do(http.MethodGet, "/api/v1/admin/orders?pageSize=zero", "", true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad page size, got %d", rr.Code)
	}
}

func TestAdminHandlersReferrals(t *testing.T) {
	f := newAdminFixture(t, "s3cret")

	rr := f.do(http.MethodPost, "/api/v1/admin/referrals", `{"code":"anna5","name":"Anna","commission":7.5}`, true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if f.referrals.created.Commission == nil || *f.referrals.created.Commission != 7.5 {
		t.Fatalf("expected commission to be forwarded, got %+v", f.referrals.created)
	}

	f.referrals.createErr = fmt.Errorf("%w: ANNA5", services.ErrReferralDuplicate)
	rr = f.do(http.MethodPost, "/api/v1/admin/referrals", `{"code":"anna5","name":"Anna"}`, true)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}

	rr = f.do(http.MethodPatch, "/api/v1/admin/referrals/MARCO10", `{"active":false}`, true)
	if rr.Code != http.StatusOK || f.referrals.active["MARCO10"] {
		t.Fatalf("expected referral to be deactivated, got %d", rr.Code)
	}
	rr = f.do(http.MethodPatch, "/api/v1/admin/referrals/NOPE", `{"active":true}`, true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr = f.do(http.MethodPatch, "/api/v1/admin/referrals/MARCO10", `{}`, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = f.do(http.MethodGet, "/api/v1/admin/referrals/stats", "", true)
	stats, _ := decodeBody(t, rr)["stats"].(map[string]any)
	marco, _ := stats["MARCO10"].(map[string]any)
	if marco["ordersCount"] != float64(3) || marco["totalCommission"] != float64(20) {
		t.Fatalf("unexpected stats %v", stats)
	}

	rr = f.do(http.MethodGet, "/api/v1/admin/referrals", "", true)
	if referrals, _ := decodeBody(t, rr)["referrals"].([]any); len(referrals) != 1 {
		t.Fatalf("expected one referral, got %v", referrals)
	}
}

func TestAdminHandlersPromoterDashboard(t *testing.T) {
	f := newAdminFixture(t, "s3cret")

	rr := f.do(http.MethodGet, "/api/v1/admin/promoters/Marco%20Bianchi", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	referral, _ := body["referral"].(map[string]any)
	if referral["code"] != "MARCO10" {
		t.Fatalf("unexpected dashboard %v", body)
	}

	rr = f.do(http.MethodGet, "/api/v1/admin/promoters/Nobody", "", true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
