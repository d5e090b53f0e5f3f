package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bonaevents/storefront/internal/domain"
	"github.com/bonaevents/storefront/internal/platform/idempotency"
	"github.com/bonaevents/storefront/internal/services"
)

type stubCheckoutService struct {
	checkoutFn func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error)
	calls      int
	last       services.CheckoutCommand
}

func (s *stubCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	s.calls++
	s.last = cmd
	return s.checkoutFn(ctx, cmd)
}

func newCheckoutRouter(t *testing.T, checkout services.CheckoutService) (http.Handler, services.CartService) {
	t.Helper()
	store, _ := newTestSessionStore(t)
	carts := newTestCartService(t, store)
	router := NewRouter(
		WithCartRoutes(NewCartHandlers(carts).Routes),
		WithCheckoutRoutes(NewCheckoutHandlers(carts, checkout).Routes),
	)
	return router, carts
}

const checkoutBody = `{"customer":{"name":"Mario Rossi","email":"mario@example.com","phone":"+39 333"},"card":{"paymentMethodId":"pm_card_visa"}}`

func TestCheckoutHandlersCompleted(t *testing.T) {
	quantity := 1
	svc := &stubCheckoutService{
		checkoutFn: func(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{
				Status:      domain.OrderStatusCompleted,
				Attempt:     domain.PaymentAttempt{ID: "pi_1", Status: domain.PaymentStatusSucceeded},
				Amount:      decimal.NewFromInt(200),
				Description: "Pacchetto Premium (deposit)",
				Message:     services.MessageCompleted,
				Orders: []services.Order{
					{ID: "o1", PackageName: "Pacchetto Premium", Price: decimal.NewFromInt(100), Status: domain.OrderStatusCompleted, Quantity: &quantity},
					{ID: "o2", PackageName: "Pacchetto Premium", Price: decimal.NewFromInt(100), Status: domain.OrderStatusCompleted, Quantity: &quantity},
				},
			}, nil
		},
	}
	router, carts := newCheckoutRouter(t, svc)
	if _, err := carts.Add(context.Background(), "cart-1", "2", 2); err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts/cart-1/checkout", strings.NewReader(checkoutBody))
	req.Header.Set("Idempotency-Key", "attempt-42")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["status"] != "completed" || body["paymentIntentId"] != "pi_1" || body["amount"] != float64(200) {
		t.Fatalf("unexpected body %v", body)
	}
	if orders, _ := body["orders"].([]any); len(orders) != 2 {
		t.Fatalf("expected two orders, got %v", body["orders"])
	}

	if svc.last.SessionID != "cart-1" || svc.last.IdempotencyKey != "attempt-42" {
		t.Fatalf("unexpected command %+v", svc.last)
	}
	if !svc.last.OriginalAmount.Equal(decimal.NewFromInt(560)) {
		t.Fatalf("expected original amount 560, got %s", svc.last.OriginalAmount)
	}
	if len(svc.last.Lines) != 1 || svc.last.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected lines %+v", svc.last.Lines)
	}
	if svc.last.Customer.Email != "mario@example.com" || svc.last.Card.PaymentMethodID != "pm_card_visa" {
		t.Fatalf("unexpected customer/card %+v %+v", svc.last.Customer, svc.last.Card)
	}
}

func TestCheckoutHandlersOutcomeStatusCodes(t *testing.T) {
	cases := []struct {
		status domain.OrderStatus
		code   int
	}{
		{status: domain.OrderStatusProcessing, code: http.StatusAccepted},
		{status: domain.OrderStatusFailed, code: http.StatusPaymentRequired},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			svc := &stubCheckoutService{
				checkoutFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
					return services.CheckoutResult{Status: tc.status, Message: services.MessageUnreachable, LedgerErr: errors.New("firestore down")}, nil
				},
			}
			router, carts := newCheckoutRouter(t, svc)
			if _, err := carts.Add(context.Background(), "c", "1", 1); err != nil {
				t.Fatalf("seed cart: %v", err)
			}

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/carts/c/checkout", strings.NewReader(checkoutBody)))

			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["message"] != services.MessageUnreachable {
				t.Fatalf("unexpected message %v", body["message"])
			}
			if body["ledgerError"] == nil {
				t.Fatalf("expected ledger error to be surfaced")
			}
		})
	}
}

func TestCheckoutHandlersErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: fmt.Errorf("%w: Email failed on email", services.ErrCheckoutInvalidInput), status: http.StatusBadRequest, code: "invalid_request"},
		{name: "in flight", err: services.ErrCheckoutInFlight, status: http.StatusConflict, code: "checkout_in_progress"},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: "checkout_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCheckoutService{
				checkoutFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
					return services.CheckoutResult{}, tc.err
				},
			}
			router, carts := newCheckoutRouter(t, svc)
			if _, err := carts.Add(context.Background(), "c", "3", 1); err != nil {
				t.Fatalf("seed cart: %v", err)
			}

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/carts/c/checkout", strings.NewReader(checkoutBody)))

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if body := decodeBody(t, rr); body["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestCheckoutHandlersEmptyCart(t *testing.T) {
	svc := &stubCheckoutService{}
	router, _ := newCheckoutRouter(t, svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/carts/empty/checkout", strings.NewReader(checkoutBody)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("checkout must not run for an empty cart")
	}
}

func TestCheckoutHandlersReplayGuard(t *testing.T) {
	svc := &stubCheckoutService{
		checkoutFn: func(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{
				Status:  domain.OrderStatusProcessing,
				Attempt: domain.PaymentAttempt{ID: "pi_" + cmd.SessionID},
				Amount:  decimal.NewFromInt(100),
				Message: services.MessageProcessing,
			}, nil
		},
	}
	store, _ := newTestSessionStore(t)
	carts := newTestCartService(t, store)
	replayStore, err := idempotency.NewRedisStore(store.Client())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	replay := idempotency.Middleware(replayStore, idempotency.WithScope(CheckoutReplayScope))
	router := NewRouter(WithCheckoutRoutes(NewCheckoutHandlers(carts, svc, WithCheckoutReplay(replay)).Routes))
	for _, cart := range []string{"cart-1", "cart-2"} {
		if _, err := carts.Add(context.Background(), cart, "3", 1); err != nil {
			t.Fatalf("seed cart: %v", err)
		}
	}

	send := func(cart string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/carts/"+cart+"/checkout", strings.NewReader(checkoutBody))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "attempt-7")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send("cart-1")
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", first.Code, first.Body.String())
	}
	second := send("cart-1")
	if second.Code != http.StatusAccepted || second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replayed 202, got %d headers %v", second.Code, second.Header())
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body differs: %s vs %s", second.Body.String(), first.Body.String())
	}
	if svc.calls != 1 {
		t.Fatalf("expected one checkout for the repeated key, got %d", svc.calls)
	}

	other := send("cart-2")
	if other.Code != http.StatusAccepted || other.Header().Get("X-Idempotent-Replay") != "" {
		t.Fatalf("expected a fresh checkout for another cart, got %d", other.Code)
	}
	if svc.calls != 2 {
		t.Fatalf("expected two checkouts, got %d", svc.calls)
	}
}
