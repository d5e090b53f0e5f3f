// Package paymentclient talks to the payment gateway adapter over HTTP. Calls pass through a
// circuit breaker so a dead adapter fails fast with payments.ErrGatewayUnreachable instead of
// hanging every checkout.
package paymentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/bonaevents/storefront/internal/domain"
	"github.com/bonaevents/storefront/internal/payments"
	"github.com/bonaevents/storefront/internal/services"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultFailureThreshold = 3
	defaultOpenTimeout      = 30 * time.Second
	maxResponseBytes        = 64 << 10
)

// Config configures the adapter client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// FailureThreshold is the number of consecutive transport failures that open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before letting a trial request through.
	OpenTimeout   time.Duration
	OnStateChange func(from, to gobreaker.State)
}

// Client implements services.PaymentAdapter against a remote adapter.
type Client struct {
	base    *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

type createRequest struct {
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency,omitempty"`
	Description string      `json:"description,omitempty"`
	Email       string      `json:"email,omitempty"`
}

type createResponse struct {
	ID                string `json:"id"`
	ClientSecret      string `json:"clientSecret"`
	Status            string `json:"status"`
	IsFreeTransaction bool   `json:"isFreeTransaction"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusError is an answer from the adapter; it never trips the breaker unless it is a 5xx.
type statusError struct {
	status int
	body   errorResponse
}

func (e *statusError) Error() string {
	return fmt.Sprintf("adapter responded %d: %s", e.status, e.body.Error)
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("paymentclient: invalid base url %q", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}

	settings := gobreaker.Settings{
		Name:        "payment-adapter",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *statusError
			if errors.As(err, &se) {
				return se.status < http.StatusInternalServerError
			}
			return false
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			cfg.OnStateChange(from, to)
		}
	}

	return &Client{
		base:    base,
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}, nil
}

// CreateIntent asks the adapter for a payment intent. The amount travels in major units.
func (c *Client) CreateIntent(ctx context.Context, req services.PaymentRequest) (payments.Intent, error) {
	body, err := json.Marshal(createRequest{
		Amount:      json.Number(req.Amount.String()),
		Currency:    req.Currency,
		Description: req.Description,
		Email:       req.Email,
	})
	if err != nil {
		return payments.Intent{}, fmt.Errorf("paymentclient: encode request: %w", err)
	}

	headers := http.Header{"Content-Type": []string{"application/json"}}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		headers.Set("Idempotency-Key", key)
	}
	data, err := c.do(ctx, http.MethodPost, "/create", bytes.NewReader(body), headers)
	if err != nil {
		return payments.Intent{}, mapError("create payment intent", err)
	}

	var resp createResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return payments.Intent{}, fmt.Errorf("paymentclient: decode create response: %w", err)
	}
	intent := payments.Intent{
		ID:                resp.ID,
		ClientSecret:      resp.ClientSecret,
		GatewayStatus:     resp.Status,
		IsFreeTransaction: resp.IsFreeTransaction || resp.ClientSecret == payments.FreeClientSecret,
	}
	if intent.IsFreeTransaction {
		intent.Status = domain.PaymentStatusSucceeded
	} else if resp.Status != "" {
		intent.Status = payments.NormalizeStatus(resp.Status)
	}
	return intent, nil
}

// GetStatus returns the raw gateway status for an intent id.
func (c *Client) GetStatus(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", payments.ErrIntentNotFound
	}
	data, err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return "", mapError("retrieve payment intent", err)
	}
	var resp statusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("paymentclient: decode status response: %w", err)
	}
	return resp.Status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers http.Header) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header[k] = v
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", payments.ErrGatewayUnreachable, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %w", payments.ErrGatewayUnreachable, err)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			se := &statusError{status: resp.StatusCode}
			_ = json.Unmarshal(data, &se.body)
			return nil, se
		}
		return data, nil
	})
}

func mapError(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &payments.GatewayError{Op: op, Err: fmt.Errorf("%w: %w", payments.ErrGatewayUnreachable, err)}
	}
	var se *statusError
	if !errors.As(err, &se) {
		return &payments.GatewayError{Op: op, Err: err}
	}
	message := se.body.Message
	if message == "" {
		message = se.body.Error
	}
	switch {
	case se.status == http.StatusNotFound && op == "retrieve payment intent":
		return &payments.GatewayError{Op: op, Message: message, Err: fmt.Errorf("%w: %w", payments.ErrIntentNotFound, se)}
	case se.status == http.StatusInternalServerError && se.body.Error == "payment_gateway_unconfigured":
		return &payments.GatewayError{Op: op, Message: message, Err: fmt.Errorf("%w: %w", payments.ErrGatewayUnconfigured, se)}
	}
	return &payments.GatewayError{Op: op, Message: message, Err: se}
}
