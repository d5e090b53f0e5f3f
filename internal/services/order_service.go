package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/bonaevents/storefront/internal/domain"
	"github.com/bonaevents/storefront/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the draft cannot be recorded.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderUnavailable indicates the ledger store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

const maxOrderTextLength = 256

// OrderServiceDeps wires the order ledger.
type OrderServiceDeps struct {
	Orders  repositories.OrderRepository
	Clock   func() time.Time
	Entropy io.Reader
	Logger  Logger
}

type orderService struct {
	orders repositories.OrderRepository
	now    func() time.Time
	logger Logger
	policy *bluemonday.Policy

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	last    time.Time
}

// NewOrderService constructs the ledger writer and reader.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	source := deps.Entropy
	if source == nil {
		source = rand.Reader
	}
	return &orderService{
		orders:  deps.Orders,
		now:     func() time.Time { return clock().UTC() },
		logger:  loggerOrNoop(deps.Logger),
		policy:  bluemonday.StrictPolicy(),
		entropy: ulid.Monotonic(source, 0),
	}, nil
}

// Write assigns the id and timestamp and persists the order. The timestamp never goes backwards
// for this writer even if the clock does.
func (s *orderService) Write(ctx context.Context, draft OrderDraft) (Order, error) {
	if !draft.Status.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, draft.Status)
	}
	if draft.Price.IsNegative() {
		return Order{}, fmt.Errorf("%w: price must not be negative", ErrOrderInvalidInput)
	}
	if draft.Quantity != nil && *draft.Quantity <= 0 {
		return Order{}, fmt.Errorf("%w: quantity must be positive", ErrOrderInvalidInput)
	}
	packageName := s.clean(draft.PackageName)
	if packageName == "" {
		return Order{}, fmt.Errorf("%w: package name is required", ErrOrderInvalidInput)
	}

	id, date, err := s.nextIdentity()
	if err != nil {
		return Order{}, fmt.Errorf("order service: allocate id: %w", err)
	}
	order := Order{
		ID:            id,
		PackageName:   packageName,
		Price:         draft.Price,
		CustomerName:  s.clean(draft.CustomerName),
		CustomerEmail: strings.TrimSpace(draft.CustomerEmail),
		CustomerPhone: s.clean(draft.CustomerPhone),
		Status:        draft.Status,
		Date:          date,
		ReferralCode:  strings.TrimSpace(draft.ReferralCode),
		Quantity:      draft.Quantity,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		s.logger(ctx, "orders.write.failed", map[string]any{"order": id, "status": string(order.Status), "error": err.Error()})
		return Order{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "orders.write", map[string]any{
		"order":    id,
		"status":   string(order.Status),
		"price":    order.Price.StringFixed(2),
		"referral": order.ReferralCode,
	})
	return order, nil
}

func (s *orderService) ListAll(ctx context.Context) ([]Order, error) {
	orders, err := s.orders.ListActive(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) ListByReferral(ctx context.Context, code string) ([]Order, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: referral code is required", ErrOrderInvalidInput)
	}
	orders, err := s.orders.ListActiveByReferral(ctx, code)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) SoftDeleteAll(ctx context.Context) (int, error) {
	count, err := s.orders.SoftDeleteAll(ctx, s.now())
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	s.logger(ctx, "orders.soft_delete", map[string]any{"count": count})
	return count, nil
}

// GroupByReferral buckets active orders by referral code; orders without one land in "direct".
// Group totals only count completed orders.
func (s *orderService) GroupByReferral(ctx context.Context) (map[string]ReferralGroup, error) {
	orders, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	groups := make(map[string]ReferralGroup)
	for _, order := range orders {
		key := order.ReferralCode
		if key == "" {
			key = domain.DirectReferralGroup
		}
		group, ok := groups[key]
		if !ok {
			group = ReferralGroup{Code: key, Total: decimal.Zero}
		}
		group.Orders = append(group.Orders, order)
		if order.Status == domain.OrderStatusCompleted {
			group.Total = group.Total.Add(order.Price)
		}
		groups[key] = group
	}
	return groups, nil
}

func (s *orderService) nextIdentity() (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return "", time.Time{}, err
	}
	return id.String(), now, nil
}

// clean strips markup and bounds length. StrictPolicy escapes what it keeps, so entities are
// decoded back to plain text.
func (s *orderService) clean(value string) string {
	value = html.UnescapeString(s.policy.Sanitize(strings.TrimSpace(value)))
	if len(value) > maxOrderTextLength {
		value = strings.ToValidUTF8(value[:maxOrderTextLength], "")
	}
	return strings.TrimSpace(value)
}

func (s *orderService) mapRepositoryError(err error) error {
	if repositories.IsUnavailable(err) {
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return err
}
