package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"github.com/bonaevents/storefront/internal/domain"
	pfirestore "github.com/bonaevents/storefront/internal/platform/firestore"
	"github.com/bonaevents/storefront/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository stores the order ledger in the orders collection.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order ledger.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// Insert creates the order document. Ids are never reused, so an existing document is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	return r.base.Create(ctx, id, encodeOrder(order))
}

// ListActive returns non-deleted orders, newest first.
func (r *OrderRepository) ListActive(ctx context.Context) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("date", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	return activeOrders(docs), nil
}

// ListActiveByReferral filters by referral code server-side and sorts locally so no composite
// index is needed.
func (r *OrderRepository) ListActiveByReferral(ctx context.Context, code string) ([]domain.Order, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("order repository: referral code is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("referralCode", "==", code)
	})
	if err != nil {
		return nil, err
	}
	orders := activeOrders(docs)
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].Date.After(orders[j].Date)
	})
	return orders, nil
}

// SoftDeleteAll flags every active order as deleted. Documents are merged, never removed.
func (r *OrderRepository) SoftDeleteAll(ctx context.Context, deletedAt time.Time) (int, error) {
	docs, err := r.base.Query(ctx, nil)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.Data.Deleted {
			continue
		}
		ids = append(ids, doc.ID)
	}
	if err := r.base.MergeAll(ctx, ids, map[string]any{
		"deleted":   true,
		"deletedAt": deletedAt.UTC(),
	}); err != nil {
		return 0, err
	}
	return len(ids), nil
}

type orderDocument struct {
	PackageName   string     `firestore:"packageName"`
	Price         float64    `firestore:"price"`
	CustomerName  string     `firestore:"customerName"`
	CustomerEmail string     `firestore:"customerEmail"`
	CustomerPhone string     `firestore:"customerPhone"`
	Status        string     `firestore:"status"`
	Date          time.Time  `firestore:"date"`
	ReferralCode  string     `firestore:"referralCode,omitempty"`
	Quantity      *int       `firestore:"quantity,omitempty"`
	Deleted       bool       `firestore:"deleted"`
	DeletedAt     *time.Time `firestore:"deletedAt,omitempty"`
}

func encodeOrder(order domain.Order) orderDocument {
	return orderDocument{
		PackageName:   order.PackageName,
		Price:         order.Price.InexactFloat64(),
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		CustomerPhone: order.CustomerPhone,
		Status:        string(order.Status),
		Date:          order.Date.UTC(),
		ReferralCode:  order.ReferralCode,
		Quantity:      order.Quantity,
		Deleted:       order.Deleted,
		DeletedAt:     order.DeletedAt,
	}
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	return domain.Order{
		ID:            id,
		PackageName:   doc.PackageName,
		Price:         decimal.NewFromFloat(doc.Price),
		CustomerName:  doc.CustomerName,
		CustomerEmail: doc.CustomerEmail,
		CustomerPhone: doc.CustomerPhone,
		Status:        domain.OrderStatus(doc.Status),
		Date:          doc.Date.UTC(),
		ReferralCode:  doc.ReferralCode,
		Quantity:      doc.Quantity,
		Deleted:       doc.Deleted,
		DeletedAt:     doc.DeletedAt,
	}
}

func activeOrders(docs []pfirestore.Document[orderDocument]) []domain.Order {
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		if doc.Data.Deleted {
			continue
		}
		orders = append(orders, decodeOrder(doc.ID, doc.Data))
	}
	return orders
}
