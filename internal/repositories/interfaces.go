package repositories

import (
	"context"
	"time"

	"github.com/bonaevents/storefront/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository is the append-only order ledger.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// ListActive returns orders that are not soft-deleted, newest first.
	ListActive(ctx context.Context) ([]domain.Order, error)
	// ListActiveByReferral returns the non-deleted orders carrying code, newest first.
	ListActiveByReferral(ctx context.Context, code string) ([]domain.Order, error)
	// SoftDeleteAll flags every active order as deleted and returns how many were flagged.
	SoftDeleteAll(ctx context.Context, deletedAt time.Time) (int, error)
}

// ReferralRepository persists referral codes keyed by code.
type ReferralRepository interface {
	// Create fails with a conflict error when the code already exists.
	Create(ctx context.Context, referral domain.Referral) error
	FindByCode(ctx context.Context, code string) (domain.Referral, error)
	FindByName(ctx context.Context, name string) (domain.Referral, error)
	List(ctx context.Context) ([]domain.Referral, error)
	Update(ctx context.Context, referral domain.Referral) error
}

// HealthRepository reports dependency health for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// IsNotFound reports whether err is a repository not-found error.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return asRepositoryError(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a repository conflict error.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return asRepositoryError(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a transient repository outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return asRepositoryError(err, &repoErr) && repoErr.IsUnavailable()
}
