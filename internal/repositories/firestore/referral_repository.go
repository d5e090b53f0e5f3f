package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bonaevents/storefront/internal/domain"
	pfirestore "github.com/bonaevents/storefront/internal/platform/firestore"
	"github.com/bonaevents/storefront/internal/repositories"
)

const referralsCollection = "referrals"

// ReferralRepository stores referral codes keyed by the code itself.
type ReferralRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[referralDocument]
}

var _ repositories.ReferralRepository = (*ReferralRepository)(nil)

// NewReferralRepository constructs a Firestore-backed referral repository.
func NewReferralRepository(provider *pfirestore.Provider) (*ReferralRepository, error) {
	if provider == nil {
		return nil, errors.New("referral repository requires firestore provider")
	}
	return &ReferralRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[referralDocument](provider, referralsCollection, nil, nil),
	}, nil
}

// Create writes the referral inside a transaction. A document already holding the code yields a
// conflict error.
func (r *ReferralRepository) Create(ctx context.Context, referral domain.Referral) error {
	code := strings.TrimSpace(referral.Code)
	if code == "" {
		return errors.New("referral repository: code is required")
	}
	docRef, err := r.base.DocumentRef(ctx, code)
	if err != nil {
		return err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(docRef); err == nil {
			return status.Error(codes.AlreadyExists, "referral code already exists")
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		return r.base.CreateTx(tx, docRef, encodeReferral(referral))
	})
	if err != nil {
		return pfirestore.WrapError("referrals.create", err)
	}
	return nil
}

// FindByCode looks the referral up by document id.
func (r *ReferralRepository) FindByCode(ctx context.Context, code string) (domain.Referral, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(code))
	if err != nil {
		return domain.Referral{}, err
	}
	return decodeReferral(doc.ID, doc.Data), nil
}

// FindByName returns the first referral whose promoter name matches exactly.
func (r *ReferralRepository) FindByName(ctx context.Context, name string) (domain.Referral, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Referral{}, &repositories.NotFoundError{Entity: "referral", Key: name}
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("name", "==", name).Limit(1)
	})
	if err != nil {
		return domain.Referral{}, err
	}
	if len(docs) == 0 {
		return domain.Referral{}, &repositories.NotFoundError{Entity: "referral", Key: name}
	}
	return decodeReferral(docs[0].ID, docs[0].Data), nil
}

// List returns referrals, newest first.
func (r *ReferralRepository) List(ctx context.Context) ([]domain.Referral, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	referrals := make([]domain.Referral, 0, len(docs))
	for _, doc := range docs {
		referrals = append(referrals, decodeReferral(doc.ID, doc.Data))
	}
	return referrals, nil
}

// Update rewrites the mutable fields. The code is immutable because it is the document id.
func (r *ReferralRepository) Update(ctx context.Context, referral domain.Referral) error {
	return r.base.Update(ctx, strings.TrimSpace(referral.Code), []firestore.Update{
		{Path: "name", Value: referral.Name},
		{Path: "commission", Value: referral.Commission},
		{Path: "active", Value: referral.Active},
	})
}

type referralDocument struct {
	Code       string    `firestore:"code"`
	Name       string    `firestore:"name"`
	Commission float64   `firestore:"commission"`
	Active     bool      `firestore:"active"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func encodeReferral(referral domain.Referral) referralDocument {
	return referralDocument{
		Code:       referral.Code,
		Name:       referral.Name,
		Commission: referral.Commission,
		Active:     referral.Active,
		CreatedAt:  referral.CreatedAt.UTC(),
	}
}

func decodeReferral(id string, doc referralDocument) domain.Referral {
	code := doc.Code
	if code == "" {
		code = id
	}
	return domain.Referral{
		Code:       code,
		Name:       doc.Name,
		Commission: doc.Commission,
		Active:     doc.Active,
		CreatedAt:  doc.CreatedAt.UTC(),
	}
}
