package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bonaevents/storefront/internal/domain"
	"github.com/bonaevents/storefront/internal/platform/localstore"
	"github.com/bonaevents/storefront/internal/repositories"
)

const (
	// ReferralSessionKey is where the captured code lives in the session store.
	ReferralSessionKey = "referralCode"
	// ReferralQueryParam is the entry URL parameter carrying a referral code.
	ReferralQueryParam = "ref"

	defaultReferralCommission = 10.0
)

var (
	// ErrReferralInvalidInput indicates a malformed create or update request.
	ErrReferralInvalidInput = errors.New("referral: invalid input")
	// ErrReferralDuplicate indicates the code is already taken.
	ErrReferralDuplicate = errors.New("referral: code already exists")
	// ErrReferralNotFound indicates no referral matches the lookup.
	ErrReferralNotFound = errors.New("referral: not found")
	// ErrReferralUnavailable indicates the referral store could not be reached.
	ErrReferralUnavailable = errors.New("referral: unavailable")
)

// CreateReferralCommand registers a promoter code. A nil commission means the default of 10%.
type CreateReferralCommand struct {
	Code       string   `validate:"required,max=64,excludesall=/"`
	Name       string   `validate:"required,max=120"`
	Commission *float64 `validate:"omitempty,gte=0,lte=100"`
}

// ReferralServiceDeps wires the referral service.
type ReferralServiceDeps struct {
	Referrals repositories.ReferralRepository
	Orders    OrderService
	// Sessions holds captured codes. Admin-only deployments may leave it nil.
	Sessions localstore.Store
	Clock    func() time.Time
	Logger   Logger
}

type referralService struct {
	referrals repositories.ReferralRepository
	orders    OrderService
	sessions  localstore.Store
	now       func() time.Time
	logger    Logger
	validate  *validator.Validate
	upper     cases.Caser
}

// NewReferralService constructs the referral service.
func NewReferralService(deps ReferralServiceDeps) (ReferralService, error) {
	if deps.Referrals == nil {
		return nil, errors.New("referral service: referral repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("referral service: order service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &referralService{
		referrals: deps.Referrals,
		orders:    deps.Orders,
		sessions:  deps.Sessions,
		now:       func() time.Time { return clock().UTC() },
		logger:    loggerOrNoop(deps.Logger),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		upper:     cases.Upper(language.Und),
	}, nil
}

// ExtractCode returns the ref query parameter of the entry URL, if any.
func (s *referralService) ExtractCode(entryURL string) (string, bool) {
	entryURL = strings.TrimSpace(entryURL)
	if entryURL == "" {
		return "", false
	}
	parsed, err := url.Parse(entryURL)
	if err != nil {
		return "", false
	}
	code := strings.TrimSpace(parsed.Query().Get(ReferralQueryParam))
	return code, code != ""
}

// Validate looks the code up exactly as given. Lookup failures are treated as absent.
func (s *referralService) Validate(ctx context.Context, code string) (Referral, bool) {
	if code == "" {
		return Referral{}, false
	}
	referral, err := s.referrals.FindByCode(ctx, code)
	if err != nil {
		if !repositories.IsNotFound(err) {
			s.logger(ctx, "referrals.validate.failed", map[string]any{"code": code, "error": err.Error()})
		}
		return Referral{}, false
	}
	if !referral.Active || referral.Code != code {
		return Referral{}, false
	}
	return referral, true
}

// Capture persists a valid code from the entry URL. Invalid or missing codes leave any
// previously captured code in place.
func (s *referralService) Capture(ctx context.Context, session, entryURL string) (string, bool, error) {
	if s.sessions == nil {
		return "", false, errors.New("referral service: session store not configured")
	}
	session = strings.TrimSpace(session)
	if session == "" {
		return "", false, fmt.Errorf("%w: session is required", ErrReferralInvalidInput)
	}
	code, ok := s.ExtractCode(entryURL)
	if !ok {
		return "", false, nil
	}
	referral, ok := s.Validate(ctx, code)
	if !ok {
		s.logger(ctx, "referrals.capture.rejected", map[string]any{"session": session, "code": code})
		return "", false, nil
	}
	if err := s.sessions.Set(ctx, session, ReferralSessionKey, []byte(referral.Code)); err != nil {
		return "", false, fmt.Errorf("referral service: persist code: %w", err)
	}
	s.logger(ctx, "referrals.capture", map[string]any{"session": session, "code": referral.Code})
	return referral.Code, true, nil
}

// Current returns the captured code for the session, or "" when none was captured.
func (s *referralService) Current(ctx context.Context, session string) (string, error) {
	if s.sessions == nil {
		return "", nil
	}
	raw, err := s.sessions.Get(ctx, strings.TrimSpace(session), ReferralSessionKey)
	if errors.Is(err, localstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("referral service: load code: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (s *referralService) Create(ctx context.Context, cmd CreateReferralCommand) (Referral, error) {
	cmd.Code = s.upper.String(strings.TrimSpace(cmd.Code))
	cmd.Name = strings.TrimSpace(cmd.Name)
	if err := s.validate.Struct(cmd); err != nil {
		return Referral{}, fmt.Errorf("%w: %s", ErrReferralInvalidInput, describeValidation(err))
	}
	commission := defaultReferralCommission
	if cmd.Commission != nil {
		commission = *cmd.Commission
	}

	referral := Referral{
		Code:       cmd.Code,
		Name:       cmd.Name,
		Commission: commission,
		Active:     true,
		CreatedAt:  s.now(),
	}
	if err := s.referrals.Create(ctx, referral); err != nil {
		switch {
		case repositories.IsConflict(err):
			return Referral{}, fmt.Errorf("%w: %s", ErrReferralDuplicate, referral.Code)
		case repositories.IsUnavailable(err):
			return Referral{}, fmt.Errorf("%w: %v", ErrReferralUnavailable, err)
		}
		return Referral{}, err
	}
	s.logger(ctx, "referrals.create", map[string]any{"code": referral.Code, "commission": commission})
	return referral, nil
}

func (s *referralService) List(ctx context.Context) ([]Referral, error) {
	referrals, err := s.referrals.List(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return referrals, nil
}

func (s *referralService) SetActive(ctx context.Context, code string, active bool) (Referral, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Referral{}, fmt.Errorf("%w: code is required", ErrReferralInvalidInput)
	}
	referral, err := s.referrals.FindByCode(ctx, code)
	if err != nil {
		return Referral{}, s.mapRepositoryError(err)
	}
	if referral.Active == active {
		return referral, nil
	}
	referral.Active = active
	if err := s.referrals.Update(ctx, referral); err != nil {
		return Referral{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "referrals.set_active", map[string]any{"code": code, "active": active})
	return referral, nil
}

// Stats computes ledger totals for every known referral, including codes without orders.
func (s *referralService) Stats(ctx context.Context) (map[string]ReferralStats, error) {
	referrals, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := s.orders.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string][]Order)
	for _, order := range orders {
		if order.ReferralCode != "" {
			byCode[order.ReferralCode] = append(byCode[order.ReferralCode], order)
		}
	}
	stats := make(map[string]ReferralStats, len(referrals))
	for _, referral := range referrals {
		stats[referral.Code] = computeReferralStats(referral, byCode[referral.Code])
	}
	return stats, nil
}

// PromoterDashboard resolves a promoter by name and returns their code, orders and totals.
func (s *referralService) PromoterDashboard(ctx context.Context, name string) (PromoterDashboard, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return PromoterDashboard{}, fmt.Errorf("%w: name is required", ErrReferralInvalidInput)
	}
	referral, err := s.referrals.FindByName(ctx, name)
	if err != nil {
		return PromoterDashboard{}, s.mapRepositoryError(err)
	}
	orders, err := s.orders.ListByReferral(ctx, referral.Code)
	if err != nil {
		return PromoterDashboard{}, err
	}
	return PromoterDashboard{
		Referral: referral,
		Orders:   orders,
		Stats:    computeReferralStats(referral, orders),
	}, nil
}

func computeReferralStats(referral Referral, orders []Order) ReferralStats {
	stats := ReferralStats{
		OrdersCount:     len(orders),
		TotalSales:      decimal.Zero,
		TotalCommission: decimal.Zero,
	}
	for _, order := range orders {
		if order.Status == domain.OrderStatusCompleted {
			stats.TotalSales = stats.TotalSales.Add(order.Price)
		}
	}
	stats.TotalCommission = stats.TotalSales.
		Mul(decimal.NewFromFloat(referral.Commission)).
		Div(decimal.NewFromInt(100))
	return stats
}

func (s *referralService) mapRepositoryError(err error) error {
	switch {
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrReferralNotFound, err)
	case repositories.IsUnavailable(err):
		return fmt.Errorf("%w: %v", ErrReferralUnavailable, err)
	}
	return err
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(fields, ", ")
}
