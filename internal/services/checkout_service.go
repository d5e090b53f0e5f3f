package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/bonaevents/storefront/internal/domain"
	"github.com/bonaevents/storefront/internal/payments"
)

const (
	defaultCheckoutTimeout = 60 * time.Second
	defaultNotifyTimeout   = 15 * time.Second
	ledgerWriteTimeout     = 10 * time.Second
)

// User-facing outcome messages.
const (
	MessageUnreachable       = "Cannot reach the payment server. Check your connection and try again."
	MessageTimeout           = "The payment took too long to complete. Please try again."
	MessageDeclined          = "The payment was declined. Please try another card."
	MessageFailed            = "The payment could not be completed. Please try again."
	MessageContractViolation = "Payment configuration error. Please contact support."
	MessageProcessing        = "Your payment is processing. You will receive a confirmation once it completes."
	MessageCompleted         = "Payment completed."
)

var (
	// ErrCheckoutInvalidInput indicates the attempt was rejected before any network call.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutInFlight indicates another attempt for the same session is still running.
	ErrCheckoutInFlight = errors.New("checkout: attempt already in progress")
	// ErrCheckoutContractViolation indicates the adapter reported a free intent for a paid attempt.
	ErrCheckoutContractViolation = errors.New("checkout: adapter reported a free transaction for a paid attempt")
	// ErrCheckoutDeclined indicates the gateway settled the intent as failed.
	ErrCheckoutDeclined = errors.New("checkout: payment declined")
)

// CheckoutCommand is one purchase attempt. OriginalAmount is the amount before deposit
// substitution; zero marks a free attempt.
type CheckoutCommand struct {
	SessionID      string
	Lines          []CartLine
	OriginalAmount decimal.Decimal
	Customer       domain.Customer
	Card           payments.CardInput
	IdempotencyKey string
}

// CheckoutResult reports the decided outcome. Failures of the payment itself are outcomes, not
// errors.
type CheckoutResult struct {
	Status      OrderStatus
	Attempt     domain.PaymentAttempt
	Amount      decimal.Decimal
	Description string
	Message     string
	// Cause is the failure behind a failed outcome.
	Cause  error
	Orders []Order
	// LedgerErr records a ledger write failure. It never changes Status.
	LedgerErr error
}

type referralSource interface {
	Current(ctx context.Context, session string) (string, error)
}

type cartSettler interface {
	Deduct(ctx context.Context, session string, charged []CartLine) (Cart, error)
}

// CheckoutServiceDeps wires the checkout sequencer.
type CheckoutServiceDeps struct {
	Payments  PaymentAdapter
	Confirmer payments.CardConfirmer
	Ledger    OrderService
	// Attribution supplies the captured referral code. Optional.
	Attribution referralSource
	// Carts loses the charged units after a completed attempt. Optional.
	Carts cartSettler
	// Notifier announces completed purchases. Optional.
	Notifier      ConfirmationNotifier
	Deposit       int64
	Currency      string
	Timeout       time.Duration
	NotifyTimeout time.Duration
	OnOutcome     func(status OrderStatus)
	Logger        Logger
}

type checkoutService struct {
	payments      PaymentAdapter
	confirmer     payments.CardConfirmer
	ledger        OrderService
	attribution   referralSource
	carts         cartSettler
	notifier      ConfirmationNotifier
	deposit       int64
	currency      string
	timeout       time.Duration
	notifyTimeout time.Duration
	onOutcome     func(status OrderStatus)
	logger        Logger
	validate      *validator.Validate

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment adapter is required")
	}
	if deps.Confirmer == nil {
		return nil, errors.New("checkout service: card confirmer is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("checkout service: order ledger is required")
	}
	if deps.Deposit < 0 {
		return nil, errors.New("checkout service: deposit must not be negative")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultCheckoutTimeout
	}
	notifyTimeout := deps.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = defaultNotifyTimeout
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	onOutcome := deps.OnOutcome
	if onOutcome == nil {
		onOutcome = func(OrderStatus) {}
	}
	return &checkoutService{
		payments:      deps.Payments,
		confirmer:     deps.Confirmer,
		ledger:        deps.Ledger,
		attribution:   deps.Attribution,
		carts:         deps.Carts,
		notifier:      deps.Notifier,
		deposit:       deps.Deposit,
		currency:      currency,
		timeout:       timeout,
		notifyTimeout: notifyTimeout,
		onOutcome:     onOutcome,
		logger:        loggerOrNoop(deps.Logger),
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		inFlight:      make(map[string]struct{}),
	}, nil
}

type checkoutInput struct {
	Session string `validate:"required"`
	Email   string `validate:"required,email"`
	Lines   int    `validate:"gt=0"`
}

// Checkout runs create, confirm and verify for one attempt, then records the outcome in the
// ledger. Only invalid input and a concurrent attempt are returned as errors.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	cmd.SessionID = strings.TrimSpace(cmd.SessionID)
	cmd.Customer.Email = strings.TrimSpace(cmd.Customer.Email)
	if err := s.validate.Struct(checkoutInput{Session: cmd.SessionID, Email: cmd.Customer.Email, Lines: len(cmd.Lines)}); err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, describeValidation(err))
	}
	for _, line := range cmd.Lines {
		if line.Quantity <= 0 {
			return CheckoutResult{}, fmt.Errorf("%w: line %s has non-positive quantity", ErrCheckoutInvalidInput, line.Package.ID)
		}
	}
	if cmd.OriginalAmount.IsNegative() {
		return CheckoutResult{}, fmt.Errorf("%w: amount must not be negative", ErrCheckoutInvalidInput)
	}

	cart := Cart{Lines: cmd.Lines}
	amount := decimal.Zero
	if !cmd.OriginalAmount.IsZero() {
		amount = cart.DepositTotal(s.deposit)
	}
	if !amount.IsZero() && !cmd.Card.Present() {
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, payments.ErrMissingCard)
	}

	if !s.acquire(cmd.SessionID) {
		return CheckoutResult{}, ErrCheckoutInFlight
	}
	defer s.release(cmd.SessionID)

	result := CheckoutResult{Amount: amount, Description: cart.Description()}
	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	s.sequence(attemptCtx, cmd, &result)
	cancel()

	s.logger(ctx, "checkout.outcome", map[string]any{
		"session":       cmd.SessionID,
		"status":        string(result.Status),
		"paymentIntent": result.Attempt.ID,
		"amount":        amount.StringFixed(2),
	})

	// Side effects outlive the caller once the outcome is decided.
	sideCtx := context.WithoutCancel(ctx)
	s.record(sideCtx, cmd, &result)

	if result.Status == domain.OrderStatusCompleted {
		if s.carts != nil {
			if _, err := s.carts.Deduct(sideCtx, cmd.SessionID, cmd.Lines); err != nil {
				s.logger(ctx, "checkout.cart_settle.failed", map[string]any{"session": cmd.SessionID, "error": err.Error()})
			}
		}
		s.notify(sideCtx, cmd, result)
	}
	s.onOutcome(result.Status)
	return result, nil
}

// sequence walks Creating → Confirming → Verifying and stores the decided status on result.
func (s *checkoutService) sequence(ctx context.Context, cmd CheckoutCommand, result *CheckoutResult) {
	intent, err := s.payments.CreateIntent(ctx, PaymentRequest{
		Amount:         result.Amount,
		Currency:       s.currency,
		Description:    result.Description,
		Email:          cmd.Customer.Email,
		IdempotencyKey: cmd.IdempotencyKey,
	})
	if err != nil {
		s.fail(ctx, result, err)
		return
	}
	result.Attempt = attemptFromIntent(intent)

	free := intent.IsFreeTransaction || intent.ClientSecret == payments.FreeClientSecret
	switch {
	case free && cmd.OriginalAmount.IsZero():
		result.Status = domain.OrderStatusCompleted
		result.Message = MessageCompleted
		return
	case free, result.Amount.IsZero():
		s.logger(ctx, "checkout.contract_violation_error", map[string]any{
			"paymentIntent":  intent.ID,
			"originalAmount": cmd.OriginalAmount.String(),
		})
		s.fail(ctx, result, ErrCheckoutContractViolation)
		return
	}

	confirmed, err := s.confirmer.ConfirmCard(ctx, payments.ConfirmRequest{
		ClientSecret: intent.ClientSecret,
		Card:         cmd.Card,
		BillingName:  strings.TrimSpace(cmd.Customer.Name),
		BillingEmail: cmd.Customer.Email,
	})
	if err != nil {
		s.fail(ctx, result, err)
		return
	}

	status := confirmed.Status
	if status != domain.PaymentStatusSucceeded {
		id := confirmed.ID
		if id == "" {
			id = intent.ID
		}
		raw, err := s.payments.GetStatus(ctx, id)
		if err != nil {
			s.fail(ctx, result, err)
			return
		}
		status = payments.NormalizeStatus(raw)
	}
	result.Attempt.Status = status

	switch status {
	case domain.PaymentStatusSucceeded:
		result.Status = domain.OrderStatusCompleted
		result.Message = MessageCompleted
	case domain.PaymentStatusFailed:
		s.fail(ctx, result, ErrCheckoutDeclined)
	default:
		result.Status = domain.OrderStatusProcessing
		result.Message = MessageProcessing
	}
}

func (s *checkoutService) fail(ctx context.Context, result *CheckoutResult, cause error) {
	result.Status = domain.OrderStatusFailed
	result.Cause = cause
	if result.Attempt.ID != "" {
		result.Attempt.Status = domain.PaymentStatusFailed
	}

	var gatewayErr *payments.GatewayError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Message = MessageTimeout
	case payments.IsUnreachable(cause):
		result.Message = MessageUnreachable
	case errors.Is(cause, ErrCheckoutContractViolation):
		result.Message = MessageContractViolation
	case errors.Is(cause, ErrCheckoutDeclined):
		result.Message = MessageDeclined
	case errors.As(cause, &gatewayErr) && gatewayErr.Message != "":
		result.Message = gatewayErr.Message
	default:
		result.Message = MessageFailed
	}
	s.logger(ctx, "checkout.attempt.failed", map[string]any{"error": cause.Error()})
}

// record writes one order per purchased unit, or a single quantity-less order for a lone unit.
func (s *checkoutService) record(ctx context.Context, cmd CheckoutCommand, result *CheckoutResult) {
	ctx, cancel := context.WithTimeout(ctx, ledgerWriteTimeout)
	defer cancel()

	referral := ""
	if s.attribution != nil {
		code, err := s.attribution.Current(ctx, cmd.SessionID)
		if err != nil {
			s.logger(ctx, "checkout.referral_lookup.failed", map[string]any{"session": cmd.SessionID, "error": err.Error()})
		}
		referral = code
	}

	units := 0
	for _, line := range cmd.Lines {
		units += line.Quantity
	}
	share := decimal.Zero
	if units > 0 {
		share = result.Amount.Div(decimal.NewFromInt(int64(units)))
	}
	single := len(cmd.Lines) == 1 && cmd.Lines[0].Quantity == 1

	var errs []error
	for _, line := range cmd.Lines {
		for i := 0; i < line.Quantity; i++ {
			draft := OrderDraft{
				PackageName:   line.Package.Name,
				Price:         share,
				CustomerName:  cmd.Customer.Name,
				CustomerEmail: cmd.Customer.Email,
				CustomerPhone: cmd.Customer.Phone,
				Status:        result.Status,
				ReferralCode:  referral,
			}
			if !single {
				one := 1
				draft.Quantity = &one
			}
			order, err := s.ledger.Write(ctx, draft)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			result.Orders = append(result.Orders, order)
		}
	}
	if len(errs) > 0 {
		result.LedgerErr = errors.Join(errs...)
		s.logger(ctx, "checkout.ledger.write_failed", map[string]any{
			"session": cmd.SessionID,
			"status":  string(result.Status),
			"failed":  len(errs),
			"error":   result.LedgerErr.Error(),
		})
	}
}

// notify runs detached; its outcome is only logged.
func (s *checkoutService) notify(ctx context.Context, cmd CheckoutCommand, result CheckoutResult) {
	if s.notifier == nil {
		return
	}
	names := make([]string, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		names = append(names, line.Package.Name)
	}
	orderID := result.Attempt.ID
	date := time.Now().UTC()
	referral := ""
	if len(result.Orders) > 0 {
		orderID = result.Orders[0].ID
		date = result.Orders[0].Date
		referral = result.Orders[0].ReferralCode
	}
	confirmation := Confirmation{
		OrderID:       orderID,
		CustomerEmail: cmd.Customer.Email,
		CustomerName:  cmd.Customer.Name,
		CustomerPhone: cmd.Customer.Phone,
		PackageName:   strings.Join(names, ", "),
		Amount:        result.Amount,
		Date:          date,
		ReferralCode:  referral,
	}

	go func() {
		notifyCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(notifyCtx, confirmation); err != nil {
			s.logger(notifyCtx, "checkout.notification.failed", map[string]any{"order": orderID, "error": err.Error()})
		}
	}()
}

func (s *checkoutService) acquire(session string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[session]; busy {
		return false
	}
	s.inFlight[session] = struct{}{}
	return true
}

func (s *checkoutService) release(session string) {
	s.mu.Lock()
	delete(s.inFlight, session)
	s.mu.Unlock()
}

func attemptFromIntent(intent payments.Intent) domain.PaymentAttempt {
	return domain.PaymentAttempt{
		ID:                intent.ID,
		ClientSecret:      intent.ClientSecret,
		Status:            intent.Status,
		IsFreeTransaction: intent.IsFreeTransaction,
	}
}
