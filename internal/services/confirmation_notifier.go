package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultCustomerPhone = "Non fornito"
	defaultCustomerName  = "Cliente"
	confirmationDate     = "2/1/2006"
	logoPath             = "/logoemail.png"
)

// ConfirmationEmail holds the template parameters of the order confirmation e-mail.
type ConfirmationEmail struct {
	ToEmail       string `json:"to_email"`
	PackageName   string `json:"package_name"`
	Amount        string `json:"amount"`
	OrderDate     string `json:"order_date"`
	CustomerPhone string `json:"customer_phone"`
	CustomerName  string `json:"customer_name"`
	LogoURL       string `json:"logo_url"`
	ReferralCode  string `json:"referral_code,omitempty"`
	// IdempotencyKey lets the mail sender drop redeliveries of the same confirmation.
	IdempotencyKey string `json:"-"`
}

// Confirmation describes a completed purchase to announce.
type Confirmation struct {
	OrderID       string
	CustomerEmail string
	CustomerName  string
	CustomerPhone string
	PackageName   string
	Amount        decimal.Decimal
	Date          time.Time
	ReferralCode  string
}

// ConfirmationNotifierDeps wires the notifier.
type ConfirmationNotifierDeps struct {
	Publisher ConfirmationPublisher
	SiteURL   string
	// Location renders the order date in the customer's calendar. Defaults to UTC.
	Location *time.Location
	// OnResult observes every delivery attempt.
	OnResult func(ok bool)
	Logger   Logger
}

type confirmationNotifier struct {
	publisher ConfirmationPublisher
	siteURL   string
	location  *time.Location
	onResult  func(ok bool)
	logger    Logger
}

// NewConfirmationNotifier renders confirmations and hands them to the publisher.
func NewConfirmationNotifier(deps ConfirmationNotifierDeps) (ConfirmationNotifier, error) {
	if deps.Publisher == nil {
		return nil, errors.New("confirmation notifier: publisher is required")
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	onResult := deps.OnResult
	if onResult == nil {
		onResult = func(bool) {}
	}
	return &confirmationNotifier{
		publisher: deps.Publisher,
		siteURL:   strings.TrimRight(strings.TrimSpace(deps.SiteURL), "/"),
		location:  location,
		onResult:  onResult,
		logger:    loggerOrNoop(deps.Logger),
	}, nil
}

func (n *confirmationNotifier) Notify(ctx context.Context, confirmation Confirmation) error {
	email := strings.TrimSpace(confirmation.CustomerEmail)
	if email == "" {
		n.onResult(false)
		return errors.New("confirmation notifier: recipient is required")
	}
	message := RenderConfirmationEmail(confirmation, n.siteURL, n.location)
	id, err := n.publisher.PublishConfirmation(ctx, message)
	if err != nil {
		n.onResult(false)
		return fmt.Errorf("confirmation notifier: %w", err)
	}
	n.onResult(true)
	n.logger(ctx, "confirmation.published", map[string]any{"order": confirmation.OrderID, "message": id})
	return nil
}

// RenderConfirmationEmail fills the e-mail template parameters, applying the defaults for
// missing contact details.
func RenderConfirmationEmail(c Confirmation, siteURL string, location *time.Location) ConfirmationEmail {
	if location == nil {
		location = time.UTC
	}
	phone := strings.TrimSpace(c.CustomerPhone)
	if phone == "" {
		phone = defaultCustomerPhone
	}
	name := strings.TrimSpace(c.CustomerName)
	if name == "" {
		name = defaultCustomerName
	}
	return ConfirmationEmail{
		ToEmail:        strings.TrimSpace(c.CustomerEmail),
		PackageName:    c.PackageName,
		Amount:         "€" + c.Amount.StringFixed(2),
		OrderDate:      c.Date.In(location).Format(confirmationDate),
		CustomerPhone:  phone,
		CustomerName:   name,
		LogoURL:        strings.TrimRight(siteURL, "/") + logoPath,
		ReferralCode:   c.ReferralCode,
		IdempotencyKey: c.OrderID,
	}
}
