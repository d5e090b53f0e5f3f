package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositPerPackage is the fixed amount charged per purchased package unit, in major currency units.
const DepositPerPackage int64 = 100

// DefaultCurrency is used when a payment request omits the currency.
const DefaultCurrency = "eur"

// Package is an immutable travel package catalog entry.
type Package struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Location    string
	Rating      float64
	Image       string
	Features    []string
}

// OrderStatus captures the outcome recorded for a checkout attempt.
type OrderStatus string

const (
	// OrderStatusCompleted marks an attempt whose payment succeeded.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusProcessing marks an attempt whose payment settled in a non-terminal state.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusFailed marks an attempt that errored or was declined.
	OrderStatusFailed OrderStatus = "failed"
)

// Valid reports whether the status is one of the recorded order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusProcessing, OrderStatusFailed:
		return true
	}
	return false
}

// Customer holds contact details captured at checkout.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// OrderDraft is an order before the ledger assigns its identifier and timestamp.
type OrderDraft struct {
	PackageName   string
	Price         decimal.Decimal
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Status        OrderStatus
	ReferralCode  string
	Quantity      *int
}

// Order is a durable ledger record. Orders are never updated in place; the only mutation is a bulk soft delete.
type Order struct {
	ID            string
	PackageName   string
	Price         decimal.Decimal
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Status        OrderStatus
	Date          time.Time
	ReferralCode  string
	Quantity      *int
	Deleted       bool
	DeletedAt     *time.Time
}

// Referral attributes orders to a promoter for commission accounting.
type Referral struct {
	Code       string
	Name       string
	Commission float64
	Active     bool
	CreatedAt  time.Time
}

// ReferralStats aggregates ledger totals for a referral code.
type ReferralStats struct {
	OrdersCount     int
	TotalSales      decimal.Decimal
	TotalCommission decimal.Decimal
}

// DirectReferralGroup is the group key used for orders placed without a referral code.
const DirectReferralGroup = "direct"

// ReferralGroup collects orders sharing a referral code.
type ReferralGroup struct {
	Code   string
	Orders []Order
	Total  decimal.Decimal
}

// PaymentStatus mirrors the gateway-side state of a payment attempt.
type PaymentStatus string

const (
	PaymentStatusRequiresAction PaymentStatus = "requires_action"
	PaymentStatusProcessing     PaymentStatus = "processing"
	PaymentStatusSucceeded      PaymentStatus = "succeeded"
	PaymentStatusFailed         PaymentStatus = "failed"
)

// PaymentAttempt is the transient view of a gateway intent. It is never persisted.
type PaymentAttempt struct {
	ID                string
	ClientSecret      string
	Status            PaymentStatus
	IsFreeTransaction bool
}

// PromoterDashboard is the read-only view a promoter gets of their own referral.
type PromoterDashboard struct {
	Referral Referral
	Orders   []Order
	Stats    ReferralStats
}
