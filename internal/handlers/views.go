package handlers

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bonaevents/storefront/internal/domain"
	"github.com/bonaevents/storefront/internal/services"
)

type packageView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Location    string   `json:"location"`
	Rating      float64  `json:"rating"`
	Image       string   `json:"image"`
	Features    []string `json:"features"`
}

type cartLineView struct {
	Package  packageView `json:"package"`
	Quantity int         `json:"quantity"`
	Subtotal float64     `json:"subtotal"`
}

type cartView struct {
	Lines        []cartLineView `json:"lines"`
	TotalPrice   float64        `json:"totalPrice"`
	TotalItems   int            `json:"totalItems"`
	DepositTotal float64        `json:"depositTotal"`
}

type orderView struct {
	ID            string  `json:"id"`
	PackageName   string  `json:"packageName"`
	Price         float64 `json:"price"`
	CustomerName  string  `json:"customerName"`
	CustomerEmail string  `json:"customerEmail"`
	CustomerPhone string  `json:"customerPhone"`
	Status        string  `json:"status"`
	Date          string  `json:"date"`
	ReferralCode  string  `json:"referralCode,omitempty"`
	Quantity      *int    `json:"quantity,omitempty"`
}

type referralView struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Commission float64 `json:"commission"`
	Active     bool    `json:"active"`
	CreatedAt  string  `json:"createdAt,omitempty"`
}

type referralStatsView struct {
	OrdersCount     int     `json:"ordersCount"`
	TotalSales      float64 `json:"totalSales"`
	TotalCommission float64 `json:"totalCommission"`
}

type referralGroupView struct {
	Code   string      `json:"code"`
	Orders []orderView `json:"orders"`
	Total  float64     `json:"total"`
}

func money(value decimal.Decimal) float64 {
	return value.Round(2).InexactFloat64()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildPackageView(pkg services.Package) packageView {
	features := pkg.Features
	if features == nil {
		features = []string{}
	}
	return packageView{
		ID:          pkg.ID,
		Name:        pkg.Name,
		Description: pkg.Description,
		Price:       money(pkg.Price),
		Location:    pkg.Location,
		Rating:      pkg.Rating,
		Image:       pkg.Image,
		Features:    features,
	}
}

func buildCartView(cart services.Cart, deposit int64) cartView {
	lines := make([]cartLineView, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		lines = append(lines, cartLineView{
			Package:  buildPackageView(line.Package),
			Quantity: line.Quantity,
			Subtotal: money(line.Package.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))),
		})
	}
	return cartView{
		Lines:        lines,
		TotalPrice:   money(cart.TotalPrice()),
		TotalItems:   cart.TotalItems(),
		DepositTotal: money(cart.DepositTotal(deposit)),
	}
}

func buildOrderView(order services.Order) orderView {
	return orderView{
		ID:            order.ID,
		PackageName:   order.PackageName,
		Price:         money(order.Price),
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		CustomerPhone: order.CustomerPhone,
		Status:        string(order.Status),
		Date:          formatTime(order.Date),
		ReferralCode:  order.ReferralCode,
		Quantity:      order.Quantity,
	}
}

func buildOrderViews(orders []services.Order) []orderView {
	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, buildOrderView(order))
	}
	return views
}

func buildReferralView(ref services.Referral) referralView {
	return referralView{
		Code:       ref.Code,
		Name:       ref.Name,
		Commission: ref.Commission,
		Active:     ref.Active,
		CreatedAt:  formatTime(ref.CreatedAt),
	}
}

func buildReferralStatsView(stats services.ReferralStats) referralStatsView {
	return referralStatsView{
		OrdersCount:     stats.OrdersCount,
		TotalSales:      money(stats.TotalSales),
		TotalCommission: money(stats.TotalCommission),
	}
}

// buildReferralGroupViews orders groups by code with the direct group last.
func buildReferralGroupViews(groups map[string]services.ReferralGroup) []referralGroupView {
	codes := make([]string, 0, len(groups))
	for code := range groups {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		if codes[i] == domain.DirectReferralGroup {
			return false
		}
		if codes[j] == domain.DirectReferralGroup {
			return true
		}
		return codes[i] < codes[j]
	})

	views := make([]referralGroupView, 0, len(codes))
	for _, code := range codes {
		group := groups[code]
		views = append(views, referralGroupView{
			Code:   code,
			Orders: buildOrderViews(group.Orders),
			Total:  money(group.Total),
		})
	}
	return views
}
