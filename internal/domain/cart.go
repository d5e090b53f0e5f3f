package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CartLine pairs a package with a positive quantity.
type CartLine struct {
	Package  Package
	Quantity int
}

// Cart keeps at most one line per package id, in insertion order.
type Cart struct {
	Lines []CartLine
}

// Add inserts the package or increments the quantity of its existing line.
// Non-positive quantities are ignored.
func (c *Cart) Add(pkg Package, quantity int) {
	if quantity <= 0 {
		return
	}
	if idx := c.index(pkg.ID); idx >= 0 {
		c.Lines[idx].Quantity += quantity
		return
	}
	c.Lines = append(c.Lines, CartLine{Package: pkg, Quantity: quantity})
}

// Remove drops the line for the package id. Missing ids are a no-op.
func (c *Cart) Remove(packageID string) {
	idx := c.index(packageID)
	if idx < 0 {
		return
	}
	c.Lines = append(c.Lines[:idx], c.Lines[idx+1:]...)
}

// SetQuantity replaces the line quantity; zero or negative removes the line.
func (c *Cart) SetQuantity(packageID string, quantity int) {
	if quantity <= 0 {
		c.Remove(packageID)
		return
	}
	if idx := c.index(packageID); idx >= 0 {
		c.Lines[idx].Quantity = quantity
	}
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.Lines = nil
}

// Contains reports whether a line exists for the package id.
func (c Cart) Contains(packageID string) bool {
	return c.index(packageID) >= 0
}

// TotalPrice sums full package prices across all units.
func (c Cart) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.Package.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// TotalItems sums line quantities.
func (c Cart) TotalItems() int {
	items := 0
	for _, line := range c.Lines {
		items += line.Quantity
	}
	return items
}

// DepositTotal is the fixed deposit times the unit count, independent of package prices.
func (c Cart) DepositTotal(deposit int64) decimal.Decimal {
	return decimal.NewFromInt(deposit).Mul(decimal.NewFromInt(int64(c.TotalItems())))
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Description renders the payment description for a deposit on the cart contents.
func (c Cart) Description() string {
	if len(c.Lines) == 0 {
		return ""
	}
	if len(c.Lines) == 1 {
		return c.Lines[0].Package.Name + " (deposit)"
	}
	names := make([]string, 0, len(c.Lines))
	for _, line := range c.Lines {
		names = append(names, line.Package.Name)
	}
	return strings.Join(names, ", ") + " (multi-package deposit)"
}

func (c Cart) index(packageID string) int {
	for i, line := range c.Lines {
		if line.Package.ID == packageID {
			return i
		}
	}
	return -1
}
