package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func testPackage(id string, price int64) Package {
	return Package{ID: id, Name: "Package " + id, Price: decimal.NewFromInt(price)}
}

func TestCartAddAccumulatesQuantity(t *testing.T) {
	var cart Cart
	pkg := testPackage("1", 330)

	cart.Add(pkg, 2)
	cart.Add(pkg, 3)

	if len(cart.Lines) != 1 {
		t.Fatalf("expected single line, got %d", len(cart.Lines))
	}
	if cart.Lines[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", cart.Lines[0].Quantity)
	}
}

func TestCartAddIgnoresNonPositiveQuantity(t *testing.T) {
	var cart Cart
	cart.Add(testPackage("1", 330), 0)
	cart.Add(testPackage("1", 330), -1)
	if !cart.IsEmpty() {
		t.Fatalf("expected empty cart, got %#v", cart.Lines)
	}
}

func TestCartSetQuantity(t *testing.T) {
	tests := []struct {
		name      string
		quantity  int
		wantLines int
		wantQty   int
	}{
		{name: "update", quantity: 4, wantLines: 1, wantQty: 4},
		{name: "zero removes", quantity: 0, wantLines: 0},
		{name: "negative removes", quantity: -3, wantLines: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var cart Cart
			cart.Add(testPackage("1", 330), 1)
			cart.SetQuantity("1", tc.quantity)
			if len(cart.Lines) != tc.wantLines {
				t.Fatalf("expected %d lines, got %d", tc.wantLines, len(cart.Lines))
			}
			if tc.wantLines == 1 && cart.Lines[0].Quantity != tc.wantQty {
				t.Fatalf("expected quantity %d, got %d", tc.wantQty, cart.Lines[0].Quantity)
			}
		})
	}
}

func TestCartRemoveMissingIsNoop(t *testing.T) {
	var cart Cart
	cart.Add(testPackage("1", 330), 1)
	cart.Remove("missing")
	if len(cart.Lines) != 1 {
		t.Fatalf("expected cart untouched, got %#v", cart.Lines)
	}
	cart.Remove("1")
	if !cart.IsEmpty() {
		t.Fatalf("expected empty cart after remove")
	}
}

func TestCartTotals(t *testing.T) {
	var cart Cart
	cart.Add(testPackage("1", 330), 1)
	cart.Add(testPackage("2", 280), 2)
	cart.Add(testPackage("3", 189), 1)

	if got := cart.TotalItems(); got != 4 {
		t.Fatalf("expected 4 items, got %d", got)
	}
	if got := cart.TotalPrice(); !got.Equal(decimal.NewFromInt(1079)) {
		t.Fatalf("expected total price 1079, got %s", got)
	}
	if got := cart.DepositTotal(DepositPerPackage); !got.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("expected deposit total 400, got %s", got)
	}
}

func TestCartDescription(t *testing.T) {
	var single Cart
	single.Add(Package{ID: "1", Name: "Pacchetto Base"}, 2)
	if got := single.Description(); got != "Pacchetto Base (deposit)" {
		t.Fatalf("unexpected single description %q", got)
	}

	var multi Cart
	multi.Add(Package{ID: "1", Name: "Pacchetto Base"}, 1)
	multi.Add(Package{ID: "2", Name: "Pacchetto Premium"}, 1)
	if got := multi.Description(); got != "Pacchetto Base, Pacchetto Premium (multi-package deposit)" {
		t.Fatalf("unexpected multi description %q", got)
	}
}

func TestCartClear(t *testing.T) {
	var cart Cart
	cart.Add(testPackage("1", 330), 1)
	cart.Clear()
	if !cart.IsEmpty() || cart.TotalItems() != 0 {
		t.Fatalf("expected cleared cart")
	}
}
