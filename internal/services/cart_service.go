package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bonaevents/storefront/internal/platform/localstore"
)

// CartSessionKey is where the cart snapshot lives in the session store.
const CartSessionKey = "cart"

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartUnknownPackage indicates the package id is not in the catalog.
	ErrCartUnknownPackage = errors.New("cart service: unknown package")
	// ErrCartUnavailable indicates the session store could not be reached.
	ErrCartUnavailable = errors.New("cart service: unavailable")
)

// CartServiceDeps wires the cart service.
type CartServiceDeps struct {
	Catalog  CatalogService
	Sessions localstore.Store
	Logger   Logger
}

type cartService struct {
	catalog  CatalogService
	sessions localstore.Store
	logger   Logger
}

// NewCartService constructs the session-backed cart service.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("cart service: session store is required")
	}
	return &cartService{
		catalog:  deps.Catalog,
		sessions: deps.Sessions,
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

// Load rehydrates the cart. A corrupt snapshot yields an empty cart and a warning, never an error.
func (s *cartService) Load(ctx context.Context, session string) (Cart, error) {
	session, err := normalizeSession(session)
	if err != nil {
		return Cart{}, err
	}
	raw, err := s.sessions.Get(ctx, session, CartSessionKey)
	if errors.Is(err, localstore.ErrNotFound) {
		return Cart{}, nil
	}
	if err != nil {
		return Cart{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return s.rehydrate(ctx, session, raw), nil
}

func (s *cartService) rehydrate(ctx context.Context, session string, raw []byte) Cart {
	cart, dropped, err := decodeCartSnapshot(ctx, raw, s.catalog)
	if err != nil {
		s.logger(ctx, "cart.snapshot.decode_failed", map[string]any{"session": session, "error": err.Error()})
		return Cart{}
	}
	if len(dropped) > 0 {
		s.logger(ctx, "cart.snapshot.lines_dropped", map[string]any{"session": session, "packages": dropped})
	}
	return cart
}

func (s *cartService) Add(ctx context.Context, session, packageID string, quantity int) (Cart, error) {
	if quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}
	pkg, err := s.catalog.GetPackage(ctx, packageID)
	if err != nil {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartUnknownPackage, strings.TrimSpace(packageID))
	}
	return s.mutate(ctx, session, func(cart *Cart) error {
		cart.Add(pkg, quantity)
		return nil
	})
}

func (s *cartService) Remove(ctx context.Context, session, packageID string) (Cart, error) {
	return s.mutate(ctx, session, func(cart *Cart) error {
		cart.Remove(strings.TrimSpace(packageID))
		return nil
	})
}

// SetQuantity replaces a line's quantity; zero or below removes it. Unknown lines are a no-op.
func (s *cartService) SetQuantity(ctx context.Context, session, packageID string, quantity int) (Cart, error) {
	return s.mutate(ctx, session, func(cart *Cart) error {
		cart.SetQuantity(strings.TrimSpace(packageID), quantity)
		return nil
	})
}

func (s *cartService) Clear(ctx context.Context, session string) error {
	_, err := s.mutate(ctx, session, func(cart *Cart) error {
		cart.Clear()
		return nil
	})
	return err
}

// Deduct takes the charged units out of the cart. Lines added or raised after the charge was
// computed keep their uncharged units.
func (s *cartService) Deduct(ctx context.Context, session string, charged []CartLine) (Cart, error) {
	return s.mutate(ctx, session, func(cart *Cart) error {
		for _, line := range charged {
			for _, current := range cart.Lines {
				if current.Package.ID == line.Package.ID {
					cart.SetQuantity(current.Package.ID, current.Quantity-line.Quantity)
					break
				}
			}
		}
		return nil
	})
}

// mutate applies fn to the stored cart as one atomic read-modify-write.
func (s *cartService) mutate(ctx context.Context, session string, fn func(*Cart) error) (Cart, error) {
	session, err := normalizeSession(session)
	if err != nil {
		return Cart{}, err
	}
	var (
		cart     Cart
		applyErr error
	)
	err = s.sessions.Update(ctx, session, CartSessionKey, func(current []byte, found bool) ([]byte, error) {
		cart = Cart{}
		if found {
			cart = s.rehydrate(ctx, session, current)
		}
		if applyErr = fn(&cart); applyErr != nil {
			return nil, applyErr
		}
		raw, err := encodeCartSnapshot(cart)
		if err != nil {
			applyErr = fmt.Errorf("cart service: encode snapshot: %w", err)
			return nil, applyErr
		}
		return raw, nil
	})
	if applyErr != nil {
		return Cart{}, applyErr
	}
	if err != nil {
		return Cart{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return cart, nil
}

func normalizeSession(session string) (string, error) {
	session = strings.TrimSpace(session)
	if session == "" {
		return "", fmt.Errorf("%w: session is required", ErrCartInvalidInput)
	}
	return session, nil
}

type cartSnapshotLine struct {
	PackageData cartSnapshotPackage `json:"packageData"`
	Quantity    int                 `json:"quantity"`
}

type cartSnapshotPackage struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Location    string   `json:"location"`
	Rating      float64  `json:"rating"`
	Image       string   `json:"image"`
	Features    []string `json:"features"`
}

// encodeCartSnapshot writes the cart in the storefront's local storage shape.
func encodeCartSnapshot(cart Cart) ([]byte, error) {
	lines := make([]cartSnapshotLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		pkg := line.Package
		lines = append(lines, cartSnapshotLine{
			PackageData: cartSnapshotPackage{
				ID:          pkg.ID,
				Name:        pkg.Name,
				Description: pkg.Description,
				Price:       pkg.Price.InexactFloat64(),
				Location:    pkg.Location,
				Rating:      pkg.Rating,
				Image:       pkg.Image,
				Features:    pkg.Features,
			},
			Quantity: line.Quantity,
		})
	}
	return json.Marshal(lines)
}

// decodeCartSnapshot resolves snapshot lines against the catalog so prices always come from the
// current catalog. Lines naming packages the catalog no longer has are dropped and reported.
func decodeCartSnapshot(ctx context.Context, raw []byte, catalog CatalogService) (Cart, []string, error) {
	var lines []cartSnapshotLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return Cart{}, nil, err
	}
	var (
		cart    Cart
		dropped []string
	)
	for _, line := range lines {
		if line.Quantity <= 0 {
			return Cart{}, nil, fmt.Errorf("line %s has non-positive quantity %d", line.PackageData.ID, line.Quantity)
		}
		pkg, err := catalog.GetPackage(ctx, line.PackageData.ID)
		if err != nil {
			dropped = append(dropped, line.PackageData.ID)
			continue
		}
		cart.Add(pkg, line.Quantity)
	}
	return cart, dropped, nil
}
