package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bonaevents/storefront/internal/domain"
)

// ErrCatalogPackageNotFound indicates the package id is not in the catalog.
var ErrCatalogPackageNotFound = errors.New("catalog: package not found")

// CatalogServiceDeps wires the catalog service.
type CatalogServiceDeps struct {
	// Packages overrides the built-in catalog.
	Packages []domain.Package
}

type catalogService struct {
	packages []domain.Package
	byID     map[string]domain.Package
}

// NewCatalogService builds the in-memory catalog. Package ids must be unique.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	packages := deps.Packages
	if len(packages) == 0 {
		packages = domain.DefaultCatalog()
	}
	byID := make(map[string]domain.Package, len(packages))
	for _, pkg := range packages {
		id := strings.TrimSpace(pkg.ID)
		if id == "" {
			return nil, errors.New("catalog service: package id is required")
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("catalog service: duplicate package id %s", id)
		}
		byID[id] = pkg
	}
	return &catalogService{packages: append([]domain.Package(nil), packages...), byID: byID}, nil
}

func (s *catalogService) ListPackages(context.Context) []Package {
	return append([]Package(nil), s.packages...)
}

func (s *catalogService) GetPackage(_ context.Context, id string) (Package, error) {
	pkg, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Package{}, fmt.Errorf("%w: %s", ErrCatalogPackageNotFound, id)
	}
	return pkg, nil
}
