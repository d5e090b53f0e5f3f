package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bonaevents/storefront/internal/platform/httpx"
	"github.com/bonaevents/storefront/internal/services"
)

// CatalogHandlers serves the read-only package catalog.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs catalog handlers.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes registers /packages endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/packages", h.listPackages)
	r.Get("/packages/{packageID}", h.getPackage)
}

func (h *CatalogHandlers) listPackages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	pkgs := h.catalog.ListPackages(ctx)
	views := make([]packageView, 0, len(pkgs))
	for _, pkg := range pkgs {
		views = append(views, buildPackageView(pkg))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"packages": views})
}

func (h *CatalogHandlers) getPackage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	pkg, err := h.catalog.GetPackage(ctx, strings.TrimSpace(chi.URLParam(r, "packageID")))
	if err != nil {
		if errors.Is(err, services.ErrCatalogPackageNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("package_not_found", "package not found", http.StatusNotFound))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to load package", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPackageView(pkg))
}
