package httpx

import (
	"net/http"

	"github.com/go-chi/cors"
)

const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "POST, GET, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
)

var corsPolicy = cors.New(cors.Options{
	AllowedOrigins:     []string{corsAllowOrigin},
	AllowedMethods:     []string{http.MethodPost, http.MethodGet, http.MethodOptions},
	AllowedHeaders:     []string{"Content-Type", "Authorization"},
	MaxAge:             300,
	OptionsPassthrough: true,
})

// CORS applies the storefront origin policy. Every response carries the fixed header set,
// including requests without an Origin, and any OPTIONS request ends with an empty 200
// before routing.
func CORS(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	return corsPolicy.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	}))
}
