package runtime

import (
	"fmt"
	"net/http"
	"time"

	"github.com/medviewer/pacs-connector/internal/service/config"
	manifestHTTP "github.com/medviewer/pacs-connector/internal/service/manifest/adapters/http"
	"github.com/medviewer/pacs-connector/internal/service/manifest/registry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewHTTPServer(cfg config.Config, server *manifestHTTP.Server, gatherer prometheus.Gatherer) (*http.Server, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout(cfg.Builder.MaxLifeCycle.Std())))

	// API Key auth middleware (checks header: X-API-Key)
	r.Use(apiKeyAuth(cfg.APIKey))

	r.Mount("/", manifestHTTP.Router(server))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

// requestTimeout sizes the timeout middleware above the registry's
// max life cycle. A manifest fetch legitimately blocks up to that bound, so
// the middleware must never be the one to cancel it.
func requestTimeout(maxLifeCycle time.Duration) time.Duration {
	if maxLifeCycle <= 0 {
		maxLifeCycle = registry.DefaultMaxLifeCycle
	}
	return maxLifeCycle + 30*time.Second
}

// apiKeyAuth returns a middleware that validates X-API-Key if apiKey is non-empty.
// If API_KEY is unset, the middleware allows all requests (handy for local dev).
func apiKeyAuth(expected string) func(http.Handler) http.Handler {
	const hdr = "X-API-Key"
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(hdr)
			if got == "" || got != expected {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf(`ApiKey header="%s"`, hdr))
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
