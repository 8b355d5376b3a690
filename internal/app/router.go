package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ferrous-erp/ferrous/internal/catalog"
	"github.com/ferrous-erp/ferrous/internal/collection"
	"github.com/ferrous-erp/ferrous/internal/wcn"
	"github.com/ferrous-erp/ferrous/jobs"
)

// RouterConfig aggregates the handlers mounted on the JSON API.
type RouterConfig struct {
	Logger     *slog.Logger
	Config     *Config
	Catalog    *catalog.Handler
	Collection *collection.Handler
	WCN        *wcn.Handler
	Jobs       *jobs.Handler
}

// NewRouter builds the HTTP surface.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: cfg.Logger, Config: cfg.Config}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.Catalog != nil {
			api.Route("/catalog", cfg.Catalog.MountRoutes)
		}
		if cfg.Collection != nil {
			api.Route("/collection", cfg.Collection.MountRoutes)
		}
		if cfg.WCN != nil {
			api.Route("/wcn", cfg.WCN.MountRoutes)
		}
		if cfg.Jobs != nil {
			api.Route("/jobs", cfg.Jobs.MountRoutes)
		}
	})
	return r
}
