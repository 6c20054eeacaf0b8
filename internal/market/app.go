package market

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"Betsy/pkg/kit"
)

type HTTPDeps struct {
	Log      *zap.Logger
	Service  string
	Registry *prometheus.Registry

	MetricsEnabled bool
	MetricsToken   string

	// PurchaseLimit caps POST /purchases per client IP per minute. Zero disables it.
	PurchaseLimit int
}

func NewHandler(s *Server, deps HTTPDeps) http.Handler {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	r := chi.NewRouter()
	setupMiddleware(r, deps)
	setupMetrics(r, deps)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", s.ready)

	r.Get("/users/{id}", s.getUser)
	r.Get("/users/{id}/products", s.listUserProducts)
	r.Get("/users/{id}/transactions", s.listUserTransactions)
	r.Post("/users", s.createUser)

	r.Get("/products", s.searchProducts)
	r.Get("/products/{id}", s.getProduct)

	r.Get("/tags/{id}/products", s.listTagProducts)
	r.Post("/tags", s.createTag)

	r.Group(func(ar chi.Router) {
		ar.Use(RequireActor)

		ar.Post("/products", s.addProduct)
		ar.Delete("/products/{id}", s.removeProduct)
		ar.Put("/products/{id}/stock", s.updateStock)
		ar.Post("/products/{id}/tags", s.tagProduct)

		ar.Group(func(pr chi.Router) {
			if deps.PurchaseLimit > 0 {
				pr.Use(kit.NewIPRateLimiter(deps.PurchaseLimit, time.Minute).Middleware)
			}
			pr.Post("/purchases", s.purchase)
		})
	})

	return r
}

func setupMiddleware(r chi.Router, deps HTTPDeps) {
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(kit.Recoverer(deps.Log))
	r.Use(kit.Logging(deps.Log))
}

func setupMetrics(r chi.Router, deps HTTPDeps) {
	if !deps.MetricsEnabled || deps.Registry == nil {
		return
	}

	metrics := kit.NewMetrics(deps.Registry, deps.Service)
	r.Use(metrics.Middleware)

	r.With(kit.MetricsAuth(deps.MetricsToken)).
		Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	if err := s.Svc.Ping(ctx); err != nil {
		if s.Log != nil {
			s.Log.Warn("readyz failed", zap.Error(err))
		}
		kit.WriteError(w, r, http.StatusServiceUnavailable, "not ready", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
}
