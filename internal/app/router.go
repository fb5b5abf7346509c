package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/partspoint/partspoint/internal/auth"
	"github.com/partspoint/partspoint/internal/catalog"
	"github.com/partspoint/partspoint/internal/observability"
	"github.com/partspoint/partspoint/internal/purchasing"
	"github.com/partspoint/partspoint/internal/sales"
	"github.com/partspoint/partspoint/internal/stock"
	"github.com/partspoint/partspoint/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config
	Pool   *pgxpool.Pool

	AuthHandler       *auth.Handler
	AuthMiddleware    *auth.Middleware
	CatalogHandler    *catalog.Handler
	StockHandler      *stock.Handler
	PurchasingHandler *purchasing.Handler
	SalesHandler      *sales.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router. All API routes except login and the
// infra endpoints sit behind bearer-token authentication; catalog deletes,
// cancellations and all of purchasing additionally require the owner role.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/auth", func(ar chi.Router) {
			private := ar.With(params.AuthMiddleware.Authenticate)
			params.AuthHandler.MountRoutes(ar, private)
		})

		api.Group(func(private chi.Router) {
			private.Use(params.AuthMiddleware.Authenticate)

			ownerOnly := params.AuthMiddleware.RequireRole(auth.RoleOwner)

			if params.CatalogHandler != nil {
				private.Route("/catalog", func(cr chi.Router) {
					params.CatalogHandler.MountRoutes(cr, cr.With(ownerOnly))
				})
			}
			if params.StockHandler != nil {
				private.Route("/stock", func(sr chi.Router) {
					params.StockHandler.MountRoutes(sr)
				})
			}
			if params.SalesHandler != nil {
				private.Route("/sales", func(sr chi.Router) {
					params.SalesHandler.MountRoutes(sr, sr.With(ownerOnly))
				})
			}
			if params.PurchasingHandler != nil {
				private.Route("/purchasing", func(pr chi.Router) {
					pr.Use(ownerOnly)
					params.PurchasingHandler.MountRoutes(pr)
				})
			}
		})
	})

	return r
}
