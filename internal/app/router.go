package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/brightcast/brightcast/internal/audit"
	"github.com/brightcast/brightcast/internal/auth"
	"github.com/brightcast/brightcast/internal/companies"
	"github.com/brightcast/brightcast/internal/content"
	"github.com/brightcast/brightcast/internal/devices"
	"github.com/brightcast/brightcast/internal/observability"
	"github.com/brightcast/brightcast/internal/users"
	"github.com/brightcast/brightcast/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	AuthHandler      *auth.Handler
	CompaniesHandler *companies.Handler
	UsersHandler     *users.Handler
	ContentHandler   *content.Handler
	DevicesHandler   *devices.Handler
	AuditHandler     *audit.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Brightcast defaults.
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

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Route("/companies", params.CompaniesHandler.MountRoutes)
	r.Route("/users", params.UsersHandler.MountRoutes)
	r.Route("/content", params.ContentHandler.MountRoutes)
	r.Route("/devices", params.DevicesHandler.MountRoutes)
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}

	// Player-facing surface: device tokens only.
	r.Route("/device", func(r chi.Router) {
		r.Group(params.ContentHandler.MountDeviceRoutes)
		r.Group(params.DevicesHandler.MountDeviceRoutes)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
