package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/clinic-survey-relay/internal/health"
	"github.com/sandeepkv93/clinic-survey-relay/internal/http/handler"
	"github.com/sandeepkv93/clinic-survey-relay/internal/http/middleware"
	"github.com/sandeepkv93/clinic-survey-relay/internal/http/response"
)

type Dependencies struct {
	PublicHandler *handler.PublicHandler
	// ClinicHandler and ChangesHandler are nil in the remote profile; the
	// clinic API is not mounted there.
	ClinicHandler      *handler.ClinicHandler
	ChangesHandler     *handler.ChangesHandler
	CORSOrigins        []string
	APIRateLimitRPM    int
	PublicRateLimitRPM int
	GlobalRateLimiter  GlobalRateLimiterFunc
	PublicRateLimiter  PublicRateLimiterFunc
	Readiness          *health.ProbeRunner
	EnableOTelHTTP     bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler
type PublicRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else if dep.APIRateLimitRPM > 0 {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute, "api").Middleware())
	}

	publicLimiter := dep.PublicRateLimiter
	if publicLimiter == nil && dep.PublicRateLimitRPM > 0 {
		publicLimiter = middleware.NewRateLimiter(dep.PublicRateLimitRPM, time.Minute, "public").Middleware()
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/public", func(r chi.Router) {
			if publicLimiter != nil {
				r.Use(publicLimiter)
			}
			r.Get("/surveys/{token}", dep.PublicHandler.Resolve)
			r.Post("/surveys/{token}/responses", dep.PublicHandler.Submit)
		})

		if dep.ClinicHandler == nil {
			return
		}
		clinic := dep.ClinicHandler
		r.Route("/clinic", func(r chi.Router) {
			r.Route("/templates", func(r chi.Router) {
				r.Post("/", clinic.SaveTemplate)
				r.Get("/", clinic.ListTemplates)
				r.Get("/{id}", clinic.GetTemplate)
				r.Put("/{id}", clinic.SaveTemplate)
				r.Post("/{id}/activate", clinic.ActivateTemplate)
				r.Post("/{id}/deactivate", clinic.DeactivateTemplate)
			})
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", clinic.CreateSession)
				r.Post("/cleanup-expired", clinic.CleanupExpiredSessions)
				r.Get("/{id}", clinic.GetSession)
				r.Delete("/{id}", clinic.DeleteSession)
			})
			r.Route("/responses", func(r chi.Router) {
				r.Get("/", clinic.ListResponses)
				r.Post("/", clinic.SubmitKiosk)
				r.Get("/{id}", clinic.GetResponse)
				r.Post("/{id}/link-patient", clinic.LinkPatient)
			})
			if dep.ChangesHandler != nil {
				r.Get("/changes", dep.ChangesHandler.Stream)
			}
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
