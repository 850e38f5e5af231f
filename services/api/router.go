package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"umkmhub/pkg/db"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(a.withAuth)

		r.Route("/auth", func(r chi.Router) {
			// Credential endpoints are the brute-force target.
			r.Use(httprate.LimitByIP(20, time.Minute))
			r.Post("/register", a.handleRegister)
			r.Post("/token", a.handleIssueToken)
			r.Post("/refresh", a.handleRefreshToken)
			r.Post("/signout", a.handleSignOut)
		})

		r.Route("/data/{table}", func(r chi.Router) {
			r.Get("/", a.handleDataSelect)
			r.Post("/", a.handleDataInsert)
			r.Patch("/", a.handleDataUpdate)
			r.Delete("/", a.handleDataDelete)
		})

		r.With(requireAuth).Post("/avatars/upload", a.handleAvatarUpload)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/stats", a.handleAdminStats)
			r.Get("/members/growth", a.handleAdminMemberGrowth)
		})
	})

	return r, nil
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if a.store.DB != nil {
		if err := db.Ping(ctx, a.store.DB); err != nil {
			respondError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
