// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/voxsync/internal/api/middleware"
)

const rateWindow = time.Minute

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        s.cfg.AllowedOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.cfg.TracingService,
		EnableLogging:         true,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(middleware.RateLimit(middleware.RateLimitConfig{
				RequestLimit: s.cfg.RateLimit,
				WindowSize:   rateWindow,
				KeyFunc:      s.rateLimitKey,
			}))
		}
		r.Use(middleware.CSRFProtection(s.cfg.AllowedOrigins))

		// The OAuth provider redirects the browser here; the state value
		// authenticates the callback.
		r.Get("/auth/callback", s.handleAuthCallback)
		r.Get("/version", s.handleVersion)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Get("/status", s.handleStatus)

			r.Get("/recordings", s.handleListRecordings)
			r.Post("/recordings/start", s.handleStartRecording)
			r.Post("/recordings/stop", s.handleStopRecording)
			r.Get("/recordings/{id}", s.handleGetRecording)
			r.Get("/recordings/{id}/audio", s.handleRecordingAudio)
			r.Post("/recordings/{id}/export", s.handleExportRecording)
			r.Delete("/recordings/{id}", s.handleDeleteRecording)

			r.With(middleware.SyncRateLimit()).Post("/sync", s.handleSync)

			r.Get("/auth/url", s.handleAuthURL)
			r.Post("/auth/signin", s.handleSignIn)
			r.Post("/auth/signout", s.handleSignOut)

			r.Get("/connectivity", s.handleGetConnectivity)
			r.Post("/connectivity", s.handleSetConnectivity)
		})
	})

	if s.shell != nil {
		r.Handle("/*", s.shell.Handler())
	} else {
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusNotFound, codeNotFound, "no such route")
		})
	}
	return r
}
