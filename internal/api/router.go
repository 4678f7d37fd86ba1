package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID, s.accessLog, s.recoverer, s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	if s.metrics != nil && s.metricsPath != "" {
		r.Handle(s.metricsPath, s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystemStatus)
		r.Get("/catalog", s.handleCatalog)
		r.Post("/poll", s.handlePollNow)
		r.Get("/audit", s.handleListAudit)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{address}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Delete("/", s.handleForgetDevice)
				r.Post("/commands", s.handleCommand)

				r.Route("/attributes", func(r chi.Router) {
					r.Get("/", s.handleListAttributes)
					r.Get("/{attr}", s.handleGetAttribute)
					r.Put("/{attr}", s.handleWriteAttribute)
					r.Post("/{attr}/read", s.handleReadAttribute)
					r.Get("/{attr}/history", s.handleAttributeHistory)
				})
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports bridge availability. The status is "degraded"
// while the bus is unavailable; the response code stays 200 so the
// endpoint can double as a liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.engine.Stats()
	status := "ok"
	if !s.engine.Online() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"connection": stats.Session.State.String(),
		"devices":    stats.Devices,
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleCatalog lists every known attribute definition.
func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	specs := s.engine.Catalog().Specs()
	out := make([]catalogEntry, 0, len(specs))
	for _, spec := range specs {
		out = append(out, newCatalogEntry(spec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"attributes": out, "count": len(out)})
}

// handlePollNow runs one poll cycle immediately.
func (s *Server) handlePollNow(w http.ResponseWriter, r *http.Request) {
	ran := s.engine.PollNow(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ran": ran})
}

// parseAddress reads the {address} URL parameter.
func parseAddress(r *http.Request) (nasa.Address, error) {
	return nasa.ParseAddress(chi.URLParam(r, "address"))
}
