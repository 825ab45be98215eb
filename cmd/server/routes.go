package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/himanishpuri/ezscreen/pkg/logger"
)

// setupRoutes registers all HTTP routes and middleware
func (s *Server) setupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.config.AllowedOrigins))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/blocks/screen", s.handleScreenBlock)
		r.Post("/blocks/raw", s.handleRawBlock)

		r.Get("/runs", s.handleListRuns)
		r.Delete("/runs", s.handleDeleteRuns)
		r.Get("/runs/{id}/scores", s.handleRunScores)
	})

	return r
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
				w.Header().Set("Access-Control-Allow-Origin", "*")
				allowed = true
			} else {
				for _, allowedOrigin := range allowedOrigins {
					if allowedOrigin == origin {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs every request with its status and latency
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.GetLogger().With("http").Infof("%s %s from %s -> %d (%s, %s) [%s]",
			r.Method, r.URL.Path, r.RemoteAddr, ww.Status(),
			humanize.Bytes(uint64(ww.BytesWritten())), time.Since(start).Round(time.Millisecond),
			middleware.GetReqID(r.Context()))
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.log.Infof("ezscreen server starting on %s", addr)
	s.log.Infof("   Ledger: %s", s.config.DBPath)
	s.log.Infof("   Sample Rate: %g Hz", s.config.SampleRate)
	s.log.Infof("   Max body: %s", humanize.Bytes(uint64(s.config.MaxBodyBytes)))
	s.log.Infof("   CORS Origins: %v", s.config.AllowedOrigins)
	s.log.Infof("Endpoints:")
	s.log.Infof("   GET    /health                  - Health check")
	s.log.Infof("   POST   /api/blocks/screen       - Screen, derive and classify a block")
	s.log.Infof("   POST   /api/blocks/raw          - Derive and classify a block without screening")
	s.log.Infof("   GET    /api/runs?file_id=       - List ledger runs")
	s.log.Infof("   DELETE /api/runs?file_id=       - Delete ledger runs of a file")
	s.log.Infof("   GET    /api/runs/{id}/scores    - Interference scores of a run")

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
