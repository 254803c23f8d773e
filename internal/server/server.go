// Package server exposes the gamma-exposure engine over HTTP: full
// snapshots, condensed structure, health and a WebSocket stream.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexflow/internal/gex"
	"github.com/dgnsrekt/gexflow/internal/store"
	"github.com/dgnsrekt/gexflow/internal/ws"
)

// SnapshotArchive reads persisted snapshots for prior-session comparisons.
type SnapshotArchive interface {
	PriorSessionSnapshot(ctx context.Context, symbol string, before time.Time) (*store.SnapshotRecord, error)
}

type Server struct {
	service *Service
	engine  *gex.Engine
	hub     *ws.Hub
	archive SnapshotArchive
	logger  *zap.Logger
	started time.Time
}

// NewServer wires the HTTP surface. hub may be nil when streaming is
// disabled (the /v1/ws route is simply not mounted); archive may be nil
// when no database is configured.
func NewServer(service *Service, engine *gex.Engine, hub *ws.Hub, archive SnapshotArchive, logger *zap.Logger) *Server {
	return &Server{
		service: service,
		engine:  engine,
		hub:     hub,
		archive: archive,
		logger:  logger,
		started: time.Now(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(s.logger))

	r.Get("/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/gex", func(gr chi.Router) {
		gr.Get("/{symbol}", s.handleSnapshot)
		gr.Get("/{symbol}/structure", s.handleStructure)
		gr.Get("/{symbol}/prior", s.handlePriorSession)
	})

	if s.hub != nil {
		r.Get("/v1/ws", s.hub.HandleWS)
	}

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
		})
	}
}
