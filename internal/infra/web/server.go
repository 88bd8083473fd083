// Package web exposes the HTTP API: document submission, job status and
// results, batches, webhook subscriptions, health and metrics.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/usecase"
)

// Pinger reports the liveness of one dependency for the health endpoint.
type Pinger func(ctx context.Context) error

type Server struct {
	jobUC     usecase.JobUC
	resultUC  usecase.ResultUC
	batchUC   usecase.BatchUC
	webhookUC usecase.WebhookUC
	pingers   map[string]Pinger
	apiKey    string
	log       *zerolog.Logger
}

func NewServer(
	jobUC usecase.JobUC,
	resultUC usecase.ResultUC,
	batchUC usecase.BatchUC,
	webhookUC usecase.WebhookUC,
	pingers map[string]Pinger,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "web").Logger()
	return &Server{
		jobUC:     jobUC,
		resultUC:  resultUC,
		batchUC:   batchUC,
		webhookUC: webhookUC,
		pingers:   pingers,
		apiKey:    apiKey,
		log:       &l,
	}
}

// Router builds the chi router. Everything under /api/v1 sits behind the
// bearer check; health and metrics stay open for probes and scrapers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/", s.infoHandler())
	r.Get("/health", s.healthHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/documents", s.submitHandler())
		r.Post("/documents/batch", s.submitBatchHandler())

		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", s.statusHandler())
			r.Delete("/", s.cancelHandler())
			r.Get("/result", s.resultHandler())
			r.Get("/download/{format}", s.downloadHandler())
		})

		r.Get("/batches/{batchID}", s.batchStatusHandler())
		r.Post("/webhooks", s.subscribeHandler())
	})
	return r
}
