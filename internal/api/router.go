// Package api exposes a transfer manager over HTTP.
//
// Routes:
//   - POST   /jobs       submit a job
//   - GET    /jobs       list active and retained jobs
//   - GET    /jobs/{id}  job status with parts
//   - DELETE /jobs/{id}  cancel a job
//   - POST   /batches    submit one job per file under a directory or prefix
//   - GET    /events     server-sent progress events, optionally ?job=<id>
//   - GET    /metrics    Prometheus metrics
//   - GET    /healthz    liveness
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	transfer "github.com/input-output-hk/catalyst-forge-libs/aws/transfer"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/progress"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// requestTimeout bounds every route except the event stream.
const requestTimeout = 30 * time.Second

// Service is the part of the transfer manager the API drives.
type Service interface {
	Submit(ctx context.Context, spec xfertypes.JobSpec) (xfertypes.JobID, error)
	Cancel(ctx context.Context, id xfertypes.JobID) error
	Status(ctx context.Context, id xfertypes.JobID) (xfertypes.JobStatus, error)
	Jobs(ctx context.Context) ([]xfertypes.JobStatus, error)
	Subscribe(id xfertypes.JobID) *progress.Subscription
	UploadDir(ctx context.Context, dir string, dest xfertypes.Object, opts transfer.BatchOptions) ([]xfertypes.JobID, error)
	DownloadPrefix(ctx context.Context, src xfertypes.Object, dir string, opts transfer.BatchOptions) ([]xfertypes.JobID, error)
}

// NewRouter builds the chi router. A nil gatherer omits /metrics.
func NewRouter(svc Service, gatherer prometheus.Gatherer, log logrus.FieldLogger) http.Handler {
	h := &handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// the stream lives as long as the client stays connected
	r.Get("/events", h.events)

	r.Route("/jobs", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Post("/", h.submit)
		r.Get("/", h.list)
		r.Get("/{id}", h.status)
		r.Delete("/{id}", h.cancel)
	})

	r.With(middleware.Timeout(requestTimeout)).Post("/batches", h.batch)

	return r
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}).Debug("API request completed")
		})
	}
}
