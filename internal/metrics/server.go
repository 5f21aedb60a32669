package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/andresmejia3/attendant/internal/types"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Status is the read-only view of the pipeline served over HTTP.
type Status interface {
	Health() error
	Stats(ctx context.Context) (count, guests int, err error)
	TryGetLatestResult() (types.Result, bool)
}

// NewRouter serves /metrics, /healthz and the JSON status endpoints under /api.
func NewRouter(status Status) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(10 * time.Second))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := status.Health(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			count, guests, err := status.Stats(r.Context())
			if err != nil {
				respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			respondJSON(w, http.StatusOK, map[string]int{"registered": count, "guests": guests})
		})
		r.Get("/results/latest", func(w http.ResponseWriter, r *http.Request) {
			res, ok := status.TryGetLatestResult()
			if !ok {
				respondError(w, http.StatusNotFound, "no result yet")
				return
			}
			respondJSON(w, http.StatusOK, res)
		})
	})
	return r
}

// StartServer serves NewRouter on port until the returned server is shut down.
func StartServer(ctx context.Context, port int, status Status, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     NewRouter(status),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("metrics server starting", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	return srv
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
