// Package statusapi serves the agent's local HTTP status surface.
package statusapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Schera-ole/telemetry-agent/internal/agent"
	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
	middlewareinternal "github.com/Schera-ole/telemetry-agent/internal/middleware"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
	"github.com/Schera-ole/telemetry-agent/internal/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Agent is the part of *agent.Agent the status surface reads.
type Agent interface {
	Status() agent.Status
	Metrics() *telemetry.Metrics
	OnConfig(data []byte) error
}

// Values lists exported metric values. *memexporter.Exporter satisfies it.
type Values interface {
	ListMetrics() []models.MetricsDTO
	GetMetric(name string) (models.MetricsDTO, error)
}

// Router builds the status routes. values may be nil. When key is set,
// configuration pushes must carry a matching HashSHA256 header.
func Router(a Agent, values Values, key string, logger *zap.SugaredLogger) chi.Router {
	router := chi.NewRouter()
	router.Use(middlewareinternal.LoggingMiddleware(logger))
	router.Use(middlewareinternal.GzipMiddleware)
	router.Use(middleware.StripSlashes)
	router.Use(middleware.Timeout(15 * time.Second))

	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		PingHandler(w, r, a)
	})
	router.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.Status())
	})
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.Metrics().Registry, promhttp.HandlerOpts{DisableCompression: true}))
	router.Post("/config", func(w http.ResponseWriter, r *http.Request) {
		ConfigHandler(w, r, a, key, logger)
	})
	if values != nil {
		router.Get("/values", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, values.ListMetrics())
		})
		router.Get("/value/{name}", func(w http.ResponseWriter, r *http.Request) {
			GetValueHandler(w, r, values)
		})
	}
	return router
}

// PingHandler answers 200 while the agent loop is running.
func PingHandler(w http.ResponseWriter, r *http.Request, a Agent) {
	if !a.Status().Ready {
		http.Error(w, "agent not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ConfigHandler replaces the agent configuration with the request body.
func ConfigHandler(w http.ResponseWriter, r *http.Request, a Agent, key string, logger *zap.SugaredLogger) {
	body, err := ReadRequestBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := VerifyRequestHash(body, r.Header.Get("HashSHA256"), key); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.Header.Get("Content-Encoding") == "gzip" {
		if body, err = DecompressBody(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	err = a.OnConfig(body)
	switch {
	case errors.Is(err, internalerrors.ErrInvalidConfig):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, internalerrors.ErrAgentStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil:
		logger.Errorw("configuration push failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

// GetValueHandler returns one exported metric by name.
func GetValueHandler(w http.ResponseWriter, r *http.Request, values Values) {
	metric, err := values.GetMetric(chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, "Metric name not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, metric)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
