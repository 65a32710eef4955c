package app

import (
	"context"
	"net/http"
	"time"

	"nightline/internal/httpapi"
	"nightline/internal/realtime"
	"nightline/internal/repo"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const apiPrefix = "/api/v1"

// newMux registers every HTTP + websocket route: health probes, metrics,
// the realtime gateway's two socket endpoints, and the httpapi CRUD
// surface under apiPrefix.
func newMux(log Logger, cfg Config, gateway *realtime.Gateway, api *httpapi.Handler, metrics *prometheus.Registry, mongoHandle *repo.Mongo, redisClient *redis.Client) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && mongoHandle == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if mongoHandle != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := mongoHandle.Ping(ctx); err != nil {
				log.Info("readyz.db.not_ready", "err", err)
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.Info("readyz.redis.not_ready", "err", err)
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /events", gateway.HandleEvents)
	mux.HandleFunc("GET /chat/{hex}", func(w http.ResponseWriter, r *http.Request) {
		gateway.HandleChat(r.PathValue("hex"))(w, r)
	})

	api.Register(mux, apiPrefix)

	return mux
}

// withMiddleware wraps mux with the ambient request logging, security
// headers, and CORS policy shared by every route.
func withMiddleware(mux *http.ServeMux, cfg Config, log Logger) http.Handler {
	var h http.Handler = mux
	h = WithCORS(h, cfg, log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, log)
	return h
}
