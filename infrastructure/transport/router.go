package transport

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"time"

	"message-board/contract"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

//go:embed playground.html
var playgroundHTML []byte

const healthTimeout = 2 * time.Second

// NewRouter mounts the GraphQL endpoint, Prometheus metrics and the store probe behind CORS.
func NewRouter(log *slog.Logger, graphql http.Handler, store contract.Store, gatherer prometheus.Gatherer, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/graphql", graphql)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", healthz(log, store))

	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}).Handler(mux)
}

func healthz(log *slog.Logger, store contract.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			log.Warn("Health probe failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
