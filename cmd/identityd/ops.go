package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/goVerify/internal/health"
	"github.com/MrEthical07/goVerify/metrics/export/prometheus"
	"github.com/gorilla/mux"
)

type healthProbe func(ctx context.Context) health.Status

func newOpsRouter(a *app) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/health/alive", healthHandler(a.health.Live)).Methods(http.MethodGet)
	r.Handle("/health/ready", healthHandler(a.health.Ready)).Methods(http.MethodGet)
	r.Handle("/metrics", prometheus.NewExporter(a.engine).Handler()).Methods(http.MethodGet)
	return r
}

func healthHandler(probe healthProbe) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := probe(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !st.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	})
}
