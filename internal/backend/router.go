package backend

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"discover-engine/internal/observability"
	"discover-engine/internal/wire"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// AllowedOrigins for CORS. Default: any origin.
	AllowedOrigins []string
}

// NewRouter wires the HTTP surface of the service:
//
//	POST /rpc      JSON-RPC calls
//	GET  /ws       engagement subscriptions
//	GET  /health   liveness
//	GET  /metrics  Prometheus
func NewRouter(service *Service, opts RouterOptions) http.Handler {
	r := mux.NewRouter()

	r.Handle("/rpc", NewRPCHandler(service)).Methods(http.MethodPost)
	r.Handle("/ws", NewWSHandler(service)).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", observability.Handler()).Methods(http.MethodGet)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", wire.HeaderUser},
	}).Handler(r)
}
