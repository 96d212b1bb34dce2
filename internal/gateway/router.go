package gateway

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HanTheDev/art-gateway/pkg/logger"
)

// RouteRegistrar adds its own routes to the gateway router.
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// NewRouter wires every public route. Unknown paths and wrong methods both
// answer 404.
func NewRouter(h *Handler, extra ...RouteRegistrar) http.Handler {
	router := mux.NewRouter()

	// Preflight for any path.
	router.Methods(http.MethodOptions).HandlerFunc(preflight)

	router.HandleFunc("/api/generate", h.Generate).Methods(http.MethodPost)
	router.HandleFunc("/api/history", h.History).Methods(http.MethodGet)
	router.HandleFunc("/art/{key:.+}", h.ServeArt).Methods(http.MethodGet)
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/auth/token", h.Token).Methods(http.MethodPost)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/", h.Index).Methods(http.MethodGet)

	for _, r := range extra {
		r.RegisterRoutes(router)
	}

	router.NotFoundHandler = http.HandlerFunc(h.NotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(h.NotFound)

	return logger.HTTP(cors(router))
}

func preflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}
