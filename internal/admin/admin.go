package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/HanTheDev/art-gateway/internal/auth"
	"github.com/HanTheDev/art-gateway/internal/budget"
	"github.com/HanTheDev/art-gateway/internal/config"
	"github.com/HanTheDev/art-gateway/internal/db"
	"github.com/HanTheDev/art-gateway/pkg/logger"
)

const (
	defaultGenerationsLimit = 50
	maxGenerationsLimit     = 500
)

// AdminHandler serves operator endpoints. ledger and database may be nil
// when the corresponding backend is not configured.
type AdminHandler struct {
	cfg    *config.Config
	auth   *auth.Authenticator
	ledger *budget.Ledger
	db     *db.DB
}

func NewAdminHandler(cfg *config.Config, authn *auth.Authenticator, ledger *budget.Ledger, database *db.DB) *AdminHandler {
	return &AdminHandler{cfg: cfg, auth: authn, ledger: ledger, db: database}
}

func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(h.auth.RequireCredential)

	admin.HandleFunc("/usage", h.GetUsage).Methods("GET")
	admin.HandleFunc("/budget", h.OverrideBudget).Methods("PUT")
	admin.HandleFunc("/generations", h.ListGenerations).Methods("GET")
}

type usageResponse struct {
	RateLimit    string         `json:"rateLimit"`
	Budget       *budget.Status `json:"budget,omitempty"`
	ClientLimit  int64          `json:"clientLimit"`
	ClientWindow string         `json:"clientWindow"`
	GlobalLimit  int64          `json:"globalLimit"`
	GlobalWindow string         `json:"globalWindow"`
	CostPerImage string         `json:"costPerImage"`
}

func (h *AdminHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	resp := usageResponse{
		RateLimit:    "disabled",
		ClientLimit:  h.cfg.Limits.ClientLimit,
		ClientWindow: h.cfg.Limits.ClientWindow.String(),
		GlobalLimit:  h.cfg.Limits.GlobalLimit,
		GlobalWindow: h.cfg.Limits.GlobalWindow.String(),
		CostPerImage: h.cfg.Limits.CostPerImage,
	}

	if h.ledger != nil {
		status, err := h.ledger.Check(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("failed to read daily spend")
			writeError(w, http.StatusInternalServerError, "Failed to read usage")
			return
		}
		resp.RateLimit = "enabled"
		resp.Budget = &status
		resp.CostPerImage = h.ledger.Cost().String()
	}

	writeJSON(w, http.StatusOK, resp)
}

// OverrideBudget replaces today's recorded spend, e.g. {"spent":"0.00"}.
func (h *AdminHandler) OverrideBudget(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "Counter store not configured")
		return
	}

	var req struct {
		Spent decimal.Decimal `json:"spent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Spent.IsNegative() {
		writeError(w, http.StatusBadRequest, "spent must not be negative")
		return
	}

	status, err := h.ledger.Override(r.Context(), req.Spent)
	if err != nil {
		logger.Error().Err(err).Msg("failed to override daily spend")
		writeError(w, http.StatusInternalServerError, "Failed to update budget")
		return
	}

	logger.Warn().Str("spent", req.Spent.String()).Msg("daily spend overridden by operator")
	writeJSON(w, http.StatusOK, status)
}

func (h *AdminHandler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, "Database not configured")
		return
	}

	limit := defaultGenerationsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxGenerationsLimit)
	}

	logs, err := h.db.RecentGenerations(r.Context(), limit)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list generations")
		writeError(w, http.StatusInternalServerError, "Failed to list generations")
		return
	}

	writeJSON(w, http.StatusOK, logs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
