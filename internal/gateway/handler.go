package gateway

import (
	_ "embed"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/HanTheDev/art-gateway/internal/apierror"
	"github.com/HanTheDev/art-gateway/internal/auth"
	"github.com/HanTheDev/art-gateway/internal/config"
	"github.com/HanTheDev/art-gateway/internal/models"
	"github.com/HanTheDev/art-gateway/internal/ratelimit"
	"github.com/HanTheDev/art-gateway/internal/storage"
	"github.com/HanTheDev/art-gateway/pkg/logger"
)

//go:embed web/index.html
var indexHTML []byte

const (
	defaultHistoryLimit = 12
	maxHistoryLimit     = 100
)

type Handler struct {
	cfg      *config.Config
	pipeline *Pipeline
	store    storage.Store
	auth     *auth.Authenticator
	now      func() time.Time
	sign     func(subject, secret string, now time.Time) (string, error)
}

func NewHandler(cfg *config.Config, pipeline *Pipeline, store storage.Store, authn *auth.Authenticator) *Handler {
	return &Handler{cfg: cfg, pipeline: pipeline, store: store, auth: authn, now: time.Now, sign: auth.GenerateToken}
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	res, err := h.pipeline.HandleGenerate(r.Context(), Request{
		ID:            requestID,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Client:        ClientIP(r, h.cfg.Server.TrustProxyHeaders),
		Credentials:   auth.FromRequest(r),
		BaseURL:       h.baseURL(r),
	})
	if err != nil {
		apierror.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.GenerateResponse{
		LatestURL:  res.LatestURL,
		HistoryURL: res.HistoryURL,
		Prompt:     res.Prompt,
	})
}

// ServeArt streams a stored object with its stored metadata.
func (h *Handler) ServeArt(w http.ResponseWriter, r *http.Request) {
	key := storage.Prefix + mux.Vars(r)["key"]

	obj, err := h.store.Get(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Image not found")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("failed to read object")
		writeError(w, http.StatusInternalServerError, "storage_error", "Failed to load image")
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.CacheControl != "" {
		w.Header().Set("Cache-Control", obj.CacheControl)
	}
	if obj.ETag != "" {
		w.Header().Set("ETag", obj.ETag)
		if match := r.Header.Get("If-None-Match"); match != "" && match == obj.ETag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(obj.Data)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rateLimit := "disabled"
	if h.pipeline.RateLimitEnabled() {
		rateLimit = "enabled"
	}
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Version:   config.Version,
		RateLimit: rateLimit,
	})
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(indexHTML)
}

// History lists the most recent history objects, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, maxHistoryLimit)
		}
	}

	infos, err := storage.Recent(r.Context(), h.store, limit)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list history")
		writeError(w, http.StatusInternalServerError, "storage_error", "Failed to list images")
		return
	}

	base := h.baseURL(r)
	items := make([]models.HistoryItem, 0, len(infos))
	for _, info := range infos {
		items = append(items, models.HistoryItem{
			Key:        info.Key,
			URL:        base + "/" + info.Key,
			Size:       info.Size,
			UploadedAt: info.UploadedAt,
		})
	}
	writeJSON(w, http.StatusOK, models.HistoryResponse{Items: items})
}

// Token exchanges the shared secret for a signed access token.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.Limits.MaxBodyBytes)).Decode(&req); err != nil {
		apierror.Write(w, apierror.New(apierror.KindInvalidJSON, "Invalid JSON in request body"))
		return
	}

	if !h.auth.MatchesSecret(req.APIKey) {
		apierror.Write(w, apierror.New(apierror.KindUnauthorized, "Invalid API key"))
		return
	}

	// Token expiry is checked against the wall clock.
	now := time.Now()
	token, err := h.sign("api", h.auth.Secret(), now)
	if err != nil {
		logger.Error().Err(err).Msg("token generation failed")
		apierror.Write(w, apierror.New(apierror.KindGenerationFailed, "Failed to generate token"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token":      token,
		"expires_at": now.Add(auth.TokenTTL).UTC().Format(time.RFC3339),
	})
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found", "Not found")
}

// baseURL is the public origin used in returned artifact URLs.
func (h *Handler) baseURL(r *http.Request) string {
	if h.cfg.Server.PublicBaseURL != "" {
		return h.cfg.Server.PublicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if h.cfg.Server.TrustProxyHeaders {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
		}
	}
	return scheme + "://" + r.Host
}

// ClientIP identifies the caller for per-client rate limiting. Forwarding
// headers are only honoured when the gateway runs behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return ratelimit.UnknownClient
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}
