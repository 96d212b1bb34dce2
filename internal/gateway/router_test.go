package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HanTheDev/art-gateway/internal/auth"
	"github.com/HanTheDev/art-gateway/internal/config"
	"github.com/HanTheDev/art-gateway/internal/models"
)

func newTestRouter(env *testEnv) http.Handler {
	h := NewHandler(env.cfg, env.pipeline, env.store, auth.NewAuthenticator(testSecret))
	h.now = env.clock.Now
	return NewRouter(h)
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func generateRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, testBaseURL+"/api/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testSecret)
	return req
}

func TestRouter_GenerateAndServe(t *testing.T) {
	env := newTestEnv(withoutGuard())
	router := newTestRouter(env)

	w := serve(router, generateRequest(promptBody("cyberpunk cityscape at night")))
	if w.Code != http.StatusOK {
		t.Fatalf("generate status %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	var resp models.GenerateResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(resp.LatestURL, "/art/latest.jpg") || !historyURLPattern.MatchString(resp.HistoryURL) {
		t.Errorf("unexpected urls %+v", resp)
	}

	hist := serve(router, httptest.NewRequest(http.MethodGet, resp.HistoryURL, nil))
	if hist.Code != http.StatusOK || hist.Body.String() != "image-1" {
		t.Fatalf("history fetch: %d %q", hist.Code, hist.Body.String())
	}
	if hist.Header().Get("Cache-Control") != "public, max-age=31536000, immutable" {
		t.Errorf("history cache-control = %s", hist.Header().Get("Cache-Control"))
	}
	if hist.Header().Get("Access-Control-Allow-Origin") != "*" || hist.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("history headers = %v", hist.Header())
	}

	first := serve(router, httptest.NewRequest(http.MethodGet, resp.LatestURL, nil))
	second := serve(router, httptest.NewRequest(http.MethodGet, resp.LatestURL, nil))
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) || first.Body.String() != "image-1" {
		t.Errorf("latest not stable: %q vs %q", first.Body.String(), second.Body.String())
	}
	if first.Header().Get("Cache-Control") != "no-cache, no-store, must-revalidate" {
		t.Errorf("latest cache-control = %s", first.Header().Get("Cache-Control"))
	}

	etag := first.Header().Get("ETag")
	req := httptest.NewRequest(http.MethodGet, resp.LatestURL, nil)
	req.Header.Set("If-None-Match", etag)
	if w := serve(router, req); w.Code != http.StatusNotModified {
		t.Errorf("conditional get status %d", w.Code)
	}
}

func TestRouter_ErrorResponses(t *testing.T) {
	env := newTestEnv(withoutGuard())
	router := newTestRouter(env)

	w := serve(router, generateRequest(promptBody("")))
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), `"error":"invalid_prompt"`) {
		t.Errorf("empty prompt: %d %s", w.Code, w.Body.String())
	}

	w = serve(router, generateRequest(promptBody(strings.Repeat("a", 501))))
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), `"error":"prompt_too_long"`) {
		t.Errorf("long prompt: %d %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, testBaseURL+"/api/generate", strings.NewReader(promptBody("a quiet harbor")))
	req.Header.Set("Origin", "https://elsewhere.example")
	w = serve(router, req)
	if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), `"error":"unauthorized"`) {
		t.Errorf("cross origin: %d %s", w.Code, w.Body.String())
	}

	w = serve(router, generateRequest(promptBody(strings.Repeat("a", 10_001))))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: %d", w.Code)
	}
}

func TestRouter_RateLimitHeaders(t *testing.T) {
	env := newTestEnv()
	router := newTestRouter(env)

	var w *httptest.ResponseRecorder
	for i := 0; i < 11; i++ {
		w = serve(router, generateRequest(promptBody("a quiet harbor")))
	}
	env.pipeline.Wait()

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" || w.Header().Get("Retry-After") == "" {
		t.Errorf("rate limit headers = %v", w.Header())
	}
	var body struct {
		Error     string `json:"error"`
		Remaining *int64 `json:"remaining"`
		ResetAt   string `json:"resetAt"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Error != "rate_limit_exceeded" || body.Remaining == nil || body.ResetAt == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestRouter_ArtNotFound(t *testing.T) {
	router := newTestRouter(newTestEnv(withoutGuard()))

	w := serve(router, httptest.NewRequest(http.MethodGet, "/art/nope.jpg", nil))
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "Image not found") {
		t.Errorf("missing art: %d %s", w.Code, w.Body.String())
	}
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(newTestEnv(withoutGuard()))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/nope", nil),
		httptest.NewRequest(http.MethodGet, "/api/generate", nil),
		httptest.NewRequest(http.MethodDelete, "/health", nil),
	} {
		w := serve(router, req)
		if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "Not found") {
			t.Errorf("%s %s: %d %s", req.Method, req.URL.Path, w.Code, w.Body.String())
		}
	}
}

func TestRouter_Preflight(t *testing.T) {
	router := newTestRouter(newTestEnv(withoutGuard()))

	w := serve(router, httptest.NewRequest(http.MethodOptions, "/api/generate", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", w.Code)
	}
	expected := map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type, Authorization, X-API-Key",
		"Access-Control-Max-Age":       "86400",
	}
	for header, value := range expected {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, expected %q", header, got, value)
		}
	}
}

func TestRouter_Health(t *testing.T) {
	for _, tc := range []struct {
		env  *testEnv
		want string
	}{
		{newTestEnv(withoutGuard()), "disabled"},
		{newTestEnv(), "enabled"},
	} {
		w := serve(newTestRouter(tc.env), httptest.NewRequest(http.MethodGet, "/health", nil))
		var health models.HealthResponse
		json.NewDecoder(w.Body).Decode(&health)
		if w.Code != http.StatusOK || health.Status != "ok" || health.RateLimit != tc.want || health.Version != config.Version {
			t.Errorf("health = %d %+v", w.Code, health)
		}
		if _, err := time.Parse(time.RFC3339, health.Timestamp); err != nil {
			t.Errorf("timestamp %q: %v", health.Timestamp, err)
		}
	}
}

func TestRouter_Index(t *testing.T) {
	w := serve(newTestRouter(newTestEnv(withoutGuard())), httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("index: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "/api/generate") {
		t.Error("index should contain the frontend")
	}
}

func TestRouter_History(t *testing.T) {
	env := newTestEnv(withoutGuard())
	router := newTestRouter(env)

	for i := 0; i < 3; i++ {
		serve(router, generateRequest(promptBody("a quiet harbor")))
		env.clock.Advance(time.Second)
	}

	w := serve(router, httptest.NewRequest(http.MethodGet, testBaseURL+"/api/history?limit=2", nil))
	var resp models.HistoryResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if w.Code != http.StatusOK || len(resp.Items) != 2 {
		t.Fatalf("history: %d %+v", w.Code, resp)
	}
	if !resp.Items[0].UploadedAt.After(resp.Items[1].UploadedAt) {
		t.Error("history should be newest first")
	}
	for _, item := range resp.Items {
		if item.Key == "art/latest.jpg" || !strings.HasPrefix(item.URL, testBaseURL+"/art/") {
			t.Errorf("unexpected item %+v", item)
		}
	}
}

func TestRouter_Token(t *testing.T) {
	env := newTestEnv(withoutGuard())
	router := newTestRouter(env)

	w := serve(router, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"api_key":"wrong"}`)))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: %d", w.Code)
	}

	w = serve(router, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"api_key":"s3cret"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("token: %d %s", w.Code, w.Body.String())
	}
	var tok struct {
		Token string `json:"token"`
	}
	json.NewDecoder(w.Body).Decode(&tok)

	req := httptest.NewRequest(http.MethodPost, testBaseURL+"/api/generate", strings.NewReader(promptBody("a quiet harbor")))
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	if w := serve(router, req); w.Code != http.StatusOK {
		t.Errorf("generate with token: %d %s", w.Code, w.Body.String())
	}
}

func TestRouter_TokenSigningFailure(t *testing.T) {
	env := newTestEnv(withoutGuard())
	h := NewHandler(env.cfg, env.pipeline, env.store, auth.NewAuthenticator(testSecret))
	h.sign = func(string, string, time.Time) (string, error) {
		return "", errors.New("key unavailable")
	}
	router := NewRouter(h)

	w := serve(router, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"api_key":"s3cret"}`)))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Error != "generation_failed" || body.Message != "Failed to generate token" {
		t.Errorf("body = %+v", body)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := ClientIP(req, false); got != "192.0.2.10" {
		t.Errorf("untrusted = %s", got)
	}
	if got := ClientIP(req, true); got != "203.0.113.7" {
		t.Errorf("trusted = %s", got)
	}

	req.RemoteAddr = ""
	if got := ClientIP(req, false); got != "unknown" {
		t.Errorf("empty = %s", got)
	}
}
