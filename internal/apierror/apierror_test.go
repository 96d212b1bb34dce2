package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestKindStatus(t *testing.T) {
	tests := map[Kind]int{
		KindRequestTooLarge:          413,
		KindUnauthorized:             401,
		KindRateLimitExceeded:        429,
		KindGlobalRateLimitExceeded:  429,
		KindDailyBudgetExceeded:      429,
		KindInvalidJSON:              400,
		KindInvalidPrompt:            400,
		KindPromptTooLong:            400,
		KindInappropriatePrompt:      400,
		KindImageTooLarge:            500,
		KindInsufficientCredits:      402,
		KindTimeout:                  504,
		KindProviderRateLimit:        429,
		KindInvalidPromptForProvider: 400,
		KindGenerationFailed:         500,
		Kind("something_else"):       500,
	}
	for kind, want := range tests {
		if got := kind.Status(); got != want {
			t.Errorf("%s: status = %d, expected %d", kind, got, want)
		}
	}
}

func TestFrom_HidesInternalErrors(t *testing.T) {
	got := From(errors.New("dial tcp 10.0.0.5:6379: connection refused"))
	if got.Kind != KindGenerationFailed {
		t.Errorf("Kind = %s", got.Kind)
	}
	if got.Message != "Failed to generate image" {
		t.Errorf("Message leaked internals: %q", got.Message)
	}

	wrapped := fmt.Errorf("stage: %w", New(KindTimeout, "took too long"))
	if From(wrapped).Kind != KindTimeout {
		t.Error("From should unwrap *Error")
	}
}

func TestWrite_RateLimitMetadata(t *testing.T) {
	reset := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)
	w := httptest.NewRecorder()
	Write(w, RateLimited(KindRateLimitExceeded, "Too many requests", 0, reset, 45*time.Second))

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "45" {
		t.Errorf("Retry-After = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}

	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["error"] != "rate_limit_exceeded" || payload["message"] != "Too many requests" {
		t.Errorf("unexpected body %v", payload)
	}
	if payload["remaining"] != float64(0) {
		t.Errorf("remaining = %v", payload["remaining"])
	}
	if payload["resetAt"] != "2026-01-01T12:01:00Z" {
		t.Errorf("resetAt = %v", payload["resetAt"])
	}
}

func TestWrite_PlainError(t *testing.T) {
	w := httptest.NewRecorder()
	Write(w, New(KindInvalidPrompt, "Prompt is required"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
	var payload map[string]any
	json.Unmarshal(w.Body.Bytes(), &payload)
	if _, ok := payload["remaining"]; ok {
		t.Error("remaining should be omitted for non rate-limit errors")
	}
	if w.Header().Get("Retry-After") != "" {
		t.Error("Retry-After should not be set")
	}
}
