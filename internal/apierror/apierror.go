package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Kind is the machine-readable error identifier returned to callers.
type Kind string

const (
	KindRequestTooLarge          Kind = "request_too_large"
	KindUnauthorized             Kind = "unauthorized"
	KindRateLimitExceeded        Kind = "rate_limit_exceeded"
	KindGlobalRateLimitExceeded  Kind = "global_rate_limit_exceeded"
	KindDailyBudgetExceeded      Kind = "daily_budget_exceeded"
	KindInvalidJSON              Kind = "invalid_json"
	KindInvalidPrompt            Kind = "invalid_prompt"
	KindPromptTooLong            Kind = "prompt_too_long"
	KindInappropriatePrompt      Kind = "inappropriate_prompt"
	KindImageTooLarge            Kind = "image_too_large"
	KindInsufficientCredits      Kind = "insufficient_credits"
	KindTimeout                  Kind = "timeout"
	KindProviderRateLimit        Kind = "ai_provider_rate_limit"
	KindInvalidPromptForProvider Kind = "invalid_prompt_for_provider"
	KindGenerationFailed         Kind = "generation_failed"
)

var statuses = map[Kind]int{
	KindRequestTooLarge:          http.StatusRequestEntityTooLarge,
	KindUnauthorized:             http.StatusUnauthorized,
	KindRateLimitExceeded:        http.StatusTooManyRequests,
	KindGlobalRateLimitExceeded:  http.StatusTooManyRequests,
	KindDailyBudgetExceeded:      http.StatusTooManyRequests,
	KindInvalidJSON:              http.StatusBadRequest,
	KindInvalidPrompt:            http.StatusBadRequest,
	KindPromptTooLong:            http.StatusBadRequest,
	KindInappropriatePrompt:      http.StatusBadRequest,
	KindImageTooLarge:            http.StatusInternalServerError,
	KindInsufficientCredits:      http.StatusPaymentRequired,
	KindTimeout:                  http.StatusGatewayTimeout,
	KindProviderRateLimit:        http.StatusTooManyRequests,
	KindInvalidPromptForProvider: http.StatusBadRequest,
	KindGenerationFailed:         http.StatusInternalServerError,
}

// Status returns the HTTP status for k, defaulting to 500.
func (k Kind) Status() int {
	if status, ok := statuses[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is a terminal pipeline outcome. Message is safe to show to callers.
type Error struct {
	Kind    Kind
	Message string

	// Rate-limit metadata, set only for the rate limit kinds.
	Remaining *int64
	ResetAt   time.Time

	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Status is the HTTP status code for the error.
func (e *Error) Status() int {
	return e.Kind.Status()
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// RateLimited builds a rate limit error carrying window metadata.
func RateLimited(kind Kind, message string, remaining int64, resetAt time.Time, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       kind,
		Message:    message,
		Remaining:  &remaining,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}
}

// From returns err as an *Error, or a generic generation_failed error that
// does not leak err's text.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return New(KindGenerationFailed, "Failed to generate image")
}

type body struct {
	Error     Kind   `json:"error"`
	Message   string `json:"message"`
	Remaining *int64 `json:"remaining,omitempty"`
	ResetAt   string `json:"resetAt,omitempty"`
}

// Write sends err as a JSON error response.
func Write(w http.ResponseWriter, err error) {
	apiErr := From(err)

	payload := body{Error: apiErr.Kind, Message: apiErr.Message, Remaining: apiErr.Remaining}
	if !apiErr.ResetAt.IsZero() {
		payload.ResetAt = apiErr.ResetAt.UTC().Format(time.RFC3339)
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(apiErr.ResetAt.Unix(), 10))
	}
	if apiErr.Remaining != nil {
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(*apiErr.Remaining, 10))
	}
	if apiErr.RetryAfter > 0 {
		secs := int64((apiErr.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status())
	json.NewEncoder(w).Encode(payload)
}
