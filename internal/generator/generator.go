package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/HanTheDev/art-gateway/internal/config"
)

// Image is the raw output of one generation.
type Image struct {
	Data        []byte
	ContentType string
}

// Client turns a prompt into image bytes.
type Client interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
	Name() string
}

// Kind categorizes provider failures.
type Kind string

const (
	KindInsufficientCredits Kind = "insufficient_credits"
	KindTimeout             Kind = "timeout"
	KindRateLimited         Kind = "rate_limited"
	KindPromptRejected      Kind = "prompt_rejected"
	KindUnknown             Kind = "unknown"
)

// Error is the structured failure returned by provider adapters.
type Error struct {
	Kind       Kind
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify returns err as an *Error. Structured errors pass through, context
// deadlines become timeouts, and anything else is matched on its message.
func Classify(provider string, err error) *Error {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: provider, Err: err}
	}
	return &Error{Kind: classifyMessage(err.Error()), Provider: provider, Err: err}
}

// classifyStatus maps an HTTP status from a provider response to a Kind.
func classifyStatus(status int, message string) Kind {
	switch status {
	case http.StatusPaymentRequired:
		return KindInsufficientCredits
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusTooManyRequests:
		if kind := classifyMessage(message); kind == KindInsufficientCredits {
			return kind
		}
		return KindRateLimited
	}
	return classifyMessage(message)
}

var messagePatterns = []struct {
	kind     Kind
	patterns []string
}{
	{KindInsufficientCredits, []string{"insufficient", "credit", "exceeded your current quota", "billing", "payment required"}},
	{KindTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{KindRateLimited, []string{"rate limit", "rate_limit", "too many requests", "resource_exhausted"}},
	{KindPromptRejected, []string{"content policy", "content_policy", "safety", "moderation", "invalid prompt", "rejected"}},
}

func classifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, group := range messagePatterns {
		for _, p := range group.patterns {
			if strings.Contains(lower, p) {
				return group.kind
			}
		}
	}
	return KindUnknown
}

// New builds the client for the configured provider.
func New(ctx context.Context, cfg config.GenerationConfig) (Client, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAI(cfg), nil
	case "azure":
		return NewAzureOpenAI(cfg), nil
	case "gemini":
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported generation provider %q", cfg.Provider)
	}
}
