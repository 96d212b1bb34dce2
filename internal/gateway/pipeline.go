// Package gateway runs generate requests through admission (size, auth,
// rate limits, budget, prompt checks) and fulfillment (generation,
// persistence), and exposes the result over HTTP.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/HanTheDev/art-gateway/internal/apierror"
	"github.com/HanTheDev/art-gateway/internal/auth"
	"github.com/HanTheDev/art-gateway/internal/budget"
	"github.com/HanTheDev/art-gateway/internal/config"
	"github.com/HanTheDev/art-gateway/internal/generator"
	"github.com/HanTheDev/art-gateway/internal/metrics"
	"github.com/HanTheDev/art-gateway/internal/models"
	"github.com/HanTheDev/art-gateway/internal/policy"
	"github.com/HanTheDev/art-gateway/internal/ratelimit"
	"github.com/HanTheDev/art-gateway/internal/storage"
	"github.com/HanTheDev/art-gateway/pkg/logger"
)

const (
	defaultContentType = "image/jpeg"
	persistTimeout     = 30 * time.Second
	backgroundTimeout  = 10 * time.Second
)

// Guard holds the counter-store backed checks. A nil Guard disables rate
// limiting and budget tracking.
type Guard struct {
	Limiter *ratelimit.RateLimiter
	Ledger  *budget.Ledger
}

// Recorder stores one log entry per admitted generation.
type Recorder interface {
	LogGeneration(ctx context.Context, entry *models.GenerationLog) error
}

// Request is one generate call as seen by the pipeline.
type Request struct {
	ID            string
	Body          io.Reader
	ContentLength int64 // -1 when unknown
	Client        string
	Credentials   auth.Credentials
	BaseURL       string
}

type Result struct {
	RequestID  string
	Prompt     string
	HistoryKey string
	LatestURL  string
	HistoryURL string
}

type Options struct {
	Guard    *Guard
	Recorder Recorder
	Now      func() time.Time
}

type Pipeline struct {
	auth      *auth.Authenticator
	guard     *Guard
	policy    *policy.ContentPolicy
	generator generator.Client
	store     storage.Store
	recorder  Recorder
	limits    config.LimitsConfig
	timeout   time.Duration
	now       func() time.Time

	bg sync.WaitGroup
}

func NewPipeline(cfg *config.Config, authn *auth.Authenticator, gen generator.Client, store storage.Store, opts Options) *Pipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		auth:      authn,
		guard:     opts.Guard,
		policy:    policy.NewContentPolicy(cfg.Limits.MinPromptLength, cfg.Limits.MaxPromptLength, cfg.ContentPolicy.ExtraDenylist),
		generator: gen,
		store:     store,
		recorder:  opts.Recorder,
		limits:    cfg.Limits,
		timeout:   cfg.Generation.Timeout,
		now:       now,
	}
}

// RateLimitEnabled reports whether a Guard is configured.
func (p *Pipeline) RateLimitEnabled() bool { return p.guard != nil }

// Wait blocks until background ledger and log writes have finished.
func (p *Pipeline) Wait() { p.bg.Wait() }

// HandleGenerate runs req through every stage in order. A non-nil error is
// always an *apierror.Error.
func (p *Pipeline) HandleGenerate(ctx context.Context, req Request) (*Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	start := p.now()
	entry := &models.GenerationLog{RequestID: req.ID, Client: req.Client}

	res, err := p.run(ctx, req, entry)

	outcome := "success"
	status := 200
	if err != nil {
		apiErr := apierror.From(err)
		err = apiErr
		outcome = string(apiErr.Kind)
		status = apiErr.Status()
	}
	metrics.GenerateRequestsTotal.WithLabelValues(outcome).Inc()

	log := logger.Info()
	if status >= 500 {
		log = logger.Error()
	} else if status >= 400 {
		log = logger.Warn()
	}
	log.Str("request_id", req.ID).
		Str("client", req.Client).
		Str("outcome", outcome).
		Dur("duration", p.now().Sub(start)).
		Msg("generate")

	if p.recorder != nil && entry.Provider != "" {
		entry.Outcome = outcome
		entry.StatusCode = status
		entry.DurationMs = int(p.now().Sub(start).Milliseconds())
		p.background("generation_log", func(ctx context.Context) error {
			return p.recorder.LogGeneration(ctx, entry)
		})
	}

	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, entry *models.GenerationLog) (*Result, error) {
	if req.ContentLength > p.limits.MaxBodyBytes {
		return nil, tooLarge()
	}

	if err := p.auth.Authorize(req.Credentials); err != nil {
		return nil, apierror.New(apierror.KindUnauthorized, "Unauthorized")
	}

	if p.guard != nil {
		if err := p.admit(ctx, req.Client); err != nil {
			return nil, err
		}
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, p.limits.MaxBodyBytes+1))
	if err != nil {
		return nil, apierror.New(apierror.KindInvalidJSON, "Invalid JSON in request body")
	}
	if int64(len(body)) > p.limits.MaxBodyBytes {
		return nil, tooLarge()
	}

	// null decodes into a struct without error; the body must be an object.
	var parsed models.GenerateRequest
	if bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return nil, apierror.New(apierror.KindInvalidJSON, "Invalid JSON in request body")
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apierror.New(apierror.KindInvalidJSON, "Invalid JSON in request body")
	}

	prompt, err := p.validatePrompt(parsed.Prompt)
	if err != nil {
		return nil, err
	}
	entry.Prompt = prompt

	img, err := p.generate(ctx, prompt)
	entry.Provider = p.generator.Name()
	if err != nil {
		return nil, err
	}

	if p.guard != nil && p.guard.Ledger != nil {
		ledger := p.guard.Ledger
		p.background("ledger", func(ctx context.Context) error {
			total, err := ledger.Record(ctx)
			if err != nil {
				return err
			}
			metrics.BudgetSpent.Set(total.InexactFloat64())
			return nil
		})
	}

	historyKey := storage.HistoryKey(p.now())
	if err := p.persist(ctx, historyKey, img); err != nil {
		logger.Error().Err(err).Str("request_id", req.ID).Msg("failed to persist image")
		return nil, apierror.New(apierror.KindGenerationFailed, "Failed to save generated image")
	}
	entry.HistoryKey = historyKey
	logger.Debug().Str("request_id", req.ID).Str("key", historyKey).Int("bytes", len(img.Data)).Msg("image stored")

	base := strings.TrimRight(req.BaseURL, "/")
	return &Result{
		RequestID:  req.ID,
		Prompt:     prompt,
		HistoryKey: historyKey,
		LatestURL:  base + "/" + storage.LatestKey,
		HistoryURL: base + "/" + historyKey,
	}, nil
}

// admit consumes one hit from the client and global windows, then checks
// the daily budget. The counters are consumed even when the budget refuses.
func (p *Pipeline) admit(ctx context.Context, client string) error {
	if limiter := p.guard.Limiter; limiter != nil {
		decision, err := limiter.AllowClient(ctx, client)
		if err != nil {
			return checkFailed(err)
		}
		if !decision.Allowed {
			return apierror.RateLimited(apierror.KindRateLimitExceeded,
				"Too many requests. Please wait before generating another image.",
				decision.Remaining, decision.ResetAt, decision.RetryAfter(p.now()))
		}

		decision, err = limiter.AllowGlobal(ctx)
		if err != nil {
			return checkFailed(err)
		}
		if !decision.Allowed {
			return apierror.RateLimited(apierror.KindGlobalRateLimitExceeded,
				"The service is receiving too many requests. Please try again later.",
				decision.Remaining, decision.ResetAt, decision.RetryAfter(p.now()))
		}
	}

	if ledger := p.guard.Ledger; ledger != nil {
		status, err := ledger.Check(ctx)
		if err != nil {
			return checkFailed(err)
		}
		metrics.BudgetSpent.Set(status.Spent.InexactFloat64())
		if status.Exceeded {
			return &apierror.Error{
				Kind:       apierror.KindDailyBudgetExceeded,
				Message:    "Daily generation budget reached. It resets at midnight UTC.",
				ResetAt:    status.ResetsAt,
				RetryAfter: status.ResetsAt.Sub(p.now()),
			}
		}
	}
	return nil
}

func (p *Pipeline) validatePrompt(raw any) (string, error) {
	text, ok := raw.(string)
	if !ok {
		return "", apierror.New(apierror.KindInvalidPrompt, "Prompt must be a string")
	}

	prompt, err := p.policy.Normalize(text)
	switch {
	case errors.Is(err, policy.ErrPromptTooLong):
		return "", apierror.New(apierror.KindPromptTooLong,
			fmt.Sprintf("Prompt must be %d characters or less", p.policy.MaxLength()))
	case err != nil:
		return "", apierror.New(apierror.KindInvalidPrompt,
			fmt.Sprintf("Prompt must be at least %d characters", p.policy.MinLength()))
	}

	if term, blocked := p.policy.Blocked(prompt); blocked {
		logger.Warn().Str("term", term).Msg("prompt rejected by content policy")
		return "", apierror.New(apierror.KindInappropriatePrompt,
			"Prompt contains inappropriate content. Please try a different prompt.")
	}
	return prompt, nil
}

// generate calls the provider on a context detached from the caller so a
// disconnect does not abort a paid call halfway.
func (p *Pipeline) generate(ctx context.Context, prompt string) (*generator.Image, error) {
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	start := time.Now()
	img, err := p.generator.Generate(genCtx, prompt)
	metrics.GenerationLatency.WithLabelValues(p.generator.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		genErr := generator.Classify(p.generator.Name(), err)
		logger.Error().Err(genErr).Str("kind", string(genErr.Kind)).Msg("image generation failed")
		return nil, providerError(genErr)
	}

	if img == nil || len(img.Data) == 0 {
		return nil, apierror.New(apierror.KindGenerationFailed, "Failed to generate image")
	}
	if int64(len(img.Data)) > p.limits.MaxImageBytes {
		return nil, apierror.New(apierror.KindImageTooLarge, "Generated image is too large")
	}
	return img, nil
}

// persist writes the history and latest objects concurrently. Both must
// succeed.
func (p *Pipeline) persist(ctx context.Context, historyKey string, img *generator.Image) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	contentType := img.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.store.Put(gctx, historyKey, img.Data, storage.PutOptions{
			ContentType:  contentType,
			CacheControl: storage.HistoryCacheControl,
		})
	})
	g.Go(func() error {
		return p.store.Put(gctx, storage.LatestKey, img.Data, storage.PutOptions{
			ContentType:  contentType,
			CacheControl: storage.LatestCacheControl,
		})
	})
	return g.Wait()
}

func (p *Pipeline) background(task string, fn func(ctx context.Context) error) {
	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			metrics.BackgroundErrorsTotal.WithLabelValues(task).Inc()
			logger.Warn().Err(err).Str("task", task).Msg("background write failed")
		}
	}()
}

func providerError(err *generator.Error) *apierror.Error {
	switch err.Kind {
	case generator.KindInsufficientCredits:
		return apierror.New(apierror.KindInsufficientCredits,
			"The image service is out of credits. Please try again later.")
	case generator.KindTimeout:
		return apierror.New(apierror.KindTimeout,
			"Image generation timed out. Please try again.")
	case generator.KindRateLimited:
		return &apierror.Error{
			Kind:       apierror.KindProviderRateLimit,
			Message:    "The image service is busy. Please try again in a moment.",
			RetryAfter: err.RetryAfter,
		}
	case generator.KindPromptRejected:
		return apierror.New(apierror.KindInvalidPromptForProvider,
			"The image service rejected this prompt. Please try a different one.")
	default:
		return apierror.New(apierror.KindGenerationFailed, "Failed to generate image")
	}
}

func tooLarge() *apierror.Error {
	return apierror.New(apierror.KindRequestTooLarge, "Request body too large")
}

func checkFailed(err error) *apierror.Error {
	logger.Error().Err(err).Msg("rate limit check failed")
	return apierror.New(apierror.KindGenerationFailed, "Rate limit check failed")
}
