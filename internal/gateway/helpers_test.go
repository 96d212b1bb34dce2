package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/HanTheDev/art-gateway/internal/auth"
	"github.com/HanTheDev/art-gateway/internal/budget"
	"github.com/HanTheDev/art-gateway/internal/config"
	"github.com/HanTheDev/art-gateway/internal/counter"
	"github.com/HanTheDev/art-gateway/internal/generator"
	"github.com/HanTheDev/art-gateway/internal/models"
	"github.com/HanTheDev/art-gateway/internal/ratelimit"
	"github.com/HanTheDev/art-gateway/internal/storage"
)

const (
	testSecret  = "s3cret"
	testHost    = "localhost:8080"
	testBaseURL = "http://localhost:8080"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGenerator returns "image-<n>" for the n-th call unless err or data
// is set.
type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	data  []byte
	err   error
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (*generator.Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	data := g.data
	if data == nil {
		data = []byte(fmt.Sprintf("image-%d", g.calls))
	}
	return &generator.Image{Data: data, ContentType: "image/jpeg"}, nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// flakyStore fails every Put whose key has failPrefix.
type flakyStore struct {
	*storage.MemoryStore
	failPrefix string
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte, opts storage.PutOptions) error {
	if strings.HasPrefix(key, s.failPrefix) {
		return errors.New("bucket unavailable")
	}
	return s.MemoryStore.Put(ctx, key, data, opts)
}

type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}
func (brokenCounter) Get(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}
func (brokenCounter) Set(context.Context, string, int64, time.Duration) error {
	return errors.New("connection refused")
}
func (brokenCounter) Ping(context.Context) error { return errors.New("connection refused") }
func (brokenCounter) Close() error               { return nil }

type memoryRecorder struct {
	mu      sync.Mutex
	entries []models.GenerationLog
}

func (r *memoryRecorder) LogGeneration(ctx context.Context, entry *models.GenerationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

type testEnv struct {
	cfg      *config.Config
	clock    *fakeClock
	counters counter.Store
	store    storage.Store
	gen      *fakeGenerator
	guard    *Guard
	recorder *memoryRecorder
	pipeline *Pipeline
}

type envOption func(*testEnv)

// withoutGuard runs the pipeline with rate limiting disabled.
func withoutGuard() envOption {
	return func(e *testEnv) { e.counters = nil }
}

func withCounters(store counter.Store) envOption {
	return func(e *testEnv) { e.counters = store }
}

func withStore(store storage.Store) envOption {
	return func(e *testEnv) { e.store = store }
}

func withConfig(fn func(*config.Config)) envOption {
	return func(e *testEnv) { fn(e.cfg) }
}

func newTestEnv(opts ...envOption) *testEnv {
	cfg := config.Defaults()
	cfg.Auth.APISecret = testSecret

	clock := newFakeClock()
	env := &testEnv{
		cfg:      &cfg,
		clock:    clock,
		counters: counter.NewMemoryStore(clock.Now),
		store:    storage.NewMemoryStore(clock.Now),
		gen:      &fakeGenerator{},
		recorder: &memoryRecorder{},
	}
	for _, opt := range opts {
		opt(env)
	}

	if env.counters != nil {
		env.guard = &Guard{
			Limiter: ratelimit.NewRateLimiter(env.counters,
				ratelimit.Window{Limit: cfg.Limits.ClientLimit, Length: cfg.Limits.ClientWindow},
				ratelimit.Window{Limit: cfg.Limits.GlobalLimit, Length: cfg.Limits.GlobalWindow},
				clock.Now),
			Ledger: budget.NewLedger(env.counters, cfg.DailyBudgetAmount(), cfg.CostPerImageAmount(), clock.Now),
		}
	}

	env.pipeline = NewPipeline(env.cfg, auth.NewAuthenticator(testSecret), env.gen, env.store, Options{
		Guard:    env.guard,
		Recorder: env.recorder,
		Now:      clock.Now,
	})
	return env
}

// request builds an authorized request from client carrying body.
func (e *testEnv) request(client, body string) Request {
	return Request{
		Body:          strings.NewReader(body),
		ContentLength: int64(len(body)),
		Client:        client,
		Credentials:   auth.Credentials{Host: testHost, Credential: testSecret},
		BaseURL:       testBaseURL,
	}
}

func promptBody(prompt string) string {
	return fmt.Sprintf(`{"prompt":%q}`, prompt)
}

func (e *testEnv) setSpent(amount string) error {
	_, err := e.guard.Ledger.Override(context.Background(), decimal.RequireFromString(amount))
	return err
}
