package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Version is reported by /health.
const Version = "1.0.0"

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	CounterStore  CounterStoreConfig  `yaml:"counter_store"`
	DatabaseURL   string              `yaml:"database_url"`
	Generation    GenerationConfig    `yaml:"generation"`
	Limits        LimitsConfig        `yaml:"limits"`
	ContentPolicy ContentPolicyConfig `yaml:"content_policy"`
}

type ServerConfig struct {
	Port              string `yaml:"port"`
	LogLevel          string `yaml:"log_level"`
	PublicBaseURL     string `yaml:"public_base_url"`
	TrustProxyHeaders bool   `yaml:"trust_proxy_headers"`
}

type AuthConfig struct {
	// APISecret is the shared secret for callers that are not same-origin.
	APISecret string `yaml:"api_secret"`
}

// CounterStoreConfig points at the redis-compatible store holding rate-limit
// windows and the spend ledger. An empty URL disables both.
type CounterStoreConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type GenerationConfig struct {
	Provider string        `yaml:"provider"` // openai, azure, gemini
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	Size     string        `yaml:"size"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LimitsConfig struct {
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	MinPromptLength int           `yaml:"min_prompt_length"`
	MaxPromptLength int           `yaml:"max_prompt_length"`
	MaxImageBytes   int64         `yaml:"max_image_bytes"`
	ClientLimit     int64         `yaml:"client_limit"`
	ClientWindow    time.Duration `yaml:"client_window"`
	GlobalLimit     int64         `yaml:"global_limit"`
	GlobalWindow    time.Duration `yaml:"global_window"`
	DailyBudget     string        `yaml:"daily_budget"`
	CostPerImage    string        `yaml:"cost_per_image"`
}

type ContentPolicyConfig struct {
	ExtraDenylist []string `yaml:"extra_denylist"`
}

// RateLimitEnabled reports whether a counter store is configured.
func (c Config) RateLimitEnabled() bool {
	return strings.TrimSpace(c.CounterStore.URL) != ""
}

// DailyBudgetAmount returns the parsed daily cap.
func (c Config) DailyBudgetAmount() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Limits.DailyBudget)
	return d
}

// CostPerImageAmount returns the parsed per-generation cost estimate.
func (c Config) CostPerImageAmount() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Limits.CostPerImage)
	return d
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     "8080",
			LogLevel: "info",
		},
		Generation: GenerationConfig{
			Provider: "openai",
			Model:    "dall-e-3",
			Size:     "1024x1024",
			Timeout:  60 * time.Second,
		},
		Limits: LimitsConfig{
			MaxBodyBytes:    10_000,
			MinPromptLength: 3,
			MaxPromptLength: 500,
			MaxImageBytes:   5 * 1024 * 1024,
			ClientLimit:     10,
			ClientWindow:    60 * time.Second,
			GlobalLimit:     100,
			GlobalWindow:    3600 * time.Second,
			DailyBudget:     "10.00",
			CostPerImage:    "0.004",
		},
	}
}

// Load reads .env (if present), the optional CONFIG_FILE yaml document, and
// finally environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := Defaults()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Port = getEnv("SERVER_PORT", getEnv("PORT", cfg.Server.Port))
	cfg.Server.LogLevel = getEnv("LOG_LEVEL", cfg.Server.LogLevel)
	cfg.Server.PublicBaseURL = strings.TrimRight(getEnv("PUBLIC_BASE_URL", cfg.Server.PublicBaseURL), "/")
	cfg.Auth.APISecret = getEnv("API_SECRET", cfg.Auth.APISecret)
	cfg.CounterStore.URL = getEnv("COUNTER_STORE_URL", getEnv("REDIS_URL", cfg.CounterStore.URL))
	cfg.CounterStore.Token = getEnv("COUNTER_STORE_TOKEN", cfg.CounterStore.Token)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.Generation.Provider = strings.ToLower(getEnv("GENERATION_PROVIDER", cfg.Generation.Provider))
	cfg.Generation.APIKey = getEnv("GENERATION_API_KEY", cfg.Generation.APIKey)
	cfg.Generation.Model = getEnv("GENERATION_MODEL", cfg.Generation.Model)
	cfg.Generation.BaseURL = getEnv("GENERATION_BASE_URL", cfg.Generation.BaseURL)
	cfg.Generation.Size = getEnv("GENERATION_SIZE", cfg.Generation.Size)
	cfg.Limits.DailyBudget = getEnv("DAILY_BUDGET", cfg.Limits.DailyBudget)
	cfg.Limits.CostPerImage = getEnv("COST_PER_IMAGE", cfg.Limits.CostPerImage)

	var err error
	if cfg.Server.TrustProxyHeaders, err = getBoolEnv("TRUST_PROXY_HEADERS", cfg.Server.TrustProxyHeaders); err != nil {
		return err
	}
	if cfg.Generation.Timeout, err = getDurationEnv("GENERATION_TIMEOUT", cfg.Generation.Timeout); err != nil {
		return err
	}
	if cfg.Limits.ClientLimit, err = getIntEnv("CLIENT_RATE_LIMIT", cfg.Limits.ClientLimit); err != nil {
		return err
	}
	if cfg.Limits.ClientWindow, err = getDurationEnv("CLIENT_RATE_WINDOW", cfg.Limits.ClientWindow); err != nil {
		return err
	}
	if cfg.Limits.GlobalLimit, err = getIntEnv("GLOBAL_RATE_LIMIT", cfg.Limits.GlobalLimit); err != nil {
		return err
	}
	if cfg.Limits.GlobalWindow, err = getDurationEnv("GLOBAL_RATE_WINDOW", cfg.Limits.GlobalWindow); err != nil {
		return err
	}
	if extra := getEnv("EXTRA_DENYLIST", ""); extra != "" {
		for _, term := range strings.Split(extra, ",") {
			if term = strings.TrimSpace(term); term != "" {
				cfg.ContentPolicy.ExtraDenylist = append(cfg.ContentPolicy.ExtraDenylist, term)
			}
		}
	}
	return nil
}

// Validate checks the configuration for values the gateway cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Generation.Provider {
	case "openai", "azure", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unsupported generation provider %q", c.Generation.Provider))
	}
	if c.Generation.Timeout <= 0 {
		errs = append(errs, errors.New("generation timeout must be positive"))
	}
	if c.Limits.MaxBodyBytes <= 0 || c.Limits.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("size limits must be positive"))
	}
	if c.Limits.MinPromptLength < 0 || c.Limits.MaxPromptLength < c.Limits.MinPromptLength {
		errs = append(errs, errors.New("prompt length bounds are inconsistent"))
	}
	if c.Limits.ClientLimit <= 0 || c.Limits.GlobalLimit <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.Limits.ClientWindow < time.Second || c.Limits.GlobalWindow < time.Second {
		errs = append(errs, errors.New("rate limit windows must be at least one second"))
	}
	if d, err := decimal.NewFromString(c.Limits.DailyBudget); err != nil || d.IsNegative() {
		errs = append(errs, fmt.Errorf("invalid daily budget %q", c.Limits.DailyBudget))
	}
	if d, err := decimal.NewFromString(c.Limits.CostPerImage); err != nil || d.IsNegative() {
		errs = append(errs, fmt.Errorf("invalid cost per image %q", c.Limits.CostPerImage))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("invalid env value for %s", key)
	}
	return parsed, nil
}

func getIntEnv(key string, defaultVal int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid env value for %s", key)
	}
	return parsed, nil
}

// getDurationEnv accepts Go durations ("90s") or a bare number of seconds.
func getDurationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultVal, nil
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid env value for %s", key)
	}
	return parsed, nil
}
