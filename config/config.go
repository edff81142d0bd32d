package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/mindgains/orchestrator/internal/orchestrator"
	"github.com/mindgains/orchestrator/internal/provider"
)

type Config struct {
	// Server
	Port               string   `validate:"required,numeric"` // default: 8080
	CORSAllowedOrigins []string `validate:"dive,required"`

	// Database (optional: enables client keys and the usage ledger)
	PostgresDSN string
	RunSeed     bool // seed the development client key on start

	// Cache (optional: enables rate limiting and the key cache)
	RedisAddr string

	// Providers
	OpenAIAPIKey    string
	GeminiAPIKey    string
	AnthropicAPIKey string
	RegistryFile    string `validate:"omitempty,file"`

	// Orchestration
	FallbackStrategy    string  `validate:"oneof=exclude_failed time_bucket"`
	TimeoutFactor       float64 `validate:"gte=0"` // default: 10
	BatchMaxConcurrency int     `validate:"gte=0"` // 0 means unbounded
	BatchMaxSize        int     `validate:"gt=0"`  // default: 50

	// Observability
	OTELExporterType     string `validate:"oneof=stdout otlp none"`
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             string `validate:"oneof=debug info warn error"`
	LogFormat            string `validate:"oneof=json console"`

	// Rate Limiting
	DefaultRateLimitTPM int64 `validate:"gt=0"` // tokens per minute, default: 100000
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		CORSAllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		RegistryFile:         os.Getenv("REGISTRY_FILE"),
		FallbackStrategy:     getEnv("FALLBACK_STRATEGY", string(orchestrator.FallbackExcludeFailed)),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
	}

	var errs []error
	var err error
	if cfg.DefaultRateLimitTPM, err = strconv.ParseInt(getEnv("DEFAULT_RATE_LIMIT_TPM", "100000"), 10, 64); err != nil {
		errs = append(errs, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_TPM: %w", err))
	}
	if cfg.TimeoutFactor, err = strconv.ParseFloat(getEnv("TIMEOUT_FACTOR", "10"), 64); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEOUT_FACTOR: %w", err))
	}
	if cfg.BatchMaxConcurrency, err = strconv.Atoi(getEnv("BATCH_MAX_CONCURRENCY", "0")); err != nil {
		errs = append(errs, fmt.Errorf("invalid BATCH_MAX_CONCURRENCY: %w", err))
	}
	if cfg.BatchMaxSize, err = strconv.Atoi(getEnv("BATCH_MAX_SIZE", "50")); err != nil {
		errs = append(errs, fmt.Errorf("invalid BATCH_MAX_SIZE: %w", err))
	}
	if cfg.RunSeed, err = strconv.ParseBool(getEnv("RUN_SEED", "false")); err != nil {
		errs = append(errs, fmt.Errorf("invalid RUN_SEED: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("invalid config %s: failed %q (got %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return errors.Join(errs...)
}

// APIKeys maps each provider to its configured credential.
func (c *Config) APIKeys() map[provider.ID]string {
	return map[provider.ID]string{
		provider.OpenAI: c.OpenAIAPIKey,
		provider.Claude: c.AnthropicAPIKey,
		provider.Gemini: c.GeminiAPIKey,
	}
}

// ProviderConfigs returns the registry to run with: the YAML registry file
// when one is configured, the built-in defaults otherwise. A provider is
// available exactly when its API key is set.
func (c *Config) ProviderConfigs() ([]orchestrator.ProviderConfig, error) {
	configs := orchestrator.DefaultProviders()
	if c.RegistryFile != "" {
		var err error
		if configs, err = LoadRegistry(c.RegistryFile); err != nil {
			return nil, err
		}
	}

	keys := c.APIKeys()
	for i := range configs {
		configs[i].Available = keys[configs[i].ID] != ""
	}
	return configs, nil
}

func (c *Config) OrchestratorOptions() (orchestrator.Options, error) {
	strategy, err := orchestrator.ParseFallbackStrategy(c.FallbackStrategy)
	if err != nil {
		return orchestrator.Options{}, err
	}
	opts := orchestrator.DefaultOptions()
	opts.FallbackStrategy = strategy
	opts.TimeoutFactor = c.TimeoutFactor
	opts.MaxConcurrency = c.BatchMaxConcurrency
	return opts, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
