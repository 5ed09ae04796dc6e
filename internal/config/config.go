// Package config provides application configuration loading from environment.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gitlab.com/yelinaung/finmail/internal/models"
)

// LLM providers.
const (
	LLMProviderGemini = "gemini"
	LLMProviderOpenAI = "openai"
	LLMProviderNone   = "none"
)

// Telemetry exporters.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPGRPC = "otlpgrpc"
	ExporterOTLPHTTP = "otlphttp"
)

// Defaults.
const (
	DefaultLLMTimeout          = 30 * time.Second
	DefaultLLMConfidenceFloor  = 0.7
	DefaultRuleConfidenceFloor = 0.35
	DefaultRuleConfidenceCap   = 0.65
	DefaultAutoAcceptThreshold = 0.85
	DefaultExchangeTimeout     = 5 * time.Second
	DefaultExchangeCacheTTL    = time.Hour
	DefaultWorkerCount         = 4
	DefaultSessionIdleTimeout  = 24 * time.Hour
	DefaultIMAPMailbox         = "INBOX"
	DefaultIMAPMaxResults      = 50
	DefaultServiceName         = "finmail"
)

// IMAPConfig holds mailbox connection settings.
type IMAPConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	Mailbox    string
	TLS        bool
	MaxResults int
}

// Config holds all configuration for the application.
type Config struct {
	DatabaseURL string
	LogLevel    string
	LogFormat   string

	LLMProvider  string
	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIModel  string
	LLMTimeout   time.Duration

	LLMConfidenceFloor  float64
	RuleConfidenceFloor float64
	RuleConfidenceCap   float64
	AutoAcceptThreshold float64

	ExchangeRateAPIKey     string
	ExchangeRateAPIBaseURL string
	ExchangeRateBaseURL    string
	ExchangeRateTimeout    time.Duration
	ExchangeRateCacheTTL   time.Duration
	ReferenceCurrency      string

	WorkerCount        int
	SessionIdleTimeout time.Duration

	IMAP IMAPConfig

	TelegramBotToken string
	NotifyChatID     int64

	OTelExporter    string
	OTelServiceName string

	parseErrs []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		LogLevel:               envOr("LOG_LEVEL", "info"),
		LogFormat:              envOr("LOG_FORMAT", "console"),
		LLMProvider:            strings.ToLower(envOr("LLM_PROVIDER", LLMProviderGemini)),
		GeminiAPIKey:           os.Getenv("GEMINI_API_KEY"),
		GeminiModel:            os.Getenv("GEMINI_MODEL"),
		OpenAIAPIKey:           os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:            os.Getenv("OPENAI_MODEL"),
		ExchangeRateAPIKey:     os.Getenv("EXCHANGE_RATE_API_KEY"),
		ExchangeRateAPIBaseURL: os.Getenv("EXCHANGE_RATE_API_BASE_URL"),
		ExchangeRateBaseURL:    os.Getenv("EXCHANGE_RATE_BASE_URL"),
		ReferenceCurrency:      models.NormalizeCurrency(envOr("REFERENCE_CURRENCY", models.ReferenceCurrency)),
		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		OTelExporter:           strings.ToLower(envOr("OTEL_EXPORTER", ExporterNone)),
		OTelServiceName:        envOr("OTEL_SERVICE_NAME", DefaultServiceName),
	}

	cfg.LLMTimeout = cfg.durationEnv("LLM_TIMEOUT", DefaultLLMTimeout)
	cfg.LLMConfidenceFloor = cfg.floatEnv("LLM_CONFIDENCE_FLOOR", DefaultLLMConfidenceFloor)
	cfg.RuleConfidenceFloor = cfg.floatEnv("RULE_CONFIDENCE_FLOOR", DefaultRuleConfidenceFloor)
	cfg.RuleConfidenceCap = cfg.floatEnv("RULE_CONFIDENCE_CAP", DefaultRuleConfidenceCap)
	cfg.AutoAcceptThreshold = cfg.floatEnv("AUTO_ACCEPT_THRESHOLD", DefaultAutoAcceptThreshold)
	cfg.ExchangeRateTimeout = cfg.durationEnv("EXCHANGE_RATE_TIMEOUT", DefaultExchangeTimeout)
	cfg.ExchangeRateCacheTTL = cfg.durationEnv("EXCHANGE_RATE_CACHE_TTL", DefaultExchangeCacheTTL)
	cfg.WorkerCount = cfg.intEnv("WORKER_COUNT", DefaultWorkerCount)
	cfg.SessionIdleTimeout = cfg.durationEnv("SESSION_IDLE_TIMEOUT", DefaultSessionIdleTimeout)

	cfg.IMAP = IMAPConfig{
		Host:       os.Getenv("IMAP_HOST"),
		User:       os.Getenv("IMAP_USER"),
		Password:   os.Getenv("IMAP_PASSWORD"),
		Mailbox:    envOr("IMAP_MAILBOX", DefaultIMAPMailbox),
		TLS:        os.Getenv("IMAP_TLS") != "false",
		MaxResults: cfg.intEnv("IMAP_MAX_RESULTS", DefaultIMAPMaxResults),
	}
	defaultPort := 993
	if !cfg.IMAP.TLS {
		defaultPort = 143
	}
	cfg.IMAP.Port = cfg.intEnv("IMAP_PORT", defaultPort)

	if chatStr := strings.TrimSpace(os.Getenv("NOTIFY_CHAT_ID")); chatStr != "" {
		id, err := strconv.ParseInt(chatStr, 10, 64)
		if err != nil {
			cfg.parseErrs = append(cfg.parseErrs, fmt.Sprintf("NOTIFY_CHAT_ID must be an integer, got %q", chatStr))
		}
		cfg.NotifyChatID = id
	}

	// Validate required configuration.
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks that all required configuration is present and consistent.
func (c *Config) validate() error {
	errs := slices.Clone(c.parseErrs)

	switch c.LLMProvider {
	case LLMProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, "GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	case LLMProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, "OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	case LLMProviderNone:
	default:
		errs = append(errs, fmt.Sprintf("LLM_PROVIDER must be one of gemini, openai, none; got %q", c.LLMProvider))
	}

	for _, th := range []struct {
		name  string
		value float64
	}{
		{"LLM_CONFIDENCE_FLOOR", c.LLMConfidenceFloor},
		{"RULE_CONFIDENCE_FLOOR", c.RuleConfidenceFloor},
		{"RULE_CONFIDENCE_CAP", c.RuleConfidenceCap},
		{"AUTO_ACCEPT_THRESHOLD", c.AutoAcceptThreshold},
	} {
		if th.value < 0 || th.value > 1 {
			errs = append(errs, fmt.Sprintf("%s must be within [0, 1]", th.name))
		}
	}
	if c.RuleConfidenceFloor > c.RuleConfidenceCap {
		errs = append(errs, "RULE_CONFIDENCE_FLOOR must not exceed RULE_CONFIDENCE_CAP")
	}
	if c.RuleConfidenceCap >= c.LLMConfidenceFloor {
		errs = append(errs, "RULE_CONFIDENCE_CAP must be below LLM_CONFIDENCE_FLOOR")
	}

	if !models.IsSupportedCurrency(c.ReferenceCurrency) {
		errs = append(errs, fmt.Sprintf("REFERENCE_CURRENCY %q is not a supported currency", c.ReferenceCurrency))
	}
	if c.WorkerCount < 1 {
		errs = append(errs, "WORKER_COUNT must be at least 1")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"LLM_TIMEOUT", c.LLMTimeout},
		{"EXCHANGE_RATE_TIMEOUT", c.ExchangeRateTimeout},
		{"EXCHANGE_RATE_CACHE_TTL", c.ExchangeRateCacheTTL},
		{"SESSION_IDLE_TIMEOUT", c.SessionIdleTimeout},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive", d.name))
		}
	}

	if c.IMAP.Host != "" {
		if c.IMAP.User == "" || c.IMAP.Password == "" {
			errs = append(errs, "IMAP_USER and IMAP_PASSWORD are required when IMAP_HOST is set")
		}
		if c.IMAP.Port < 1 || c.IMAP.Port > 65535 {
			errs = append(errs, "IMAP_PORT must be a valid port")
		}
		if c.IMAP.MaxResults < 1 {
			errs = append(errs, "IMAP_MAX_RESULTS must be at least 1")
		}
	}

	if c.TelegramBotToken != "" && c.NotifyChatID == 0 {
		errs = append(errs, "NOTIFY_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	switch c.OTelExporter {
	case ExporterNone, ExporterStdout, ExporterOTLPGRPC, ExporterOTLPHTTP:
	default:
		errs = append(errs, fmt.Sprintf("OTEL_EXPORTER must be one of none, stdout, otlpgrpc, otlphttp; got %q", c.OTelExporter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// HasDatabase reports whether a Postgres URL is configured.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// HasIMAP reports whether a mailbox is configured.
func (c *Config) HasIMAP() bool {
	return c.IMAP.Host != ""
}

// HasTelegram reports whether Telegram notifications are configured.
func (c *Config) HasTelegram() bool {
	return c.TelegramBotToken != "" && c.NotifyChatID != 0
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (c *Config) durationEnv(key string, def time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Sprintf("%s must be a duration, got %q", key, s))
		return def
	}
	return d
}

func (c *Config) floatEnv(key string, def float64) float64 {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Sprintf("%s must be a number, got %q", key, s))
		return def
	}
	return f
}

func (c *Config) intEnv(key string, def int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Sprintf("%s must be an integer, got %q", key, s))
		return def
	}
	return n
}
