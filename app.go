package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"gitlab.com/yelinaung/finmail/internal/config"
	"gitlab.com/yelinaung/finmail/internal/database"
	"gitlab.com/yelinaung/finmail/internal/exchange"
	"gitlab.com/yelinaung/finmail/internal/extractor"
	"gitlab.com/yelinaung/finmail/internal/gemini"
	"gitlab.com/yelinaung/finmail/internal/inbox"
	"gitlab.com/yelinaung/finmail/internal/logger"
	"gitlab.com/yelinaung/finmail/internal/notify"
	"gitlab.com/yelinaung/finmail/internal/openai"
	"gitlab.com/yelinaung/finmail/internal/pipeline"
	"gitlab.com/yelinaung/finmail/internal/repository"
	"gitlab.com/yelinaung/finmail/internal/session"
)

var errNoInbox = errors.New("no inbox configured: set IMAP_HOST, IMAP_USER and IMAP_PASSWORD")

// app holds the wired collaborators for one command invocation.
type app struct {
	cfg         *config.Config
	pool        *pgxpool.Pool
	records     repository.RecordStore
	coordinator *session.Coordinator
	pipeline    *pipeline.Orchestrator
}

// newApp wires storage, extraction, conversion and notification from cfg.
// Without DATABASE_URL records and sessions live only for this process.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	var sessions session.Store
	if cfg.HasDatabase() {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		a.pool = pool
		a.records = repository.NewRecordRepository(pool)
		sessions = repository.NewSessionRepository(pool)
	} else {
		logger.Log.Warn().Msg("DATABASE_URL not set, records and sessions are kept in memory")
		a.records = repository.NewMemoryRecordStore()
		sessions = session.NewMemoryStore()
	}

	llm, err := newAnalyzer(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	ext := extractor.New(extractor.Options{
		Analyzer:   llm,
		LLMTimeout: cfg.LLMTimeout,
		LLMFloor:   cfg.LLMConfidenceFloor,
		RuleFloor:  cfg.RuleConfidenceFloor,
		RuleCap:    cfg.RuleConfidenceCap,
	})

	converter := exchange.NewConverter(exchange.TTLPolicy{TTL: cfg.ExchangeRateCacheTTL}, newProviders(cfg))

	var box session.Inbox
	if cfg.HasIMAP() {
		box = inbox.NewIMAPInbox(cfg.IMAP)
	}

	a.coordinator = session.NewCoordinator(box, ext, converter, a.records, sessions, session.Config{
		AutoAcceptThreshold: cfg.AutoAcceptThreshold,
		Workers:             cfg.WorkerCount,
		IdleTimeout:         cfg.SessionIdleTimeout,
		ReferenceCurrency:   cfg.ReferenceCurrency,
	})

	notifier, recipient, err := newNotifier(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = pipeline.New(a.coordinator, a.records, notifier, recipient)

	return a, nil
}

// newProviders lists rate sources in the order they are tried.
func newProviders(cfg *config.Config) []exchange.Provider {
	return []exchange.Provider{
		exchange.NewExchangeRateAPIClient(cfg.ExchangeRateAPIKey, cfg.ExchangeRateAPIBaseURL, cfg.ExchangeRateTimeout),
		exchange.NewFrankfurterClient(cfg.ExchangeRateBaseURL, cfg.ExchangeRateTimeout),
	}
}

// newAnalyzer returns nil for LLM_PROVIDER=none, which leaves the LLM tier out.
func newAnalyzer(ctx context.Context, cfg *config.Config) (extractor.Analyzer, error) {
	switch cfg.LLMProvider {
	case config.LLMProviderGemini:
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, gemini.WithModel(cfg.GeminiModel))
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return c, nil
	case config.LLMProviderOpenAI:
		c, err := openai.NewClient(cfg.OpenAIAPIKey, openai.WithModel(cfg.OpenAIModel))
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return c, nil
	default:
		return nil, nil
	}
}

func newNotifier(cfg *config.Config) (pipeline.Notifier, string, error) {
	if !cfg.HasTelegram() {
		return notify.LogNotifier{}, "log", nil
	}
	n, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.NotifyChatID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create Telegram notifier: %w", err)
	}
	return n, strconv.FormatInt(cfg.NotifyChatID, 10), nil
}

func (a *app) requireInbox() error {
	if !a.cfg.HasIMAP() {
		return errNoInbox
	}
	return nil
}

// Close releases the database pool.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
