package server

import (
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/click/backend/internal/ai"
	"example.com/click/backend/internal/config"
	"example.com/click/backend/internal/market"
	"example.com/click/backend/internal/notifications"
	"example.com/click/backend/internal/retry"
)

// Services держит долгоживущие зависимости, общие для HTTP-сервера и команд CLI.
type Services struct {
	Grok   *ai.GrokClient
	AI     *ai.Service
	Quotes *market.QuoteService
	Loader *market.Loader
	Stream *market.Streamer
	Cache  *market.MemoryCache
	Hub    *notifications.Hub
	DB     *pgxpool.Pool
}

// NewServices собирает клиенты и сервисы по конфигурации. db может быть nil.
func NewServices(cfg config.Config, logger *slog.Logger, db *pgxpool.Pool) *Services {
	if logger == nil {
		logger = slog.Default()
	}

	grok := ai.NewGrokClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model, cfg.AI.Timeout, cfg.AI.MaxOutputTokens)

	var chatClient ai.Client = grok
	if strings.EqualFold(cfg.AI.Provider, config.ProviderOpenAI) {
		chatClient = ai.NewOpenAIClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model, cfg.AI.Timeout, cfg.AI.MaxOutputTokens)
	}

	aiService := ai.NewService(chatClient, ai.Options{
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxOutputTokens,
		Retry: retry.Policy{
			MaxAttempts: cfg.Prediction.MaxAttempts,
			BaseDelay:   cfg.Prediction.RetryDelay,
			MaxDelay:    cfg.Prediction.MaxDelay,
			Strategy:    retry.Strategy(cfg.Prediction.RetryStrategy),
		},
		Timeout:           cfg.Prediction.Timeout,
		UseFallbackData:   cfg.Prediction.UseFallbackData,
		FallbackOnFailure: cfg.Prediction.FallbackOnFailure,
	}, logger.With(slog.String("component", "ai")))

	hub := notifications.NewHub()
	cache := market.NewMemoryCache()
	finnhub := market.NewFinnhubClient(cfg.Market.APIKey, cfg.Market.BaseURL, cfg.Market.RequestTimeout)
	marketLogger := logger.With(slog.String("component", "market"))

	loader := market.NewLoader(finnhub, cache, hub, market.LoaderConfig{
		BatchSize:         cfg.Market.BatchSize,
		BatchDelay:        cfg.Market.BatchDelay,
		RatePerMinute:     cfg.Market.RateLimitPerMinute,
		MaxRetries:        cfg.Market.MaxRetries,
		RetryDelay:        cfg.Market.RetryDelay,
		Location:          cfg.Market.Location,
		InitialRetryDelay: cfg.Market.InitialLoadRetryDelay,
	}, marketLogger)

	stream := market.NewStreamer(market.StreamConfig{
		URL:            cfg.Market.StreamURL,
		APIKey:         cfg.Market.APIKey,
		Symbols:        cfg.Market.StreamSymbols,
		QuoteTTL:       cfg.Market.QuoteTTL,
		ReconnectDelay: cfg.Market.StreamReconnectDelay,
	}, cache, hub, marketLogger.With(slog.String("source", "stream")))

	return &Services{
		Grok:   grok,
		AI:     aiService,
		Quotes: market.NewQuoteService(finnhub, cache, cfg.Market.QuoteTTL, cfg.Market.OnDemandRatePerMinute, marketLogger),
		Loader: loader,
		Stream: stream,
		Cache:  cache,
		Hub:    hub,
		DB:     db,
	}
}
