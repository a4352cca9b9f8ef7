package market

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"example.com/click/backend/internal/models"
)

const (
	DefaultQuoteTTL       = 60 * time.Second
	DefaultOnDemandPerMin = 60
	maxSymbolsPerRequest  = 50
)

var ErrTooManySymbols = errors.New("too many symbols requested")

// QuoteResult is one row of a multi-symbol lookup.
type QuoteResult struct {
	Symbol string        `json:"symbol"`
	Quote  *models.Quote `json:"quote,omitempty"`
	Cached bool          `json:"cached"`
	Error  string        `json:"error,omitempty"`
}

// QuoteService отдает котировки из кэша и догружает устаревшие по запросу.
type QuoteService struct {
	fetcher QuoteFetcher
	cache   Cache
	ttl     time.Duration
	limiter *rate.Limiter
	types   map[string]models.SymbolType
	logger  *slog.Logger
	now     func() time.Time
}

// NewQuoteService создает сервис котировок. perMinute <= 0 снимает ограничение.
func NewQuoteService(fetcher QuoteFetcher, cache Cache, ttl time.Duration, perMinute int, logger *slog.Logger) *QuoteService {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &QuoteService{
		fetcher: fetcher,
		cache:   cache,
		ttl:     ttl,
		limiter: newMinuteLimiter(perMinute, perMinute),
		types:   typeIndex(DefaultUniverse()),
		logger:  logger,
		now:     time.Now,
	}
}

// Quote возвращает котировку и признак попадания в кэш.
func (s *QuoteService) Quote(ctx context.Context, symbol string) (models.Quote, bool, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return models.Quote{}, false, ErrEmptySymbol
	}

	now := s.now()
	if entry, ok := s.cache.Get(symbol); ok && !s.cache.IsStale(entry, now) {
		return entry.Quote, true, nil
	}

	if !s.limiter.Allow() {
		s.logger.Warn("on-demand quote budget exhausted", slog.String("symbol", symbol))
		return models.Quote{}, false, ErrRateLimited
	}

	quote, err := s.fetcher.Quote(ctx, symbol)
	if err != nil {
		s.logger.Warn("quote fetch failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
		return models.Quote{}, false, err
	}

	quote.Symbol = symbol
	quote.Type = s.symbolType(symbol)
	s.cache.Put(symbol, quote, now.Add(s.ttl))

	return quote, false, nil
}

// Quotes обрабатывает список тикеров по одному; ошибки попадают в строку результата.
func (s *QuoteService) Quotes(ctx context.Context, symbols []string) ([]QuoteResult, error) {
	if len(symbols) > maxSymbolsPerRequest {
		return nil, ErrTooManySymbols
	}

	results := make([]QuoteResult, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, raw := range symbols {
		symbol := NormalizeSymbol(raw)
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}

		if err := ctx.Err(); err != nil {
			return results, err
		}

		quote, cached, err := s.Quote(ctx, symbol)
		result := QuoteResult{Symbol: symbol, Cached: cached}
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Quote = &quote
		}
		results = append(results, result)
	}

	return results, nil
}

// Stats возвращает состояние кэша.
func (s *QuoteService) Stats() Stats {
	return s.cache.Stats()
}

func (s *QuoteService) symbolType(symbol string) models.SymbolType {
	if kind, ok := s.types[symbol]; ok {
		return kind
	}

	return models.SymbolStock
}

func newMinuteLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}

	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}
