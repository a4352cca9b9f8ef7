package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/click/backend/internal/models"
)

var errUpstream = errors.New("upstream unavailable")

// fakeFetcher отвечает котировкой с ценой по числу вызовов; failures задает,
// сколько первых вызовов по тикеру завершатся ошибкой (-1 означает всегда).
type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int
	failAll  int
	total    int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), failures: make(map[string]int)}
}

func (f *fakeFetcher) Quote(_ context.Context, symbol string) (models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[symbol]++
	f.total++
	if f.total <= f.failAll {
		return models.Quote{}, errUpstream
	}
	if limit, ok := f.failures[symbol]; ok && (limit < 0 || f.calls[symbol] <= limit) {
		return models.Quote{}, fmt.Errorf("%s: %w", symbol, errUpstream)
	}

	return models.Quote{Symbol: symbol, Price: float64(100 + f.calls[symbol])}, nil
}

func (f *fakeFetcher) callsFor(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[symbol]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestQuoteServiceCachesFreshQuotes проверяет попадание в кэш и повторную загрузку после TTL.
func TestQuoteServiceCachesFreshQuotes(t *testing.T) {
	fetcher := newFakeFetcher()
	service := NewQuoteService(fetcher, NewMemoryCache(), time.Minute, 0, discardLogger())
	now := fixedNow
	service.now = func() time.Time { return now }

	quote, cached, err := service.Quote(context.Background(), "vti")
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "VTI", quote.Symbol)
	assert.Equal(t, models.SymbolETF, quote.Type)
	assert.Equal(t, 101.0, quote.Price)

	now = now.Add(59 * time.Second)
	quote, cached, err = service.Quote(context.Background(), "VTI")
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, 101.0, quote.Price)

	now = now.Add(time.Second)
	quote, cached, err = service.Quote(context.Background(), "VTI")
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 102.0, quote.Price)
	assert.Equal(t, 2, fetcher.callsFor("VTI"))
}

// TestQuoteServiceRateLimit проверяет исчерпание бюджета запросов по требованию.
func TestQuoteServiceRateLimit(t *testing.T) {
	fetcher := newFakeFetcher()
	service := NewQuoteService(fetcher, NewMemoryCache(), time.Minute, 1, discardLogger())
	service.now = func() time.Time { return fixedNow }

	_, _, err := service.Quote(context.Background(), "AAPL")
	require.NoError(t, err)

	_, _, err = service.Quote(context.Background(), "MSFT")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Zero(t, fetcher.callsFor("MSFT"))

	// кэш продолжает отвечать без бюджета
	_, cached, err := service.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, cached)
}

// TestQuoteServiceQuotes проверяет список тикеров с повторами и ошибками.
func TestQuoteServiceQuotes(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.failures["BAD"] = -1
	service := NewQuoteService(fetcher, NewMemoryCache(), time.Minute, 0, discardLogger())

	results, err := service.Quotes(context.Background(), []string{"aapl", "AAPL", " ", "BAD", "HYG"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "AAPL", results[0].Symbol)
	require.NotNil(t, results[0].Quote)
	assert.Equal(t, models.SymbolStock, results[0].Quote.Type)

	assert.Equal(t, "BAD", results[1].Symbol)
	assert.Nil(t, results[1].Quote)
	assert.Contains(t, results[1].Error, "upstream unavailable")

	require.NotNil(t, results[2].Quote)
	assert.Equal(t, models.SymbolETF, results[2].Quote.Type)

	_, err = service.Quotes(context.Background(), make([]string, maxSymbolsPerRequest+1))
	assert.ErrorIs(t, err, ErrTooManySymbols)
}

// TestMemoryCacheStats проверяет подсчет свежих и устаревших записей.
func TestMemoryCacheStats(t *testing.T) {
	cache := NewMemoryCache()
	cache.now = func() time.Time { return fixedNow }

	cache.Put("msft", models.Quote{Price: 1}, fixedNow.Add(time.Minute))
	cache.Put("AAPL", models.Quote{Price: 2}, fixedNow)
	cache.Put("", models.Quote{Price: 3}, fixedNow.Add(time.Minute))

	entry, ok := cache.Get("MSFT")
	require.True(t, ok)
	assert.Equal(t, "MSFT", entry.Quote.Symbol)
	assert.False(t, cache.IsStale(entry, fixedNow))
	assert.True(t, cache.IsStale(entry, fixedNow.Add(time.Minute)))

	stats := cache.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 1, stats.Fresh)
	assert.Equal(t, 1, stats.Stale)
	assert.Equal(t, []string{"AAPL", "MSFT"}, stats.Symbols)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cache.Symbols())

	cache.Clear()
	assert.Zero(t, cache.Stats().Size)
}

// TestDefaultUniverse проверяет списки тикеров без повторов.
func TestDefaultUniverse(t *testing.T) {
	universe := DefaultUniverse()
	seen := make(map[string]bool)
	for _, symbol := range universe {
		assert.False(t, seen[symbol.Symbol], symbol.Symbol)
		seen[symbol.Symbol] = true
	}

	counts := Counts(universe)
	assert.Equal(t, 20, counts[models.SymbolStock])
	assert.Equal(t, 20, counts[models.SymbolETF])
	assert.Equal(t, 9, counts[models.SymbolBond])
	assert.Equal(t, models.SymbolETF, typeIndex(universe)["HYG"])
}
