package handlers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"example.com/click/backend/internal/market"
	"example.com/click/backend/internal/models"
	"example.com/click/backend/internal/notifications"
)

type fakeQuoteSource struct {
	quote   models.Quote
	cached  bool
	err     error
	results []market.QuoteResult
	stats   market.Stats

	gotSymbol  string
	gotSymbols []string
}

func (f *fakeQuoteSource) Quote(_ context.Context, symbol string) (models.Quote, bool, error) {
	f.gotSymbol = symbol
	return f.quote, f.cached, f.err
}

func (f *fakeQuoteSource) Quotes(_ context.Context, symbols []string) ([]market.QuoteResult, error) {
	f.gotSymbols = symbols
	return f.results, f.err
}

func (f *fakeQuoteSource) Stats() market.Stats {
	return f.stats
}

type fakeMarketLoader struct {
	mu     sync.Mutex
	status market.Status
	forced []bool
	done   chan struct{}
}

func (f *fakeMarketLoader) Load(_ context.Context, force bool) (market.LoadResult, error) {
	f.mu.Lock()
	f.forced = append(f.forced, force)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return market.LoadResult{}, nil
}

func (f *fakeMarketLoader) Status() market.Status {
	return f.status
}

// TestQuoteReturnsCachedFlag проверяет ответ с котировкой и признаком кэша.
func TestQuoteReturnsCachedFlag(t *testing.T) {
	quote := models.Quote{Symbol: "AAPL", Type: models.SymbolStock, Price: 190.5, Change: 1.5, ChangePercent: 0.79}
	source := &fakeQuoteSource{quote: quote, cached: true}
	handler := NewMarketHandler(context.Background(), source, nil, notifications.NewHub(), discardLogger())

	c, rec := newContext(http.MethodGet, "/api/quotes/aapl", "")
	c.SetParamNames("symbol")
	c.SetParamValues("aapl")
	if err := handler.Quote(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectStatus(t, rec, http.StatusOK)
	var got QuoteResponse
	decodeBody(t, rec, &got)
	if diff := cmp.Diff(QuoteResponse{Quote: quote, Cached: true}, got); diff != "" {
		t.Fatalf("quote mismatch (-want +got):\n%s", diff)
	}
	if source.gotSymbol != "aapl" {
		t.Fatalf("expected raw symbol passed through, got %q", source.gotSymbol)
	}
}

// TestQuoteErrorMapping проверяет коды ответа для ошибок котировок.
func TestQuoteErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "empty symbol", err: market.ErrEmptySymbol, want: http.StatusBadRequest},
		{name: "rate limited", err: fmt.Errorf("quote AAPL: %w", market.ErrRateLimited), want: http.StatusTooManyRequests},
		{name: "missing key", err: market.ErrMissingAPIKey, want: http.StatusServiceUnavailable},
		{name: "no data", err: market.ErrInvalidQuote, want: http.StatusNotFound},
		{name: "upstream status", err: &market.StatusError{StatusCode: http.StatusForbidden, Body: "denied"}, want: http.StatusBadGateway},
		{name: "transport", err: errors.New("dial tcp: refused"), want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewMarketHandler(context.Background(), &fakeQuoteSource{err: tt.err}, nil, notifications.NewHub(), discardLogger())

			c, rec := newContext(http.MethodGet, "/api/quotes/X", "")
			c.SetParamNames("symbol")
			c.SetParamValues("X")
			if err := handler.Quote(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			expectStatus(t, rec, tt.want)
		})
	}
}

// TestQuoteListSplitsSymbols проверяет разбор списка тикеров.
func TestQuoteListSplitsSymbols(t *testing.T) {
	price := models.Quote{Symbol: "MSFT", Price: 420}
	source := &fakeQuoteSource{results: []market.QuoteResult{
		{Symbol: "MSFT", Quote: &price},
		{Symbol: "ZZZZ", Error: "quote has no price"},
	}}
	handler := NewMarketHandler(context.Background(), source, nil, notifications.NewHub(), discardLogger())

	c, rec := newContext(http.MethodGet, "/api/quotes?symbols=msft,+ZZZZ,,", "")
	if err := handler.QuoteList(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectStatus(t, rec, http.StatusOK)
	if diff := cmp.Diff([]string{"msft", "ZZZZ"}, source.gotSymbols); diff != "" {
		t.Fatalf("symbols mismatch (-want +got):\n%s", diff)
	}

	var got QuotesResponse
	decodeBody(t, rec, &got)
	if diff := cmp.Diff(source.results, got.Quotes); diff != "" {
		t.Fatalf("results mismatch (-want +got):\n%s", diff)
	}
}

// TestQuoteListRejectsBadInput проверяет пустой и слишком длинный список.
func TestQuoteListRejectsBadInput(t *testing.T) {
	handler := NewMarketHandler(context.Background(), &fakeQuoteSource{}, nil, notifications.NewHub(), discardLogger())
	c, rec := newContext(http.MethodGet, "/api/quotes?symbols=,,", "")
	if err := handler.QuoteList(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectStatus(t, rec, http.StatusBadRequest)

	handler = NewMarketHandler(context.Background(), &fakeQuoteSource{err: market.ErrTooManySymbols}, nil, notifications.NewHub(), discardLogger())
	c, rec = newContext(http.MethodGet, "/api/quotes?symbols=A,B", "")
	if err := handler.QuoteList(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectStatus(t, rec, http.StatusBadRequest)
}

// TestMarketStatus проверяет статус с загрузчиком и без него.
func TestMarketStatus(t *testing.T) {
	stats := market.Stats{Size: 2, Fresh: 1, Stale: 1, Symbols: []string{"AAPL", "HYG"}}

	handler := NewMarketHandler(context.Background(), &fakeQuoteSource{stats: stats}, nil, notifications.NewHub(), discardLogger())
	c, rec := newContext(http.MethodGet, "/api/market/status", "")
	if err := handler.Status(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectStatus(t, rec, http.StatusOK)
	var withoutLoader MarketStatusResponse
	decodeBody(t, rec, &withoutLoader)
	if withoutLoader.LoaderEnabled || withoutLoader.Loader != nil || withoutLoader.Cache.Size != 2 {
		t.Fatalf("unexpected status without loader: %+v", withoutLoader)
	}

	loader := &fakeMarketLoader{status: market.Status{
		Loading:  true,
		Universe: map[models.SymbolType]int{models.SymbolStock: 20},
		Cache:    market.Stats{Size: 5, Fresh: 5, Symbols: []string{}},
	}}
	handler = NewMarketHandler(context.Background(), &fakeQuoteSource{stats: stats}, loader, notifications.NewHub(), discardLogger())
	c, rec = newContext(http.MethodGet, "/api/market/status", "")
	if err := handler.Status(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectStatus(t, rec, http.StatusOK)
	var withLoader MarketStatusResponse
	decodeBody(t, rec, &withLoader)
	if !withLoader.LoaderEnabled || withLoader.Loader == nil || !withLoader.Loader.Loading {
		t.Fatalf("unexpected loader status: %+v", withLoader)
	}
	if withLoader.Cache.Size != 5 || withLoader.Loader.Universe[models.SymbolStock] != 20 {
		t.Fatalf("expected loader cache stats, got %+v", withLoader.Cache)
	}
}

// TestMarketReload проверяет запуск фоновой загрузки и отказы.
func TestMarketReload(t *testing.T) {
	handler := NewMarketHandler(context.Background(), &fakeQuoteSource{}, nil, notifications.NewHub(), discardLogger())
	c, rec := newContext(http.MethodPost, "/api/market/reload", "")
	if err := handler.Reload(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectStatus(t, rec, http.StatusServiceUnavailable)

	busy := &fakeMarketLoader{status: market.Status{Loading: true}}
	handler = NewMarketHandler(context.Background(), &fakeQuoteSource{}, busy, notifications.NewHub(), discardLogger())
	c, rec = newContext(http.MethodPost, "/api/market/reload", "")
	if err := handler.Reload(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectStatus(t, rec, http.StatusConflict)

	idle := &fakeMarketLoader{done: make(chan struct{})}
	handler = NewMarketHandler(context.Background(), &fakeQuoteSource{}, idle, notifications.NewHub(), discardLogger())
	c, rec = newContext(http.MethodPost, "/api/market/reload", "")
	if err := handler.Reload(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectStatus(t, rec, http.StatusAccepted)

	select {
	case <-idle.done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected background load to start")
	}
	idle.mu.Lock()
	defer idle.mu.Unlock()
	if diff := cmp.Diff([]bool{true}, idle.forced); diff != "" {
		t.Fatalf("load calls mismatch (-want +got):\n%s", diff)
	}
}

// TestMarketStream проверяет приветствие и доставку событий по SSE.
func TestMarketStream(t *testing.T) {
	hub := notifications.NewHub()
	loader := &fakeMarketLoader{status: market.Status{Universe: map[models.SymbolType]int{}}}
	handler := NewMarketHandler(context.Background(), &fakeQuoteSource{}, loader, hub, discardLogger())

	e := newTestEcho()
	e.GET("/api/market/stream", handler.Stream)
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/market/stream", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	hello := readSSEEvent(t, reader)
	if hello["event"] != "connected" || hello["id"] == "" {
		t.Fatalf("unexpected hello event: %v", hello)
	}
	if hub.Subscribers(notifications.TopicMarket) != 1 {
		t.Fatalf("expected one subscriber, got %d", hub.Subscribers(notifications.TopicMarket))
	}

	hub.Publish(notifications.TopicMarket, notifications.Event{Type: market.EventProgress, Data: map[string]int{"percent": 50}})
	event := readSSEEvent(t, reader)
	if event["event"] != market.EventProgress {
		t.Fatalf("expected progress event, got %v", event)
	}
	if !strings.Contains(event["data"], `"percent":50`) {
		t.Fatalf("expected progress payload, got %s", event["data"])
	}
}

// readSSEEvent читает одно событие до пустой строки, пропуская комментарии.
func readSSEEvent(t *testing.T, reader *bufio.Reader) map[string]string {
	t.Helper()

	fields := make(map[string]string)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if len(fields) > 0 {
				return fields
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		name, value, _ := strings.Cut(line, ": ")
		fields[name] = value
	}
}
