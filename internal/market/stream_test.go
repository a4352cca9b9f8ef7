package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/click/backend/internal/models"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func tradeMessage(trades ...map[string]any) map[string]any {
	return map[string]any{"type": "trade", "data": trades}
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("streamer did not stop")
		return nil
	}
}

// TestStreamerAppliesTrades проверяет подписку, обновление кэша и событие quote_update.
func TestStreamerAppliesTrades(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan streamCommand, 8)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < 2; i++ {
			var command streamCommand
			if err := conn.ReadJSON(&command); err != nil {
				return
			}
			subscribed <- command
		}

		_ = conn.WriteJSON(map[string]any{"type": "ping"})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteJSON(tradeMessage(
			map[string]any{"s": "AAPL", "p": 101.5, "t": 1700000000000, "v": 10},
			map[string]any{"s": "AAPL", "p": 102, "t": 1700000001000, "v": 5},
			map[string]any{"s": "MSFT", "p": 0, "t": 1700000001000, "v": 1},
		))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cache := NewMemoryCache()
	cache.Put("AAPL", models.Quote{Type: models.SymbolStock, Price: 100, PreviousClose: 100, High: 101, Low: 99}, time.Now().Add(time.Minute))
	publisher := &recordingPublisher{}

	streamer := NewStreamer(StreamConfig{
		URL:      wsURL(server),
		APIKey:   "secret",
		Symbols:  []string{"aapl", "MSFT"},
		QuoteTTL: time.Minute,
	}, cache, publisher, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- streamer.Run(ctx) }()

	require.Eventually(t, func() bool {
		entry, ok := cache.Get("AAPL")
		return ok && entry.Quote.Price == 102
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, waitRun(t, done), context.Canceled)

	assert.Equal(t, streamCommand{Type: "subscribe", Symbol: "AAPL"}, <-subscribed)
	assert.Equal(t, streamCommand{Type: "subscribe", Symbol: "MSFT"}, <-subscribed)

	entry, ok := cache.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, models.SymbolStock, entry.Quote.Type)
	assert.Equal(t, 15.0, entry.Quote.Volume)
	assert.Equal(t, 102.0, entry.Quote.High)
	assert.Equal(t, 99.0, entry.Quote.Low)
	assert.InDelta(t, 2.0, entry.Quote.Change, 1e-9)
	assert.InDelta(t, 2.0, entry.Quote.ChangePercent, 1e-9)
	assert.Equal(t, time.UnixMilli(1700000001000).UTC(), entry.Quote.Timestamp)

	_, ok = cache.Get("MSFT")
	assert.False(t, ok)
	assert.Equal(t, 1, publisher.count(EventQuoteUpdate))
}

// TestStreamerReconnects проверяет переподключение после обрыва соединения.
func TestStreamerReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var connections int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if atomic.AddInt32(&connections, 1) == 1 {
			return
		}

		_ = conn.WriteJSON(tradeMessage(map[string]any{"s": "VTI", "p": 250.5, "t": 1700000000000, "v": 3}))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	var mu sync.Mutex
	var sleeps []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}

	cache := NewMemoryCache()
	streamer := NewStreamer(StreamConfig{
		URL:            wsURL(server),
		APIKey:         "secret",
		Symbols:        []string{"VTI"},
		ReconnectDelay: time.Second,
	}, cache, nil, discardLogger(), WithStreamerSleep(sleep))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- streamer.Run(ctx) }()

	require.Eventually(t, func() bool {
		entry, ok := cache.Get("VTI")
		return ok && entry.Quote.Price == 250.5
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, waitRun(t, done), context.Canceled)

	entry, _ := cache.Get("VTI")
	assert.Equal(t, models.SymbolETF, entry.Quote.Type)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, sleeps)
	assert.Equal(t, time.Second, sleeps[0])
	assert.GreaterOrEqual(t, atomic.LoadInt32(&connections), int32(2))
}

// TestStreamerRequiresKey проверяет отказ без ключа Finnhub.
func TestStreamerRequiresKey(t *testing.T) {
	streamer := NewStreamer(StreamConfig{Symbols: []string{"AAPL"}}, NewMemoryCache(), nil, discardLogger())

	assert.ErrorIs(t, streamer.Run(context.Background()), ErrMissingAPIKey)
}

// TestStreamerSymbols проверяет нормализацию и ограничение списка подписок.
func TestStreamerSymbols(t *testing.T) {
	streamer := NewStreamer(StreamConfig{Symbols: []string{"aapl", " msft ", "AAPL", ""}}, NewMemoryCache(), nil, discardLogger())
	assert.Equal(t, []string{"AAPL", "MSFT"}, streamer.Symbols())

	many := make([]string, 0, 80)
	for i := 0; i < 80; i++ {
		many = append(many, fmt.Sprintf("S%d", i))
	}
	assert.Len(t, streamSymbols(many), maxStreamSymbols)

	defaults := NewStreamer(StreamConfig{}, NewMemoryCache(), nil, discardLogger())
	assert.Contains(t, defaults.Symbols(), "SPY")
}

// TestApplyTradeIgnoresOlderPrice проверяет, что запоздавшая сделка не откатывает цену.
func TestApplyTradeIgnoresOlderPrice(t *testing.T) {
	quote := applyTrade(models.Quote{Symbol: "AAPL"}, streamTrade{Symbol: "AAPL", Price: 10, Timestamp: 2000, Volume: 1})
	quote = applyTrade(quote, streamTrade{Symbol: "AAPL", Price: 9, Timestamp: 1000, Volume: 2})

	assert.Equal(t, 10.0, quote.Price)
	assert.Equal(t, 3.0, quote.Volume)
	assert.Equal(t, 10.0, quote.Low)
	assert.Zero(t, quote.Change)
}
