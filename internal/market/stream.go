package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"example.com/click/backend/internal/models"
	"example.com/click/backend/internal/notifications"
	"example.com/click/backend/internal/retry"
)

const (
	EventQuoteUpdate = "quote_update"

	DefaultStreamURL = "wss://ws.finnhub.io"

	// Finnhub держит не больше 50 подписок на одно соединение.
	maxStreamSymbols = 50

	streamWriteTimeout = 5 * time.Second
)

var ErrNoStreamSymbols = errors.New("market stream has no symbols to subscribe")

type StreamConfig struct {
	URL               string
	APIKey            string
	Symbols           []string
	QuoteTTL          time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

type streamCommand struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type streamTrade struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Timestamp int64   `json:"t"`
	Volume    float64 `json:"v"`
}

type streamMessage struct {
	Type string        `json:"type"`
	Data []streamTrade `json:"data,omitempty"`
	Msg  string        `json:"msg,omitempty"`
}

// Streamer держит websocket-подписку Finnhub на сделки и обновляет кэш котировок между загрузками.
type Streamer struct {
	config    StreamConfig
	cache     Cache
	publisher Publisher
	types     map[string]models.SymbolType
	dialer    *websocket.Dialer
	logger    *slog.Logger
	now       func() time.Time
	sleep     retry.SleepFunc

	writeMu sync.Mutex
}

type StreamerOption func(*Streamer)

// WithStreamerSleep подменяет ожидание перед переподключением.
func WithStreamerSleep(sleep retry.SleepFunc) StreamerOption {
	return func(s *Streamer) {
		s.sleep = sleep
	}
}

// WithStreamerClock подменяет источник времени.
func WithStreamerClock(now func() time.Time) StreamerOption {
	return func(s *Streamer) {
		s.now = now
	}
}

// NewStreamer создает подписчика на сделки. Без списка тикеров берется весь универсум загрузчика.
func NewStreamer(config StreamConfig, cache Cache, publisher Publisher, logger *slog.Logger, opts ...StreamerOption) *Streamer {
	universe := DefaultUniverse()

	if config.URL == "" {
		config.URL = DefaultStreamURL
	}
	if config.QuoteTTL <= 0 {
		config.QuoteTTL = 5 * time.Minute
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.MaxReconnectDelay <= 0 {
		config.MaxReconnectDelay = 2 * time.Minute
	}
	if len(config.Symbols) == 0 {
		for _, symbol := range universe {
			config.Symbols = append(config.Symbols, symbol.Symbol)
		}
	}
	config.Symbols = streamSymbols(config.Symbols)

	if logger == nil {
		logger = slog.Default()
	}

	s := &Streamer{
		config:    config,
		cache:     cache,
		publisher: publisher,
		types:     typeIndex(universe),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
		now:    time.Now,
		sleep:  retry.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Symbols возвращает тикеры, на которые оформляется подписка.
func (s *Streamer) Symbols() []string {
	return append([]string(nil), s.config.Symbols...)
}

// Run держит соединение до отмены контекста и переподключается с растущей паузой.
func (s *Streamer) Run(ctx context.Context) error {
	if s.config.APIKey == "" {
		return ErrMissingAPIKey
	}
	if len(s.config.Symbols) == 0 {
		return ErrNoStreamSymbols
	}

	reconnect := retry.Policy{
		BaseDelay: s.config.ReconnectDelay,
		MaxDelay:  s.config.MaxReconnectDelay,
		Strategy:  retry.StrategyExponential,
	}.BackOff()

	for {
		connected, err := s.session(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if connected {
			reconnect.Reset()
		}

		delay := reconnect.NextBackOff()
		s.logger.Warn("market stream disconnected",
			slog.String("error", err.Error()),
			slog.Duration("reconnect_in", delay),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// session обслуживает одно соединение. Первое значение сообщает, что рукопожатие прошло.
func (s *Streamer) session(ctx context.Context) (bool, error) {
	endpoint, err := s.endpoint()
	if err != nil {
		return false, err
	}

	conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("dial market stream: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.command(conn, "unsubscribe")
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := s.command(conn, "subscribe"); err != nil {
		return true, err
	}
	s.logger.Info("market stream connected", slog.Int("symbols", len(s.config.Symbols)))

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read market stream: %w", err)
		}

		var message streamMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			s.logger.Warn("skip malformed market stream message", slog.String("error", err.Error()))
			continue
		}

		s.handle(message)
	}
}

// command отправляет subscribe или unsubscribe для каждого тикера.
func (s *Streamer) command(conn *websocket.Conn, kind string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, symbol := range s.config.Symbols {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(streamCommand{Type: kind, Symbol: symbol}); err != nil {
			return fmt.Errorf("%s %s: %w", kind, symbol, err)
		}
	}

	return nil
}

func (s *Streamer) handle(message streamMessage) {
	switch message.Type {
	case "trade":
		for _, quote := range s.apply(message.Data) {
			s.publish(quote)
		}
	case "error":
		s.logger.Warn("market stream error", slog.String("message", message.Msg))
	}
}

// apply переносит сделки в кэш и возвращает по одной обновленной котировке на тикер.
func (s *Streamer) apply(trades []streamTrade) []models.Quote {
	order := make([]string, 0, len(trades))
	latest := make(map[string]models.Quote, len(trades))

	for _, trade := range trades {
		symbol := NormalizeSymbol(trade.Symbol)
		if symbol == "" || trade.Price <= 0 {
			continue
		}

		quote, ok := latest[symbol]
		if !ok {
			if entry, cached := s.cache.Get(symbol); cached {
				quote = entry.Quote
			}
			quote.Symbol = symbol
			if quote.Type == "" {
				quote.Type = s.types[symbol]
			}
			order = append(order, symbol)
		}

		latest[symbol] = applyTrade(quote, trade)
	}

	expiresAt := s.now().Add(s.config.QuoteTTL)
	quotes := make([]models.Quote, 0, len(order))
	for _, symbol := range order {
		quote := latest[symbol]
		s.cache.Put(symbol, quote, expiresAt)
		quotes = append(quotes, quote)
	}

	return quotes
}

func (s *Streamer) publish(quote models.Quote) {
	if s.publisher == nil {
		return
	}

	s.publisher.Publish(notifications.TopicMarket, notifications.Event{
		Type: EventQuoteUpdate,
		Data: map[string]interface{}{
			"symbol": quote.Symbol,
			"type":   quote.Type,
			"quote":  quote,
		},
	})
}

func (s *Streamer) endpoint() (string, error) {
	parsed, err := url.Parse(s.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse market stream url: %w", err)
	}

	query := parsed.Query()
	query.Set("token", s.config.APIKey)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

// applyTrade обновляет цену по сделке. Более старая сделка меняет только объем.
func applyTrade(quote models.Quote, trade streamTrade) models.Quote {
	quote.Volume += trade.Volume

	tradedAt := time.UnixMilli(trade.Timestamp).UTC()
	if !quote.Timestamp.IsZero() && tradedAt.Before(quote.Timestamp) {
		return quote
	}

	quote.Price = trade.Price
	quote.Timestamp = tradedAt
	if quote.High == 0 || trade.Price > quote.High {
		quote.High = trade.Price
	}
	if quote.Low == 0 || trade.Price < quote.Low {
		quote.Low = trade.Price
	}
	if quote.PreviousClose > 0 {
		quote.Change = trade.Price - quote.PreviousClose
		quote.ChangePercent = quote.Change / quote.PreviousClose * 100
	}

	return quote
}

func streamSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))

	for _, symbol := range symbols {
		symbol = NormalizeSymbol(symbol)
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		out = append(out, symbol)
		if len(out) == maxStreamSymbols {
			break
		}
	}

	return out
}
