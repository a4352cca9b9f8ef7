package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"example.com/click/backend/internal/models"
	"example.com/click/backend/internal/notifications"
	"example.com/click/backend/internal/retry"
)

const (
	EventLoading     = "market_data_loading"
	EventSymbol      = "symbol_update"
	EventSymbolError = "symbol_error"
	EventProgress    = "batch_progress"
	EventRetryOK     = "retry_success"
	EventRetryFailed = "retry_failure"
	EventReady       = "market_data_ready"
	EventError       = "market_data_error"

	UpdateMarketOpen  = "market_open"
	UpdateMarketClose = "market_close"
)

var (
	ErrLoadInProgress = errors.New("market data load already in progress")
	ErrNoQuotes       = errors.New("no quotes loaded")
)

type slot struct {
	hour   int
	minute int
}

var (
	marketOpen  = slot{hour: 9, minute: 30}
	marketClose = slot{hour: 16, minute: 0}
)

type LoaderConfig struct {
	BatchSize         int
	BatchDelay        time.Duration
	RatePerMinute     int
	MaxRetries        int
	RetryDelay        time.Duration
	Location          *time.Location
	InitialRetryDelay time.Duration
}

// DefaultLoaderConfig возвращает параметры загрузчика: пачки по 3, 30 запросов в минуту.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		BatchSize:         3,
		BatchDelay:        6 * time.Second,
		RatePerMinute:     30,
		MaxRetries:        3,
		RetryDelay:        2 * time.Second,
		Location:          time.UTC,
		InitialRetryDelay: time.Minute,
	}
}

type Publisher interface {
	Publish(topic string, event notifications.Event)
}

type LoadResult struct {
	Total      int       `json:"total"`
	Loaded     int       `json:"loaded"`
	Failed     []string  `json:"failed"`
	Cached     bool      `json:"cached"`
	UpdateType string    `json:"updateType"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	NextLoad   time.Time `json:"nextLoad"`
}

type Status struct {
	Loading    bool                      `json:"loading"`
	LastLoad   *time.Time                `json:"lastLoad,omitempty"`
	NextLoad   time.Time                 `json:"nextLoad"`
	LastError  string                    `json:"lastError,omitempty"`
	LastResult *LoadResult               `json:"lastResult,omitempty"`
	Universe   map[models.SymbolType]int `json:"universe"`
	Cache      Stats                     `json:"cache"`
}

type fetchOutcome struct {
	symbol Symbol
	quote  models.Quote
	err    error
}

// Loader загружает весь список тикеров пачками по расписанию открытия и закрытия биржи.
type Loader struct {
	fetcher   QuoteFetcher
	cache     Cache
	publisher Publisher
	universe  []Symbol
	config    LoaderConfig
	limiter   *rate.Limiter
	retries   *retry.Controller
	logger    *slog.Logger
	now       func() time.Time
	sleep     retry.SleepFunc

	running atomic.Bool

	mu         sync.RWMutex
	lastLoad   time.Time
	lastError  string
	lastResult *LoadResult
}

type LoaderOption func(*Loader)

// WithLoaderSleep подменяет функцию ожидания между пачками и повторами.
func WithLoaderSleep(sleep retry.SleepFunc) LoaderOption {
	return func(l *Loader) {
		l.sleep = sleep
	}
}

// WithLoaderClock подменяет источник времени.
func WithLoaderClock(now func() time.Time) LoaderOption {
	return func(l *Loader) {
		l.now = now
	}
}

// WithUniverse задает собственный список тикеров.
func WithUniverse(universe []Symbol) LoaderOption {
	return func(l *Loader) {
		l.universe = universe
	}
}

// NewLoader создает загрузчик котировок.
func NewLoader(fetcher QuoteFetcher, cache Cache, publisher Publisher, config LoaderConfig, logger *slog.Logger, opts ...LoaderOption) *Loader {
	defaults := DefaultLoaderConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if config.InitialRetryDelay <= 0 {
		config.InitialRetryDelay = defaults.InitialRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Loader{
		fetcher:   fetcher,
		cache:     cache,
		publisher: publisher,
		universe:  DefaultUniverse(),
		config:    config,
		limiter:   newMinuteLimiter(config.RatePerMinute, config.BatchSize),
		logger:    logger,
		now:       time.Now,
		sleep:     retry.Sleep,
	}
	for _, opt := range opts {
		opt(l)
	}

	policy := retry.Policy{
		MaxAttempts: config.MaxRetries + 1,
		BaseDelay:   config.RetryDelay,
		Strategy:    retry.StrategyFixed,
	}
	l.retries = retry.NewController(policy, logger, retry.WithSleep(l.sleep), retry.WithClock(l.now))

	return l
}

// Load загружает котировки. Без force загрузка пропускается, пока не наступило
// следующее время по расписанию.
func (l *Loader) Load(ctx context.Context, force bool) (LoadResult, error) {
	if !l.running.CompareAndSwap(false, true) {
		return LoadResult{}, ErrLoadInProgress
	}
	defer l.running.Store(false)

	startedAt := l.now()
	result := LoadResult{
		Total:      len(l.universe),
		Failed:     []string{},
		UpdateType: UpdateType(startedAt, l.config.Location),
		StartedAt:  startedAt.UTC(),
		NextLoad:   NextLoad(startedAt, l.config.Location).UTC(),
	}

	if !force && !l.due(startedAt) {
		result.Cached = true
		result.Loaded = l.cache.Stats().Fresh
		result.FinishedAt = l.now().UTC()
		l.publish(EventReady, map[string]interface{}{
			"cached":     true,
			"loaded":     result.Loaded,
			"total":      result.Total,
			"nextUpdate": result.NextLoad,
		})
		return result, nil
	}

	batches := chunk(l.universe, l.config.BatchSize)
	l.logger.Info("market data load started",
		slog.Int("symbols", result.Total),
		slog.Int("batches", len(batches)),
		slog.String("update_type", result.UpdateType),
	)
	l.publish(EventLoading, map[string]interface{}{
		"total":      result.Total,
		"batches":    len(batches),
		"updateType": result.UpdateType,
	})

	var failures []Symbol
	for i, batch := range batches {
		if i > 0 {
			if err := l.sleep(ctx, l.config.BatchDelay); err != nil {
				return l.fail(result, err)
			}
		}

		outcomes, err := l.fetchBatch(ctx, batch)
		if err != nil {
			return l.fail(result, err)
		}

		for _, outcome := range outcomes {
			if outcome.err != nil {
				failures = append(failures, outcome.symbol)
				l.publish(EventSymbolError, map[string]interface{}{
					"symbol": outcome.symbol.Symbol,
					"type":   outcome.symbol.Type,
					"error":  outcome.err.Error(),
				})
				continue
			}

			l.store(outcome.symbol, outcome.quote, result.NextLoad)
			result.Loaded++
			l.publish(EventSymbol, map[string]interface{}{
				"symbol": outcome.symbol.Symbol,
				"type":   outcome.symbol.Type,
				"quote":  outcome.quote,
			})
		}

		processed := result.Loaded + len(failures)
		l.publish(EventProgress, map[string]interface{}{
			"batch":    i + 1,
			"batches":  len(batches),
			"loaded":   result.Loaded,
			"failed":   len(failures),
			"progress": percent(processed, result.Total),
		})
		l.logger.Debug("market batch processed",
			slog.Int("batch", i+1),
			slog.Int("batches", len(batches)),
			slog.Int("loaded", result.Loaded),
			slog.Int("failed", len(failures)),
		)
	}

	if len(failures) > 0 {
		remaining, err := l.retryQueue(ctx, failures, result.NextLoad)
		if err != nil {
			return l.fail(result, err)
		}
		result.Loaded += len(failures) - len(remaining)
		for _, symbol := range remaining {
			result.Failed = append(result.Failed, symbol.Symbol)
		}
	}

	result.FinishedAt = l.now().UTC()
	if result.Total > 0 && result.Loaded == 0 {
		return l.fail(result, ErrNoQuotes)
	}

	l.mu.Lock()
	l.lastLoad = startedAt
	l.lastError = ""
	stored := result
	l.lastResult = &stored
	l.mu.Unlock()

	l.logger.Info("market data load finished",
		slog.Int("loaded", result.Loaded),
		slog.Int("failed", len(result.Failed)),
		slog.Time("next_load", result.NextLoad),
	)
	l.publish(EventReady, map[string]interface{}{
		"cached":     false,
		"loaded":     result.Loaded,
		"failed":     result.Failed,
		"total":      result.Total,
		"nextUpdate": result.NextLoad,
	})

	return result, nil
}

// Run выполняет начальную загрузку и затем загружает данные по расписанию до отмены ctx.
func (l *Loader) Run(ctx context.Context) error {
	for {
		_, err := l.Load(ctx, true)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.logger.Error("initial market data load failed",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", l.config.InitialRetryDelay),
		)
		if err := l.sleep(ctx, l.config.InitialRetryDelay); err != nil {
			return err
		}
	}

	for {
		now := l.now()
		next := NextLoad(now, l.config.Location)
		l.logger.Info("next market data load scheduled", slog.Time("at", next))

		if err := l.sleep(ctx, next.Sub(now)); err != nil {
			return err
		}

		if _, err := l.Load(ctx, true); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("scheduled market data load failed", slog.String("error", err.Error()))
		}
	}
}

// Status возвращает сведения о последней загрузке.
func (l *Loader) Status() Status {
	now := l.now()

	l.mu.RLock()
	defer l.mu.RUnlock()

	status := Status{
		Loading:    l.running.Load(),
		NextLoad:   NextLoad(now, l.config.Location).UTC(),
		LastError:  l.lastError,
		LastResult: l.lastResult,
		Universe:   Counts(l.universe),
		Cache:      l.cache.Stats(),
	}
	if !l.lastLoad.IsZero() {
		last := l.lastLoad.UTC()
		status.LastLoad = &last
	}

	return status
}

func (l *Loader) due(now time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.lastLoad.IsZero() {
		return true
	}

	return !now.Before(NextLoad(l.lastLoad, l.config.Location))
}

func (l *Loader) fetchBatch(ctx context.Context, batch []Symbol) ([]fetchOutcome, error) {
	outcomes := make([]fetchOutcome, len(batch))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, symbol := range batch {
		i, symbol := i, symbol
		group.Go(func() error {
			quote, err := l.fetchWithRetry(groupCtx, symbol)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			outcomes[i] = fetchOutcome{symbol: symbol, quote: quote, err: err}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return outcomes, nil
}

func (l *Loader) fetchWithRetry(ctx context.Context, symbol Symbol) (models.Quote, error) {
	outcome, err := retry.Run(ctx, l.retries, func(ctx context.Context, _ int) (models.Quote, string, error) {
		quote, err := l.fetchOnce(ctx, symbol)
		if isPermanentQuoteError(err) {
			return quote, "", retry.Permanent(err)
		}
		return quote, "", err
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) && exhausted.Last != nil {
			return models.Quote{}, exhausted.Last
		}
		return models.Quote{}, err
	}

	return outcome.Value, nil
}

func (l *Loader) fetchOnce(ctx context.Context, symbol Symbol) (models.Quote, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return models.Quote{}, err
	}

	quote, err := l.fetcher.Quote(ctx, symbol.Symbol)
	if err != nil {
		return models.Quote{}, err
	}
	quote.Symbol = symbol.Symbol
	quote.Type = symbol.Type

	return quote, nil
}

// retryQueue повторяет неудачные тикеры по одному после общей паузы и
// возвращает те, что так и не загрузились.
func (l *Loader) retryQueue(ctx context.Context, failures []Symbol, expiresAt time.Time) ([]Symbol, error) {
	delay := l.config.RetryDelay * time.Duration(len(failures))
	l.logger.Info("retrying failed symbols", slog.Int("symbols", len(failures)), slog.Duration("delay", delay))
	if err := l.sleep(ctx, delay); err != nil {
		return nil, err
	}

	var remaining []Symbol
	for _, symbol := range failures {
		quote, err := l.fetchOnce(ctx, symbol)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if err != nil {
			remaining = append(remaining, symbol)
			l.publish(EventRetryFailed, map[string]interface{}{
				"symbol": symbol.Symbol,
				"type":   symbol.Type,
				"error":  err.Error(),
			})
			continue
		}

		l.store(symbol, quote, expiresAt)
		l.publish(EventRetryOK, map[string]interface{}{
			"symbol": symbol.Symbol,
			"type":   symbol.Type,
			"quote":  quote,
		})
	}

	return remaining, nil
}

func (l *Loader) store(symbol Symbol, quote models.Quote, expiresAt time.Time) {
	quote.Type = symbol.Type
	l.cache.Put(symbol.Symbol, quote, expiresAt)
}

func (l *Loader) fail(result LoadResult, err error) (LoadResult, error) {
	result.FinishedAt = l.now().UTC()

	l.mu.Lock()
	l.lastError = err.Error()
	l.mu.Unlock()

	l.logger.Error("market data load failed", slog.String("error", err.Error()))
	l.publish(EventError, map[string]interface{}{
		"error":  err.Error(),
		"loaded": result.Loaded,
		"total":  result.Total,
	})

	return result, fmt.Errorf("load market data: %w", err)
}

func (l *Loader) publish(eventType string, data interface{}) {
	if l.publisher == nil {
		return
	}

	l.publisher.Publish(notifications.TopicMarket, notifications.Event{Type: eventType, Data: data})
}

// NextLoad возвращает ближайшее строго после now время открытия или закрытия
// биржи в часовом поясе loc, пропуская выходные.
func NextLoad(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	for day := 0; day < 8; day++ {
		date := local.AddDate(0, 0, day)
		if isWeekend(date) {
			continue
		}
		for _, s := range []slot{marketOpen, marketClose} {
			candidate := time.Date(date.Year(), date.Month(), date.Day(), s.hour, s.minute, 0, 0, loc)
			if candidate.After(local) {
				return candidate
			}
		}
	}

	return local.Add(24 * time.Hour)
}

// UpdateType сообщает, открыта ли биржа в момент now.
func UpdateType(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	if isWeekend(local) {
		return UpdateMarketClose
	}

	open := time.Date(local.Year(), local.Month(), local.Day(), marketOpen.hour, marketOpen.minute, 0, 0, loc)
	closing := time.Date(local.Year(), local.Month(), local.Day(), marketClose.hour, marketClose.minute, 0, 0, loc)
	if !local.Before(open) && local.Before(closing) {
		return UpdateMarketOpen
	}

	return UpdateMarketClose
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

func isPermanentQuoteError(err error) bool {
	return errors.Is(err, ErrMissingAPIKey) || errors.Is(err, ErrEmptySymbol) || errors.Is(err, ErrInvalidQuote)
}

func chunk(symbols []Symbol, size int) [][]Symbol {
	if size <= 0 {
		size = 1
	}

	batches := make([][]Symbol, 0, (len(symbols)+size-1)/size)
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		batches = append(batches, symbols[start:end])
	}

	return batches
}

func percent(done, total int) int {
	if total == 0 {
		return 100
	}

	return done * 100 / total
}
