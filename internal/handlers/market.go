package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"example.com/click/backend/internal/market"
	"example.com/click/backend/internal/models"
	"example.com/click/backend/internal/notifications"
)

type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (models.Quote, bool, error)
	Quotes(ctx context.Context, symbols []string) ([]market.QuoteResult, error)
	Stats() market.Stats
}

type MarketLoader interface {
	Load(ctx context.Context, force bool) (market.LoadResult, error)
	Status() market.Status
}

type MarketHandler struct {
	Quotes QuoteSource
	Loader MarketLoader
	Hub    *notifications.Hub
	Logger *slog.Logger

	// baseCtx ограничивает фоновые перезагрузки временем жизни сервера.
	baseCtx context.Context
}

type QuoteResponse struct {
	Quote  models.Quote `json:"quote"`
	Cached bool         `json:"cached"`
}

type QuotesResponse struct {
	Quotes []market.QuoteResult `json:"quotes"`
}

type MarketStatusResponse struct {
	LoaderEnabled bool           `json:"loaderEnabled"`
	Loader        *market.Status `json:"loader,omitempty"`
	Cache         market.Stats   `json:"cache"`
}

// NewMarketHandler создает обработчик котировок. loader может быть nil, если загрузчик выключен.
func NewMarketHandler(ctx context.Context, quotes QuoteSource, loader MarketLoader, hub *notifications.Hub, logger *slog.Logger) *MarketHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &MarketHandler{Quotes: quotes, Loader: loader, Hub: hub, Logger: logger, baseCtx: ctx}
}

// Quote возвращает котировку одного тикера.
func (h *MarketHandler) Quote(c echo.Context) error {
	quote, cached, err := h.Quotes.Quote(c.Request().Context(), c.Param("symbol"))
	if err != nil {
		return h.quoteError(c, err)
	}

	return c.JSON(http.StatusOK, QuoteResponse{Quote: quote, Cached: cached})
}

// QuoteList возвращает котировки для списка symbols=AAPL,MSFT.
func (h *MarketHandler) QuoteList(c echo.Context) error {
	symbols := splitSymbols(c.QueryParam("symbols"))
	if len(symbols) == 0 {
		return badRequest(c, "symbols query parameter is required")
	}

	results, err := h.Quotes.Quotes(c.Request().Context(), symbols)
	if err != nil {
		if errors.Is(err, market.ErrTooManySymbols) {
			return badRequest(c, err.Error())
		}
		return serverError(c)
	}

	return c.JSON(http.StatusOK, QuotesResponse{Quotes: results})
}

// Status возвращает состояние загрузчика и кэша.
func (h *MarketHandler) Status(c echo.Context) error {
	response := MarketStatusResponse{Cache: h.Quotes.Stats()}
	if h.Loader != nil {
		status := h.Loader.Status()
		response.LoaderEnabled = true
		response.Loader = &status
		response.Cache = status.Cache
	}

	return c.JSON(http.StatusOK, response)
}

// Reload запускает принудительную загрузку в фоне; ход загрузки виден в SSE-потоке.
func (h *MarketHandler) Reload(c echo.Context) error {
	if h.Loader == nil {
		return unavailable(c, "market loader is disabled")
	}
	if h.Loader.Status().Loading {
		return conflict(c, market.ErrLoadInProgress.Error())
	}

	ctx := h.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		if _, err := h.Loader.Load(ctx, true); err != nil && !errors.Is(err, market.ErrLoadInProgress) {
			h.Logger.Error("manual market reload failed", slog.String("error", err.Error()))
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"status": "loading"})
}

// Stream открывает SSE-поток событий загрузчика котировок.
func (h *MarketHandler) Stream(c echo.Context) error {
	hello := notifications.Event{Type: "connected"}
	if h.Loader != nil {
		hello.Data = h.Loader.Status()
	}

	return streamTopic(c, h.Hub, notifications.TopicMarket, hello)
}

func (h *MarketHandler) quoteError(c echo.Context, err error) error {
	var statusErr *market.StatusError

	switch {
	case errors.Is(err, market.ErrEmptySymbol):
		return badRequest(c, err.Error())
	case errors.Is(err, market.ErrRateLimited):
		return tooManyRequests(c, "quote rate limit exceeded, try again later")
	case errors.Is(err, market.ErrMissingAPIKey):
		return unavailable(c, "market data provider is not configured")
	case errors.Is(err, market.ErrInvalidQuote):
		return notFound(c, "no quote data for symbol")
	case errors.As(err, &statusErr):
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: "quote provider error", Details: statusErr.StatusCode})
	default:
		h.Logger.Error("quote lookup failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: "quote provider error"})
	}
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	symbols := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			symbols = append(symbols, trimmed)
		}
	}

	return symbols
}
