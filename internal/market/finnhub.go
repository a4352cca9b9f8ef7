package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/click/backend/internal/models"
)

const DefaultFinnhubURL = "https://finnhub.io/api/v1"

var (
	ErrRateLimited   = errors.New("quote rate limit exceeded")
	ErrInvalidQuote  = errors.New("invalid quote data")
	ErrMissingAPIKey = errors.New("finnhub api key is missing")
	ErrEmptySymbol   = errors.New("symbol is required")
)

// StatusError is a non-2xx answer from the quote API other than 429.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("quote api returned status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type QuoteFetcher interface {
	Quote(ctx context.Context, symbol string) (models.Quote, error)
}

// FinnhubClient calls the Finnhub /quote endpoint.
type FinnhubClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

type finnhubQuote struct {
	Current       *float64 `json:"c"`
	Change        *float64 `json:"d"`
	ChangePercent *float64 `json:"dp"`
	Volume        *float64 `json:"v"`
	High          *float64 `json:"h"`
	Low           *float64 `json:"l"`
	Open          *float64 `json:"o"`
	PreviousClose *float64 `json:"pc"`
}

// NewFinnhubClient создает клиент котировок Finnhub.
func NewFinnhubClient(apiKey, baseURL string, timeout time.Duration) *FinnhubClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultFinnhubURL
	}

	return &FinnhubClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// Quote запрашивает котировку одного тикера.
func (c *FinnhubClient) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return models.Quote{}, ErrEmptySymbol
	}
	if strings.TrimSpace(c.apiKey) == "" {
		return models.Quote{}, ErrMissingAPIKey
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("token", c.apiKey)
	endpoint := fmt.Sprintf("%s/quote?%s", c.baseURL, query.Encode())

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Quote{}, err
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return models.Quote{}, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return models.Quote{}, err
	}

	if response.StatusCode == http.StatusTooManyRequests {
		return models.Quote{}, fmt.Errorf("%s: %w", symbol, ErrRateLimited)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return models.Quote{}, &StatusError{StatusCode: response.StatusCode, Body: string(body)}
	}

	var raw finnhubQuote
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.Quote{}, fmt.Errorf("%s: %w: %v", symbol, ErrInvalidQuote, err)
	}
	if raw.Current == nil {
		return models.Quote{}, fmt.Errorf("%s: %w: missing current price", symbol, ErrInvalidQuote)
	}

	return models.Quote{
		Symbol:        symbol,
		Price:         value(raw.Current),
		Change:        value(raw.Change),
		ChangePercent: value(raw.ChangePercent),
		Volume:        value(raw.Volume),
		High:          value(raw.High),
		Low:           value(raw.Low),
		Open:          value(raw.Open),
		PreviousClose: value(raw.PreviousClose),
		Timestamp:     c.now().UTC(),
	}, nil
}

// NormalizeSymbol приводит тикер к верхнему регистру без пробелов.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func value(ptr *float64) float64 {
	if ptr == nil {
		return 0
	}

	return *ptr
}
