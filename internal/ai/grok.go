package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultGrokURL   = "https://api.x.ai/v1"
	DefaultGrokModel = "grok-3-mini-fast-beta"
)

// GrokClient calls the xAI OpenAI-compatible chat completions API. Chat goes
// through go-openai, Forward proxies the caller's body untouched.
type GrokClient struct {
	apiKey     string
	baseURL    string
	model      string
	chat       *OpenAIClient
	httpClient *http.Client
}

// NewGrokClient создает клиент Grok с заданными параметрами.
func NewGrokClient(apiKey, baseURL, model string, timeout time.Duration, maxTokens int) *GrokClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultGrokURL
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultGrokModel
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &GrokClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		chat:    NewOpenAIClient(apiKey, baseURL, model, timeout, maxTokens),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *GrokClient) Name() string {
	return ProviderGrok
}

// Model возвращает модель по умолчанию.
func (c *GrokClient) Model() string {
	return c.model
}

// Ready проверяет наличие ключа без обращения к сети.
func (c *GrokClient) Ready() error {
	return checkKey(c.apiKey)
}

// Chat отправляет запрос в Grok и возвращает текст ответа и сырой ответ API.
func (c *GrokClient) Chat(ctx context.Context, request ChatRequest) (string, []byte, error) {
	return c.chat.Chat(ctx, request)
}

// Forward отправляет тело запроса как есть и возвращает статус и тело ответа апстрима.
func (c *GrokClient) Forward(ctx context.Context, payload []byte) (int, []byte, error) {
	if err := c.Ready(); err != nil {
		return 0, nil, err
	}

	endpoint := fmt.Sprintf("%s/chat/completions", c.baseURL)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}

	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return 0, nil, err
	}

	return response.StatusCode, body, nil
}

func firstPositive(values ...int) int {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}

	return 0
}
