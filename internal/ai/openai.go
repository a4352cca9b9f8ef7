package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to any OpenAI-compatible endpoint through go-openai.
type OpenAIClient struct {
	apiKey    string
	model     string
	maxTokens int
	client    *openai.Client
}

// NewOpenAIClient создает клиент go-openai; пустой baseURL означает api.openai.com.
func NewOpenAIClient(apiKey, baseURL, model string, timeout time.Duration, maxTokens int) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	config.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIClient{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		client:    openai.NewClientWithConfig(config),
	}
}

func (c *OpenAIClient) Name() string {
	return ProviderOpenAI
}

func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) Ready() error {
	return checkKey(c.apiKey)
}

// Chat отправляет запрос через go-openai и возвращает текст ответа и сериализованный ответ.
func (c *OpenAIClient) Chat(ctx context.Context, request ChatRequest) (string, []byte, error) {
	if err := c.Ready(); err != nil {
		return "", nil, err
	}

	model := request.Model
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(request.Messages))
	for _, message := range request.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: message.Role, Content: message.Content})
	}

	completion := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(request.Temperature),
		MaxTokens:   resolveMaxTokens(firstPositive(request.MaxTokens, c.maxTokens)),
	}
	if request.ResponseFormat != nil {
		completion.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatType(request.ResponseFormat.Type),
		}
	}

	response, err := c.client.CreateChatCompletion(ctx, completion)
	if err != nil {
		return "", nil, translateOpenAIError(err)
	}

	raw, _ := json.Marshal(response)
	if len(response.Choices) == 0 || strings.TrimSpace(response.Choices[0].Message.Content) == "" {
		return "", raw, errors.New("chat response missing choices")
	}

	return response.Choices[0].Message.Content, raw, nil
}

func translateOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}

	var requestErr *openai.RequestError
	if errors.As(err, &requestErr) {
		message := ""
		if requestErr.Err != nil {
			message = requestErr.Err.Error()
		}
		return &UpstreamError{StatusCode: requestErr.HTTPStatusCode, Message: message}
	}

	return err
}
