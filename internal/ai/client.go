package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	ProviderGrok   = "grok"
	ProviderOpenAI = "openai"

	defaultMaxTokens = 2048
)

// ErrMissingCredentials означает, что ключ API не настроен; запрос не отправляется.
var ErrMissingCredentials = errors.New("ai api key is missing")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatRequest is a provider-neutral chat completion request.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type Client interface {
	// Chat returns the reply text and the raw upstream body.
	Chat(ctx context.Context, request ChatRequest) (string, []byte, error)
	Ready() error
	Name() string
}

// UpstreamError is a non-2xx answer from the chat completion API.
type UpstreamError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *UpstreamError) Error() string {
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = strings.TrimSpace(string(e.Body))
	}

	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, message)
}

func resolveMaxTokens(value int) int {
	if value > 0 {
		return value
	}

	return defaultMaxTokens
}

func checkKey(apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return ErrMissingCredentials
	}

	return nil
}
