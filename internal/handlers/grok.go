package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"example.com/click/backend/internal/ai"
)

const missingGrokKey = "Missing GROK_API_KEY"

type Forwarder interface {
	Ready() error
	Model() string
	Forward(ctx context.Context, payload []byte) (int, []byte, error)
}

type GrokProxyHandler struct {
	Client Forwarder
	Logger *slog.Logger
}

// NewGrokProxyHandler создает прокси к chat completions API.
func NewGrokProxyHandler(client Forwarder, logger *slog.Logger) *GrokProxyHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &GrokProxyHandler{Client: client, Logger: logger}
}

// Proxy пересылает тело запроса апстриму и возвращает его ответ без изменений.
func (h *GrokProxyHandler) Proxy(c echo.Context) error {
	if c.Request().Method != http.MethodPost {
		c.Response().Header().Set(echo.HeaderAllow, http.MethodPost)
		return c.JSON(http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	}

	if err := h.Client.Ready(); err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: missingGrokKey})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return badRequest(c, "invalid payload")
	}

	payload, err := h.preparePayload(body)
	if err != nil {
		return badRequest(c, err.Error())
	}

	status, upstreamBody, err := h.Client.Forward(c.Request().Context(), payload)
	if err != nil {
		if errors.Is(err, ai.ErrMissingCredentials) {
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: missingGrokKey})
		}

		code := http.StatusInternalServerError
		if ai.IsTimeout(err) {
			code = http.StatusGatewayTimeout
		}
		h.Logger.Error("grok proxy request failed", slog.Int("status", code), slog.String("error", err.Error()))
		return c.JSON(code, ErrorResponse{Error: err.Error()})
	}

	if status < 200 || status >= 300 {
		h.Logger.Warn("grok proxy upstream error", slog.Int("status", status))
		return c.JSON(status, ErrorResponse{
			Error:   fmt.Sprintf("Request failed with status code %d", status),
			Details: rawDetails(upstreamBody),
		})
	}

	return c.JSONBlob(http.StatusOK, upstreamBody)
}

// preparePayload проверяет массив messages и подставляет модель по умолчанию.
func (h *GrokProxyHandler) preparePayload(body []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errors.New("invalid payload")
	}

	messages, ok := fields["messages"]
	if !ok {
		return nil, errors.New("messages array is required")
	}
	var list []json.RawMessage
	if err := json.Unmarshal(messages, &list); err != nil || bytes.Equal(bytes.TrimSpace(messages), []byte("null")) {
		return nil, errors.New("messages must be an array")
	}

	if model, ok := fields["model"]; !ok || isEmptyJSONString(model) {
		encoded, err := json.Marshal(h.Client.Model())
		if err != nil {
			return nil, err
		}
		fields["model"] = encoded
	}

	return json.Marshal(fields)
}

func isEmptyJSONString(raw json.RawMessage) bool {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
	}

	return value == ""
}
