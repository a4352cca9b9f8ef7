package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"example.com/click/backend/internal/ai"
	"example.com/click/backend/internal/models"
	"example.com/click/backend/internal/repository"
	"example.com/click/backend/internal/schema"
)

type Pipeline interface {
	Predict(ctx context.Context, profile models.UserProfile) (models.PredictionResult, ai.Trace, error)
	Advise(ctx context.Context, question string, history []models.ChatTurn) (models.AdvisorReply, ai.Trace, error)
}

type RequestLogger interface {
	LogRequest(ctx context.Context, log repository.AIRequestLog) (uuid.UUID, error)
}

type AIHandler struct {
	Service Pipeline
	AIRepo  RequestLogger
	Logger  *slog.Logger
}

// NewAIHandler создает обработчик прогнозов и советника. aiRepo может быть nil.
func NewAIHandler(service Pipeline, aiRepo RequestLogger, logger *slog.Logger) *AIHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &AIHandler{Service: service, AIRepo: aiRepo, Logger: logger}
}

type AdvisorRequest struct {
	Question string            `json:"question" validate:"required"`
	History  []models.ChatTurn `json:"history" validate:"omitempty,max=50,dive"`
}

type ProfileErrorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

// PipelineErrorResponse is returned when every attempt failed and fallback is disabled.
type PipelineErrorResponse struct {
	Error        string             `json:"error"`
	Stage        string             `json:"stage"`
	Attempts     int                `json:"attempts"`
	LastResponse string             `json:"lastResponse,omitempty"`
	Violations   []schema.Violation `json:"violations,omitempty"`
	RequestID    string             `json:"requestId"`
}

// Predict строит инвестиционный прогноз по профилю пользователя.
func (h *AIHandler) Predict(c echo.Context) error {
	var profile models.UserProfile
	if err := c.Bind(&profile); err != nil {
		return badRequest(c, "invalid payload")
	}

	result, trace, err := h.Service.Predict(c.Request().Context(), profile)
	h.logAIRequest(c.Request().Context(), trace, result, err)
	if err != nil {
		return h.pipelineError(c, trace, err)
	}

	return c.JSON(http.StatusOK, result)
}

// Advise отвечает на вопрос пользователя с учетом истории диалога.
func (h *AIHandler) Advise(c echo.Context) error {
	var req AdvisorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, "validation failed")
	}

	reply, trace, err := h.Service.Advise(c.Request().Context(), req.Question, req.History)
	h.logAIRequest(c.Request().Context(), trace, reply, err)
	if err != nil {
		return h.pipelineError(c, trace, err)
	}

	return c.JSON(http.StatusOK, reply)
}

func (h *AIHandler) pipelineError(c echo.Context, trace ai.Trace, err error) error {
	var profileErr *ai.ProfileError
	if errors.As(err, &profileErr) {
		return c.JSON(http.StatusBadRequest, ProfileErrorResponse{Error: "invalid profile", Fields: profileErr.Fields})
	}

	if errors.Is(err, ai.ErrMissingCredentials) {
		return unavailable(c, "AI provider is not configured")
	}

	var pipelineErr *ai.PipelineError
	if errors.As(err, &pipelineErr) {
		h.Logger.Error("ai pipeline failed",
			slog.String("request_id", trace.RequestID),
			slog.String("request_type", trace.RequestType),
			slog.String("stage", pipelineErr.Stage()),
			slog.Int("attempts", pipelineErr.Attempts),
		)
		return c.JSON(http.StatusBadGateway, PipelineErrorResponse{
			Error:        "AI response could not be processed",
			Stage:        pipelineErr.Stage(),
			Attempts:     pipelineErr.Attempts,
			LastResponse: pipelineErr.LastRaw,
			Violations:   pipelineErr.Violations(),
			RequestID:    trace.RequestID,
		})
	}

	h.Logger.Error("ai request failed", slog.String("request_id", trace.RequestID), slog.String("error", err.Error()))
	return serverError(c)
}

// logAIRequest пишет трассу вызова в журнал AI-запросов; ошибки записи только логируются.
func (h *AIHandler) logAIRequest(ctx context.Context, trace ai.Trace, response interface{}, err error) {
	if h.AIRepo == nil || trace.RequestType == "" {
		return
	}

	var profileErr *ai.ProfileError
	if errors.As(err, &profileErr) {
		return
	}

	log := repository.AIRequestLog{
		RequestID:      trace.RequestID,
		RequestType:    trace.RequestType,
		Provider:       trace.Provider,
		Model:          trace.Model,
		Prompt:         trace.Prompt,
		RequestPayload: trace.Request,
		RawResponse:    string(trace.Raw),
		Success:        err == nil && trace.Err == nil,
		Attempts:       trace.Attempts,
		IsDemo:         trace.IsDemo,
	}
	if err == nil {
		log.ResponsePayload, _ = json.Marshal(response)
	}
	if cause := firstError(err, trace.Err); cause != nil {
		message := cause.Error()
		log.ErrorMessage = &message
	}

	if _, logErr := h.AIRepo.LogRequest(context.WithoutCancel(ctx), log); logErr != nil {
		h.Logger.Warn("failed to store ai request log",
			slog.String("request_id", trace.RequestID),
			slog.String("error", logErr.Error()),
		)
	}
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}
