package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"example.com/click/backend/internal/repository"
)

type AdminStore interface {
	ListAIRequests(ctx context.Context, filter repository.AIRequestFilter, limit, offset int, includePayloads bool) ([]repository.AIRequestRecord, error)
	CountAIRequests(ctx context.Context, filter repository.AIRequestFilter) (int, error)
	UsageStats(ctx context.Context, days int) (repository.UsageStats, error)
}

type AdminHandler struct {
	Repo AdminStore
}

// NewAdminHandler создает обработчик админских эндпоинтов.
func NewAdminHandler(repo AdminStore) *AdminHandler {
	return &AdminHandler{Repo: repo}
}

type AdminAIRequestResponse struct {
	ID              uuid.UUID       `json:"id"`
	RequestID       string          `json:"request_id"`
	RequestType     string          `json:"request_type"`
	Provider        string          `json:"provider"`
	Model           string          `json:"model"`
	Success         bool            `json:"success"`
	Attempts        int             `json:"attempts"`
	IsDemo          bool            `json:"is_demo"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	CreatedAt       string          `json:"created_at"`
	Prompt          *string         `json:"prompt,omitempty"`
	RequestPayload  json.RawMessage `json:"request_payload,omitempty"`
	ResponsePayload json.RawMessage `json:"response_payload,omitempty"`
	RawResponse     *string         `json:"raw_response,omitempty"`
}

type AdminAIRequestsResponse struct {
	Total    int                      `json:"total"`
	Requests []AdminAIRequestResponse `json:"requests"`
}

type AdminUsageDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type AdminUsageType struct {
	RequestType string `json:"request_type"`
	Total       int    `json:"total"`
	Success     int    `json:"success"`
}

type AdminUsageResponse struct {
	Days            int              `json:"days"`
	AIRequests      int              `json:"ai_requests"`
	AISuccess       int              `json:"ai_success"`
	AIFail          int              `json:"ai_fail"`
	DemoResponses   int              `json:"demo_responses"`
	AvgAttempts     float64          `json:"avg_attempts"`
	AIRequestsByDay []AdminUsageDay  `json:"ai_requests_by_day"`
	ByType          []AdminUsageType `json:"by_type"`
}

// ListAIRequests возвращает логи AI-запросов с фильтрами.
func (h *AdminHandler) ListAIRequests(c echo.Context) error {
	limit, offset, err := parsePagination(c, 50, 200)
	if err != nil {
		return badRequest(c, err.Error())
	}

	filter, err := parseAIRequestFilter(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	includePayloads, err := parseOptionalBool(c, "include_payloads")
	if err != nil {
		return badRequest(c, err.Error())
	}

	requests, err := h.Repo.ListAIRequests(c.Request().Context(), filter, limit, offset, includePayloads != nil && *includePayloads)
	if err != nil {
		return serverError(c)
	}

	total, err := h.Repo.CountAIRequests(c.Request().Context(), filter)
	if err != nil {
		return serverError(c)
	}

	response := make([]AdminAIRequestResponse, 0, len(requests))
	for _, req := range requests {
		item := AdminAIRequestResponse{
			ID:           req.ID,
			RequestID:    req.RequestID,
			RequestType:  req.RequestType,
			Provider:     req.Provider,
			Model:        req.Model,
			Success:      req.Success,
			Attempts:     req.Attempts,
			IsDemo:       req.IsDemo,
			ErrorMessage: req.ErrorMessage,
			CreatedAt:    req.CreatedAt.Format(timeLayout),
			Prompt:       req.Prompt,
			RawResponse:  req.RawResponse,
		}
		if len(req.RequestPayload) > 0 {
			item.RequestPayload = json.RawMessage(req.RequestPayload)
		}
		if len(req.ResponsePayload) > 0 {
			item.ResponsePayload = json.RawMessage(req.ResponsePayload)
		}
		response = append(response, item)
	}

	return c.JSON(http.StatusOK, AdminAIRequestsResponse{
		Total:    total,
		Requests: response,
	})
}

// Usage возвращает агрегированную статистику использования.
func (h *AdminHandler) Usage(c echo.Context) error {
	days := 7
	if raw := strings.TrimSpace(c.QueryParam("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return badRequest(c, "invalid days")
		}
		if parsed > 30 {
			parsed = 30
		}
		days = parsed
	}

	stats, err := h.Repo.UsageStats(c.Request().Context(), days)
	if err != nil {
		if errors.Is(err, repository.ErrInvalid) {
			return badRequest(c, "invalid days")
		}
		return serverError(c)
	}

	daysResponse := make([]AdminUsageDay, 0, len(stats.AIRequestsByDay))
	for _, day := range stats.AIRequestsByDay {
		daysResponse = append(daysResponse, AdminUsageDay{
			Date:  day.Day.Format("2006-01-02"),
			Count: day.Count,
		})
	}

	types := make([]AdminUsageType, 0, len(stats.ByType))
	for _, row := range stats.ByType {
		types = append(types, AdminUsageType{RequestType: row.RequestType, Total: row.Total, Success: row.Success})
	}

	return c.JSON(http.StatusOK, AdminUsageResponse{
		Days:            days,
		AIRequests:      stats.AIRequests,
		AISuccess:       stats.AISuccess,
		AIFail:          stats.AIFail,
		DemoResponses:   stats.DemoResponses,
		AvgAttempts:     stats.AvgAttempts,
		AIRequestsByDay: daysResponse,
		ByType:          types,
	})
}

func parseAIRequestFilter(c echo.Context) (repository.AIRequestFilter, error) {
	filter := repository.AIRequestFilter{}

	success, err := parseOptionalBool(c, "success")
	if err != nil {
		return filter, err
	}
	filter.Success = success

	isDemo, err := parseOptionalBool(c, "is_demo")
	if err != nil {
		return filter, err
	}
	filter.IsDemo = isDemo

	if raw := strings.TrimSpace(c.QueryParam("request_type")); raw != "" {
		filter.RequestType = &raw
	}

	if raw := strings.TrimSpace(c.QueryParam("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("invalid since")
		}
		filter.Since = &parsed
	}

	return filter, nil
}

func parseOptionalBool(c echo.Context, name string) (*bool, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}

	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.New("invalid " + name)
	}

	return &parsed, nil
}

func parsePagination(c echo.Context, defaultLimit, maxLimit int) (int, int, error) {
	limit := defaultLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if parsed > maxLimit {
			parsed = maxLimit
		}
		limit = parsed
	}

	offset := 0
	if raw := strings.TrimSpace(c.QueryParam("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = parsed
	}

	return limit, offset, nil
}
