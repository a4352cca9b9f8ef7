package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"example.com/click/backend/internal/jsonrepair"
	"example.com/click/backend/internal/models"
	"example.com/click/backend/internal/retry"
	"example.com/click/backend/internal/schema"
)

var ErrEmptyQuestion = errors.New("question is required")

type Options struct {
	Model             string
	Temperature       float64
	MaxTokens         int
	Retry             retry.Policy
	Timeout           time.Duration
	UseFallbackData   bool
	FallbackOnFailure bool
}

// Trace describes one pipeline call for the request log.
type Trace struct {
	RequestID   string
	RequestType string
	Provider    string
	Model       string
	Prompt      string
	Request     []byte
	Raw         []byte
	Attempts    int
	IsDemo      bool
	Err         error
}

type Service struct {
	client       Client
	options      Options
	logger       *slog.Logger
	validate     *validator.Validate
	now          func() time.Time
	retryOptions []retry.Option
}

// NewService создает сервис прогнозов и советника поверх AI-клиента.
func NewService(client Client, options Options, logger *slog.Logger, retryOptions ...retry.Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)

	return &Service{
		client:       client,
		options:      options,
		logger:       logger,
		validate:     validate,
		now:          time.Now,
		retryOptions: retryOptions,
	}
}

// Provider возвращает имя провайдера клиента.
func (s *Service) Provider() string {
	return s.client.Name()
}

// Predict прогоняет профиль через конвейер: запрос, извлечение JSON, проверка схемы, повторы и запасной вариант.
func (s *Service) Predict(ctx context.Context, profile models.UserProfile) (models.PredictionResult, Trace, error) {
	profile = profile.Normalize()
	trace := s.newTrace(RequestTypePrediction)

	if err := s.validateProfile(profile); err != nil {
		trace.Err = err
		return models.PredictionResult{}, trace, err
	}

	if s.options.UseFallbackData {
		return s.predictionFallback(profile, trace, nil), trace.asDemo(), nil
	}

	if err := s.client.Ready(); err != nil {
		if s.options.FallbackOnFailure {
			s.logger.Warn("ai client not configured, using fallback", slog.String("request_id", trace.RequestID))
			trace.Err = err
			return s.predictionFallback(profile, trace, nil), trace.asDemo(), nil
		}
		pipelineErr := &PipelineError{Operation: RequestTypePrediction, Err: err}
		trace.Err = pipelineErr
		return models.PredictionResult{}, trace, pipelineErr
	}

	request, err := BuildPredictionRequest(profile, s.requestOptions())
	if err != nil {
		return models.PredictionResult{}, trace, err
	}
	trace.Prompt = request.Messages[len(request.Messages)-1].Content
	trace.Request, _ = json.Marshal(request)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	controller := retry.NewController(s.options.Retry, s.logger.With(slog.String("request_id", trace.RequestID)), s.retryOptions...)
	outcome, err := retry.Run(ctx, controller, func(ctx context.Context, attempt int) (models.PredictionResult, string, error) {
		content, raw, err := s.client.Chat(ctx, request)
		trace.Raw = raw
		if err != nil {
			return models.PredictionResult{}, content, chatError(err)
		}

		result, err := decodePrediction(content)
		if err != nil {
			s.logger.Warn("prediction response rejected",
				slog.String("request_id", trace.RequestID),
				slog.Int("attempt", attempt),
				slog.String("stage", (&PipelineError{Err: err}).Stage()),
			)
		}
		return result, content, err
	})
	if err != nil {
		pipelineErr := toPipelineError(RequestTypePrediction, err)
		trace.Attempts = pipelineErr.Attempts
		trace.Err = pipelineErr
		if s.options.FallbackOnFailure {
			s.logger.Warn("prediction pipeline failed, using fallback",
				slog.String("request_id", trace.RequestID),
				slog.Int("attempts", pipelineErr.Attempts),
				slog.String("stage", pipelineErr.Stage()),
			)
			return s.predictionFallback(profile, trace, pipelineErr), trace.asDemo(), nil
		}
		return models.PredictionResult{}, trace, pipelineErr
	}

	result := outcome.Value
	result.IsDemo = false
	result.Meta = &models.ResultMeta{
		RequestID:   trace.RequestID,
		Attempts:    len(outcome.Attempts),
		GeneratedAt: outcome.FinishedAt.UTC(),
		Source:      models.SourceAI,
		Model:       trace.Model,
	}
	trace.Attempts = len(outcome.Attempts)

	return result, trace, nil
}

// Advise отвечает на вопрос пользователя через тот же конвейер со схемой советника.
func (s *Service) Advise(ctx context.Context, question string, history []models.ChatTurn) (models.AdvisorReply, Trace, error) {
	trace := s.newTrace(RequestTypeAdvisor)

	question = strings.TrimSpace(question)
	if question == "" {
		err := &ProfileError{Fields: []string{"question"}, Err: ErrEmptyQuestion}
		trace.Err = err
		return models.AdvisorReply{}, trace, err
	}
	for _, turn := range history {
		if err := s.validate.Struct(turn); err != nil {
			profileErr := &ProfileError{Fields: invalidFields(err), Err: err}
			trace.Err = profileErr
			return models.AdvisorReply{}, trace, profileErr
		}
	}

	if s.options.UseFallbackData {
		return s.advisorFallback(trace, 0), trace.asDemo(), nil
	}

	if err := s.client.Ready(); err != nil {
		trace.Err = err
		if s.options.FallbackOnFailure {
			return s.advisorFallback(trace, 0), trace.asDemo(), nil
		}
		return models.AdvisorReply{}, trace, &PipelineError{Operation: RequestTypeAdvisor, Err: err}
	}

	request := BuildAdvisorRequest(question, history, s.requestOptions())
	trace.Prompt = question
	trace.Request, _ = json.Marshal(request)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	controller := retry.NewController(s.options.Retry, s.logger.With(slog.String("request_id", trace.RequestID)), s.retryOptions...)
	outcome, err := retry.Run(ctx, controller, func(ctx context.Context, _ int) (models.AdvisorReply, string, error) {
		content, raw, err := s.client.Chat(ctx, request)
		trace.Raw = raw
		if err != nil {
			return models.AdvisorReply{}, content, chatError(err)
		}

		reply, err := decodeAdvisor(content)
		return reply, content, err
	})
	if err != nil {
		pipelineErr := toPipelineError(RequestTypeAdvisor, err)
		trace.Attempts = pipelineErr.Attempts
		trace.Err = pipelineErr
		if s.options.FallbackOnFailure {
			s.logger.Warn("advisor pipeline failed, using fallback",
				slog.String("request_id", trace.RequestID),
				slog.String("stage", pipelineErr.Stage()),
			)
			return s.advisorFallback(trace, pipelineErr.Attempts), trace.asDemo(), nil
		}
		return models.AdvisorReply{}, trace, pipelineErr
	}

	reply := outcome.Value
	reply.IsDemo = false
	reply.Meta = &models.ResultMeta{
		RequestID:   trace.RequestID,
		Attempts:    len(outcome.Attempts),
		GeneratedAt: outcome.FinishedAt.UTC(),
		Source:      models.SourceAI,
		Model:       trace.Model,
	}
	trace.Attempts = len(outcome.Attempts)

	return reply, trace, nil
}

// DemoAdvice возвращает фиксированный ответ советника для демо-режима.
func DemoAdvice(now time.Time) models.AdvisorReply {
	return models.AdvisorReply{
		Message: "Click's AI advisor is running in demo mode. A steady plan usually starts with an emergency fund " +
			"of 3-6 months of expenses, followed by regular contributions to diversified low-cost index ETFs.",
		Suggestions: []string{
			"Build an emergency fund covering 3-6 months of expenses",
			"Automate a monthly contribution to a broad market ETF such as VTI",
			"Keep investments within 20% of monthly salary",
			"Review the allocation once a year",
		},
		IsDemo: true,
		Meta: &models.ResultMeta{
			GeneratedAt: now.UTC(),
			Source:      models.SourceFallback,
		},
	}
}

func (s *Service) predictionFallback(profile models.UserProfile, trace Trace, cause *PipelineError) models.PredictionResult {
	result := Fallback(profile, s.now())
	result.Meta.RequestID = trace.RequestID
	if cause != nil {
		result.Meta.Attempts = cause.Attempts
	}

	return result
}

func (s *Service) advisorFallback(trace Trace, attempts int) models.AdvisorReply {
	reply := DemoAdvice(s.now())
	reply.Meta.RequestID = trace.RequestID
	reply.Meta.Attempts = attempts

	return reply
}

func (s *Service) newTrace(requestType string) Trace {
	return Trace{
		RequestID:   uuid.NewString(),
		RequestType: requestType,
		Provider:    s.client.Name(),
		Model:       s.model(),
	}
}

func (t Trace) asDemo() Trace {
	t.IsDemo = true
	return t
}

func (s *Service) model() string {
	if s.options.Model != "" {
		return s.options.Model
	}
	if named, ok := s.client.(interface{ Model() string }); ok {
		return named.Model()
	}

	return ""
}

func (s *Service) requestOptions() RequestOptions {
	return RequestOptions{
		Model:       s.model(),
		Temperature: s.options.Temperature,
		MaxTokens:   s.options.MaxTokens,
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.options.Timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, s.options.Timeout)
}

func (s *Service) validateProfile(profile models.UserProfile) error {
	if err := s.validate.Struct(profile); err != nil {
		return &ProfileError{Fields: invalidFields(err), Err: err}
	}

	return nil
}

func decodePrediction(content string) (models.PredictionResult, error) {
	var result models.PredictionResult
	if err := decodeChecked(content, schema.PredictionSchema, &result); err != nil {
		return models.PredictionResult{}, err
	}

	result.RiskMetrics.VolatilityScore = normalizeVolatility(result.RiskMetrics.VolatilityScore)
	return result, nil
}

func decodeAdvisor(content string) (models.AdvisorReply, error) {
	var reply models.AdvisorReply
	if err := decodeChecked(content, schema.AdvisorSchema, &reply); err != nil {
		return models.AdvisorReply{}, err
	}

	return reply, nil
}

func decodeChecked(content string, s schema.Schema, target any) error {
	doc, err := jsonrepair.Extract(content)
	if err != nil {
		return err
	}

	if err := schema.Validate(doc, s); err != nil {
		return err
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s response: %w", s.Name, err)
	}

	return nil
}

// normalizeVolatility приводит volatilityScore к шкале 0-1; значения до 10 считаются шкалой 0-10.
func normalizeVolatility(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value <= 1:
		return value
	case value <= 10:
		return value / 10
	default:
		return 1
	}
}

func chatError(err error) error {
	if errors.Is(err, ErrMissingCredentials) {
		return retry.Permanent(err)
	}

	return fmt.Errorf("chat request: %w", err)
}

func toPipelineError(operation string, err error) *PipelineError {
	pipelineErr := &PipelineError{Operation: operation, Err: err}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		pipelineErr.Attempts = len(exhausted.Attempts)
		pipelineErr.LastRaw = exhausted.LastRaw()
		pipelineErr.Err = exhausted.Last
	}

	return pipelineErr
}

func invalidFields(err error) []string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return nil
	}

	fields := make([]string, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		fields = append(fields, fieldErr.Field())
	}

	return fields
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}

	return name
}

// IsTimeout сообщает, вызвана ли ошибка истечением срока запроса.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
