package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AIRepository struct {
	db *pgxpool.Pool
}

type AIRequestLog struct {
	RequestID       string
	RequestType     string
	Provider        string
	Model           string
	Prompt          string
	RequestPayload  []byte
	ResponsePayload []byte
	RawResponse     string
	Success         bool
	Attempts        int
	IsDemo          bool
	ErrorMessage    *string
}

// NewAIRepository создает репозиторий для AI-запросов.
func NewAIRepository(db *pgxpool.Pool) *AIRepository {
	return &AIRepository{db: db}
}

// LogRequest сохраняет лог AI-запроса и возвращает id записи.
func (r *AIRepository) LogRequest(ctx context.Context, log AIRequestLog) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.db.Exec(ctx,
		`INSERT INTO ai_requests
		 (id, request_id, request_type, provider, model, prompt, request_payload, response_payload, raw_response, success, attempts, is_demo, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::jsonb, NULLIF($8, '')::jsonb, $9, $10, $11, $12, $13)`,
		id,
		log.RequestID,
		log.RequestType,
		log.Provider,
		log.Model,
		log.Prompt,
		string(log.RequestPayload),
		string(log.ResponsePayload),
		log.RawResponse,
		log.Success,
		log.Attempts,
		log.IsDemo,
		log.ErrorMessage,
	)
	if err != nil {
		return uuid.Nil, err
	}

	return id, nil
}
