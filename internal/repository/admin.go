package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AdminRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

type AIRequestFilter struct {
	Success     *bool
	RequestType *string
	IsDemo      *bool
	Since       *time.Time
}

type AIRequestRecord struct {
	ID              uuid.UUID
	RequestID       string
	RequestType     string
	Provider        string
	Model           string
	Prompt          *string
	RequestPayload  []byte
	ResponsePayload []byte
	RawResponse     *string
	Success         bool
	Attempts        int
	IsDemo          bool
	ErrorMessage    *string
	CreatedAt       time.Time
}

type DailyCount struct {
	Day   time.Time
	Count int
}

type TypeCount struct {
	RequestType string
	Total       int
	Success     int
}

type UsageStats struct {
	AIRequests      int
	AISuccess       int
	AIFail          int
	DemoResponses   int
	AvgAttempts     float64
	AIRequestsByDay []DailyCount
	ByType          []TypeCount
}

// NewAdminRepository создает репозиторий для админских запросов.
func NewAdminRepository(db *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{db: db, now: time.Now}
}

// ListAIRequests возвращает логи AI-запросов с фильтрацией, новые первыми.
// Без includePayloads промпт и тела запросов не читаются.
func (r *AdminRepository) ListAIRequests(ctx context.Context, filter AIRequestFilter, limit, offset int, includePayloads bool) ([]AIRequestRecord, error) {
	if limit <= 0 || offset < 0 {
		return nil, ErrInvalid
	}

	where, args := buildAIRequestWhere(filter)
	columns := strings.Join(aiRequestColumns(includePayloads), ", ")
	query := fmt.Sprintf("SELECT %s FROM ai_requests%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d", columns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]AIRequestRecord, 0, limit)
	for rows.Next() {
		var record AIRequestRecord
		if err := rows.Scan(record.scanTargets(includePayloads)...); err != nil {
			return nil, err
		}
		requests = append(requests, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return requests, nil
}

func aiRequestColumns(includePayloads bool) []string {
	columns := []string{"id", "request_id", "request_type", "provider", "model"}
	if includePayloads {
		columns = append(columns, "prompt", "request_payload", "response_payload", "raw_response")
	}

	return append(columns, "success", "attempts", "is_demo", "error_message", "created_at")
}

// scanTargets возвращает указатели на поля в порядке aiRequestColumns.
func (r *AIRequestRecord) scanTargets(includePayloads bool) []interface{} {
	targets := []interface{}{&r.ID, &r.RequestID, &r.RequestType, &r.Provider, &r.Model}
	if includePayloads {
		targets = append(targets, &r.Prompt, &r.RequestPayload, &r.ResponsePayload, &r.RawResponse)
	}

	return append(targets, &r.Success, &r.Attempts, &r.IsDemo, &r.ErrorMessage, &r.CreatedAt)
}

// CountAIRequests возвращает количество AI-запросов по фильтру.
func (r *AdminRepository) CountAIRequests(ctx context.Context, filter AIRequestFilter) (int, error) {
	where, args := buildAIRequestWhere(filter)

	query := fmt.Sprintf("SELECT COUNT(*) FROM ai_requests%s", where)
	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UsageStats возвращает агрегированную статистику AI-запросов за N дней.
func (r *AdminRepository) UsageStats(ctx context.Context, days int) (UsageStats, error) {
	stats := UsageStats{}
	if days <= 0 {
		return stats, ErrInvalid
	}

	start := usageWindowStart(r.now(), days)

	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE success),
		        COUNT(*) FILTER (WHERE NOT success),
		        COUNT(*) FILTER (WHERE is_demo),
		        COALESCE(AVG(attempts), 0)
		 FROM ai_requests
		 WHERE created_at >= $1`,
		start,
	).Scan(&stats.AIRequests, &stats.AISuccess, &stats.AIFail, &stats.DemoResponses, &stats.AvgAttempts); err != nil {
		return stats, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT date_trunc('day', created_at)::date AS day,
		        COUNT(*)
		 FROM ai_requests
		 WHERE created_at >= $1
		 GROUP BY day
		 ORDER BY day DESC`,
		start,
	)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	stats.AIRequestsByDay = make([]DailyCount, 0)
	for rows.Next() {
		var row DailyCount
		if err := rows.Scan(&row.Day, &row.Count); err != nil {
			return stats, err
		}
		stats.AIRequestsByDay = append(stats.AIRequestsByDay, row)
	}

	if err := rows.Err(); err != nil {
		return stats, err
	}

	typeRows, err := r.db.Query(ctx,
		`SELECT request_type, COUNT(*), COUNT(*) FILTER (WHERE success)
		 FROM ai_requests
		 WHERE created_at >= $1
		 GROUP BY request_type
		 ORDER BY request_type`,
		start,
	)
	if err != nil {
		return stats, err
	}
	defer typeRows.Close()

	stats.ByType = make([]TypeCount, 0)
	for typeRows.Next() {
		var row TypeCount
		if err := typeRows.Scan(&row.RequestType, &row.Total, &row.Success); err != nil {
			return stats, err
		}
		stats.ByType = append(stats.ByType, row)
	}

	return stats, typeRows.Err()
}

// usageWindowStart возвращает начало окна статистики: полночь UTC (days-1) дней назад.
func usageWindowStart(now time.Time, days int) time.Time {
	day := now.UTC().Truncate(24 * time.Hour)
	return day.AddDate(0, 0, -days+1)
}

func buildAIRequestWhere(filter AIRequestFilter) (string, []interface{}) {
	clauses := make([]string, 0)
	args := make([]interface{}, 0)

	if filter.Success != nil {
		args = append(args, *filter.Success)
		clauses = append(clauses, fmt.Sprintf("success = $%d", len(args)))
	}

	if filter.RequestType != nil {
		args = append(args, *filter.RequestType)
		clauses = append(clauses, fmt.Sprintf("request_type = $%d", len(args)))
	}

	if filter.IsDemo != nil {
		args = append(args, *filter.IsDemo)
		clauses = append(clauses, fmt.Sprintf("is_demo = $%d", len(args)))
	}

	if filter.Since != nil {
		args = append(args, *filter.Since)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}
