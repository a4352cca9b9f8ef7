package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"example.com/click/backend/internal/repository"
)

type fakeAdminStore struct {
	records []repository.AIRequestRecord
	total   int
	stats   repository.UsageStats
	err     error

	gotFilter  repository.AIRequestFilter
	gotLimit   int
	gotOffset  int
	gotInclude bool
	gotDays    int
}

func (f *fakeAdminStore) ListAIRequests(_ context.Context, filter repository.AIRequestFilter, limit, offset int, includePayloads bool) ([]repository.AIRequestRecord, error) {
	f.gotFilter = filter
	f.gotLimit = limit
	f.gotOffset = offset
	f.gotInclude = includePayloads
	return f.records, f.err
}

func (f *fakeAdminStore) CountAIRequests(_ context.Context, _ repository.AIRequestFilter) (int, error) {
	return f.total, f.err
}

func (f *fakeAdminStore) UsageStats(_ context.Context, days int) (repository.UsageStats, error) {
	f.gotDays = days
	return f.stats, f.err
}

// TestListAIRequestsParsesFilters проверяет разбор фильтров и пагинации.
func TestListAIRequestsParsesFilters(t *testing.T) {
	id := uuid.MustParse("4f1c2d3e-0000-4000-8000-000000000001")
	created := time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC)
	prompt := "system prompt"
	store := &fakeAdminStore{
		total: 7,
		records: []repository.AIRequestRecord{{
			ID:              id,
			RequestID:       "req-1",
			RequestType:     "prediction",
			Provider:        "grok",
			Model:           "grok-test",
			Prompt:          &prompt,
			RequestPayload:  []byte(`{"model":"grok-test"}`),
			ResponsePayload: []byte(`{"isDemo":false}`),
			Success:         true,
			Attempts:        2,
			CreatedAt:       created,
		}},
	}
	handler := NewAdminHandler(store)

	c, rec := newContext(http.MethodGet, "/api/admin/ai-requests?limit=500&offset=10&success=true&is_demo=false&request_type=prediction&include_payloads=1&since=2024-06-01T00:00:00Z", "")
	if err := handler.ListAIRequests(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectStatus(t, rec, http.StatusOK)
	if store.gotLimit != 200 || store.gotOffset != 10 || !store.gotInclude {
		t.Fatalf("unexpected pagination: limit=%d offset=%d include=%v", store.gotLimit, store.gotOffset, store.gotInclude)
	}
	filter := store.gotFilter
	if filter.Success == nil || !*filter.Success || filter.IsDemo == nil || *filter.IsDemo {
		t.Fatalf("unexpected bool filters: %+v", filter)
	}
	if filter.RequestType == nil || *filter.RequestType != "prediction" {
		t.Fatalf("unexpected request type filter: %+v", filter)
	}
	if filter.Since == nil || !filter.Since.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected since filter: %v", filter.Since)
	}

	var got map[string]interface{}
	decodeBody(t, rec, &got)
	want := map[string]interface{}{
		"total": 7.0,
		"requests": []interface{}{map[string]interface{}{
			"id":               id.String(),
			"request_id":       "req-1",
			"request_type":     "prediction",
			"provider":         "grok",
			"model":            "grok-test",
			"success":          true,
			"attempts":         2.0,
			"is_demo":          false,
			"created_at":       "2024-06-05T14:00:00Z",
			"prompt":           "system prompt",
			"request_payload":  map[string]interface{}{"model": "grok-test"},
			"response_payload": map[string]interface{}{"isDemo": false},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

// TestListAIRequestsRejectsBadQuery проверяет ошибки разбора параметров.
func TestListAIRequestsRejectsBadQuery(t *testing.T) {
	queries := []string{
		"limit=0",
		"limit=abc",
		"offset=-1",
		"success=maybe",
		"is_demo=2",
		"include_payloads=yes",
		"since=yesterday",
	}

	for _, query := range queries {
		t.Run(query, func(t *testing.T) {
			store := &fakeAdminStore{}
			handler := NewAdminHandler(store)

			c, rec := newContext(http.MethodGet, "/api/admin/ai-requests?"+query, "")
			if err := handler.ListAIRequests(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			expectStatus(t, rec, http.StatusBadRequest)
		})
	}
}

// TestListAIRequestsStoreFailure проверяет ответ при ошибке хранилища.
func TestListAIRequestsStoreFailure(t *testing.T) {
	handler := NewAdminHandler(&fakeAdminStore{err: errors.New("db down")})

	c, rec := newContext(http.MethodGet, "/api/admin/ai-requests", "")
	if err := handler.ListAIRequests(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectStatus(t, rec, http.StatusInternalServerError)
}

// TestUsage проверяет агрегированную статистику и ограничение окна.
func TestUsage(t *testing.T) {
	store := &fakeAdminStore{stats: repository.UsageStats{
		AIRequests:    10,
		AISuccess:     8,
		AIFail:        2,
		DemoResponses: 3,
		AvgAttempts:   1.5,
		AIRequestsByDay: []repository.DailyCount{
			{Day: time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC), Count: 6},
			{Day: time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC), Count: 4},
		},
		ByType: []repository.TypeCount{
			{RequestType: "advisor", Total: 4, Success: 4},
			{RequestType: "prediction", Total: 6, Success: 4},
		},
	}}
	handler := NewAdminHandler(store)

	c, rec := newContext(http.MethodGet, "/api/admin/usage?days=90", "")
	if err := handler.Usage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectStatus(t, rec, http.StatusOK)
	if store.gotDays != 30 {
		t.Fatalf("expected days clamped to 30, got %d", store.gotDays)
	}

	var got AdminUsageResponse
	decodeBody(t, rec, &got)
	want := AdminUsageResponse{
		Days:          30,
		AIRequests:    10,
		AISuccess:     8,
		AIFail:        2,
		DemoResponses: 3,
		AvgAttempts:   1.5,
		AIRequestsByDay: []AdminUsageDay{
			{Date: "2024-06-05", Count: 6},
			{Date: "2024-06-04", Count: 4},
		},
		ByType: []AdminUsageType{
			{RequestType: "advisor", Total: 4, Success: 4},
			{RequestType: "prediction", Total: 6, Success: 4},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("usage mismatch (-want +got):\n%s", diff)
	}
}

// TestUsageRejectsBadDays проверяет валидацию параметра days.
func TestUsageRejectsBadDays(t *testing.T) {
	for _, query := range []string{"days=0", "days=-3", "days=week"} {
		store := &fakeAdminStore{}
		handler := NewAdminHandler(store)

		c, rec := newContext(http.MethodGet, "/api/admin/usage?"+query, "")
		if err := handler.Usage(c); err != nil {
			t.Fatalf("%s: unexpected error: %v", query, err)
		}
		expectStatus(t, rec, http.StatusBadRequest)
		if store.gotDays != 0 {
			t.Fatalf("%s: store should not be called", query)
		}
	}
}
