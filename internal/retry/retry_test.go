package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	sleeps []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestPolicyDelay проверяет расчет пауз для обеих стратегий.
func TestPolicyDelay(t *testing.T) {
	exponential := DefaultPolicy()
	assert.Equal(t, time.Duration(0), exponential.Delay(1))
	assert.Equal(t, 2*time.Second, exponential.Delay(2))
	assert.Equal(t, 4*time.Second, exponential.Delay(3))
	assert.Equal(t, 8*time.Second, exponential.Delay(4))
	assert.Equal(t, 30*time.Second, exponential.Delay(10))

	fixed := Policy{MaxAttempts: 5, BaseDelay: time.Second, Strategy: StrategyFixed}
	for attempt := 2; attempt <= 5; attempt++ {
		assert.Equal(t, time.Second, fixed.Delay(attempt))
	}

	var previous time.Duration
	for attempt := 1; attempt <= 40; attempt++ {
		current := exponential.Delay(attempt)
		assert.GreaterOrEqual(t, current, previous)
		previous = current
	}
}

// TestRunSucceedsAfterRetries проверяет успешную третью попытку.
func TestRunSucceedsAfterRetries(t *testing.T) {
	rec := &recorder{}
	var transitions []State
	controller := NewController(DefaultPolicy(), quietLogger(),
		WithSleep(rec.sleep),
		WithObserver(func(_, to State) { transitions = append(transitions, to) }),
	)

	outcome, err := Run(context.Background(), controller, func(_ context.Context, attempt int) (string, string, error) {
		if attempt < 3 {
			return "", "garbage", errors.New("parse failed")
		}
		return "ok", `{"ok":true}`, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", outcome.Value)
	assert.Len(t, outcome.Attempts, 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.sleeps)
	assert.Equal(t, []State{
		StateAttempting, StateRetrying,
		StateAttempting, StateRetrying,
		StateAttempting, StateSuccess,
	}, transitions)
}

// TestRunExhausted проверяет ошибку после исчерпания попыток.
func TestRunExhausted(t *testing.T) {
	rec := &recorder{}
	controller := NewController(DefaultPolicy(), quietLogger(), WithSleep(rec.sleep))
	calls := 0

	_, err := Run(context.Background(), controller, func(_ context.Context, attempt int) (int, string, error) {
		calls++
		if attempt == 3 {
			return 0, "", errors.New("timeout")
		}
		return 0, "raw text", errors.New("bad json")
	})

	require.Error(t, err)
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, calls)
	assert.Len(t, exhausted.Attempts, 3)
	assert.EqualError(t, exhausted.Last, "timeout")
	assert.Equal(t, "raw text", exhausted.LastRaw())
	assert.Len(t, rec.sleeps, 2)
}

// TestRunPermanentStops проверяет, что неповторяемая ошибка прерывает цикл.
func TestRunPermanentStops(t *testing.T) {
	rec := &recorder{}
	controller := NewController(DefaultPolicy(), quietLogger(), WithSleep(rec.sleep))
	sentinel := errors.New("missing credentials")
	calls := 0

	_, err := Run(context.Background(), controller, func(context.Context, int) (int, string, error) {
		calls++
		return 0, "", Permanent(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.sleeps)
}

// TestRunCancelledDuringWait проверяет отмену во время паузы.
func TestRunCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	controller := NewController(DefaultPolicy(), quietLogger(), WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	calls := 0

	_, err := Run(ctx, controller, func(context.Context, int) (int, string, error) {
		calls++
		return 0, "", errors.New("upstream 500")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

// TestRunSingleAttempt проверяет политику без повторов.
func TestRunSingleAttempt(t *testing.T) {
	rec := &recorder{}
	controller := NewController(Policy{MaxAttempts: 1, BaseDelay: time.Second}, quietLogger(), WithSleep(rec.sleep))

	_, err := Run(context.Background(), controller, func(context.Context, int) (int, string, error) {
		return 0, "", errors.New("boom")
	})

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Len(t, exhausted.Attempts, 1)
	assert.Empty(t, rec.sleeps)
}

// TestSleep проверяет реальное ожидание с отменой.
func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

// TestPolicyBackOffSchedule проверяет расписание вместе с ограничением числа повторов.
func TestPolicyBackOffSchedule(t *testing.T) {
	schedule := backoff.WithMaxRetries(DefaultPolicy().BackOff(), 2)

	assert.Equal(t, 2*time.Second, schedule.NextBackOff())
	assert.Equal(t, 4*time.Second, schedule.NextBackOff())
	assert.Equal(t, backoff.Stop, schedule.NextBackOff())

	none := Policy{MaxAttempts: 3}
	assert.Equal(t, time.Duration(0), none.BackOff().NextBackOff())
	assert.Equal(t, time.Duration(0), none.Delay(3))

	capped := Policy{BaseDelay: time.Minute, MaxDelay: 10 * time.Second, Strategy: StrategyFixed}
	assert.Equal(t, 10*time.Second, capped.Delay(2))
}

// TestIsPermanent проверяет распознавание ошибок, помеченных через backoff.Permanent.
func TestIsPermanent(t *testing.T) {
	sentinel := errors.New("bad request")

	assert.True(t, IsPermanent(Permanent(sentinel)))
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", backoff.Permanent(sentinel))))
	assert.False(t, IsPermanent(sentinel))
	assert.NoError(t, Permanent(nil))
}
