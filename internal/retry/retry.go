package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

type State string

const (
	StateIdle       State = "idle"
	StateAttempting State = "attempting"
	StateRetrying   State = "retrying"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyExponential Strategy = "exponential"
)

const DefaultMaxAttempts = 3

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Strategy    Strategy
}

// DefaultPolicy возвращает политику по умолчанию: 3 попытки, паузы 2s и 4s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Strategy:    StrategyExponential,
	}
}

// BackOff строит расписание пауз между попытками без случайного разброса:
// 2s, 4s, 8s и так далее до MaxDelay.
func (p Policy) BackOff() backoff.BackOff {
	if p.BaseDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}

	if p.Strategy != StrategyExponential {
		delay := p.BaseDelay
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		return backoff.NewConstantBackOff(delay)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.BaseDelay
	expo.RandomizationFactor = 0
	expo.Multiplier = 2
	expo.MaxInterval = p.MaxDelay
	if expo.MaxInterval <= 0 {
		expo.MaxInterval = time.Duration(math.MaxInt64)
	}
	expo.MaxElapsedTime = 0
	expo.Reset()

	return expo
}

// Delay возвращает паузу перед попыткой с номером attempt (нумерация с 1).
// Перед первой попыткой пауза нулевая, дальше значение не убывает.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	b := p.BackOff()
	var delay time.Duration
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}

	return delay
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}

	return p.MaxAttempts
}

// Attempt is the record of one iteration of the loop.
type Attempt struct {
	Index     int           `json:"index"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Raw       string        `json:"raw,omitempty"`
	Err       error         `json:"-"`
}

type Outcome[T any] struct {
	Value      T
	Attempts   []Attempt
	FinishedAt time.Time
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts []Attempt
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", len(e.Attempts), e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// LastRaw возвращает сырой ответ последней попытки, в которой он был.
func (e *ExhaustedError) LastRaw() string {
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if e.Attempts[i].Raw != "" {
			return e.Attempts[i].Raw
		}
	}

	return ""
}

// Permanent помечает ошибку как неповторяемую: цикл завершается сразу.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return backoff.Permanent(err)
}

// IsPermanent сообщает, помечена ли ошибка как неповторяемая.
func IsPermanent(err error) bool {
	var target *backoff.PermanentError
	return errors.As(err, &target)
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Controller struct {
	policy   Policy
	logger   *slog.Logger
	sleep    SleepFunc
	now      func() time.Time
	observer func(from, to State)
}

type Option func(*Controller)

// WithSleep подменяет функцию ожидания (используется в тестах).
func WithSleep(sleep SleepFunc) Option {
	return func(c *Controller) {
		c.sleep = sleep
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithObserver подписывает наблюдателя на переходы состояний.
func WithObserver(observer func(from, to State)) Option {
	return func(c *Controller) {
		c.observer = observer
	}
}

// NewController создает контроллер повторов с заданной политикой.
func NewController(policy Policy, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		policy: policy,
		logger: logger,
		sleep:  Sleep,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Policy возвращает политику контроллера.
func (c *Controller) Policy() Policy {
	return c.policy
}

// Func is one attempt. It returns the value, the raw upstream text (kept for
// diagnostics even on failure) and an error.
type Func[T any] func(ctx context.Context, attempt int) (T, string, error)

// Run выполняет попытки строго последовательно до успеха, неповторяемой ошибки или исчерпания лимита.
func Run[T any](ctx context.Context, c *Controller, fn Func[T]) (Outcome[T], error) {
	maxAttempts := c.policy.attempts()
	attempts := make([]Attempt, 0, maxAttempts)
	state := StateIdle

	transition := func(next State) {
		if c.observer != nil {
			c.observer(state, next)
		}
		state = next
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(c.policy.BackOff(), uint64(maxAttempts-1)), ctx)
	schedule.Reset()

	var zero T
	for attempt := 1; ; attempt++ {
		transition(StateAttempting)
		startedAt := c.now()
		value, raw, err := fn(ctx, attempt)
		record := Attempt{Index: attempt, StartedAt: startedAt, Duration: c.now().Sub(startedAt), Raw: raw, Err: err}
		attempts = append(attempts, record)

		if err == nil {
			transition(StateSuccess)
			if attempt > 1 {
				c.logger.Info("operation succeeded after retry", slog.Int("attempt", attempt))
			}
			return Outcome[T]{Value: value, Attempts: attempts, FinishedAt: c.now()}, nil
		}

		c.logger.Warn("attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.String("error", err.Error()),
		)

		if IsPermanent(err) || ctx.Err() != nil {
			transition(StateFailed)
			return Outcome[T]{Value: zero, Attempts: attempts, FinishedAt: c.now()}, &ExhaustedError{Attempts: attempts, Last: err}
		}

		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			break
		}

		transition(StateRetrying)
		c.logger.Debug("retrying after delay",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			transition(StateFailed)
			return Outcome[T]{Attempts: attempts, FinishedAt: c.now()}, &ExhaustedError{Attempts: attempts, Last: err}
		}
	}

	transition(StateFailed)
	last := attempts[len(attempts)-1].Err
	c.logger.Error("all attempts exhausted", slog.Int("attempts", len(attempts)), slog.String("error", last.Error()))

	return Outcome[T]{Value: zero, Attempts: attempts, FinishedAt: c.now()}, &ExhaustedError{Attempts: attempts, Last: last}
}

// Sleep ждет d или отмены контекста.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
