package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"go.uber.org/zap"
)

// ThrottleError возвращается транспортом доставки, когда принимающая
// сторона просит подождать (аналог Retry-After).
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

// Sender — низкоуровневая доставка одного события.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// ReliableSender оборачивает доставку уведомлений в Rate Limiter,
// Circuit Breaker и ретраи. Канал уведомлений — внешняя зависимость,
// его деградация не должна ни блокировать переходы, ни заспамить сеть.
type ReliableSender struct {
	next    Sender
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

type ReliabilityOptions struct {
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	RatePerSec    float64
	Burst         int
}

func NewReliableSender(next Sender, opts ReliabilityOptions, logger *zap.Logger) *ReliableSender {
	if opts.CBMaxRequests == 0 {
		opts.CBMaxRequests = 3
	}
	if opts.CBInterval == 0 {
		opts.CBInterval = 5 * time.Second
	}
	if opts.CBTimeout == 0 {
		opts.CBTimeout = 30 * time.Second // Время, через которое CB попробует "закрыться"
	}
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 100
	}
	if opts.Burst == 0 {
		opts.Burst = 20
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "wing-notify",
		MaxRequests: opts.CBMaxRequests,
		Interval:    opts.CBInterval,
		Timeout:     opts.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся, перестаем дергать канал
			return counts.ConsecutiveFailures > 5
		},
	})

	return &ReliableSender{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		logger:  logger.Named("notify-reliability"),
	}
}

func (s *ReliableSender) Send(ctx context.Context, payload []byte) error {
	// 1. Rate Limiter
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Принимающая сторона сама сказала, сколько ждать
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// Иначе стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return s.next.Send(tCtx, payload)
		})
		return nil, retryErr
	})

	return err
}
