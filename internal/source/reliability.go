package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"golang.org/x/time/rate"
)

// ReliableSource оборачивает ContentSource в три слоя защиты:
// лимитер (не душим источник), предохранитель (не долбим лежащий источник),
// ретраи с уважением к Retry-After.
type ReliableSource struct {
	next    ContentSource
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

func NewReliableSource(name string, next ContentSource, fetchTimeout time.Duration) *ReliableSource {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "source-" + name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
	})

	// 10 rps на источник с небольшим бёрстом — чтобы серия подписок на один
	// ноутбук не выглядела для него как DoS
	limiter := rate.NewLimiter(rate.Limit(10), 5)

	return &ReliableSource{
		next:    next,
		cb:      cb,
		limiter: limiter,
		timeout: fetchTimeout,
	}
}

func (w *ReliableSource) FetchSince(ctx context.Context, notebookID string, since int64, limit int) ([]domain.SourceItem, error) {
	res, err := w.execute(ctx, func(tCtx context.Context) (interface{}, error) {
		return w.next.FetchSince(tCtx, notebookID, since, limit)
	})
	if err != nil {
		return nil, err
	}
	return res.([]domain.SourceItem), nil
}

func (w *ReliableSource) Label(ctx context.Context, notebookID string) (domain.SecurityLabel, error) {
	res, err := w.execute(ctx, func(tCtx context.Context) (interface{}, error) {
		return w.next.Label(tCtx, notebookID)
	})
	if err != nil {
		return domain.SecurityLabel{}, err
	}
	return res.(domain.SecurityLabel), nil
}

func (w *ReliableSource) execute(ctx context.Context, call func(context.Context) (interface{}, error)) (interface{}, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var finalData interface{}

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Источник сам сказал, сколько ждать (считали Retry-After)
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
			// 404 от источника ретраить бессмысленно: это либо удаление,
			// либо отзыв доступа, обе причины разрешает sync-цикл
			retry.RetryIf(func(err error) bool {
				return !errors.Is(err, domain.ErrNotFound)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()

			var callErr error
			finalData, callErr = call(tCtx)
			return callErr
		})

		return finalData, retryErr
	})

	if err != nil {
		return nil, err
	}
	return cbResult, nil
}
