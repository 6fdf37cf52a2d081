package audit

/*
Файл recorder.go реализует движок записи Audit Trail.

Ключевые особенности архитектуры:
- Bounded Queue + Backpressure: продюсеры (хендлеры, sync-воркеры) при
  переполненном буфере БЛОКИРУЮТСЯ, а не теряют события. Для security-журнала
  потеря события хуже деградации латентности.
- Batching & Efficiency: накопление событий в памяти и пакетная запись
  (Bulk Insert) в PostgreSQL по таймеру или при достижении лимита батча.
- Durable Overflow: если БД недоступна, батч сбрасывается в локальный
  JSONL-журнал (fsync) и реплеится перед новыми батчами после восстановления.
  Ни один путь кода не выбрасывает событие недолговечно.
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер вычитывается
  полностью (sync.WaitGroup + закрытие канала), Final Flush гарантирован.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

type Auditor interface {
	Log(event Event)
}

// Options — внешние ручки очереди (из конфига, не захардкожены).
type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

type Recorder struct {
	ch       chan Event
	repo     StorageInterface
	overflow *OverflowLog
	logger   *zap.Logger
	wg       sync.WaitGroup
	opts     Options

	// Метрика заполненности буфера: оператор видит backpressure до того,
	// как продюсеры начнут ощутимо блокироваться.
	bufferFill prometheus.Gauge

	// Защита от Log после остановки. Отправка в канал идет под RLock,
	// закрытие — под Lock: канал не может закрыться под продюсером,
	// зависшим на отправке в полный буфер.
	mu     sync.RWMutex
	closed bool
}

func NewRecorder(repo StorageInterface, overflow *OverflowLog, opts Options, bufferFill prometheus.Gauge, logger *zap.Logger) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &Recorder{
		ch:         make(chan Event, opts.BufferSize),
		repo:       repo,
		overflow:   overflow,
		logger:     logger.With(zap.String("mod", "audit")),
		opts:       opts,
		bufferFill: bufferFill,
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
// Lock берется только после того, как все продюсеры, зависшие на отправке,
// протолкнули свои события (они держат RLock на время отправки, а воркер
// продолжает вычитывать очередь до самого close).
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.logger.Info("stopping auditor: closing channel and flushing buffer...")
	close(r.ch)
	r.mu.Unlock()

	// Drain Pattern: воркер вычитает остатки и сделает Final Flush.
	r.wg.Wait()
	r.logger.Info("auditor stopped gracefully")
}

// Log ставит событие в очередь. При переполненном буфере — блокируется
// (backpressure), событие не может быть сброшено. Единственное исключение —
// остановка сервиса: тогда событие уходит напрямую в overflow-журнал.
func (r *Recorder) Log(event Event) {
	// Убеждаемся, что таймстемп всегда проставлен
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Origin == "" {
		event.Origin = OriginLocal
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		// Канал закрыт — пишем долговечно мимо очереди
		if err := r.overflow.Append([]Event{event}); err != nil {
			r.logger.Error("audit event write during shutdown failed", zap.String("id", event.ID), zap.Error(err))
		}
		return
	}
	// Отправка (в том числе блокирующая, при полном буфере) — под RLock
	r.ch <- event
	r.mu.RUnlock()

	if r.bufferFill != nil {
		r.bufferFill.Set(float64(len(r.ch)))
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]Event, 0, r.opts.BatchSize)
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Перед новым батчем доигрываем накопившийся overflow: порядок
		// событий в БД сохраняет порядок их появления.
		r.replayOverflow()

		// Используем Background, так как основной контекст может быть уже закрыт
		if err := r.repo.WriteBatch(context.Background(), batch); err != nil {
			r.logger.Error("audit flush failed, spilling to overflow", zap.Int("events", len(batch)), zap.Error(err))
			if spillErr := r.overflow.Append(batch); spillErr != nil {
				// Последний рубеж: и БД, и диск недоступны. Держим батч в памяти
				// и пробуем снова на следующем тике — события не выбрасываются.
				r.logger.Error("audit overflow spill failed, retaining batch in memory", zap.Error(spillErr))
				return
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-r.ch:
			if !ok {
				// Канал закрыт в Stop() — самодостаточный сигнал завершения:
				// воркер уже вычитал всё из очереди и делает Final Flush.
				flush()
				r.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if r.bufferFill != nil {
				r.bufferFill.Set(float64(len(r.ch)))
			}
			if len(batch) >= r.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// replayOverflow перекладывает события из локального журнала в БД.
// Вызывается только из воркера (однопоточно).
func (r *Recorder) replayOverflow() {
	events, err := r.overflow.Drain()
	if err != nil {
		r.logger.Error("audit overflow drain failed", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}
	if err := r.repo.WriteBatch(context.Background(), events); err != nil {
		// БД все еще лежит: возвращаем события обратно в журнал
		r.logger.Warn("audit overflow replay failed, re-spilling", zap.Int("events", len(events)), zap.Error(err))
		if spillErr := r.overflow.Append(events); spillErr != nil {
			r.logger.Error("audit overflow re-spill failed", zap.Error(spillErr))
		}
		return
	}
	r.logger.Info("audit overflow replayed", zap.Int("events", len(events)))
}
