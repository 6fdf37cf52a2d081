package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/infra"
	"go.uber.org/zap"
)

// ScheduleStore — выборки планировщика.
type ScheduleStore interface {
	ListAllSubscriptions(ctx context.Context) ([]*domain.Subscription, error)
	ListSubscriptionsBySource(ctx context.Context, sourceNotebookID string) ([]*domain.Subscription, error)
}

// Engine — poll-планировщик синхронизации. На каждом тике отбирает подписки,
// у которых подошел эффективный интервал (с учетом бэкоффа), и раздает их
// пулу воркеров. Один инстанс движка на процесс kernel; защита от гонок
// между инстансами — CAS в MarkSyncing, здесь только локальный in-flight.
type Engine struct {
	store   ScheduleStore
	syncer  *Syncer
	rdb     *redis.Client
	cfg     infra.SyncConfig
	metrics *Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	forced   map[string]struct{} // Разбуженные force-sync сигналом

	sem chan struct{}
	wg  sync.WaitGroup
}

func NewEngine(store ScheduleStore, syncer *Syncer, rdb *redis.Client, cfg infra.SyncConfig, metrics *Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		syncer:   syncer,
		rdb:      rdb,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.Named("sync-engine"),
		inflight: make(map[string]struct{}),
		forced:   make(map[string]struct{}),
		sem:      make(chan struct{}, cfg.MaxWorkers),
	}
}

// Run крутит планировщик до отмены контекста, после чего дожидается
// завершения запущенных циклов (graceful shutdown без оборванных батчей).
func (e *Engine) Run(ctx context.Context) {
	go e.listenWakeup(ctx)
	go e.listenLabelChange(ctx)

	ticker := time.NewTicker(e.cfg.SchedulerTick)
	defer ticker.Stop()

	e.logger.Info("sync engine started",
		zap.Int("max_workers", e.cfg.MaxWorkers),
		zap.Duration("tick", e.cfg.SchedulerTick))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync engine stopping, waiting for in-flight cycles")
			e.wg.Wait()
			e.logger.Info("sync engine stopped")
			return
		case <-ticker.C:
			e.pass(ctx)
		}
	}
}

// pass — один проход планировщика: отбор due-подписок, oldest-due первыми.
func (e *Engine) pass(ctx context.Context) {
	subs, err := e.store.ListAllSubscriptions(ctx)
	if err != nil {
		e.logger.Error("scheduler pass: list subscriptions", zap.Error(err))
		return
	}

	now := time.Now()
	var suspended float64
	due := make([]*domain.Subscription, 0, len(subs))

	e.mu.Lock()
	for _, sub := range subs {
		if sub.SyncStatus == domain.SyncSuspended {
			suspended++
			// Форс-сигнал на замороженную подписку сгорает без эффекта:
			// разморозка — только явное действие администратора.
			delete(e.forced, sub.ID)
			continue
		}
		if _, busy := e.inflight[sub.ID]; busy {
			continue
		}
		_, isForced := e.forced[sub.ID]
		if isForced || !now.Before(sub.DueAt(e.cfg.BackoffCap)) {
			delete(e.forced, sub.ID)
			due = append(due, sub)
		}
	}
	e.mu.Unlock()

	e.metrics.SuspendedSubscriptions.Set(suspended)

	sort.Slice(due, func(i, j int) bool {
		return due[i].DueAt(e.cfg.BackoffCap).Before(due[j].DueAt(e.cfg.BackoffCap))
	})

	for _, sub := range due {
		select {
		case e.sem <- struct{}{}:
		default:
			// Все воркеры заняты — остальные подождут следующего тика,
			// их приоритет (oldest-due) сохранится.
			return
		}

		e.mu.Lock()
		e.inflight[sub.ID] = struct{}{}
		e.mu.Unlock()

		e.wg.Add(1)
		go func(sub *domain.Subscription) {
			defer func() {
				e.mu.Lock()
				delete(e.inflight, sub.ID)
				e.mu.Unlock()
				<-e.sem
				e.wg.Done()
			}()
			e.syncer.SyncOne(ctx, sub)
		}(sub)
	}
}

// listenWakeup принимает force-sync сигналы: подписка становится due немедленно.
func (e *Engine) listenWakeup(ctx context.Context) {
	infra.ListenResilient(ctx, e.rdb, e.logger, infra.RedisChanSyncWakeup,
		func() error { return nil },
		func(payload string) {
			e.mu.Lock()
			e.forced[payload] = struct{}{}
			e.mu.Unlock()
			e.logger.Debug("wakeup signal", zap.String("subscription_id", payload))
		},
	)
}

// listenLabelChange: изменилась классификация ноутбука — все подписки на него
// пересматриваются немедленно, не дожидаясь интервала. Сам вердикт (suspend
// или продолжение) выносит цикл, здесь только пробуждение.
func (e *Engine) listenLabelChange(ctx context.Context) {
	infra.ListenResilient(ctx, e.rdb, e.logger, infra.RedisChanLabelChange,
		func() error { return nil },
		func(notebookID string) {
			subs, err := e.store.ListSubscriptionsBySource(ctx, notebookID)
			if err != nil {
				e.logger.Error("label change: list by source", zap.String("notebook_id", notebookID), zap.Error(err))
				return
			}
			e.mu.Lock()
			for _, sub := range subs {
				e.forced[sub.ID] = struct{}{}
			}
			e.mu.Unlock()
			if len(subs) > 0 {
				e.logger.Info("label change triggers re-evaluation",
					zap.String("notebook_id", notebookID), zap.Int("subscriptions", len(subs)))
			}
		},
	)
}
