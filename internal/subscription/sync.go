package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/infra"
	"github.com/xela07ax/knowledge-mesh/internal/source"
	"go.uber.org/zap"
)

// SyncStore — требования одного sync-цикла к хранилищу.
type SyncStore interface {
	GetNotebook(ctx context.Context, id string) (*domain.Notebook, error)
	MarkSyncing(ctx context.Context, id string) (bool, error)
	FinishSyncOK(ctx context.Context, id string, watermark, mirroredCount int64) error
	FinishSyncError(ctx context.Context, id, syncErr string) error
	SetSyncStatus(ctx context.Context, id string, status domain.SyncStatus, reason string) error
	UpsertMirroredBatch(ctx context.Context, items []domain.MirroredContent) error
	CountMirrored(ctx context.Context, subscriptionID string) (int64, error)
	EnqueueJobs(ctx context.Context, jobs []domain.JobEnvelope) error
}

// SourceFactory отдает транспорт контента для конкретной подписки
// (локальный Postgres либо обернутый в ReliableSource удаленный HTTP).
type SourceFactory func(sub *domain.Subscription) (source.ContentSource, error)

type syncAuditor interface {
	LogSyncResult(subscriptionID string, ok bool, detail map[string]interface{})
	LogSubscriptionSuspended(subscriptionID, reason string)
}

// Syncer исполняет один цикл синхронизации одной подписки.
// Конкурентность и расписание — забота Engine; здесь только семантика цикла.
type Syncer struct {
	store   SyncStore
	sources SourceFactory
	auditor syncAuditor
	metrics *Metrics
	cfg     infra.SyncConfig
	logger  *zap.Logger
}

func NewSyncer(store SyncStore, sources SourceFactory, auditor syncAuditor, metrics *Metrics, cfg infra.SyncConfig, logger *zap.Logger) *Syncer {
	return &Syncer{
		store:   store,
		sources: sources,
		auditor: auditor,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger.Named("syncer"),
	}
}

// SyncOne — полный цикл: захват, переоценка политики, батч, идемпотентный
// upsert, джобы на эмбеддинг, watermark. Любой выход из функции переводит
// статус из syncing: зависшего «syncing» не бывает даже при таймауте fetch.
func (s *Syncer) SyncOne(ctx context.Context, sub *domain.Subscription) {
	started := time.Now()

	// CAS на статусе: две горутины (или два инстанса kernel) не возьмут
	// одну подписку одновременно.
	claimed, err := s.store.MarkSyncing(ctx, sub.ID)
	if err != nil {
		s.logger.Error("mark syncing failed", zap.String("id", sub.ID), zap.Error(err))
		return
	}
	if !claimed {
		s.metrics.SyncCycles.WithLabelValues("skipped").Inc()
		return
	}

	outcome := s.runCycle(ctx, sub)
	s.metrics.SyncCycles.WithLabelValues(outcome).Inc()
	s.metrics.SyncDuration.Observe(time.Since(started).Seconds())
}

func (s *Syncer) runCycle(ctx context.Context, sub *domain.Subscription) string {
	src, err := s.sources(sub)
	if err != nil {
		return s.fail(ctx, sub, fmt.Errorf("resolve source: %w", err))
	}

	// Переоценка доминирования ПЕРЕД чтением: классификация источника могла
	// вырасти с прошлого цикла. Заморозка вместо ошибки — это не сбой,
	// а политика; зеркальные строки остаются читаемыми, но замирают.
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	sourceLabel, err := src.Label(fetchCtx, sub.SourceNotebookID)
	cancel()
	if err != nil {
		return s.fail(ctx, sub, fmt.Errorf("source label: %w", err))
	}

	subscriberNB, err := s.store.GetNotebook(ctx, sub.SubscriberNotebookID)
	if err != nil {
		return s.fail(ctx, sub, fmt.Errorf("subscriber notebook: %w", err))
	}
	if subscriberNB == nil {
		return s.fail(ctx, sub, fmt.Errorf("subscriber notebook %s is gone", sub.SubscriberNotebookID))
	}
	if !subscriberNB.Label.Dominates(sourceLabel) {
		reason := fmt.Sprintf("subscriber label %s no longer dominates source label %s",
			subscriberNB.Label, sourceLabel)
		if err := s.store.SetSyncStatus(ctx, sub.ID, domain.SyncSuspended, reason); err != nil {
			s.logger.Error("suspend failed", zap.String("id", sub.ID), zap.Error(err))
			return "error"
		}
		s.auditor.LogSubscriptionSuspended(sub.ID, reason)
		s.logger.Warn("subscription suspended", zap.String("id", sub.ID), zap.String("reason", reason))
		return "suspended"
	}

	fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
	items, err := src.FetchSince(fetchCtx, sub.SourceNotebookID, sub.SyncWatermark, s.cfg.BatchSize)
	cancel()
	if err != nil {
		return s.fail(ctx, sub, fmt.Errorf("fetch since %d: %w", sub.SyncWatermark, err))
	}

	applied, watermark, err := s.ApplyItems(ctx, sub, items)
	if err != nil {
		return s.fail(ctx, sub, err)
	}

	count, err := s.store.CountMirrored(ctx, sub.ID)
	if err != nil {
		return s.fail(ctx, sub, fmt.Errorf("count mirrored: %w", err))
	}
	if err := s.store.FinishSyncOK(ctx, sub.ID, watermark, count); err != nil {
		s.logger.Error("finish sync failed", zap.String("id", sub.ID), zap.Error(err))
		return "error"
	}

	s.metrics.MirroredItems.Add(float64(applied))
	s.auditor.LogSyncResult(sub.ID, true, map[string]interface{}{
		"items":     applied,
		"watermark": watermark,
	})
	s.logger.Debug("sync cycle done",
		zap.String("id", sub.ID), zap.Int("items", applied), zap.Int64("watermark", watermark))
	return "ok"
}

// ApplyItems вливает батч элементов источника: диспетчеризация по scope
// РОВНО ОДИН РАЗ на батч, фильтр тем, идемпотентный upsert, постановка
// EMBED_MIRRORED джоб. Возвращает число примененных строк и новый watermark.
// Через этот же путь проходит air-gapped импорт — онлайновый и офлайновый
// контент неразличимы после применения.
func (s *Syncer) ApplyItems(ctx context.Context, sub *domain.Subscription, items []domain.SourceItem) (int, int64, error) {
	watermark := sub.SyncWatermark
	if len(items) == 0 {
		return 0, watermark, nil
	}

	shape := shapeForScope(sub.Scope)

	batch := make([]domain.MirroredContent, 0, len(items))
	var jobs []domain.JobEnvelope
	for _, item := range items {
		if item.Sequence > watermark {
			watermark = item.Sequence
		}
		// Tombstone применяется всегда; фильтр тем отсекает только живые записи.
		if !item.Deleted && !matchesTopicFilter(sub.TopicFilter, item) {
			continue
		}

		m := shape(sub.ID, item)
		batch = append(batch, m)

		if len(m.Claims) == 0 || m.Tombstoned {
			continue
		}
		claimIDs := make([]string, 0, len(m.Claims))
		for _, c := range m.Claims {
			claimIDs = append(claimIDs, c.ID)
		}
		job, err := domain.NewJob(uuid.NewString(), domain.JobEmbedMirrored, domain.EmbedMirroredPayload{
			SubscriptionID: sub.ID,
			SourceEntryID:  item.EntryID,
			ClaimIDs:       claimIDs,
		})
		if err != nil {
			return 0, sub.SyncWatermark, err
		}
		jobs = append(jobs, job)
	}

	if err := s.store.UpsertMirroredBatch(ctx, batch); err != nil {
		return 0, sub.SyncWatermark, err
	}
	if err := s.store.EnqueueJobs(ctx, jobs); err != nil {
		return 0, sub.SyncWatermark, fmt.Errorf("enqueue embed jobs: %w", err)
	}
	return len(batch), watermark, nil
}

func (s *Syncer) fail(ctx context.Context, sub *domain.Subscription, cause error) string {
	if err := s.store.FinishSyncError(ctx, sub.ID, cause.Error()); err != nil {
		s.logger.Error("finish sync error failed", zap.String("id", sub.ID), zap.Error(err))
	}
	s.auditor.LogSyncResult(sub.ID, false, map[string]interface{}{"error": cause.Error()})
	s.logger.Warn("sync cycle failed", zap.String("id", sub.ID), zap.Error(cause))
	return "error"
}

// shapeForScope возвращает преобразование SourceItem -> MirroredContent
// для заданного охвата подписки. Выбирается один раз на батч.
func shapeForScope(scope domain.SubscriptionScope) func(subID string, item domain.SourceItem) domain.MirroredContent {
	base := func(subID string, item domain.SourceItem) domain.MirroredContent {
		return domain.MirroredContent{
			SubscriptionID: subID,
			SourceEntryID:  item.EntryID,
			SourceSequence: item.Sequence,
			Title:          item.Title,
			Tombstoned:     item.Deleted,
		}
	}
	switch scope {
	case domain.ScopeCatalog:
		return base
	case domain.ScopeClaims:
		return func(subID string, item domain.SourceItem) domain.MirroredContent {
			m := base(subID, item)
			m.Claims = item.Claims
			return m
		}
	default: // ScopeEntries
		return func(subID string, item domain.SourceItem) domain.MirroredContent {
			m := base(subID, item)
			m.Body = item.Body
			m.Claims = item.Claims
			return m
		}
	}
}

func matchesTopicFilter(filter string, item domain.SourceItem) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(item.Title), strings.ToLower(filter))
}
