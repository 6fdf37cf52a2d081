package compare

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"go.uber.org/zap"
)

// Scored — кандидат-сосед из векторного индекса.
type Scored struct {
	ID             string  // entry id (нативный) либо source_entry_id (зеркальный)
	SubscriptionID string  // Пусто для нативного кандидата
	Score          float64 // Близость по индексу, чем больше тем ближе
}

// NeighborIndex — поиск ближайших соседей по эмбеддингам. Сами вектора
// считают внешние агенты (джобы EMBED/EMBED_MIRRORED); ядро видит индекс
// как черный ящик с двумя пространствами — нативным и зеркальным.
type NeighborIndex interface {
	NativeNeighbors(ctx context.Context, notebookID, entryID string, k int) ([]Scored, error)
	MirroredNeighbors(ctx context.Context, notebookID, entryID string, k int) ([]Scored, error)
}

// Repository — хранилище, с точки зрения compare-пайплайна.
type Repository interface {
	GetNotebook(ctx context.Context, id string) (*domain.Notebook, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	EnqueueJobs(ctx context.Context, jobs []domain.JobEnvelope) error
	GetJob(ctx context.Context, id string) (*domain.JobEnvelope, error)
	UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus) error
	InsertComparisonResult(ctx context.Context, r domain.ComparisonResult) error
	ListComparisonResults(ctx context.Context, entryID string) ([]domain.ComparisonResult, error)
	AggregateFriction(ctx context.Context, entryID string) (float64, error)
	ListPendingJobs(ctx context.Context, kind domain.JobKind, limit int) ([]domain.JobEnvelope, error)
}

// Pipeline раздает COMPARE-джобы и принимает их результаты.
// Ключевая механика кросс-граничного сравнения: дисконт копируется из
// подписки В МОМЕНТ постановки джобы и дальше живет в payload — удаление
// или изменение подписки на уже поставленную джобу не влияет.
type Pipeline struct {
	repo   Repository
	index  NeighborIndex
	logger *zap.Logger
}

func NewPipeline(repo Repository, index NeighborIndex, logger *zap.Logger) *Pipeline {
	return &Pipeline{repo: repo, index: index, logger: logger.Named("compare-pipeline")}
}

// Dispatch находит до k соседей записи — объединение нативного и зеркального
// пространств, слитое по score, — и ставит по COMPARE-джобе на каждую пару.
// Возвращает число поставленных джоб.
func (p *Pipeline) Dispatch(ctx context.Context, notebookID, entryID string, k int) (int, error) {
	nb, err := p.repo.GetNotebook(ctx, notebookID)
	if err != nil {
		return 0, err
	}
	if nb == nil {
		return 0, domain.ErrNotFound
	}

	native, err := p.index.NativeNeighbors(ctx, notebookID, entryID, k)
	if err != nil {
		return 0, fmt.Errorf("native neighbors: %w", err)
	}
	mirrored, err := p.index.MirroredNeighbors(ctx, notebookID, entryID, k)
	if err != nil {
		return 0, fmt.Errorf("mirrored neighbors: %w", err)
	}

	// Слияние по score: зеркальные кандидаты конкурируют с нативными
	// на равных, дисконт применяется к РЕЗУЛЬТАТУ, не к отбору.
	merged := append(append(make([]Scored, 0, len(native)+len(mirrored)), native...), mirrored...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > k {
		merged = merged[:k]
	}

	jobs := make([]domain.JobEnvelope, 0, len(merged))
	for _, cand := range merged {
		payload := domain.ComparePayload{
			EntryID:        entryID,
			NeighborID:     cand.ID,
			DiscountFactor: 1.0,
			// Исполнитель обязан иметь допуск на метку ноутбука, в периметре
			// которого идет сравнение, — для зеркального соседа это тоже
			// метка ПОДПИСЧИКА: контент уже пересек границу при зеркалировании.
			RequiredLabel: nb.Label,
		}
		if cand.SubscriptionID != "" {
			sub, err := p.repo.GetSubscription(ctx, cand.SubscriptionID)
			if err != nil {
				return 0, err
			}
			if sub == nil {
				// Подписку удалили между поиском и постановкой — пара отпадает
				continue
			}
			payload.CrossBoundary = true
			payload.SubscriptionID = sub.ID
			payload.DiscountFactor = sub.DiscountFactor
		}

		job, err := domain.NewJob(uuid.NewString(), domain.JobCompare, payload)
		if err != nil {
			return 0, err
		}
		jobs = append(jobs, job)
	}

	if err := p.repo.EnqueueJobs(ctx, jobs); err != nil {
		return 0, fmt.Errorf("enqueue compare jobs: %w", err)
	}
	p.logger.Debug("compare jobs dispatched",
		zap.String("entry_id", entryID), zap.Int("jobs", len(jobs)))
	return len(jobs), nil
}

// EntryReport — записанные сравнения записи и агрегат ее «трения».
type EntryReport struct {
	Results  []domain.ComparisonResult `json:"results"`
	Friction float64                   `json:"friction"`
}

// Results отдает историю сравнений записи. Агрегат считается по
// effective_score: кросс-граничные пары входят со своим дисконтом.
func (p *Pipeline) Results(ctx context.Context, entryID string) (*EntryReport, error) {
	results, err := p.repo.ListComparisonResults(ctx, entryID)
	if err != nil {
		return nil, err
	}
	friction, err := p.repo.AggregateFriction(ctx, entryID)
	if err != nil {
		return nil, err
	}
	return &EntryReport{Results: results, Friction: friction}, nil
}

// PendingJobs — очередь работы для внешних агентов-исполнителей.
func (p *Pipeline) PendingJobs(ctx context.Context, kind domain.JobKind, limit int) ([]domain.JobEnvelope, error) {
	switch kind {
	case domain.JobDistill, domain.JobEmbed, domain.JobEmbedMirrored, domain.JobCompare:
	default:
		return nil, domain.PolicyViolationf("unknown job kind %q", kind)
	}
	return p.repo.ListPendingJobs(ctx, kind, limit)
}

// RecordResult принимает сырой score от агента-исполнителя, применяет дисконт
// из payload джобы и фиксирует результат. Raw сохраняется дословно.
func (p *Pipeline) RecordResult(ctx context.Context, jobID string, rawScore float64) (*domain.ComparisonResult, error) {
	job, err := p.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrNotFound
	}
	if job.Kind != domain.JobCompare {
		return nil, fmt.Errorf("job %s is %s, not %s", jobID, job.Kind, domain.JobCompare)
	}
	if job.Status != domain.JobPending && job.Status != domain.JobRunning {
		return nil, fmt.Errorf("%w: job %s already %s", domain.ErrConflict, jobID, job.Status)
	}

	decoded, err := job.DecodePayload()
	if err != nil {
		return nil, err
	}
	payload := decoded.(*domain.ComparePayload)

	result := domain.ComparisonResult{
		ID:             uuid.NewString(),
		EntryID:        payload.EntryID,
		NeighborID:     payload.NeighborID,
		CrossBoundary:  payload.CrossBoundary,
		SubscriptionID: payload.SubscriptionID,
		RawScore:       rawScore,
		DiscountFactor: payload.DiscountFactor,
		EffectiveScore: rawScore * payload.DiscountFactor,
		CreatedAt:      time.Now(),
	}
	if err := p.repo.InsertComparisonResult(ctx, result); err != nil {
		return nil, err
	}
	if err := p.repo.UpdateJobStatus(ctx, jobID, domain.JobDone); err != nil {
		return nil, err
	}
	return &result, nil
}
