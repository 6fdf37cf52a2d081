package directory

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"go.uber.org/zap"
)

// Registry — по DAG на организацию, ленивая загрузка. Деплой обслуживает
// несколько организаций; их иерархии независимы и никогда не пересекаются
// ребрами, поэтому и в памяти они живут раздельно.
type Registry struct {
	mu   sync.Mutex
	dags map[string]*DAG

	repo   Repository
	rdb    *redis.Client
	logger *zap.Logger

	// Контекст жизни слушателей refresh-сигналов
	ctx context.Context
}

func NewRegistry(ctx context.Context, repo Repository, rdb *redis.Client, logger *zap.Logger) *Registry {
	return &Registry{
		dags:   make(map[string]*DAG),
		repo:   repo,
		rdb:    rdb,
		logger: logger,
		ctx:    ctx,
	}
}

// ForOrg возвращает DAG организации, при первом обращении загружая его
// из Postgres и подписывая на сигналы обновления.
func (r *Registry) ForOrg(ctx context.Context, orgID string) (*DAG, error) {
	r.mu.Lock()
	dag, ok := r.dags[orgID]
	if !ok {
		dag = NewDAG(orgID, r.repo, r.rdb, r.logger)
		r.dags[orgID] = dag
		go dag.StartListener(r.ctx)
	}
	r.mu.Unlock()

	if !ok {
		if err := dag.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	return dag, nil
}

// Descendants — реализация access.GroupIndex поверх реестра.
// При недоступной иерархии деградируем до самой группы: грант на владельца
// продолжает работать, наследование вниз временно не действует.
func (r *Registry) Descendants(ctx context.Context, orgID, groupID string) map[string]struct{} {
	dag, err := r.ForOrg(ctx, orgID)
	if err != nil {
		r.logger.Error("group dag unavailable, falling back to owner-only",
			zap.String("org_id", orgID), zap.Error(err))
		return map[string]struct{}{groupID: {}}
	}
	return dag.Descendants(groupID)
}

// AddEdge — вставка ребра в иерархию организации.
func (r *Registry) AddEdge(ctx context.Context, orgID, parentID, childID string) error {
	dag, err := r.ForOrg(ctx, orgID)
	if err != nil {
		return err
	}
	return dag.AddEdge(ctx, parentID, childID)
}

// EffectiveLabel — производная метка группы в рамках организации.
func (r *Registry) EffectiveLabel(ctx context.Context, orgID, groupID string) (domain.SecurityLabel, bool) {
	dag, err := r.ForOrg(ctx, orgID)
	if err != nil {
		return domain.SecurityLabel{}, false
	}
	return dag.EffectiveLabel(groupID)
}
