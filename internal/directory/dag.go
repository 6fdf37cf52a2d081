package directory

/*
Пакет directory держит организационный DAG групп в памяти процесса.

Ацикличность — инвариант, который ПРОВЕРЯЕТСЯ при каждой вставке ребра,
а не предполагается при обходе: все обходы итеративные (BFS по явной
adjacency на идентификаторах), рекурсивного спуска нет нигде.
Источник правды — Postgres; изменения транслируются сигналом Redis,
по которому все инстансы перечитывают adjacency (см. engine-паттерн
перезагрузки состояния).
*/

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/infra"
	"go.uber.org/zap"
)

// Repository описывает требования DAG к хранилищу.
type Repository interface {
	ListGroups(ctx context.Context, orgID string) ([]domain.Group, error)
	ListGroupEdges(ctx context.Context, orgID string) ([]domain.GroupEdge, error)
	InsertGroupEdge(ctx context.Context, orgID string, edge domain.GroupEdge, validate func(edges []domain.GroupEdge) error) error
}

type DAG struct {
	mu sync.RWMutex
	// Adjacency на идентификаторах (arena-style, без графа указателей)
	children map[string][]string // parent -> children
	parents  map[string][]string // child -> parents
	groups   map[string]domain.Group

	orgID  string
	repo   Repository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewDAG(orgID string, repo Repository, rdb *redis.Client, logger *zap.Logger) *DAG {
	return &DAG{
		children: make(map[string][]string),
		parents:  make(map[string][]string),
		groups:   make(map[string]domain.Group),
		orgID:    orgID,
		repo:     repo,
		rdb:      rdb,
		logger:   logger.Named("directory"),
	}
}

// Refresh выполняет «холодную загрузку» adjacency из Postgres.
func (d *DAG) Refresh(ctx context.Context) error {
	groups, err := d.repo.ListGroups(ctx, d.orgID)
	if err != nil {
		return fmt.Errorf("directory: load groups: %w", err)
	}
	edges, err := d.repo.ListGroupEdges(ctx, d.orgID)
	if err != nil {
		return fmt.Errorf("directory: load edges: %w", err)
	}

	children := make(map[string][]string, len(groups))
	parents := make(map[string][]string, len(groups))
	groupIdx := make(map[string]domain.Group, len(groups))
	for _, g := range groups {
		groupIdx[g.ID] = g
	}
	for _, e := range edges {
		children[e.ParentID] = append(children[e.ParentID], e.ChildID)
		parents[e.ChildID] = append(parents[e.ChildID], e.ParentID)
	}

	d.mu.Lock()
	d.children = children
	d.parents = parents
	d.groups = groupIdx
	d.mu.Unlock()

	d.logger.Info("group dag refreshed", zap.Int("groups", len(groups)), zap.Int("edges", len(edges)))
	return nil
}

// StartListener подписывается на сигнал обновления DAG и перечитывает состояние.
func (d *DAG) StartListener(ctx context.Context) {
	infra.ListenResilient(ctx, d.rdb, d.logger, infra.RedisChanGroupRefresh,
		func() error { return d.Refresh(ctx) },
		func(string) {
			if err := d.Refresh(ctx); err != nil {
				d.logger.Error("dag refresh on signal failed", zap.Error(err))
			}
		},
	)
}

// AddEdge вставляет ребро parent -> child с проверкой цикла внутри
// транзакции БД (валидация на ребрах, прочитанных под блокировкой):
// если child уже достигает parent по существующим ребрам — отказ.
func (d *DAG) AddEdge(ctx context.Context, parentID, childID string) error {
	if parentID == childID {
		return domain.PolicyViolationf("group cannot be its own parent")
	}

	err := d.repo.InsertGroupEdge(ctx, d.orgID, domain.GroupEdge{ParentID: parentID, ChildID: childID},
		func(edges []domain.GroupEdge) error {
			children := make(map[string][]string, len(edges))
			for _, e := range edges {
				children[e.ParentID] = append(children[e.ParentID], e.ChildID)
				if e.ParentID == parentID && e.ChildID == childID {
					return domain.PolicyViolationf("edge %s -> %s already exists", parentID, childID)
				}
			}
			// parent достижим из child => вставка замкнет цикл
			if reachable(children, childID, parentID) {
				return domain.PolicyViolationf("edge %s -> %s would create a cycle", parentID, childID)
			}
			return nil
		})
	if err != nil {
		return err
	}

	// Локальное состояние и остальные инстансы
	if err := d.Refresh(ctx); err != nil {
		return err
	}
	if pubErr := d.rdb.Publish(ctx, infra.RedisChanGroupRefresh, d.orgID).Err(); pubErr != nil {
		d.logger.Warn("group refresh signal failed", zap.Error(pubErr))
	}
	return nil
}

// reachable — итеративный BFS: достижим ли target из start по ребрам adjacency.
func reachable(adjacency map[string][]string, start, target string) bool {
	if start == target {
		return true
	}
	visited := map[string]struct{}{start: {}}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur] {
			if next == target {
				return true
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return false
}

// EffectiveLabel — метка группы: join (max уровень, объединение компартментов)
// по всем предкам плюс локальная часть. Никогда не ниже метки любого родителя.
func (d *DAG) EffectiveLabel(groupID string) (domain.SecurityLabel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	g, ok := d.groups[groupID]
	if !ok {
		return domain.SecurityLabel{}, false
	}
	label := g.LocalLabel

	// BFS вверх по родителям
	visited := map[string]struct{}{groupID: {}}
	queue := append([]string{}, d.parents[groupID]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		if pg, ok := d.groups[cur]; ok {
			label = label.Join(pg.LocalLabel)
		}
		queue = append(queue, d.parents[cur]...)
	}
	return label, true
}

// Descendants возвращает множество потомков группы, включая ее саму.
// Используется резолвером доступа: грант на владеющую группу наследуется
// ВНИЗ по иерархии, но никогда вверх.
func (d *DAG) Descendants(groupID string) map[string]struct{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := map[string]struct{}{groupID: {}}
	queue := []string{groupID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range d.children[cur] {
			if _, seen := result[next]; seen {
				continue
			}
			result[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return result
}
