package access

import (
	"context"
	"fmt"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"go.uber.org/zap"
)

// Repository описывает требования резолвера к хранилищу.
type Repository interface {
	GetNotebook(ctx context.Context, id string) (*domain.Notebook, error)
	ListACL(ctx context.Context, notebookID string) ([]domain.ACLEntry, error)
	ListMemberships(ctx context.Context, principalID string) ([]domain.Membership, error)
}

// GroupIndex — то, что резолверу нужно от DAG групп (directory.Registry).
type GroupIndex interface {
	Descendants(ctx context.Context, orgID, groupID string) map[string]struct{}
}

// Access — результат резолва для пары (principal, notebook).
type Access struct {
	Tier domain.AccessTier
	// Visible=false означает, что для вызывающего ноутбук «не существует».
	// Хендлеры обязаны отдавать байт-в-байт тот же 404, что и для
	// реально отсутствующего id.
	Visible  bool
	Notebook *domain.Notebook
}

// Resolver — точка принятия решений о доступе (PDP этой системы).
// Stateless и безопасен для конкурентных вызовов; единственное разделяемое
// состояние — ClearanceCache.
type Resolver struct {
	repo       Repository
	clearances *ClearanceCache
	groups     GroupIndex
	auditor    auditor
	logger     *zap.Logger
}

// auditor — минимальный контракт к audit.Recorder (отказы в доступе
// security-significant и обязаны попадать в журнал).
type auditor interface {
	LogAccessDenied(principalID, notebookID, reason string)
}

func NewResolver(repo Repository, clearances *ClearanceCache, groups GroupIndex, auditor auditor, logger *zap.Logger) *Resolver {
	return &Resolver{
		repo:       repo,
		clearances: clearances,
		groups:     groups,
		auditor:    auditor,
		logger:     logger.Named("access-resolver"),
	}
}

// Resolve вычисляет эффективный tier:
//  1. максимум по прямым ACL-грантам принципала;
//  2. максимум по грантам групп, в которых он состоит, если группа —
//     владелец ноутбука или его ПОТОМОК (предки не наследуют: доступ
//     не течет вверх по оргиерархии, в отличие от подписок);
//  3. номинальный tier гейтится доминированием допуска над меткой ноутбука —
//     без доминирования все схлопывается в none и существование скрывается.
func (r *Resolver) Resolve(ctx context.Context, principalID, notebookID string) (Access, error) {
	nb, err := r.repo.GetNotebook(ctx, notebookID)
	if err != nil {
		return Access{}, fmt.Errorf("resolve: %w", err)
	}
	if nb == nil {
		return Access{Tier: domain.TierNone, Visible: false}, nil
	}

	// 1-2. Номинальный tier из ACL
	nominal, err := r.nominalTier(ctx, principalID, nb)
	if err != nil {
		return Access{}, err
	}

	if nominal == domain.TierNone {
		return Access{Tier: domain.TierNone, Visible: false, Notebook: nb}, nil
	}

	// 3. Гейт по допуску
	clearance, err := r.clearances.Get(ctx, principalID, nb.OrgID)
	if err != nil {
		return Access{}, fmt.Errorf("resolve clearance: %w", err)
	}
	if clearance == nil || !clearance.MaxLabel.Dominates(nb.Label) {
		// ACL-грант есть, но метка не доминируется: полный отказ + concealment
		r.auditor.LogAccessDenied(principalID, notebookID, "clearance does not dominate notebook label")
		return Access{Tier: domain.TierNone, Visible: false, Notebook: nb}, nil
	}

	return Access{Tier: nominal, Visible: true, Notebook: nb}, nil
}

// Require — хелпер для хендлеров: резолвит и проверяет достаточность tier.
// Невидимый ноутбук дает ErrNotFound (неотличимо от отсутствия),
// видимый с недостаточным tier — ErrForbidden.
func (r *Resolver) Require(ctx context.Context, principalID, notebookID string, required domain.AccessTier) (*domain.Notebook, error) {
	acc, err := r.Resolve(ctx, principalID, notebookID)
	if err != nil {
		return nil, err
	}
	if !acc.Visible {
		return nil, domain.ErrNotFound
	}
	if !acc.Tier.AtLeast(required) {
		r.auditor.LogAccessDenied(principalID, notebookID,
			fmt.Sprintf("tier %s below required %s", acc.Tier, required))
		return nil, domain.ErrForbidden
	}
	return acc.Notebook, nil
}

func (r *Resolver) nominalTier(ctx context.Context, principalID string, nb *domain.Notebook) (domain.AccessTier, error) {
	acl, err := r.repo.ListACL(ctx, nb.ID)
	if err != nil {
		return domain.TierNone, fmt.Errorf("resolve acl: %w", err)
	}

	nominal := domain.TierNone

	// 1. Прямые гранты
	for _, e := range acl {
		if e.PrincipalID == principalID && e.Tier > nominal {
			nominal = e.Tier
		}
	}

	// 2. Гранты через группы: владелец ноутбука и его потомки
	memberships, err := r.repo.ListMemberships(ctx, principalID)
	if err != nil {
		return domain.TierNone, fmt.Errorf("resolve memberships: %w", err)
	}
	if len(memberships) > 0 {
		eligible := r.groups.Descendants(ctx, nb.OrgID, nb.OwnerGroupID)
		member := make(map[string]struct{}, len(memberships))
		for _, m := range memberships {
			member[m.GroupID] = struct{}{}
		}
		for _, e := range acl {
			if e.GroupID == "" || e.Tier <= nominal {
				continue
			}
			if _, isMember := member[e.GroupID]; !isMember {
				continue
			}
			if _, ok := eligible[e.GroupID]; ok {
				nominal = e.Tier
			}
		}
	}

	return nominal, nil
}
