package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"go.uber.org/zap"
)

type fakeRepo struct {
	notebooks   map[string]*domain.Notebook
	acl         map[string][]domain.ACLEntry
	memberships map[string][]domain.Membership
}

func (f *fakeRepo) GetNotebook(_ context.Context, id string) (*domain.Notebook, error) {
	return f.notebooks[id], nil
}

func (f *fakeRepo) ListACL(_ context.Context, notebookID string) ([]domain.ACLEntry, error) {
	return f.acl[notebookID], nil
}

func (f *fakeRepo) ListMemberships(_ context.Context, principalID string) ([]domain.Membership, error) {
	return f.memberships[principalID], nil
}

type fakeGroups struct {
	descendants map[string]map[string]struct{} // owner group -> его поддерево
}

func (f *fakeGroups) Descendants(_ context.Context, _, groupID string) map[string]struct{} {
	if d, ok := f.descendants[groupID]; ok {
		return d
	}
	return map[string]struct{}{groupID: {}}
}

type fakeAuditor struct{ denied []string }

func (f *fakeAuditor) LogAccessDenied(principalID, notebookID, reason string) {
	f.denied = append(f.denied, principalID+"/"+notebookID)
}

func newTestResolver(repo *fakeRepo, groups *fakeGroups, store *fakeClearanceStore, aud *fakeAuditor) *Resolver {
	cache := NewClearanceCache(store, time.Minute, nil, nil, nil, zap.NewNop())
	return NewResolver(repo, cache, groups, aud, zap.NewNop())
}

func clearanceFor(principal, org string, label domain.SecurityLabel) map[domain.ClearanceKey]*domain.Clearance {
	key := domain.ClearanceKey{PrincipalID: principal, OrgID: org}
	return map[domain.ClearanceKey]*domain.Clearance{
		key: {PrincipalID: principal, OrgID: org, MaxLabel: label},
	}
}

func secretNotebook() *domain.Notebook {
	return &domain.Notebook{
		ID:           "nb1",
		OrgID:        "org1",
		OwnerGroupID: "g-owner",
		Name:         "ops",
		Label:        domain.NewLabel(domain.LevelSecret, "CRYPTO"),
	}
}

func TestResolveDirectGrant(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{
		notebooks: map[string]*domain.Notebook{"nb1": secretNotebook()},
		acl: map[string][]domain.ACLEntry{"nb1": {
			{NotebookID: "nb1", PrincipalID: "p1", Tier: domain.TierReadWrite},
		}},
	}
	store := &fakeClearanceStore{clearances: clearanceFor("p1", "org1",
		domain.NewLabel(domain.LevelTopSecret, "CRYPTO"))}

	r := newTestResolver(repo, &fakeGroups{}, store, &fakeAuditor{})
	acc, err := r.Resolve(context.Background(), "p1", "nb1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !acc.Visible || acc.Tier != domain.TierReadWrite {
		t.Errorf("got tier=%v visible=%v, want read_write/visible", acc.Tier, acc.Visible)
	}
}

func TestResolveConcealsWithoutClearance(t *testing.T) {
	t.Parallel()

	// ACL-грант есть, но допуск не доминирует над меткой: полный отказ,
	// ноутбук «не существует» + событие в аудите.
	repo := &fakeRepo{
		notebooks: map[string]*domain.Notebook{"nb1": secretNotebook()},
		acl: map[string][]domain.ACLEntry{"nb1": {
			{NotebookID: "nb1", PrincipalID: "p1", Tier: domain.TierAdmin},
		}},
	}
	store := &fakeClearanceStore{clearances: clearanceFor("p1", "org1",
		domain.NewLabel(domain.LevelSecret))} // Нет компартмента CRYPTO
	aud := &fakeAuditor{}

	r := newTestResolver(repo, &fakeGroups{}, store, aud)
	acc, err := r.Resolve(context.Background(), "p1", "nb1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if acc.Visible || acc.Tier != domain.TierNone {
		t.Errorf("got tier=%v visible=%v, want none/hidden", acc.Tier, acc.Visible)
	}
	if len(aud.denied) != 1 {
		t.Errorf("denial must be audited, got %d events", len(aud.denied))
	}
}

func TestRequireHiddenAndMissingAreIndistinguishable(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{
		notebooks: map[string]*domain.Notebook{"nb1": secretNotebook()},
		acl:       map[string][]domain.ACLEntry{},
	}
	store := &fakeClearanceStore{clearances: map[domain.ClearanceKey]*domain.Clearance{}}
	r := newTestResolver(repo, &fakeGroups{}, store, &fakeAuditor{})

	// nb1 существует, но невидим (нет ACL); nb-missing не существует вовсе.
	errHidden := func() error {
		_, err := r.Require(context.Background(), "p1", "nb1", domain.TierRead)
		return err
	}()
	errMissing := func() error {
		_, err := r.Require(context.Background(), "p1", "nb-missing", domain.TierRead)
		return err
	}()

	if !errors.Is(errHidden, domain.ErrNotFound) || !errors.Is(errMissing, domain.ErrNotFound) {
		t.Fatalf("both must be ErrNotFound: hidden=%v missing=%v", errHidden, errMissing)
	}
	if errHidden.Error() != errMissing.Error() {
		t.Errorf("hidden and missing must be indistinguishable: %q vs %q",
			errHidden.Error(), errMissing.Error())
	}
}

func TestRequireInsufficientTierIsForbidden(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{
		notebooks: map[string]*domain.Notebook{"nb1": secretNotebook()},
		acl: map[string][]domain.ACLEntry{"nb1": {
			{NotebookID: "nb1", PrincipalID: "p1", Tier: domain.TierRead},
		}},
	}
	store := &fakeClearanceStore{clearances: clearanceFor("p1", "org1",
		domain.NewLabel(domain.LevelTopSecret, "CRYPTO"))}
	aud := &fakeAuditor{}
	r := newTestResolver(repo, &fakeGroups{}, store, aud)

	if _, err := r.Require(context.Background(), "p1", "nb1", domain.TierAdmin); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("got %v, want ErrForbidden", err)
	}
	if len(aud.denied) != 1 {
		t.Errorf("tier denial must be audited, got %d events", len(aud.denied))
	}
}

func TestResolveGroupGrantInheritsDownOnly(t *testing.T) {
	t.Parallel()

	// Ноутбуком владеет g-owner; g-child — ее потомок, g-parent — предок.
	// Грант группе g-child действует (наследование вниз), g-parent — нет.
	nb := secretNotebook()
	repo := &fakeRepo{
		notebooks: map[string]*domain.Notebook{"nb1": nb},
		acl: map[string][]domain.ACLEntry{"nb1": {
			{NotebookID: "nb1", GroupID: "g-child", Tier: domain.TierRead},
			{NotebookID: "nb1", GroupID: "g-parent", Tier: domain.TierAdmin},
		}},
		memberships: map[string][]domain.Membership{
			"p-child":  {{PrincipalID: "p-child", GroupID: "g-child"}},
			"p-parent": {{PrincipalID: "p-parent", GroupID: "g-parent"}},
		},
	}
	groups := &fakeGroups{descendants: map[string]map[string]struct{}{
		"g-owner": {"g-owner": {}, "g-child": {}},
	}}
	label := domain.NewLabel(domain.LevelTopSecret, "CRYPTO")
	store := &fakeClearanceStore{clearances: map[domain.ClearanceKey]*domain.Clearance{
		{PrincipalID: "p-child", OrgID: "org1"}:  {PrincipalID: "p-child", OrgID: "org1", MaxLabel: label},
		{PrincipalID: "p-parent", OrgID: "org1"}: {PrincipalID: "p-parent", OrgID: "org1", MaxLabel: label},
	}}
	r := newTestResolver(repo, groups, store, &fakeAuditor{})

	acc, err := r.Resolve(context.Background(), "p-child", "nb1")
	if err != nil {
		t.Fatalf("Resolve child: %v", err)
	}
	if acc.Tier != domain.TierRead {
		t.Errorf("descendant group grant: got %v, want read", acc.Tier)
	}

	acc, err = r.Resolve(context.Background(), "p-parent", "nb1")
	if err != nil {
		t.Fatalf("Resolve parent: %v", err)
	}
	if acc.Tier != domain.TierNone || acc.Visible {
		t.Errorf("ancestor group grant must not apply: got tier=%v visible=%v", acc.Tier, acc.Visible)
	}
}

func TestResolveTakesMaxOfGrants(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{
		notebooks: map[string]*domain.Notebook{"nb1": secretNotebook()},
		acl: map[string][]domain.ACLEntry{"nb1": {
			{NotebookID: "nb1", PrincipalID: "p1", Tier: domain.TierExistence},
			{NotebookID: "nb1", GroupID: "g-owner", Tier: domain.TierReadWrite},
		}},
		memberships: map[string][]domain.Membership{
			"p1": {{PrincipalID: "p1", GroupID: "g-owner"}},
		},
	}
	store := &fakeClearanceStore{clearances: clearanceFor("p1", "org1",
		domain.NewLabel(domain.LevelTopSecret, "CRYPTO"))}
	r := newTestResolver(repo, &fakeGroups{}, store, &fakeAuditor{})

	acc, err := r.Resolve(context.Background(), "p1", "nb1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if acc.Tier != domain.TierReadWrite {
		t.Errorf("got %v, want max grant read_write", acc.Tier)
	}
}
