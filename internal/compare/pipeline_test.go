package compare

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"go.uber.org/zap"
)

type fakeCompareRepo struct {
	notebooks map[string]*domain.Notebook
	subs      map[string]*domain.Subscription
	jobs      map[string]*domain.JobEnvelope
	enqueued  []domain.JobEnvelope
	results   []domain.ComparisonResult
	statuses  map[string]domain.JobStatus
}

func newFakeCompareRepo() *fakeCompareRepo {
	return &fakeCompareRepo{
		notebooks: make(map[string]*domain.Notebook),
		subs:      make(map[string]*domain.Subscription),
		jobs:      make(map[string]*domain.JobEnvelope),
		statuses:  make(map[string]domain.JobStatus),
	}
}

func (f *fakeCompareRepo) GetNotebook(_ context.Context, id string) (*domain.Notebook, error) {
	return f.notebooks[id], nil
}

func (f *fakeCompareRepo) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	return f.subs[id], nil
}

func (f *fakeCompareRepo) EnqueueJobs(_ context.Context, jobs []domain.JobEnvelope) error {
	f.enqueued = append(f.enqueued, jobs...)
	for i := range jobs {
		j := jobs[i]
		f.jobs[j.ID] = &j
	}
	return nil
}

func (f *fakeCompareRepo) GetJob(_ context.Context, id string) (*domain.JobEnvelope, error) {
	return f.jobs[id], nil
}

func (f *fakeCompareRepo) UpdateJobStatus(_ context.Context, id string, status domain.JobStatus) error {
	f.statuses[id] = status
	if j, ok := f.jobs[id]; ok {
		j.Status = status
	}
	return nil
}

func (f *fakeCompareRepo) InsertComparisonResult(_ context.Context, r domain.ComparisonResult) error {
	f.results = append(f.results, r)
	return nil
}

func (f *fakeCompareRepo) ListComparisonResults(_ context.Context, entryID string) ([]domain.ComparisonResult, error) {
	var out []domain.ComparisonResult
	for _, r := range f.results {
		if r.EntryID == entryID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeCompareRepo) AggregateFriction(_ context.Context, entryID string) (float64, error) {
	var sum float64
	for _, r := range f.results {
		if r.EntryID == entryID {
			sum += r.EffectiveScore
		}
	}
	return sum, nil
}

func (f *fakeCompareRepo) ListPendingJobs(_ context.Context, kind domain.JobKind, limit int) ([]domain.JobEnvelope, error) {
	var out []domain.JobEnvelope
	for _, j := range f.enqueued {
		if j.Kind == kind && f.statuses[j.ID] == "" && len(out) < limit {
			out = append(out, j)
		}
	}
	return out, nil
}

type fakeIndex struct {
	native   []Scored
	mirrored []Scored
	err      error
}

func (f *fakeIndex) NativeNeighbors(_ context.Context, _, _ string, _ int) ([]Scored, error) {
	return f.native, f.err
}

func (f *fakeIndex) MirroredNeighbors(_ context.Context, _, _ string, _ int) ([]Scored, error) {
	return f.mirrored, f.err
}

func testPipeline(repo *fakeCompareRepo, idx *fakeIndex) *Pipeline {
	repo.notebooks["nb1"] = &domain.Notebook{
		ID: "nb1", OrgID: "org1", Label: domain.NewLabel(domain.LevelSecret, "CRYPTO"),
	}
	return NewPipeline(repo, idx, zap.NewNop())
}

func comparePayload(t *testing.T, job domain.JobEnvelope) *domain.ComparePayload {
	t.Helper()
	decoded, err := job.DecodePayload()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return decoded.(*domain.ComparePayload)
}

func TestDispatchMergesSpacesByScore(t *testing.T) {
	t.Parallel()

	repo := newFakeCompareRepo()
	repo.subs["sub1"] = &domain.Subscription{ID: "sub1", DiscountFactor: 0.3}
	idx := &fakeIndex{
		native:   []Scored{{ID: "n1", Score: 0.9}, {ID: "n2", Score: 0.4}},
		mirrored: []Scored{{ID: "m1", SubscriptionID: "sub1", Score: 0.7}},
	}
	p := testPipeline(repo, idx)

	n, err := p.Dispatch(context.Background(), "nb1", "e1", 2)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n != 2 {
		t.Fatalf("jobs: got %d, want 2 (top-k across both spaces)", n)
	}

	// Лучшие двое: n1 (0.9) и m1 (0.7); n2 отсечен top-k.
	first := comparePayload(t, repo.enqueued[0])
	second := comparePayload(t, repo.enqueued[1])
	if first.NeighborID != "n1" || second.NeighborID != "m1" {
		t.Errorf("order: got %s, %s", first.NeighborID, second.NeighborID)
	}

	// Нативная пара: без дисконта и границы.
	if first.CrossBoundary || first.DiscountFactor != 1.0 {
		t.Errorf("native pair: %+v", first)
	}
	// Кросс-граничная: дисконт скопирован из подписки в момент постановки.
	if !second.CrossBoundary || second.DiscountFactor != 0.3 || second.SubscriptionID != "sub1" {
		t.Errorf("cross-boundary pair: %+v", second)
	}
	// Исполнителю в обоих случаях нужна метка ПОДПИСЧИКА.
	want := domain.NewLabel(domain.LevelSecret, "CRYPTO")
	if !first.RequiredLabel.Equal(want) || !second.RequiredLabel.Equal(want) {
		t.Error("required label must be the subscriber notebook label")
	}
}

func TestDispatchSkipsVanishedSubscription(t *testing.T) {
	t.Parallel()

	// Подписку удалили между поиском соседей и постановкой джоб.
	repo := newFakeCompareRepo()
	idx := &fakeIndex{mirrored: []Scored{{ID: "m1", SubscriptionID: "ghost", Score: 0.9}}}
	p := testPipeline(repo, idx)

	n, err := p.Dispatch(context.Background(), "nb1", "e1", 5)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n != 0 {
		t.Errorf("vanished subscription pair must be dropped, got %d jobs", n)
	}
}

func TestDispatchUnknownNotebook(t *testing.T) {
	t.Parallel()

	p := testPipeline(newFakeCompareRepo(), &fakeIndex{})
	if _, err := p.Dispatch(context.Background(), "ghost", "e1", 5); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestRecordResultAppliesDiscount(t *testing.T) {
	t.Parallel()

	repo := newFakeCompareRepo()
	repo.subs["sub1"] = &domain.Subscription{ID: "sub1", DiscountFactor: 0.3}
	idx := &fakeIndex{mirrored: []Scored{{ID: "m1", SubscriptionID: "sub1", Score: 0.7}}}
	p := testPipeline(repo, idx)

	if _, err := p.Dispatch(context.Background(), "nb1", "e1", 1); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	jobID := repo.enqueued[0].ID

	res, err := p.RecordResult(context.Background(), jobID, 0.8)
	if err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	// raw сохраняется дословно, effective = raw * discount.
	if res.RawScore != 0.8 {
		t.Errorf("raw: got %v, want 0.8", res.RawScore)
	}
	if math.Abs(res.EffectiveScore-0.24) > 1e-9 {
		t.Errorf("effective: got %v, want 0.24", res.EffectiveScore)
	}
	if !res.CrossBoundary || res.SubscriptionID != "sub1" {
		t.Errorf("provenance lost: %+v", res)
	}
	if repo.statuses[jobID] != domain.JobDone {
		t.Errorf("job status: got %v, want DONE", repo.statuses[jobID])
	}
}

func TestRecordResultSurvivesSubscriptionDeletion(t *testing.T) {
	t.Parallel()

	// Дисконт живет в payload джобы: удаление подписки после постановки
	// на результат не влияет.
	repo := newFakeCompareRepo()
	repo.subs["sub1"] = &domain.Subscription{ID: "sub1", DiscountFactor: 0.5}
	idx := &fakeIndex{mirrored: []Scored{{ID: "m1", SubscriptionID: "sub1", Score: 0.7}}}
	p := testPipeline(repo, idx)

	if _, err := p.Dispatch(context.Background(), "nb1", "e1", 1); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	delete(repo.subs, "sub1")

	res, err := p.RecordResult(context.Background(), repo.enqueued[0].ID, 1.0)
	if err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	if res.EffectiveScore != 0.5 {
		t.Errorf("effective: got %v, want 0.5", res.EffectiveScore)
	}
}

func TestRecordResultRejectsDoubleCompletion(t *testing.T) {
	t.Parallel()

	repo := newFakeCompareRepo()
	idx := &fakeIndex{native: []Scored{{ID: "n1", Score: 0.9}}}
	p := testPipeline(repo, idx)

	if _, err := p.Dispatch(context.Background(), "nb1", "e1", 1); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	jobID := repo.enqueued[0].ID

	if _, err := p.RecordResult(context.Background(), jobID, 0.9); err != nil {
		t.Fatalf("first RecordResult: %v", err)
	}
	if _, err := p.RecordResult(context.Background(), jobID, 0.1); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second completion: got %v, want ErrConflict", err)
	}
	if len(repo.results) != 1 {
		t.Errorf("results: got %d, want 1", len(repo.results))
	}
}

func TestRecordResultUnknownJob(t *testing.T) {
	t.Parallel()

	p := testPipeline(newFakeCompareRepo(), &fakeIndex{})
	if _, err := p.RecordResult(context.Background(), "ghost", 0.5); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestResultsAggregatesFriction(t *testing.T) {
	t.Parallel()

	repo := newFakeCompareRepo()
	repo.subs["sub1"] = &domain.Subscription{ID: "sub1", DiscountFactor: 0.5}
	idx := &fakeIndex{
		native:   []Scored{{ID: "n1", Score: 0.9}},
		mirrored: []Scored{{ID: "m1", SubscriptionID: "sub1", Score: 0.7}},
	}
	p := testPipeline(repo, idx)

	if _, err := p.Dispatch(context.Background(), "nb1", "e1", 2); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	for _, job := range repo.enqueued {
		if _, err := p.RecordResult(context.Background(), job.ID, 0.8); err != nil {
			t.Fatalf("RecordResult: %v", err)
		}
	}

	report, err := p.Results(context.Background(), "e1")
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("results: got %d, want 2", len(report.Results))
	}
	// Трение = сумма effective: нативная пара 0.8 + зеркальная 0.8*0.5.
	if math.Abs(report.Friction-1.2) > 1e-9 {
		t.Errorf("friction: got %v, want 1.2", report.Friction)
	}
}

func TestPendingJobsRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	p := testPipeline(newFakeCompareRepo(), &fakeIndex{})
	if _, err := p.PendingJobs(context.Background(), domain.JobKind("SHRED"), 10); !errors.Is(err, domain.ErrPolicyViolation) {
		t.Errorf("got %v, want ErrPolicyViolation", err)
	}
}

func TestPendingJobsExcludesCompleted(t *testing.T) {
	t.Parallel()

	repo := newFakeCompareRepo()
	idx := &fakeIndex{native: []Scored{{ID: "n1", Score: 0.9}, {ID: "n2", Score: 0.8}}}
	p := testPipeline(repo, idx)

	if _, err := p.Dispatch(context.Background(), "nb1", "e1", 2); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := p.RecordResult(context.Background(), repo.enqueued[0].ID, 0.9); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	pending, err := p.PendingJobs(context.Background(), domain.JobCompare, 10)
	if err != nil {
		t.Fatalf("PendingJobs: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != repo.enqueued[1].ID {
		t.Errorf("pending: got %d jobs, want the single uncompleted one", len(pending))
	}
}
