package compare

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// EmbeddingStore — чтение векторов, посчитанных внешними агентами.
type EmbeddingStore interface {
	GetEntryEmbedding(ctx context.Context, entryID string) ([]float32, error)
	ListEntryEmbeddings(ctx context.Context, notebookID, excludeEntryID string) (map[string][]float32, error)
	ListMirroredEmbeddings(ctx context.Context, subscriberNotebookID string) (map[string][]float32, map[string]string, error)
}

// VectorIndex — NeighborIndex поверх векторов в Postgres. Косинусная близость
// считается в процессе: на масштабе в тысячи записей полная выборка дешевле
// отдельной векторной БД.
type VectorIndex struct {
	store EmbeddingStore
}

func NewVectorIndex(store EmbeddingStore) *VectorIndex {
	return &VectorIndex{store: store}
}

func (idx *VectorIndex) NativeNeighbors(ctx context.Context, notebookID, entryID string, k int) ([]Scored, error) {
	query, err := idx.store.GetEntryEmbedding(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if query == nil {
		return nil, fmt.Errorf("entry %s has no embedding yet", entryID)
	}
	candidates, err := idx.store.ListEntryEmbeddings(ctx, notebookID, entryID)
	if err != nil {
		return nil, err
	}
	return topK(query, candidates, nil, k), nil
}

func (idx *VectorIndex) MirroredNeighbors(ctx context.Context, notebookID, entryID string, k int) ([]Scored, error) {
	query, err := idx.store.GetEntryEmbedding(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if query == nil {
		return nil, fmt.Errorf("entry %s has no embedding yet", entryID)
	}
	// Tombstoned-строки отфильтрованы уже в выборке: пассивные кандидаты —
	// только живой зеркальный контент.
	candidates, owners, err := idx.store.ListMirroredEmbeddings(ctx, notebookID)
	if err != nil {
		return nil, err
	}
	return topK(query, candidates, owners, k), nil
}

func topK(query []float32, candidates map[string][]float32, owners map[string]string, k int) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for id, vec := range candidates {
		s := cosine(query, vec)
		if math.IsNaN(s) {
			continue
		}
		scored = append(scored, Scored{ID: id, SubscriptionID: owners[id], Score: s})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
