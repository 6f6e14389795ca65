package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/nidhogg/vitalcore/internal/vectorstore"
)

// Hit is one indexed point.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Index is the vector index behind recall.
type Index interface {
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	All(ctx context.Context) ([]Hit, error)
	Delete(ctx context.Context, ids []string) error
}

// QdrantIndex stores episodes in one Qdrant collection.
type QdrantIndex struct {
	client     *vectorstore.Client
	collection string
}

// NewQdrantIndex ensures the collection exists with the given dimension.
func NewQdrantIndex(ctx context.Context, client *vectorstore.Client, collection string, dim int) (*QdrantIndex, error) {
	if dim <= 0 {
		dim = 1024
	}
	if err := client.EnsureCollection(ctx, collection, uint64(dim)); err != nil {
		return nil, fmt.Errorf("init collection %s: %w", collection, err)
	}
	return &QdrantIndex{client: client, collection: collection}, nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	return q.client.Upsert(ctx, q.collection, id, vector, payload)
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	res, err := q.client.Search(ctx, q.collection, vector, uint64(k))
	if err != nil {
		return nil, err
	}
	return toHits(res), nil
}

func (q *QdrantIndex) All(ctx context.Context) ([]Hit, error) {
	res, err := q.client.Scroll(ctx, q.collection, 0)
	if err != nil {
		return nil, err
	}
	return toHits(res), nil
}

func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	return q.client.Delete(ctx, q.collection, ids)
}

func toHits(res []*vectorstore.SearchResult) []Hit {
	out := make([]Hit, len(res))
	for i, r := range res {
		out[i] = Hit{ID: r.ID, Score: r.Score, Payload: r.Payload}
	}
	return out
}

// MemIndex is an in-process cosine index used when Qdrant is unavailable.
type MemIndex struct {
	mu     sync.RWMutex
	points map[string]memPoint
}

type memPoint struct {
	vector  []float32
	payload map[string]string
}

// NewMemIndex creates an empty in-process index.
func NewMemIndex() *MemIndex {
	return &MemIndex{points: make(map[string]memPoint)}
}

func (m *MemIndex) Upsert(_ context.Context, id string, vector []float32, payload map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[id] = memPoint{vector: vector, payload: payload}
	return nil
}

func (m *MemIndex) Search(_ context.Context, vector []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hits := make([]Hit, 0, len(m.points))
	for id, p := range m.points {
		hits = append(hits, Hit{ID: id, Score: cosine(vector, p.vector), Payload: p.payload})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Score > hits[j].Score
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemIndex) All(_ context.Context) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Hit, 0, len(m.points))
	for id, p := range m.points {
		out = append(out, Hit{ID: id, Payload: p.payload})
	}
	return out, nil
}

func (m *MemIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
