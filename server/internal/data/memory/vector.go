package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"DocChat/server/internal/model"
)

// VectorIndex is a brute-force cosine index.
type VectorIndex struct {
	mu      sync.RWMutex
	records map[string]model.VectorRecord
}

func NewVectorIndex() *VectorIndex {
	return &VectorIndex{records: make(map[string]model.VectorRecord)}
}

func (v *VectorIndex) Upsert(_ context.Context, records []model.VectorRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("vector record without id")
		}
		r.Values = append([]float32(nil), r.Values...)
		v.records[r.ID] = r
	}
	return nil
}

func (v *VectorIndex) Delete(_ context.Context, ids []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		delete(v.records, id)
	}
	return nil
}

func (v *VectorIndex) Query(_ context.Context, vector []float32, documentID string, topK int) ([]model.VectorMatch, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var matches []model.VectorMatch
	for _, r := range v.records {
		if r.DocumentID != documentID {
			continue
		}
		matches = append(matches, model.VectorMatch{
			ID:         r.ID,
			DocumentID: r.DocumentID,
			PageIndex:  r.PageIndex,
			Text:       r.Text,
			Score:      cosine(vector, r.Values),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].PageIndex < matches[j].PageIndex
		}
		return matches[i].Score > matches[j].Score
	})
	if topK >= 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count reports how many vectors belong to documentID.
func (v *VectorIndex) Count(documentID string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n := 0
	for _, r := range v.records {
		if r.DocumentID == documentID {
			n++
		}
	}
	return n
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
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
