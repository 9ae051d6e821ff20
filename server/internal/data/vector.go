package data

import (
	"context"
	"fmt"

	"DocChat/server/internal/model"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	payloadDocumentID = "document_id"
	payloadPageIndex  = "page_index"
	payloadText       = "text"
	payloadVectorID   = "vector_id"
)

// Qdrant only takes UUID or integer ids, so the logical "{doc}_page_{i}" id is
// mapped to a name-based UUID. Same logical id, same point: upserts overwrite.
var pointNamespace = uuid.MustParse("6f1c1d1e-3c55-4a59-9a43-52a1f1e0c0de")

func pointID(vectorID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(vectorID)).String()
}

type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantIndex(client *qdrant.Client, collection string) *QdrantIndex {
	return &QdrantIndex{client: client, collection: collection}
}

func (q *QdrantIndex) Upsert(ctx context.Context, records []model.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(r.ID)),
			Vectors: qdrant.NewVectors(r.Values...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDocumentID: r.DocumentID,
				payloadPageIndex:  r.PageIndex,
				payloadText:       r.Text,
				payloadVectorID:   r.ID,
			}),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pids = append(pids, qdrant.NewIDUUID(pointID(id)))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pids...),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

// Query returns up to topK matches, restricted to documentID by a payload filter.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, documentID string, topK int) ([]model.VectorMatch, error) {
	limit := uint64(topK)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadDocumentID, documentID)},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	matches := make([]model.VectorMatch, 0, len(points))
	for _, p := range points {
		m := model.VectorMatch{Score: p.GetScore()}
		if v, ok := p.Payload[payloadVectorID]; ok {
			m.ID = v.GetStringValue()
		}
		if v, ok := p.Payload[payloadDocumentID]; ok {
			m.DocumentID = v.GetStringValue()
		}
		if v, ok := p.Payload[payloadPageIndex]; ok {
			m.PageIndex = int(v.GetIntegerValue())
		}
		if v, ok := p.Payload[payloadText]; ok {
			m.Text = v.GetStringValue()
		}
		// belt and braces on top of the server-side filter
		if m.DocumentID != documentID {
			continue
		}
		matches = append(matches, m)
	}
	return matches, nil
}
