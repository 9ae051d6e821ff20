package model

import "fmt"

// VectorID is the deterministic key of a page vector. Re-upserting the same
// page overwrites the same point.
func VectorID(documentID string, pageIndex int) string {
	return fmt.Sprintf("%s_page_%d", documentID, pageIndex)
}

// VectorRecord is one page embedding plus the metadata stored next to it.
type VectorRecord struct {
	ID         string
	Values     []float32
	DocumentID string
	PageIndex  int
	Text       string
}

// VectorMatch is a query hit, highest Score first.
type VectorMatch struct {
	ID         string
	DocumentID string
	PageIndex  int
	Text       string
	Score      float32
}
