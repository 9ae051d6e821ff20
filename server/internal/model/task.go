package model

// ReindexTask asks the repair worker to re-run the vector upsert for a document.
type ReindexTask struct {
	DocumentID string `json:"document_id"`
	Attempt    int    `json:"attempt"`
	EnqueuedAt int64  `json:"enqueued_at"`
}
