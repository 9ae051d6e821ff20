package service

import "errors"

// Error taxonomy shared by the HTTP handlers and the realtime gateway.
// Callers match with errors.Is; wrapped text never reaches a client.
var (
	ErrInvalidUpload   = errors.New("invalid upload")
	ErrEmptyDocument   = errors.New("document has no extractable text")
	ErrEmbedding       = errors.New("embedding failed")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrAuthentication  = errors.New("authentication failed")
	ErrDeletion        = errors.New("deletion failed")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("already exists")
	ErrInvalidInput    = errors.New("invalid input")
)
