package model

import (
	"time"
)

// AskLog records every ask handled by the realtime gateway.
type AskLog struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	UserID       string `gorm:"index;size:36;not null" json:"userId"`
	DocumentID   string `gorm:"index;size:36" json:"documentId"`
	ConnectionID string `gorm:"index;size:36" json:"connectionId"`
	TraceID      string `gorm:"index" json:"traceId"`

	Question string `gorm:"type:text" json:"question"`
	Answer   string `gorm:"type:text" json:"answer"`

	ContextPages int   `json:"contextPages"` // matches that made it into the context block
	DurationMs   int64 `json:"durationMs"`

	Status   string `gorm:"size:20" json:"status"` // success, failed
	ErrorMsg string `json:"errorMsg,omitempty"`
}
