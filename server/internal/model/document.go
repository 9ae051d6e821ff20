package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	DocumentPending   = "pending"
	DocumentProcessed = "processed"
	DocumentFailed    = "failed"
)

// Document is an uploaded PDF together with its per-page text.
// Processed == true implies PageCount == len(Pages) == number of vectors in the index.
type Document struct {
	BaseModel
	UserID   string `gorm:"index;size:36;not null" json:"userId"`
	FileName string `gorm:"size:255;not null" json:"fileName"`
	FileSize int64  `json:"fileSize"`

	// object key in blob storage: documents/{userId}/{documentId}.pdf
	BlobKey    string    `gorm:"not null" json:"blobKey"`
	UploadedAt time.Time `gorm:"index" json:"uploadedAt"`

	// pending -> processed / failed
	Status    string `gorm:"size:20;default:'pending';index" json:"status"`
	Processed bool   `gorm:"default:false" json:"processed"`
	ErrorMsg  string `json:"errorMsg,omitempty"`

	Pages     datatypes.JSONSlice[string] `json:"pages"`
	PageCount int                         `json:"pageCount"`

	// content type, segmenter, page lengths
	Metadata datatypes.JSONMap `json:"metadata"`
}

// OwnedBy reports whether userID created the document.
func (d *Document) OwnedBy(userID string) bool {
	return d != nil && d.UserID == userID
}
