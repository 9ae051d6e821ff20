package dto

import "time"

type UploadResp struct {
	FileID    string `json:"fileId"`
	FileName  string `json:"fileName"`
	PageCount int    `json:"pageCount"`
	Processed bool   `json:"processed"` // false while the repair worker still owes the vectors
}

// FileListItem is the list view; page text is never included.
type FileListItem struct {
	ID         string    `json:"_id"`
	FileName   string    `json:"fileName"`
	FileSize   int64     `json:"fileSize"`
	UploadedAt time.Time `json:"uploadedAt"`
	Processed  bool      `json:"processed"`
}

type DeleteResp struct {
	Message  string `json:"message"`
	FileName string `json:"fileName"`
	FileID   string `json:"fileId"`
}

type ReindexResp struct {
	Message   string `json:"message"`
	FileID    string `json:"fileId"`
	PageCount int    `json:"pageCount"`
}
