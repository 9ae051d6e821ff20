package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"DocChat/server/internal/dto"
	"DocChat/server/internal/middleware"
	"DocChat/server/internal/service"

	"github.com/gin-gonic/gin"
)

// multipartOverhead is the slack for boundaries and part headers around the file.
const multipartOverhead = 64 << 10

type FileHandler struct {
	svc      *service.FileService
	maxBytes int64
}

func NewFileHandler(svc *service.FileService, maxBytes int64) *FileHandler {
	return &FileHandler{svc: svc, maxBytes: maxBytes}
}

// Upload POST /files/upload (multipart field "file")
func (h *FileHandler) Upload(c *gin.Context) {
	// refuse oversized bodies while reading, before gin spools them to disk
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("File exceeds the %d byte limit", h.maxBytes)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": "No file uploaded"})
		return
	}
	if fh.Size > h.maxBytes {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("File exceeds the %d byte limit", h.maxBytes)})
		return
	}

	src, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer src.Close()
	raw, err := io.ReadAll(io.LimitReader(src, h.maxBytes+1))
	if err != nil {
		writeError(c, err)
		return
	}

	doc, err := h.svc.Ingest(c.Request.Context(), c.GetString(middleware.UserIDKey), fh.Filename, fh.Header.Get("Content-Type"), raw)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.UploadResp{
		FileID:    doc.ID,
		FileName:  doc.FileName,
		PageCount: doc.PageCount,
		Processed: doc.Processed,
	})
}

// List GET /files
func (h *FileHandler) List(c *gin.Context) {
	docs, err := h.svc.List(c.Request.Context(), c.GetString(middleware.UserIDKey))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]dto.FileListItem, 0, len(docs))
	for _, d := range docs {
		out = append(out, dto.FileListItem{
			ID:         d.ID,
			FileName:   d.FileName,
			FileSize:   d.FileSize,
			UploadedAt: d.UploadedAt,
			Processed:  d.Processed,
		})
	}
	c.JSON(http.StatusOK, out)
}

// Get GET /files/:fileId
func (h *FileHandler) Get(c *gin.Context) {
	doc, err := h.svc.Get(c.Request.Context(), c.Param("fileId"), c.GetString(middleware.UserIDKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Delete DELETE /files/:fileId
func (h *FileHandler) Delete(c *gin.Context) {
	doc, err := h.svc.Delete(c.Request.Context(), c.Param("fileId"), c.GetString(middleware.UserIDKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.DeleteResp{
		Message:  "File deleted successfully",
		FileName: doc.FileName,
		FileID:   doc.ID,
	})
}

// Reindex POST /files/:fileId/reindex
func (h *FileHandler) Reindex(c *gin.Context) {
	doc, err := h.svc.Reindex(c.Request.Context(), c.Param("fileId"), c.GetString(middleware.UserIDKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ReindexResp{
		Message:   "File reindexed",
		FileID:    doc.ID,
		PageCount: doc.PageCount,
	})
}

// Raw GET /files/:fileId/raw streams the stored PDF.
func (h *FileHandler) Raw(c *gin.Context) {
	doc, obj, size, err := h.svc.OpenRaw(c.Request.Context(), c.Param("fileId"), c.GetString(middleware.UserIDKey))
	if err != nil {
		writeError(c, err)
		return
	}
	defer obj.Close()

	c.DataFromReader(http.StatusOK, size, "application/pdf", obj, map[string]string{
		"Content-Disposition": mime.FormatMediaType("inline", map[string]string{"filename": doc.FileName}),
	})
}
