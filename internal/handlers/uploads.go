package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Winger29/FSDP-Assignment2/internal/uploads"
)

// multipartOverhead leaves room for the form boundary and part headers
const multipartOverhead = 1 << 20

// CreateUpload stores the multipart "file" field
func (h *Handler) CreateUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Uploads.MaxBytes()+multipartOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, uploads.ErrTooLarge)
			return
		}
		badRequest(c, "multipart field \"file\" is required")
		return
	}

	file, err := header.Open()
	if err != nil {
		fail(c, err)
		return
	}
	defer file.Close()

	upload, err := h.Uploads.Create(
		c.Request.Context(),
		currentUser(c),
		header.Filename,
		header.Header.Get("Content-Type"),
		header.Size,
		file,
	)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, upload)
}

func (h *Handler) ListUploads(c *gin.Context) {
	list, err := h.Uploads.List(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, list)
}

// GetUpload returns upload metadata
func (h *Handler) GetUpload(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	upload, err := h.Uploads.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, upload)
}

// DownloadUpload streams the stored file as an attachment
func (h *Handler) DownloadUpload(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	upload, rc, err := h.Uploads.Open(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, upload.Size, upload.ContentType, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", upload.FileName),
	})
}

func (h *Handler) DeleteUpload(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.Uploads.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		fail(c, err)
		return
	}
	respondMessage(c, "Upload deleted")
}
