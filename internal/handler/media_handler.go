package handler

import (
	"net/http"
	"strings"

	"talkroom_server/internal/storage"

	"github.com/gin-gonic/gin"
)

// MediaHandler serves stored bodies behind signed URLs.
type MediaHandler struct {
	store *storage.Store
}

// NewMediaHandler creates the media download handler.
func NewMediaHandler(store *storage.Store) *MediaHandler {
	return &MediaHandler{store: store}
}

// Download handles GET /media/:bucket/*filepath. The URL must carry a
// live signature; auth is the signature itself.
func (h *MediaHandler) Download(c *gin.Context) {
	bucket := c.Param("bucket")
	fpath := strings.TrimPrefix(c.Param("filepath"), "/")
	if err := h.store.VerifyURL(bucket, fpath, c.Query("expires"), c.Query("signature")); err != nil {
		HandleError(c, err)
		return
	}
	body, err := h.store.Read(bucket, fpath)
	if err != nil {
		HandleError(c, err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(body), body)
}
