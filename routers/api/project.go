package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"DubbingPlatform-server/service"
	"DubbingPlatform-server/storage"

	"github.com/gin-gonic/gin"
)

var videoExts = map[string]bool{".mp4": true, ".mov": true, ".mkv": true, ".webm": true, ".avi": true}

// POST /v1/api/projects
func (h *Handler) CreateProject(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	var req service.ProjectRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.Jobs.CreateProject(c.Request.Context(), ownerID, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": p})
}

// GET /v1/api/projects/:project_id
func (h *Handler) GetProject(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	p, err := h.Jobs.GetProject(c.Request.Context(), ownerID, c.Param("project_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": p})
}

// DELETE /v1/api/projects/:project_id
func (h *Handler) DeleteProject(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	if err := h.Jobs.DeleteProject(c.Request.Context(), ownerID, c.Param("project_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /v1/api/uploads
//
// Accepts a multipart "file" field and returns the storage ref to pass as
// videoRef on submission.
func (h *Handler) UploadVideo(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !videoExts[ext] {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unsupported video format " + ext, "field": "file"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()

	ref := storage.UploadKey(service.UploadPrefix(ownerID), fh.Filename)
	if err := h.Store.Put(c.Request.Context(), ref, f, fh.Size); err != nil {
		h.fail(c, err)
		return
	}
	url, err := h.Store.URL(c.Request.Context(), ref)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"videoRef": ref, "url": url, "size": fh.Size})
}
