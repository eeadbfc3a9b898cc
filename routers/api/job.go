package api

import (
	"errors"
	"net/http"
	"strconv"

	"DubbingPlatform-server/models"
	"DubbingPlatform-server/service"

	"github.com/gin-gonic/gin"
)

// POST /v1/api/jobs
func (h *Handler) SubmitJob(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	var req service.SubmitRequest
	if !bindJSON(c, &req) {
		return
	}
	job, err := h.Jobs.Submit(c.Request.Context(), ownerID, req)
	if err != nil {
		if job != nil && errors.Is(err, models.ErrEthics) {
			// The job exists but waits for consent.
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "job": job})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// GET /v1/api/jobs
func (h *Handler) ListJobs(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	jobs, err := h.Jobs.List(c.Request.Context(), ownerID, models.JobFilter{
		ProjectID: c.Query("project_id"),
		Status:    models.JobStatus(c.Query("status")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// GET /v1/api/jobs/stats
func (h *Handler) JobStats(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	stats, err := h.Jobs.Stats(c.Request.Context(), ownerID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GET /v1/api/jobs/:job_id
func (h *Handler) GetJob(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	job, err := h.Jobs.Get(c.Request.Context(), ownerID, c.Param("job_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// GET /v1/api/jobs/:job_id/progress
func (h *Handler) GetJobProgress(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	view, err := h.Jobs.Progress(c.Request.Context(), ownerID, c.Param("job_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) jobAction(c *gin.Context, action func(c *gin.Context, ownerID, id string) (*models.Job, error)) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	job, err := action(c, ownerID, c.Param("job_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// POST /v1/api/jobs/:job_id/start
func (h *Handler) StartJob(c *gin.Context) {
	h.jobAction(c, func(c *gin.Context, ownerID, id string) (*models.Job, error) {
		return h.Jobs.Start(c.Request.Context(), ownerID, id)
	})
}

// POST /v1/api/jobs/:job_id/cancel
func (h *Handler) CancelJob(c *gin.Context) {
	h.jobAction(c, func(c *gin.Context, ownerID, id string) (*models.Job, error) {
		return h.Jobs.Cancel(c.Request.Context(), ownerID, id)
	})
}

// POST /v1/api/jobs/:job_id/retry
func (h *Handler) RetryJob(c *gin.Context) {
	h.jobAction(c, func(c *gin.Context, ownerID, id string) (*models.Job, error) {
		return h.Jobs.Retry(c.Request.Context(), ownerID, id)
	})
}
