package routers

import (
	"DubbingPlatform-server/routers/api"

	"github.com/gin-gonic/gin"
)

// InitRouter wires the HTTP surface. staticDir, when set, serves locally
// stored artifacts under /uploads.
func InitRouter(h *api.Handler, staticDir string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if staticDir != "" {
		r.Static("/uploads", staticDir)
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1/api")
	{
		v1.POST("/uploads", h.UploadVideo)

		v1.POST("/projects", h.CreateProject)
		v1.GET("/projects/:project_id", h.GetProject)
		v1.DELETE("/projects/:project_id", h.DeleteProject)

		v1.POST("/projects/:project_id/consents", h.CreateConsent)
		v1.GET("/projects/:project_id/consents", h.ListConsents)
		v1.POST("/projects/:project_id/consents/:consent_id/grant", h.GrantConsent)
		v1.POST("/projects/:project_id/consents/:consent_id/revoke", h.RevokeConsent)
		v1.POST("/projects/:project_id/consents/:consent_id/verify", h.VerifyConsent)
		v1.POST("/projects/:project_id/watermarks", h.ApplyWatermark)
		v1.GET("/projects/:project_id/watermarks", h.ListWatermarks)
		v1.POST("/projects/:project_id/provenance", h.RecordProvenance)
		v1.GET("/projects/:project_id/provenance", h.ListProvenance)
		v1.POST("/projects/:project_id/provenance/review", h.AddHumanReview)
		v1.GET("/projects/:project_id/compliance", h.ComplianceDashboard)
		v1.GET("/projects/:project_id/compliance/score", h.ComplianceScore)

		v1.POST("/jobs", h.SubmitJob)
		v1.GET("/jobs", h.ListJobs)
		v1.GET("/jobs/stats", h.JobStats)
		v1.GET("/jobs/:job_id", h.GetJob)
		v1.GET("/jobs/:job_id/progress", h.GetJobProgress)
		v1.POST("/jobs/:job_id/start", h.StartJob)
		v1.POST("/jobs/:job_id/cancel", h.CancelJob)
		v1.POST("/jobs/:job_id/retry", h.RetryJob)
	}
	r.GET("/jobs/:job_id/wss", h.JobProgressWebSocket)
	return r
}
