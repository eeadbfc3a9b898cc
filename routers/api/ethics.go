package api

import (
	"net/http"

	"DubbingPlatform-server/ledger"
	"DubbingPlatform-server/models"

	"github.com/gin-gonic/gin"
)

// project resolves :project_id for the caller. Ledger records are reachable
// only through a project the caller owns.
func (h *Handler) project(c *gin.Context) (*models.Project, string, bool) {
	ownerID, ok := owner(c)
	if !ok {
		return nil, "", false
	}
	p, err := h.Jobs.GetProject(c.Request.Context(), ownerID, c.Param("project_id"))
	if err != nil {
		h.fail(c, err)
		return nil, "", false
	}
	return p, ownerID, true
}

func (h *Handler) consentInProject(c *gin.Context, projectID string) (string, bool) {
	id := c.Param("consent_id")
	records, err := h.Ledger.ListConsents(c.Request.Context(), projectID)
	if err != nil {
		h.fail(c, err)
		return "", false
	}
	for _, r := range records {
		if r.ID == id {
			return id, true
		}
	}
	h.fail(c, models.NotFound("consent record", id))
	return "", false
}

// POST /v1/api/projects/:project_id/consents
func (h *Handler) CreateConsent(c *gin.Context) {
	p, ownerID, ok := h.project(c)
	if !ok {
		return
	}
	var in ledger.ConsentInput
	if !bindJSON(c, &in) {
		return
	}
	in.ProjectID = p.ID
	in.OwnerID = ownerID
	rec, err := h.Ledger.CreateConsent(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"consent": rec})
}

// GET /v1/api/projects/:project_id/consents
func (h *Handler) ListConsents(c *gin.Context) {
	p, _, ok := h.project(c)
	if !ok {
		return
	}
	status, err := h.Ledger.CheckConsent(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	records, err := h.Ledger.ListConsents(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consents": records, "status": status})
}

type grantRequest struct {
	DocumentRef string `json:"documentRef"`
}

// POST /v1/api/projects/:project_id/consents/:consent_id/grant
func (h *Handler) GrantConsent(c *gin.Context) {
	p, _, ok := h.project(c)
	if !ok {
		return
	}
	id, ok := h.consentInProject(c, p.ID)
	if !ok {
		return
	}
	var req grantRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	rec, err := h.Ledger.Grant(c.Request.Context(), id, req.DocumentRef)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consent": rec})
}

// POST /v1/api/projects/:project_id/consents/:consent_id/revoke
func (h *Handler) RevokeConsent(c *gin.Context) {
	p, _, ok := h.project(c)
	if !ok {
		return
	}
	id, ok := h.consentInProject(c, p.ID)
	if !ok {
		return
	}
	rec, err := h.Ledger.Revoke(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consent": rec})
}

type verifyRequest struct {
	VerifiedBy string `json:"verifiedBy"`
	Method     string `json:"method"`
}

// POST /v1/api/projects/:project_id/consents/:consent_id/verify
func (h *Handler) VerifyConsent(c *gin.Context) {
	p, _, ok := h.project(c)
	if !ok {
		return
	}
	id, ok := h.consentInProject(c, p.ID)
	if !ok {
		return
	}
	var req verifyRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.Ledger.VerifyConsent(c.Request.Context(), id, req.VerifiedBy, req.Method)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consent": rec})
}

// POST /v1/api/projects/:project_id/watermarks
func (h *Handler) ApplyWatermark(c *gin.Context) {
	p, ownerID, ok := h.project(c)
	if !ok {
		return
	}
	var in ledger.WatermarkInput
	if !bindJSON(c, &in) {
		return
	}
	in.ProjectID = p.ID
	if err := h.Jobs.AuthorizeArtifact(c.Request.Context(), ownerID, p.ID, in.ArtifactRef); err != nil {
		h.fail(c, err)
		return
	}
	rec, err := h.Ledger.ApplyWatermark(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"watermark": rec})
}

// GET /v1/api/projects/:project_id/watermarks
func (h *Handler) ListWatermarks(c *gin.Context) {
	p, _, ok := h.project(c)
	if !ok {
		return
	}
	records, err := h.Ledger.ListWatermarks(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"watermarks": records})
}

type provenanceRequest struct {
	LineageID   string                  `json:"lineageId"`
	ArtifactRef string                  `json:"artifactRef"`
	Steps       []models.ProcessingStep `json:"steps"`
	SourceHash  string                  `json:"sourceContentHash"`
	Params      map[string]interface{}  `json:"generationParameters"`
}

// POST /v1/api/projects/:project_id/provenance
func (h *Handler) RecordProvenance(c *gin.Context) {
	p, ownerID, ok := h.project(c)
	if !ok {
		return
	}
	var req provenanceRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.ArtifactRef != "" {
		if err := h.Jobs.AuthorizeArtifact(c.Request.Context(), ownerID, p.ID, req.ArtifactRef); err != nil {
			h.fail(c, err)
			return
		}
	}
	rec, err := h.Ledger.RecordProvenance(c.Request.Context(), ledger.ProvenanceInput{
		ProjectID:   p.ID,
		LineageID:   req.LineageID,
		ArtifactRef: req.ArtifactRef,
		Steps:       req.Steps,
		SourceHash:  req.SourceHash,
		Params:      req.Params,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"provenance": rec, "signatureValid": h.Ledger.VerifySignature(rec)})
}

// GET /v1/api/projects/:project_id/provenance
func (h *Handler) ListProvenance(c *gin.Context) {
	p, _, ok := h.project(c)
	if !ok {
		return
	}
	records, err := h.Ledger.ListProvenance(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provenance": records})
}

type reviewRequest struct {
	RecordID string `json:"recordId"`
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes"`
}

// POST /v1/api/projects/:project_id/provenance/review
func (h *Handler) AddHumanReview(c *gin.Context) {
	p, _, ok := h.project(c)
	if !ok {
		return
	}
	var req reviewRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.Ledger.AddHumanReview(c.Request.Context(), p.ID, req.RecordID, req.Reviewer, req.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provenance": rec})
}

// GET /v1/api/projects/:project_id/compliance
func (h *Handler) ComplianceDashboard(c *gin.Context) {
	p, _, ok := h.project(c)
	if !ok {
		return
	}
	d, err := h.Ledger.Dashboard(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// GET /v1/api/projects/:project_id/compliance/score
func (h *Handler) ComplianceScore(c *gin.Context) {
	p, _, ok := h.project(c)
	if !ok {
		return
	}
	score, err := h.Ledger.ComplianceScore(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projectId": p.ID, "complianceScore": score})
}
