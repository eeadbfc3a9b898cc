package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"DubbingPlatform-server/ledger"
	"DubbingPlatform-server/logging"
	"DubbingPlatform-server/models"
	"DubbingPlatform-server/service"
	"DubbingPlatform-server/storage"

	"github.com/gin-gonic/gin"
)

// OwnerHeader carries the authenticated user id set by the gateway.
const OwnerHeader = "X-User-ID"

type Handler struct {
	Jobs   *service.JobService
	Ledger *ledger.Ledger
	Store  storage.Store
	Logger *slog.Logger
}

func NewHandler(jobs *service.JobService, l *ledger.Ledger, store storage.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{Jobs: jobs, Ledger: l, Store: store, Logger: logging.NewComponentLogger(logger, "api")}
}

// owner resolves the caller. The query parameter exists for websocket
// clients, which cannot set headers.
func owner(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.GetHeader(OwnerHeader))
	if id == "" {
		id = strings.TrimSpace(c.Query("owner"))
	}
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing " + OwnerHeader + " header"})
		return "", false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrQuality):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrEthics):
		return http.StatusForbidden
	case errors.Is(err, models.ErrAIService):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.Logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			logging.Error(err),
		)
		c.JSON(code, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	var ve *models.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		body["field"] = ve.Field
	}
	c.JSON(code, body)
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}
