package api

import (
	"net/http"
	"time"

	"DubbingPlatform-server/logging"
	"DubbingPlatform-server/models"
	"DubbingPlatform-server/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// JobProgressWebSocket pushes the job's progress view whenever it changes
// and closes after the job reaches a terminal state. The database is the
// only source; the socket just polls it.
func (h *Handler) JobProgressWebSocket(c *gin.Context) {
	ownerID, ok := owner(c)
	if !ok {
		return
	}
	jobID := c.Param("job_id")
	ctx := c.Request.Context()

	view, err := h.Jobs.Progress(ctx, ownerID, jobID)
	if err != nil {
		h.fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", logging.FieldJobID, jobID, logging.Error(err))
		return
	}
	defer conn.Close()

	// Drain client frames so a close from the peer is noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(view); err != nil {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prev := view
	for !finished(prev) {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cur, err := h.Jobs.Progress(ctx, ownerID, jobID)
		if err != nil {
			_ = conn.WriteJSON(gin.H{"error": err.Error()})
			return
		}
		if cur.Status != prev.Status || cur.OverallProgress != prev.OverallProgress {
			if err := conn.WriteJSON(cur); err != nil {
				return
			}
		}
		prev = cur
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(prev.Status)))
}

func finished(v *service.ProgressView) bool {
	switch v.Status {
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		return true
	}
	return false
}
