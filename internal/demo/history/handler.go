// Package history exposes the demo's persisted chat log over REST as a
// thin gin handler around database.HistoryStore.
package history

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chansock/internal/demo/database"
)

type Handler struct {
	store *database.HistoryStore
}

func NewHandler(store *database.HistoryStore) *Handler {
	return &Handler{store: store}
}

// Register mounts GET /history/:uid.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/history/:uid", h.recent)
}

func (h *Handler) recent(c *gin.Context) {
	uid := c.Param("uid")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := h.store.Recent(uid, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": rows})
}
