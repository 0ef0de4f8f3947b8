// Compaction API handlers
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shepherdhq/console/pkg/session"
)

// CompactionHandler triggers compaction and serves its history.
type CompactionHandler struct {
	store *session.Store
}

// NewCompactionHandler creates a new compaction handler.
func NewCompactionHandler(store *session.Store) *CompactionHandler {
	return &CompactionHandler{store: store}
}

// RegisterRoutes registers compaction routes.
func (h *CompactionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/conversations/:id/compact", h.Compact)
	r.GET("/conversations/:id/compacting-history", h.History)
}

type compactRequest struct {
	Strategy string `json:"strategy"`
}

// Compact runs one compaction attempt for a conversation. A request while a
// prior one is still pending gets 409; upstream failures come back as a
// false success with the recorded error, not a 5xx.
// POST /api/conversations/:id/compact
func (h *CompactionHandler) Compact(c *gin.Context) {
	conversationID := c.Param("id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	var req compactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Strategy == "" {
		req.Strategy = "summarize"
	}

	outcome := h.store.Compact(c.Request.Context(), conversationID, req.Strategy)
	if outcome.Busy {
		c.JSON(http.StatusConflict, gin.H{"error": outcome.Error, "outcome": outcome})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// History returns the bounded compaction history, most recent first. Failed
// attempts stay visible with success=false.
// GET /api/conversations/:id/compacting-history
func (h *CompactionHandler) History(c *gin.Context) {
	conversationID := c.Param("id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	entries := h.store.History(conversationID)
	c.JSON(http.StatusOK, gin.H{
		"history": entries,
		"count":   len(entries),
	})
}
