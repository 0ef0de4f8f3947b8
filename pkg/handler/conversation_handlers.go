// Conversation registry and token-usage API handlers
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shepherdhq/console/pkg/models"
	"github.com/shepherdhq/console/pkg/session"
)

// ConversationHandler exposes the registry and the usage monitor.
type ConversationHandler struct {
	store *session.Store
}

func NewConversationHandler(store *session.Store) *ConversationHandler {
	return &ConversationHandler{store: store}
}

// RegisterRoutes registers conversation routes.
func (h *ConversationHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/conversations", h.List)
	r.POST("/conversations/refresh", h.Refresh)
	r.GET("/conversations/current", h.Current)
	r.PUT("/conversations/current", h.Select)
	r.DELETE("/conversations/:id", h.Remove)
	r.GET("/conversations/:id/token-usage", h.TokenUsage)
	r.POST("/conversations/:id/token-usage/refresh", h.RefreshUsage)
}

// List returns all known conversations, most recently active first.
// GET /api/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: gin.H{
		"conversations": h.store.List(),
		"current_id":    h.store.CurrentID(),
		"last_error":    h.store.LastError(),
	}})
}

// Refresh pulls the conversation list from the orchestrator. A failed pull
// keeps the stale list and reports the error.
// POST /api/conversations/refresh
func (h *ConversationHandler) Refresh(c *gin.Context) {
	ok := h.store.RefreshConversations(c.Request.Context())
	if !ok {
		c.JSON(http.StatusBadGateway, models.Response{Code: 502, Message: h.store.LastError(), Data: gin.H{
			"conversations": h.store.List(),
		}})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: gin.H{
		"conversations": h.store.List(),
	}})
}

// Current returns the selected conversation, if any. A current pointer naming
// an unknown conversation returns the id with no data.
// GET /api/conversations/current
func (h *ConversationHandler) Current(c *gin.Context) {
	id := h.store.CurrentID()
	conv, known := h.store.Get(id)
	data := gin.H{"current_id": id, "known": known}
	if known {
		data["conversation"] = conv
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: data})
}

type selectRequest struct {
	ConversationID string `json:"conversation_id"`
}

// Select moves the current pointer and fetches fresh usage for the new
// conversation. An empty conversation_id clears the selection.
// PUT /api/conversations/current
func (h *ConversationHandler) Select(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: err.Error()})
		return
	}

	fetched := h.store.Select(c.Request.Context(), req.ConversationID)
	usage, hasUsage := h.store.Usage()
	data := gin.H{"current_id": req.ConversationID, "usage_fetched": fetched}
	if hasUsage {
		data["usage"] = usage
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: data})
}

// Remove deletes a conversation. Removing the current conversation clears
// the selection rather than moving it elsewhere.
// DELETE /api/conversations/:id
func (h *ConversationHandler) Remove(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "id is required"})
		return
	}
	h.store.Remove(id)
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok"})
}

// TokenUsage returns the monitor's snapshot when it belongs to the requested
// conversation. Consumers must treat last_updated as the freshness signal.
// GET /api/conversations/:id/token-usage
func (h *ConversationHandler) TokenUsage(c *gin.Context) {
	id := c.Param("id")
	usage, ok := h.store.Usage()
	if !ok || usage.ConversationID != id {
		c.JSON(http.StatusNotFound, models.Response{Code: 404, Message: "no usage snapshot for conversation"})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: usage})
}

// RefreshUsage forces a fresh usage fetch. On failure the last snapshot is
// preserved and returned alongside the error.
// POST /api/conversations/:id/token-usage/refresh
func (h *ConversationHandler) RefreshUsage(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "id is required"})
		return
	}

	ok := h.store.FetchUsage(c.Request.Context(), id)
	usage, hasUsage := h.store.Usage()
	data := gin.H{}
	if hasUsage {
		data["usage"] = usage
	}
	if !ok {
		c.JSON(http.StatusBadGateway, models.Response{Code: 502, Message: h.store.LastError(), Data: data})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: data})
}
