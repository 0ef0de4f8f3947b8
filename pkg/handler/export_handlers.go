// Export job API handlers
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shepherdhq/console/pkg/export"
	"github.com/shepherdhq/console/pkg/models"
)

// ExportHandler exposes the export job queue.
type ExportHandler struct {
	queue *export.Queue
}

func NewExportHandler(queue *export.Queue) *ExportHandler {
	return &ExportHandler{queue: queue}
}

// RegisterRoutes registers export routes.
func (h *ExportHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/exports", h.Submit)
	r.GET("/exports", h.List)
	r.GET("/exports/:id", h.Get)
	r.GET("/exports/:id/download", h.Download)
	r.DELETE("/exports/:id", h.Remove)
}

type submitExportRequest struct {
	Format    string         `json:"format"`
	WidgetIDs []string       `json:"widget_ids"`
	Options   export.Options `json:"options"`
}

// Submit creates an export job. Empty widget selections are rejected before
// any job exists.
// POST /api/exports
func (h *ExportHandler) Submit(c *gin.Context) {
	var req submitExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: err.Error()})
		return
	}

	job, err := h.queue.Submit(export.Format(req.Format), req.WidgetIDs, req.Options)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: job})
}

// List returns all jobs, newest first.
// GET /api/exports
func (h *ExportHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: h.queue.List()})
}

// Get returns one job.
// GET /api/exports/:id
func (h *ExportHandler) Get(c *gin.Context) {
	job, ok := h.queue.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, models.Response{Code: 404, Message: "export job not found"})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: job})
}

// Download streams a completed job's artifact.
// GET /api/exports/:id/download
func (h *ExportHandler) Download(c *gin.Context) {
	job, ok := h.queue.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, models.Response{Code: 404, Message: "export job not found"})
		return
	}
	if job.Status != export.StatusCompleted || job.FilePath == "" {
		c.JSON(http.StatusConflict, models.Response{Code: 409, Message: "export job has no artifact"})
		return
	}
	c.FileAttachment(job.FilePath, job.FileName)
}

// Remove deletes a job, cancelling it if still processing and releasing its
// artifact.
// DELETE /api/exports/:id
func (h *ExportHandler) Remove(c *gin.Context) {
	err := h.queue.Remove(c.Param("id"))
	if errors.Is(err, export.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, models.Response{Code: 404, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok"})
}
