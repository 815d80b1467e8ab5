package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"proofread-service/internal/models"
	"proofread-service/internal/pipeline"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	runner *pipeline.Runner
	store  *pipeline.Store
	hub    *pipeline.Hub
}

// NewHandlers creates a new handlers instance
func NewHandlers(runner *pipeline.Runner, store *pipeline.Store, hub *pipeline.Hub) *Handlers {
	return &Handlers{runner: runner, store: store, hub: hub}
}

// SubmitHandler handles POST /api/analysis/submit
func (h *Handlers) SubmitHandler(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("cannot open upload: %v", err)})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("cannot read upload: %v", err)})
		return
	}

	opts := models.SubmitOptions{
		Filename:     c.DefaultPostForm("filename", fileHeader.Filename),
		OutputFormat: c.DefaultPostForm("output_format", models.FormatDocx),
		Pattern:      formBool(c, "pattern", true),
		Semantic:     formBool(c, "semantic", false),
		FullSemantic: formBool(c, "full_semantic", false),
	}
	if raw := c.PostForm("categories"); raw != "" {
		for _, cat := range strings.Split(raw, ",") {
			if cat = strings.TrimSpace(cat); cat != "" {
				opts.Categories = append(opts.Categories, cat)
			}
		}
	}

	task, err := h.runner.Submit(data, opts)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, models.SubmitResponse{
		ProcessingID: task.ID,
		Message:      "document accepted for analysis",
	})
}

// StatusHandler handles GET /api/analysis/status/:id
func (h *Handlers) StatusHandler(c *gin.Context) {
	task, err := h.store.Snapshot(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	c.JSON(http.StatusOK, models.StatusResponse{
		ProcessingID:   task.ID,
		Status:         task.Status,
		Progress:       task.Progress,
		Stage:          task.Stage,
		StageIndex:     task.StageIndex,
		StageTotal:     task.StageTotal,
		ProcessedUnits: task.ProcessedUnits,
		TotalUnits:     task.TotalUnits,
		Issues:         task.Issues,
		Summary:        task.Summary,
		Error:          task.Error,
	})
}

// DownloadHandler handles GET /api/analysis/download/:id
func (h *Handlers) DownloadHandler(c *gin.Context) {
	task, err := h.store.Snapshot(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if task.Status != models.TaskStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("report not ready: task is %s", task.Status)})
		return
	}

	name := reportFilename(task)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, task.ReportContentType, task.ReportBytes)
}

// CancelHandler handles POST /api/analysis/cancel/:id
func (h *Handlers) CancelHandler(c *gin.Context) {
	if err := h.runner.Cancel(c.Param("id")); err != nil {
		status := http.StatusNotFound
		if strings.Contains(err.Error(), "already finished") {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cancellation requested"})
}

// CleanupHandler handles DELETE /api/analysis/:id
func (h *Handlers) CleanupHandler(c *gin.Context) {
	if err := h.runner.Cleanup(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task removed"})
}

func formBool(c *gin.Context, key string, def bool) bool {
	v := c.PostForm(key)
	if v == "" {
		return def
	}
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}

func reportFilename(task models.Task) string {
	base := task.Filename
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return fmt.Sprintf("%s-report.%s", base, task.OutputFormat)
}
