package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rtcdoctor/internal/app"
	"rtcdoctor/internal/progress"
	"rtcdoctor/internal/storage"
	"rtcdoctor/internal/storage/models"
	"rtcdoctor/internal/troubleshoot"
	pkgerrors "rtcdoctor/pkg/errors"
)

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	base   context.Context
	runner runService
	store  storage.Storage
	logger *slog.Logger
}

// RunRequest optionally overrides the configured checks for one run.
type RunRequest struct {
	Audio                *bool `json:"audio"`
	Video                *bool `json:"video"`
	SkipPermissionsCheck *bool `json:"skip_permissions_check"`
	IntegrationTestMode  *bool `json:"integration_test_mode"`
}

func (r RunRequest) apply(cfg *troubleshoot.Config) {
	if r.Audio != nil {
		cfg.Audio = *r.Audio
	}
	if r.Video != nil {
		cfg.Video = *r.Video
	}
	if r.SkipPermissionsCheck != nil {
		cfg.SkipPermissionsCheck = *r.SkipPermissionsCheck
	}
	if r.IntegrationTestMode != nil {
		cfg.IntegrationTestMode = *r.IntegrationTestMode
	}
	if cfg.Media != nil {
		cfg.Media.Audio, cfg.Media.Video = cfg.Audio, cfg.Video
	}
}

// LiveRun is the progress of the run in flight.
type LiveRun struct {
	RunID        string          `json:"run_id"`
	Live         bool            `json:"live"`
	Plan         []string        `json:"plan,omitempty"`
	Progress     []progress.Item `json:"progress,omitempty"`
	Connectivity *Connectivity   `json:"connectivity,omitempty"`
	// Report is set once the most recent run has finished.
	Report *troubleshoot.View `json:"report,omitempty"`
}

// Connectivity is the state of the connectivity retry controller.
type Connectivity struct {
	State       string `json:"state"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"run_in_progress": h.runner.InProgress(),
	})
}

// StartRun handles POST /api/v1/runs.
// It returns 202 when a run was started, or 409 if one is already live.
func (h *Handler) StartRun(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
			return
		}
	}

	ts, err := h.runner.Start(h.base, app.RunOptions{
		Trigger:   models.TriggerAPI,
		Configure: req.apply,
	})
	if errors.Is(err, pkgerrors.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"status": "in-progress"})
		return
	}
	if err != nil {
		h.logger.Error("failed to start run", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "accepted",
		"run_id": ts.ID(),
		"plan":   ts.Plan(),
	})
}

// CurrentRun handles GET /api/v1/runs/current.
// It returns the live progress, or the last report when nothing is running.
func (h *Handler) CurrentRun(c *gin.Context) {
	if ts, ok := h.runner.Current(); ok {
		live := LiveRun{
			RunID:    ts.ID(),
			Live:     true,
			Plan:     ts.Plan(),
			Progress: ts.Progress().Snapshot(),
		}
		if ctrl := ts.Connectivity(); ctrl != nil {
			live.Connectivity = &Connectivity{
				State:       ctrl.State().String(),
				Attempts:    ctrl.Attempts(),
				MaxAttempts: ctrl.MaxAttempts(),
			}
		}
		c.JSON(http.StatusOK, live)
		return
	}

	if rep, ok := h.runner.Last(); ok {
		view := rep.View()
		c.JSON(http.StatusOK, LiveRun{RunID: rep.RunID, Progress: rep.Progress, Report: &view})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": pkgerrors.ErrNoRunAvailable.Error()})
}

// ListRuns handles GET /api/v1/runs.
func (h *Handler) ListRuns(c *gin.Context) {
	filter := storage.RunFilter{
		Status:  c.Query("status"),
		Trigger: c.Query("trigger"),
		Limit:   20,
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	runs, err := h.store.ListRuns(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun handles GET /api/v1/runs/:id.
func (h *Handler) GetRun(c *gin.Context) {
	view, err := app.LoadView(c.Request.Context(), h.store, c.Param("id"))
	if errors.Is(err, pkgerrors.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to load run", "run_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}
