package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/admin"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/gin-gonic/gin"
)

// adminService is the subset of *admin.Service the handler needs, defined
// at point of use so tests can inject a fake.
type adminService interface {
	List(ctx context.Context) ([]admin.ScheduleView, error)
	Create(ctx context.Context, actor string, in admin.CreateInput) (domain.ScheduleEntry, error)
	Update(ctx context.Context, actor, name string, in admin.UpdateInput) (domain.ScheduleEntry, error)
	Delete(ctx context.Context, name string) error
	Pause(ctx context.Context, name string) error
	Resume(ctx context.Context, actor, name string, in admin.ResumeInput) (domain.ScheduleEntry, error)
	Preview(cronExpr, timezone string, count int) ([]time.Time, error)
	Export(ctx context.Context) ([]admin.ExportedSchedule, error)
	Import(ctx context.Context, actor string, schedules []admin.ExportedSchedule) admin.ImportResult
	RunNow(ctx context.Context, task string, args []any, kwargs map[string]any) (string, error)
	Catalog(ctx context.Context) map[string][]admin.CatalogItem
}

type ScheduleHandler struct {
	svc    adminService
	logger *slog.Logger
}

func NewScheduleHandler(svc adminService, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{svc: svc, logger: logger.With("component", "schedule_handler")}
}

func actor(c *gin.Context) string {
	if email, ok := c.Get("actorEmail"); ok {
		if s, ok := email.(string); ok && s != "" {
			return s
		}
	}
	if uid, ok := c.Get("userID"); ok {
		if s, ok := uid.(string); ok {
			return s
		}
	}
	return "unknown"
}

// GET /schedules
func (h *ScheduleHandler) List(c *gin.Context) {
	views, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list schedules", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": views, "mode": "dynamic"})
}

type createRequest struct {
	Name     string                `json:"name" binding:"required"`
	Task     string                `json:"task" binding:"required"`
	Cron     string                `json:"cron" binding:"required"`
	Timezone string                `json:"timezone" binding:"required"`
	Args     []any                 `json:"args"`
	Kwargs   map[string]any        `json:"kwargs"`
	Metadata *domain.MetadataPatch `json:"metadata"`
}

// POST /schedules
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.svc.Create(c.Request.Context(), actor(c), admin.CreateInput{
		Name: req.Name, Task: req.Task, CronExpr: req.Cron, Timezone: req.Timezone,
		Args: req.Args, Kwargs: req.Kwargs, Metadata: req.Metadata,
	})
	if err != nil {
		h.respondScheduleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "created", "name": entry.Name})
}

type updateRequest struct {
	Cron     string                `json:"cron" binding:"required"`
	Timezone *string               `json:"timezone"`
	Args     *[]any                `json:"args"`
	Kwargs   *map[string]any       `json:"kwargs"`
	Metadata *domain.MetadataPatch `json:"metadata"`
}

// PUT /schedules/:name
func (h *ScheduleHandler) Update(c *gin.Context) {
	name := c.Param("name")
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.svc.Update(c.Request.Context(), actor(c), name, admin.UpdateInput{
		CronExpr: req.Cron, Timezone: req.Timezone, Args: req.Args, Kwargs: req.Kwargs, Metadata: req.Metadata,
	})
	if err != nil {
		h.respondScheduleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "name": entry.Name})
}

// DELETE /schedules/:name
func (h *ScheduleHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	if err := h.svc.Delete(c.Request.Context(), name); err != nil {
		h.respondScheduleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "deleted": name})
}

// POST /schedules/pause?name=
func (h *ScheduleHandler) Pause(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if err := h.svc.Pause(c.Request.Context(), name); err != nil {
		h.respondScheduleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "paused": name})
}

// POST /schedules/resume?name=&cron=&timezone=
func (h *ScheduleHandler) Resume(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	in := admin.ResumeInput{}
	if cron := c.Query("cron"); cron != "" {
		in.CronExpr = &cron
	}
	if tz := c.Query("timezone"); tz != "" {
		in.Timezone = &tz
	}

	if _, err := h.svc.Resume(c.Request.Context(), actor(c), name, in); err != nil {
		h.respondScheduleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "resumed": name})
}

// GET /schedules/preview?cron=&timezone=&count=
func (h *ScheduleHandler) Preview(c *gin.Context) {
	cronExpr := c.Query("cron")
	timezone := c.Query("timezone")
	count := 5
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a positive integer"})
			return
		}
		count = n
	}

	times, err := h.svc.Preview(cronExpr, timezone, count)
	if err != nil {
		h.respondScheduleError(c, err)
		return
	}
	runs := make([]string, len(times))
	for i, t := range times {
		runs[i] = t.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, gin.H{"next_runs_utc": runs, "tz": timezone})
}

// GET /schedules/export
func (h *ScheduleHandler) Export(c *gin.Context) {
	schedules, err := h.svc.Export(c.Request.Context())
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "export schedules", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": schedules})
}

type importRequest struct {
	Schedules []admin.ExportedSchedule `json:"schedules" binding:"required"`
}

// POST /schedules/import
func (h *ScheduleHandler) Import(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result := h.svc.Import(c.Request.Context(), actor(c), req.Schedules)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "created": result.Created, "errors": result.Errors})
}

type runNowRequest struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// POST /schedules/run-now?task=
func (h *ScheduleHandler) RunNow(c *gin.Context) {
	task := c.Query("task")
	if task == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task is required"})
		return
	}
	var req runNowRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	runID, err := h.svc.RunNow(c.Request.Context(), task, req.Args, req.Kwargs)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "run now", "task", task, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dispatched", "task_id": runID})
}

// GET /tasks/catalog
func (h *ScheduleHandler) Catalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"catalog": h.svc.Catalog(c.Request.Context())})
}

func (h *ScheduleHandler) respondScheduleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCronExpr),
		errors.Is(err, domain.ErrInvalidTimezone),
		errors.Is(err, domain.ErrCronRequiredOnUpdate),
		errors.Is(err, domain.ErrCronRequiredOnResume),
		errors.Is(err, domain.ErrScheduleNameConflict):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrScheduleNotFound),
		errors.Is(err, domain.ErrPausedSnapshotMissing):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrScheduleAlreadyPaused),
		errors.Is(err, domain.ErrScheduleNotPaused):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("schedule operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}
