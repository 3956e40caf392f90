package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/ErlanBelekov/run-orchestrator/internal/usecase"
	"github.com/gin-gonic/gin"
)

// scheduleService is the subset of ScheduleUsecase the handler needs.
// Defined here (point of use) so tests can inject a fake.
type scheduleService interface {
	CreateSchedule(ctx context.Context, input usecase.CreateScheduleInput) (*domain.Schedule, error)
	GetSchedule(ctx context.Context, id, workspaceID string) (*domain.Schedule, error)
	ListSchedules(ctx context.Context, input usecase.ListSchedulesInput) ([]*domain.Schedule, error)
	UpdateSchedule(ctx context.Context, id, workspaceID string, input usecase.UpdateScheduleInput) (*domain.Schedule, error)
	DeleteSchedule(ctx context.Context, id, workspaceID string) error
	ExecuteSchedule(ctx context.Context, id, workspaceID string, input usecase.ExecuteScheduleInput) (string, error)
	GetExecution(ctx context.Context, id, workspaceID string) (*domain.Execution, error)
	CancelExecution(ctx context.Context, id, workspaceID string) error
	ListExecutions(ctx context.Context, input usecase.ListExecutionsInput) ([]*domain.Execution, error)
	GetStatistics(ctx context.Context, workspaceID string) (*usecase.Statistics, error)
}

type ScheduleHandler struct {
	uc     scheduleService
	logger *slog.Logger
}

func NewScheduleHandler(uc scheduleService, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{uc: uc, logger: logger.With("component", "schedule_handler")}
}

type createScheduleRequest struct {
	Name          string                `json:"name"           binding:"max=256"`
	CollectionID  string                `json:"collection_id"  binding:"required,max=256"`
	EnvironmentID string                `json:"environment_id" binding:"max=256"`
	CronExpr      string                `json:"cron_expr"      binding:"required"`
	Timezone      string                `json:"timezone"       binding:"max=64"`
	Status        domain.ScheduleStatus `json:"status"         binding:"omitempty,oneof=active inactive paused"`
}

type updateScheduleRequest struct {
	Name          *string                `json:"name"           binding:"omitempty,max=256"`
	CollectionID  *string                `json:"collection_id"  binding:"omitempty,min=1,max=256"`
	EnvironmentID *string                `json:"environment_id" binding:"omitempty,max=256"`
	CronExpr      *string                `json:"cron_expr"      binding:"omitempty,min=1"`
	Timezone      *string                `json:"timezone"       binding:"omitempty,max=64"`
	Status        *domain.ScheduleStatus `json:"status"         binding:"omitempty,oneof=active inactive paused"`
}

type scheduleResponse struct {
	ID            string                `json:"id"`
	WorkspaceID   string                `json:"workspace_id"`
	Name          string                `json:"name"`
	CollectionID  string                `json:"collection_id"`
	EnvironmentID string                `json:"environment_id"`
	CronExpr      string                `json:"cron_expr"`
	Timezone      string                `json:"timezone"`
	Status        domain.ScheduleStatus `json:"status"`
	NextRunAt     *time.Time            `json:"next_run_at,omitempty"`
	LastRunAt     *time.Time            `json:"last_run_at,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func toScheduleResponse(s *domain.Schedule) scheduleResponse {
	return scheduleResponse{
		ID:            s.ID,
		WorkspaceID:   s.WorkspaceID,
		Name:          s.Name,
		CollectionID:  s.CollectionID,
		EnvironmentID: s.EnvironmentID,
		CronExpr:      s.CronExpr,
		Timezone:      s.Timezone,
		Status:        s.Status,
		NextRunAt:     s.NextRunAt,
		LastRunAt:     s.LastRunAt,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

// POST /schedules
func (h *ScheduleHandler) Create(ctx *gin.Context) {
	var req createScheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.uc.CreateSchedule(ctx.Request.Context(), usecase.CreateScheduleInput{
		WorkspaceID:   ctx.GetString("workspaceID"),
		Name:          req.Name,
		CollectionID:  req.CollectionID,
		EnvironmentID: req.EnvironmentID,
		CronExpr:      req.CronExpr,
		Timezone:      req.Timezone,
		Status:        req.Status,
	})
	if err != nil {
		h.writeError(ctx, "create schedule", err)
		return
	}

	ctx.JSON(http.StatusCreated, toScheduleResponse(s))
}

// GET /schedules?status=
func (h *ScheduleHandler) List(ctx *gin.Context) {
	schedules, err := h.uc.ListSchedules(ctx.Request.Context(), usecase.ListSchedulesInput{
		WorkspaceID: ctx.GetString("workspaceID"),
		Status:      domain.ScheduleStatus(ctx.Query("status")),
	})
	if err != nil {
		h.writeError(ctx, "list schedules", err)
		return
	}

	items := make([]scheduleResponse, len(schedules))
	for i, s := range schedules {
		items[i] = toScheduleResponse(s)
	}
	ctx.JSON(http.StatusOK, gin.H{"schedules": items})
}

// GET /schedules/:id
func (h *ScheduleHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	s, err := h.uc.GetSchedule(ctx.Request.Context(), id, ctx.GetString("workspaceID"))
	if err != nil {
		h.writeError(ctx, "get schedule", err, "schedule_id", id)
		return
	}

	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}

// PATCH /schedules/:id
func (h *ScheduleHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	var req updateScheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.uc.UpdateSchedule(ctx.Request.Context(), id, ctx.GetString("workspaceID"), usecase.UpdateScheduleInput{
		Name:          req.Name,
		CollectionID:  req.CollectionID,
		EnvironmentID: req.EnvironmentID,
		CronExpr:      req.CronExpr,
		Timezone:      req.Timezone,
		Status:        req.Status,
	})
	if err != nil {
		h.writeError(ctx, "update schedule", err, "schedule_id", id)
		return
	}

	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}

// DELETE /schedules/:id
func (h *ScheduleHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if err := h.uc.DeleteSchedule(ctx.Request.Context(), id, ctx.GetString("workspaceID")); err != nil {
		h.writeError(ctx, "delete schedule", err, "schedule_id", id)
		return
	}

	ctx.Status(http.StatusNoContent)
}

type executeRequest struct {
	DryRun   bool            `json:"dry_run"`
	Metadata domain.Metadata `json:"metadata"`
}

// POST /schedules/:id/execute
// Runs synchronously. A failed run answers 422 with the execution id so the
// caller can inspect the record.
func (h *ScheduleHandler) Execute(ctx *gin.Context) {
	id := ctx.Param("id")

	var req executeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	execID, err := h.uc.ExecuteSchedule(ctx.Request.Context(), id, ctx.GetString("workspaceID"), usecase.ExecuteScheduleInput{
		DryRun:   req.DryRun,
		Metadata: req.Metadata,
	})
	if err != nil {
		if errors.Is(err, domain.ErrExecutionFailed) {
			ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": errExecutionFailed, "detail": err.Error(), "execution_id": execID})
			return
		}
		h.writeError(ctx, "execute schedule", err, "schedule_id", id)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"execution_id": execID})
}
