package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/ErlanBelekov/run-orchestrator/internal/usecase"
	"github.com/gin-gonic/gin"
)

type executionResponse struct {
	ID             string                 `json:"id"`
	ScheduleID     string                 `json:"schedule_id"`
	CollectionID   string                 `json:"collection_id"`
	EnvironmentID  string                 `json:"environment_id"`
	Status         domain.ExecutionStatus `json:"status"`
	TriggeredBy    domain.Trigger         `json:"triggered_by"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	DurationMS     *int64                 `json:"duration_ms,omitempty"`
	TotalRequests  int                    `json:"total_requests"`
	PassedRequests int                    `json:"passed_requests"`
	FailedRequests int                    `json:"failed_requests"`
	ErrorCount     int                    `json:"error_count"`
	Logs           []string               `json:"logs,omitempty"`
	Metadata       domain.Metadata        `json:"metadata,omitempty"`
}

func toExecutionResponse(e *domain.Execution) executionResponse {
	return executionResponse{
		ID:             e.ID,
		ScheduleID:     e.ScheduleID,
		CollectionID:   e.CollectionID,
		EnvironmentID:  e.EnvironmentID,
		Status:         e.Status,
		TriggeredBy:    e.TriggeredBy,
		StartedAt:      e.StartedAt,
		CompletedAt:    e.CompletedAt,
		DurationMS:     e.DurationMS,
		TotalRequests:  e.TotalRequests,
		PassedRequests: e.PassedRequests,
		FailedRequests: e.FailedRequests,
		ErrorCount:     e.ErrorCount,
		Logs:           e.Logs,
		Metadata:       e.Metadata,
	}
}

// GET /schedules/:id/executions?status=&limit=
func (h *ScheduleHandler) ListExecutions(ctx *gin.Context) {
	id := ctx.Param("id")
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	executions, err := h.uc.ListExecutions(ctx.Request.Context(), usecase.ListExecutionsInput{
		ScheduleID:  id,
		WorkspaceID: ctx.GetString("workspaceID"),
		Status:      domain.ExecutionStatus(ctx.Query("status")),
		Limit:       limit,
	})
	if err != nil {
		h.writeError(ctx, "list executions", err, "schedule_id", id)
		return
	}

	items := make([]executionResponse, len(executions))
	for i, e := range executions {
		items[i] = toExecutionResponse(e)
	}
	ctx.JSON(http.StatusOK, gin.H{"executions": items})
}

// GET /executions/:id
func (h *ScheduleHandler) GetExecution(ctx *gin.Context) {
	id := ctx.Param("id")

	e, err := h.uc.GetExecution(ctx.Request.Context(), id, ctx.GetString("workspaceID"))
	if err != nil {
		h.writeError(ctx, "get execution", err, "execution_id", id)
		return
	}

	ctx.JSON(http.StatusOK, toExecutionResponse(e))
}

// POST /executions/:id/cancel
func (h *ScheduleHandler) CancelExecution(ctx *gin.Context) {
	id := ctx.Param("id")

	if err := h.uc.CancelExecution(ctx.Request.Context(), id, ctx.GetString("workspaceID")); err != nil {
		h.writeError(ctx, "cancel execution", err, "execution_id", id)
		return
	}

	ctx.Status(http.StatusNoContent)
}
