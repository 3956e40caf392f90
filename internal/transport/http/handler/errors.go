package handler

import (
	"errors"
	"net/http"

	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	errInternalServer      = "Internal server error"
	errScheduleNotFound    = "Schedule not found"
	errExecutionNotFound   = "Execution not found"
	errInvalidCronExpr     = "Invalid cron expression"
	errInvalidTimezone     = "Invalid timezone"
	errInvalidStatus       = "Invalid status"
	errExecutionNotRunning = "Execution is not running"
	errExecutionFailed     = "Execution failed"
)

// writeError maps domain errors onto status codes. Anything unknown is
// logged and reported as 500.
func (h *ScheduleHandler) writeError(ctx *gin.Context, op string, err error, attrs ...any) {
	switch {
	case errors.Is(err, domain.ErrInvalidCronExpr):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCronExpr, "detail": err.Error()})
	case errors.Is(err, domain.ErrInvalidTimezone):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidTimezone, "detail": err.Error()})
	case errors.Is(err, domain.ErrInvalidStatus):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidStatus})
	case errors.Is(err, domain.ErrScheduleNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
	case errors.Is(err, domain.ErrExecutionNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errExecutionNotFound})
	case errors.Is(err, domain.ErrExecutionNotRunning):
		ctx.JSON(http.StatusConflict, gin.H{"error": errExecutionNotRunning})
	default:
		h.logger.ErrorContext(ctx.Request.Context(), op, append(attrs, "error", err)...)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}
