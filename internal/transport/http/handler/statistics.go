package handler

import (
	"net/http"

	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/ErlanBelekov/run-orchestrator/internal/usecase"
	"github.com/gin-gonic/gin"
)

type trendResponse struct {
	Date       string `json:"date"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
}

type statisticsResponse struct {
	TotalSchedules         int                            `json:"total_schedules"`
	ActiveSchedules        int                            `json:"active_schedules"`
	TotalExecutions        int                            `json:"total_executions"`
	SuccessfulExecutions   int                            `json:"successful_executions"`
	FailedExecutions       int                            `json:"failed_executions"`
	AverageExecutionTimeMS int64                          `json:"average_execution_time_ms"`
	ByCollection           map[string]int                 `json:"by_collection"`
	ByEnvironment          map[string]int                 `json:"by_environment"`
	ByStatus               map[domain.ExecutionStatus]int `json:"by_status"`
	Trends                 []trendResponse                `json:"trends"`
}

func toStatisticsResponse(st *usecase.Statistics) statisticsResponse {
	trends := make([]trendResponse, len(st.Trends))
	for i, t := range st.Trends {
		trends[i] = trendResponse{Date: t.Date, Total: t.Total, Successful: t.Successful, Failed: t.Failed}
	}
	return statisticsResponse{
		TotalSchedules:         st.TotalSchedules,
		ActiveSchedules:        st.ActiveSchedules,
		TotalExecutions:        st.TotalExecutions,
		SuccessfulExecutions:   st.SuccessfulExecutions,
		FailedExecutions:       st.FailedExecutions,
		AverageExecutionTimeMS: st.AverageExecutionTime.Milliseconds(),
		ByCollection:           st.ByCollection,
		ByEnvironment:          st.ByEnvironment,
		ByStatus:               st.ByStatus,
		Trends:                 trends,
	}
}

// GET /statistics
func (h *ScheduleHandler) Statistics(ctx *gin.Context) {
	st, err := h.uc.GetStatistics(ctx.Request.Context(), ctx.GetString("workspaceID"))
	if err != nil {
		h.writeError(ctx, "get statistics", err)
		return
	}
	ctx.JSON(http.StatusOK, toStatisticsResponse(st))
}
