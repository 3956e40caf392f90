package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/run-orchestrator/internal/transport/http/handler"
	"github.com/ErlanBelekov/run-orchestrator/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, h *handler.ScheduleHandler, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	authMW := middleware.Auth(jwtKey)

	schedules := r.Group("/schedules", authMW)
	schedules.POST("", h.Create)
	schedules.GET("", h.List)
	schedules.GET("/:id", h.GetByID)
	schedules.PATCH("/:id", h.Update)
	schedules.DELETE("/:id", h.Delete)
	schedules.POST("/:id/execute", h.Execute)
	schedules.GET("/:id/executions", h.ListExecutions)

	executions := r.Group("/executions", authMW)
	executions.GET("/:id", h.GetExecution)
	executions.POST("/:id/cancel", h.CancelExecution)

	r.GET("/statistics", authMW, h.Statistics)

	return r
}
