package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

// NewRouter wires the Admin Interface: a public magic-link auth surface and
// a JWT-protected schedule/catalog surface, per spec.md §4.6 and §6.
func NewRouter(logger *slog.Logger, scheduleHandler *handler.ScheduleHandler, authHandler *handler.AuthHandler, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.POST("/auth/magic-link", authHandler.RequestMagicLink)
	r.GET("/auth/verify", authHandler.Verify)

	admin := r.Group("/", middleware.Auth(jwtKey))

	admin.GET("/schedules", scheduleHandler.List)
	admin.POST("/schedules", scheduleHandler.Create)
	admin.PUT("/schedules/:name", scheduleHandler.Update)
	admin.DELETE("/schedules/:name", scheduleHandler.Delete)
	admin.POST("/schedules/pause", scheduleHandler.Pause)
	admin.POST("/schedules/resume", scheduleHandler.Resume)
	admin.GET("/schedules/preview", scheduleHandler.Preview)
	admin.GET("/schedules/export", scheduleHandler.Export)
	admin.POST("/schedules/import", scheduleHandler.Import)
	admin.POST("/schedules/run-now", scheduleHandler.RunNow)
	admin.GET("/tasks/catalog", scheduleHandler.Catalog)

	return r
}
