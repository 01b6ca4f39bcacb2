package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the interpolation API.
//
// API Structure:
//
//	/api/v1/interpolation
//	├── /engines                  - Engine descriptors and install state
//	├── /runs                     - Start a run, checkpoint history
//	├── /runs/current             - Active run snapshot and cancellation
//	├── /system                   - GPU and host state
//	├── /metrics                  - Telemetry counters and timers
//	├── /errors                   - Background errors
//	└── /ws                       - Live log, notification and state stream
func RegisterRoutes(router *gin.Engine, handler *APIHandler, hub *Hub) {
	v1 := router.Group("/api/v1/interpolation")
	{
		v1.GET("/engines", handler.ListEngines)

		v1.POST("/runs", handler.StartRun)
		v1.GET("/runs", handler.ListRuns)
		v1.GET("/runs/current", handler.GetCurrentRun)
		v1.POST("/runs/current/cancel", handler.CancelCurrentRun)
		v1.GET("/runs/:id", handler.GetRun)

		v1.GET("/system", handler.GetSystem)
		v1.GET("/metrics", handler.GetMetrics)
		v1.GET("/errors", handler.GetErrors)

		if hub != nil {
			v1.GET("/ws", hub.HandleWebSocket)
		}
	}
}
