package router

import (
	"streamspeech/internal/bootstrap"
	"streamspeech/internal/middleware"

	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the router with all routes.
// All dependencies are explicitly injected through AppDependencies.
func NewRouter(deps *bootstrap.AppDependencies) *gin.Engine {
	ginRouter := gin.New()

	ginRouter.Use(middleware.RequestID())
	ginRouter.Use(middleware.Logger())
	ginRouter.Use(gin.Recovery())

	ginRouter.GET("/ws", func(c *gin.Context) {
		deps.WSGateway.HandleWebSocket(c.Writer, c.Request)
	})

	deps.HTTPAPIHandler.RegisterRoutes(ginRouter)
	deps.FileTranscribe.RegisterRoutes(ginRouter)

	if deps.SpeakerHandler != nil {
		deps.SpeakerHandler.RegisterRoutes(ginRouter)
	}

	return ginRouter
}
