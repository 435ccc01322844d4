package router

import (
	"workbench/app/handler"
	"workbench/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router wires handlers onto the gin engine
type Router struct {
	serverHandler *handler.ServerHandler
	sizeHandler   *handler.ServerSizeHandler
	usageHandler  *handler.UsageHandler
}

// NewRouter creates a new Router
func NewRouter(serverHandler *handler.ServerHandler, sizeHandler *handler.ServerSizeHandler, usageHandler *handler.UsageHandler) *Router {
	return &Router{
		serverHandler: serverHandler,
		sizeHandler:   sizeHandler,
		usageHandler:  usageHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := engine.Group("/api/v1")
	api.Use(middleware.AuthMiddleware())
	{
		servers := api.Group("/servers")
		{
			servers.POST("", r.serverHandler.Create)
			servers.GET("", r.serverHandler.List)
			servers.GET("/:server_id", r.serverHandler.Get)
			servers.POST("/:server_id/start", r.serverHandler.Start)
			servers.POST("/:server_id/stop", r.serverHandler.Stop)
			servers.POST("/:server_id/terminate", r.serverHandler.Terminate)
			servers.GET("/:server_id/status", r.serverHandler.Status)
			servers.GET("/:server_id/runs", r.serverHandler.Runs)
			servers.GET("/:server_id/watch", r.serverHandler.Watch)

			// Ephemeral update-message tracker
			servers.GET("/:server_id/update-message", r.serverHandler.GetUpdateMessage)
			servers.PUT("/:server_id/update-message", r.serverHandler.PutUpdateMessage)
			servers.DELETE("/:server_id/update-message", r.serverHandler.DeleteUpdateMessage)
		}

		sizes := api.Group("/sizes")
		{
			sizes.POST("", r.sizeHandler.Create)
			sizes.GET("", r.sizeHandler.List)
			sizes.GET("/:name", r.sizeHandler.Get)
		}

		api.GET("/usage", r.usageHandler.Get)
		api.POST("/lti/launch", r.serverHandler.Launch)
	}
}
