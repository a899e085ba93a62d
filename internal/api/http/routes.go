package http

import "github.com/gin-gonic/gin"

// Register mounts every API route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	t := r.Group("/tasks")
	{
		t.POST("", h.StartTask)
		t.GET("", h.ListTasks)
		t.POST("/clear-completed", h.ClearCompleted)
		t.GET("/:id", h.GetTask)
		t.DELETE("/:id", h.StopTask)
		t.POST("/:id/events", h.SendTaskEvent)
	}

	r.POST("/permissions/:correlation", h.RespondPermission)

	m := r.Group("/modules")
	{
		m.GET("/resolve", h.ResolveSpecifier)
		m.GET("/virtual", h.ListVirtualModules)
		m.DELETE("/virtual", h.UnregisterAllVirtualModules)
		m.PUT("/virtual/*key", h.RegisterVirtualModule)
		m.DELETE("/virtual/*key", h.UnregisterVirtualModule)
	}

	r.POST("/events", h.SendMainEvent)
}
