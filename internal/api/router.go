package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kay120/Code-reader/config"
	"github.com/kay120/Code-reader/internal/api/handler"
	"github.com/kay120/Code-reader/internal/api/middleware"
)

type Router struct {
	taskHandler      *handler.TaskHandler
	uploadHandler    *handler.UploadHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
}

func NewRouter(
	taskHandler *handler.TaskHandler,
	uploadHandler *handler.UploadHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		taskHandler:      taskHandler,
		uploadHandler:    uploadHandler,
		websocketHandler: websocketHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket 进度推送
		api.GET("/ws", r.websocketHandler.Handle)

		// 上传仓库
		api.POST("/upload", r.uploadHandler.Upload)

		// 仓库维度操作
		repos := api.Group("/repositories")
		{
			repos.POST("/:id/tasks", r.taskHandler.Create)
			repos.POST("/:id/reanalyze", r.taskHandler.Reanalyze)
			repos.POST("/:id/cancel", r.taskHandler.Cancel)
		}

		// 任务维度操作
		tasks := api.Group("/tasks")
		{
			tasks.GET("/queue/status", r.taskHandler.QueueStatus)
			tasks.GET("/:id", r.taskHandler.Get)
			tasks.GET("/:id/can-start", r.taskHandler.CanStart)
			tasks.GET("/:id/files", r.taskHandler.ListFiles)
			tasks.GET("/:id/readme", r.taskHandler.GetReadme)
		}
	}

	return engine
}
