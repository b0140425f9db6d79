package main

import (
	"context"
	"fmt"
	"log"

	"github.com/kay120/Code-reader/config"
	"github.com/kay120/Code-reader/internal/api"
	"github.com/kay120/Code-reader/internal/api/handler"
	"github.com/kay120/Code-reader/internal/collaborator"
	"github.com/kay120/Code-reader/internal/database"
	"github.com/kay120/Code-reader/internal/pkg/cron"
	"github.com/kay120/Code-reader/internal/pkg/pubsub"
	"github.com/kay120/Code-reader/internal/pkg/queue"
	"github.com/kay120/Code-reader/internal/pkg/ws"
	"github.com/kay120/Code-reader/internal/repository"
	"github.com/kay120/Code-reader/internal/scanner"
	"github.com/kay120/Code-reader/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化 Queue
	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)

	// 初始化 Repository
	taskRepo := repository.NewTaskRepository(db)
	fileRepo := repository.NewFileRepository(db)
	repoRepo := repository.NewRepoRepository(db)
	readmeRepo := repository.NewReadmeRepository(db)

	// 初始化 Service
	kbClient := collaborator.NewKnowledgeBaseClient(cfg.RAG.BaseURL, cfg.RAG.BatchSize)
	taskService := service.NewTaskService(
		taskRepo, fileRepo, repoRepo, readmeRepo,
		scanner.New(), kbClient, jobQueue,
		pubsub.NewPublisher(rdb), cfg)
	uploadService := service.NewUploadService(repoRepo, taskService, cfg)

	// WebSocket Hub + Redis 订阅桥接
	wsHub := ws.NewHub()
	bridge := ws.NewBridge(wsHub, pubsub.NewSubscriber(rdb))
	go func() {
		if err := bridge.Run(context.Background()); err != nil {
			log.Printf("WebSocket bridge stopped: %v", err)
		}
	}()
	log.Println("WebSocket hub started")

	// 周期清理
	cronService := cron.NewService(repoRepo, cfg.Upload.TempDir, cfg.Upload.RepoDir, cfg.Upload.ExpireHours)
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Handler 和 Router
	router := api.NewRouter(
		handler.NewTaskHandler(taskService),
		handler.NewUploadHandler(uploadService, cfg),
		handler.NewWebSocketHandler(wsHub),
		cfg,
	)
	engine := router.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
