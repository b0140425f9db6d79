package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kay120/Code-reader/config"
	"github.com/kay120/Code-reader/internal/collaborator"
	"github.com/kay120/Code-reader/internal/database"
	"github.com/kay120/Code-reader/internal/pkg/oss"
	"github.com/kay120/Code-reader/internal/pkg/pubsub"
	"github.com/kay120/Code-reader/internal/pkg/queue"
	"github.com/kay120/Code-reader/internal/repository"
	"github.com/kay120/Code-reader/internal/scanner"
	"github.com/kay120/Code-reader/internal/service"
	"github.com/kay120/Code-reader/internal/worker"
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

	// 初始化 OSS（可选）
	var ossClient *oss.Client
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			log.Println("OSS client initialized")
		}
	}

	// 初始化 Queue 和 Pub/Sub
	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化 Repository
	taskRepo := repository.NewTaskRepository(db)
	fileRepo := repository.NewFileRepository(db)
	itemRepo := repository.NewItemRepository(db)
	readmeRepo := repository.NewReadmeRepository(db)
	repoRepo := repository.NewRepoRepository(db)

	// 外部协作方客户端
	kbClient := collaborator.NewKnowledgeBaseClient(cfg.RAG.BaseURL, cfg.RAG.BatchSize)
	llmClient := collaborator.NewLLMAnalyzer(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	docClient := collaborator.NewDocumentClient(collaborator.DocumentClientConfig{
		BaseURL:          cfg.Readme.BaseURL,
		UploadMaxRetries: cfg.Readme.UploadMaxRetries,
		CreateMaxRetries: cfg.Readme.CreateMaxRetries,
		RetryDelay:       time.Duration(cfg.Readme.RetryDelaySeconds) * time.Second,
		PollInterval:     time.Duration(cfg.Readme.PollInterval) * time.Second,
		PollMaxAttempts:  cfg.Readme.PollMaxAttempts,
		Language:         cfg.Readme.Language,
		Model:            cfg.Readme.Model,
	})

	// 流水线服务与作业处理器
	taskService := service.NewTaskService(
		taskRepo, fileRepo, repoRepo, readmeRepo,
		scanner.New(), kbClient, jobQueue, publisher, cfg)
	processor := worker.NewProcessor(
		taskRepo, fileRepo, itemRepo, readmeRepo, repoRepo,
		taskService, kbClient, llmClient, docClient,
		ossClient, publisher, jobQueue, cfg)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	// 延迟队列搬运：到期的重试作业移回主队列
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := jobQueue.MoveDue(ctx); err != nil && ctx.Err() == nil {
					log.Printf("Failed to move due jobs: %v", err)
				}
			}
		}
	}()

	log.Printf("Worker started, max workers: %d", cfg.Queue.MaxWorkers)

	// 启动 worker 循环
	for i := 0; i < cfg.Queue.MaxWorkers; i++ {
		go func(workerID int) {
			for {
				select {
				case <-ctx.Done():
					log.Printf("Worker %d shutting down", workerID)
					return
				default:
					msg, err := jobQueue.Pop(ctx, 5*time.Second)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						log.Printf("Worker %d: failed to pop job: %v", workerID, err)
						continue
					}

					if msg == nil {
						continue // 超时，继续等待
					}

					log.Printf("Worker %d: processing %s job for task %d", workerID, msg.Kind, msg.TaskID)
					if err := processor.Process(ctx, msg); err != nil {
						log.Printf("Worker %d: %s job for task %d failed: %v", workerID, msg.Kind, msg.TaskID, err)
					}
				}
			}
		}(i)
	}

	// 等待 context 取消
	<-ctx.Done()
	log.Println("Worker shutdown complete")
}
