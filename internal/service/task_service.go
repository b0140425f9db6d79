package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/kay120/Code-reader/config"
	"github.com/kay120/Code-reader/internal/collaborator"
	"github.com/kay120/Code-reader/internal/model"
	"github.com/kay120/Code-reader/internal/pkg/pubsub"
	"github.com/kay120/Code-reader/internal/pkg/queue"
	"github.com/kay120/Code-reader/internal/repository"
	"github.com/kay120/Code-reader/internal/scanner"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrRepoNotFound = errors.New("repository not found")
)

// KnowledgeBase 阶段1依赖的向量化服务
type KnowledgeBase interface {
	HealthCheck(ctx context.Context) error
	BuildIndex(ctx context.Context, taskID int64, docs []collaborator.Document) (string, error)
}

// RepoScanner 阶段0依赖的文件扫描
type RepoScanner interface {
	Scan(root string, taskID int64) (*scanner.Result, error)
}

// TaskService 分析任务的调度与流水线（阶段0-2）
type TaskService struct {
	taskRepo   *repository.TaskRepository
	fileRepo   *repository.FileRepository
	repoRepo   *repository.RepoRepository
	readmeRepo *repository.ReadmeRepository
	scanner    RepoScanner
	kb         KnowledgeBase
	jobQueue   *queue.Queue
	publisher  *pubsub.Publisher
	cfg        *config.Config
}

func NewTaskService(
	taskRepo *repository.TaskRepository,
	fileRepo *repository.FileRepository,
	repoRepo *repository.RepoRepository,
	readmeRepo *repository.ReadmeRepository,
	sc RepoScanner,
	kb KnowledgeBase,
	jobQueue *queue.Queue,
	publisher *pubsub.Publisher,
	cfg *config.Config,
) *TaskService {
	return &TaskService{
		taskRepo:   taskRepo,
		fileRepo:   fileRepo,
		repoRepo:   repoRepo,
		readmeRepo: readmeRepo,
		scanner:    sc,
		kb:         kb,
		jobQueue:   jobQueue,
		publisher:  publisher,
		cfg:        cfg,
	}
}

// CreateTask 建一个 pending 任务并投递流水线作业
func (s *TaskService) CreateTask(ctx context.Context, repoID int64) (*model.AnalysisTask, error) {
	if _, err := s.repoRepo.GetByID(repoID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRepoNotFound
		}
		return nil, err
	}

	task := &model.AnalysisTask{
		RepositoryID: repoID,
		Status:       model.TaskStatusPending,
	}
	if err := s.taskRepo.Create(task); err != nil {
		return nil, err
	}

	if err := s.jobQueue.Push(ctx, &queue.JobMessage{
		Kind:   queue.KindRunTask,
		TaskID: task.ID,
	}); err != nil {
		return nil, fmt.Errorf("enqueue task %d: %w", task.ID, err)
	}

	return task, nil
}

func (s *TaskService) GetTask(id int64) (*model.AnalysisTask, error) {
	task, err := s.taskRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// AdmissionDecision 准入判定结果
type AdmissionDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CanStart 全局单任务闸门：
// 有任务在跑一律拒绝；任务不存在、不是 pending 也拒绝；
// 多个 pending 里只放最早创建的那个。
func (s *TaskService) CanStart(taskID int64) (*AdmissionDecision, error) {
	running, err := s.taskRepo.HasRunningTask()
	if err != nil {
		return nil, err
	}
	if running {
		return &AdmissionDecision{Allowed: false, Reason: "another task is running"}, nil
	}

	task, err := s.taskRepo.GetByID(taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &AdmissionDecision{Allowed: false, Reason: "task not found"}, nil
		}
		return nil, err
	}

	if task.Status != model.TaskStatusPending {
		return &AdmissionDecision{
			Allowed: false,
			Reason:  fmt.Sprintf("task status is %s", task.Status),
		}, nil
	}

	pending, err := s.taskRepo.ListPendingOrdered()
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 && pending[0].ID != taskID {
		return &AdmissionDecision{Allowed: false, Reason: "not the earliest pending task"}, nil
	}

	return &AdmissionDecision{Allowed: true}, nil
}

// QueueStatus 排队概览
type QueueStatus struct {
	PendingCount         int64   `json:"pending_count"`
	RunningCount         int64   `json:"running_count"`
	PendingTaskIDs       []int64 `json:"pending_task_ids"`
	EstimatedWaitMinutes int     `json:"estimated_wait_minutes"`
	HasQueue             bool    `json:"has_queue"`
}

// GetQueueStatus 等待预估 = 排队数×平均耗时 − 运行数×已消耗折扣，不为负
func (s *TaskService) GetQueueStatus() (*QueueStatus, error) {
	pending, err := s.taskRepo.ListPendingOrdered()
	if err != nil {
		return nil, err
	}
	running, err := s.taskRepo.CountRunning()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(pending))
	for _, t := range pending {
		ids = append(ids, t.ID)
	}

	wait := len(pending)*s.cfg.Queue.AverageTaskMinutes - int(running)*s.cfg.Queue.RunningDiscountMins
	if wait < 0 {
		wait = 0
	}

	return &QueueStatus{
		PendingCount:         int64(len(pending)),
		RunningCount:         running,
		PendingTaskIDs:       ids,
		EstimatedWaitMinutes: wait,
		HasQueue:             len(pending) > 0 || running > 0,
	}, nil
}

// Run 流水线阶段0-2。该方法只负责把任务推进到 processing 并派发
// 文件作业，文件作业的汇合由完成检测负责。
func (s *TaskService) Run(ctx context.Context, taskID int64) error {
	task, err := s.taskRepo.GetByID(taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTaskNotFound
		}
		return err
	}

	// 取消/完成后落地的存量作业直接丢弃
	if task.Status == model.TaskStatusCancelled || task.Status == model.TaskStatusCompleted {
		log.Printf("Task %d: skip run, status=%s", taskID, task.Status)
		return nil
	}

	resume := task.Resumable()

	if err := s.taskRepo.MarkRunning(taskID); err != nil {
		return err
	}

	if resume {
		return s.resume(ctx, task)
	}

	repo, err := s.repoRepo.GetByID(task.RepositoryID)
	if err != nil {
		return s.fail(ctx, task, fmt.Errorf("load repository: %w", err))
	}

	// 全新重跑（TaskIndex 为空说明阶段2没开始过）：
	// 清掉上一次尝试留下的清单并重置计数，扫描才是幂等的
	if err := s.fileRepo.DeleteByTaskID(task.ID); err != nil {
		return s.fail(ctx, task, fmt.Errorf("reset file inventory: %w", err))
	}
	task.SuccessfulFiles = 0
	task.FailedFiles = 0

	// 阶段0：扫描
	s.publishStep(ctx, task, pubsub.StepScanning)
	log.Printf("Task %d: scanning %s", taskID, repo.LocalPath)

	result, err := s.scanner.Scan(repo.LocalPath, taskID)
	if err != nil {
		return s.fail(ctx, task, fmt.Errorf("scan repository: %w", err))
	}

	if err := s.fileRepo.BatchCreate(result.Files); err != nil {
		return s.fail(ctx, task, fmt.Errorf("persist file inventory: %w", err))
	}

	task.TotalFiles = result.TotalFiles
	task.CodeLines = result.CodeLines
	task.ModuleCount = result.ModuleCount
	if err := s.taskRepo.Update(task); err != nil {
		return s.fail(ctx, task, err)
	}

	// 阶段1：知识库构建。失败或拿不到句柄都是硬失败。
	s.publishStep(ctx, task, pubsub.StepVectorizing)
	log.Printf("Task %d: building knowledge base, %d files", taskID, result.TotalFiles)

	if err := s.kb.HealthCheck(ctx); err != nil {
		return s.fail(ctx, task, fmt.Errorf("knowledge base health check: %w", err))
	}

	docs := make([]collaborator.Document, 0, len(result.Files))
	for _, f := range result.Files {
		if f.CodeContent == "" {
			continue
		}
		docs = append(docs, collaborator.Document{
			Path:     f.FilePath,
			Language: f.Language,
			Content:  f.CodeContent,
		})
	}

	index, err := s.kb.BuildIndex(ctx, taskID, docs)
	if err != nil {
		return s.fail(ctx, task, fmt.Errorf("build knowledge base: %w", err))
	}
	if err := s.taskRepo.SetTaskIndexOnce(taskID, index); err != nil {
		return s.fail(ctx, task, err)
	}
	task.TaskIndex = index

	// 阶段2：派发文件级作业
	return s.dispatchFiles(ctx, task, result.Files)
}

// resume 断点续跑：跳过扫描和向量化，只重新派发 pending 文件
func (s *TaskService) resume(ctx context.Context, task *model.AnalysisTask) error {
	pending, err := s.fileRepo.ListPendingByTaskID(task.ID)
	if err != nil {
		return s.fail(ctx, task, err)
	}

	log.Printf("Task %d: resuming with index %s, %d files remaining", task.ID, task.TaskIndex, len(pending))

	if len(pending) == 0 {
		// 上次失败发生在所有文件结束之后，直接标记完成
		if err := s.taskRepo.MarkCompleted(task.ID); err != nil {
			return err
		}
		s.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
			TaskID: task.ID,
			RepoID: task.RepositoryID,
			Status: model.TaskStatusCompleted,
			Step:   pubsub.StepDone,
		})
		return nil
	}

	return s.dispatchFiles(ctx, task, pending)
}

// dispatchFiles 置 processing 并为每个文件投一个分析作业。
// 空仓库没有可分析文件，直接进入文档阶段。
func (s *TaskService) dispatchFiles(ctx context.Context, task *model.AnalysisTask, files []*model.FileAnalysis) error {
	if err := s.taskRepo.UpdateStatus(task.ID, model.TaskStatusProcessing); err != nil {
		return err
	}

	if len(files) == 0 {
		return s.finishWithoutFiles(ctx, task)
	}

	s.publishStep(ctx, task, pubsub.StepAnalyzing)

	for _, f := range files {
		if err := s.jobQueue.Push(ctx, &queue.JobMessage{
			Kind:      queue.KindAnalyzeFile,
			TaskID:    task.ID,
			FileID:    f.ID,
			TaskIndex: task.TaskIndex,
		}); err != nil {
			return s.fail(ctx, task, fmt.Errorf("enqueue file %d: %w", f.ID, err))
		}
	}

	log.Printf("Task %d: dispatched %d file jobs", task.ID, len(files))
	return nil
}

// finishWithoutFiles 没有待分析文件时的收尾：
// 能抢到派发权就走文档阶段，抢不到说明别处已经在收尾。
func (s *TaskService) finishWithoutFiles(ctx context.Context, task *model.AnalysisTask) error {
	claimed, err := s.taskRepo.ClaimDocDispatch(task.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	return s.jobQueue.Push(ctx, &queue.JobMessage{
		Kind:      queue.KindGenerateDocument,
		TaskID:    task.ID,
		TaskIndex: task.TaskIndex,
	})
}

// fail 任务失败落库并广播
func (s *TaskService) fail(ctx context.Context, task *model.AnalysisTask, cause error) error {
	log.Printf("Task %d: failed: %v", task.ID, cause)

	if err := s.taskRepo.UpdateStatusWithError(task.ID, model.TaskStatusFailed, cause.Error()); err != nil {
		log.Printf("Task %d: record failure: %v", task.ID, err)
	}

	s.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		TaskID: task.ID,
		RepoID: task.RepositoryID,
		Status: model.TaskStatusFailed,
		Error:  cause.Error(),
	})

	return cause
}

func (s *TaskService) publishStep(ctx context.Context, task *model.AnalysisTask, step string) {
	s.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		TaskID: task.ID,
		RepoID: task.RepositoryID,
		Status: model.TaskStatusRunning,
		Step:   step,
	})
}

// Reanalyze 重新分析：有可续跑的失败任务就续跑，
// 否则取消该仓库所有未完任务并建新任务
func (s *TaskService) Reanalyze(ctx context.Context, repoID int64) (*model.AnalysisTask, error) {
	if _, err := s.repoRepo.GetByID(repoID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRepoNotFound
		}
		return nil, err
	}

	resumable, err := s.taskRepo.LatestFailedResumable(repoID)
	if err == nil {
		log.Printf("Task %d: resume requested via reanalyze", resumable.ID)
		if err := s.jobQueue.Push(ctx, &queue.JobMessage{
			Kind:      queue.KindRunTask,
			TaskID:    resumable.ID,
			TaskIndex: resumable.TaskIndex,
		}); err != nil {
			return nil, err
		}
		return resumable, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := s.CancelRunning(ctx, repoID); err != nil {
		return nil, err
	}

	return s.CreateTask(ctx, repoID)
}

// CancelRunning 取消仓库所有未完任务并广播取消信号，幂等
func (s *TaskService) CancelRunning(ctx context.Context, repoID int64) error {
	tasks, err := s.taskRepo.ListByRepositoryID(repoID)
	if err != nil {
		return err
	}

	if err := s.taskRepo.CancelByRepositoryID(repoID); err != nil {
		return err
	}

	for _, t := range tasks {
		switch t.Status {
		case model.TaskStatusPending, model.TaskStatusRunning, model.TaskStatusProcessing:
			if err := s.publisher.PublishCancel(ctx, t.ID); err != nil {
				log.Printf("Task %d: publish cancel: %v", t.ID, err)
			}
		}
	}

	return nil
}

// ListFiles 任务的文件清单
func (s *TaskService) ListFiles(taskID int64) ([]*model.FileAnalysis, error) {
	if _, err := s.GetTask(taskID); err != nil {
		return nil, err
	}
	return s.fileRepo.ListByTaskID(taskID)
}

// GetReadme 任务的生成文档
func (s *TaskService) GetReadme(taskID int64) (*model.TaskReadme, error) {
	readme, err := s.readmeRepo.GetByTaskID(taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return readme, nil
}
