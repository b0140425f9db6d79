package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kay120/Code-reader/config"
	"github.com/kay120/Code-reader/internal/collaborator"
	"github.com/kay120/Code-reader/internal/model"
	"github.com/kay120/Code-reader/internal/pkg/oss"
	"github.com/kay120/Code-reader/internal/pkg/pubsub"
	"github.com/kay120/Code-reader/internal/pkg/queue"
	"github.com/kay120/Code-reader/internal/repository"
	"github.com/kay120/Code-reader/internal/service"
)

// ContextProvider 文件分析取 RAG 上下文
type ContextProvider interface {
	Query(ctx context.Context, index, query string, topK int) ([]string, error)
}

// Analyzer 单作用域的 LLM 分析
type Analyzer interface {
	AnalyzeScope(ctx context.Context, language, targetType, targetName, code string, ragContext []string) (*collaborator.ScopeAnalysis, error)
	Summarize(ctx context.Context, filePath string, items []*collaborator.ScopeAnalysis) (string, error)
}

// DocGenerator 阶段3的文档生成协作方
type DocGenerator interface {
	UploadZip(ctx context.Context, zipPath string) (string, error)
	CreateTask(ctx context.Context, remotePath string) (string, error)
	Poll(ctx context.Context, docTaskID string) (collaborator.DocStatus, string, error)
}

// errTaskCancelled 作用域边界发现任务已不在 processing
var errTaskCancelled = errors.New("task no longer processing")

// Processor 作业处理器，按消息类型分发
type Processor struct {
	taskRepo    *repository.TaskRepository
	fileRepo    *repository.FileRepository
	itemRepo    *repository.ItemRepository
	readmeRepo  *repository.ReadmeRepository
	repoRepo    *repository.RepoRepository
	taskService *service.TaskService
	kb          ContextProvider
	llm         Analyzer
	doc         DocGenerator
	ossClient   *oss.Client
	publisher   *pubsub.Publisher
	jobQueue    *queue.Queue
	cfg         *config.Config
}

func NewProcessor(
	taskRepo *repository.TaskRepository,
	fileRepo *repository.FileRepository,
	itemRepo *repository.ItemRepository,
	readmeRepo *repository.ReadmeRepository,
	repoRepo *repository.RepoRepository,
	taskService *service.TaskService,
	kb ContextProvider,
	llm Analyzer,
	doc DocGenerator,
	ossClient *oss.Client,
	publisher *pubsub.Publisher,
	jobQueue *queue.Queue,
	cfg *config.Config,
) *Processor {
	return &Processor{
		taskRepo:    taskRepo,
		fileRepo:    fileRepo,
		itemRepo:    itemRepo,
		readmeRepo:  readmeRepo,
		repoRepo:    repoRepo,
		taskService: taskService,
		kb:          kb,
		llm:         llm,
		doc:         doc,
		ossClient:   ossClient,
		publisher:   publisher,
		jobQueue:    jobQueue,
		cfg:         cfg,
	}
}

// Process 按作业类型分发。每个作业有硬性墙钟超时。
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Queue.JobTimeoutMinutes)*time.Minute)
	defer cancel()

	switch msg.Kind {
	case queue.KindRunTask:
		return p.processRunTask(ctx, msg)
	case queue.KindAnalyzeFile:
		return p.processFile(ctx, msg)
	case queue.KindGenerateDocument:
		return p.processDocument(ctx, msg)
	default:
		log.Printf("unknown job kind %q, dropping", msg.Kind)
		return nil
	}
}

// processRunTask 流水线作业。新任务先过准入闸门，
// 被拒就延迟重新排队；续跑任务不再过闸门。
func (p *Processor) processRunTask(ctx context.Context, msg *queue.JobMessage) error {
	task, err := p.taskRepo.GetByID(msg.TaskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", msg.TaskID, err)
	}

	// 续跑任务和重试中的流水线不再过闸门：它们是已获准运行的延续
	if !task.Resumable() && msg.Retry == 0 {
		decision, err := p.taskService.CanStart(msg.TaskID)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			// 已到终态的任务没有再排队的意义
			if task.IsTerminal() {
				log.Printf("Task %d: admission denied (%s), dropping", msg.TaskID, decision.Reason)
				return nil
			}
			log.Printf("Task %d: admission denied (%s), requeueing", msg.TaskID, decision.Reason)
			return p.jobQueue.PushDelayed(ctx, msg,
				time.Duration(p.cfg.Queue.AdmissionRetryDelay)*time.Second)
		}
	}

	if err := p.taskService.Run(ctx, msg.TaskID); err != nil {
		return p.retryPipeline(ctx, msg, err)
	}
	return nil
}

// retryPipeline 流水线级重试，超过预算保持 failed 终态
func (p *Processor) retryPipeline(ctx context.Context, msg *queue.JobMessage, cause error) error {
	if msg.Retry >= p.cfg.Queue.PipelineMaxRetries {
		log.Printf("Task %d: pipeline failed after %d retries: %v", msg.TaskID, msg.Retry, cause)
		return cause
	}

	next := *msg
	next.Retry++
	log.Printf("Task %d: pipeline retry %d/%d in %ds: %v",
		msg.TaskID, next.Retry, p.cfg.Queue.PipelineMaxRetries, p.cfg.Queue.PipelineRetryDelay, cause)

	return p.jobQueue.PushDelayed(ctx, &next,
		time.Duration(p.cfg.Queue.PipelineRetryDelay)*time.Second)
}

// processFile 单文件分析作业
func (p *Processor) processFile(ctx context.Context, msg *queue.JobMessage) error {
	task, err := p.taskRepo.GetByID(msg.TaskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", msg.TaskID, err)
	}

	// 取消后落地的文件作业直接丢弃，不碰计数器
	if task.Status != model.TaskStatusProcessing {
		log.Printf("Task %d: file job %d skipped, task status=%s", msg.TaskID, msg.FileID, task.Status)
		return nil
	}

	file, err := p.fileRepo.GetByID(msg.FileID)
	if err != nil {
		return fmt.Errorf("load file %d: %w", msg.FileID, err)
	}
	if file.Status != model.FileStatusPending {
		// 重复投递：行已是终态说明计数器动过了，但上一个进程
		// 可能死在完成检测之前，这里补一次推进
		return p.checkCompletion(ctx, msg.TaskID, msg.TaskIndex)
	}

	if err := p.taskRepo.SetCurrentFile(task.ID, file.FilePath); err != nil {
		log.Printf("Task %d: set current file: %v", task.ID, err)
	}

	if analyzeErr := p.analyzeFile(ctx, task, file, msg.TaskIndex); analyzeErr != nil {
		if errors.Is(analyzeErr, errTaskCancelled) {
			return nil // 行保持 pending，计数器不动
		}
		return p.failOrRetryFile(ctx, msg, file, analyzeErr)
	}

	if err := p.taskRepo.IncSuccessfulFiles(task.ID); err != nil {
		return err
	}
	p.publishFileProgress(ctx, task)

	return p.checkCompletion(ctx, msg.TaskID, msg.TaskIndex)
}

// analyzeFile 拆作用域、取上下文、逐作用域调 LLM、落条目和摘要
func (p *Processor) analyzeFile(ctx context.Context, task *model.AnalysisTask, file *model.FileAnalysis, taskIndex string) error {
	scopes := Decompose(file.CodeContent, file.Language)
	if len(scopes) == 0 {
		// 空文件没有可分析内容，算成功
		return p.fileRepo.MarkSuccess(file.ID, "")
	}

	// RAG 上下文尽力而为，取不到就裸分析。
	// 检索词带上文件的依赖，把被依赖方的内容也捞进上下文。
	query := file.FilePath
	if deps := DependenciesOf(file); len(deps) > 0 {
		query = query + " " + strings.Join(deps, " ")
	}
	ragContext, err := p.kb.Query(ctx, taskIndex, query, 5)
	if err != nil {
		log.Printf("Task %d: rag context for %s: %v", task.ID, file.FilePath, err)
		ragContext = nil
	}

	// 重试进来的先清掉上次的半成品
	if err := p.itemRepo.DeleteByFileID(file.ID); err != nil {
		return err
	}

	items := make([]*model.AnalysisItem, 0, len(scopes))
	analyses := make([]*collaborator.ScopeAnalysis, 0, len(scopes))

	for _, scope := range scopes {
		// 作用域边界重查状态，响应取消
		current, err := p.taskRepo.GetByID(task.ID)
		if err != nil {
			return err
		}
		if current.Status != model.TaskStatusProcessing {
			log.Printf("Task %d: cancelled mid-file at %s", task.ID, file.FilePath)
			return errTaskCancelled
		}

		analysis, err := p.llm.AnalyzeScope(ctx, file.Language, scope.TargetType, scope.TargetName, scope.Code, ragContext)
		if err != nil {
			return fmt.Errorf("analyze %s %s: %w", scope.TargetType, scope.TargetName, err)
		}

		analyses = append(analyses, analysis)
		items = append(items, &model.AnalysisItem{
			TaskID:      task.ID,
			FileID:      file.ID,
			TargetType:  scope.TargetType,
			TargetName:  scope.TargetName,
			Title:       analysis.Title,
			Description: analysis.Description,
			CodeSnippet: scope.Code,
			StartLine:   scope.StartLine,
			EndLine:     scope.EndLine,
		})
	}

	if err := p.itemRepo.BatchCreate(items); err != nil {
		return err
	}

	summary, err := p.llm.Summarize(ctx, file.FilePath, analyses)
	if err != nil {
		// 摘要失败不推翻已有条目，用首条顶上
		log.Printf("Task %d: summarize %s: %v", task.ID, file.FilePath, err)
		if len(analyses) > 0 {
			summary = analyses[0].Description
		}
	}

	return p.fileRepo.MarkSuccess(file.ID, summary)
}

// failOrRetryFile 文件级重试，预算用完落 failed 并推进完成检测
func (p *Processor) failOrRetryFile(ctx context.Context, msg *queue.JobMessage, file *model.FileAnalysis, cause error) error {
	if msg.Retry < p.cfg.Queue.FileMaxRetries {
		next := *msg
		next.Retry++
		log.Printf("Task %d: file %s retry %d/%d: %v",
			msg.TaskID, file.FilePath, next.Retry, p.cfg.Queue.FileMaxRetries, cause)
		return p.jobQueue.PushDelayed(ctx, &next,
			time.Duration(p.cfg.Queue.FileRetryDelay)*time.Second)
	}

	log.Printf("Task %d: file %s failed permanently: %v", msg.TaskID, file.FilePath, cause)

	if err := p.fileRepo.MarkFailed(file.ID, cause.Error()); err != nil {
		return err
	}
	if err := p.taskRepo.IncFailedFiles(msg.TaskID); err != nil {
		return err
	}

	if task, err := p.taskRepo.GetByID(msg.TaskID); err == nil {
		p.publishFileProgress(ctx, task)
	}

	// 失败同样是终态，也要推进完成检测
	return p.checkCompletion(ctx, msg.TaskID, msg.TaskIndex)
}

// checkCompletion 完成检测：pending 归零后用 CAS 抢文档派发权，
// 并发的最后几个文件作业里恰好一个会抢到。
func (p *Processor) checkCompletion(ctx context.Context, taskID int64, taskIndex string) error {
	pending, err := p.fileRepo.CountPending(taskID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return nil
	}

	claimed, err := p.taskRepo.ClaimDocDispatch(taskID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	log.Printf("Task %d: all files terminal, dispatching document stage", taskID)
	return p.jobQueue.Push(ctx, &queue.JobMessage{
		Kind:      queue.KindGenerateDocument,
		TaskID:    taskID,
		TaskIndex: taskIndex,
	})
}

// processDocument 阶段3：打包上传、创建生成任务、轮询取回。
// 文档阶段任何失败都不推翻任务完成，没有重试。
func (p *Processor) processDocument(ctx context.Context, msg *queue.JobMessage) error {
	task, err := p.taskRepo.GetByID(msg.TaskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", msg.TaskID, err)
	}
	if task.Status == model.TaskStatusCancelled {
		return nil
	}

	p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		TaskID: task.ID,
		RepoID: task.RepositoryID,
		Status: model.TaskStatusProcessing,
		Step:   pubsub.StepDocument,
	})

	if err := p.generateDocument(ctx, task); err != nil {
		log.Printf("Task %d: document generation failed (task still completed): %v", task.ID, err)
	}

	if err := p.taskRepo.MarkCompleted(task.ID); err != nil {
		return err
	}

	p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		TaskID: task.ID,
		RepoID: task.RepositoryID,
		Status: model.TaskStatusCompleted,
		Step:   pubsub.StepDone,
	})

	log.Printf("Task %d: completed, %d/%d files successful",
		task.ID, task.SuccessfulFiles, task.TotalFiles)
	return nil
}

func (p *Processor) generateDocument(ctx context.Context, task *model.AnalysisTask) error {
	repo, err := p.repoRepo.GetByID(task.RepositoryID)
	if err != nil {
		return fmt.Errorf("load repository: %w", err)
	}

	zipPath := filepath.Join(os.TempDir(), fmt.Sprintf("doc_%d_%s.zip", task.ID, uuid.NewString()[:8]))
	if err := collaborator.ZipRepo(repo.LocalPath, zipPath); err != nil {
		return fmt.Errorf("zip repository: %w", err)
	}
	defer os.Remove(zipPath)

	remotePath, err := p.doc.UploadZip(ctx, zipPath)
	if err != nil {
		return fmt.Errorf("upload zip: %w", err)
	}

	docTaskID, err := p.doc.CreateTask(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("create document task: %w", err)
	}
	if err := p.taskRepo.SetDocTaskID(task.ID, docTaskID); err != nil {
		log.Printf("Task %d: record doc task id: %v", task.ID, err)
	}

	status, content, err := p.doc.Poll(ctx, docTaskID)
	if status != collaborator.DocReady {
		return fmt.Errorf("document not ready (%s): %w", status, err)
	}

	readme := &model.TaskReadme{TaskID: task.ID, Content: content}

	if p.ossClient != nil {
		url, err := p.ossClient.UploadDocument(task.ID, []byte(content))
		if err != nil {
			log.Printf("Task %d: oss upload: %v", task.ID, err)
		} else {
			readme.OSSUrl = url
		}
	}

	return p.readmeRepo.Upsert(readme)
}

// publishFileProgress 分析阶段按完成文件数播进度
func (p *Processor) publishFileProgress(ctx context.Context, task *model.AnalysisTask) {
	fresh, err := p.taskRepo.GetByID(task.ID)
	if err != nil {
		return
	}

	done := fresh.SuccessfulFiles + fresh.FailedFiles
	p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		TaskID:      fresh.ID,
		RepoID:      fresh.RepositoryID,
		Status:      fresh.Status,
		Step:        pubsub.StepAnalyzing,
		Progress:    pubsub.AnalyzeProgress(done, fresh.TotalFiles),
		CurrentFile: fresh.CurrentFile,
		Message:     fmt.Sprintf("已分析 %d/%d 个文件", done, fresh.TotalFiles),
	})
}

// DependenciesOf 解析文件记录里存的依赖 JSON
func DependenciesOf(file *model.FileAnalysis) []string {
	if file.Dependencies == "" {
		return nil
	}
	var deps []string
	if err := json.Unmarshal([]byte(file.Dependencies), &deps); err != nil {
		return nil
	}
	return deps
}
