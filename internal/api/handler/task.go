package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kay120/Code-reader/internal/pkg/response"
	"github.com/kay120/Code-reader/internal/service"
)

type TaskHandler struct {
	taskService *service.TaskService
}

func NewTaskHandler(taskService *service.TaskService) *TaskHandler {
	return &TaskHandler{taskService: taskService}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "无效的 ID")
		return 0, false
	}
	return id, true
}

// Create 为仓库创建分析任务
// POST /api/v1/repositories/:id/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	repoID, ok := parseID(c)
	if !ok {
		return
	}

	task, err := h.taskService.CreateTask(c.Request.Context(), repoID)
	if err != nil {
		if errors.Is(err, service.ErrRepoNotFound) {
			response.NotFoundError(c, "仓库不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, task)
}

// Get 查询任务详情
// GET /api/v1/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	taskID, ok := parseID(c)
	if !ok {
		return
	}

	task, err := h.taskService.GetTask(taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			response.NotFoundError(c, "任务不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, task)
}

// CanStart 查询任务是否获准执行
// GET /api/v1/tasks/:id/can-start
func (h *TaskHandler) CanStart(c *gin.Context) {
	taskID, ok := parseID(c)
	if !ok {
		return
	}

	decision, err := h.taskService.CanStart(taskID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, decision)
}

// QueueStatus 队列概况与等待时间估算
// GET /api/v1/tasks/queue/status
func (h *TaskHandler) QueueStatus(c *gin.Context) {
	status, err := h.taskService.GetQueueStatus()
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, status)
}

// Reanalyze 重新分析：可续跑的失败任务原地续跑，否则取消在跑任务另起新任务
// POST /api/v1/repositories/:id/reanalyze
func (h *TaskHandler) Reanalyze(c *gin.Context) {
	repoID, ok := parseID(c)
	if !ok {
		return
	}

	task, err := h.taskService.Reanalyze(c.Request.Context(), repoID)
	if err != nil {
		if errors.Is(err, service.ErrRepoNotFound) {
			response.NotFoundError(c, "仓库不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, task)
}

// Cancel 取消仓库下所有未结束的任务
// POST /api/v1/repositories/:id/cancel
func (h *TaskHandler) Cancel(c *gin.Context) {
	repoID, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.taskService.CancelRunning(c.Request.Context(), repoID); err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, nil)
}

// ListFiles 任务的文件分析结果
// GET /api/v1/tasks/:id/files
func (h *TaskHandler) ListFiles(c *gin.Context) {
	taskID, ok := parseID(c)
	if !ok {
		return
	}

	files, err := h.taskService.ListFiles(taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			response.NotFoundError(c, "任务不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, files)
}

// GetReadme 任务生成的文档
// GET /api/v1/tasks/:id/readme
func (h *TaskHandler) GetReadme(c *gin.Context) {
	taskID, ok := parseID(c)
	if !ok {
		return
	}

	readme, err := h.taskService.GetReadme(taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			response.NotFoundError(c, "文档尚未生成")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, readme)
}
