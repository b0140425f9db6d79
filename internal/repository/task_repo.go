package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/kay120/Code-reader/internal/model"
)

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(task *model.AnalysisTask) error {
	return r.db.Create(task).Error
}

func (r *TaskRepository) GetByID(id int64) (*model.AnalysisTask, error) {
	var task model.AnalysisTask
	err := r.db.Where("id = ?", id).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) Update(task *model.AnalysisTask) error {
	return r.db.Save(task).Error
}

func (r *TaskRepository) UpdateStatus(id int64, status string) error {
	return r.db.Model(&model.AnalysisTask{}).Where("id = ?", id).Update("status", status).Error
}

func (r *TaskRepository) UpdateStatusWithError(id int64, status, errMsg string) error {
	return r.db.Model(&model.AnalysisTask{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMsg,
			"current_file":  "",
		}).Error
}

func (r *TaskRepository) SetCurrentFile(id int64, path string) error {
	return r.db.Model(&model.AnalysisTask{}).Where("id = ?", id).Update("current_file", path).Error
}

// SetTaskIndexOnce 写入知识库句柄，只在尚未写过时生效
func (r *TaskRepository) SetTaskIndexOnce(id int64, taskIndex string) error {
	return r.db.Model(&model.AnalysisTask{}).
		Where("id = ? AND task_index = ''", id).
		Update("task_index", taskIndex).Error
}

// MarkRunning 置为 running，StartTime 只在第一次启动时写
func (r *TaskRepository) MarkRunning(id int64) error {
	now := time.Now()
	if err := r.db.Model(&model.AnalysisTask{}).
		Where("id = ? AND start_time IS NULL", id).
		Update("start_time", now).Error; err != nil {
		return err
	}
	return r.db.Model(&model.AnalysisTask{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.TaskStatusRunning, "error_message": ""}).Error
}

// MarkCompleted 终态完成，清掉 current_file 并写 end_time
func (r *TaskRepository) MarkCompleted(id int64) error {
	now := time.Now()
	return r.db.Model(&model.AnalysisTask{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusCompleted,
			"current_file": "",
			"end_time":     now,
		}).Error
}

// IncSuccessfulFiles / IncFailedFiles 用 SQL 表达式原子自增，
// 并发的文件作业各自加一不会互相覆盖
func (r *TaskRepository) IncSuccessfulFiles(id int64) error {
	return r.db.Model(&model.AnalysisTask{}).Where("id = ?", id).
		Update("successful_files", gorm.Expr("successful_files + 1")).Error
}

func (r *TaskRepository) IncFailedFiles(id int64) error {
	return r.db.Model(&model.AnalysisTask{}).Where("id = ?", id).
		Update("failed_files", gorm.Expr("failed_files + 1")).Error
}

// ClaimDocDispatch 文档阶段派发权的 CAS 抢占。
// 只有状态仍是 processing 且尚未派发过的任务才能抢到，
// 多个并发完成检测里恰好一个返回 true。
func (r *TaskRepository) ClaimDocDispatch(id int64) (bool, error) {
	res := r.db.Model(&model.AnalysisTask{}).
		Where("id = ? AND doc_dispatched = ? AND status = ?", id, false, model.TaskStatusProcessing).
		Update("doc_dispatched", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *TaskRepository) SetDocTaskID(id int64, docTaskID string) error {
	return r.db.Model(&model.AnalysisTask{}).Where("id = ?", id).
		Update("doc_task_id", docTaskID).Error
}

// HasRunningTask 是否存在 running/processing 状态的任务（全局单任务闸门）
func (r *TaskRepository) HasRunningTask() (bool, error) {
	var count int64
	err := r.db.Model(&model.AnalysisTask{}).
		Where("status IN ?", []string{model.TaskStatusRunning, model.TaskStatusProcessing}).
		Count(&count).Error
	return count > 0, err
}

// ListPendingOrdered 按创建时间升序返回所有 pending 任务
func (r *TaskRepository) ListPendingOrdered() ([]*model.AnalysisTask, error) {
	var tasks []*model.AnalysisTask
	err := r.db.Where("status = ?", model.TaskStatusPending).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

func (r *TaskRepository) CountRunning() (int64, error) {
	var count int64
	err := r.db.Model(&model.AnalysisTask{}).
		Where("status IN ?", []string{model.TaskStatusRunning, model.TaskStatusProcessing}).
		Count(&count).Error
	return count, err
}

// ListByRepositoryID 某仓库的任务，新的在前
func (r *TaskRepository) ListByRepositoryID(repoID int64) ([]*model.AnalysisTask, error) {
	var tasks []*model.AnalysisTask
	err := r.db.Where("repository_id = ?", repoID).
		Order("created_at DESC").
		Find(&tasks).Error
	return tasks, err
}

// LatestFailedResumable 某仓库最近一个可续跑的失败任务
func (r *TaskRepository) LatestFailedResumable(repoID int64) (*model.AnalysisTask, error) {
	var task model.AnalysisTask
	err := r.db.Where("repository_id = ? AND status = ? AND task_index <> ''",
		repoID, model.TaskStatusFailed).
		Order("created_at DESC").
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelByRepositoryID 取消某仓库所有未结束的任务，幂等
func (r *TaskRepository) CancelByRepositoryID(repoID int64) error {
	return r.db.Model(&model.AnalysisTask{}).
		Where("repository_id = ? AND status IN ?", repoID,
			[]string{model.TaskStatusPending, model.TaskStatusRunning, model.TaskStatusProcessing}).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusCancelled,
			"current_file": "",
		}).Error
}
