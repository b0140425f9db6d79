package repository

import (
	"gorm.io/gorm"

	"github.com/kay120/Code-reader/internal/model"
)

type FileRepository struct {
	db *gorm.DB
}

func NewFileRepository(db *gorm.DB) *FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) Create(file *model.FileAnalysis) error {
	return r.db.Create(file).Error
}

func (r *FileRepository) BatchCreate(files []*model.FileAnalysis) error {
	if len(files) == 0 {
		return nil
	}
	return r.db.CreateInBatches(files, 100).Error
}

// DeleteByTaskID 全新重跑前清掉上次尝试留下的清单，
// 否则重新扫描会撞 uk_task_file 唯一索引
func (r *FileRepository) DeleteByTaskID(taskID int64) error {
	return r.db.Where("task_id = ?", taskID).Delete(&model.FileAnalysis{}).Error
}

func (r *FileRepository) GetByID(id int64) (*model.FileAnalysis, error) {
	var file model.FileAnalysis
	err := r.db.Where("id = ?", id).First(&file).Error
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *FileRepository) ListByTaskID(taskID int64) ([]*model.FileAnalysis, error) {
	var files []*model.FileAnalysis
	err := r.db.Where("task_id = ?", taskID).
		Order("file_path ASC").
		Find(&files).Error
	return files, err
}

// ListPendingByTaskID 断点续跑只重新派发这些行
func (r *FileRepository) ListPendingByTaskID(taskID int64) ([]*model.FileAnalysis, error) {
	var files []*model.FileAnalysis
	err := r.db.Where("task_id = ? AND status = ?", taskID, model.FileStatusPending).
		Order("file_path ASC").
		Find(&files).Error
	return files, err
}

// CountPending 完成检测的依据：归零说明所有文件都到了终态
func (r *FileRepository) CountPending(taskID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.FileAnalysis{}).
		Where("task_id = ? AND status = ?", taskID, model.FileStatusPending).
		Count(&count).Error
	return count, err
}

func (r *FileRepository) MarkSuccess(id int64, summary string) error {
	return r.db.Model(&model.FileAnalysis{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.FileStatusSuccess,
			"file_analysis": summary,
			"error_message": "",
		}).Error
}

func (r *FileRepository) MarkFailed(id int64, errMsg string) error {
	return r.db.Model(&model.FileAnalysis{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.FileStatusFailed,
			"error_message": errMsg,
		}).Error
}
