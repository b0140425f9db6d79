package repository

import (
	"gorm.io/gorm"

	"github.com/kay120/Code-reader/internal/model"
)

type ReadmeRepository struct {
	db *gorm.DB
}

func NewReadmeRepository(db *gorm.DB) *ReadmeRepository {
	return &ReadmeRepository{db: db}
}

// Upsert 同一任务重复生成时覆盖旧文档
func (r *ReadmeRepository) Upsert(readme *model.TaskReadme) error {
	var existing model.TaskReadme
	err := r.db.Where("task_id = ?", readme.TaskID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return r.db.Create(readme).Error
	}
	if err != nil {
		return err
	}
	existing.Content = readme.Content
	existing.OSSUrl = readme.OSSUrl
	return r.db.Save(&existing).Error
}

func (r *ReadmeRepository) GetByTaskID(taskID int64) (*model.TaskReadme, error) {
	var readme model.TaskReadme
	err := r.db.Where("task_id = ?", taskID).First(&readme).Error
	if err != nil {
		return nil, err
	}
	return &readme, nil
}
