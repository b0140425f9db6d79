package repository

import (
	"gorm.io/gorm"

	"github.com/kay120/Code-reader/internal/model"
)

type ItemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

func (r *ItemRepository) BatchCreate(items []*model.AnalysisItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.CreateInBatches(items, 100).Error
}

func (r *ItemRepository) ListByFileID(fileID int64) ([]*model.AnalysisItem, error) {
	var items []*model.AnalysisItem
	err := r.db.Where("file_id = ?", fileID).
		Order("start_line ASC").
		Find(&items).Error
	return items, err
}

func (r *ItemRepository) ListByTaskID(taskID int64) ([]*model.AnalysisItem, error) {
	var items []*model.AnalysisItem
	err := r.db.Where("task_id = ?", taskID).Find(&items).Error
	return items, err
}

// DeleteByFileID 重试前清掉半成品，避免重复条目
func (r *ItemRepository) DeleteByFileID(fileID int64) error {
	return r.db.Where("file_id = ?", fileID).Delete(&model.AnalysisItem{}).Error
}
