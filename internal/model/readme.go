package model

import "time"

// TaskReadme 文档生成阶段的产物，每个任务最多一份
type TaskReadme struct {
	ID     int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID int64 `gorm:"not null;uniqueIndex" json:"task_id"`

	Content string `gorm:"type:longtext" json:"content"`
	OSSUrl  string `gorm:"type:varchar(512);default:''" json:"oss_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TaskReadme) TableName() string {
	return "task_readmes"
}
