package model

import "time"

// 分析粒度
const (
	ItemTargetFile     = "file"
	ItemTargetClass    = "class"
	ItemTargetFunction = "function"
)

// AnalysisItem 文件内某个作用域（整文件/类/函数）的一条分析结果
type AnalysisItem struct {
	ID     int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID int64 `gorm:"not null;index" json:"task_id"`
	FileID int64 `gorm:"not null;index" json:"file_id"`

	TargetType string `gorm:"type:varchar(20);not null" json:"target_type"` // file/class/function
	TargetName string `gorm:"type:varchar(255);default:''" json:"target_name"`

	Title       string `gorm:"type:varchar(512)" json:"title"`
	Description string `gorm:"type:text" json:"description"`

	CodeSnippet string `gorm:"type:text" json:"code_snippet,omitempty"`
	StartLine   int    `gorm:"default:0" json:"start_line"`
	EndLine     int    `gorm:"default:0" json:"end_line"`

	CreatedAt time.Time `json:"created_at"`
}

func (AnalysisItem) TableName() string {
	return "analysis_items"
}
