package model

import "time"

// 文件分析状态
const (
	FileStatusPending = "pending"
	FileStatusSuccess = "success"
	FileStatusFailed  = "failed"
)

// FileAnalysis 单个源文件的分析记录，task_id+file_path 唯一
type FileAnalysis struct {
	ID     int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID int64 `gorm:"not null;uniqueIndex:uk_task_file,priority:1" json:"task_id"`

	FilePath string `gorm:"type:varchar(1024);not null;uniqueIndex:uk_task_file,priority:2" json:"file_path"`
	Language string `gorm:"type:varchar(32);default:''" json:"language"`
	Status   string `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	CodeLines   int    `gorm:"default:0" json:"code_lines"`
	CodeContent string `gorm:"type:longtext" json:"-"`

	// FileAnalysis 文件级摘要，分析成功后写入
	FileAnalysis string `gorm:"type:text" json:"file_analysis,omitempty"`
	Dependencies string `gorm:"type:text" json:"dependencies,omitempty"` // JSON 数组

	ErrorMessage    string `gorm:"type:text" json:"error_message,omitempty"`
	AnalysisVersion int    `gorm:"default:1" json:"analysis_version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (FileAnalysis) TableName() string {
	return "file_analyses"
}
