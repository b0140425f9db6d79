package model

import "time"

// 任务状态
const (
	TaskStatusPending    = "pending"    // 等待调度
	TaskStatusRunning    = "running"    // 流水线阶段 0-1 执行中
	TaskStatusProcessing = "processing" // 文件级分析扇出中
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
)

// AnalysisTask 一次仓库分析任务
type AnalysisTask struct {
	ID           int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	RepositoryID int64  `gorm:"not null;index" json:"repository_id"`
	Status       string `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	TotalFiles      int `gorm:"default:0" json:"total_files"`
	SuccessfulFiles int `gorm:"default:0" json:"successful_files"`
	FailedFiles     int `gorm:"default:0" json:"failed_files"`
	CodeLines       int `gorm:"default:0" json:"code_lines"`
	ModuleCount     int `gorm:"default:0" json:"module_count"`

	// 当前正在分析的文件路径，空串表示没有
	CurrentFile string `gorm:"type:varchar(1024);default:''" json:"current_file"`

	// TaskIndex 知识库句柄，阶段1成功后写入一次，之后不再变。
	// 非空 + failed 即表示可以断点续跑（跳过阶段 0/1）。
	TaskIndex string `gorm:"type:varchar(128);default:'';index" json:"task_index"`

	// DocDispatched 文档生成阶段的派发标记，CAS 置位保证只派发一次
	DocDispatched bool   `gorm:"default:false" json:"doc_dispatched"`
	DocTaskID     string `gorm:"type:varchar(128);default:''" json:"doc_task_id"`

	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AnalysisTask) TableName() string {
	return "analysis_tasks"
}

// IsTerminal 是否已到终态
func (t *AnalysisTask) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Resumable failed 且持有知识库句柄的任务可以跳过扫描和向量化直接续跑
func (t *AnalysisTask) Resumable() bool {
	return t.Status == TaskStatusFailed && t.TaskIndex != ""
}
