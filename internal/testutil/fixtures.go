package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/kay120/Code-reader/internal/model"
)

// TestRepository 创建测试仓库
func TestRepository(t *testing.T, db *gorm.DB, opts ...func(*model.Repository)) *model.Repository {
	t.Helper()

	name := fmt.Sprintf("repo_%d", time.Now().UnixNano()%100000)
	repo := &model.Repository{
		Name:      name,
		FullName:  "tester/" + name,
		LocalPath: "/tmp/data/repos/" + name,
		Status:    "active",
	}

	for _, opt := range opts {
		opt(repo)
	}

	if err := db.Create(repo).Error; err != nil {
		t.Fatalf("Failed to create test repository: %v", err)
	}

	return repo
}

// WithLocalPath 设置本地路径
func WithLocalPath(path string) func(*model.Repository) {
	return func(r *model.Repository) {
		r.LocalPath = path
	}
}

// TestTask 创建测试任务
func TestTask(t *testing.T, db *gorm.DB, repoID int64, opts ...func(*model.AnalysisTask)) *model.AnalysisTask {
	t.Helper()

	task := &model.AnalysisTask{
		RepositoryID: repoID,
		Status:       model.TaskStatusPending,
	}

	for _, opt := range opts {
		opt(task)
	}

	if err := db.Create(task).Error; err != nil {
		t.Fatalf("Failed to create test task: %v", err)
	}

	return task
}

// WithStatus 设置任务状态
func WithStatus(status string) func(*model.AnalysisTask) {
	return func(task *model.AnalysisTask) {
		task.Status = status
	}
}

// WithTaskIndex 设置知识库句柄
func WithTaskIndex(index string) func(*model.AnalysisTask) {
	return func(task *model.AnalysisTask) {
		task.TaskIndex = index
	}
}

// WithCounters 设置文件计数
func WithCounters(total, successful, failed int) func(*model.AnalysisTask) {
	return func(task *model.AnalysisTask) {
		task.TotalFiles = total
		task.SuccessfulFiles = successful
		task.FailedFiles = failed
	}
}

// WithCreatedAt 设置创建时间（用于排队顺序）
func WithCreatedAt(at time.Time) func(*model.AnalysisTask) {
	return func(task *model.AnalysisTask) {
		task.CreatedAt = at
	}
}

// WithStartTime 设置启动时间
func WithStartTime(at time.Time) func(*model.AnalysisTask) {
	return func(task *model.AnalysisTask) {
		task.StartTime = &at
	}
}

// TestFile 创建测试文件记录
func TestFile(t *testing.T, db *gorm.DB, taskID int64, path string, opts ...func(*model.FileAnalysis)) *model.FileAnalysis {
	t.Helper()

	file := &model.FileAnalysis{
		TaskID:   taskID,
		FilePath: path,
		Language: "python",
		Status:   model.FileStatusPending,
	}

	for _, opt := range opts {
		opt(file)
	}

	if err := db.Create(file).Error; err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	return file
}

// WithFileStatus 设置文件状态
func WithFileStatus(status string) func(*model.FileAnalysis) {
	return func(f *model.FileAnalysis) {
		f.Status = status
	}
}

// WithContent 设置文件内容与行数
func WithContent(content string, lines int) func(*model.FileAnalysis) {
	return func(f *model.FileAnalysis) {
		f.CodeContent = content
		f.CodeLines = lines
	}
}

// WithLanguage 设置语言
func WithLanguage(lang string) func(*model.FileAnalysis) {
	return func(f *model.FileAnalysis) {
		f.Language = lang
	}
}
