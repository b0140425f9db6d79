package service

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kay120/Code-reader/config"
	"github.com/kay120/Code-reader/internal/model"
	"github.com/kay120/Code-reader/internal/repository"
)

var (
	ErrInvalidZip   = fmt.Errorf("ZIP 文件损坏或无法解压")
	ErrEmptyArchive = fmt.Errorf("压缩包里没有文件")
)

// UploadService 接收 zip 上传，解压成本地仓库并建分析任务
type UploadService struct {
	repoRepo    *repository.RepoRepository
	taskService *TaskService
	cfg         *config.Config
}

func NewUploadService(repoRepo *repository.RepoRepository, taskService *TaskService, cfg *config.Config) *UploadService {
	return &UploadService{
		repoRepo:    repoRepo,
		taskService: taskService,
		cfg:         cfg,
	}
}

// UploadResult 上传后返回仓库和任务
type UploadResult struct {
	Repository *model.Repository   `json:"repository"`
	Task       *model.AnalysisTask `json:"task"`
}

// HandleZip 解压 zip 到仓库目录，建仓库记录和 pending 任务
func (s *UploadService) HandleZip(ctx context.Context, zipPath, originalName string) (*UploadResult, error) {
	name := strings.TrimSuffix(filepath.Base(originalName), ".zip")
	if name == "" {
		name = "repo"
	}

	extractDir := filepath.Join(s.cfg.Upload.RepoDir,
		fmt.Sprintf("%s_%s", name, uuid.NewString()[:8]))
	if err := os.MkdirAll(extractDir, 0755); err != nil {
		return nil, err
	}

	count, err := extractZip(zipPath, extractDir)
	if err != nil {
		os.RemoveAll(extractDir)
		return nil, ErrInvalidZip
	}
	if count == 0 {
		os.RemoveAll(extractDir)
		return nil, ErrEmptyArchive
	}

	// zip 里套一层目录是常态，剥掉
	root := projectRoot(extractDir)

	repo := &model.Repository{
		Name:      name,
		FullName:  "local/" + name,
		LocalPath: root,
		Status:    "active",
	}
	if err := s.repoRepo.Create(repo); err != nil {
		os.RemoveAll(extractDir)
		return nil, err
	}

	task, err := s.taskService.CreateTask(ctx, repo.ID)
	if err != nil {
		return nil, err
	}

	return &UploadResult{Repository: repo, Task: task}, nil
}

// extractZip 解压并返回文件数，拦截 zip slip
func extractZip(zipPath, destDir string) (int, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	count := 0
	for _, f := range r.File {
		destPath := filepath.Join(destDir, f.Name)
		// Security: prevent zip slip attack
		if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return count, fmt.Errorf("invalid file path: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			os.MkdirAll(destPath, 0755)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return count, err
		}

		destFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return count, err
		}

		srcFile, err := f.Open()
		if err != nil {
			destFile.Close()
			return count, err
		}

		_, err = io.Copy(destFile, srcFile)
		srcFile.Close()
		destFile.Close()
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// projectRoot 解压目录下只有一个子目录时，那个子目录才是项目根
func projectRoot(extractDir string) string {
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return extractDir
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(extractDir, entries[0].Name())
	}
	return extractDir
}
