package cron

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kay120/Code-reader/internal/repository"
)

// Service 周期清理：过期上传临时文件、孤儿仓库目录、文档打包残留
type Service struct {
	repoRepo    *repository.RepoRepository
	tempDir     string
	repoDir     string
	expireHours int
	stopChan    chan struct{}
}

func NewService(repoRepo *repository.RepoRepository, tempDir, repoDir string, expireHours int) *Service {
	return &Service{
		repoRepo:    repoRepo,
		tempDir:     tempDir,
		repoDir:     repoDir,
		expireHours: expireHours,
		stopChan:    make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runCleanup()
	log.Println("Cron service started (temp + repo dir cleanup)")
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

// runCleanup 每小时执行一次全量清理
func (s *Service) runCleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunNow()
		}
	}
}

// RunNow 立即执行一轮清理（cleanup 命令和测试直接调用）
func (s *Service) RunNow() {
	expireHours := s.expireHours
	if expireHours <= 0 {
		expireHours = 1
	}
	expire := time.Duration(expireHours) * time.Hour

	c1 := s.cleanupTempZips(expire)
	c2 := s.cleanupDocZips(expire)
	c3 := s.cleanupOrphanRepoDirs(expire)

	total := c1 + c2 + c3
	if total > 0 {
		log.Printf("Cleanup summary: temp_zips=%d, doc_zips=%d, repo_dirs=%d", c1, c2, c3)
	}
}

// cleanupTempZips 清理过期的上传临时文件（upload-*.zip）
func (s *Service) cleanupTempZips(expire time.Duration) int {
	if s.tempDir == "" {
		return 0
	}

	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		log.Printf("Cleanup temp: failed to read dir %s: %v", s.tempDir, err)
		return 0
	}

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "upload-") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if time.Since(info.ModTime()) > expire {
			path := filepath.Join(s.tempDir, entry.Name())
			if err := os.Remove(path); err != nil {
				log.Printf("Cleanup temp: failed to remove %s: %v", path, err)
			} else {
				cleaned++
			}
		}
	}
	return cleaned
}

// cleanupDocZips 清理文档生成阶段遗留的打包文件（doc_*.zip）
func (s *Service) cleanupDocZips(expire time.Duration) int {
	tmpDir := os.TempDir()
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		log.Printf("Cleanup doc zips: failed to read dir %s: %v", tmpDir, err)
		return 0
	}

	cleaned := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "doc_") || !strings.HasSuffix(name, ".zip") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if time.Since(info.ModTime()) > expire {
			path := filepath.Join(tmpDir, name)
			if err := os.Remove(path); err != nil {
				log.Printf("Cleanup doc zips: failed to remove %s: %v", path, err)
			} else {
				cleaned++
			}
		}
	}
	return cleaned
}

// cleanupOrphanRepoDirs 清理解压目录下没有仓库记录引用的过期目录
func (s *Service) cleanupOrphanRepoDirs(expire time.Duration) int {
	if s.repoDir == "" || s.repoRepo == nil {
		return 0
	}

	entries, err := os.ReadDir(s.repoDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Cleanup repos: failed to read dir %s: %v", s.repoDir, err)
		}
		return 0
	}

	repos, err := s.repoRepo.List()
	if err != nil {
		log.Printf("Cleanup repos: failed to query repositories: %v", err)
		return 0
	}

	referenced := make(map[string]struct{}, len(repos))
	for _, repo := range repos {
		// LocalPath 可能指向解压目录本身或其内层项目根
		abs, err := filepath.Abs(repo.LocalPath)
		if err != nil {
			continue
		}
		referenced[abs] = struct{}{}
	}

	cleaned := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dirPath := filepath.Join(s.repoDir, entry.Name())
		abs, err := filepath.Abs(dirPath)
		if err != nil {
			continue
		}
		if isReferenced(abs, referenced) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if time.Since(info.ModTime()) > expire {
			if err := os.RemoveAll(dirPath); err != nil {
				log.Printf("Cleanup repos: failed to remove %s: %v", dirPath, err)
			} else {
				cleaned++
			}
		}
	}
	return cleaned
}

func isReferenced(dir string, referenced map[string]struct{}) bool {
	for path := range referenced {
		if path == dir || strings.HasPrefix(path, dir+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}
