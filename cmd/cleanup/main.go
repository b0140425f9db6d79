package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/kay120/Code-reader/config"
	"github.com/kay120/Code-reader/internal/model"
)

var (
	dryRun     = flag.Bool("dry-run", true, "Dry run mode, don't actually delete files")
	tempExpire = flag.Int("temp-expire", 24, "Hours to keep uploaded temp zips")
	repoExpire = flag.Int("repo-expire", 7, "Days to keep extracted repos with no active task")
	cleanTemp  = flag.Bool("clean-temp", true, "Clean expired temp zips")
	cleanRepos = flag.Bool("clean-repos", true, "Clean extracted repos of finished tasks")
)

func main() {
	flag.Parse()

	log.Println("🧹 Starting cleanup task...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 连接数据库
	db, err := connectDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	totalSize := int64(0)
	totalFiles := 0
	deletedSize := int64(0)
	deletedDirs := 0

	// 1. 清理过期的上传临时文件
	if *cleanTemp {
		log.Printf("\n📦 Cleaning expired temp zips (older than %d hours)...", *tempExpire)
		size, count := cleanExpiredTempZips(cfg.Upload.TempDir, *tempExpire, *dryRun)
		deletedSize += size
		deletedDirs += count
	}

	// 2. 清理任务已结束的解压仓库目录
	if *cleanRepos {
		log.Printf("\n📂 Cleaning extracted repos with all tasks finished (older than %d days)...", *repoExpire)
		size, count := cleanFinishedRepoDirs(db, cfg.Upload.RepoDir, *repoExpire, *dryRun)
		deletedSize += size
		deletedDirs += count
	}

	// 3. 统计当前占用
	log.Println("\n📈 Scanning current disk usage...")
	filepath.Walk(cfg.Upload.RepoDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			totalSize += info.Size()
			totalFiles++
		}
		return nil
	})

	// 输出统计
	log.Println("\n" + strings.Repeat("=", 60))
	log.Println("📊 Cleanup Summary")
	log.Println(strings.Repeat("=", 60))
	log.Printf("Repo dir files: %d", totalFiles)
	log.Printf("Repo dir size: %s", formatSize(totalSize))
	log.Printf("Deleted entries: %d", deletedDirs)
	log.Printf("Freed space: %s", formatSize(deletedSize))
	if *dryRun {
		log.Println("\n⚠️  DRY RUN MODE - No files were actually deleted")
		log.Println("   Run with -dry-run=false to actually delete files")
	} else {
		log.Println("\n✅ Cleanup completed!")
	}
	log.Println(strings.Repeat("=", 60))
}

// cleanExpiredTempZips 清理过期的上传临时文件
func cleanExpiredTempZips(tempDir string, expireHours int, dryRun bool) (int64, int) {
	expireTime := time.Now().Add(-time.Duration(expireHours) * time.Hour)
	var totalSize int64
	var count int

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		log.Printf("Failed to read temp dir: %v", err)
		return 0, 0
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "upload-") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(expireTime) {
			path := filepath.Join(tempDir, entry.Name())
			totalSize += info.Size()

			log.Printf("  - %s (%.2f MB, %s old)",
				entry.Name(),
				float64(info.Size())/1024/1024,
				time.Since(info.ModTime()).Round(time.Hour))

			if !dryRun {
				if err := os.Remove(path); err != nil {
					log.Printf("    ❌ Failed to delete: %v", err)
				} else {
					count++
				}
			} else {
				count++
			}
		}
	}

	log.Printf("Found %d expired temp zips (total: %s)", count, formatSize(totalSize))
	return totalSize, count
}

// cleanFinishedRepoDirs 清理所有任务都已结束的仓库解压目录
func cleanFinishedRepoDirs(db *gorm.DB, repoDir string, keepDays int, dryRun bool) (int64, int) {
	var totalSize int64
	var count int

	// 仍有未结束任务的仓库不能动
	var activeRepoIDs []int64
	err := db.Model(&model.AnalysisTask{}).
		Where("status IN ?", []string{
			model.TaskStatusPending,
			model.TaskStatusRunning,
			model.TaskStatusProcessing,
		}).
		Distinct("repository_id").
		Pluck("repository_id", &activeRepoIDs).Error
	if err != nil {
		log.Printf("Failed to query active tasks: %v", err)
		return 0, 0
	}

	active := make(map[int64]struct{}, len(activeRepoIDs))
	for _, id := range activeRepoIDs {
		active[id] = struct{}{}
	}

	var repos []model.Repository
	if err := db.Find(&repos).Error; err != nil {
		log.Printf("Failed to query repositories: %v", err)
		return 0, 0
	}

	// 安全起见，只删超过 N 天没动过的目录
	expireTime := time.Now().Add(-time.Duration(keepDays) * 24 * time.Hour)

	for _, repo := range repos {
		if _, busy := active[repo.ID]; busy {
			continue
		}
		if repo.LocalPath == "" || !strings.HasPrefix(filepath.Clean(repo.LocalPath), filepath.Clean(repoDir)) {
			continue
		}

		info, err := os.Stat(repo.LocalPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			log.Printf("  ⚠️  Failed to stat %s: %v", repo.LocalPath, err)
			continue
		}

		if info.ModTime().Before(expireTime) {
			size := getDirSize(repo.LocalPath)
			totalSize += size

			log.Printf("  - %s (%.2f MB, %s old)",
				repo.Name,
				float64(size)/1024/1024,
				time.Since(info.ModTime()).Round(time.Hour))

			if !dryRun {
				if err := os.RemoveAll(repo.LocalPath); err != nil {
					log.Printf("    ❌ Failed to delete: %v", err)
				} else {
					count++
				}
			} else {
				count++
			}
		}
	}

	log.Printf("Found %d finished repo dirs to clean (total: %s)", count, formatSize(totalSize))
	return totalSize, count
}

// getDirSize 计算目录大小
func getDirSize(path string) int64 {
	var size int64
	filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// formatSize 格式化文件大小
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// connectDB 连接数据库
func connectDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Database.Username,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	return db, nil
}
