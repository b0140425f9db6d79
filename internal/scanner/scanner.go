package scanner

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/kay120/Code-reader/internal/model"
)

// 跳过的目录
var skipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	".venv":        true,
	"dist":         true,
	"build":        true,
	"vendor":       true,
	".idea":        true,
	".vscode":      true,
}

// 不参与分析的扩展名（二进制/媒体/归档/锁文件）
var skipExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".svg": true, ".webp": true, ".bmp": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".wav": true,
	".zip": true, ".tar": true, ".gz": true, ".rar": true, ".7z": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".pyc": true, ".pyo": true, ".class": true, ".o": true, ".a": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".db": true, ".sqlite": true, ".sqlite3": true,
	".lock": true, ".sum": true,
}

// 特殊文件名整体跳过
var skipNames = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"Cargo.lock":        true,
	"poetry.lock":       true,
}

// 扩展名到语言
var languageByExt = map[string]string{
	".py":    "python",
	".go":    "go",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".rs":    "rust",
	".kt":    "kotlin",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".scss":  "css",
	".vue":   "vue",
	".md":    "markdown",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
	".xml":   "xml",
}

// Result 一次扫描的汇总
type Result struct {
	Files       []*model.FileAnalysis
	TotalFiles  int
	CodeLines   int
	ModuleCount int
}

// Scanner 阶段0：遍历仓库目录，读出每个可分析文件
type Scanner struct {
	maxFileSize int64
}

func New() *Scanner {
	return &Scanner{maxFileSize: 1 << 20} // 1MB，超过的只记行数不留内容
}

// Scan 扫描仓库根目录。根目录不存在是硬错误，整条流水线失败。
func (s *Scanner) Scan(root string, taskID int64) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("repository path not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository path is not a directory: %s", root)
	}

	result := &Result{}
	topDirs := make(map[string]bool)

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // 单个文件读不了不致命
		}

		name := info.Name()
		if info.IsDir() {
			if path == root {
				return nil
			}
			if skipDirs[name] || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") || skipNames[name] {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(name))
		if skipExts[ext] {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		content := ""
		lines := 0
		if info.Size() <= s.maxFileSize {
			raw, err := os.ReadFile(path)
			if err == nil {
				content = decodeContent(rel, raw)
				lines = countCodeLines(content)
			}
		}

		lang := languageByExt[ext]
		file := &model.FileAnalysis{
			TaskID:       taskID,
			FilePath:     rel,
			Language:     lang,
			Status:       model.FileStatusPending,
			CodeLines:    lines,
			CodeContent:  content,
			Dependencies: dependenciesJSON(content, lang),
		}

		result.Files = append(result.Files, file)
		result.TotalFiles++
		result.CodeLines += lines

		// 顶层目录数即模块数，根下直接放的文件算一个"根模块"
		if idx := strings.Index(rel, "/"); idx >= 0 {
			topDirs[rel[:idx]] = true
		} else {
			topDirs["."] = true
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk repository: %w", err)
	}

	result.ModuleCount = len(topDirs)
	return result, nil
}

// decodeContent UTF-8 优先，失败退回 GBK，再不行返回空串。
// 空串意味着该文件不进知识库也不做逐域分析，只剩行数统计，要留痕。
func decodeContent(path string, raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	// GBK 解码器对非法字节不报错而是填替换符，同样算失败
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw)
	if err != nil || bytes.ContainsRune(decoded, utf8.RuneError) {
		log.Printf("scanner: %s: not UTF-8 and GBK decode failed, content dropped", path)
		return ""
	}
	return string(decoded)
}

// countCodeLines 非空行数
func countCodeLines(content string) int {
	if content == "" {
		return 0
	}
	count := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}
