package collaborator

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// 文档生成任务的轮询结果
type DocStatus string

const (
	DocReady    DocStatus = "ready"
	DocPending  DocStatus = "pending"
	DocFailed   DocStatus = "failed"
	DocTimedOut DocStatus = "timed_out"
)

// DocumentClientConfig 重试与轮询参数
type DocumentClientConfig struct {
	BaseURL          string
	UploadMaxRetries int
	CreateMaxRetries int
	RetryDelay       time.Duration
	PollInterval     time.Duration
	PollMaxAttempts  int
	Language         string
	Model            string
}

// DocumentClient 文档生成服务客户端。
// 传输和创建都用固定间隔退避重试，轮询有次数上限。
type DocumentClient struct {
	cfg        DocumentClientConfig
	httpClient *http.Client
}

func NewDocumentClient(cfg DocumentClientConfig) *DocumentClient {
	if cfg.UploadMaxRetries <= 0 {
		cfg.UploadMaxRetries = 10
	}
	if cfg.CreateMaxRetries <= 0 {
		cfg.CreateMaxRetries = 50
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = 60
	}
	return &DocumentClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
}

// constantRetry 固定间隔 + 次数上限
func (c *DocumentClient) constantRetry(ctx context.Context, maxRetries int, op func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(maxRetries)),
		ctx)
	return backoff.Retry(op, b)
}

// ZipRepo 把本地仓库打成 zip，跳过隐藏文件和依赖目录
func ZipRepo(repoPath, zipPath string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	return filepath.Walk(repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		name := info.Name()
		if info.IsDir() {
			if path == repoPath {
				return nil
			}
			if strings.HasPrefix(name, ".") || name == "node_modules" || name == "__pycache__" || name == "venv" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		rel, err := filepath.Rel(repoPath, path)
		if err != nil {
			return nil
		}

		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
}

type uploadResponse struct {
	Path string `json:"path"`
}

// UploadZip 多次重试的 multipart 上传，返回服务端落盘路径
func (c *DocumentClient) UploadZip(ctx context.Context, zipPath string) (string, error) {
	var remotePath string

	err := c.constantRetry(ctx, c.cfg.UploadMaxRetries, func() error {
		f, err := os.Open(zipPath)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()

		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", filepath.Base(zipPath))
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := io.Copy(part, f); err != nil {
			return backoff.Permanent(err)
		}
		mw.Close()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/api/upload/zip", &body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("upload failed: status %d", resp.StatusCode)
		}

		var out uploadResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		remotePath = out.Path
		return nil
	})
	if err != nil {
		return "", err
	}
	return remotePath, nil
}

type createRequest struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Model    string `json:"model,omitempty"`
}

type createResponse struct {
	TaskID string `json:"task_id"`
}

// CreateTask 发起文档生成，同样固定间隔重试
func (c *DocumentClient) CreateTask(ctx context.Context, remotePath string) (string, error) {
	var taskID string

	err := c.constantRetry(ctx, c.cfg.CreateMaxRetries, func() error {
		data, err := json.Marshal(&createRequest{
			Path:     remotePath,
			Language: c.cfg.Language,
			Model:    c.cfg.Model,
		})
		if err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/api/analyze/local", bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("create task failed: status %d", resp.StatusCode)
		}

		var out createResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		if out.TaskID == "" {
			return fmt.Errorf("create task returned empty id")
		}
		taskID = out.TaskID
		return nil
	})
	if err != nil {
		return "", err
	}
	return taskID, nil
}

type statusResponse struct {
	Status  string `json:"status"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Poll 轮询直到 ready/failed 或者次数用完
func (c *DocumentClient) Poll(ctx context.Context, docTaskID string) (DocStatus, string, error) {
	for attempt := 0; attempt < c.cfg.PollMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return DocTimedOut, "", ctx.Err()
			case <-time.After(c.cfg.PollInterval):
			}
		}

		status, content, err := c.pollOnce(ctx, docTaskID)
		if err != nil {
			continue // 单次查询失败不算终态
		}

		switch status {
		case DocReady:
			return DocReady, content, nil
		case DocFailed:
			return DocFailed, "", fmt.Errorf("document generation failed: %s", content)
		}
	}

	return DocTimedOut, "", fmt.Errorf("document generation timed out after %d polls", c.cfg.PollMaxAttempts)
}

func (c *DocumentClient) pollOnce(ctx context.Context, docTaskID string) (DocStatus, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/analyze/local/%s/status", c.cfg.BaseURL, docTaskID), nil)
	if err != nil {
		return DocPending, "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DocPending, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DocPending, "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return DocPending, "", err
	}

	switch out.Status {
	case "completed", "ready", "success":
		return DocReady, out.Content, nil
	case "failed", "error":
		return DocFailed, out.Error, nil
	default:
		return DocPending, "", nil
	}
}
