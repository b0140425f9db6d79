package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrMissingIndex 知识库没有返回句柄，流水线视为硬失败
	ErrMissingIndex = errors.New("knowledge base returned no index")
)

// KnowledgeBaseClient 向量化服务客户端。
// 构建阶段不做内部重试，失败交给外层作业重试。
type KnowledgeBaseClient struct {
	baseURL    string
	batchSize  int
	httpClient *http.Client
}

func NewKnowledgeBaseClient(baseURL string, batchSize int) *KnowledgeBaseClient {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &KnowledgeBaseClient{
		baseURL:   baseURL,
		batchSize: batchSize,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Document 送入知识库的一条文档
type Document struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

type ingestRequest struct {
	TaskID    int64      `json:"task_id"`
	Index     string     `json:"index,omitempty"` // 续传同一索引时带上
	Documents []Document `json:"documents"`
}

type ingestResponse struct {
	Index string `json:"index"`
	Count int    `json:"count"`
}

// HealthCheck 构建前探活
func (c *KnowledgeBaseClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("knowledge base unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("knowledge base unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// BuildIndex 分批送入全部文档，返回知识库句柄。
// 任何一批失败或最终没有句柄都是错误。
func (c *KnowledgeBaseClient) BuildIndex(ctx context.Context, taskID int64, docs []Document) (string, error) {
	index := ""

	for start := 0; start < len(docs); start += c.batchSize {
		end := start + c.batchSize
		if end > len(docs) {
			end = len(docs)
		}

		resp, err := c.ingest(ctx, &ingestRequest{
			TaskID:    taskID,
			Index:     index,
			Documents: docs[start:end],
		})
		if err != nil {
			return "", fmt.Errorf("ingest batch %d-%d: %w", start, end, err)
		}
		if resp.Index != "" {
			index = resp.Index
		}
	}

	if index == "" {
		return "", ErrMissingIndex
	}
	return index, nil
}

func (c *KnowledgeBaseClient) ingest(ctx context.Context, reqBody *ingestRequest) (*ingestResponse, error) {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

type queryRequest struct {
	Index string `json:"index"`
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type queryResponse struct {
	Chunks []string `json:"chunks"`
}

// Query 取相关上下文给单文件分析用。失败只降级不阻断。
func (c *KnowledgeBaseClient) Query(ctx context.Context, index, query string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = 5
	}

	data, err := json.Marshal(&queryRequest{Index: index, Query: query, TopK: topK})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Chunks, nil
}
