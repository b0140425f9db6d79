package collaborator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ScopeAnalysis LLM 对一个作用域给出的结果
type ScopeAnalysis struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// LLMAnalyzer 单文件分析用的大模型客户端
type LLMAnalyzer struct {
	client *openai.Client
	model  string
}

func NewLLMAnalyzer(baseURL, apiKey, model string) *LLMAnalyzer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &LLMAnalyzer{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

const analyzePrompt = `你是代码分析助手。请分析下面的%s代码（%s 级别，名称：%s），
用 JSON 返回 {"title": "一句话标题", "description": "功能说明"}。只输出 JSON。

相关上下文:
%s

代码:
%s`

// AnalyzeScope 对一个作用域（文件/类/函数）做一次分析
func (a *LLMAnalyzer) AnalyzeScope(ctx context.Context, language, targetType, targetName, code string, ragContext []string) (*ScopeAnalysis, error) {
	contextBlock := "（无）"
	if len(ragContext) > 0 {
		contextBlock = strings.Join(ragContext, "\n---\n")
	}
	if targetName == "" {
		targetName = "-"
	}

	prompt := fmt.Sprintf(analyzePrompt, language, targetType, targetName, contextBlock, code)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm returned no choices")
	}

	return parseScopeAnalysis(resp.Choices[0].Message.Content)
}

// Summarize 汇总各作用域结果生成文件级摘要
func (a *LLMAnalyzer) Summarize(ctx context.Context, filePath string, items []*ScopeAnalysis) (string, error) {
	if len(items) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, item := range items {
		sb.WriteString("- ")
		sb.WriteString(item.Title)
		sb.WriteString(": ")
		sb.WriteString(item.Description)
		sb.WriteString("\n")
	}

	prompt := fmt.Sprintf("根据以下分析条目，用不超过三句话总结文件 %s 的作用：\n%s", filePath, sb.String())

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("llm summarize: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// parseScopeAnalysis 容忍模型输出裹在 markdown 代码块里
func parseScopeAnalysis(raw string) (*ScopeAnalysis, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var out ScopeAnalysis
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		// 非 JSON 输出时退化为 description
		if raw != "" {
			return &ScopeAnalysis{Title: "分析结果", Description: raw}, nil
		}
		return nil, fmt.Errorf("parse llm output: %w", err)
	}
	if out.Title == "" && out.Description == "" {
		return nil, fmt.Errorf("llm output missing fields")
	}
	return &out, nil
}
