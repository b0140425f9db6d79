package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelTaskProgress = "task_progress"
	ChannelTaskCancel   = "task_cancel"
)

// ProgressMessage 进度消息
type ProgressMessage struct {
	Type     string `json:"type"`
	TaskID   int64  `json:"task_id"`
	RepoID   int64  `json:"repository_id"`
	Status   string `json:"status"`
	Step     string `json:"step"`
	Progress int    `json:"progress"`
	// 分析阶段按文件推进时的细分进度
	CurrentFile string `json:"current_file,omitempty"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// 进度阶段常量
const (
	StepScanning    = "scanning"    // 阶段0 文件扫描
	StepVectorizing = "vectorizing" // 阶段1 知识库构建
	StepAnalyzing   = "analyzing"   // 阶段2 文件级分析
	StepDocument    = "document"    // 阶段3 文档生成
	StepDone        = "done"
)

// 阶段对应的进度百分比。分析阶段占 50-90，按已完成文件数插值。
var StepProgress = map[string]int{
	StepScanning:    10,
	StepVectorizing: 30,
	StepAnalyzing:   50,
	StepDocument:    95,
	StepDone:        100,
}

// 阶段对应的消息
var StepMessages = map[string]string{
	StepScanning:    "正在扫描仓库文件",
	StepVectorizing: "正在构建知识库",
	StepAnalyzing:   "正在进行 AI 分析",
	StepDocument:    "正在生成文档",
	StepDone:        "分析完成",
}

// AnalyzeProgress 分析阶段按完成比例插值出 50-90 之间的进度
func AnalyzeProgress(done, total int) int {
	if total <= 0 {
		return StepProgress[StepAnalyzing]
	}
	p := StepProgress[StepAnalyzing] + done*40/total
	if p > 90 {
		p = 90
	}
	return p
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度消息
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	msg.Type = "task_progress"

	// 自动填充进度和消息
	if msg.Progress == 0 && msg.Step != "" {
		if progress, ok := StepProgress[msg.Step]; ok {
			msg.Progress = progress
		}
	}
	if msg.Message == "" && msg.Step != "" {
		if message, ok := StepMessages[msg.Step]; ok {
			msg.Message = message
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelTaskProgress, data).Err()
}

// PublishCancel 广播取消信号，运行中的作业在作用域边界检查
func (p *Publisher) PublishCancel(ctx context.Context, taskID int64) error {
	data, err := json.Marshal(map[string]int64{"task_id": taskID})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, ChannelTaskCancel, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelTaskProgress)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
