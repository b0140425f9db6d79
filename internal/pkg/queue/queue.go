package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// 作业类型
const (
	KindRunTask          = "run_task"          // 流水线（扫描+向量化+派发）
	KindAnalyzeFile      = "analyze_file"      // 单文件分析
	KindGenerateDocument = "generate_document" // 文档生成
)

type Queue struct {
	client    *redis.Client
	queueName string
}

type JobMessage struct {
	Kind      string `json:"kind"`
	TaskID    int64  `json:"task_id"`
	FileID    int64  `json:"file_id,omitempty"`
	TaskIndex string `json:"task_index,omitempty"`
	Retry     int    `json:"retry"` // 已重试次数
}

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

// Push 将作业加入队列
func (q *Queue) Push(ctx context.Context, msg *JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// Pop 从队列获取作业（阻塞）
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无任务
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg JobMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// Length 获取队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

func (q *Queue) delayedKey() string {
	return q.queueName + ":delayed"
}

// PushDelayed 延迟投递，落到 zset，score 为到期时间戳
func (q *Queue) PushDelayed(ctx context.Context, msg *JobMessage, delay time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	due := float64(time.Now().Add(delay).UnixMilli())
	return q.client.ZAdd(ctx, q.delayedKey(), &redis.Z{Score: due, Member: data}).Err()
}

// MoveDue 把到期的延迟作业搬回主队列，返回搬运数量。
// worker 主循环里由调度 goroutine 周期调用。
func (q *Queue) MoveDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	members, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, m := range members {
		// 先删后推，删除失败说明别的调度器已经搬走了
		removed, err := q.client.ZRem(ctx, q.delayedKey(), m).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.queueName, m).Err(); err != nil {
			return moved, err
		}
		moved++
	}

	return moved, nil
}

// DelayedLength 延迟队列长度
func (q *Queue) DelayedLength(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.delayedKey()).Result()
}
