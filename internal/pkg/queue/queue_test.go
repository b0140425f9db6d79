package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, mr, cleanup
}

func TestNewQueue(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "test_queue")

	assert.NotNil(t, q)
	assert.Equal(t, "test_queue", q.queueName)
	assert.Equal(t, client, q.client)
}

func TestQueue_PushPop(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("round trip preserves fields", func(t *testing.T) {
		q := NewQueue(client, "test_roundtrip")

		msg := &JobMessage{
			Kind:      KindAnalyzeFile,
			TaskID:    42,
			FileID:    100,
			TaskIndex: "kb_42",
			Retry:     1,
		}

		err := q.Push(ctx, msg)
		require.NoError(t, err)

		result, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, KindAnalyzeFile, result.Kind)
		assert.Equal(t, int64(42), result.TaskID)
		assert.Equal(t, int64(100), result.FileID)
		assert.Equal(t, "kb_42", result.TaskIndex)
		assert.Equal(t, 1, result.Retry)
	})

	t.Run("pop FIFO order", func(t *testing.T) {
		q := NewQueue(client, "test_fifo_queue")

		for i := 1; i <= 3; i++ {
			msg := &JobMessage{Kind: KindRunTask, TaskID: int64(i)}
			err := q.Push(ctx, msg)
			require.NoError(t, err)
		}

		for i := 1; i <= 3; i++ {
			result, err := q.Pop(ctx, time.Second)
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.Equal(t, int64(i), result.TaskID)
		}
	})

	t.Run("pop from empty queue times out", func(t *testing.T) {
		q := NewQueue(client, "test_empty_queue")

		result, err := q.Pop(ctx, 10*time.Millisecond)

		// miniredis doesn't support BRPop timeout properly, so check for nil or error
		if err == nil {
			assert.Nil(t, result)
		}
	})
}

func TestQueue_Length(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	q := NewQueue(client, "test_length_ops")

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)

	for i := 0; i < 3; i++ {
		msg := &JobMessage{Kind: KindAnalyzeFile, TaskID: int64(i)}
		err := q.Push(ctx, msg)
		require.NoError(t, err)
	}

	length, err = q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), length)

	_, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)

	length, err = q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)
}

func TestQueue_Delayed(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("not moved before due", func(t *testing.T) {
		q := NewQueue(client, "test_delayed_1")

		msg := &JobMessage{Kind: KindRunTask, TaskID: 1, Retry: 1}
		err := q.PushDelayed(ctx, msg, time.Hour)
		require.NoError(t, err)

		moved, err := q.MoveDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, moved)

		length, _ := q.Length(ctx)
		assert.Equal(t, int64(0), length)

		delayed, _ := q.DelayedLength(ctx)
		assert.Equal(t, int64(1), delayed)
	})

	t.Run("moved once due", func(t *testing.T) {
		q := NewQueue(client, "test_delayed_2")

		// score 基于真实时钟，用短延迟加真实等待让它到期
		msg := &JobMessage{Kind: KindAnalyzeFile, TaskID: 2, FileID: 7, Retry: 2}
		err := q.PushDelayed(ctx, msg, 20*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(50 * time.Millisecond)

		moved, err := q.MoveDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, moved)

		result, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, int64(2), result.TaskID)
		assert.Equal(t, int64(7), result.FileID)
		assert.Equal(t, 2, result.Retry)

		delayed, _ := q.DelayedLength(ctx)
		assert.Equal(t, int64(0), delayed)
	})

	t.Run("move is idempotent", func(t *testing.T) {
		q := NewQueue(client, "test_delayed_3")

		err := q.PushDelayed(ctx, &JobMessage{Kind: KindRunTask, TaskID: 3}, 10*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(40 * time.Millisecond)

		moved, err := q.MoveDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, moved)

		moved, err = q.MoveDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, moved)

		length, _ := q.Length(ctx)
		assert.Equal(t, int64(1), length)
	})
}

func TestQueue_MultipleQueues(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	q1 := NewQueue(client, "queue_1")
	q2 := NewQueue(client, "queue_2")

	err := q1.Push(ctx, &JobMessage{Kind: KindRunTask, TaskID: 1})
	require.NoError(t, err)

	err = q2.Push(ctx, &JobMessage{Kind: KindRunTask, TaskID: 2})
	require.NoError(t, err)

	len1, _ := q1.Length(ctx)
	len2, _ := q2.Length(ctx)
	assert.Equal(t, int64(1), len1)
	assert.Equal(t, int64(1), len2)

	result1, _ := q1.Pop(ctx, time.Second)
	result2, _ := q2.Pop(ctx, time.Second)

	assert.Equal(t, int64(1), result1.TaskID)
	assert.Equal(t, int64(2), result2.TaskID)
}
