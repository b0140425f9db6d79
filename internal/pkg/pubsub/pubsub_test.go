package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepProgress(t *testing.T) {
	// Verify all steps have progress values
	steps := []string{StepScanning, StepVectorizing, StepAnalyzing, StepDocument, StepDone}

	for _, step := range steps {
		progress, ok := StepProgress[step]
		assert.True(t, ok, "Step %s should have progress value", step)
		assert.Greater(t, progress, 0, "Progress for %s should be > 0", step)
		assert.LessOrEqual(t, progress, 100, "Progress for %s should be <= 100", step)
	}

	// Verify progress is monotonically increasing
	assert.Less(t, StepProgress[StepScanning], StepProgress[StepVectorizing])
	assert.Less(t, StepProgress[StepVectorizing], StepProgress[StepAnalyzing])
	assert.Less(t, StepProgress[StepAnalyzing], StepProgress[StepDocument])
	assert.Less(t, StepProgress[StepDocument], StepProgress[StepDone])
	assert.Equal(t, 100, StepProgress[StepDone])
}

func TestStepMessages(t *testing.T) {
	steps := []string{StepScanning, StepVectorizing, StepAnalyzing, StepDocument, StepDone}

	for _, step := range steps {
		msg, ok := StepMessages[step]
		assert.True(t, ok, "Step %s should have message", step)
		assert.NotEmpty(t, msg, "Message for %s should not be empty", step)
	}
}

func TestAnalyzeProgress(t *testing.T) {
	assert.Equal(t, 50, AnalyzeProgress(0, 10))
	assert.Equal(t, 70, AnalyzeProgress(5, 10))
	assert.Equal(t, 90, AnalyzeProgress(10, 10))
	// 空任务退回阶段基线
	assert.Equal(t, 50, AnalyzeProgress(0, 0))
	// 不超过90，留给文档阶段
	assert.LessOrEqual(t, AnalyzeProgress(100, 10), 90)
}

func TestProgressMessage_JSON(t *testing.T) {
	msg := &ProgressMessage{
		Type:     "task_progress",
		TaskID:   2,
		RepoID:   1,
		Status:   "processing",
		Step:     StepAnalyzing,
		Progress: 60,
		Message:  "Analyzing",
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	// Verify snake_case keys
	var raw map[string]interface{}
	err = json.Unmarshal(data, &raw)
	require.NoError(t, err)

	assert.Contains(t, raw, "task_id")
	assert.Contains(t, raw, "repository_id")

	var decoded ProgressMessage
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, msg.TaskID, decoded.TaskID)
	assert.Equal(t, msg.RepoID, decoded.RepoID)
}

func TestProgressMessage_OmitEmpty(t *testing.T) {
	msg := &ProgressMessage{
		TaskID: 1,
		Status: "processing",
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]interface{}
	err = json.Unmarshal(data, &raw)
	require.NoError(t, err)

	_, hasMessage := raw["message"]
	_, hasError := raw["error"]
	_, hasFile := raw["current_file"]
	assert.False(t, hasMessage, "empty message should be omitted")
	assert.False(t, hasError, "empty error should be omitted")
	assert.False(t, hasFile, "empty current_file should be omitted")
}

func TestPublisherSubscriber(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	publisher := NewPublisher(client)
	subscriber := NewSubscriber(client)

	testCtx, testCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer testCancel()

	received := make(chan *ProgressMessage, 1)

	go func() {
		subscriber.Subscribe(testCtx, func(msg *ProgressMessage) {
			received <- msg
		})
	}()

	// Give subscriber time to connect
	time.Sleep(100 * time.Millisecond)

	msg := &ProgressMessage{
		TaskID: 456,
		RepoID: 123,
		Status: "processing",
		Step:   StepAnalyzing,
	}

	err = publisher.PublishProgress(testCtx, msg)
	require.NoError(t, err)

	select {
	case receivedMsg := <-received:
		assert.Equal(t, msg.TaskID, receivedMsg.TaskID)
		assert.Equal(t, msg.RepoID, receivedMsg.RepoID)
		assert.Equal(t, "task_progress", receivedMsg.Type)
		assert.Equal(t, 50, receivedMsg.Progress) // Auto-filled from step
		assert.NotEmpty(t, receivedMsg.Message)   // Auto-filled from step
	case <-testCtx.Done():
		t.Fatal("Timeout waiting for message")
	}
}

func TestPublisher_AutoFillProgress(t *testing.T) {
	// This test verifies the auto-fill logic without actually publishing
	msg := &ProgressMessage{
		TaskID: 1,
		Step:   StepVectorizing,
	}

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

	assert.Equal(t, 30, msg.Progress)
	assert.Equal(t, StepMessages[StepVectorizing], msg.Message)
}

func TestNewPublisher(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	defer client.Close()

	publisher := NewPublisher(client)
	assert.NotNil(t, publisher)
}

func TestNewSubscriber(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	defer client.Close()

	subscriber := NewSubscriber(client)
	assert.NotNil(t, subscriber)
}
