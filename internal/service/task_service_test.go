package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kay120/Code-reader/config"
	"github.com/kay120/Code-reader/internal/collaborator"
	"github.com/kay120/Code-reader/internal/model"
	"github.com/kay120/Code-reader/internal/pkg/pubsub"
	"github.com/kay120/Code-reader/internal/pkg/queue"
	"github.com/kay120/Code-reader/internal/repository"
	"github.com/kay120/Code-reader/internal/scanner"
	"github.com/kay120/Code-reader/internal/testutil"
)

type stubScanner struct{}

func (stubScanner) Scan(root string, taskID int64) (*scanner.Result, error) {
	return &scanner.Result{}, nil
}

type stubKB struct{}

func (stubKB) HealthCheck(ctx context.Context) error { return nil }
func (stubKB) BuildIndex(ctx context.Context, taskID int64, docs []collaborator.Document) (string, error) {
	return "kb_stub", nil
}

// listScanner 每次调用都构造全新的文件清单
type listScanner struct{ paths []string }

func (s listScanner) Scan(root string, taskID int64) (*scanner.Result, error) {
	r := &scanner.Result{ModuleCount: 1}
	for _, p := range s.paths {
		r.Files = append(r.Files, &model.FileAnalysis{
			TaskID:      taskID,
			FilePath:    p,
			Language:    "python",
			Status:      model.FileStatusPending,
			CodeContent: "x = 1\n",
			CodeLines:   1,
		})
		r.TotalFiles++
		r.CodeLines++
	}
	return r, nil
}

// flakyKB 第一次构建失败，之后成功
type flakyKB struct{ builds int }

func (k *flakyKB) HealthCheck(ctx context.Context) error { return nil }
func (k *flakyKB) BuildIndex(ctx context.Context, taskID int64, docs []collaborator.Document) (string, error) {
	k.builds++
	if k.builds == 1 {
		return "", errors.New("vector service unavailable")
	}
	return "kb_retry", nil
}

func setupService(t *testing.T) (*TaskService, *gorm.DB, *queue.Queue) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close(); mr.Close() })

	cfg := &config.Config{
		Queue: config.QueueConfig{
			AnalysisQueue:       "svc_jobs",
			AverageTaskMinutes:  15,
			RunningDiscountMins: 5,
		},
	}

	q := queue.NewQueue(client, cfg.Queue.AnalysisQueue)
	svc := NewTaskService(
		repository.NewTaskRepository(db),
		repository.NewFileRepository(db),
		repository.NewRepoRepository(db),
		repository.NewReadmeRepository(db),
		stubScanner{}, stubKB{}, q,
		pubsub.NewPublisher(client), cfg)

	return svc, db, q
}

func TestTaskService_CreateTask(t *testing.T) {
	svc, db, q := setupService(t)
	ctx := context.Background()

	repo := testutil.TestRepository(t, db)

	task, err := svc.CreateTask(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, task.Status)

	msg, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, queue.KindRunTask, msg.Kind)
	assert.Equal(t, task.ID, msg.TaskID)

	t.Run("unknown repository", func(t *testing.T) {
		_, err := svc.CreateTask(ctx, 99999)
		assert.ErrorIs(t, err, ErrRepoNotFound)
	})
}

func TestTaskService_CanStart(t *testing.T) {
	svc, db, _ := setupService(t)

	repo := testutil.TestRepository(t, db)

	t.Run("unknown task denied", func(t *testing.T) {
		decision, err := svc.CanStart(99999)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, "task not found", decision.Reason)
	})

	t.Run("running task blocks everyone", func(t *testing.T) {
		running := testutil.TestTask(t, db, repo.ID, testutil.WithStatus(model.TaskStatusRunning))
		pending := testutil.TestTask(t, db, repo.ID)

		decision, err := svc.CanStart(pending.ID)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, "another task is running", decision.Reason)

		// 连自己也进不来
		decision, err = svc.CanStart(running.ID)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)

		testutil.TruncateTables(t, db)
	})

	t.Run("non-pending denied with status", func(t *testing.T) {
		repo := testutil.TestRepository(t, db)
		done := testutil.TestTask(t, db, repo.ID, testutil.WithStatus(model.TaskStatusCompleted))

		decision, err := svc.CanStart(done.ID)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, "task status is completed", decision.Reason)
	})
}

func TestTaskService_GetQueueStatus(t *testing.T) {
	svc, db, _ := setupService(t)

	repo := testutil.TestRepository(t, db)

	t.Run("empty queue", func(t *testing.T) {
		status, err := svc.GetQueueStatus()
		require.NoError(t, err)
		assert.Equal(t, int64(0), status.PendingCount)
		assert.Equal(t, 0, status.EstimatedWaitMinutes)
		assert.False(t, status.HasQueue)
	})

	t.Run("estimate floors at zero", func(t *testing.T) {
		// 0 pending + 1 running: 0*15 - 1*5 = -5 → 0
		testutil.TestTask(t, db, repo.ID, testutil.WithStatus(model.TaskStatusProcessing))

		status, err := svc.GetQueueStatus()
		require.NoError(t, err)
		assert.Equal(t, int64(1), status.RunningCount)
		assert.Equal(t, 0, status.EstimatedWaitMinutes)
		assert.True(t, status.HasQueue)

		testutil.TruncateTables(t, db)
	})

	t.Run("pending and running combined", func(t *testing.T) {
		repo := testutil.TestRepository(t, db)
		base := time.Now().Add(-time.Hour)
		t1 := testutil.TestTask(t, db, repo.ID, testutil.WithCreatedAt(base))
		t2 := testutil.TestTask(t, db, repo.ID, testutil.WithCreatedAt(base.Add(time.Minute)))
		testutil.TestTask(t, db, repo.ID, testutil.WithStatus(model.TaskStatusRunning))

		status, err := svc.GetQueueStatus()
		require.NoError(t, err)
		assert.Equal(t, int64(2), status.PendingCount)
		assert.Equal(t, int64(1), status.RunningCount)
		// 2*15 - 1*5 = 25
		assert.Equal(t, 25, status.EstimatedWaitMinutes)
		assert.Equal(t, []int64{t1.ID, t2.ID}, status.PendingTaskIDs)
	})
}

// 阶段1失败后的全新重跑：上次落库的清单要被替换，
// 重新扫描不能撞 uk_task_file 唯一索引
func TestTaskService_RerunAfterEarlyFailureReplacesInventory(t *testing.T) {
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close(); mr.Close() })

	cfg := &config.Config{Queue: config.QueueConfig{AnalysisQueue: "svc_rerun"}}
	q := queue.NewQueue(client, cfg.Queue.AnalysisQueue)

	fileRepo := repository.NewFileRepository(db)
	svc := NewTaskService(
		repository.NewTaskRepository(db),
		fileRepo,
		repository.NewRepoRepository(db),
		repository.NewReadmeRepository(db),
		listScanner{paths: []string{"a.py", "b.py"}}, &flakyKB{}, q,
		pubsub.NewPublisher(client), cfg)

	ctx := context.Background()
	repo := testutil.TestRepository(t, db)
	task, err := svc.CreateTask(ctx, repo.ID)
	require.NoError(t, err)

	// 第一次：阶段1失败，但清单已经落库
	require.Error(t, svc.Run(ctx, task.ID))

	got, err := svc.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)

	files, err := fileRepo.ListByTaskID(task.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)

	// 第二次（流水线重试）：走完阶段0-2
	require.NoError(t, svc.Run(ctx, task.ID))

	got, err = svc.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusProcessing, got.Status)
	assert.Equal(t, "kb_retry", got.TaskIndex)
	assert.Equal(t, 2, got.TotalFiles)

	files, err = fileRepo.ListByTaskID(task.ID)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestTaskService_Reanalyze(t *testing.T) {
	ctx := context.Background()

	t.Run("resumes failed task with index", func(t *testing.T) {
		svc, db, q := setupService(t)
		repo := testutil.TestRepository(t, db)
		failed := testutil.TestTask(t, db, repo.ID,
			testutil.WithStatus(model.TaskStatusFailed),
			testutil.WithTaskIndex("kb_old"))

		task, err := svc.Reanalyze(ctx, repo.ID)
		require.NoError(t, err)
		assert.Equal(t, failed.ID, task.ID)

		msg, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, queue.KindRunTask, msg.Kind)
		assert.Equal(t, failed.ID, msg.TaskID)
		assert.Equal(t, "kb_old", msg.TaskIndex)
	})

	t.Run("cancels active tasks and creates fresh one", func(t *testing.T) {
		svc, db, q := setupService(t)
		repo := testutil.TestRepository(t, db)
		running := testutil.TestTask(t, db, repo.ID, testutil.WithStatus(model.TaskStatusRunning))
		// 失败但没句柄，不可续跑
		noIndex := testutil.TestTask(t, db, repo.ID, testutil.WithStatus(model.TaskStatusFailed))

		task, err := svc.Reanalyze(ctx, repo.ID)
		require.NoError(t, err)
		assert.NotEqual(t, running.ID, task.ID)
		assert.NotEqual(t, noIndex.ID, task.ID)
		assert.Equal(t, model.TaskStatusPending, task.Status)

		taskRepo := repository.NewTaskRepository(db)
		got, err := taskRepo.GetByID(running.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusCancelled, got.Status)

		// 失败任务保持 failed，不被取消
		got, err = taskRepo.GetByID(noIndex.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusFailed, got.Status)

		msg, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, task.ID, msg.TaskID)
	})

	t.Run("unknown repository", func(t *testing.T) {
		svc, _, _ := setupService(t)
		_, err := svc.Reanalyze(ctx, 99999)
		assert.ErrorIs(t, err, ErrRepoNotFound)
	})
}

func TestTaskService_CancelRunning(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()

	repo := testutil.TestRepository(t, db)
	running := testutil.TestTask(t, db, repo.ID, testutil.WithStatus(model.TaskStatusProcessing))
	pending := testutil.TestTask(t, db, repo.ID)

	require.NoError(t, svc.CancelRunning(ctx, repo.ID))

	taskRepo := repository.NewTaskRepository(db)
	for _, id := range []int64{running.ID, pending.ID} {
		got, err := taskRepo.GetByID(id)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusCancelled, got.Status)
	}

	// 幂等
	require.NoError(t, svc.CancelRunning(ctx, repo.ID))
}
