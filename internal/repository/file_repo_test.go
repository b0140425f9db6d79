package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kay120/Code-reader/internal/model"
	"github.com/kay120/Code-reader/internal/testutil"
)

func TestFileRepository_BatchCreateAndList(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewFileRepository(db)
	r := testutil.TestRepository(t, db)
	task := testutil.TestTask(t, db, r.ID)

	files := []*model.FileAnalysis{
		{TaskID: task.ID, FilePath: "src/a.py", Language: "python", Status: model.FileStatusPending},
		{TaskID: task.ID, FilePath: "src/b.py", Language: "python", Status: model.FileStatusPending},
		{TaskID: task.ID, FilePath: "main.go", Language: "go", Status: model.FileStatusPending},
	}
	require.NoError(t, repo.BatchCreate(files))

	got, err := repo.ListByTaskID(task.ID)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	// 按路径升序
	assert.Equal(t, "main.go", got[0].FilePath)
}

func TestFileRepository_CountPending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewFileRepository(db)
	r := testutil.TestRepository(t, db)
	task := testutil.TestTask(t, db, r.ID)

	f1 := testutil.TestFile(t, db, task.ID, "a.py")
	f2 := testutil.TestFile(t, db, task.ID, "b.py")
	testutil.TestFile(t, db, task.ID, "c.py", testutil.WithFileStatus(model.FileStatusSuccess))

	count, err := repo.CountPending(task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, repo.MarkSuccess(f1.ID, "summary"))
	require.NoError(t, repo.MarkFailed(f2.ID, "boom"))

	count, err = repo.CountPending(task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestFileRepository_MarkSuccess(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewFileRepository(db)
	r := testutil.TestRepository(t, db)
	task := testutil.TestTask(t, db, r.ID)
	file := testutil.TestFile(t, db, task.ID, "a.py")

	require.NoError(t, repo.MarkSuccess(file.ID, "模块入口，注册路由"))

	got, err := repo.GetByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusSuccess, got.Status)
	assert.Equal(t, "模块入口，注册路由", got.FileAnalysis)
	assert.Empty(t, got.ErrorMessage)
}

func TestFileRepository_MarkFailed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewFileRepository(db)
	r := testutil.TestRepository(t, db)
	task := testutil.TestTask(t, db, r.ID)
	file := testutil.TestFile(t, db, task.ID, "a.py")

	require.NoError(t, repo.MarkFailed(file.ID, "llm timeout"))

	got, err := repo.GetByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusFailed, got.Status)
	assert.Equal(t, "llm timeout", got.ErrorMessage)
}

func TestFileRepository_ListPendingByTaskID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewFileRepository(db)
	r := testutil.TestRepository(t, db)
	task := testutil.TestTask(t, db, r.ID)

	testutil.TestFile(t, db, task.ID, "a.py", testutil.WithFileStatus(model.FileStatusSuccess))
	pending := testutil.TestFile(t, db, task.ID, "b.py")
	testutil.TestFile(t, db, task.ID, "c.py", testutil.WithFileStatus(model.FileStatusFailed))

	got, err := repo.ListPendingByTaskID(task.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pending.ID, got[0].ID)
}
