package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"taskminder/internal/model"
)

// setupTestDB opens a throwaway SQLite database with migrations applied.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "failed to create test database")

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, telegramID int64) *model.User {
	t.Helper()

	user, err := NewUserRepository(db).UpsertFromTelegram(context.Background(), telegramID, "Test", "User", "testuser")
	require.NoError(t, err)
	return user
}

func createTestTask(t *testing.T, db *gorm.DB, task *model.Task) *model.Task {
	t.Helper()

	if task.Status == "" {
		task.Status = model.StatusActive
	}
	require.NoError(t, NewTaskRepository(db).Create(context.Background(), task))
	return task
}

func timePtr(t time.Time) *time.Time {
	return &t
}
