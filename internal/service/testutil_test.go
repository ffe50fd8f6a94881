package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"taskminder/internal/model"
	"taskminder/internal/repository"
)

const testLookback = 7 * 24 * time.Hour

type fixture struct {
	db       *gorm.DB
	taskRepo *repository.TaskRepository
	userRepo *repository.UserRepository
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := repository.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "failed to create test database")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return &fixture{
		db:       db,
		taskRepo: repository.NewTaskRepository(db),
		userRepo: repository.NewUserRepository(db),
		notifier: &fakeNotifier{},
	}
}

func (f *fixture) reminderService(defaultTZ string) *ReminderService {
	return NewReminderService(f.taskRepo, f.userRepo, f.notifier, testLookback, defaultTZ, zerolog.Nop())
}

func (f *fixture) user(t *testing.T, telegramID int64, timezone string) *model.User {
	t.Helper()

	user, err := f.userRepo.UpsertFromTelegram(context.Background(), telegramID, "Test", "User", "testuser")
	require.NoError(t, err)
	if timezone != "" {
		require.NoError(t, f.db.Model(user).Update("timezone", timezone).Error)
		user.Timezone = timezone
	}
	return user
}

func (f *fixture) task(t *testing.T, task *model.Task) *model.Task {
	t.Helper()

	if task.Status == "" {
		task.Status = model.StatusActive
	}
	require.NoError(t, f.taskRepo.Create(context.Background(), task))
	return task
}

func (f *fixture) reload(t *testing.T, task *model.Task) *model.Task {
	t.Helper()

	got, err := f.taskRepo.FindByID(context.Background(), task.UserID, task.ID)
	require.NoError(t, err)
	return got
}

type sentMessage struct {
	chatID int64
	text   string
	silent bool
}

// fakeNotifier records deliveries and can be primed with errors that
// are consumed attempt by attempt.
type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	errs     []error
	attempts int
}

func (f *fakeNotifier) Send(_ context.Context, chatID int64, html string) error {
	return f.record(chatID, html, false)
}

func (f *fakeNotifier) SendSilent(_ context.Context, chatID int64, html string) error {
	return f.record(chatID, html, true)
}

func (f *fakeNotifier) record(chatID int64, text string, silent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, silent: silent})
	return nil
}

func (f *fakeNotifier) failWith(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *fakeNotifier) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeNotifier) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func timePtr(t time.Time) *time.Time {
	return &t
}
