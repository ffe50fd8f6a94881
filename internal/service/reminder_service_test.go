package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskminder/internal/model"
	"taskminder/internal/notify"
)

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func TestTick_OneShotExactlyOnce(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "")
	ctx := context.Background()

	task := f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "return library book",
		DueAt: timePtr(testNow.Add(-time.Minute)),
	})

	require.NoError(t, svc.Tick(ctx, testNow))
	require.Len(t, f.notifier.messages(), 1)
	assert.Contains(t, f.notifier.messages()[0].text, "return library book")

	got := f.reload(t, task)
	assert.Equal(t, model.StageDueNotified, got.Stage())
	assert.Equal(t, model.StatusOverdue, got.Status, "sweep runs after the notification")

	// No further notification, ever.
	require.NoError(t, svc.Tick(ctx, testNow.Add(time.Minute)))
	require.NoError(t, svc.Tick(ctx, testNow.Add(time.Hour)))
	assert.Len(t, f.notifier.messages(), 1)
}

func TestTick_PreReminderThenDueNotification(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "")
	ctx := context.Background()

	due := testNow.Add(10 * time.Minute)
	task := f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "standup",
		DueAt:        &due,
		RemindBefore: 11 * time.Minute,
		ReminderAt:   timePtr(due.Add(-11 * time.Minute)),
	})

	require.NoError(t, svc.Tick(ctx, testNow))
	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, "Скоро")
	assert.Equal(t, model.StagePreReminded, f.reload(t, task).Stage())

	// Same tick again before the due instant: nothing new.
	require.NoError(t, svc.Tick(ctx, testNow))
	assert.Len(t, f.notifier.messages(), 1)

	require.NoError(t, svc.Tick(ctx, due.Add(time.Second)))
	msgs = f.notifier.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].text, "Сейчас")
	assert.Equal(t, model.StageDueNotified, f.reload(t, task).Stage())
}

func TestTick_NoReminderOffsetSkipsPreReminded(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "")
	ctx := context.Background()

	task := f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "pay rent",
		DueAt: timePtr(testNow.Add(-time.Minute)),
	})

	require.NoError(t, svc.Tick(ctx, testNow))

	got := f.reload(t, task)
	assert.Nil(t, got.ReminderSentAt)
	assert.Equal(t, model.StageDueNotified, got.Stage())
	assert.Len(t, f.notifier.messages(), 1)
}

func TestTick_TaskWithoutDueNeverDueNotified(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "")
	ctx := context.Background()

	task := f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "someday read Proust",
		ReminderAt: timePtr(testNow.Add(-time.Minute)),
	})

	require.NoError(t, svc.Tick(ctx, testNow))
	require.NoError(t, svc.Tick(ctx, testNow.Add(time.Hour)))

	got := f.reload(t, task)
	assert.Equal(t, model.StagePreReminded, got.Stage())
	assert.Nil(t, got.DueNotifiedAt)
	assert.Equal(t, model.StatusActive, got.Status, "no due instant, never overdue")
	assert.Len(t, f.notifier.messages(), 1)
}

func TestTick_RepeatingSpawnsExactlyOneSuccessor(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "")
	ctx := context.Background()

	task := f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "take medication",
		DueAt: timePtr(testNow.Add(-time.Minute)), Repeat: model.RepeatDaily,
	})

	// Two tick invocations with the same "now": the guards make the
	// second one a pure no-op.
	require.NoError(t, svc.Tick(ctx, testNow))
	require.NoError(t, svc.Tick(ctx, testNow))

	assert.Len(t, f.notifier.messages(), 1)

	tasks, err := f.taskRepo.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2, "exactly one successor per completed cycle")

	orig := f.reload(t, task)
	assert.True(t, orig.SpawnedNext)
	require.NotNil(t, orig.LastRepeatSentAt)

	var successor model.Task
	for _, candidate := range tasks {
		if candidate.ID != task.ID {
			successor = candidate
		}
	}
	require.NotNil(t, successor.DueAt)
	assert.WithinDuration(t, task.DueAt.Add(24*time.Hour), *successor.DueAt, time.Second)
	assert.Equal(t, model.StagePending, successor.Stage())
	assert.Equal(t, model.RepeatDaily, successor.Repeat)
}

func TestTick_RepeatingCyclesDeliverOnePerCycle(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "")
	ctx := context.Background()

	f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "hourly check",
		DueAt: timePtr(testNow.Add(-time.Minute)), Repeat: model.RepeatHourly,
	})

	// Three cycles, each ticked twice.
	for cycle := 0; cycle < 3; cycle++ {
		at := testNow.Add(time.Duration(cycle) * time.Hour)
		require.NoError(t, svc.Tick(ctx, at))
		require.NoError(t, svc.Tick(ctx, at.Add(time.Second)))
	}

	assert.Len(t, f.notifier.messages(), 3, "one due notification per completed cycle")

	tasks, err := f.taskRepo.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 4, "three completed cycles plus the live occurrence")
}

func TestTick_SuccessorCarriesReminderOffset(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "")
	ctx := context.Background()

	due := testNow.Add(-time.Minute)
	task := f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "weekly review",
		DueAt:        &due,
		Repeat:       model.RepeatWeekly,
		RemindBefore: time.Hour,
		ReminderAt:   timePtr(due.Add(-time.Hour)),
		// Pre-due reminder for this cycle already went out.
		ReminderSentAt: timePtr(due.Add(-time.Hour)),
	})

	require.NoError(t, svc.Tick(ctx, testNow))

	tasks, err := f.taskRepo.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	var successor model.Task
	for _, candidate := range tasks {
		if candidate.ID != task.ID {
			successor = candidate
		}
	}
	require.NotNil(t, successor.ReminderAt)
	require.NotNil(t, successor.DueAt)
	assert.WithinDuration(t, successor.DueAt.Add(-time.Hour), *successor.ReminderAt, time.Second)
	assert.Equal(t, time.Hour, successor.RemindBefore)
}

func TestTick_RecurrenceCatchesUpFromBacklog(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "")
	ctx := context.Background()

	// Due three days ago: the successor must land in the future, not
	// three days in the past.
	f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "water plants",
		DueAt: timePtr(testNow.Add(-72*time.Hour - time.Minute)), Repeat: model.RepeatDaily,
	})

	require.NoError(t, svc.Tick(ctx, testNow))

	tasks, err := f.taskRepo.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, candidate := range tasks {
		if candidate.Stage() == model.StagePending {
			require.NotNil(t, candidate.DueAt)
			assert.True(t, candidate.DueAt.After(testNow))
		}
	}
}

func TestTick_ConcurrentClaimLoserSendsNothing(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "")
	ctx := context.Background()

	// Another worker already claimed the due notification.
	f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "claimed elsewhere",
		DueAt: timePtr(testNow.Add(-time.Minute)), DueNotifiedAt: timePtr(testNow),
	})

	require.NoError(t, svc.Tick(ctx, testNow))
	assert.Zero(t, f.notifier.attemptCount())
}

func TestTick_TransientFailureRetriesNextTick(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "")
	ctx := context.Background()

	task := f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "flaky network",
		DueAt: timePtr(testNow.Add(-time.Minute)),
	})
	f.notifier.failWith(errors.New("telegram: too many requests"))

	require.NoError(t, svc.Tick(ctx, testNow))
	assert.Empty(t, f.notifier.messages())
	assert.Equal(t, model.StagePending, f.reload(t, task).Stage(), "claim released for retry")

	require.NoError(t, svc.Tick(ctx, testNow.Add(time.Minute)))
	assert.Len(t, f.notifier.messages(), 1)
	assert.Equal(t, model.StageDueNotified, f.reload(t, task).Stage())
}

func TestTick_PermanentFailureStopsRetries(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "")
	ctx := context.Background()

	task := f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "blocked bot",
		DueAt: timePtr(testNow.Add(-time.Minute)), Repeat: model.RepeatDaily,
	})
	f.notifier.failWith(fmt.Errorf("%w: bot was blocked by the user", notify.ErrRecipientUnreachable))

	require.NoError(t, svc.Tick(ctx, testNow))
	assert.Equal(t, 1, f.notifier.attemptCount())
	assert.Equal(t, model.StageDueNotified, f.reload(t, task).Stage(), "flag marked sent to stop the retry storm")

	// No successor for an unreachable recipient.
	tasks, err := f.taskRepo.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	require.NoError(t, svc.Tick(ctx, testNow.Add(time.Minute)))
	assert.Equal(t, 1, f.notifier.attemptCount(), "no further attempts")
}

func TestTick_OverdueSweepIdempotent(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "")
	ctx := context.Background()

	f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "late",
		DueAt: timePtr(testNow.Add(-time.Hour)), DueNotifiedAt: timePtr(testNow.Add(-time.Hour)),
	})
	f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "on time",
		DueAt: timePtr(testNow.Add(time.Hour)),
	})

	statuses := func() map[string]string {
		tasks, err := f.taskRepo.ListByUser(ctx, user.ID)
		require.NoError(t, err)
		got := make(map[string]string, len(tasks))
		for _, task := range tasks {
			got[task.Title] = task.Status
		}
		return got
	}

	require.NoError(t, svc.Tick(ctx, testNow))
	first := statuses()
	assert.Equal(t, model.StatusOverdue, first["late"])
	assert.Equal(t, model.StatusActive, first["on time"])

	require.NoError(t, svc.Tick(ctx, testNow))
	assert.Equal(t, first, statuses())
}

func TestTick_DoneTasksAreInvisible(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "")
	ctx := context.Background()

	f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "finished early",
		DueAt: timePtr(testNow.Add(-time.Minute)), Status: model.StatusDone,
	})

	require.NoError(t, svc.Tick(ctx, testNow))
	assert.Zero(t, f.notifier.attemptCount())
}

func TestTick_FormatsDueTimeInUserZone(t *testing.T) {
	f := newFixture(t)
	svc := f.reminderService("UTC")
	user := f.user(t, 100, "Europe/Kyiv")
	ctx := context.Background()

	// 12:00 UTC on 2025-06-01 is 15:00 in Kyiv (EEST, UTC+3).
	f.task(t, &model.Task{
		UserID: user.ID, ChatID: user.TelegramID, Title: "call mom",
		DueAt: timePtr(testNow.Add(-time.Minute)),
	})

	require.NoError(t, svc.Tick(ctx, testNow))
	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.Contains(msgs[0].text, "14:59"), "due time rendered in the user's zone: %s", msgs[0].text)
}
