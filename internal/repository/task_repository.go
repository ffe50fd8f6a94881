package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"taskminder/internal/model"
)

// candidateBatchLimit bounds how many tasks one tick pulls per pass.
// Leftovers are picked up on the next tick.
const candidateBatchLimit = 200

// TaskRepository handles persistence for tasks, including the guarded
// updates the scheduler relies on for exactly-once notifications.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) ListByUser(ctx context.Context, userID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("due_at, created_at DESC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListDueBetween returns non-done tasks due inside [from, to), ordered
// by due time. Used for the per-user daily digest.
func (r *TaskRepository) ListDueBetween(ctx context.Context, userID uint, from, to time.Time) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status <> ?", userID, model.StatusDone).
		Where("due_at >= ? AND due_at < ?", from, to).
		Order("due_at").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// FindReminderCandidates returns non-done tasks whose pre-due reminder
// instant has passed but whose reminder flag is still unset. The lower
// bound of the window keeps the scan small and doubles as the retry
// age cap: a send that keeps failing transiently stops being retried
// once the reminder falls out of the lookback window.
func (r *TaskRepository) FindReminderCandidates(ctx context.Context, now time.Time, lookback time.Duration) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("status <> ?", model.StatusDone).
		Where("reminder_sent_at IS NULL").
		Where("reminder_at > ? AND reminder_at <= ?", now.Add(-lookback), now).
		Order("reminder_at").
		Limit(candidateBatchLimit).
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// FindDueCandidates returns non-done tasks whose due instant has
// passed but which have not received the due-now notification yet.
func (r *TaskRepository) FindDueCandidates(ctx context.Context, now time.Time, lookback time.Duration) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("status <> ?", model.StatusDone).
		Where("due_notified_at IS NULL").
		Where("due_at > ? AND due_at <= ?", now.Add(-lookback), now).
		Order("due_at").
		Limit(candidateBatchLimit).
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// MarkReminderSent claims the pre-due reminder for one occurrence.
// Returns false when another worker already advanced the flag.
func (r *TaskRepository) MarkReminderSent(ctx context.Context, taskID uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND reminder_sent_at IS NULL", taskID).
		Update("reminder_sent_at", at)
	if res.Error != nil {
		return false, fmt.Errorf("mark reminder sent: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// UnmarkReminderSent releases a claim after a transient delivery
// failure so the next tick retries the send.
func (r *TaskRepository) UnmarkReminderSent(ctx context.Context, taskID uint) error {
	if err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ?", taskID).
		Update("reminder_sent_at", nil).Error; err != nil {
		return fmt.Errorf("unmark reminder sent: %w", err)
	}
	return nil
}

// MarkDueNotified claims the due-now notification for one occurrence.
// For repeating tasks the repeat-cycle timestamp advances in the same
// statement. Returns false when another worker already claimed it.
func (r *TaskRepository) MarkDueNotified(ctx context.Context, taskID uint, at time.Time, repeating bool) (bool, error) {
	updates := map[string]any{"due_notified_at": at}
	if repeating {
		updates["last_repeat_sent_at"] = at
	}
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND due_notified_at IS NULL", taskID).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("mark due notified: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// UnmarkDueNotified releases a due-now claim after a transient
// delivery failure.
func (r *TaskRepository) UnmarkDueNotified(ctx context.Context, taskID uint) error {
	if err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ?", taskID).
		Updates(map[string]any{"due_notified_at": nil, "last_repeat_sent_at": nil}).Error; err != nil {
		return fmt.Errorf("unmark due notified: %w", err)
	}
	return nil
}

// SpawnSuccessor creates the next occurrence of a repeating task. The
// spawned_next guard and the insert run in one transaction, so two
// concurrent ticks (or a crash between claim and insert) can never
// produce two successors for the same cycle. Returns the new task and
// true when this call won the guard.
func (r *TaskRepository) SpawnSuccessor(ctx context.Context, task *model.Task, nextDue time.Time, nextReminder *time.Time) (*model.Task, bool, error) {
	successor := &model.Task{
		UserID:             task.UserID,
		ChatID:             task.ChatID,
		Title:              task.Title,
		Category:           task.Category,
		DueAt:              &nextDue,
		ReminderAt:         nextReminder,
		RemindBefore:       task.RemindBefore,
		Repeat:             task.Repeat,
		RepeatEveryMinutes: task.RepeatEveryMinutes,
		Status:             model.StatusActive,
	}

	won := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Task{}).
			Where("id = ? AND spawned_next = ?", task.ID, false).
			Update("spawned_next", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true
		return tx.Create(successor).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("spawn successor: %w", err)
	}
	if !won {
		return nil, false, nil
	}
	return successor, true, nil
}

// MarkOverdueBatch flips active tasks whose due instant has passed to
// overdue. Status is a derived cache; running the sweep twice in a row
// is a no-op.
func (r *TaskRepository) MarkOverdueBatch(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("status = ? AND due_at IS NOT NULL AND due_at < ?", model.StatusActive, before).
		Update("status", model.StatusOverdue)
	if res.Error != nil {
		return 0, fmt.Errorf("mark overdue: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Complete marks a task done. Done is terminal for the scheduler: done
// tasks never match candidate queries again.
func (r *TaskRepository) Complete(ctx context.Context, userID, taskID uint) error {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ? AND id = ?", userID, taskID).
		Update("status", model.StatusDone)
	if res.Error != nil {
		return fmt.Errorf("complete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ResetCycle rewrites the scheduling fields after a user edit and
// clears all delivery flags, starting a fresh occurrence cycle. This
// is a user-authoritative write, not a guarded one.
func (r *TaskRepository) ResetCycle(ctx context.Context, userID, taskID uint, dueAt, reminderAt *time.Time, status string) error {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ? AND id = ?", userID, taskID).
		Updates(map[string]any{
			"due_at":              dueAt,
			"reminder_at":         reminderAt,
			"reminder_sent_at":    nil,
			"due_notified_at":     nil,
			"last_repeat_sent_at": nil,
			"spawned_next":        false,
			"status":              status,
		})
	if res.Error != nil {
		return fmt.Errorf("reset task cycle: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes a task for the given user.
func (r *TaskRepository) Delete(ctx context.Context, userID, taskID uint) error {
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).
		Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
