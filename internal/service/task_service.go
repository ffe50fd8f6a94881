package service

import (
	"context"
	"fmt"
	"time"

	"taskminder/internal/model"
	"taskminder/internal/repository"
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title    string
	Category string
	ChatID   int64

	DueAt *time.Time
	// RemindBefore is the pre-due reminder offset; zero means no
	// separate pre-due reminder.
	RemindBefore time.Duration
	// ReminderAt is an absolute reminder instant and wins over
	// RemindBefore when set.
	ReminderAt *time.Time

	Repeat             model.Repeat
	RepeatEveryMinutes int
}

// TaskService wraps the task lifecycle operations driven by user
// actions. The scheduler never goes through this layer.
type TaskService struct {
	taskRepo *repository.TaskRepository
	userRepo *repository.UserRepository
}

func NewTaskService(taskRepo *repository.TaskRepository, userRepo *repository.UserRepository) *TaskService {
	return &TaskService{taskRepo: taskRepo, userRepo: userRepo}
}

func (s *TaskService) CreateTask(ctx context.Context, user *model.User, input TaskInput, now time.Time) (*model.Task, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if input.Repeat == model.RepeatCustom && input.RepeatEveryMinutes < 1 {
		return nil, fmt.Errorf("custom repeat needs a positive minute interval")
	}

	repeat := input.Repeat
	if repeat == "" {
		repeat = model.RepeatNone
	}

	chatID := input.ChatID
	if chatID == 0 {
		chatID = user.TelegramID
	}

	task := model.Task{
		UserID:             user.ID,
		ChatID:             chatID,
		Title:              input.Title,
		Category:           input.Category,
		DueAt:              input.DueAt,
		RemindBefore:       input.RemindBefore,
		ReminderAt:         reminderInstant(input),
		Repeat:             repeat,
		RepeatEveryMinutes: input.RepeatEveryMinutes,
		Status:             statusFor(input.DueAt, now),
	}

	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}
	if err := s.userRepo.Touch(ctx, user.ID, now); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *TaskService) ListTasks(ctx context.Context, user *model.User) ([]model.Task, error) {
	return s.taskRepo.ListByUser(ctx, user.ID)
}

func (s *TaskService) GetTask(ctx context.Context, user *model.User, taskID uint) (*model.Task, error) {
	return s.taskRepo.FindByID(ctx, user.ID, taskID)
}

// CompleteTask marks a task done. This is the only path to the done
// status; the scheduler only ever derives active vs overdue.
func (s *TaskService) CompleteTask(ctx context.Context, user *model.User, taskID uint, now time.Time) error {
	if err := s.taskRepo.Complete(ctx, user.ID, taskID); err != nil {
		return err
	}
	return s.userRepo.Touch(ctx, user.ID, now)
}

// Reschedule moves a task to a new due instant. Delivery flags are
// cleared so the new occurrence gets its own notification cycle, and
// the derived status is recomputed.
func (s *TaskService) Reschedule(ctx context.Context, user *model.User, taskID uint, dueAt *time.Time, now time.Time) error {
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return err
	}

	var reminderAt *time.Time
	if dueAt != nil && task.RemindBefore > 0 {
		t := dueAt.Add(-task.RemindBefore)
		reminderAt = &t
	}

	if err := s.taskRepo.ResetCycle(ctx, user.ID, taskID, dueAt, reminderAt, statusFor(dueAt, now)); err != nil {
		return err
	}
	return s.userRepo.Touch(ctx, user.ID, now)
}

func (s *TaskService) DeleteTask(ctx context.Context, user *model.User, taskID uint, now time.Time) error {
	if err := s.taskRepo.Delete(ctx, user.ID, taskID); err != nil {
		return err
	}
	return s.userRepo.Touch(ctx, user.ID, now)
}

func reminderInstant(input TaskInput) *time.Time {
	if input.ReminderAt != nil {
		return input.ReminderAt
	}
	if input.DueAt != nil && input.RemindBefore > 0 {
		t := input.DueAt.Add(-input.RemindBefore)
		return &t
	}
	return nil
}

func statusFor(dueAt *time.Time, now time.Time) string {
	if dueAt != nil && dueAt.Before(now) {
		return model.StatusOverdue
	}
	return model.StatusActive
}
