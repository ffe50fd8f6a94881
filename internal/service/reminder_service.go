package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskminder/internal/model"
	"taskminder/internal/notify"
	"taskminder/internal/repository"
	"taskminder/internal/timeutil"
)

// catch-up advance never walks more than this many periods; a one-
// minute custom repeat stuck for a week stays well under it.
const maxAdvanceSteps = 20000

// ReminderService is the periodic authority that turns stored tasks
// into notifications. Every transition claims its guarding flag with a
// conditional update before the message goes out, so overlapping ticks
// or a second scheduler instance deliver each notification at most
// once. Transient delivery failures release the claim and are retried
// on a later tick.
type ReminderService struct {
	taskRepo  *repository.TaskRepository
	userRepo  *repository.UserRepository
	notifier  notify.Notifier
	lookback  time.Duration
	defaultTZ string
	log       zerolog.Logger
}

func NewReminderService(taskRepo *repository.TaskRepository, userRepo *repository.UserRepository, notifier notify.Notifier, lookback time.Duration, defaultTZ string, log zerolog.Logger) *ReminderService {
	return &ReminderService{
		taskRepo:  taskRepo,
		userRepo:  userRepo,
		notifier:  notifier,
		lookback:  lookback,
		defaultTZ: defaultTZ,
		log:       log.With().Str("component", "reminder").Logger(),
	}
}

// Tick runs one scheduling pass: pre-due reminders, due-now
// notifications with recurrence advance, then the overdue sweep.
// A storage error aborts the rest of the pass; per-task delivery
// errors only skip that task.
func (s *ReminderService) Tick(ctx context.Context, now time.Time) error {
	zones := make(map[uint]string)

	if err := s.sendPreReminders(ctx, now, zones); err != nil {
		return err
	}
	if err := s.sendDueNotifications(ctx, now, zones); err != nil {
		return err
	}

	n, err := s.taskRepo.MarkOverdueBatch(ctx, now)
	if err != nil {
		return fmt.Errorf("overdue sweep: %w", err)
	}
	if n > 0 {
		s.log.Debug().Int64("tasks", n).Msg("marked overdue")
	}
	return nil
}

func (s *ReminderService) sendPreReminders(ctx context.Context, now time.Time, zones map[uint]string) error {
	candidates, err := s.taskRepo.FindReminderCandidates(ctx, now, s.lookback)
	if err != nil {
		return fmt.Errorf("reminder candidates: %w", err)
	}

	for i := range candidates {
		task := &candidates[i]
		// Re-derive the stage from the record itself, never from a
		// previous tick's view of it.
		if task.Stage() != model.StagePending {
			continue
		}

		// The due instant has passed too: the due-now message
		// supersedes the pre-due one. Claim the flag without sending
		// so the due pass delivers a single notification.
		if task.DueAt != nil && !task.DueAt.After(now) {
			if _, err := s.taskRepo.MarkReminderSent(ctx, task.ID, now); err != nil {
				return err
			}
			continue
		}

		claimed, err := s.taskRepo.MarkReminderSent(ctx, task.ID, now)
		if err != nil {
			return err
		}
		if !claimed {
			s.log.Debug().Uint("task", task.ID).Msg("reminder already claimed by another worker")
			continue
		}

		zone := s.zoneFor(ctx, zones, task.UserID)
		sendErr := s.notifier.Send(ctx, task.ChatID, s.renderPreReminder(task, zone))
		switch {
		case sendErr == nil:
			s.log.Info().Uint("task", task.ID).Msg("pre-due reminder sent")
		case notify.IsPermanent(sendErr):
			// Flag stays claimed: unreachable recipients get no retries.
			s.log.Info().Err(sendErr).Uint("task", task.ID).Msg("recipient unreachable, reminder dropped")
		default:
			if err := s.taskRepo.UnmarkReminderSent(ctx, task.ID); err != nil {
				return err
			}
			s.log.Warn().Err(sendErr).Uint("task", task.ID).Msg("reminder delivery failed, will retry")
		}
	}
	return nil
}

func (s *ReminderService) sendDueNotifications(ctx context.Context, now time.Time, zones map[uint]string) error {
	candidates, err := s.taskRepo.FindDueCandidates(ctx, now, s.lookback)
	if err != nil {
		return fmt.Errorf("due candidates: %w", err)
	}

	for i := range candidates {
		task := &candidates[i]
		if task.DueAt == nil || task.Stage() == model.StageDueNotified {
			continue
		}

		claimed, err := s.taskRepo.MarkDueNotified(ctx, task.ID, now, task.IsRepeating())
		if err != nil {
			return err
		}
		if !claimed {
			s.log.Debug().Uint("task", task.ID).Msg("due notification already claimed by another worker")
			continue
		}

		zone := s.zoneFor(ctx, zones, task.UserID)
		sendErr := s.notifier.Send(ctx, task.ChatID, s.renderDueNow(task, zone))
		switch {
		case sendErr == nil:
			s.log.Info().Uint("task", task.ID).Msg("due notification sent")
		case notify.IsPermanent(sendErr):
			// Keep the claim and skip the recurrence advance: spawning
			// successors for an unreachable recipient would just queue
			// more undeliverable sends.
			s.log.Info().Err(sendErr).Uint("task", task.ID).Msg("recipient unreachable, due notification dropped")
			continue
		default:
			if err := s.taskRepo.UnmarkDueNotified(ctx, task.ID); err != nil {
				return err
			}
			s.log.Warn().Err(sendErr).Uint("task", task.ID).Msg("due notification failed, will retry")
			continue
		}

		if task.IsRepeating() {
			s.advance(ctx, task, now, zone)
		}
	}
	return nil
}

// advance spawns the successor occurrence of a repeating task. Errors
// here are per-task: they are logged and do not block the batch.
func (s *ReminderService) advance(ctx context.Context, task *model.Task, now time.Time, zone string) {
	next, err := timeutil.NextOccurrence(*task.DueAt, task.Repeat, task.RepeatEveryMinutes, zone)
	if err != nil {
		s.log.Error().Err(err).Uint("task", task.ID).Msg("cannot compute next occurrence")
		return
	}

	// A task that sat in the backlog may be several periods behind;
	// skip occurrences that are already in the past.
	for steps := 0; !next.After(now) && steps < maxAdvanceSteps; steps++ {
		n, err := timeutil.NextOccurrence(next, task.Repeat, task.RepeatEveryMinutes, zone)
		if err != nil {
			s.log.Error().Err(err).Uint("task", task.ID).Msg("cannot compute next occurrence")
			return
		}
		next = n
	}

	var nextReminder *time.Time
	if task.RemindBefore > 0 {
		t := next.Add(-task.RemindBefore)
		nextReminder = &t
	}

	successor, spawned, err := s.taskRepo.SpawnSuccessor(ctx, task, next, nextReminder)
	if err != nil {
		s.log.Error().Err(err).Uint("task", task.ID).Msg("spawn successor failed")
		return
	}
	if !spawned {
		s.log.Debug().Uint("task", task.ID).Msg("successor already spawned by another worker")
		return
	}
	s.log.Info().Uint("task", task.ID).Uint("successor", successor.ID).
		Time("next_due", next).Msg("recurrence advanced")
}

func (s *ReminderService) renderPreReminder(task *model.Task, zone string) string {
	return s.renderTask("⚠️ <b>Скоро задача:</b>", task, zone)
}

func (s *ReminderService) renderDueNow(task *model.Task, zone string) string {
	return s.renderTask("⏰ <b>Сейчас задача:</b>", task, zone)
}

func (s *ReminderService) renderTask(header string, task *model.Task, zone string) string {
	title := html.EscapeString(strings.TrimSpace(task.Title))
	if title == "" {
		title = "Без названия"
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n<b>")
	b.WriteString(title)
	b.WriteString("</b>")
	if task.Category != "" {
		fmt.Fprintf(&b, " <i>(%s)</i>", html.EscapeString(task.Category))
	}
	if task.DueAt != nil {
		when, err := timeutil.FormatForDisplay(*task.DueAt, zone)
		if err != nil {
			when, _ = timeutil.FormatForDisplay(*task.DueAt, "")
		}
		b.WriteString("\n\nКогда: ")
		b.WriteString(html.EscapeString(when))
	}
	return b.String()
}

// zoneFor resolves a user's timezone once per tick. Lookup failures
// fall back to the configured default so a broken profile never blocks
// a notification.
func (s *ReminderService) zoneFor(ctx context.Context, cache map[uint]string, userID uint) string {
	if zone, ok := cache[userID]; ok {
		return zone
	}
	zone := s.defaultTZ
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Uint("user", userID).Msg("timezone lookup failed, using default")
	} else if user.Timezone != "" {
		if _, zerr := timeutil.LoadZone(user.Timezone); zerr == nil {
			zone = user.Timezone
		} else {
			s.log.Warn().Err(zerr).Uint("user", userID).Msg("stored timezone invalid, using default")
		}
	}
	cache[userID] = zone
	return zone
}
