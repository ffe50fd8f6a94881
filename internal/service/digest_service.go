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

// DigestService sends each user a silent morning list of the tasks due
// today. "Today" is computed in the user's own timezone, so a digest
// fired at one server-local instant still covers the right window for
// everyone.
type DigestService struct {
	taskRepo  *repository.TaskRepository
	userRepo  *repository.UserRepository
	notifier  notify.Notifier
	defaultTZ string
	log       zerolog.Logger
}

func NewDigestService(taskRepo *repository.TaskRepository, userRepo *repository.UserRepository, notifier notify.Notifier, defaultTZ string, log zerolog.Logger) *DigestService {
	return &DigestService{
		taskRepo:  taskRepo,
		userRepo:  userRepo,
		notifier:  notifier,
		defaultTZ: defaultTZ,
		log:       log.With().Str("component", "digest").Logger(),
	}
}

// SendDigests delivers the daily summary to every user with tasks due
// today. Per-user errors are logged and skipped.
func (s *DigestService) SendDigests(ctx context.Context, now time.Time) error {
	users, err := s.userRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	for _, user := range users {
		zone := user.Timezone
		if zone == "" {
			zone = s.defaultTZ
		}
		loc, err := timeutil.LoadZone(zone)
		if err != nil {
			zone = s.defaultTZ
			if loc, err = timeutil.LoadZone(zone); err != nil {
				loc, zone = time.UTC, ""
			}
		}

		local := now.In(loc)
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		end := start.AddDate(0, 0, 1)

		tasks, err := s.taskRepo.ListDueBetween(ctx, user.ID, start.UTC(), end.UTC())
		if err != nil {
			s.log.Error().Err(err).Uint("user", user.ID).Msg("digest query failed")
			continue
		}
		if len(tasks) == 0 {
			continue
		}

		if err := s.notifier.SendSilent(ctx, user.TelegramID, s.render(tasks, zone)); err != nil {
			s.log.Warn().Err(err).Uint("user", user.ID).Msg("digest delivery failed")
			continue
		}
		s.log.Debug().Uint("user", user.ID).Int("tasks", len(tasks)).Msg("digest sent")
	}
	return nil
}

func (s *DigestService) render(tasks []model.Task, zone string) string {
	var b strings.Builder
	b.WriteString("📋 Список задач на сегодня:")
	for _, task := range tasks {
		title := html.EscapeString(strings.TrimSpace(task.Title))
		if title == "" {
			title = "Без названия"
		}
		b.WriteString("\n\n<b>")
		b.WriteString(title)
		b.WriteString("</b>")
		if task.DueAt != nil {
			when, err := timeutil.FormatForDisplay(*task.DueAt, zone)
			if err == nil {
				b.WriteString("\n<i>Когда:</i> ")
				b.WriteString(html.EscapeString(when))
			}
		}
	}
	return b.String()
}
