package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"taskminder/internal/notify"
	"taskminder/internal/repository"
)

const reaperBatchLimit = 100

// ReaperService warns and then purges accounts with no recent
// activity. Two-phase on purpose: the warning gives the user a grace
// period to come back before their tasks are cascade-deleted.
type ReaperService struct {
	userRepo      *repository.UserRepository
	notifier      notify.Notifier
	inactiveAfter time.Duration
	purgeAfter    time.Duration
	log           zerolog.Logger
}

func NewReaperService(userRepo *repository.UserRepository, notifier notify.Notifier, inactiveAfter, purgeAfter time.Duration, log zerolog.Logger) *ReaperService {
	return &ReaperService{
		userRepo:      userRepo,
		notifier:      notifier,
		inactiveAfter: inactiveAfter,
		purgeAfter:    purgeAfter,
		log:           log.With().Str("component", "reaper").Logger(),
	}
}

// Tick runs one warn-then-purge pass. The warned timestamp is claimed
// with a guarded update, so a user is warned once per inactivity spell
// even when runs overlap; any renewed activity clears it.
func (s *ReaperService) Tick(ctx context.Context, now time.Time) error {
	inactiveCutoff := now.Add(-s.inactiveAfter)

	inactive, err := s.userRepo.ListInactiveUnwarned(ctx, inactiveCutoff, reaperBatchLimit)
	if err != nil {
		return fmt.Errorf("list inactive users: %w", err)
	}
	for _, user := range inactive {
		warned, err := s.userRepo.MarkWarned(ctx, user.ID, now)
		if err != nil {
			return err
		}
		if !warned {
			continue
		}
		// Delivery is best-effort: the grace period starts either way.
		if err := s.notifier.Send(ctx, user.TelegramID, s.warningText()); err != nil {
			s.log.Warn().Err(err).Uint("user", user.ID).Msg("inactivity warning failed")
		} else {
			s.log.Info().Uint("user", user.ID).Msg("inactivity warning sent")
		}
	}

	purgeable, err := s.userRepo.ListPurgeable(ctx, now.Add(-s.purgeAfter), inactiveCutoff, reaperBatchLimit)
	if err != nil {
		return fmt.Errorf("list purgeable users: %w", err)
	}
	for _, user := range purgeable {
		if err := s.notifier.Send(ctx, user.TelegramID, "Ваши данные были удалены из-за отсутствия активности."); err != nil {
			s.log.Debug().Err(err).Uint("user", user.ID).Msg("farewell message failed")
		}
		if err := s.userRepo.PurgeUser(ctx, user.ID); err != nil {
			s.log.Error().Err(err).Uint("user", user.ID).Msg("purge failed")
			continue
		}
		s.log.Info().Uint("user", user.ID).Msg("inactive account purged")
	}
	return nil
}

func (s *ReaperService) warningText() string {
	days := int(s.purgeAfter.Hours() / 24)
	if days < 1 {
		days = 1
	}
	return fmt.Sprintf("Вы давно не пользуетесь ботом. Сделайте любую активность в течение %d дн., иначе ваш аккаунт и все задачи будут удалены для экономии места.", days)
}
