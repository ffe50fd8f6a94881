package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"taskminder/internal/model"
)

// UserRepository handles CRUD for users plus the activity bookkeeping
// consumed by the inactivity reaper.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertFromTelegram finds or creates a user based on TelegramID and
// refreshes basic profile info. Any upsert counts as activity.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	var user model.User
	db := r.db.WithContext(ctx)
	now := time.Now().UTC()
	err := db.Where("telegram_id = ?", telegramID).First(&user).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"first_name":       firstName,
			"last_name":        lastName,
			"username":         username,
			"last_activity_at": now,
		}
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		return &user, nil
	case err == gorm.ErrRecordNotFound:
		user = model.User{
			TelegramID:     telegramID,
			FirstName:      firstName,
			LastName:       lastName,
			Username:       username,
			LastActivityAt: now,
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return &user, nil
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) ListAll(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// Touch records user activity and clears a pending inactivity warning,
// restarting the reaper clock.
func (r *UserRepository) Touch(ctx context.Context, userID uint, at time.Time) error {
	if err := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"last_activity_at": at, "inactive_warned_at": nil}).Error; err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

// ListInactiveUnwarned returns users whose last activity is at or
// before the cutoff and who have not been warned yet.
func (r *UserRepository) ListInactiveUnwarned(ctx context.Context, inactiveSince time.Time, limit int) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).
		Where("last_activity_at <= ?", inactiveSince).
		Where("inactive_warned_at IS NULL").
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// ListPurgeable returns warned users whose grace period has expired
// and who are still inactive.
func (r *UserRepository) ListPurgeable(ctx context.Context, warnedBefore, inactiveSince time.Time, limit int) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).
		Where("inactive_warned_at IS NOT NULL AND inactive_warned_at <= ?", warnedBefore).
		Where("last_activity_at <= ?", inactiveSince).
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// MarkWarned sets the inactivity warning timestamp if it is still
// unset. Returns false when the user was already warned, so the reaper
// never re-warns on overlapping runs.
func (r *UserRepository) MarkWarned(ctx context.Context, userID uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND inactive_warned_at IS NULL", userID).
		Update("inactive_warned_at", at)
	if res.Error != nil {
		return false, fmt.Errorf("mark warned: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// PurgeUser removes the user and all their tasks in one transaction.
func (r *UserRepository) PurgeUser(ctx context.Context, userID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&model.Task{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.User{}, userID).Error
	})
	if err != nil {
		return fmt.Errorf("purge user %d: %w", userID, err)
	}
	return nil
}
