package model

import "time"

// User stores Telegram user metadata and scheduling preferences.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string

	// IANA zone name, e.g. "Europe/Kyiv". Empty means UTC.
	Timezone string

	LastActivityAt   time.Time `gorm:"index"`
	InactiveWarnedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
