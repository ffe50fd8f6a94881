package notify

import (
	"context"
	"errors"
)

// Notifier delivers a rendered HTML message to a chat. Implementations
// must be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, chatID int64, html string) error
	// SendSilent delivers without a client-side notification sound.
	SendSilent(ctx context.Context, chatID int64, html string) error
}

// ErrRecipientUnreachable marks delivery failures that will never
// succeed (bot blocked, account deactivated, chat gone). The scheduler
// stops retrying these instead of hammering the API every tick.
var ErrRecipientUnreachable = errors.New("recipient unreachable")

// IsPermanent reports whether a delivery error should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRecipientUnreachable)
}
