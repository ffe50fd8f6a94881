package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// TelegramNotifier sends HTML messages through the Bot API. Sends are
// rate limited below Telegram's global bot limit, and the HTTP client
// timeout bounds every call so one stuck delivery cannot stall a whole
// scheduler tick.
type TelegramNotifier struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
}

func NewTelegramNotifier(token string, timeout time.Duration, ratePerSec int) (*TelegramNotifier, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if ratePerSec <= 0 {
		ratePerSec = 25
	}
	client := &http.Client{Timeout: timeout}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &TelegramNotifier{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}, nil
}

func (n *TelegramNotifier) Send(ctx context.Context, chatID int64, html string) error {
	return n.send(ctx, chatID, html, false)
}

func (n *TelegramNotifier) SendSilent(ctx context.Context, chatID int64, html string) error {
	return n.send(ctx, chatID, html, true)
}

func (n *TelegramNotifier) send(ctx context.Context, chatID int64, html string, silent bool) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, html)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableNotification = silent
	if _, err := n.api.Send(msg); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps Bot API errors onto the retry taxonomy. 403 covers
// blocked bots and deactivated accounts; everything else is assumed
// transient and left for a later tick.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrRecipientUnreachable, apiErr.Message)
	}
	msg := err.Error()
	for _, marker := range []string{"bot was blocked", "user is deactivated", "chat not found"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrRecipientUnreachable, err)
		}
	}
	return err
}
