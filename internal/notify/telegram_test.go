package notify

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_ForbiddenIsPermanent(t *testing.T) {
	err := classify(&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"})
	assert.True(t, IsPermanent(err))
	require.ErrorIs(t, err, ErrRecipientUnreachable)
}

func TestClassify_KnownMarkersArePermanent(t *testing.T) {
	for _, msg := range []string{
		"Forbidden: bot was blocked by the user",
		"Forbidden: user is deactivated",
		"Bad Request: chat not found",
	} {
		assert.True(t, IsPermanent(classify(errors.New(msg))), msg)
	}
}

func TestClassify_OtherErrorsAreTransient(t *testing.T) {
	for _, err := range []error{
		errors.New("Too Many Requests: retry after 5"),
		errors.New("connection reset by peer"),
		&tgbotapi.Error{Code: 429, Message: "Too Many Requests"},
	} {
		assert.False(t, IsPermanent(classify(err)), err.Error())
	}
}
