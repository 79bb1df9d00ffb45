package chat

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

const errCannotDMBot = "cannot_dm_bot"

// permanentCodes are Slack error codes a retry can never fix.
var permanentCodes = []string{
	errCannotDMBot,
	"channel_not_found",
	"not_in_channel",
	"is_archived",
	"missing_scope",
	"invalid_auth",
	"not_authed",
	"account_inactive",
	"user_not_found",
	"restricted_action",
	"invalid_blocks",
	"msg_too_long",
}

// IsCannotDMBot reports whether the platform refused a DM to a bot user.
func IsCannotDMBot(err error) bool {
	return err != nil && strings.Contains(err.Error(), errCannotDMBot)
}

// IsPermanent reports whether err is a Slack API error that will not go away
// on retry.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, code := range permanentCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

// retryAfter returns the delay requested by a rate-limit error.
func retryAfter(err error) (time.Duration, bool) {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		if rl.RetryAfter <= 0 {
			return DefaultRetryAfter, true
		}
		return rl.RetryAfter, true
	}
	return 0, false
}

// isTransient reports whether err is worth a backoff retry: 5xx responses and
// network failures.
func isTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var status slack.StatusCodeError
	if errors.As(err, &status) {
		return status.Code >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
