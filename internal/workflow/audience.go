package workflow

import (
	"context"

	"github.com/driveguard/driveguard-go/internal/appctx"
)

// resolveAudience maps a channel's membership to the e-mail addresses the
// destination object will be shared with. Members whose profile exposes no
// address (bots, restricted guests) are skipped; a lookup failure aborts
// the resolution so the transfer never runs with a silently truncated
// audience.
func (w *Workflow) resolveAudience(ctx context.Context, channelID string) ([]string, error) {
	members, err := w.chat.ConversationMembers(ctx, channelID)
	if err != nil {
		return nil, err
	}

	emails := make([]string, 0, len(members))
	for _, m := range members {
		email, err := w.chat.UserEmail(ctx, m)
		if err != nil {
			return nil, err
		}
		if email == "" {
			appctx.Logger(ctx).Debug("member without email skipped", "member", m)
			continue
		}
		emails = append(emails, email)
	}
	return emails, nil
}
