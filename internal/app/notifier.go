package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/jcolson/dndvault-bot-sub000/internal/chat"
	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
	"github.com/jcolson/dndvault-bot-sub000/internal/metrics"
)

// Notifier delivers messages to a participant by direct message, falling
// back to a mention in a channel when the DM cannot be delivered. Delivery is
// paced by a shared limiter.
type Notifier struct {
	msgs    chat.Messages
	limiter *rate.Limiter
	render  *Renderer
	logger  *slog.Logger
}

func NewNotifier(msgs chat.Messages, limiter *rate.Limiter, render *Renderer, logger *slog.Logger) *Notifier {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{msgs: msgs, limiter: limiter, render: render, logger: logger}
}

// Notify sends msg to userID. fallbackChannelID may be empty, in which case a
// failed DM is final.
func (n *Notifier) Notify(ctx context.Context, userID, fallbackChannelID string, msg chat.Message) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	dmErr := n.msgs.DirectMessage(ctx, userID, msg)
	if dmErr == nil {
		metrics.Notifications.WithLabelValues("dm").Inc()
		return nil
	}
	if fallbackChannelID == "" {
		metrics.Notifications.WithLabelValues("failed").Inc()
		return fmt.Errorf("notify %s: %w", userID, dmErr)
	}

	n.logger.Debug("dm failed, falling back to channel", "user_id", userID, "channel_id", fallbackChannelID, "err", dmErr)
	msg.Content = chat.Mention(userID) + " " + msg.Content
	if _, err := n.msgs.SendMessage(ctx, fallbackChannelID, msg); err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		return fmt.Errorf("notify %s: %w", userID, errors.Join(dmErr, err))
	}
	metrics.Notifications.WithLabelValues("channel").Inc()
	return nil
}

// Error reports err to the acting participant. Unclassified errors are logged
// with their detail and shown generically.
func (n *Notifier) Error(ctx context.Context, actorID, fallbackChannelID string, err error, attrs ...any) {
	if err == nil {
		return
	}
	if domain.KindOf(err) == domain.KindInternal || domain.KindOf(err) == domain.KindExternal {
		n.logger.Error("operation failed", append(attrs, "user_id", actorID, "err", err)...)
	}
	if nerr := n.Notify(ctx, actorID, fallbackChannelID, n.render.ErrorMessage(actorID, err)); nerr != nil {
		n.logger.Warn("could not report error to user", append(attrs, "user_id", actorID, "err", nerr)...)
	}
}
