// Package telegram sends optional chat notifications when links are saved.
package telegram

import (
	"context"
	"strings"
	"time"

	"github.com/linkstash/linkstash/internal/logging"
	"github.com/linkstash/linkstash/internal/models"
)

const (
	defaultRatePerMinute = 20
	dedupWindow          = time.Minute
)

// Notifier posts link events to one chat. A nil or disabled Notifier
// silently does nothing.
type Notifier struct {
	sender  Sender
	chatID  int64
	limiter *RateLimiter
	dedup   *DedupLimiter
	logger  *logging.Logger
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

func WithNotifierLogger(logger *logging.Logger) NotifierOption {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// WithRateLimit caps notifications per minute.
func WithRateLimit(perMinute int) NotifierOption {
	return func(n *Notifier) {
		n.limiter = NewRateLimiter(perMinute)
	}
}

// NewNotifier returns a notifier for chatID, or nil when sender is nil or
// chatID is zero.
func NewNotifier(sender Sender, chatID int64, opts ...NotifierOption) *Notifier {
	if sender == nil || chatID == 0 {
		return nil
	}
	n := &Notifier{
		sender:  sender,
		chatID:  chatID,
		limiter: NewRateLimiter(defaultRatePerMinute),
		dedup:   NewDedupLimiter(dedupWindow),
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// LinkSaved announces a link saved to repo.
func (n *Notifier) LinkSaved(ctx context.Context, rec models.LinkRecord, repo string) error {
	if n == nil {
		return nil
	}
	return n.send(ctx, "saved:"+rec.ID, formatLinkSaved(rec, repo))
}

// SyncFailed reports a failed save of url.
func (n *Notifier) SyncFailed(ctx context.Context, url string, err error) error {
	if n == nil || err == nil {
		return nil
	}
	return n.send(ctx, "failed:"+url+":"+err.Error(), formatSyncFailure(url, err))
}

func (n *Notifier) send(ctx context.Context, key, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !n.dedup.CanSend(key) {
		n.logger.DebugWithContext(ctx, "notification suppressed as duplicate", "key", key)
		return nil
	}
	if !n.limiter.Allow() {
		n.logger.WarnWithContext(ctx, "notification dropped by rate limit")
		return nil
	}
	if err := n.sender.SendMessage(n.chatID, text, parseMode); err != nil {
		n.logger.WarnWithContext(ctx, "telegram notification failed", "error", err)
		return err
	}
	return nil
}
