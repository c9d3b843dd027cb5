package progress

import (
	"context"
	"time"
)

// NotificationKind identifies a progress notification.
type NotificationKind string

const (
	NotifyLevelUp       NotificationKind = "level_up"
	NotifyBadgeUnlocked NotificationKind = "badge_unlocked"
)

// Notification tells a user about a level-up or a new badge.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Kind      NotificationKind `json:"kind"`
	Level     int              `json:"level,omitempty"`
	BadgeID   string           `json:"badge_id,omitempty"`
	BadgeName string           `json:"badge_name,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Notifier delivers notifications after a write has committed. Delivery
// is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) error { return nil }
