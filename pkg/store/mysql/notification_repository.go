package mysql

import (
	"context"
	"fmt"
	"time"

	"workbench/pkg/store/mysql/model"
)

// NotificationRepository handles notification record persistence in MySQL
type NotificationRepository struct {
	ds *Datastore
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(ds *Datastore) *NotificationRepository {
	return &NotificationRepository{ds: ds}
}

// Create creates a new notification record
func (r *NotificationRepository) Create(ctx context.Context, notif *model.Notification) error {
	return r.ds.DB(ctx).Create(notif).Error
}

// ExistsSince reports whether the user already has a notification of the
// given type newer than the timestamp. This is the idempotency guard for
// per-period threshold notifications.
func (r *NotificationRepository) ExistsSince(ctx context.Context, userID, notifType string, since time.Time) (bool, error) {
	var count int64
	err := r.ds.DB(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND type = ? AND timestamp > ?", userID, notifType, since).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check notifications: %w", err)
	}
	return count > 0, nil
}

// ListByUser retrieves a user's notifications, newest first
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	var notifs []*model.Notification
	query := r.ds.DB(ctx).Where("user_id = ?", userID).Order("timestamp DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&notifs).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifs, nil
}
