package model

import "time"

// Notification types emitted by this service.
const (
	NotificationUsageWarning = "usage_warning"
)

// Notification is a record handed to the surrounding notification subsystem
// for delivery (email, in-app). Delivery mechanics live outside this service.
type Notification struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"column:user_id;type:char(36);not null;index:idx_notif_user" json:"user_id"`
	Type      string    `gorm:"column:type;type:varchar(100);not null;index:idx_notif_type" json:"type"`
	ActorType string    `gorm:"column:actor_type;type:varchar(100);not null;default:''" json:"actor_type"`
	ActorID   string    `gorm:"column:actor_id;type:varchar(255);not null;default:''" json:"actor_id"`
	Target    string    `gorm:"column:target;type:varchar(255);not null;default:''" json:"target"`
	Timestamp time.Time `gorm:"column:timestamp;type:datetime(3);not null;index:idx_notif_timestamp" json:"timestamp"`
}

// TableName specifies the table name for Notification
func (Notification) TableName() string {
	return "notifications"
}
