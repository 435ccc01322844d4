package model

import "time"

// ServerRunStatistics is one start-to-stop interval of a server, the unit of
// billable usage. ServerSizeMemory is snapshotted at run start so later size
// tier changes cannot corrupt historical invoices. Rows are never mutated
// after Stop is set. At most one open (Stop IS NULL) row exists per server.
type ServerRunStatistics struct {
	ID               string     `gorm:"column:id;type:char(36);primaryKey" json:"id"`
	ServerID         string     `gorm:"column:server_id;type:char(36);not null;index:idx_run_server" json:"server_id"`
	OwnerID          string     `gorm:"column:owner_id;type:char(36);not null;index:idx_run_owner" json:"owner_id"`
	ProjectID        string     `gorm:"column:project_id;type:char(36);not null" json:"project_id"`
	ServerSizeMemory int        `gorm:"column:server_size_memory;not null" json:"server_size_memory"` // MB, snapshot at start
	Start            time.Time  `gorm:"column:start;type:datetime(3);not null;index:idx_run_start" json:"start"`
	Stop             *time.Time `gorm:"column:stop;type:datetime(3);index:idx_run_stop" json:"stop"`

	CreatedAt time.Time `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"created_at"`
}

// TableName specifies the table name for ServerRunStatistics
func (ServerRunStatistics) TableName() string {
	return "server_run_statistics"
}

// Duration returns the elapsed run time, using now for a still-open run.
func (r *ServerRunStatistics) Duration(now time.Time) time.Duration {
	end := now
	if r.Stop != nil {
		end = *r.Stop
	}
	d := end.Sub(r.Start)
	if d < 0 {
		return 0
	}
	return d
}
