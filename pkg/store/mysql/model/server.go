package model

import "time"

// Server config keys populated by spawner adapters at start time.
const (
	ConfigTaskDefinitionARN = "task_definition_arn"
	ConfigTaskARN           = "task_arn"
	ConfigFunctionARN       = "function_arn"
	ConfigDeploymentName    = "deployment_name"
	ConfigStartupScript     = "startup_script"
	ConfigType              = "type"
)

// Server is a user-provisioned compute workload. The durable record owns
// identity and provider handles; the live status is always provider-reported
// and never persisted here.
type Server struct {
	ID           string  `gorm:"column:id;type:char(36);primaryKey" json:"id"`
	Name         string  `gorm:"column:name;type:varchar(255);not null" json:"name"`
	OwnerID      string  `gorm:"column:owner_id;type:char(36);not null;index:idx_owner" json:"owner_id"`
	ProjectID    string  `gorm:"column:project_id;type:char(36);not null;index:idx_project" json:"project_id"`
	Image        string  `gorm:"column:image;type:varchar(500);not null" json:"image"`
	ServerSizeID int64   `gorm:"column:server_size_id;not null" json:"server_size_id"`
	VolumePath   string  `gorm:"column:volume_path;type:varchar(500);not null;default:''" json:"volume_path"`
	Config       JSONMap `gorm:"column:config;type:json" json:"config"`
	IsActive     bool    `gorm:"column:is_active;type:tinyint(1);not null;default:1;index:idx_active" json:"is_active"`

	ServerSize *ServerSize `gorm:"foreignKey:ServerSizeID" json:"server_size,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"updated_at"`
}

// TableName specifies the table name for Server
func (Server) TableName() string {
	return "servers"
}

// TaskDefinitionARN returns the cached task definition ARN, empty if the
// server was never started.
func (s *Server) TaskDefinitionARN() string {
	return s.Config.GetString(ConfigTaskDefinitionARN)
}

// TaskARN returns the running task handle, empty if not started.
func (s *Server) TaskARN() string {
	return s.Config.GetString(ConfigTaskARN)
}

// SetConfig stores a provider handle in the config map, allocating it if needed.
func (s *Server) SetConfig(key, value string) {
	if s.Config == nil {
		s.Config = make(JSONMap)
	}
	s.Config[key] = value
}

// ServerSize is an immutable named resource tier.
type ServerSize struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name          string  `gorm:"column:name;type:varchar(100);not null;uniqueIndex:idx_size_name" json:"name"`
	CPU           int     `gorm:"column:cpu;not null" json:"cpu"`
	Memory        int     `gorm:"column:memory;not null" json:"memory"` // MB
	Active        bool    `gorm:"column:active;type:tinyint(1);not null;default:1" json:"active"`
	CostPerSecond float64 `gorm:"column:cost_per_second;type:decimal(12,8);not null;default:0" json:"cost_per_second"`

	CreatedAt time.Time `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"created_at"`
}

// TableName specifies the table name for ServerSize
func (ServerSize) TableName() string {
	return "server_sizes"
}
