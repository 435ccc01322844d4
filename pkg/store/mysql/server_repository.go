package mysql

import (
	"context"
	"fmt"

	"workbench/pkg/store/mysql/model"

	"gorm.io/gorm"
)

// ServerRepository handles server persistence in MySQL
type ServerRepository struct {
	ds *Datastore
}

// NewServerRepository creates a new server repository
func NewServerRepository(ds *Datastore) *ServerRepository {
	return &ServerRepository{ds: ds}
}

// Create creates a new server
func (r *ServerRepository) Create(ctx context.Context, server *model.Server) error {
	return r.ds.DB(ctx).Create(server).Error
}

// Get retrieves an active server by id, nil if not found
func (r *ServerRepository) Get(ctx context.Context, id string) (*model.Server, error) {
	var server model.Server
	err := r.ds.DB(ctx).Preload("ServerSize").
		Where("id = ? AND is_active = ?", id, true).
		First(&server).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return &server, nil
}

// List retrieves active servers, optionally filtered by owner
func (r *ServerRepository) List(ctx context.Context, ownerID string) ([]*model.Server, error) {
	var servers []*model.Server
	query := r.ds.DB(ctx).Preload("ServerSize").Where("is_active = ?", true)
	if ownerID != "" {
		query = query.Where("owner_id = ?", ownerID)
	}
	if err := query.Order("created_at DESC").Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	return servers, nil
}

// SaveConfig persists the server's provider handle map
func (r *ServerRepository) SaveConfig(ctx context.Context, server *model.Server) error {
	return r.ds.DB(ctx).Model(&model.Server{}).
		Where("id = ?", server.ID).
		Update("config", server.Config).Error
}

// CompareAndSwapTaskDefinition writes the registered task definition ARN into
// the server config only when no ARN has been stored yet. Returns false when
// another writer won the race; the caller should re-read and reuse the stored
// ARN instead of its own registration.
func (r *ServerRepository) CompareAndSwapTaskDefinition(ctx context.Context, serverID, arn string) (bool, error) {
	res := r.ds.DB(ctx).Model(&model.Server{}).
		Where("id = ?", serverID).
		Where("config IS NULL OR JSON_EXTRACT(config, '$.task_definition_arn') IS NULL").
		Update("config", gorm.Expr(
			"JSON_SET(COALESCE(config, JSON_OBJECT()), '$.task_definition_arn', ?)", arn))
	if res.Error != nil {
		return false, fmt.Errorf("failed to store task definition arn: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Deactivate soft deletes a server. The provider-side teardown must already
// have succeeded when this is called.
func (r *ServerRepository) Deactivate(ctx context.Context, id string) error {
	return r.ds.DB(ctx).Model(&model.Server{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}
