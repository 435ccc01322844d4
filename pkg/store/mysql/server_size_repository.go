package mysql

import (
	"context"
	"fmt"

	"workbench/pkg/store/mysql/model"

	"gorm.io/gorm"
)

// ServerSizeRepository handles server size tier persistence in MySQL
type ServerSizeRepository struct {
	ds *Datastore
}

// NewServerSizeRepository creates a new server size repository
func NewServerSizeRepository(ds *Datastore) *ServerSizeRepository {
	return &ServerSizeRepository{ds: ds}
}

// Create creates a new size tier
func (r *ServerSizeRepository) Create(ctx context.Context, size *model.ServerSize) error {
	return r.ds.DB(ctx).Create(size).Error
}

// Get retrieves a size tier by id, nil if not found
func (r *ServerSizeRepository) Get(ctx context.Context, id int64) (*model.ServerSize, error) {
	var size model.ServerSize
	err := r.ds.DB(ctx).Where("id = ?", id).First(&size).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get server size: %w", err)
	}
	return &size, nil
}

// GetByName retrieves a size tier by name, nil if not found
func (r *ServerSizeRepository) GetByName(ctx context.Context, name string) (*model.ServerSize, error) {
	var size model.ServerSize
	err := r.ds.DB(ctx).Where("name = ?", name).First(&size).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get server size: %w", err)
	}
	return &size, nil
}

// List retrieves all active size tiers
func (r *ServerSizeRepository) List(ctx context.Context) ([]*model.ServerSize, error) {
	var sizes []*model.ServerSize
	if err := r.ds.DB(ctx).Where("active = ?", true).Order("memory ASC").Find(&sizes).Error; err != nil {
		return nil, fmt.Errorf("failed to list server sizes: %w", err)
	}
	return sizes, nil
}
