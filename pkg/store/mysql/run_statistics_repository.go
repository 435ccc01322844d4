package mysql

import (
	"context"
	"fmt"
	"time"

	"workbench/pkg/store/mysql/model"
)

// RunStatisticsRepository handles server run interval persistence in MySQL
type RunStatisticsRepository struct {
	ds *Datastore
}

// NewRunStatisticsRepository creates a new run statistics repository
func NewRunStatisticsRepository(ds *Datastore) *RunStatisticsRepository {
	return &RunStatisticsRepository{ds: ds}
}

// Create opens a new run interval
func (r *RunStatisticsRepository) Create(ctx context.Context, run *model.ServerRunStatistics) error {
	return r.ds.DB(ctx).Create(run).Error
}

// GetOpenRuns retrieves all open (stop IS NULL) runs for a server, newest
// first. More than one row violates the single-open-run invariant and is the
// caller's to reconcile.
func (r *RunStatisticsRepository) GetOpenRuns(ctx context.Context, serverID string) ([]*model.ServerRunStatistics, error) {
	var runs []*model.ServerRunStatistics
	err := r.ds.DB(ctx).
		Where("server_id = ? AND stop IS NULL", serverID).
		Order("start DESC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get open runs: %w", err)
	}
	return runs, nil
}

// CloseRun sets the stop timestamp on a run only if it is still open, so a
// retried stop job cannot shorten an already closed interval. Returns the
// number of rows closed.
func (r *RunStatisticsRepository) CloseRun(ctx context.Context, runID string, stop time.Time) (int64, error) {
	res := r.ds.DB(ctx).Model(&model.ServerRunStatistics{}).
		Where("id = ? AND stop IS NULL", runID).
		Update("stop", stop)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to close run: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListOpen retrieves every open run across the fleet that started before
// the given time, oldest first. Used by the stale-run sweeper.
func (r *RunStatisticsRepository) ListOpen(ctx context.Context, olderThan time.Time) ([]*model.ServerRunStatistics, error) {
	var runs []*model.ServerRunStatistics
	err := r.ds.DB(ctx).
		Where("stop IS NULL AND start < ?", olderThan).
		Order("start ASC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open runs: %w", err)
	}
	return runs, nil
}

// ListBillable retrieves an owner's runs that can contribute usage after the
// given cutoff: still open, or stopped at/after it.
func (r *RunStatisticsRepository) ListBillable(ctx context.Context, ownerID string, cutoff time.Time) ([]*model.ServerRunStatistics, error) {
	var runs []*model.ServerRunStatistics
	err := r.ds.DB(ctx).
		Where("owner_id = ?", ownerID).
		Where("stop IS NULL OR stop >= ?", cutoff).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list billable runs: %w", err)
	}
	return runs, nil
}

// ListByServer retrieves run history for a server, newest first
func (r *RunStatisticsRepository) ListByServer(ctx context.Context, serverID string, limit int) ([]*model.ServerRunStatistics, error) {
	var runs []*model.ServerRunStatistics
	query := r.ds.DB(ctx).Where("server_id = ?", serverID).Order("start DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
