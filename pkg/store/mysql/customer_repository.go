package mysql

import (
	"context"
	"fmt"
	"time"

	"workbench/pkg/store/mysql/model"

	"gorm.io/gorm"
)

// CustomerRepository handles customer persistence in MySQL
type CustomerRepository struct {
	ds *Datastore
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(ds *Datastore) *CustomerRepository {
	return &CustomerRepository{ds: ds}
}

// Create creates a new customer
func (r *CustomerRepository) Create(ctx context.Context, customer *model.Customer) error {
	return r.ds.DB(ctx).Create(customer).Error
}

// GetByUserID retrieves a customer by platform user id, nil if not found
func (r *CustomerRepository) GetByUserID(ctx context.Context, userID string) (*model.Customer, error) {
	var customer model.Customer
	err := r.ds.DB(ctx).Where("user_id = ?", userID).First(&customer).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &customer, nil
}

// AdvanceInvoiceSync moves the billing watermark forward. The guard keeps it
// monotonic: a stale reconciliation replaying an old timestamp is a no-op.
func (r *CustomerRepository) AdvanceInvoiceSync(ctx context.Context, customerID int64, syncedAt time.Time) error {
	return r.ds.DB(ctx).Model(&model.Customer{}).
		Where("id = ?", customerID).
		Where("last_invoice_sync IS NULL OR last_invoice_sync < ?", syncedAt).
		Update("last_invoice_sync", syncedAt).Error
}
