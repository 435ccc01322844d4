package mysql

import (
	"context"
	"fmt"
	"time"

	"workbench/pkg/store/mysql/model"
)

// InvoiceRepository handles invoice mirror persistence in MySQL
type InvoiceRepository struct {
	ds *Datastore
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(ds *Datastore) *InvoiceRepository {
	return &InvoiceRepository{ds: ds}
}

// Create creates a new invoice row
func (r *InvoiceRepository) Create(ctx context.Context, invoice *model.Invoice) error {
	return r.ds.DB(ctx).Create(invoice).Error
}

// ListOpen retrieves open invoices whose period end falls inside the window.
// Zero times skip the respective bound. Customer and subscription plan are
// preloaded for the metering pass.
func (r *InvoiceRepository) ListOpen(ctx context.Context, closingFrom, closingTo time.Time) ([]*model.Invoice, error) {
	var invoices []*model.Invoice
	query := r.ds.DB(ctx).
		Preload("Customer").
		Preload("Subscription").
		Preload("Subscription.Plan").
		Where("closed = ?", false)
	if !closingFrom.IsZero() {
		query = query.Where("period_end >= ?", closingFrom)
	}
	if !closingTo.IsZero() {
		query = query.Where("period_end <= ?", closingTo)
	}
	if err := query.Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("failed to list open invoices: %w", err)
	}
	return invoices, nil
}

// MarkClosed flips the local closed flag after a final reconciliation
func (r *InvoiceRepository) MarkClosed(ctx context.Context, invoiceID int64) error {
	return r.ds.DB(ctx).Model(&model.Invoice{}).
		Where("id = ?", invoiceID).
		Update("closed", true).Error
}
