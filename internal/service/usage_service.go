package service

import (
	"context"
	"fmt"
	"time"

	"workbench/internal/metering"
	"workbench/pkg/billing"
	"workbench/pkg/config"
	"workbench/pkg/logger"
	"workbench/pkg/notification"
	"workbench/pkg/store/mysql/model"

	"github.com/shopspring/decimal"
)

// InvoiceStore is the slice of the invoice repository the service needs
type InvoiceStore interface {
	ListOpen(ctx context.Context, closingFrom, closingTo time.Time) ([]*model.Invoice, error)
	MarkClosed(ctx context.Context, invoiceID int64) error
}

// CustomerStore advances the billing watermark
type CustomerStore interface {
	AdvanceInvoiceSync(ctx context.Context, customerID int64, syncedAt time.Time) error
}

// BillableRunStore lists runs contributing usage to a billing period
type BillableRunStore interface {
	ListBillable(ctx context.Context, ownerID string, cutoff time.Time) ([]*model.ServerRunStatistics, error)
}

// InvoiceItemCreator pushes overage charges to the payment provider
type InvoiceItemCreator interface {
	CreateInvoiceItem(ctx context.Context, req *billing.InvoiceItemRequest) (*billing.InvoiceItemResponse, error)
}

// WarningNotifier emits at most one usage warning per billing period
type WarningNotifier interface {
	NotifyUsageWarning(ctx context.Context, warning *notification.UsageWarning, periodStart time.Time) (bool, error)
}

// MeteredUsage is the usage picture of one user's open billing period
type MeteredUsage struct {
	UserID      string          `json:"user_id"`
	InvoiceID   int64           `json:"invoice_id"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Usage       decimal.Decimal `json:"gb_hours"`
	Limit       decimal.Decimal `json:"gb_hours_included"`
	Percent     int             `json:"percent"`
	Buckets     int64           `json:"overage_buckets"`
}

// UsageService reconciles metered usage onto open invoices. Each pass
// recomputes the full period from run intervals, bills only the buckets not
// yet covered by the watermark, and advances the watermark on success, so a
// crashed pass re-bills nothing and a skipped pass catches up naturally.
type UsageService struct {
	invoices   InvoiceStore
	customers  CustomerStore
	runs       BillableRunStore
	billing    InvoiceItemCreator
	notifier   WarningNotifier
	thresholds []int

	bucketSizeGB  float64
	bucketPriceID string
}

// NewUsageService creates a usage reconciliation service
func NewUsageService(invoices InvoiceStore, customers CustomerStore, runs BillableRunStore, billingClient InvoiceItemCreator, notifier WarningNotifier, cfg *config.Config) *UsageService {
	return &UsageService{
		invoices:      invoices,
		customers:     customers,
		runs:          runs,
		billing:       billingClient,
		notifier:      notifier,
		thresholds:    metering.ParseThresholds(cfg.Usage.WarningThresholds),
		bucketSizeGB:  cfg.Billing.BucketSizeGB,
		bucketPriceID: cfg.Billing.BucketPriceID,
	}
}

// Reconcile processes every open invoice: threshold warnings plus
// incremental overage billing. Per-invoice failures are logged and skipped
// so one broken customer cannot stall the fleet.
func (s *UsageService) Reconcile(ctx context.Context, now time.Time) error {
	invoices, err := s.invoices.ListOpen(ctx, time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("failed to list open invoices: %w", err)
	}

	seen := make(map[int64]bool)
	for _, invoice := range invoices {
		if seen[invoice.CustomerID] {
			logger.WarnCtx(ctx, "customer %d has multiple open invoices, skipping invoice %d", invoice.CustomerID, invoice.ID)
			continue
		}
		seen[invoice.CustomerID] = true

		if err := s.reconcileInvoice(ctx, invoice, now); err != nil {
			logger.ErrorCtx(ctx, "failed to reconcile invoice %d: %v", invoice.ID, err)
		}
	}
	return nil
}

// CloseOut finishes invoices whose period has ended: one final reconcile up
// to the period end, then the invoice is marked closed and never touched
// again.
func (s *UsageService) CloseOut(ctx context.Context, now time.Time) error {
	invoices, err := s.invoices.ListOpen(ctx, time.Time{}, now)
	if err != nil {
		return fmt.Errorf("failed to list closing invoices: %w", err)
	}

	for _, invoice := range invoices {
		if err := s.reconcileInvoice(ctx, invoice, invoice.PeriodEnd); err != nil {
			logger.ErrorCtx(ctx, "failed to close out invoice %d: %v", invoice.ID, err)
			continue
		}
		if err := s.invoices.MarkClosed(ctx, invoice.ID); err != nil {
			logger.ErrorCtx(ctx, "failed to mark invoice %d closed: %v", invoice.ID, err)
		}
	}
	return nil
}

// UserUsage reports the current usage picture for one user's open period
func (s *UsageService) UserUsage(ctx context.Context, userID string, now time.Time) (*MeteredUsage, error) {
	invoices, err := s.invoices.ListOpen(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to list open invoices: %w", err)
	}
	for _, invoice := range invoices {
		if invoice.Customer != nil && invoice.Customer.UserID == userID {
			return s.measure(ctx, invoice, now)
		}
	}
	return nil, fmt.Errorf("no open billing period for user %s", userID)
}

func (s *UsageService) measure(ctx context.Context, invoice *model.Invoice, now time.Time) (*MeteredUsage, error) {
	customer := invoice.Customer
	if customer == nil {
		return nil, fmt.Errorf("invoice %d has no customer loaded", invoice.ID)
	}
	if invoice.Subscription == nil || invoice.Subscription.Plan == nil {
		return nil, fmt.Errorf("invoice %d has no plan loaded", invoice.ID)
	}

	runs, err := s.runs.ListBillable(ctx, customer.UserID, invoice.PeriodStart)
	if err != nil {
		return nil, err
	}

	usage := metering.GBHours(runs, invoice.PeriodStart, now)
	limit := decimal.NewFromFloat(invoice.Subscription.Plan.GBHours())

	return &MeteredUsage{
		UserID:      customer.UserID,
		InvoiceID:   invoice.ID,
		PeriodStart: invoice.PeriodStart,
		PeriodEnd:   invoice.PeriodEnd,
		Usage:       usage,
		Limit:       limit,
		Percent:     metering.Percent(usage, limit),
		Buckets:     metering.Buckets(usage, limit, s.bucketSizeGB),
	}, nil
}

func (s *UsageService) reconcileInvoice(ctx context.Context, invoice *model.Invoice, now time.Time) error {
	usage, err := s.measure(ctx, invoice, now)
	if err != nil {
		return err
	}
	customer := invoice.Customer

	if crossed := metering.CrossedThreshold(usage.Percent, s.thresholds); crossed > 0 {
		_, err := s.notifier.NotifyUsageWarning(ctx, &notification.UsageWarning{
			UserID:    customer.UserID,
			Threshold: crossed,
			Percent:   usage.Percent,
			Usage:     usage.Usage.StringFixed(2),
			Limit:     usage.Limit.StringFixed(2),
		}, invoice.PeriodStart)
		if err != nil {
			// Warnings must not block billing
			logger.WarnCtx(ctx, "failed to notify user %s: %v", customer.UserID, err)
		}
	}

	// Buckets already billed are the ones the usage up to the watermark
	// filled. Only the difference goes on the invoice.
	watermark := invoice.PeriodStart
	if customer.LastInvoiceSync != nil && customer.LastInvoiceSync.After(watermark) {
		watermark = *customer.LastInvoiceSync
	}
	runs, err := s.runs.ListBillable(ctx, customer.UserID, invoice.PeriodStart)
	if err != nil {
		return err
	}
	billedUsage := metering.GBHours(runs, invoice.PeriodStart, watermark)
	billedBuckets := metering.Buckets(billedUsage, usage.Limit, s.bucketSizeGB)

	if delta := usage.Buckets - billedBuckets; delta > 0 {
		_, err := s.billing.CreateInvoiceItem(ctx, &billing.InvoiceItemRequest{
			Customer:    customer.StripeID,
			PriceID:     s.bucketPriceID,
			Quantity:    delta,
			Description: fmt.Sprintf("Compute usage overage (%d buckets)", delta),
		})
		if err != nil {
			// Watermark stays put; next pass re-derives the same delta
			return fmt.Errorf("failed to bill %d buckets for customer %s: %w", delta, customer.StripeID, err)
		}
		logger.InfoCtx(ctx, "billed %d overage buckets for customer %s", delta, customer.StripeID)
	}

	return s.customers.AdvanceInvoiceSync(ctx, customer.ID, now)
}
