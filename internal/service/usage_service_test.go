package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"workbench/pkg/billing"
	"workbench/pkg/config"
	"workbench/pkg/notification"
	"workbench/pkg/store/mysql/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var periodStart = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
var periodEnd = periodStart.AddDate(0, 1, 0)

type fakeInvoiceStore struct {
	invoices []*model.Invoice
	closed   []int64
}

func (s *fakeInvoiceStore) ListOpen(ctx context.Context, closingFrom, closingTo time.Time) ([]*model.Invoice, error) {
	var out []*model.Invoice
	for _, inv := range s.invoices {
		if inv.Closed {
			continue
		}
		if !closingTo.IsZero() && inv.PeriodEnd.After(closingTo) {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (s *fakeInvoiceStore) MarkClosed(ctx context.Context, invoiceID int64) error {
	for _, inv := range s.invoices {
		if inv.ID == invoiceID {
			inv.Closed = true
		}
	}
	s.closed = append(s.closed, invoiceID)
	return nil
}

type fakeCustomerStore struct {
	customers map[int64]*model.Customer
	advanced  int
}

func (s *fakeCustomerStore) AdvanceInvoiceSync(ctx context.Context, customerID int64, syncedAt time.Time) error {
	s.advanced++
	if c, ok := s.customers[customerID]; ok {
		if c.LastInvoiceSync == nil || c.LastInvoiceSync.Before(syncedAt) {
			t := syncedAt
			c.LastInvoiceSync = &t
		}
	}
	return nil
}

type fakeBillableRuns struct {
	runs []*model.ServerRunStatistics
}

func (s *fakeBillableRuns) ListBillable(ctx context.Context, ownerID string, cutoff time.Time) ([]*model.ServerRunStatistics, error) {
	var out []*model.ServerRunStatistics
	for _, run := range s.runs {
		if run.OwnerID != ownerID {
			continue
		}
		if run.Stop == nil || !run.Stop.Before(cutoff) {
			out = append(out, run)
		}
	}
	return out, nil
}

type fakeBilling struct {
	items []*billing.InvoiceItemRequest
	err   error
}

func (b *fakeBilling) CreateInvoiceItem(ctx context.Context, req *billing.InvoiceItemRequest) (*billing.InvoiceItemResponse, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.items = append(b.items, req)
	return &billing.InvoiceItemResponse{ID: "ii_1", Customer: req.Customer, Quantity: req.Quantity}, nil
}

type fakeNotifier struct {
	warnings []*notification.UsageWarning
}

func (n *fakeNotifier) NotifyUsageWarning(ctx context.Context, warning *notification.UsageWarning, since time.Time) (bool, error) {
	n.warnings = append(n.warnings, warning)
	return true, nil
}

type usageFixture struct {
	svc       *UsageService
	invoices  *fakeInvoiceStore
	customers *fakeCustomerStore
	runs      *fakeBillableRuns
	billing   *fakeBilling
	notifier  *fakeNotifier
}

// newUsageFixture wires one customer on a 10 GB-hour plan with a 1 GB-hour
// overage bucket.
func newUsageFixture() *usageFixture {
	customer := &model.Customer{ID: 1, UserID: "user-1", StripeID: "cus_abc"}
	invoice := &model.Invoice{
		ID:          100,
		CustomerID:  1,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Customer:    customer,
		Subscription: &model.Subscription{
			Plan: &model.Plan{Metadata: model.JSONMap{"gb_hours": 10.0}},
		},
	}

	invoices := &fakeInvoiceStore{invoices: []*model.Invoice{invoice}}
	customers := &fakeCustomerStore{customers: map[int64]*model.Customer{1: customer}}
	runs := &fakeBillableRuns{}
	billingClient := &fakeBilling{}
	notifier := &fakeNotifier{}

	cfg := &config.Config{
		Usage:   config.UsageConfig{WarningThresholds: "75,90,100"},
		Billing: config.BillingConfig{BucketSizeGB: 1.0, BucketPriceID: "price_bucket"},
	}
	svc := NewUsageService(invoices, customers, runs, billingClient, notifier, cfg)
	return &usageFixture{svc: svc, invoices: invoices, customers: customers, runs: runs, billing: billingClient, notifier: notifier}
}

// usageRun adds a closed run of the given GB-hours (1024 MB baseline)
func (f *usageFixture) usageRun(gbHours float64) {
	start := periodStart
	stop := start.Add(time.Duration(gbHours * float64(time.Hour)))
	f.runs.runs = append(f.runs.runs, &model.ServerRunStatistics{
		ID:               "run",
		OwnerID:          "user-1",
		ServerSizeMemory: 1024,
		Start:            start,
		Stop:             &stop,
	})
}

func TestReconcile_UnderLimit(t *testing.T) {
	f := newUsageFixture()
	f.usageRun(5) // 50% of the plan

	require.NoError(t, f.svc.Reconcile(context.Background(), periodStart.Add(48*time.Hour)))

	assert.Empty(t, f.billing.items)
	assert.Empty(t, f.notifier.warnings)
	assert.Equal(t, 1, f.customers.advanced, "watermark advances even without billing")
}

func TestReconcile_WarnsAtHighestCrossedThreshold(t *testing.T) {
	f := newUsageFixture()
	f.usageRun(9.5) // 95%

	require.NoError(t, f.svc.Reconcile(context.Background(), periodStart.Add(48*time.Hour)))

	require.Len(t, f.notifier.warnings, 1)
	assert.Equal(t, 90, f.notifier.warnings[0].Threshold)
	assert.Equal(t, 95, f.notifier.warnings[0].Percent)
	assert.Empty(t, f.billing.items, "no overage below the limit")
}

func TestReconcile_BillsOverageBuckets(t *testing.T) {
	f := newUsageFixture()
	f.usageRun(12.5) // 2.5 GB-hours over, 3 buckets

	require.NoError(t, f.svc.Reconcile(context.Background(), periodStart.Add(48*time.Hour)))

	require.Len(t, f.billing.items, 1)
	assert.Equal(t, "cus_abc", f.billing.items[0].Customer)
	assert.Equal(t, "price_bucket", f.billing.items[0].PriceID)
	assert.EqualValues(t, 3, f.billing.items[0].Quantity)

	require.Len(t, f.notifier.warnings, 1)
	assert.Equal(t, 100, f.notifier.warnings[0].Threshold)
}

func TestReconcile_SecondPassBillsNothingNew(t *testing.T) {
	f := newUsageFixture()
	f.usageRun(12.5)
	ctx := context.Background()

	require.NoError(t, f.svc.Reconcile(ctx, periodStart.Add(48*time.Hour)))
	require.Len(t, f.billing.items, 1)

	// No new usage since the watermark advanced
	require.NoError(t, f.svc.Reconcile(ctx, periodStart.Add(72*time.Hour)))
	assert.Len(t, f.billing.items, 1, "already billed buckets are not re-billed")
}

func TestReconcile_IncrementalOverage(t *testing.T) {
	f := newUsageFixture()
	f.usageRun(12.5) // 3 buckets
	ctx := context.Background()

	require.NoError(t, f.svc.Reconcile(ctx, periodStart.Add(48*time.Hour)))
	require.Len(t, f.billing.items, 1)
	assert.EqualValues(t, 3, f.billing.items[0].Quantity)

	// Two more GB-hours of usage after the first pass
	start := periodStart.Add(72 * time.Hour)
	stop := start.Add(2 * time.Hour)
	f.runs.runs = append(f.runs.runs, &model.ServerRunStatistics{
		ID:               "run-2",
		OwnerID:          "user-1",
		ServerSizeMemory: 1024,
		Start:            start,
		Stop:             &stop,
	})

	require.NoError(t, f.svc.Reconcile(ctx, periodStart.Add(96*time.Hour)))
	require.Len(t, f.billing.items, 2)
	assert.EqualValues(t, 2, f.billing.items[1].Quantity, "only the new buckets")
}

func TestReconcile_BillingFailureKeepsWatermark(t *testing.T) {
	f := newUsageFixture()
	f.usageRun(12.5)
	f.billing.err = errors.New("provider down")
	ctx := context.Background()

	require.NoError(t, f.svc.Reconcile(ctx, periodStart.Add(48*time.Hour)))
	assert.Equal(t, 0, f.customers.advanced, "watermark stays put on billing failure")

	// Retry after the provider recovers bills the same delta once
	f.billing.err = nil
	require.NoError(t, f.svc.Reconcile(ctx, periodStart.Add(49*time.Hour)))
	require.Len(t, f.billing.items, 1)
	assert.EqualValues(t, 3, f.billing.items[0].Quantity)
}

func TestReconcile_DuplicateOpenInvoicesFirstWins(t *testing.T) {
	f := newUsageFixture()
	duplicate := *f.invoices.invoices[0]
	duplicate.ID = 101
	f.invoices.invoices = append(f.invoices.invoices, &duplicate)
	f.usageRun(12.5)

	require.NoError(t, f.svc.Reconcile(context.Background(), periodStart.Add(48*time.Hour)))
	assert.Len(t, f.billing.items, 1, "duplicate invoice does not double-bill")
}

func TestCloseOut(t *testing.T) {
	f := newUsageFixture()
	f.usageRun(12.5)
	ctx := context.Background()

	// Period not over yet: nothing closes
	require.NoError(t, f.svc.CloseOut(ctx, periodEnd.Add(-time.Hour)))
	assert.Empty(t, f.invoices.closed)

	require.NoError(t, f.svc.CloseOut(ctx, periodEnd.Add(time.Hour)))
	assert.Equal(t, []int64{100}, f.invoices.closed)
	require.Len(t, f.billing.items, 1, "final reconcile billed the overage")

	// Closed invoices are never touched again
	require.NoError(t, f.svc.Reconcile(ctx, periodEnd.Add(2*time.Hour)))
	assert.Len(t, f.billing.items, 1)
}

func TestUserUsage(t *testing.T) {
	f := newUsageFixture()
	f.usageRun(9.5)

	usage, err := f.svc.UserUsage(context.Background(), "user-1", periodStart.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "user-1", usage.UserID)
	assert.Equal(t, 95, usage.Percent)
	assert.EqualValues(t, 0, usage.Buckets)
	assert.True(t, usage.Usage.Equal(decimal.NewFromFloat(9.5)), "got %s", usage.Usage)

	_, err = f.svc.UserUsage(context.Background(), "stranger", periodStart)
	assert.Error(t, err)
}
