package model

import "time"

// Customer links a platform user to the payment provider. LastInvoiceSync is
// the billing watermark: usage before it has already been reconciled onto an
// invoice, and the field only ever moves forward.
type Customer struct {
	ID              int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID          string     `gorm:"column:user_id;type:char(36);not null;uniqueIndex:idx_customer_user" json:"user_id"`
	StripeID        string     `gorm:"column:stripe_id;type:varchar(255);not null;uniqueIndex:idx_customer_stripe" json:"stripe_id"`
	LastInvoiceSync *time.Time `gorm:"column:last_invoice_sync;type:datetime(3)" json:"last_invoice_sync"`

	CreatedAt time.Time `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"updated_at"`
}

// TableName specifies the table name for Customer
func (Customer) TableName() string {
	return "customers"
}

// Plan mirrors a payment provider plan. Metadata carries the metered quota
// under the "gb_hours" key.
type Plan struct {
	ID       int64   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	StripeID string  `gorm:"column:stripe_id;type:varchar(255);not null;uniqueIndex:idx_plan_stripe" json:"stripe_id"`
	Name     string  `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Metadata JSONMap `gorm:"column:metadata;type:json" json:"metadata"`

	CreatedAt time.Time `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"created_at"`
}

// TableName specifies the table name for Plan
func (Plan) TableName() string {
	return "plans"
}

// GBHours returns the plan's metered quota from metadata, 0 if unset.
func (p *Plan) GBHours() float64 {
	v, _ := p.Metadata.GetFloat("gb_hours")
	return v
}

// Subscription ties a customer to a plan.
type Subscription struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	StripeID   string `gorm:"column:stripe_id;type:varchar(255);not null;uniqueIndex:idx_sub_stripe" json:"stripe_id"`
	CustomerID int64  `gorm:"column:customer_id;not null;index:idx_sub_customer" json:"customer_id"`
	PlanID     int64  `gorm:"column:plan_id;not null" json:"plan_id"`
	Status     string `gorm:"column:status;type:varchar(50);not null;default:active" json:"status"`

	Plan *Plan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"created_at"`
}

// TableName specifies the table name for Subscription
func (Subscription) TableName() string {
	return "subscriptions"
}

// Invoice mirrors an open payment provider invoice period. This service only
// reads the period window and flips Closed after a final reconciliation;
// invoice lifecycle is owned by the surrounding billing application.
type Invoice struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	StripeID       string    `gorm:"column:stripe_id;type:varchar(255);not null;uniqueIndex:idx_invoice_stripe" json:"stripe_id"`
	CustomerID     int64     `gorm:"column:customer_id;not null;index:idx_invoice_customer" json:"customer_id"`
	SubscriptionID int64     `gorm:"column:subscription_id;not null" json:"subscription_id"`
	PeriodStart    time.Time `gorm:"column:period_start;type:datetime(3);not null" json:"period_start"`
	PeriodEnd      time.Time `gorm:"column:period_end;type:datetime(3);not null;index:idx_invoice_period_end" json:"period_end"`
	Closed         bool      `gorm:"column:closed;type:tinyint(1);not null;default:0;index:idx_invoice_closed" json:"closed"`

	Customer     *Customer     `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Subscription *Subscription `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"updated_at"`
}

// TableName specifies the table name for Invoice
func (Invoice) TableName() string {
	return "invoices"
}
