package billing

// InvoiceItemRequest asks the payment provider to add overage buckets to a
// customer's current invoice.
type InvoiceItemRequest struct {
	Customer    string `json:"customer"`
	PriceID     string `json:"price_id"`
	Quantity    int64  `json:"quantity"`
	Description string `json:"description,omitempty"`
}

// InvoiceItemResponse is the created invoice item
type InvoiceItemResponse struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Quantity int64  `json:"quantity"`
}

// PlanResponse is a subscription plan with its metadata map. The gb_hours
// metadata key carries the included usage allowance.
type PlanResponse struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

// ErrorResponse is the provider's error envelope
type ErrorResponse struct {
	Message string `json:"message"`
}
