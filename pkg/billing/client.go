package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"workbench/pkg/config"
	"workbench/pkg/logger"
)

// Client is the payment provider API client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new payment provider API client
func NewClient(cfg *config.BillingConfig) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateInvoiceItem adds overage buckets to the customer's open invoice
func (c *Client) CreateInvoiceItem(ctx context.Context, req *InvoiceItemRequest) (*InvoiceItemResponse, error) {
	url := c.baseURL + "/v1/invoiceitems"

	respData, err := c.doRequest(ctx, "POST", url, req)
	if err != nil {
		return nil, err
	}

	var resp InvoiceItemResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse invoice item response: %w", err)
	}

	return &resp, nil
}

// GetPlan gets plan details, including the usage allowance metadata
func (c *Client) GetPlan(ctx context.Context, planID string) (*PlanResponse, error) {
	url := c.baseURL + "/v1/plans/" + planID

	respData, err := c.doRequest(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	var resp PlanResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse plan response: %w", err)
	}

	return &resp, nil
}

// doRequest performs an HTTP request with proper authentication
func (c *Client) doRequest(ctx context.Context, method, url string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)

		logger.Debugf("Billing API Request: %s %s, Body: %s", method, url, string(jsonData))
	} else {
		logger.Debugf("Billing API Request: %s %s", method, url)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	logger.Debugf("Billing API Response: Status %d, Body: %s", resp.StatusCode, string(respData))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(respData, &errResp); err == nil && errResp.Message != "" {
			return nil, fmt.Errorf("billing API error (status %d): %s", resp.StatusCode, errResp.Message)
		}
		return nil, fmt.Errorf("billing API error (status %d): %s", resp.StatusCode, string(respData))
	}

	return respData, nil
}
