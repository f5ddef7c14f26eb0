package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/resolvely-ai/automation-engine/internal/model"
)

// HTTPClient calls the platform's integration gateway, which fronts the
// tenant's order, email, and billing providers behind one JSON API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a gateway client. The client satisfies OrderLookup,
// EmailSender, RefundExecutor, and SubscriptionExecutor.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Unavailable{Collaborator: "gateway", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrOrderNotFound
	case resp.StatusCode >= 500:
		return &Unavailable{Collaborator: "gateway", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return fmt.Errorf("gateway rejected request: status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// FindOrder resolves an order reference for a tenant.
func (c *HTTPClient) FindOrder(ctx context.Context, tenantID, reference string) (*model.Order, error) {
	var order model.Order
	path := fmt.Sprintf("/tenants/%s/orders/%s", url.PathEscape(tenantID), url.PathEscape(reference))
	if err := c.do(ctx, http.MethodGet, path, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// FindOrdersByCustomer lists a customer's orders for a tenant.
func (c *HTTPClient) FindOrdersByCustomer(ctx context.Context, tenantID, email string) ([]model.Order, error) {
	var out struct {
		Orders []model.Order `json:"orders"`
	}
	path := fmt.Sprintf("/tenants/%s/orders?customer=%s", url.PathEscape(tenantID), url.QueryEscape(email))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// Send delivers an email through the tenant's connected provider.
func (c *HTTPClient) Send(ctx context.Context, tenantID, to, subject, body, templateTag string) error {
	payload := map[string]string{
		"to":           to,
		"subject":      subject,
		"body":         body,
		"template_tag": templateTag,
	}
	path := fmt.Sprintf("/tenants/%s/emails", url.PathEscape(tenantID))
	return c.do(ctx, http.MethodPost, path, payload, nil)
}

// Refund executes a refund for an order. A nil amount refunds in full.
func (c *HTTPClient) Refund(ctx context.Context, tenantID, orderID string, amount *float64) (*RefundResult, error) {
	payload := map[string]any{}
	if amount != nil {
		payload["amount"] = *amount
	}
	var result RefundResult
	path := fmt.Sprintf("/tenants/%s/orders/%s/refund", url.PathEscape(tenantID), url.PathEscape(orderID))
	if err := c.do(ctx, http.MethodPost, path, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Pause pauses a subscription.
func (c *HTTPClient) Pause(ctx context.Context, tenantID, subscriptionID string) error {
	return c.subscriptionOp(ctx, tenantID, subscriptionID, "pause")
}

// Resume resumes a paused subscription.
func (c *HTTPClient) Resume(ctx context.Context, tenantID, subscriptionID string) error {
	return c.subscriptionOp(ctx, tenantID, subscriptionID, "resume")
}

// Cancel cancels a subscription.
func (c *HTTPClient) Cancel(ctx context.Context, tenantID, subscriptionID string) error {
	return c.subscriptionOp(ctx, tenantID, subscriptionID, "cancel")
}

func (c *HTTPClient) subscriptionOp(ctx context.Context, tenantID, subscriptionID, op string) error {
	path := fmt.Sprintf("/tenants/%s/subscriptions/%s/%s",
		url.PathEscape(tenantID), url.PathEscape(subscriptionID), op)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}
