package model

import (
	"time"
)

// OrderStatus is the order platform's view of an order.
type OrderStatus string

const (
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusRefunded  OrderStatus = "refunded"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// Terminal reports whether the status makes further automated action
// meaningless (already refunded, cancelled, or failed).
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusRefunded, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// Order is the typed order record returned by the OrderLookup collaborator.
type Order struct {
	ID             string      `json:"id"`
	Reference      string      `json:"reference"`
	TenantID       string      `json:"tenant_id"`
	CustomerEmail  string      `json:"customer_email"`
	Status         OrderStatus `json:"status"`
	TotalAmount    float64     `json:"total_amount"`
	Currency       string      `json:"currency"`
	SubscriptionID string      `json:"subscription_id,omitempty"`
	PlacedAt       time.Time   `json:"placed_at"`
}
