package models

import (
	"encoding/json"
	"time"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderContact is the client contact snapshot carried in event payloads.
type OrderContact struct {
	TgID        int64  `json:"tg_id,omitempty"`
	FullName    string `json:"full_name"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
	Address     string `json:"address"`
	CompanyName string `json:"company_name"`
	INN         string `json:"inn"`
}

// OrderItemData represents a resolved line in event payloads.
type OrderItemData struct {
	ProductID       int64  `json:"product_id"`
	Article         string `json:"article"`
	Name            string `json:"name"`
	Quantity        int64  `json:"quantity"`
	DiscountedPrice string `json:"discounted_price"`
	Amount          string `json:"amount"`
}

// OrderCreatedEvent is published once an order is durably committed. Extra
// holds CRM enrichment data attached by the notification worker; the raw
// request payload travels along for the bot's message templates.
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    int64             `json:"order_id"`
	Client     OrderContact      `json:"client"`
	Delivery   string            `json:"delivery"`
	PayBy      string            `json:"pay_by"`
	Comment    string            `json:"comment,omitempty"`
	Items      []OrderItemData   `json:"items"`
	RawRequest json.RawMessage   `json:"raw_request,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// OrderStatusChangedEvent is published when a payment notification moves an
// order to a new status. Delivery is at-least-once: consumers must be
// idempotent.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID         int64           `json:"order_id"`
	Status          string          `json:"status"`
	ProviderPayload json.RawMessage `json:"provider_payload,omitempty"`
}
