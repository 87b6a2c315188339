package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Client represents a storefront customer. Contact fields are denormalized
// and refreshed on every order placement.
type Client struct {
	ID              int64           `db:"id" json:"id"`
	TgID            int64           `db:"tg_id" json:"tg_id,omitempty"`
	FullName        string          `db:"full_name" json:"full_name"`
	Email           string          `db:"email" json:"email"`
	PasswordHash    string          `db:"password_hash" json:"-"`
	Phone           string          `db:"phone" json:"phone"`
	Address         string          `db:"address" json:"address"`
	CompanyName     string          `db:"company_name" json:"company_name"`
	INN             string          `db:"inn" json:"inn"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	Status          string          `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Client statuses
const (
	ClientStatusActive   = "ACTIVE"
	ClientStatusInactive = "INACTIVE"
)

// Order represents a customer order. The contact fields are a snapshot taken
// at creation time, never live-joined back to the client row. There is no
// stored total: an order's monetary total is always the sum of its items.
type Order struct {
	ID              int64           `db:"id" json:"id"`
	ClientID        int64           `db:"client_id" json:"client_id"`
	Title           string          `db:"title" json:"title"`
	FullName        string          `db:"full_name" json:"full_name"`
	Phone           string          `db:"phone" json:"phone"`
	Email           string          `db:"email" json:"email"`
	Address         string          `db:"address" json:"address"`
	CompanyName     string          `db:"company_name" json:"company_name"`
	INN             string          `db:"inn" json:"inn"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	Comment         string          `db:"comment" json:"comment"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	DeliveryMethod  string          `db:"delivery_method" json:"delivery_method"`
	PickupPointID   *int64          `db:"pickup_point_id" json:"pickup_point_id,omitempty"`
	Status          string          `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem is one resolved product+quantity entry frozen into an order at
// creation time. Prices are the catalog-resolved values, immutable afterward.
type OrderItem struct {
	ID              int64           `db:"id" json:"id"`
	OrderID         int64           `db:"order_id" json:"order_id"`
	ProductID       int64           `db:"product_id" json:"product_id"`
	Article         string          `db:"article" json:"article"`
	Name            string          `db:"name" json:"name"`
	Quantity        int64           `db:"quantity" json:"quantity"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	DiscountedPrice decimal.Decimal `db:"discounted_price" json:"discounted_price"`
	TaxClass        string          `db:"tax_class" json:"tax_class"`
	BoxSize         int64           `db:"box_size" json:"box_size"`
	PackageSize     int64           `db:"package_size" json:"package_size"`
	MinUnit         float64         `db:"min_unit" json:"min_unit"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
}

// PickupPoint is a retail location eligible for self-pickup delivery.
type PickupPoint struct {
	ID      int64  `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	Address string `db:"address" json:"address"`
	Status  string `db:"status" json:"status"`
}

// Pickup point statuses
const (
	PickupPointOpen   = "OPEN"
	PickupPointClosed = "CLOSED"
)

// Order statuses
const (
	OrderStatusNew       = "NEW"
	OrderStatusPaid      = "PAID"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusArchived  = "ARCHIVED"
)

// Payment methods
const (
	PaymentMethodCash    = "CASH"
	PaymentMethodInvoice = "INVOICE"
	PaymentMethodCard    = "CARD"
)

// Delivery methods
const (
	DeliveryMethodCourier = "COURIER"
	DeliveryMethodPickup  = "PICKUP"
)

// Tax classes
const (
	TaxClassNone  = "NONE"
	TaxClassVat10 = "VAT10"
	TaxClassVat20 = "VAT20"
)

// AllowedPrevStatuses returns the statuses an order may hold for a transition
// to the given status to apply. The target status itself is always included,
// so re-applying a terminal transition is a value-level no-op rather than an
// error. A backward move (e.g. CANCELLED back to PAID) is never allowed.
func AllowedPrevStatuses(to string) []string {
	switch to {
	case OrderStatusPaid:
		return []string{OrderStatusNew, OrderStatusPaid}
	case OrderStatusCancelled:
		return []string{OrderStatusNew, OrderStatusPaid, OrderStatusCancelled}
	default:
		return nil
	}
}
