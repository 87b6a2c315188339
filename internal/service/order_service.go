package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"storefront-service/internal/catalog"
	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogGateway resolves authoritative product data and signals entity
// changes back to the item store.
type CatalogGateway interface {
	FetchProducts(ctx context.Context, ids []int64) ([]catalog.Product, error)
	Touch(ctx context.Context, entity catalog.Entity, id int64) error
}

// OrderStore is the persistence surface order assembly needs.
type OrderStore interface {
	GetClientByID(ctx context.Context, id int64) (*models.Client, error)
	GetPickupPoint(ctx context.Context, id int64) (*models.PickupPoint, error)
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem, contact *store.ContactUpdate) ([]int64, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

// OrderNotifier accepts a committed order for asynchronous enrichment and
// delivery. Implementations must not block the request path.
type OrderNotifier interface {
	NotifyOrderCreated(event *models.OrderCreatedEvent)
}

// OrderService assembles orders: resolves true prices from the catalog,
// persists order and line items atomically, and hands the result to the
// notification pipeline.
type OrderService struct {
	store    OrderStore
	catalog  CatalogGateway
	notifier OrderNotifier
	logger   *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, catalog CatalogGateway, notifier OrderNotifier) *OrderService {
	return &OrderService{
		store:    store,
		catalog:  catalog,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// ProductRequest is one cart line as the client submits it. Quantity may be
// fractional when the UI sells by the box; any price the payload carries is
// ignored.
type ProductRequest struct {
	ID       int64   `json:"id"`
	Quantity float64 `json:"quantity"`
	MinUnit  float64 `json:"recomendedMinimalSize,omitempty"`
}

// CreateOrderRequest represents a request to place an order.
type CreateOrderRequest struct {
	ClientID      int64            `json:"-"`
	Name          string           `json:"name"`
	Phone         string           `json:"phone"`
	Address       string           `json:"address,omitempty"`
	Comment       string           `json:"comment,omitempty"`
	CompanyName   string           `json:"companyName"`
	INN           string           `json:"inn"`
	Delivery      string           `json:"delivery"`
	PayBy         string           `json:"payBy"`
	Products      []ProductRequest `json:"products"`
	PickupPointID *int64           `json:"pickupPoint,omitempty"`
}

// CreateOrderResponse represents the response after placing an order.
type CreateOrderResponse struct {
	OrderID int64   `json:"orderID"`
	ItemIDs []int64 `json:"itemIDs"`
	// SkippedProducts lists cart ids the catalog could not resolve; those
	// lines were dropped rather than failing the order.
	SkippedProducts []int64 `json:"skippedProducts,omitempty"`
}

// CreateOrder places an order for an already-authenticated client.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderCreateLatency.Observe(time.Since(start).Seconds())
	}()

	if req.Name == "" || req.Phone == "" {
		util.OrdersFailedTotal.WithLabelValues("missing_contact").Inc()
		return nil, fmt.Errorf("name and phone are required: %w", models.ErrInvalidRequest)
	}
	phone := normalizePhone(req.Phone)

	if req.PickupPointID != nil {
		point, err := s.store.GetPickupPoint(ctx, *req.PickupPointID)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
				return nil, fmt.Errorf("pickup point %d: %w", *req.PickupPointID, err)
			}
			util.OrdersFailedTotal.WithLabelValues("pickup_point").Inc()
			return nil, fmt.Errorf("pickup point %d: %w", *req.PickupPointID, models.ErrInvalidRequest)
		}
		if point.Status != models.PickupPointOpen {
			util.OrdersFailedTotal.WithLabelValues("pickup_point").Inc()
			return nil, fmt.Errorf("pickup point %d is closed: %w", point.ID, models.ErrInvalidRequest)
		}
	}

	client, err := s.store.GetClientByID(ctx, req.ClientID)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("no_client").Inc()
		return nil, err
	}

	items, skipped, err := s.resolveItems(ctx, req.Products)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("catalog").Inc()
		return nil, err
	}
	if len(items) == 0 {
		util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, fmt.Errorf("no cart product resolved in catalog: %w", models.ErrInvalidRequest)
	}

	order := &models.Order{
		ClientID:        client.ID,
		FullName:        req.Name,
		Phone:           phone,
		Email:           client.Email,
		Address:         req.Address,
		CompanyName:     req.CompanyName,
		INN:             req.INN,
		DiscountPercent: client.DiscountPercent,
		Comment:         req.Comment,
		PaymentMethod:   req.PayBy,
		DeliveryMethod:  req.Delivery,
		PickupPointID:   req.PickupPointID,
		Status:          models.OrderStatusNew,
	}

	contact := &store.ContactUpdate{
		FullName:    req.Name,
		Phone:       phone,
		Address:     req.Address,
		CompanyName: req.CompanyName,
		INN:         req.INN,
	}

	itemIDs, err := s.store.CreateOrder(ctx, order, items, contact)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("client_id", client.ID),
		zap.Int("items", len(items)),
		zap.Int("skipped", len(skipped)))

	// The order is durable from here on: everything below is best-effort.
	s.touchEntities(ctx, order.ID, itemIDs)
	s.notifier.NotifyOrderCreated(s.buildCreatedEvent(order, client, items, req))

	return &CreateOrderResponse{
		OrderID:         order.ID,
		ItemIDs:         itemIDs,
		SkippedProducts: skipped,
	}, nil
}

// resolveItems fetches the referenced products from the catalog and freezes
// the resolved prices into line items. Cart ids the catalog does not know are
// dropped with a warning, not a hard failure.
func (s *OrderService) resolveItems(ctx context.Context, requested []ProductRequest) ([]models.OrderItem, []int64, error) {
	ids := make([]int64, 0, len(requested))
	byID := make(map[int64]ProductRequest, len(requested))
	for _, line := range requested {
		if line.Quantity <= 0 {
			continue
		}
		ids = append(ids, line.ID)
		byID[line.ID] = line
	}

	products, err := s.catalog.FetchProducts(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve products: %w", err)
	}

	resolved := make(map[int64]bool, len(products))
	items := make([]models.OrderItem, 0, len(products))
	for _, product := range products {
		line, ok := byID[product.ID]
		if !ok {
			continue
		}
		resolved[product.ID] = true

		quantity := effectiveQuantity(line.Quantity, line.MinUnit)
		if quantity <= 0 {
			continue
		}

		items = append(items, models.OrderItem{
			ProductID:       product.ID,
			Article:         product.Article,
			Name:            product.Name,
			Quantity:        quantity,
			UnitPrice:       product.Price,
			DiscountedPrice: product.DiscountedPrice,
			TaxClass:        product.TaxClass,
			BoxSize:         product.BoxSize,
			PackageSize:     product.PackageSize,
			MinUnit:         minUnitOrDefault(line.MinUnit),
			Amount:          product.DiscountedPrice.Mul(decimal.NewFromInt(quantity)),
		})
	}

	var skipped []int64
	for _, id := range ids {
		if !resolved[id] {
			skipped = append(skipped, id)
			util.OrderProductsSkippedTotal.Inc()
			s.logger.Warn("Cart product not found in catalog, dropping line",
				zap.Int64("product_id", id))
		}
	}

	return items, skipped, nil
}

func (s *OrderService) touchEntities(ctx context.Context, orderID int64, itemIDs []int64) {
	if err := s.catalog.Touch(ctx, catalog.EntityOrders, orderID); err != nil {
		s.logger.Warn("Order touch failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
	for _, itemID := range itemIDs {
		if err := s.catalog.Touch(ctx, catalog.EntityOrderItems, itemID); err != nil {
			s.logger.Warn("Order item touch failed", zap.Int64("item_id", itemID), zap.Error(err))
		}
	}
}

func (s *OrderService) buildCreatedEvent(order *models.Order, client *models.Client, items []models.OrderItem, req *CreateOrderRequest) *models.OrderCreatedEvent {
	eventItems := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		eventItems = append(eventItems, models.OrderItemData{
			ProductID:       item.ProductID,
			Article:         item.Article,
			Name:            item.Name,
			Quantity:        item.Quantity,
			DiscountedPrice: item.DiscountedPrice.String(),
			Amount:          item.Amount.String(),
		})
	}

	raw, _ := json.Marshal(req)
	return &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		Client: models.OrderContact{
			TgID:        client.TgID,
			FullName:    order.FullName,
			Phone:       order.Phone,
			Email:       order.Email,
			Address:     order.Address,
			CompanyName: order.CompanyName,
			INN:         order.INN,
		},
		Delivery:   req.Delivery,
		PayBy:      req.PayBy,
		Comment:    req.Comment,
		Items:      eventItems,
		RawRequest: raw,
	}
}

// GetOrder retrieves an order with its items (used by the payment handlers).
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// effectiveQuantity converts a possibly fractional requested quantity into
// whole packaging units: ceil(requested × minUnit), minUnit defaulting to 1.
func effectiveQuantity(requested, minUnit float64) int64 {
	return int64(math.Ceil(requested * minUnitOrDefault(minUnit)))
}

func minUnitOrDefault(minUnit float64) float64 {
	if minUnit <= 0 {
		return 1
	}
	return minUnit
}

// normalizePhone formats the number to E.164 when it parses; raw input is
// kept otherwise since presence, not format, is the hard requirement.
func normalizePhone(raw string) string {
	parsed, err := phonenumbers.Parse(raw, "RU")
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return raw
	}
	return phonenumbers.Format(parsed, phonenumbers.E164)
}
