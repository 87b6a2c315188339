package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ContactUpdate carries the denormalized client contact fields refreshed on
// every order placement.
type ContactUpdate struct {
	FullName    string
	Phone       string
	Address     string
	CompanyName string
	INN         string
}

// CreateOrder inserts the order row and all its line items in one
// transaction, so a concurrent reader never observes an order with a partial
// item set. The client contact refresh runs in the same transaction scope,
// but its failure does not roll back the order: the statement error is
// logged and dropped before commit.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem, contact *ContactUpdate) ([]int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (
			client_id, title, full_name, phone, email, address, company_name, inn,
			discount_percent, comment, payment_method, delivery_method, pickup_point_id, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.ClientID, order.Title, order.FullName, order.Phone, order.Email,
		order.Address, order.CompanyName, order.INN, order.DiscountPercent,
		order.Comment, order.PaymentMethod, order.DeliveryMethod,
		order.PickupPointID, order.Status,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	if order.Title == "" {
		order.Title = fmt.Sprintf("Заказ №%d", order.ID)
		if _, err := tx.ExecContext(ctx, "UPDATE orders SET title = $1 WHERE id = $2", order.Title, order.ID); err != nil {
			return nil, fmt.Errorf("failed to name order: %w", err)
		}
	}

	itemIDs := make([]int64, 0, len(items))
	itemQuery := `
		INSERT INTO order_items (
			order_id, product_id, article, name, quantity, unit_price,
			discounted_price, tax_class, box_size, package_size, min_unit, amount
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	for i := range items {
		items[i].OrderID = order.ID
		item := &items[i]
		err = tx.QueryRowxContext(ctx, itemQuery,
			item.OrderID, item.ProductID, item.Article, item.Name, item.Quantity,
			item.UnitPrice, item.DiscountedPrice, item.TaxClass,
			item.BoxSize, item.PackageSize, item.MinUnit, item.Amount,
		).Scan(&item.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert order item: %w", err)
		}
		itemIDs = append(itemIDs, item.ID)
	}

	if contact != nil {
		// A failed statement aborts the whole Postgres transaction, so the
		// refresh runs under a savepoint: on error the savepoint is rolled
		// back and the order itself still commits.
		if _, err := tx.ExecContext(ctx, "SAVEPOINT contact_refresh"); err != nil {
			return nil, fmt.Errorf("failed to set savepoint: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE clients
			SET full_name = $1, phone = $2, address = $3, company_name = $4, inn = $5
			WHERE id = $6`,
			contact.FullName, contact.Phone, contact.Address,
			contact.CompanyName, contact.INN, order.ClientID)
		if err != nil {
			util.GetLogger().Warn("Client contact refresh failed",
				zap.Int64("client_id", order.ClientID),
				zap.Error(err))
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT contact_refresh"); err != nil {
				return nil, fmt.Errorf("failed to recover from contact refresh: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}
	return itemIDs, nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetOrdersByClientID retrieves orders for a client, newest first
func (s *Store) GetOrdersByClientID(ctx context.Context, clientID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE client_id = $1 ORDER BY created_at DESC", clientID)
	return orders, err
}

// TransitionOrderStatus applies a forward-only status transition. The update
// only matches when the current status is in the allowed set for the target,
// so a stale notification can never regress an order and re-applying the same
// terminal status is safe. Returns whether the transition was applied.
func (s *Store) TransitionOrderStatus(ctx context.Context, orderID int64, status string) (bool, error) {
	allowed := models.AllowedPrevStatuses(status)
	if len(allowed) == 0 {
		return false, fmt.Errorf("no transition into status %s", status)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3) AND status <> $1",
		status, orderID, pq.Array(allowed))
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
