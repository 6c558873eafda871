package orders

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/adumitrescu/onlineshop/internal/domain"
)

// OrderRepository runs every lifecycle operation as one transaction.
// Product and order rows are locked with SELECT ... FOR UPDATE so
// conflicting writes to the same row are serialized; two concurrent
// placements against the same product cannot both pass the stock
// check.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Place checks stock for every requested product before reserving
// anything. Any shortfall aborts the whole placement; the deferred
// rollback guarantees no partial reservation survives.
func (r *OrderRepository) Place(ctx context.Context, customerID string, items []domain.OrderItem) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Locks are taken in product-id order so concurrent placements
	// over overlapping product sets cannot deadlock.
	sorted := make([]domain.OrderItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	stocks := make(map[string]int, len(sorted))
	for _, item := range sorted {
		if uuid.Validate(item.ProductID) != nil {
			return nil, domain.ErrInvalidProductID
		}

		var stock int
		err := tx.QueryRowContext(ctx, `
			SELECT stock
			FROM products
			WHERE id = $1
			FOR UPDATE
		`, item.ProductID).Scan(&stock)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, domain.ErrInvalidProductID
			}
			return nil, err
		}
		stocks[item.ProductID] = stock
	}

	for _, item := range sorted {
		if stocks[item.ProductID] < item.Quantity {
			return nil, domain.ErrNotEnoughStock
		}
	}

	order := &domain.Order{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Items:      sorted,
		CreatedAt:  time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, delivered, canceled, returned, created_at, updated_at)
		VALUES ($1, $2, false, false, false, $3, $3)
	`, order.ID, order.CustomerID, order.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range sorted {
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = NOW()
			WHERE id = $1
		`, item.ProductID, item.Quantity)
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity)
			VALUES ($1, $2, $3, $4)
		`, uuid.New().String(), order.ID, item.ProductID, item.Quantity)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return order, nil
}

// Deliver marks the order delivered unless it was canceled. There is
// no guard against delivering twice; the transition is idempotent.
func (r *OrderRepository) Deliver(ctx context.Context, id string) (*domain.Order, error) {
	return r.transition(ctx, id, (*domain.Order).MarkDelivered, nil)
}

// Cancel marks the order canceled unless it was already delivered.
// Reserved stock is NOT released on cancellation; only a return
// restores stock.
func (r *OrderRepository) Cancel(ctx context.Context, id string) (*domain.Order, error) {
	return r.transition(ctx, id, (*domain.Order).MarkCanceled, nil)
}

// Return marks a delivered order returned and restores each item's
// quantity to its product, all in the same transaction.
func (r *OrderRepository) Return(ctx context.Context, id string) (*domain.Order, error) {
	return r.transition(ctx, id, (*domain.Order).MarkReturned, restockItems)
}

// transition loads and row-locks the order, applies the state-machine
// guard, and persists the flags. The optional effect runs inside the
// same transaction after the guard passed.
func (r *OrderRepository) transition(
	ctx context.Context,
	id string,
	apply func(*domain.Order) error,
	effect func(ctx context.Context, tx *sql.Tx, order *domain.Order) error,
) (*domain.Order, error) {
	if uuid.Validate(id) != nil {
		return nil, domain.ErrInvalidOrderID
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order := &domain.Order{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, customer_id, delivered, canceled, returned, created_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&order.ID, &order.CustomerID, &order.Delivered, &order.Canceled, &order.Returned, &order.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrInvalidOrderID
		}
		return nil, err
	}

	order.Items, err = loadItems(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}

	if err := apply(order); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET delivered = $2, canceled = $3, returned = $4, updated_at = NOW()
		WHERE id = $1
	`, order.ID, order.Delivered, order.Canceled, order.Returned)
	if err != nil {
		return nil, err
	}

	if effect != nil {
		if err := effect(ctx, tx, order); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return order, nil
}

func restockItems(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	for _, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock + $2, updated_at = NOW()
			WHERE id = $1
		`, item.ProductID, item.Quantity)
		if err != nil {
			return err
		}
	}
	return nil
}

func loadItems(ctx context.Context, tx *sql.Tx, orderID string) ([]domain.OrderItem, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM order_items
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if uuid.Validate(id) != nil {
		return nil, nil
	}

	order := &domain.Order{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, delivered, canceled, returned, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.CustomerID, &order.Delivered, &order.Canceled, &order.Returned, &order.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM order_items
		WHERE order_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, customer_id, delivered, canceled, returned, created_at
		FROM orders
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.CustomerID, &order.Delivered, &order.Canceled, &order.Returned, &order.CreatedAt); err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}
