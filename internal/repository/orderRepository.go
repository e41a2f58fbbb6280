package repository

import (
	"context"
	"errors"
	"fmt"
	"github.com/RaikyD/shop-orders-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"time"
)

type OrderRepo interface {
	AddOrder(ctx context.Context, order *domain.Order) error
	GetOrderById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID string, limit, offset int) ([]domain.Order, int, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.Status, at time.Time) (*domain.Order, error)
	Ping(ctx context.Context) error
}

type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository accepts a nil pool; every call then fails with
// domain.ErrStoreNotInitialized instead of blocking.
func NewOrderRepository(p *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: p}
}

const orderColumns = `id, order_number, customer_id, customer_email, status, total_amount::text,
	currency, shipping_address, billing_address, created_at, updated_at`

const itemColumns = `id, order_id, product_id, product_name, quantity, unit_price::text, line_total::text`

// AddOrder writes the order row and all item rows in one transaction. On
// success the generated ids are copied into o.
func (p *OrderRepository) AddOrder(ctx context.Context, o *domain.Order) error {
	pool, err := p.db()
	if err != nil {
		return err
	}

	var orderID uuid.UUID
	itemIDs := make([]uuid.UUID, len(o.Items))

	err = withTx(ctx, pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO orders
				(order_number, customer_id, customer_email, status, total_amount, currency,
				 shipping_address, billing_address, created_at, updated_at)
			VALUES
				($1, $2, $3, $4, $5, $6,
				 $7, $8, $9, $10)
			RETURNING id`,
			o.OrderNumber,
			o.CustomerID,
			o.CustomerEmail,
			string(o.Status),
			o.TotalAmount.StringFixed(domain.MoneyScale),
			o.Currency,
			o.ShippingAddress,
			o.BillingAddress,
			o.CreatedAt,
			o.UpdatedAt,
		).Scan(&orderID)
		if err != nil {
			if isUniqueViolation(err, "orders_order_number_key") {
				return domain.ErrOrderNumberConflict
			}
			return storeErr("insert order", err)
		}

		// items are many-to-one; one batch round trip for all of them
		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(`
				INSERT INTO order_items
					(order_id, position, product_id, product_name, quantity, unit_price, line_total)
				VALUES
					($1, $2, $3, $4, $5, $6, $7)
				RETURNING id`,
				orderID,
				i,
				it.ProductID,
				it.ProductName,
				it.Quantity,
				it.UnitPrice.StringFixed(domain.MoneyScale),
				it.LineTotal.StringFixed(domain.MoneyScale),
			)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range o.Items {
			if err := br.QueryRow().Scan(&itemIDs[i]); err != nil {
				_ = br.Close()
				return storeErr("insert order item", err)
			}
		}
		if err := br.Close(); err != nil {
			return storeErr("insert order items", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.ID = orderID
	for i := range o.Items {
		o.Items[i].ID = itemIDs[i]
		o.Items[i].OrderID = orderID
	}
	return nil
}

func (p *OrderRepository) GetOrderById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	pool, err := p.db()
	if err != nil {
		return nil, err
	}

	o, err := scanOrder(pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, storeErr("get order", err)
	}

	items, err := p.loadItems(ctx, pool, []uuid.UUID{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return &o, nil
}

// ListOrdersByCustomer returns one page (newest first) and the total count. The
// two reads are independent; small skew between them under concurrent writes is
// accepted.
func (p *OrderRepository) ListOrdersByCustomer(ctx context.Context, customerID string, limit, offset int) ([]domain.Order, int, error) {
	pool, err := p.db()
	if err != nil {
		return nil, 0, err
	}

	rows, err := pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		customerID, limit, offset,
	)
	if err != nil {
		return nil, 0, storeErr("list orders", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, 0, storeErr("scan orders", err)
	}

	var total int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM orders WHERE customer_id = $1`, customerID).Scan(&total); err != nil {
		return nil, 0, storeErr("count orders", err)
	}

	if len(orders) == 0 {
		return []domain.Order{}, total, nil
	}

	ids := make([]uuid.UUID, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	items, err := p.loadItems(ctx, pool, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, total, nil
}

// UpdateOrderStatus is last-writer-wins: no version check.
func (p *OrderRepository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.Status, at time.Time) (*domain.Order, error) {
	pool, err := p.db()
	if err != nil {
		return nil, err
	}

	tag, err := pool.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return nil, storeErr("update order status", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrOrderNotFound
	}
	return p.GetOrderById(ctx, id)
}

func (p *OrderRepository) Ping(ctx context.Context) error {
	pool, err := p.db()
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func (p *OrderRepository) db() (*pgxpool.Pool, error) {
	if p == nil || p.pool == nil {
		return nil, domain.ErrStoreNotInitialized
	}
	return p.pool, nil
}

func (p *OrderRepository) loadItems(ctx context.Context, pool *pgxpool.Pool, orderIDs []uuid.UUID) (map[uuid.UUID][]domain.OrderItem, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`,
		orderIDs,
	)
	if err != nil {
		return nil, storeErr("load order items", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		var it domain.OrderItem
		var unitPrice, lineTotal string
		if err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &unitPrice, &lineTotal); err != nil {
			return it, err
		}
		var err error
		if it.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return it, fmt.Errorf("unit_price %q: %w", unitPrice, err)
		}
		if it.LineTotal, err = decimal.NewFromString(lineTotal); err != nil {
			return it, fmt.Errorf("line_total %q: %w", lineTotal, err)
		}
		return it, nil
	})
	if err != nil {
		return nil, storeErr("scan order items", err)
	}

	byOrder := make(map[uuid.UUID][]domain.OrderItem, len(orderIDs))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	return byOrder, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var status, total string
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CustomerID,
		&o.CustomerEmail,
		&status,
		&total,
		&o.Currency,
		&o.ShippingAddress,
		&o.BillingAddress,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = domain.Status(status)
	o.TotalAmount, err = decimal.NewFromString(total)
	if err != nil {
		return o, fmt.Errorf("total_amount %q: %w", total, err)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}
