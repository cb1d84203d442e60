package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/order"
	"github.com/cassiomorais/ticketing/internal/domain/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `id, session_id, user_id, event_id, status, currency, created_at, updated_at, resolved_at`

// OrderRepository implements order.Repository using PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts the order and its line items. Callers run it inside a transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		o.ID, o.SessionID, o.UserID, o.EventID, string(o.Status), o.Currency, o.CreatedAt, o.UpdatedAt, o.ResolvedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.NewDomainError("duplicate_session", "checkout session already has an order", domainErrors.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.LineItems {
		_, err := r.db(ctx).Exec(ctx,
			`INSERT INTO order_line_items (order_id, id, ticket_type_id, price_cents, position)
			 VALUES ($1,$2,$3,$4,$5)`,
			o.ID, it.ID, it.TicketTypeID, it.PriceCents, i,
		)
		if err != nil {
			return fmt.Errorf("insert order line item: %w", err)
		}
	}
	return nil
}

// GetByID retrieves an order with its line items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	o, err := r.scanOrder(r.db(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return o, r.loadLineItems(ctx, []*order.Order{o})
}

// GetForUpdate retrieves an order and holds a row lock until the surrounding transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	o, err := r.scanOrder(r.db(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	return o, r.loadLineItems(ctx, []*order.Order{o})
}

// UpdateStatus persists a state transition. The pending guard keeps a resolved
// order from being overwritten by a racing transaction.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = $2, resolved_at = $3
		 WHERE id = $4 AND status = 'pending'`,
		string(o.Status), o.UpdatedAt, o.ResolvedAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.NewDomainError("stale_order", "order "+o.ID+" is no longer pending", domainErrors.ErrInvalidStateTransition)
	}
	return nil
}

// List returns a page of orders, newest first, and the total match count.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter, page pagination.Params) ([]*order.Order, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.UserID != nil {
		where += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, *f.UserID)
		argIdx++
	}
	if f.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}

	var total int
	if err := r.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, page.Limit, page.Offset)

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.loadLineItems(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *OrderRepository) loadLineItems(ctx context.Context, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*order.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.db(ctx).Query(ctx,
		`SELECT order_id, id, ticket_type_id, price_cents
		 FROM order_line_items WHERE order_id = ANY($1)
		 ORDER BY order_id, position`, ids,
	)
	if err != nil {
		return fmt.Errorf("load line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var it order.LineItem
		if err := rows.Scan(&orderID, &it.ID, &it.TicketTypeID, &it.PriceCents); err != nil {
			return fmt.Errorf("scan line item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.LineItems = append(o.LineItems, it)
		}
	}
	return rows.Err()
}

func (r *OrderRepository) scanOrder(s scanner) (*order.Order, error) {
	o := &order.Order{}
	var status string
	err := s.Scan(&o.ID, &o.SessionID, &o.UserID, &o.EventID, &status, &o.Currency, &o.CreatedAt, &o.UpdatedAt, &o.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = order.Status(status)
	return o, nil
}
