package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/pagination"
	"github.com/cassiomorais/ticketing/internal/domain/ticket"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = `id, order_id, line_item_id, user_id, event_id, ticket_type_id, price_cents, currency, code, status, issued_at`

// ticketsLineItemKey is the unique constraint enforcing one ticket per line item.
const ticketsLineItemKey = "tickets_order_line_item_key"

// TicketRepository implements ticket.Repository using PostgreSQL.
type TicketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository creates a new TicketRepository.
func NewTicketRepository(pool *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{pool: pool}
}

func (r *TicketRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Create inserts a ticket. ON CONFLICT keeps the surrounding transaction usable
// when the line item already has a ticket; the duplicate surfaces as ErrDuplicateTicket.
func (r *TicketRepository) Create(ctx context.Context, t *ticket.Ticket) error {
	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO tickets (`+ticketColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (order_id, line_item_id) DO NOTHING`,
		t.ID, t.OrderID, t.LineItemID, t.UserID, t.EventID, t.TicketTypeID,
		t.PriceCents, t.Currency, t.Code, string(t.Status), t.IssuedAt,
	)
	if err != nil {
		if r.IsDuplicateError(err) {
			return fmt.Errorf("ticket for %s/%s: %w", t.OrderID, t.LineItemID, domainErrors.ErrDuplicateTicket)
		}
		return fmt.Errorf("insert ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ticket for %s/%s: %w", t.OrderID, t.LineItemID, domainErrors.ErrDuplicateTicket)
	}
	return nil
}

// IsDuplicateError reports whether err means the ticket was already issued.
func (r *TicketRepository) IsDuplicateError(err error) bool {
	if errors.Is(err, domainErrors.ErrDuplicateTicket) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == ticketsLineItemKey
}

func (r *TicketRepository) GetByID(ctx context.Context, id uuid.UUID) (*ticket.Ticket, error) {
	return r.scanTicket(r.db(ctx).QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
}

func (r *TicketRepository) ListByOrder(ctx context.Context, orderID string, page pagination.Params) ([]*ticket.Ticket, int, error) {
	return r.list(ctx, "order_id", orderID, page)
}

func (r *TicketRepository) ListByUser(ctx context.Context, userID string, page pagination.Params) ([]*ticket.Ticket, int, error) {
	return r.list(ctx, "user_id", userID, page)
}

// list pages through tickets filtered on one trusted column name.
func (r *TicketRepository) list(ctx context.Context, column, value string, page pagination.Params) ([]*ticket.Ticket, int, error) {
	var total int
	if err := r.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM tickets WHERE `+column+` = $1`, value,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE `+column+` = $1
		 ORDER BY issued_at ASC, id LIMIT $2 OFFSET $3`,
		value, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*ticket.Ticket
	for rows.Next() {
		t, err := r.scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		tickets = append(tickets, t)
	}
	return tickets, total, rows.Err()
}

func (r *TicketRepository) scanTicket(s scanner) (*ticket.Ticket, error) {
	t := &ticket.Ticket{}
	var status string
	err := s.Scan(&t.ID, &t.OrderID, &t.LineItemID, &t.UserID, &t.EventID, &t.TicketTypeID,
		&t.PriceCents, &t.Currency, &t.Code, &status, &t.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrTicketNotFound
		}
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	t.Status = ticket.Status(status)
	return t, nil
}
