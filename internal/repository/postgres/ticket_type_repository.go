package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/ticketing/internal/domain/errors"
	"github.com/cassiomorais/ticketing/internal/domain/pagination"
	"github.com/cassiomorais/ticketing/internal/domain/ticket"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketTypeColumns = `id, event_id, name, price_cents, currency, capacity, sold, version, created_at, updated_at`

// TicketTypeRepository implements ticket.TypeRepository using PostgreSQL.
type TicketTypeRepository struct {
	pool *pgxpool.Pool
}

func NewTicketTypeRepository(pool *pgxpool.Pool) *TicketTypeRepository {
	return &TicketTypeRepository{pool: pool}
}

func (r *TicketTypeRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *TicketTypeRepository) Create(ctx context.Context, tt *ticket.TicketType) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO ticket_types (`+ticketTypeColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		tt.ID, tt.EventID, tt.Name, tt.PriceCents, tt.Currency, tt.Capacity, tt.Sold, tt.Version, tt.CreatedAt, tt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ticket type: %w", err)
	}
	return nil
}

func (r *TicketTypeRepository) GetByID(ctx context.Context, id uuid.UUID) (*ticket.TicketType, error) {
	return r.scanTicketType(r.db(ctx).QueryRow(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = $1`, id))
}

// Update writes organizer edits with optimistic locking. tt.Version is the new
// version; the row must still hold the previous one.
func (r *TicketTypeRepository) Update(ctx context.Context, tt *ticket.TicketType) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE ticket_types SET name = $1, price_cents = $2, capacity = $3, version = $4, updated_at = $5
		 WHERE id = $6 AND version = $7`,
		tt.Name, tt.PriceCents, tt.Capacity, tt.Version, tt.UpdatedAt, tt.ID, tt.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update ticket type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrOptimisticLockFailed
	}
	return nil
}

// IncrementSold adds n sold tickets and bumps the version in one statement.
func (r *TicketTypeRepository) IncrementSold(ctx context.Context, id uuid.UUID, n int) (*ticket.TicketType, error) {
	return r.scanTicketType(r.db(ctx).QueryRow(ctx,
		`UPDATE ticket_types SET sold = sold + $1, version = version + 1, updated_at = $2
		 WHERE id = $3
		 RETURNING `+ticketTypeColumns,
		n, time.Now(), id,
	))
}

func (r *TicketTypeRepository) ListByEvent(ctx context.Context, eventID string, page pagination.Params) ([]*ticket.TicketType, int, error) {
	var total int
	if err := r.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM ticket_types WHERE event_id = $1`, eventID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ticket types: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE event_id = $1
		 ORDER BY created_at ASC, id LIMIT $2 OFFSET $3`,
		eventID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list ticket types: %w", err)
	}
	defer rows.Close()

	var types []*ticket.TicketType
	for rows.Next() {
		tt, err := r.scanTicketType(rows)
		if err != nil {
			return nil, 0, err
		}
		types = append(types, tt)
	}
	return types, total, rows.Err()
}

func (r *TicketTypeRepository) scanTicketType(s scanner) (*ticket.TicketType, error) {
	tt := &ticket.TicketType{}
	err := s.Scan(&tt.ID, &tt.EventID, &tt.Name, &tt.PriceCents, &tt.Currency, &tt.Capacity, &tt.Sold, &tt.Version, &tt.CreatedAt, &tt.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrTicketTypeNotFound
		}
		return nil, fmt.Errorf("scan ticket type: %w", err)
	}
	return tt, nil
}
