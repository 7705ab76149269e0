package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
)

// EventRepo implements EventRepository using PostgreSQL.
type EventRepo struct{ db *DB }

// NewEventRepo constructs an event repository.
func NewEventRepo(db *DB) *EventRepo { return &EventRepo{db: db} }

// Create inserts a donation event.
func (r *EventRepo) Create(ctx context.Context, e *model.DonationEvent) error {
	const q = `
INSERT INTO donation_events (id, title, location, starts_at, is_active)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`
	if e.ID == uuid.Nil {
		e.ID = uuid.Must(uuid.NewV4())
	}
	return r.db.Pool.QueryRow(ctx, q, e.ID, e.Title, e.Location, e.StartsAt, e.IsActive).Scan(&e.CreatedAt)
}

// SetActive toggles is_active.
func (r *EventRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) (*model.DonationEvent, error) {
	const q = `
UPDATE donation_events SET is_active=$2 WHERE id=$1
RETURNING id, title, location, starts_at, is_active, created_at`
	var e model.DonationEvent
	err := r.db.Pool.QueryRow(ctx, q, id, active).Scan(&e.ID, &e.Title, &e.Location, &e.StartsAt, &e.IsActive, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns events ordered by start time.
func (r *EventRepo) List(ctx context.Context) ([]model.DonationEvent, error) {
	const q = `SELECT id, title, location, starts_at, is_active, created_at FROM donation_events ORDER BY starts_at`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.DonationEvent, 0)
	for rows.Next() {
		var e model.DonationEvent
		if err := rows.Scan(&e.ID, &e.Title, &e.Location, &e.StartsAt, &e.IsActive, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
