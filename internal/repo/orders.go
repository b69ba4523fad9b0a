package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carrylink/backend-carry/internal/occ"
)

// Order is a priced freight order as persisted. Version and UpdatedAt are the
// optimistic-concurrency markers; every successful mutation advances both in
// the same statement that writes the payload.
type Order struct {
	ID              uuid.UUID
	RequesterName   string
	Status          string
	BoxCount        int
	BasePricePerBox int64
	PricePerBox     int64
	Total           int64
	Urgent          bool
	UrgentApplied   bool
	MinimumApplied  bool
	PricingNote     string
	WorkCompletedAt *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderPricingUpdate carries the recomputed pricing fields for a guarded write.
type OrderPricingUpdate struct {
	PricePerBox    int64
	Total          int64
	Urgent         bool
	UrgentApplied  bool
	MinimumApplied bool
	PricingNote    string
}

// OrdersRepo persists orders.
type OrdersRepo struct {
	Pool *pgxpool.Pool
}

const orderColumns = `id, requester_name, status, box_count, base_price_per_box, price_per_box,
	total, urgent, urgent_applied, minimum_applied, pricing_note, work_completed_at,
	version, created_at, updated_at`

// Get loads an order by id.
func (r OrdersRepo) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// UpdatePricingIf applies the pricing update only when the stored version
// still equals expected. The conditional UPDATE is the single atomic
// check-and-write around which the concurrency guard's decision holds: a
// writer that lost the race matches zero rows. Returns the refreshed record,
// occ.ErrConflict when the version moved, or ErrNotFound.
func (r OrdersRepo) UpdatePricingIf(ctx context.Context, id uuid.UUID, expected occ.State, next occ.Next, up OrderPricingUpdate) (Order, error) {
	row := r.Pool.QueryRow(ctx, `
		UPDATE orders
		SET price_per_box = $1, total = $2, urgent = $3, urgent_applied = $4,
		    minimum_applied = $5, pricing_note = $6, version = $7, updated_at = $8
		WHERE id = $9 AND version = $10
		RETURNING `+orderColumns,
		up.PricePerBox, up.Total, up.Urgent, up.UrgentApplied,
		up.MinimumApplied, up.PricingNote, next.Version, next.UpdatedAt,
		id, expected.Version,
	)
	order, err := scanOrder(row)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Order{}, err
	}
	// Zero rows: distinguish a missing record from a lost race.
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return Order{}, getErr
	}
	return Order{}, fmt.Errorf("%w: order %s no longer at version %d", occ.ErrConflict, id, expected.Version)
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.RequesterName, &o.Status, &o.BoxCount, &o.BasePricePerBox, &o.PricePerBox,
		&o.Total, &o.Urgent, &o.UrgentApplied, &o.MinimumApplied, &o.PricingNote, &o.WorkCompletedAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	return o, nil
}
