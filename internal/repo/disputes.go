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

// Dispute statuses.
const (
	DisputeStatusOpen     = "OPEN"
	DisputeStatusResolved = "RESOLVED"
)

// Dispute records a disagreement over a settlement figure. AmountDiff is the
// signed adjustment agreed during resolution, carried into the settlement's
// deductions by the caller.
type Dispute struct {
	ID           uuid.UUID
	SettlementID uuid.UUID
	Kind         string
	Description  string
	Status       string
	Resolution   string
	AmountDiff   int64
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisputesRepo persists disputes.
type DisputesRepo struct {
	Pool *pgxpool.Pool
}

const disputeColumns = `id, settlement_id, kind, description, status, resolution, amount_diff,
	version, created_at, updated_at`

// Get loads a dispute by id.
func (r DisputesRepo) Get(ctx context.Context, id uuid.UUID) (Dispute, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	return scanDispute(row)
}

// ResolveIf marks the dispute resolved under a version-keyed conditional write.
func (r DisputesRepo) ResolveIf(ctx context.Context, id uuid.UUID, expected occ.State, next occ.Next, resolution string, amountDiff int64) (Dispute, error) {
	row := r.Pool.QueryRow(ctx, `
		UPDATE disputes
		SET status = $1, resolution = $2, amount_diff = $3, version = $4, updated_at = $5
		WHERE id = $6 AND version = $7
		RETURNING `+disputeColumns,
		DisputeStatusResolved, resolution, amountDiff, next.Version, next.UpdatedAt,
		id, expected.Version,
	)
	d, err := scanDispute(row)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Dispute{}, err
	}
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return Dispute{}, getErr
	}
	return Dispute{}, fmt.Errorf("%w: dispute %s no longer at version %d", occ.ErrConflict, id, expected.Version)
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var d Dispute
	err := row.Scan(
		&d.ID, &d.SettlementID, &d.Kind, &d.Description, &d.Status, &d.Resolution, &d.AmountDiff,
		&d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Dispute{}, ErrNotFound
	}
	if err != nil {
		return Dispute{}, err
	}
	return d, nil
}
