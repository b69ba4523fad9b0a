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

// Settlement statuses. Draft settlements are editable; closed ones were
// swept by the monthly period close and are payable.
const (
	SettlementStatusDraft  = "DRAFT"
	SettlementStatusClosed = "CLOSED"
)

// SettlementFigures is the persisted decomposition of one order's payout.
// The pairs (supply, vat), (deposit, balance) and the payee split each sum
// back to their totals exactly; the calculator guarantees it and the repo
// stores the figures verbatim.
type SettlementFigures struct {
	GrossTotal        int64 `json:"grossTotal"`
	SupplyAmount      int64 `json:"supplyAmount"`
	VATAmount         int64 `json:"vatAmount"`
	Deposit           int64 `json:"deposit"`
	Balance           int64 `json:"balance"`
	Commission        int64 `json:"commission"`
	Deductions        int64 `json:"deductions"`
	NetPayout         int64 `json:"netPayout"`
	PayeeInvoiceTotal int64 `json:"payeeInvoiceTotal"`
	PayeeSupplyAmount int64 `json:"payeeSupplyAmount"`
	PayeeVATAmount    int64 `json:"payeeVatAmount"`
}

// Settlement holds the persisted decomposition of one order's payout.
type Settlement struct {
	ID                uuid.UUID
	OrderID           uuid.UUID
	HelperName        string
	Status            string
	UnitCount         int
	UnitPrice         int64
	VATRateBps        int
	DepositRateBps    int
	CommissionRateBps int
	Deductions        int64
	Figures           SettlementFigures
	NeedsReview       bool
	WorkCompletedAt   time.Time
	PeriodYear        int
	PeriodMonth       int
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SettlementsRepo persists settlements.
type SettlementsRepo struct {
	Pool *pgxpool.Pool
}

const settlementColumns = `id, order_id, helper_name, status, unit_count, unit_price,
	vat_rate_bps, deposit_rate_bps, commission_rate_bps, deductions,
	gross_total, supply_amount, vat_amount, deposit, balance, commission, net_payout,
	payee_invoice_total, payee_supply_amount, payee_vat_amount,
	needs_review, work_completed_at, period_year, period_month,
	version, created_at, updated_at`

// Get loads a settlement by id.
func (r SettlementsRepo) Get(ctx context.Context, id uuid.UUID) (Settlement, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id)
	return scanSettlement(row)
}

// SettlementUpdate carries recalculated inputs and figures for a guarded write.
type SettlementUpdate struct {
	UnitCount         int
	UnitPrice         int64
	VATRateBps        int
	DepositRateBps    int
	CommissionRateBps int
	Deductions        int64
	Figures           SettlementFigures
	NeedsReview       bool
}

// UpdateFiguresIf rewrites the settlement inputs and derived figures only
// when the stored version still equals expected. Same conditional-write
// protocol as OrdersRepo.UpdatePricingIf.
func (r SettlementsRepo) UpdateFiguresIf(ctx context.Context, id uuid.UUID, expected occ.State, next occ.Next, up SettlementUpdate) (Settlement, error) {
	f := up.Figures
	row := r.Pool.QueryRow(ctx, `
		UPDATE settlements
		SET unit_count = $1, unit_price = $2, vat_rate_bps = $3, deposit_rate_bps = $4,
		    commission_rate_bps = $5, deductions = $6,
		    gross_total = $7, supply_amount = $8, vat_amount = $9,
		    deposit = $10, balance = $11, commission = $12, net_payout = $13,
		    payee_invoice_total = $14, payee_supply_amount = $15, payee_vat_amount = $16,
		    needs_review = $17, version = $18, updated_at = $19
		WHERE id = $20 AND version = $21 AND status = $22
		RETURNING `+settlementColumns,
		up.UnitCount, up.UnitPrice, up.VATRateBps, up.DepositRateBps,
		up.CommissionRateBps, up.Deductions,
		f.GrossTotal, f.SupplyAmount, f.VATAmount,
		f.Deposit, f.Balance, f.Commission, f.NetPayout,
		f.PayeeInvoiceTotal, f.PayeeSupplyAmount, f.PayeeVATAmount,
		up.NeedsReview, next.Version, next.UpdatedAt,
		id, expected.Version, SettlementStatusDraft,
	)
	s, err := scanSettlement(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Settlement{}, err
	}
	current, getErr := r.Get(ctx, id)
	return Settlement{}, classifyUpdateMiss(current, getErr, id, expected.Version)
}

// classifyUpdateMiss explains a conditional UPDATE that matched zero rows,
// based on a follow-up read of the row: the row is gone, left the editable
// status, or moved past the expected version.
func classifyUpdateMiss(current Settlement, getErr error, id uuid.UUID, expectedVersion int64) error {
	if getErr != nil {
		return getErr
	}
	if current.Status != SettlementStatusDraft {
		return fmt.Errorf("repo: settlement %s is %s and no longer editable", id, current.Status)
	}
	return fmt.Errorf("%w: settlement %s no longer at version %d", occ.ErrConflict, id, expectedVersion)
}

// ListDraftForPeriod returns draft settlements belonging to the given
// settlement period, oldest first, capped at limit.
func (r SettlementsRepo) ListDraftForPeriod(ctx context.Context, year, month, limit int) ([]Settlement, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT `+settlementColumns+`
		FROM settlements
		WHERE status = $1 AND period_year = $2 AND period_month = $3
		ORDER BY created_at
		LIMIT $4`,
		SettlementStatusDraft, year, month, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CloseIf transitions a draft settlement to CLOSED under the same
// version-keyed conditional write.
func (r SettlementsRepo) CloseIf(ctx context.Context, id uuid.UUID, expected occ.State, next occ.Next) (Settlement, error) {
	row := r.Pool.QueryRow(ctx, `
		UPDATE settlements
		SET status = $1, version = $2, updated_at = $3
		WHERE id = $4 AND version = $5 AND status = $6
		RETURNING `+settlementColumns,
		SettlementStatusClosed, next.Version, next.UpdatedAt,
		id, expected.Version, SettlementStatusDraft,
	)
	s, err := scanSettlement(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Settlement{}, err
	}
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return Settlement{}, getErr
	}
	return Settlement{}, fmt.Errorf("%w: settlement %s no longer at version %d", occ.ErrConflict, id, expected.Version)
}

func scanSettlement(row pgx.Row) (Settlement, error) {
	var s Settlement
	f := &s.Figures
	err := row.Scan(
		&s.ID, &s.OrderID, &s.HelperName, &s.Status, &s.UnitCount, &s.UnitPrice,
		&s.VATRateBps, &s.DepositRateBps, &s.CommissionRateBps, &s.Deductions,
		&f.GrossTotal, &f.SupplyAmount, &f.VATAmount, &f.Deposit, &f.Balance, &f.Commission, &f.NetPayout,
		&f.PayeeInvoiceTotal, &f.PayeeSupplyAmount, &f.PayeeVATAmount,
		&s.NeedsReview, &s.WorkCompletedAt, &s.PeriodYear, &s.PeriodMonth,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settlement{}, ErrNotFound
	}
	if err != nil {
		return Settlement{}, err
	}
	s.Figures.Deductions = s.Deductions
	return s, nil
}
