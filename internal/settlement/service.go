package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/carrylink/backend-carry/internal/events"
	"github.com/carrylink/backend-carry/internal/obs"
	"github.com/carrylink/backend-carry/internal/occ"
	"github.com/carrylink/backend-carry/internal/repo"
)

// Store is the slice of the settlements repository the service needs.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (repo.Settlement, error)
	UpdateFiguresIf(ctx context.Context, id uuid.UUID, expected occ.State, next occ.Next, up repo.SettlementUpdate) (repo.Settlement, error)
}

// EventBus is the slice of the event bus the service needs.
type EventBus interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (repo.DomainEvent, error)
}

// Service coordinates guarded settlement recalculation: read, version check,
// recompute, conditional write. The conditional write at the repo is what
// makes check-and-write atomic; the occ check up front exists to reject
// stale editors before any computation happens.
type Service struct {
	Store  Store
	Events EventBus
}

// RecalcRequest carries the editor's version marker plus the fields being
// changed. Nil fields keep the stored value.
type RecalcRequest struct {
	Expected          occ.Marker
	UnitCount         *int
	UnitPrice         *int64
	VATRateBps        *int
	DepositRateBps    *int
	CommissionRateBps *int
	Deductions        *int64
}

// Recalculate applies the request to the settlement identified by id.
// Returns repo.ErrNotFound, occ.ErrConflict, or a calculator precondition
// error unchanged; the handler layer maps them to transport codes.
func (s *Service) Recalculate(ctx context.Context, id uuid.UUID, req RecalcRequest) (repo.Settlement, error) {
	if s == nil || s.Store == nil {
		return repo.Settlement{}, errors.New("settlement service not configured")
	}
	ctx, span := otel.Tracer("settlement.Service").Start(ctx, "SettlementService.Recalculate")
	defer span.End()
	span.SetAttributes(attribute.String("settlement.id", id.String()))

	result := "error"
	defer func() {
		if obs.RecalcTotal != nil {
			obs.RecalcTotal.WithLabelValues("settlement", result).Inc()
		}
	}()

	current, err := s.Store.Get(ctx, id)
	if err != nil {
		return repo.Settlement{}, err
	}
	next, err := occ.Check(occ.State{Version: current.Version, UpdatedAt: current.UpdatedAt}, req.Expected, time.Now())
	if err != nil {
		result = "conflict"
		s.countConflict()
		return current, err
	}

	in := CalcInput{
		UnitCount:         valueOr(req.UnitCount, current.UnitCount),
		UnitPrice:         valueOr(req.UnitPrice, current.UnitPrice),
		VATRateBps:        valueOr(req.VATRateBps, current.VATRateBps),
		DepositRateBps:    valueOr(req.DepositRateBps, current.DepositRateBps),
		CommissionRateBps: valueOr(req.CommissionRateBps, current.CommissionRateBps),
		Deductions:        valueOr(req.Deductions, current.Deductions),
	}
	figures, err := Calculate(in)
	if err != nil {
		result = "rejected"
		return repo.Settlement{}, err
	}

	updated, err := s.Store.UpdateFiguresIf(ctx, id, occ.State{Version: current.Version, UpdatedAt: current.UpdatedAt}, next, repo.SettlementUpdate{
		UnitCount:         in.UnitCount,
		UnitPrice:         in.UnitPrice,
		VATRateBps:        in.VATRateBps,
		DepositRateBps:    in.DepositRateBps,
		CommissionRateBps: in.CommissionRateBps,
		Deductions:        in.Deductions,
		Figures:           repoFigures(figures),
		NeedsReview:       figures.NetPayout < 0,
	})
	if err != nil {
		if occ.IsConflict(err) {
			result = "conflict"
			s.countConflict()
			// Re-read so the caller can echo the winner's marker.
			if fresh, getErr := s.Store.Get(ctx, id); getErr == nil {
				return fresh, err
			}
		}
		return repo.Settlement{}, err
	}

	result = "applied"
	if s.Events != nil {
		if _, emitErr := s.Events.Emit(ctx, events.TopicSettlementRecalculated, updated.ID, recalcEventPayload(updated)); emitErr != nil {
			span.RecordError(fmt.Errorf("emit recalculated event: %w", emitErr))
		}
	}
	return updated, nil
}

func (s *Service) countConflict() {
	if obs.VersionConflictTotal != nil {
		obs.VersionConflictTotal.WithLabelValues("settlement").Inc()
	}
}

func recalcEventPayload(st repo.Settlement) map[string]any {
	return map[string]any{
		"settlement_id": st.ID.String(),
		"order_id":      st.OrderID.String(),
		"gross_total":   st.Figures.GrossTotal,
		"net_payout":    st.Figures.NetPayout,
		"needs_review":  st.NeedsReview,
		"version":       st.Version,
	}
}

// repoFigures maps a calculator result onto the persisted representation.
func repoFigures(f CalcResult) repo.SettlementFigures {
	return repo.SettlementFigures{
		GrossTotal:        f.GrossTotal,
		SupplyAmount:      f.SupplyAmount,
		VATAmount:         f.VATAmount,
		Deposit:           f.Deposit,
		Balance:           f.Balance,
		Commission:        f.Commission,
		Deductions:        f.Deductions,
		NetPayout:         f.NetPayout,
		PayeeInvoiceTotal: f.PayeeInvoiceTotal,
		PayeeSupplyAmount: f.PayeeSupplyAmount,
		PayeeVATAmount:    f.PayeeVATAmount,
	}
}

func valueOr[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}
