package dispute

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
	"github.com/carrylink/backend-carry/internal/settlement"
)

// Store is the slice of the disputes repository the service needs.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (repo.Dispute, error)
	ResolveIf(ctx context.Context, id uuid.UUID, expected occ.State, next occ.Next, resolution string, amountDiff int64) (repo.Dispute, error)
}

// SettlementAdjuster recalculates the settlement a resolved dispute points at.
type SettlementAdjuster interface {
	Recalculate(ctx context.Context, id uuid.UUID, req settlement.RecalcRequest) (repo.Settlement, error)
}

// SettlementReader loads the settlement's current deductions.
type SettlementReader interface {
	Get(ctx context.Context, id uuid.UUID) (repo.Settlement, error)
}

// EventBus is the slice of the event bus the service needs.
type EventBus interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (repo.DomainEvent, error)
}

// ErrAlreadyResolved indicates the dispute is not open.
var ErrAlreadyResolved = errors.New("dispute: already resolved")

// ErrAdjustmentUnderflow indicates the agreed adjustment would drive the
// settlement's deductions negative.
var ErrAdjustmentUnderflow = errors.New("dispute: adjustment would make settlement deductions negative")

// Service resolves disputes under the concurrency guard and folds the agreed
// amount into the settlement's deductions.
type Service struct {
	Store       Store
	Settlements SettlementReader
	Adjuster    SettlementAdjuster
	Events      EventBus
}

// ResolveRequest carries the editor's version marker and the agreed outcome.
// AmountDiff is signed: positive increases the deduction held back from the
// helper, negative refunds part of an earlier deduction.
type ResolveRequest struct {
	Expected   occ.Marker
	Resolution string
	AmountDiff int64
}

// Resolve marks the dispute resolved and, when the amount is nonzero,
// recalculates the linked settlement with the adjusted deductions. The
// settlement write reuses the guarded recalculation path so its own version
// still advances atomically.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, req ResolveRequest) (repo.Dispute, error) {
	if s == nil || s.Store == nil {
		return repo.Dispute{}, errors.New("dispute service not configured")
	}
	ctx, span := otel.Tracer("dispute.Service").Start(ctx, "DisputeService.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("dispute.id", id.String()))

	result := "error"
	defer func() {
		if obs.RecalcTotal != nil {
			obs.RecalcTotal.WithLabelValues("dispute", result).Inc()
		}
	}()

	current, err := s.Store.Get(ctx, id)
	if err != nil {
		return repo.Dispute{}, err
	}
	if current.Status != repo.DisputeStatusOpen {
		result = "rejected"
		return current, ErrAlreadyResolved
	}
	next, err := occ.Check(occ.State{Version: current.Version, UpdatedAt: current.UpdatedAt}, req.Expected, time.Now())
	if err != nil {
		result = "conflict"
		if obs.VersionConflictTotal != nil {
			obs.VersionConflictTotal.WithLabelValues("dispute").Inc()
		}
		return current, err
	}

	// Validate the settlement-side adjustment before touching the dispute so
	// a rejected resolution leaves both records untouched.
	var newDeductions int64
	if req.AmountDiff != 0 && s.Settlements != nil {
		st, err := s.Settlements.Get(ctx, current.SettlementID)
		if err != nil {
			return repo.Dispute{}, fmt.Errorf("load linked settlement: %w", err)
		}
		newDeductions = st.Deductions + req.AmountDiff
		if newDeductions < 0 {
			result = "rejected"
			return repo.Dispute{}, fmt.Errorf("%w: %d%+d", ErrAdjustmentUnderflow, st.Deductions, req.AmountDiff)
		}
	}

	updated, err := s.Store.ResolveIf(ctx, id, occ.State{Version: current.Version, UpdatedAt: current.UpdatedAt}, next, req.Resolution, req.AmountDiff)
	if err != nil {
		if occ.IsConflict(err) {
			result = "conflict"
			if obs.VersionConflictTotal != nil {
				obs.VersionConflictTotal.WithLabelValues("dispute").Inc()
			}
			// Re-read so the caller can echo the winner's marker.
			if fresh, getErr := s.Store.Get(ctx, id); getErr == nil {
				return fresh, err
			}
		}
		return repo.Dispute{}, err
	}

	if req.AmountDiff != 0 && s.Adjuster != nil {
		if _, err := s.Adjuster.Recalculate(ctx, updated.SettlementID, settlement.RecalcRequest{
			Deductions: &newDeductions,
		}); err != nil {
			span.RecordError(err)
			return updated, fmt.Errorf("dispute resolved but settlement adjustment failed: %w", err)
		}
	}

	result = "applied"
	if s.Events != nil {
		if _, emitErr := s.Events.Emit(ctx, events.TopicDisputeResolved, updated.ID, map[string]any{
			"dispute_id":    updated.ID.String(),
			"settlement_id": updated.SettlementID.String(),
			"amount_diff":   updated.AmountDiff,
			"version":       updated.Version,
		}); emitErr != nil {
			span.RecordError(fmt.Errorf("emit resolved event: %w", emitErr))
		}
	}
	return updated, nil
}
