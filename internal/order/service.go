package order

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
	"github.com/carrylink/backend-carry/internal/pricing"
	"github.com/carrylink/backend-carry/internal/repo"
)

// Store is the slice of the orders repository the service needs.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (repo.Order, error)
	UpdatePricingIf(ctx context.Context, id uuid.UUID, expected occ.State, next occ.Next, up repo.OrderPricingUpdate) (repo.Order, error)
}

// EventBus is the slice of the event bus the service needs.
type EventBus interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (repo.DomainEvent, error)
}

// Rates are the platform pricing parameters applied when a reprice request
// does not override them.
type Rates struct {
	UrgentRateBps  int
	MinTotalVATBps int
	MinimumTotal   int64
}

// Service coordinates guarded order repricing: read, version check, adjust,
// conditional write.
type Service struct {
	Store  Store
	Events EventBus
	Rates  Rates
}

// RepriceRequest carries the editor's version marker plus the fields being
// changed. Nil fields keep the stored value.
type RepriceRequest struct {
	Expected        occ.Marker
	Urgent          *bool
	BoxCount        *int
	BasePricePerBox *int64
	MinimumTotal    *int64
	UrgentRateBps   *int
}

// Reprice recomputes the order's per-box price and total under the
// presented marker. Returns repo.ErrNotFound, occ.ErrConflict, or a pricing
// precondition error unchanged.
func (s *Service) Reprice(ctx context.Context, id uuid.UUID, req RepriceRequest) (repo.Order, error) {
	if s == nil || s.Store == nil {
		return repo.Order{}, errors.New("order service not configured")
	}
	ctx, span := otel.Tracer("order.Service").Start(ctx, "OrderService.Reprice")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id.String()))

	result := "error"
	defer func() {
		if obs.RecalcTotal != nil {
			obs.RecalcTotal.WithLabelValues("order", result).Inc()
		}
	}()

	current, err := s.Store.Get(ctx, id)
	if err != nil {
		return repo.Order{}, err
	}
	next, err := occ.Check(occ.State{Version: current.Version, UpdatedAt: current.UpdatedAt}, req.Expected, time.Now())
	if err != nil {
		result = "conflict"
		s.countConflict()
		return current, err
	}

	adjusted, err := pricing.Adjust(pricing.Input{
		BasePricePerUnit: valueOr(req.BasePricePerBox, current.BasePricePerBox),
		UnitCount:        valueOr(req.BoxCount, current.BoxCount),
		MinimumTotal:     valueOr(req.MinimumTotal, s.Rates.MinimumTotal),
		UrgentRateBps:    valueOr(req.UrgentRateBps, s.Rates.UrgentRateBps),
		MinTotalVATBps:   s.Rates.MinTotalVATBps,
		Urgent:           valueOr(req.Urgent, current.Urgent),
	})
	if err != nil {
		result = "rejected"
		return repo.Order{}, err
	}

	updated, err := s.Store.UpdatePricingIf(ctx, id, occ.State{Version: current.Version, UpdatedAt: current.UpdatedAt}, next, repo.OrderPricingUpdate{
		PricePerBox:    adjusted.FinalPricePerUnit,
		Total:          adjusted.FinalTotal,
		Urgent:         valueOr(req.Urgent, current.Urgent),
		UrgentApplied:  adjusted.UrgentApplied,
		MinimumApplied: adjusted.MinimumApplied,
		PricingNote:    adjusted.Explanation,
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
		return repo.Order{}, err
	}

	result = "applied"
	if s.Events != nil {
		if _, emitErr := s.Events.Emit(ctx, events.TopicOrderRepriced, updated.ID, repriceEventPayload(updated)); emitErr != nil {
			span.RecordError(fmt.Errorf("emit repriced event: %w", emitErr))
		}
	}
	return updated, nil
}

func (s *Service) countConflict() {
	if obs.VersionConflictTotal != nil {
		obs.VersionConflictTotal.WithLabelValues("order").Inc()
	}
}

func repriceEventPayload(o repo.Order) map[string]any {
	return map[string]any{
		"order_id":        o.ID.String(),
		"price_per_box":   o.PricePerBox,
		"total":           o.Total,
		"urgent_applied":  o.UrgentApplied,
		"minimum_applied": o.MinimumApplied,
		"version":         o.Version,
	}
}

func valueOr[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}
