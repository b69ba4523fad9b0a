package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carrylink/backend-carry/internal/occ"
	"github.com/carrylink/backend-carry/internal/pricing"
	"github.com/carrylink/backend-carry/internal/repo"
)

type stubStore struct {
	order  repo.Order
	getErr error

	updateCalled bool
	gotNext      occ.Next
	gotUpdate    repo.OrderPricingUpdate
	updateErr    error
	// afterWrite replaces the stored order once the write fails, simulating
	// a concurrent editor winning the race.
	afterWrite *repo.Order
}

func (s *stubStore) Get(context.Context, uuid.UUID) (repo.Order, error) {
	if s.getErr != nil {
		return repo.Order{}, s.getErr
	}
	return s.order, nil
}

func (s *stubStore) UpdatePricingIf(_ context.Context, _ uuid.UUID, _ occ.State, next occ.Next, up repo.OrderPricingUpdate) (repo.Order, error) {
	s.updateCalled = true
	s.gotNext = next
	s.gotUpdate = up
	if s.updateErr != nil {
		if s.afterWrite != nil {
			s.order = *s.afterWrite
		}
		return repo.Order{}, s.updateErr
	}
	out := s.order
	out.PricePerBox = up.PricePerBox
	out.Total = up.Total
	out.Urgent = up.Urgent
	out.UrgentApplied = up.UrgentApplied
	out.MinimumApplied = up.MinimumApplied
	out.PricingNote = up.PricingNote
	out.Version = next.Version
	out.UpdatedAt = next.UpdatedAt
	return out, nil
}

type stubBus struct {
	topics []string
	err    error
}

func (b *stubBus) Emit(_ context.Context, topic string, _ uuid.UUID, _ any) (repo.DomainEvent, error) {
	b.topics = append(b.topics, topic)
	return repo.DomainEvent{}, b.err
}

func testOrder() repo.Order {
	return repo.Order{
		ID:              uuid.New(),
		RequesterName:   "lee",
		Status:          "CONFIRMED",
		BoxCount:        200,
		BasePricePerBox: 1200,
		PricePerBox:     1200,
		Total:           240000,
		Version:         7,
		UpdatedAt:       time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC),
	}
}

func testRates() Rates {
	return Rates{UrgentRateBps: 1500, MinTotalVATBps: 0, MinimumTotal: 0}
}

func ptr[T any](v T) *T { return &v }

func TestRepriceUrgentThenMinimum(t *testing.T) {
	current := testOrder()
	store := &stubStore{order: current}
	bus := &stubBus{}
	svc := &Service{Store: store, Events: bus, Rates: testRates()}

	updated, err := svc.Reprice(context.Background(), current.ID, RepriceRequest{
		Expected:     occ.Marker{Version: ptr(int64(7))},
		Urgent:       ptr(true),
		MinimumTotal: ptr(int64(300000)),
	})
	if err != nil {
		t.Fatalf("Reprice: %v", err)
	}
	// 1200 won with a 15% urgent surcharge rounds to 1400; the 300000 won
	// minimum over 200 boxes then lifts the box price to 1500.
	if updated.PricePerBox != 1500 || updated.Total != 300000 {
		t.Fatalf("price = %d total = %d", updated.PricePerBox, updated.Total)
	}
	if !updated.UrgentApplied || !updated.MinimumApplied {
		t.Fatalf("flags urgent=%v minimum=%v", updated.UrgentApplied, updated.MinimumApplied)
	}
	if updated.Version != 8 {
		t.Fatalf("version = %d, want 8", updated.Version)
	}
	if updated.PricingNote == "" {
		t.Fatal("expected a pricing note")
	}
	if len(bus.topics) != 1 || bus.topics[0] != "order.repriced" {
		t.Fatalf("emitted topics %v", bus.topics)
	}
}

func TestRepriceStaleTimestampRejected(t *testing.T) {
	current := testOrder()
	store := &stubStore{order: current}
	svc := &Service{Store: store, Rates: testRates()}

	stale := current.UpdatedAt.Add(-time.Minute)
	_, err := svc.Reprice(context.Background(), current.ID, RepriceRequest{
		Expected: occ.Marker{UpdatedAt: &stale},
		Urgent:   ptr(true),
	})
	if !occ.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if store.updateCalled {
		t.Fatal("stale editor must not reach the write")
	}
}

func TestRepriceNegativeBoxCountRejected(t *testing.T) {
	current := testOrder()
	store := &stubStore{order: current}
	svc := &Service{Store: store, Rates: testRates()}

	_, err := svc.Reprice(context.Background(), current.ID, RepriceRequest{
		Expected: occ.Marker{Version: ptr(int64(7))},
		BoxCount: ptr(-5),
	})
	if !errors.Is(err, pricing.ErrNegativeUnitCount) {
		t.Fatalf("expected negative-count error, got %v", err)
	}
	if store.updateCalled {
		t.Fatal("invalid input must not reach the write")
	}
}

func TestRepriceWriteConflictSurfaces(t *testing.T) {
	current := testOrder()
	winner := current
	winner.Version = 8
	winner.UpdatedAt = current.UpdatedAt.Add(time.Second)
	store := &stubStore{order: current, updateErr: occ.ErrConflict, afterWrite: &winner}
	svc := &Service{Store: store, Rates: testRates()}

	got, err := svc.Reprice(context.Background(), current.ID, RepriceRequest{
		Expected: occ.Marker{Version: ptr(int64(7))},
	})
	if !occ.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// Both conflict paths return the row as it stands, so the handler can
	// echo the winning editor's marker.
	if got.Version != 8 || !got.UpdatedAt.Equal(winner.UpdatedAt) {
		t.Fatalf("expected the winner's marker, got version %d at %v", got.Version, got.UpdatedAt)
	}
}

func TestRepriceNonUrgentKeepsBasePrice(t *testing.T) {
	current := testOrder()
	store := &stubStore{order: current}
	svc := &Service{Store: store, Rates: testRates()}

	updated, err := svc.Reprice(context.Background(), current.ID, RepriceRequest{
		Expected: occ.Marker{Version: ptr(int64(7))},
	})
	if err != nil {
		t.Fatalf("Reprice: %v", err)
	}
	if updated.PricePerBox != 1200 || updated.Total != 240000 {
		t.Fatalf("price = %d total = %d", updated.PricePerBox, updated.Total)
	}
	if updated.UrgentApplied || updated.MinimumApplied {
		t.Fatalf("flags urgent=%v minimum=%v", updated.UrgentApplied, updated.MinimumApplied)
	}
}
