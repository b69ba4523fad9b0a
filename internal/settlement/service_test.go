package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carrylink/backend-carry/internal/occ"
	"github.com/carrylink/backend-carry/internal/repo"
)

type stubStore struct {
	settlement repo.Settlement
	getErr     error

	updateCalled bool
	gotExpected  occ.State
	gotNext      occ.Next
	gotUpdate    repo.SettlementUpdate
	updateErr    error
	// afterWrite replaces the stored settlement once the write fails,
	// simulating a concurrent editor winning the race.
	afterWrite *repo.Settlement
}

func (s *stubStore) Get(context.Context, uuid.UUID) (repo.Settlement, error) {
	if s.getErr != nil {
		return repo.Settlement{}, s.getErr
	}
	return s.settlement, nil
}

func (s *stubStore) UpdateFiguresIf(_ context.Context, _ uuid.UUID, expected occ.State, next occ.Next, up repo.SettlementUpdate) (repo.Settlement, error) {
	s.updateCalled = true
	s.gotExpected = expected
	s.gotNext = next
	s.gotUpdate = up
	if s.updateErr != nil {
		if s.afterWrite != nil {
			s.settlement = *s.afterWrite
		}
		return repo.Settlement{}, s.updateErr
	}
	out := s.settlement
	out.UnitCount = up.UnitCount
	out.UnitPrice = up.UnitPrice
	out.VATRateBps = up.VATRateBps
	out.DepositRateBps = up.DepositRateBps
	out.CommissionRateBps = up.CommissionRateBps
	out.Deductions = up.Deductions
	out.Figures = up.Figures
	out.NeedsReview = up.NeedsReview
	out.Version = next.Version
	out.UpdatedAt = next.UpdatedAt
	return out, nil
}

type stubBus struct {
	topics []string
	ids    []uuid.UUID
	err    error
}

func (b *stubBus) Emit(_ context.Context, topic string, aggregateID uuid.UUID, _ any) (repo.DomainEvent, error) {
	b.topics = append(b.topics, topic)
	b.ids = append(b.ids, aggregateID)
	return repo.DomainEvent{}, b.err
}

func draftSettlement() repo.Settlement {
	return repo.Settlement{
		ID:                uuid.New(),
		OrderID:           uuid.New(),
		HelperName:        "kim",
		Status:            repo.SettlementStatusDraft,
		UnitCount:         100,
		UnitPrice:         2400,
		VATRateBps:        1000,
		DepositRateBps:    2000,
		CommissionRateBps: 1500,
		Version:           3,
		UpdatedAt:         time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC),
	}
}

func ptr[T any](v T) *T { return &v }

func TestRecalculateApplies(t *testing.T) {
	current := draftSettlement()
	store := &stubStore{settlement: current}
	bus := &stubBus{}
	svc := &Service{Store: store, Events: bus}

	updated, err := svc.Recalculate(context.Background(), current.ID, RecalcRequest{
		Expected:  occ.Marker{Version: ptr(int64(3))},
		UnitCount: ptr(110),
	})
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if !store.updateCalled {
		t.Fatal("expected conditional write")
	}
	if store.gotExpected.Version != 3 || store.gotNext.Version != 4 {
		t.Fatalf("version transition %d -> %d", store.gotExpected.Version, store.gotNext.Version)
	}
	// 110 boxes at 2400 won plus 10% VAT.
	if got := store.gotUpdate.Figures.GrossTotal; got != 290400 {
		t.Fatalf("gross = %d, want 290400", got)
	}
	if updated.Version != 4 {
		t.Fatalf("updated version = %d", updated.Version)
	}
	if len(bus.topics) != 1 || bus.topics[0] != "settlement.recalculated" {
		t.Fatalf("emitted topics %v", bus.topics)
	}
	if bus.ids[0] != current.ID {
		t.Fatalf("event aggregate id %s, want %s", bus.ids[0], current.ID)
	}
}

func TestRecalculateStaleVersionRejectedBeforeWrite(t *testing.T) {
	current := draftSettlement()
	store := &stubStore{settlement: current}
	svc := &Service{Store: store}

	_, err := svc.Recalculate(context.Background(), current.ID, RecalcRequest{
		Expected:  occ.Marker{Version: ptr(int64(2))},
		UnitCount: ptr(110),
	})
	if !occ.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if store.updateCalled {
		t.Fatal("stale editor must not reach the write")
	}
}

func TestRecalculateEmptyMarkerAccepted(t *testing.T) {
	current := draftSettlement()
	store := &stubStore{settlement: current}
	svc := &Service{Store: store}

	updated, err := svc.Recalculate(context.Background(), current.ID, RecalcRequest{
		Deductions: ptr(int64(5000)),
	})
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if updated.Version != 4 {
		t.Fatalf("version = %d, want 4", updated.Version)
	}
}

func TestRecalculateInvalidInputRejected(t *testing.T) {
	current := draftSettlement()
	store := &stubStore{settlement: current}
	svc := &Service{Store: store}

	_, err := svc.Recalculate(context.Background(), current.ID, RecalcRequest{
		Expected:  occ.Marker{Version: ptr(int64(3))},
		UnitCount: ptr(-1),
	})
	if !errors.Is(err, ErrNegativeUnitCount) {
		t.Fatalf("expected negative-count error, got %v", err)
	}
	if store.updateCalled {
		t.Fatal("invalid input must not reach the write")
	}
}

func TestRecalculateNotFoundPassesThrough(t *testing.T) {
	store := &stubStore{getErr: repo.ErrNotFound}
	svc := &Service{Store: store}

	_, err := svc.Recalculate(context.Background(), uuid.New(), RecalcRequest{})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecalculateWriteConflictSurfaces(t *testing.T) {
	current := draftSettlement()
	winner := current
	winner.Version = 4
	winner.UpdatedAt = current.UpdatedAt.Add(time.Second)
	store := &stubStore{settlement: current, updateErr: occ.ErrConflict, afterWrite: &winner}
	svc := &Service{Store: store}

	got, err := svc.Recalculate(context.Background(), current.ID, RecalcRequest{
		Expected: occ.Marker{Version: ptr(int64(3))},
	})
	if !occ.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// Both conflict paths return the row as it stands, so the handler can
	// echo the winning editor's marker.
	if got.Version != 4 || !got.UpdatedAt.Equal(winner.UpdatedAt) {
		t.Fatalf("expected the winner's marker, got version %d at %v", got.Version, got.UpdatedAt)
	}
}

func TestRecalculateNegativePayoutFlagsReview(t *testing.T) {
	current := draftSettlement()
	store := &stubStore{settlement: current}
	svc := &Service{Store: store}

	updated, err := svc.Recalculate(context.Background(), current.ID, RecalcRequest{
		Expected:   occ.Marker{Version: ptr(int64(3))},
		Deductions: ptr(int64(1_000_000)),
	})
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if !updated.NeedsReview {
		t.Fatal("negative payout must flag needs_review")
	}
	if updated.Figures.NetPayout >= 0 {
		t.Fatalf("net payout = %d, expected negative", updated.Figures.NetPayout)
	}
}

func TestRecalculateNotifierFailureDoesNotFailMutation(t *testing.T) {
	current := draftSettlement()
	store := &stubStore{settlement: current}
	bus := &stubBus{err: errors.New("redis down")}
	svc := &Service{Store: store, Events: bus}

	if _, err := svc.Recalculate(context.Background(), current.ID, RecalcRequest{
		Expected: occ.Marker{Version: ptr(int64(3))},
	}); err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
}
