package worker

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carrylink/backend-carry/internal/civiltime"
	"github.com/carrylink/backend-carry/internal/lock"
	"github.com/carrylink/backend-carry/internal/occ"
	"github.com/carrylink/backend-carry/internal/repo"
)

type memStore struct {
	settlements map[uuid.UUID]repo.Settlement
	conflicting map[uuid.UUID]bool
	listedYear  int
	listedMonth int
}

func (m *memStore) ListDraftForPeriod(_ context.Context, year, month, limit int) ([]repo.Settlement, error) {
	m.listedYear, m.listedMonth = year, month
	var out []repo.Settlement
	for _, s := range m.settlements {
		if s.Status == repo.SettlementStatusDraft && s.PeriodYear == year && s.PeriodMonth == month {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CloseIf(_ context.Context, id uuid.UUID, expected occ.State, next occ.Next) (repo.Settlement, error) {
	if m.conflicting[id] {
		return repo.Settlement{}, fmt.Errorf("%w: settlement %s no longer at version %d", occ.ErrConflict, id, expected.Version)
	}
	s := m.settlements[id]
	s.Status = repo.SettlementStatusClosed
	s.Version = next.Version
	s.UpdatedAt = next.UpdatedAt
	m.settlements[id] = s
	return s, nil
}

type recordingBus struct {
	topics   []string
	payloads []any
}

func (b *recordingBus) Emit(_ context.Context, topic string, _ uuid.UUID, payload any) (repo.DomainEvent, error) {
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, payload)
	return repo.DomainEvent{}, nil
}

func newCloser(t *testing.T, store *memStore, bus *recordingBus) *PeriodCloser {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &PeriodCloser{
		Store:     store,
		Locker:    lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		LockTTL:   time.Second,
		Calendar:  civiltime.Default(),
		BatchSize: 2,
		Events:    bus,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func draftFor(year, month int, created time.Time) repo.Settlement {
	return repo.Settlement{
		ID:          uuid.New(),
		Status:      repo.SettlementStatusDraft,
		PeriodYear:  year,
		PeriodMonth: month,
		Version:     1,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestHandlePeriodCloseClosesAllDrafts(t *testing.T) {
	store := &memStore{settlements: map[uuid.UUID]repo.Settlement{}, conflicting: map[uuid.UUID]bool{}}
	base := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s := draftFor(2026, 3, base.Add(time.Duration(i)*time.Hour))
		store.settlements[s.ID] = s
	}
	other := draftFor(2026, 4, base)
	store.settlements[other.ID] = other

	bus := &recordingBus{}
	closer := newCloser(t, store, bus)

	task, err := NewPeriodCloseTask(2026, 3)
	if err != nil {
		t.Fatalf("NewPeriodCloseTask: %v", err)
	}
	if err := closer.HandlePeriodClose(context.Background(), task); err != nil {
		t.Fatalf("HandlePeriodClose: %v", err)
	}

	closed := 0
	for _, s := range store.settlements {
		if s.Status == repo.SettlementStatusClosed {
			closed++
		}
	}
	if closed != 5 {
		t.Fatalf("closed = %d, want 5", closed)
	}
	if store.settlements[other.ID].Status != repo.SettlementStatusDraft {
		t.Fatal("settlement outside the period must stay draft")
	}
	if len(bus.topics) != 1 || bus.topics[0] != "settlement.period_closed" {
		t.Fatalf("emitted topics %v", bus.topics)
	}
}

func TestHandlePeriodCloseSkipsConflicted(t *testing.T) {
	store := &memStore{settlements: map[uuid.UUID]repo.Settlement{}, conflicting: map[uuid.UUID]bool{}}
	base := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	good := draftFor(2026, 3, base)
	bad := draftFor(2026, 3, base.Add(time.Hour))
	store.settlements[good.ID] = good
	store.settlements[bad.ID] = bad
	store.conflicting[bad.ID] = true

	closer := newCloser(t, store, &recordingBus{})
	task, err := NewPeriodCloseTask(2026, 3)
	if err != nil {
		t.Fatalf("NewPeriodCloseTask: %v", err)
	}
	if err := closer.HandlePeriodClose(context.Background(), task); err != nil {
		t.Fatalf("HandlePeriodClose: %v", err)
	}

	if store.settlements[good.ID].Status != repo.SettlementStatusClosed {
		t.Fatal("unconflicted settlement must close")
	}
	if store.settlements[bad.ID].Status != repo.SettlementStatusDraft {
		t.Fatal("conflicted settlement must stay draft for the next run")
	}
}

func TestHandlePeriodCloseDefaultsToDisplayPeriod(t *testing.T) {
	store := &memStore{settlements: map[uuid.UUID]repo.Settlement{}, conflicting: map[uuid.UUID]bool{}}
	closer := newCloser(t, store, &recordingBus{})
	// 2026-04-01 00:00 UTC is 09:00 KST, so the display period is April.
	task, err := NewPeriodCloseTask(0, 0)
	if err != nil {
		t.Fatalf("NewPeriodCloseTask: %v", err)
	}
	if err := closer.HandlePeriodClose(context.Background(), task); err != nil {
		t.Fatalf("HandlePeriodClose: %v", err)
	}
	if store.listedYear != 2026 || store.listedMonth != 4 {
		t.Fatalf("listed period %d-%d, want 2026-4", store.listedYear, store.listedMonth)
	}
}
