package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carrylink/backend-carry/internal/events"
	"github.com/carrylink/backend-carry/internal/repo"
)

type storeStub struct {
	inserted []repo.DomainEvent
	fail     bool
}

func (s *storeStub) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (repo.DomainEvent, error) {
	if s.fail {
		return repo.DomainEvent{}, errors.New("boom")
	}
	ev := repo.DomainEvent{ID: uuid.New(), Topic: topic, AggregateID: aggregateID, Payload: payload, OccurredAt: time.Now()}
	s.inserted = append(s.inserted, ev)
	return ev, nil
}

type notifierStub struct {
	seen []repo.DomainEvent
	err  error
}

func (n *notifierStub) Notify(ctx context.Context, event repo.DomainEvent) error {
	n.seen = append(n.seen, event)
	return n.err
}

func TestBusEmitPersistsAndNotifies(t *testing.T) {
	store := &storeStub{}
	notifier := &notifierStub{}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	id := uuid.New()
	ev, err := bus.Emit(context.Background(), events.TopicSettlementRecalculated, id, map[string]any{"gross_total": 264000})
	if err != nil {
		t.Fatalf("emit error: %v", err)
	}
	if ev.Topic != events.TopicSettlementRecalculated || ev.AggregateID != id {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(store.inserted) != 1 || len(notifier.seen) != 1 {
		t.Fatalf("expected one persisted and one notified event")
	}
}

func TestBusEmitRequiresTopicAndAggregate(t *testing.T) {
	bus := &events.Bus{Store: &storeStub{}}
	if _, err := bus.Emit(context.Background(), "  ", uuid.New(), nil); err == nil {
		t.Fatalf("expected error for empty topic")
	}
	if _, err := bus.Emit(context.Background(), events.TopicOrderRepriced, uuid.UUID{}, nil); err == nil {
		t.Fatalf("expected error for zero aggregate id")
	}
}

func TestBusEmitSurvivesNotifierFailure(t *testing.T) {
	store := &storeStub{}
	bad := &notifierStub{err: errors.New("push failed")}
	good := &notifierStub{}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{bad, good}}

	_, err := bus.Emit(context.Background(), events.TopicDisputeResolved, uuid.New(), nil)
	if err == nil {
		t.Fatalf("expected joined notifier error")
	}
	if len(store.inserted) != 1 {
		t.Fatalf("event must persist despite notifier failure")
	}
	if len(good.seen) != 1 {
		t.Fatalf("remaining notifiers must still run")
	}
}
