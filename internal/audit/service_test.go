package audit

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/carrylink/backend-carry/internal/repo"
)

type captureStore struct {
	entries []repo.AuditEntry
}

func (s *captureStore) Insert(_ context.Context, e repo.AuditEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

func TestRecordDisabledIsNoop(t *testing.T) {
	store := &captureStore{}
	svc := &Service{Store: store, Enabled: false}

	r := httptest.NewRequest("PATCH", "/admin/settlements/x", nil)
	if err := svc.Record(r, Entry{Action: "settlement.recalculate", Outcome: "applied"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(store.entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(store.entries))
	}
}

func TestRecordPersistsOutcome(t *testing.T) {
	store := &captureStore{}
	svc := &Service{Store: store, Enabled: true}

	r := httptest.NewRequest("PATCH", "/admin/settlements/x", nil)
	r.Header.Set("X-Request-ID", "req-7")
	err := svc.Record(r, Entry{
		Action:       "settlement.recalculate",
		ResourceType: "settlement",
		ResourceID:   "x",
		Outcome:      "conflict",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(store.entries))
	}
	got := store.entries[0]
	if got.Outcome != "conflict" || got.Action != "settlement.recalculate" {
		t.Fatalf("unexpected entry %+v", got)
	}
	if got.RequestID != "req-7" {
		t.Fatalf("request id = %q", got.RequestID)
	}
}

func TestRecordDerivesActionFromRoute(t *testing.T) {
	store := &captureStore{}
	svc := &Service{Store: store, Enabled: true}

	r := httptest.NewRequest("POST", "/admin/periods/close", nil)
	if err := svc.Record(r, Entry{ResourceType: "period", Outcome: "applied"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got := store.entries[0].Action; got != "post /admin/periods/close" {
		t.Fatalf("action = %q", got)
	}
}
