package audit

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/carrylink/backend-carry/internal/common"
	"github.com/carrylink/backend-carry/internal/obs"
	"github.com/carrylink/backend-carry/internal/repo"
)

// Store defines the persistence operation required for auditing.
type Store interface {
	Insert(ctx context.Context, e repo.AuditEntry) error
}

// Entry describes one admin mutation attempt. Outcome is one of
// "applied", "conflict" or "rejected" so rejected writes leave a trail too.
type Entry struct {
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      string
	Metadata     []byte
}

// Service persists audit entries for admin mutations.
type Service struct {
	Store   Store
	Enabled bool
}

// Record writes an audit entry for the request. Recording failures are
// returned to the caller but must never fail the mutation itself.
func (s *Service) Record(r *http.Request, e Entry) error {
	if s == nil || !s.Enabled {
		return nil
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}
	if r == nil {
		return errors.New("audit: request is required")
	}
	action := e.Action
	if action == "" {
		route := obs.RoutePatternFromContext(r.Context())
		if route == "" {
			route = strings.TrimSpace(r.URL.Path)
		}
		action = strings.ToLower(r.Method) + " " + route
	}
	return s.Store.Insert(r.Context(), repo.AuditEntry{
		Actor:        "admin",
		Action:       action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Outcome:      e.Outcome,
		ClientIP:     common.ClientIP(r),
		RequestID:    r.Header.Get("X-Request-ID"),
		Metadata:     e.Metadata,
	})
}
