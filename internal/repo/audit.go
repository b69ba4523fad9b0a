package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry records one admin mutation attempt, including rejected ones.
type AuditEntry struct {
	ID           uuid.UUID
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      string
	ClientIP     string
	RequestID    string
	Metadata     []byte
	CreatedAt    time.Time
}

// AuditRepo appends audit log entries.
type AuditRepo struct {
	Pool *pgxpool.Pool
}

// Insert appends an audit entry.
func (r AuditRepo) Insert(ctx context.Context, e AuditEntry) error {
	if e.ID == (uuid.UUID{}) {
		e.ID = uuid.New()
	}
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO audit_logs (id, actor, action, resource_type, resource_id, outcome, client_ip, request_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		e.ID, e.Actor, e.Action, e.ResourceType, e.ResourceID, e.Outcome, e.ClientIP, e.RequestID, e.Metadata,
	)
	return err
}
