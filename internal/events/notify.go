package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/carrylink/backend-carry/internal/repo"
)

// LogNotifier writes every emitted event to the structured log. Downstream
// consumers read the domain_events table; the log line is for operators.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, ev repo.DomainEvent) error {
	n.Logger.Info().
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID.String()).
		Str("event_id", ev.ID.String()).
		Msg("domain event emitted")
	return nil
}
