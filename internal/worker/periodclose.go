package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/carrylink/backend-carry/internal/civiltime"
	"github.com/carrylink/backend-carry/internal/events"
	"github.com/carrylink/backend-carry/internal/lock"
	"github.com/carrylink/backend-carry/internal/obs"
	"github.com/carrylink/backend-carry/internal/occ"
	"github.com/carrylink/backend-carry/internal/repo"
)

// TaskPeriodClose sweeps a settlement period, marking every draft settlement
// in it closed and payable.
const TaskPeriodClose = "settlement:close_period"

// periodCloseLockKey serialises close runs across instances.
const periodCloseLockKey = "locks:settlement:period-close"

// PeriodClosePayload selects the period to sweep. A zero payload means the
// current period in the display calendar.
type PeriodClosePayload struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
}

// NewPeriodCloseTask builds the asynq task for an explicit period. Zero
// year and month defer the choice to run time.
func NewPeriodCloseTask(year, month int) (*asynq.Task, error) {
	payload, err := json.Marshal(PeriodClosePayload{Year: year, Month: month})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPeriodClose, payload), nil
}

// SettlementStore is the slice of the settlements repository the job needs.
type SettlementStore interface {
	ListDraftForPeriod(ctx context.Context, year, month, limit int) ([]repo.Settlement, error)
	CloseIf(ctx context.Context, id uuid.UUID, expected occ.State, next occ.Next) (repo.Settlement, error)
}

// EventBus is the slice of the event bus the job needs.
type EventBus interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (repo.DomainEvent, error)
}

// PeriodCloser runs the monthly settlement close under a distributed lock.
type PeriodCloser struct {
	Store     SettlementStore
	Locker    lock.Locker
	LockTTL   time.Duration
	Calendar  civiltime.Calendar
	BatchSize int
	Events    EventBus
	Logger    zerolog.Logger
	Now       func() time.Time
}

// HandlePeriodClose is the asynq handler for TaskPeriodClose. An overlapping
// run skips instead of queueing behind the lock holder.
func (p *PeriodCloser) HandlePeriodClose(ctx context.Context, t *asynq.Task) error {
	var payload PeriodClosePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode period close payload: %w", err)
		}
	}

	year, month := payload.Year, payload.Month
	if year == 0 || month == 0 {
		d := p.Calendar.DisplayDate(p.now())
		year, month = d.Year, int(d.Month)
	}

	err := p.Locker.TryWithLock(ctx, periodCloseLockKey, p.LockTTL, func(ctx context.Context) error {
		return p.closePeriod(ctx, year, month)
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		p.Logger.Info().Int("year", year).Int("month", month).Msg("period close already running, skipping")
		p.countRun("skipped")
		return nil
	}
	return err
}

func (p *PeriodCloser) closePeriod(ctx context.Context, year, month int) error {
	started := p.now()
	closed := 0
	conflicts := 0
	batch := p.BatchSize
	if batch <= 0 {
		batch = 500
	}

	for {
		drafts, err := p.Store.ListDraftForPeriod(ctx, year, month, batch)
		if err != nil {
			p.countRun("error")
			return fmt.Errorf("list draft settlements for %04d-%02d: %w", year, month, err)
		}
		if len(drafts) == 0 {
			break
		}
		progressed := 0
		for _, st := range drafts {
			next, err := occ.Check(occ.State{Version: st.Version, UpdatedAt: st.UpdatedAt}, occ.Marker{}, p.now())
			if err != nil {
				return err
			}
			if _, err := p.Store.CloseIf(ctx, st.ID, occ.State{Version: st.Version, UpdatedAt: st.UpdatedAt}, next); err != nil {
				// A settlement edited mid-sweep is picked up by the next run.
				if occ.IsConflict(err) {
					conflicts++
					continue
				}
				p.countRun("error")
				return fmt.Errorf("close settlement %s: %w", st.ID, err)
			}
			closed++
			progressed++
		}
		if progressed == 0 {
			break
		}
	}

	if obs.PeriodCloseClosed != nil {
		obs.PeriodCloseClosed.Add(float64(closed))
	}
	if obs.PeriodCloseDuration != nil {
		obs.PeriodCloseDuration.Observe(float64(p.now().Sub(started).Milliseconds()))
	}
	p.countRun("ok")
	p.Logger.Info().
		Int("year", year).Int("month", month).
		Int("closed", closed).Int("conflicts", conflicts).
		Msg("period close finished")

	if p.Events != nil && closed > 0 {
		// Periods have no row of their own; a name-based id keeps the event
		// aggregate stable across runs.
		periodID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("settlement-period:%04d-%02d", year, month)))
		if _, err := p.Events.Emit(ctx, events.TopicPeriodClosed, periodID, map[string]any{
			"year":   year,
			"month":  month,
			"closed": closed,
		}); err != nil {
			p.Logger.Error().Err(err).Msg("emit period closed event")
		}
	}
	return nil
}

func (p *PeriodCloser) countRun(result string) {
	if obs.PeriodCloseRuns != nil {
		obs.PeriodCloseRuns.WithLabelValues(result).Inc()
	}
}

func (p *PeriodCloser) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
