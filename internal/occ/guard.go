package occ

import (
	"errors"
	"fmt"
	"time"
)

// Timestamp markers compare at the precision Postgres stores them with.
const markerPrecision = time.Microsecond

// ErrConflict signals a stale version marker. It is recoverable: the caller
// re-reads current state, re-applies its change and re-submits. Retry count
// and backoff are the caller's concern.
var ErrConflict = errors.New("occ: stale version marker")

// State is the persisted marker pair of a versioned record as read by the
// caller immediately before the write.
type State struct {
	Version   int64
	UpdatedAt time.Time
}

// Marker is what the client read before editing. Nil fields were not
// supplied; every supplied field must match current state.
type Marker struct {
	Version   *int64
	UpdatedAt *time.Time
}

// Next holds the marker values the caller writes alongside its mutation. The
// check-and-write must be a single conditional update at the storage
// boundary; this package only supplies the decision.
type Next struct {
	Version   int64
	UpdatedAt time.Time
}

// Check validates the presented marker against current state. It returns
// ErrConflict (wrapped with detail) when any supplied marker differs, and
// otherwise the next marker pair to persist. A marker with neither field
// accepts: the caller opted out of optimistic locking for this write.
func Check(current State, presented Marker, now time.Time) (Next, error) {
	if presented.Version != nil && *presented.Version != current.Version {
		return Next{}, fmt.Errorf("%w: presented version %d, current %d", ErrConflict, *presented.Version, current.Version)
	}
	if presented.UpdatedAt != nil && !sameInstant(*presented.UpdatedAt, current.UpdatedAt) {
		return Next{}, fmt.Errorf("%w: presented updated_at %s, current %s",
			ErrConflict, presented.UpdatedAt.UTC().Format(time.RFC3339Nano), current.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}
	if now.IsZero() {
		now = time.Now()
	}
	return Next{
		Version:   current.Version + 1,
		UpdatedAt: now.UTC().Truncate(markerPrecision),
	}, nil
}

// IsConflict reports whether err is a concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func sameInstant(a, b time.Time) bool {
	return a.UTC().Truncate(markerPrecision).Equal(b.UTC().Truncate(markerPrecision))
}

// VersionOf builds a version-only marker.
func VersionOf(v int64) Marker {
	return Marker{Version: &v}
}

// UpdatedAtOf builds a timestamp-only marker.
func UpdatedAtOf(t time.Time) Marker {
	return Marker{UpdatedAt: &t}
}
