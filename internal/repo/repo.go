package repo

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("repo: record not found")

// ParseID converts a path parameter to a record id.
func ParseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("repo: invalid record id %q: %w", raw, err)
	}
	return id, nil
}
