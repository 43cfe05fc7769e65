package coordination

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrVersionExists is the storage-level rejection for a state_sync insert
	// whose (execution_id, state_key, state_version) is already taken. The
	// service converts it into a VersionConflictError.
	ErrVersionExists = errors.New("state version already accepted")

	// ErrAlreadyResponded is the storage-level rejection for a second write
	// to a message's response column.
	ErrAlreadyResponded = errors.New("message already has a response")

	// ErrEscalationIncomplete marks an escalation fan-out that failed before
	// reaching every crew agent. Resolve queues a background retry when it
	// sees this.
	ErrEscalationIncomplete = errors.New("escalation fan-out incomplete")
)

// ValidationError reports malformed or missing input on a create operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// VersionConflictError is returned by Sync when the attempted version is not
// strictly greater than the latest accepted one. ConflictID points at the
// concurrent_update conflict row created as a side effect.
type VersionConflictError struct {
	Key        string
	Attempted  int
	Latest     int
	ConflictID uuid.UUID
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("state version conflict on %q: attempted version %d, current version is %d",
		e.Key, e.Attempted, e.Latest)
}
