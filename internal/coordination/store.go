package coordination

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// History page size bounds, applied identically by every Store
// implementation: a non-positive limit becomes DefaultHistoryLimit and
// nothing returns more than MaxHistoryLimit rows per page.
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// HistoryFilter narrows a history query. AgentID matches rows where the agent
// is either the sender or the recipient.
type HistoryFilter struct {
	AgentID *uuid.UUID
	Type    *InteractionType
	Start   *time.Time
	End     *time.Time
}

// Store is the persistence boundary for the interaction log. Rows are
// append-mostly: Insert creates, SetResponse and MarkConflictResolved are the
// only permitted updates, nothing is ever deleted.
//
// Insert must enforce uniqueness of (execution_id, state_key, state_version)
// for state_sync rows and return ErrVersionExists on violation; that
// constraint, not the caller's read-check, is what makes Sync safe under
// concurrent writers.
type Store interface {
	Insert(ctx context.Context, it *Interaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Interaction, error)
	SetResponse(ctx context.Context, id uuid.UUID, response string) (*Interaction, error)
	MarkConflictResolved(ctx context.Context, id uuid.UUID, strategy ResolutionStrategy, data map[string]any, at time.Time) (*Interaction, error)

	LatestState(ctx context.Context, executionID uuid.UUID, key string) (*Interaction, error)
	ListEvents(ctx context.Context, executionID uuid.UUID, types []EventType, since *time.Time) ([]*Interaction, error)
	ListUnresolvedConflicts(ctx context.Context, executionID uuid.UUID) ([]*Interaction, error)
	ListPendingResponses(ctx context.Context, executionID uuid.UUID) ([]*Interaction, error)
	ListHistory(ctx context.Context, executionID uuid.UUID, f HistoryFilter, limit, offset int) ([]*Interaction, int, error)
	ListByExecution(ctx context.Context, executionID uuid.UUID, since *time.Time) ([]*Interaction, error)
	ListOverduePending(ctx context.Context, now time.Time) ([]*Interaction, error)
}
