package coordination

import (
	"time"

	"github.com/google/uuid"
)

type InteractionType string

const (
	TypeMessage   InteractionType = "message"
	TypeEvent     InteractionType = "event"
	TypeStateSync InteractionType = "state_sync"
	TypeConflict  InteractionType = "conflict"
)

func (t InteractionType) Valid() bool {
	switch t {
	case TypeMessage, TypeEvent, TypeStateSync, TypeConflict:
		return true
	}
	return false
}

type EventType string

const (
	EventTaskStarted        EventType = "task_started"
	EventTaskCompleted      EventType = "task_completed"
	EventTaskFailed         EventType = "task_failed"
	EventTaskDelegated      EventType = "task_delegated"
	EventDelegationAccepted EventType = "delegation_accepted"
	EventDelegationRejected EventType = "delegation_rejected"
	EventAgentError         EventType = "agent_error"
	EventAgentIdle          EventType = "agent_idle"
	EventDataShared         EventType = "data_shared"
	EventWorkflowStarted    EventType = "workflow_started"
	EventWorkflowCompleted  EventType = "workflow_completed"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTaskStarted, EventTaskCompleted, EventTaskFailed,
		EventTaskDelegated, EventDelegationAccepted, EventDelegationRejected,
		EventAgentError, EventAgentIdle, EventDataShared,
		EventWorkflowStarted, EventWorkflowCompleted:
		return true
	}
	return false
}

type ConflictType string

const (
	ConflictConcurrentUpdate    ConflictType = "concurrent_update"
	ConflictDuplicateAssignment ConflictType = "duplicate_assignment"
	ConflictResourceContention  ConflictType = "resource_contention"
	ConflictStateMismatch       ConflictType = "state_mismatch"
	ConflictDeadline            ConflictType = "deadline_conflict"
	ConflictPriority            ConflictType = "priority_conflict"
)

func (t ConflictType) Valid() bool {
	switch t {
	case ConflictConcurrentUpdate, ConflictDuplicateAssignment,
		ConflictResourceContention, ConflictStateMismatch,
		ConflictDeadline, ConflictPriority:
		return true
	}
	return false
}

type ResolutionStrategy string

const (
	StrategyLatestWins ResolutionStrategy = "latest_wins"
	StrategyManual     ResolutionStrategy = "manual"
	StrategyMerge      ResolutionStrategy = "merge"
	StrategyRollback   ResolutionStrategy = "rollback"
	StrategyEscalate   ResolutionStrategy = "escalate"
)

func (s ResolutionStrategy) Valid() bool {
	switch s {
	case StrategyLatestWins, StrategyManual, StrategyMerge, StrategyRollback, StrategyEscalate:
		return true
	}
	return false
}

const (
	PriorityMin = -10
	PriorityMax = 10
)

// Interaction is one row in the coordination log. Exactly one of Message,
// Event, StateSync, Conflict is non-nil, matching Type. A nil ToAgentID
// means the interaction is addressed to the whole crew.
type Interaction struct {
	ID          uuid.UUID       `json:"id"`
	ExecutionID uuid.UUID       `json:"execution_id"`
	FromAgentID uuid.UUID       `json:"from_agent_id"`
	ToAgentID   *uuid.UUID      `json:"to_agent_id"`
	Type        InteractionType `json:"interaction_type"`
	Priority    int             `json:"priority"`
	Metadata    map[string]any  `json:"metadata"`
	CreatedAt   time.Time       `json:"created_at"`

	Message   *MessageBody   `json:"message,omitempty"`
	Event     *EventBody     `json:"event,omitempty"`
	StateSync *StateSyncBody `json:"state_sync,omitempty"`
	Conflict  *ConflictBody  `json:"conflict,omitempty"`
}

type MessageBody struct {
	Text             string     `json:"text"`
	Response         *string    `json:"response"`
	RequiresResponse bool       `json:"requires_response"`
	ResponseDeadline *time.Time `json:"response_deadline"`
}

type EventBody struct {
	Type    EventType      `json:"event_type"`
	Data    map[string]any `json:"event_data"`
	Summary string         `json:"summary,omitempty"`
}

type StateSyncBody struct {
	Key      string         `json:"state_key"`
	Value    map[string]any `json:"state_value"`
	Version  int            `json:"state_version"`
	Previous map[string]any `json:"previous_state"`
}

type ConflictBody struct {
	Type       ConflictType        `json:"conflict_type"`
	Detected   bool                `json:"conflict_detected"`
	Resolved   bool                `json:"conflict_resolved"`
	Strategy   *ResolutionStrategy `json:"resolution_strategy"`
	Data       map[string]any      `json:"resolution_data"`
	ResolvedAt *time.Time          `json:"resolved_at"`
	Summary    string              `json:"summary,omitempty"`
}

// IsBroadcast reports whether the interaction is addressed to the whole crew.
func (i *Interaction) IsBroadcast() bool { return i.ToAgentID == nil }

// Clone returns a deep copy so stores can hand out rows without aliasing
// their internal state.
func (i *Interaction) Clone() *Interaction {
	if i == nil {
		return nil
	}
	cp := *i
	if i.ToAgentID != nil {
		v := *i.ToAgentID
		cp.ToAgentID = &v
	}
	cp.Metadata = cloneMap(i.Metadata)
	if i.Message != nil {
		m := *i.Message
		if i.Message.Response != nil {
			r := *i.Message.Response
			m.Response = &r
		}
		if i.Message.ResponseDeadline != nil {
			d := *i.Message.ResponseDeadline
			m.ResponseDeadline = &d
		}
		cp.Message = &m
	}
	if i.Event != nil {
		e := *i.Event
		e.Data = cloneMap(i.Event.Data)
		cp.Event = &e
	}
	if i.StateSync != nil {
		s := *i.StateSync
		s.Value = cloneMap(i.StateSync.Value)
		s.Previous = cloneMap(i.StateSync.Previous)
		cp.StateSync = &s
	}
	if i.Conflict != nil {
		c := *i.Conflict
		c.Data = cloneMap(i.Conflict.Data)
		if i.Conflict.Strategy != nil {
			st := *i.Conflict.Strategy
			c.Strategy = &st
		}
		if i.Conflict.ResolvedAt != nil {
			at := *i.Conflict.ResolvedAt
			c.ResolvedAt = &at
		}
		cp.Conflict = &c
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
