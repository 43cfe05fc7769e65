package coordination

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type ConflictInput struct {
	ExecutionID uuid.UUID
	FromAgentID uuid.UUID
	ToAgentID   *uuid.UUID
	Type        ConflictType
	Summary     string
	Data        map[string]any
	Priority    int
	Metadata    map[string]any
}

// ConflictSummary describes the unresolved conflicts of one execution,
// ordered by priority descending then age.
type ConflictSummary struct {
	ExecutionID      uuid.UUID            `json:"execution_id"`
	CrewID           *uuid.UUID           `json:"crew_id"`
	Total            int                  `json:"total"`
	ByType           map[ConflictType]int `json:"by_type"`
	OldestAgeMinutes *float64             `json:"oldest_age_minutes"`
	Conflicts        []*Interaction       `json:"conflicts"`
}

// ReportConflict records a detected coordination problem. Conflict rows are
// always created in the detected, unresolved state.
func (s *Service) ReportConflict(ctx context.Context, in ConflictInput) (*Interaction, error) {
	if in.FromAgentID == uuid.Nil {
		return nil, &ValidationError{Field: "from_agent_id", Reason: "required"}
	}
	if !in.Type.Valid() {
		return nil, &ValidationError{Field: "conflict_type", Reason: fmt.Sprintf("unknown conflict type %q", in.Type)}
	}
	if err := validatePriority(in.Priority); err != nil {
		return nil, err
	}

	it := &Interaction{
		ExecutionID: in.ExecutionID,
		FromAgentID: in.FromAgentID,
		ToAgentID:   in.ToAgentID,
		Type:        TypeConflict,
		Priority:    in.Priority,
		Metadata:    in.Metadata,
		Conflict: &ConflictBody{
			Type:     in.Type,
			Detected: true,
			Summary:  in.Summary,
			Data:     in.Data,
		},
	}
	if err := s.store.Insert(ctx, it); err != nil {
		return nil, fmt.Errorf("report conflict: %w", err)
	}

	log.Warn().
		Str("interaction_id", it.ID.String()).
		Str("conflict_type", string(in.Type)).
		Str("from_agent", in.FromAgentID.String()).
		Msg("Conflict recorded")

	s.publish(ctx, it)
	return it, nil
}

// Resolve runs the strategy's auto-resolution action and then marks the
// conflict resolved. The resolved flag and resolved_at are set even when the
// merge action detects overlapping keys and performs the escalate action in
// its place; callers that need a stricter two-step flow must re-report.
//
// An action failure (for example a partial escalation fan-out) is returned
// before the row is marked resolved, so Resolve is safe to retry: the
// escalation action skips agents that were already notified. A partial
// fan-out additionally queues a background retry when a job queue is
// attached, so the remaining agents get notified without a second call.
func (s *Service) Resolve(ctx context.Context, conflictID uuid.UUID, strategy ResolutionStrategy, data map[string]any) (*Interaction, error) {
	if !strategy.Valid() {
		return nil, &ValidationError{Field: "resolution_strategy", Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}
	conflict, err := s.store.GetByID(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("resolve conflict %s: %w", conflictID, err)
	}
	if conflict.Type != TypeConflict || conflict.Conflict == nil {
		return nil, &ValidationError{Field: "conflict_id", Reason: "interaction is not a conflict"}
	}

	// The stored detection payload, overlaid with anything the resolver
	// supplied on this call.
	effective := cloneMap(conflict.Conflict.Data)
	if effective == nil {
		effective = make(map[string]any)
	}
	for k, v := range data {
		effective[k] = v
	}

	var actionErr error
	switch strategy {
	case StrategyLatestWins:
		// The highest accepted version already won; nothing to write.
		log.Info().
			Str("conflict_id", conflictID.String()).
			Msg("Conflict resolved by latest_wins, current state stands")
	case StrategyManual:
		// Operator handled it out of band.
	case StrategyMerge:
		actionErr = s.mergeConflict(ctx, conflict, effective)
	case StrategyRollback:
		actionErr = s.rollbackConflict(ctx, conflict, effective)
	case StrategyEscalate:
		actionErr = s.escalateConflict(ctx, conflict)
	}
	if actionErr != nil {
		if errors.Is(actionErr, ErrEscalationIncomplete) {
			s.queueEscalationRetry(ctx, conflictID)
		}
		return nil, actionErr
	}

	resolved, err := s.store.MarkConflictResolved(ctx, conflictID, strategy, effective, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark conflict %s resolved: %w", conflictID, err)
	}

	log.Info().
		Str("conflict_id", conflictID.String()).
		Str("strategy", string(strategy)).
		Msg("Conflict resolved")

	s.publish(ctx, resolved)
	return resolved, nil
}

// mergeConflict writes the union of current_value and attempted_value as a
// fresh state version when the two agree on every shared key. Any shared key
// with differing values makes the merge unsafe, in which case the escalate
// action runs instead and no merged row is written.
func (s *Service) mergeConflict(ctx context.Context, conflict *Interaction, data map[string]any) error {
	current, currentOK := asMap(data["current_value"])
	attempted, attemptedOK := asMap(data["attempted_value"])
	if !currentOK || !attemptedOK {
		return s.escalateConflict(ctx, conflict)
	}
	for k, av := range attempted {
		if cv, shared := current[k]; shared && !reflect.DeepEqual(cv, av) {
			log.Warn().
				Str("conflict_id", conflict.ID.String()).
				Str("key", k).
				Msg("Merge found diverging values, escalating instead")
			return s.escalateConflict(ctx, conflict)
		}
	}

	merged := make(map[string]any, len(current)+len(attempted))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range attempted {
		merged[k] = v
	}

	stateKey, _ := data["state_key"].(string)
	if stateKey == "" {
		return s.escalateConflict(ctx, conflict)
	}
	return s.writeResolutionState(ctx, conflict, stateKey, merged, current)
}

// rollbackConflict re-asserts current_value under a fresh version so writers
// holding a stale version can resynchronize against it.
func (s *Service) rollbackConflict(ctx context.Context, conflict *Interaction, data map[string]any) error {
	current, ok := asMap(data["current_value"])
	if !ok {
		return &ValidationError{Field: "resolution_data.current_value", Reason: "required for rollback"}
	}
	stateKey, _ := data["state_key"].(string)
	if stateKey == "" {
		return &ValidationError{Field: "resolution_data.state_key", Reason: "required for rollback"}
	}
	return s.writeResolutionState(ctx, conflict, stateKey, current, nil)
}

func (s *Service) writeResolutionState(ctx context.Context, conflict *Interaction, key string, value, previous map[string]any) error {
	latestVersion := 0
	latest, err := s.store.LatestState(ctx, conflict.ExecutionID, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("read latest state for resolution of %q: %w", key, err)
	}
	if latest != nil && latest.StateSync != nil {
		latestVersion = latest.StateSync.Version
		if previous == nil {
			previous = latest.StateSync.Value
		}
	}

	it := &Interaction{
		ExecutionID: conflict.ExecutionID,
		FromAgentID: conflict.FromAgentID,
		Type:        TypeStateSync,
		Metadata: map[string]any{
			"resolved_from_conflict": conflict.ID.String(),
		},
		StateSync: &StateSyncBody{
			Key:      key,
			Value:    value,
			Version:  latestVersion + 1,
			Previous: previous,
		},
	}
	if err := s.store.Insert(ctx, it); err != nil {
		return fmt.Errorf("write resolution state for %q: %w", key, err)
	}
	s.publish(ctx, it)
	return nil
}

// escalateConflict notifies every crew agent with a max-priority agent_error
// event. The fan-out is N independent writes and is idempotent: agents that
// already received an escalation event for this conflict are skipped, so a
// retry after a partial failure completes the remainder.
func (s *Service) escalateConflict(ctx context.Context, conflict *Interaction) error {
	crew, err := s.crews.ResolveCrew(ctx, conflict.ExecutionID)
	if err != nil {
		return fmt.Errorf("resolve crew for escalation: %w", err)
	}

	notified, err := s.escalatedAgents(ctx, conflict)
	if err != nil {
		return err
	}

	for _, agentID := range crew.AgentIDs {
		if notified[agentID] {
			continue
		}
		to := agentID
		it := &Interaction{
			ExecutionID: conflict.ExecutionID,
			FromAgentID: conflict.FromAgentID,
			ToAgentID:   &to,
			Type:        TypeEvent,
			Priority:    PriorityMax,
			Event: &EventBody{
				Type:    EventAgentError,
				Summary: fmt.Sprintf("Conflict escalation: %s", conflict.Conflict.Summary),
				Data: map[string]any{
					"requires_manual_intervention": true,
					"conflict_id":                  conflict.ID.String(),
					"conflict_type":                string(conflict.Conflict.Type),
				},
			},
		}
		if err := s.store.Insert(ctx, it); err != nil {
			return fmt.Errorf("escalate conflict %s to agent %s: %w: %w", conflict.ID, agentID, ErrEscalationIncomplete, err)
		}
		s.publish(ctx, it)
	}

	log.Warn().
		Str("conflict_id", conflict.ID.String()).
		Int("crew_size", len(crew.AgentIDs)).
		Msg("Conflict escalated to crew")
	return nil
}

// escalatedAgents returns the agents that already hold an escalation event
// for this conflict.
func (s *Service) escalatedAgents(ctx context.Context, conflict *Interaction) (map[uuid.UUID]bool, error) {
	events, err := s.store.ListEvents(ctx, conflict.ExecutionID, []EventType{EventAgentError}, nil)
	if err != nil {
		return nil, fmt.Errorf("list prior escalation events: %w", err)
	}
	notified := make(map[uuid.UUID]bool)
	for _, ev := range events {
		if ev.Event == nil || ev.ToAgentID == nil {
			continue
		}
		if id, _ := ev.Event.Data["conflict_id"].(string); id == conflict.ID.String() {
			notified[*ev.ToAgentID] = true
		}
	}
	return notified, nil
}

// EnsureEscalated re-runs the escalation fan-out for a conflict, completing
// any agents missed by an earlier partial failure. Safe to call repeatedly.
func (s *Service) EnsureEscalated(ctx context.Context, conflictID uuid.UUID) error {
	conflict, err := s.store.GetByID(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("ensure escalated %s: %w", conflictID, err)
	}
	if conflict.Type != TypeConflict || conflict.Conflict == nil {
		return &ValidationError{Field: "conflict_id", Reason: "interaction is not a conflict"}
	}
	return s.escalateConflict(ctx, conflict)
}

// ListUnresolved summarizes the open conflicts of an execution.
func (s *Service) ListUnresolved(ctx context.Context, executionID uuid.UUID) (*ConflictSummary, error) {
	conflicts, err := s.store.ListUnresolvedConflicts(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("list unresolved conflicts: %w", err)
	}

	summary := &ConflictSummary{
		ExecutionID: executionID,
		Total:       len(conflicts),
		ByType:      make(map[ConflictType]int),
		Conflicts:   conflicts,
	}
	if crew, err := s.crews.ResolveCrew(ctx, executionID); err == nil {
		id := crew.ID
		summary.CrewID = &id
	}

	var oldest *Interaction
	for _, c := range conflicts {
		summary.ByType[c.Conflict.Type]++
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	if oldest != nil {
		age := s.now().Sub(oldest.CreatedAt).Minutes()
		summary.OldestAgeMinutes = &age
	}
	return summary, nil
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
