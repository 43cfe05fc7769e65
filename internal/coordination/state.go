package coordination

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type StateSyncInput struct {
	ExecutionID uuid.UUID
	FromAgentID uuid.UUID
	Key         string
	Value       map[string]any
	Version     int
	Previous    map[string]any
	Priority    int
	Metadata    map[string]any
}

// Sync writes shared state under optimistic concurrency control. The write is
// accepted only if Version is strictly greater than every previously accepted
// version for (execution, key). The read-check below is advisory; the store's
// uniqueness constraint on (execution_id, state_key, state_version) is the
// source of truth, so a writer that races past the check still loses at
// insert time and is routed down the same conflict path.
func (s *Service) Sync(ctx context.Context, in StateSyncInput) (*Interaction, error) {
	if in.FromAgentID == uuid.Nil {
		return nil, &ValidationError{Field: "from_agent_id", Reason: "required"}
	}
	if in.Key == "" {
		return nil, &ValidationError{Field: "state_key", Reason: "required"}
	}
	if in.Version < 1 {
		return nil, &ValidationError{Field: "state_version", Reason: "must be a positive integer"}
	}
	if err := validatePriority(in.Priority); err != nil {
		return nil, err
	}

	latest, err := s.store.LatestState(ctx, in.ExecutionID, in.Key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("read latest state for %q: %w", in.Key, err)
	}
	if latest != nil && in.Version <= latest.StateSync.Version {
		return nil, s.rejectStaleSync(ctx, in, latest)
	}

	it := &Interaction{
		ExecutionID: in.ExecutionID,
		FromAgentID: in.FromAgentID,
		Type:        TypeStateSync,
		Priority:    in.Priority,
		Metadata:    in.Metadata,
		StateSync: &StateSyncBody{
			Key:      in.Key,
			Value:    in.Value,
			Version:  in.Version,
			Previous: in.Previous,
		},
	}
	err = s.store.Insert(ctx, it)
	if errors.Is(err, ErrVersionExists) {
		// Lost a race after the advisory check; re-read and report the
		// conflict exactly as if the check had caught it.
		latest, readErr := s.store.LatestState(ctx, in.ExecutionID, in.Key)
		if readErr != nil {
			return nil, fmt.Errorf("read latest state after rejected write for %q: %w", in.Key, readErr)
		}
		return nil, s.rejectStaleSync(ctx, in, latest)
	}
	if err != nil {
		return nil, fmt.Errorf("write state sync: %w", err)
	}

	log.Info().
		Str("interaction_id", it.ID.String()).
		Str("state_key", in.Key).
		Int("state_version", in.Version).
		Msg("State synchronized")

	s.publish(ctx, it)
	return it, nil
}

// rejectStaleSync records a concurrent_update conflict row for the failed
// write and returns the VersionConflictError the caller sees.
func (s *Service) rejectStaleSync(ctx context.Context, in StateSyncInput, latest *Interaction) error {
	latestVersion := 0
	var currentValue map[string]any
	if latest != nil && latest.StateSync != nil {
		latestVersion = latest.StateSync.Version
		currentValue = latest.StateSync.Value
	}

	log.Warn().
		Str("state_key", in.Key).
		Int("expected_version", in.Version).
		Int("actual_version", latestVersion).
		Msg("State version conflict detected")

	conflict, err := s.ReportConflict(ctx, ConflictInput{
		ExecutionID: in.ExecutionID,
		FromAgentID: in.FromAgentID,
		Type:        ConflictConcurrentUpdate,
		Summary:     fmt.Sprintf("State version conflict on key %q", in.Key),
		Data: map[string]any{
			"state_key":        in.Key,
			"expected_version": in.Version,
			"actual_version":   latestVersion,
			"attempted_value":  in.Value,
			"current_value":    currentValue,
		},
	})
	if err != nil {
		return fmt.Errorf("record concurrent_update conflict for %q: %w", in.Key, err)
	}

	return &VersionConflictError{
		Key:        in.Key,
		Attempted:  in.Version,
		Latest:     latestVersion,
		ConflictID: conflict.ID,
	}
}

// GetCurrent returns the highest-version state row for the key, or nil when
// the key has never been synced.
func (s *Service) GetCurrent(ctx context.Context, executionID uuid.UUID, key string) (*Interaction, error) {
	it, err := s.store.LatestState(ctx, executionID, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get current state for %q: %w", key, err)
	}
	return it, nil
}
