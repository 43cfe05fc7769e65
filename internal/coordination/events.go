package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type EventInput struct {
	ExecutionID uuid.UUID
	FromAgentID uuid.UUID
	ToAgentID   *uuid.UUID
	Type        EventType
	Data        map[string]any
	Summary     string
	Priority    int
	Metadata    map[string]any
}

// PublishEvent writes a lifecycle event. A nil ToAgentID makes it visible to
// the whole crew.
func (s *Service) PublishEvent(ctx context.Context, in EventInput) (*Interaction, error) {
	if in.FromAgentID == uuid.Nil {
		return nil, &ValidationError{Field: "from_agent_id", Reason: "required"}
	}
	if !in.Type.Valid() {
		return nil, &ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown event type %q", in.Type)}
	}
	if err := validatePriority(in.Priority); err != nil {
		return nil, err
	}

	it := &Interaction{
		ExecutionID: in.ExecutionID,
		FromAgentID: in.FromAgentID,
		ToAgentID:   in.ToAgentID,
		Type:        TypeEvent,
		Priority:    in.Priority,
		Metadata:    in.Metadata,
		Event: &EventBody{
			Type:    in.Type,
			Data:    in.Data,
			Summary: in.Summary,
		},
	}
	if err := s.store.Insert(ctx, it); err != nil {
		return nil, fmt.Errorf("publish event: %w", err)
	}

	log.Info().
		Str("interaction_id", it.ID.String()).
		Str("event_type", string(in.Type)).
		Str("from_agent", in.FromAgentID.String()).
		Msg("Event published")

	s.publish(ctx, it)
	return it, nil
}

// QueryEvents returns events for the execution in ascending creation order,
// optionally narrowed by type and a lower time bound. Pure read.
func (s *Service) QueryEvents(ctx context.Context, executionID uuid.UUID, types []EventType, since *time.Time) ([]*Interaction, error) {
	for _, t := range types {
		if !t.Valid() {
			return nil, &ValidationError{Field: "event_types", Reason: fmt.Sprintf("unknown event type %q", t)}
		}
	}
	events, err := s.store.ListEvents(ctx, executionID, types, since)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return events, nil
}
