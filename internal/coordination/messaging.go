package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type DirectMessageInput struct {
	ExecutionID      uuid.UUID
	FromAgentID      uuid.UUID
	ToAgentID        uuid.UUID
	Text             string
	Priority         int
	RequiresResponse bool
	ResponseDeadline *time.Time
	Metadata         map[string]any
}

type BroadcastInput struct {
	ExecutionID uuid.UUID
	FromAgentID uuid.UUID
	Text        string
	Priority    int
	Metadata    map[string]any
}

// BroadcastResult records how many agents were in the crew when the broadcast
// was written. Later roster changes do not alter past broadcasts.
type BroadcastResult struct {
	Interaction *Interaction `json:"interaction"`
	TotalAgents int          `json:"total_agents"`
}

// SendDirect writes a point-to-point message. The recipient is required.
func (s *Service) SendDirect(ctx context.Context, in DirectMessageInput) (*Interaction, error) {
	if in.ToAgentID == uuid.Nil {
		return nil, &ValidationError{Field: "to_agent_id", Reason: "required for a direct message"}
	}
	if in.FromAgentID == uuid.Nil {
		return nil, &ValidationError{Field: "from_agent_id", Reason: "required"}
	}
	if err := validatePriority(in.Priority); err != nil {
		return nil, err
	}

	to := in.ToAgentID
	it := &Interaction{
		ExecutionID: in.ExecutionID,
		FromAgentID: in.FromAgentID,
		ToAgentID:   &to,
		Type:        TypeMessage,
		Priority:    in.Priority,
		Metadata:    in.Metadata,
		Message: &MessageBody{
			Text:             in.Text,
			RequiresResponse: in.RequiresResponse,
			ResponseDeadline: in.ResponseDeadline,
		},
	}
	if err := s.store.Insert(ctx, it); err != nil {
		return nil, fmt.Errorf("send direct message: %w", err)
	}

	log.Info().
		Str("interaction_id", it.ID.String()).
		Str("from_agent", in.FromAgentID.String()).
		Str("to_agent", in.ToAgentID.String()).
		Bool("requires_response", in.RequiresResponse).
		Msg("Direct message sent")

	s.publish(ctx, it)
	return it, nil
}

// Broadcast writes one message row addressed to the whole crew and stamps the
// crew size into metadata at send time.
func (s *Service) Broadcast(ctx context.Context, in BroadcastInput) (*BroadcastResult, error) {
	if in.FromAgentID == uuid.Nil {
		return nil, &ValidationError{Field: "from_agent_id", Reason: "required"}
	}
	if err := validatePriority(in.Priority); err != nil {
		return nil, err
	}

	crew, err := s.crews.ResolveCrew(ctx, in.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("resolve crew for broadcast: %w", err)
	}

	metadata := cloneMap(in.Metadata)
	if metadata == nil {
		metadata = make(map[string]any, 2)
	}
	metadata["broadcast"] = true
	metadata["total_agents"] = len(crew.AgentIDs)

	it := &Interaction{
		ExecutionID: in.ExecutionID,
		FromAgentID: in.FromAgentID,
		Type:        TypeMessage,
		Priority:    in.Priority,
		Metadata:    metadata,
		Message:     &MessageBody{Text: in.Text},
	}
	if err := s.store.Insert(ctx, it); err != nil {
		return nil, fmt.Errorf("broadcast message: %w", err)
	}

	log.Info().
		Str("interaction_id", it.ID.String()).
		Str("from_agent", in.FromAgentID.String()).
		Int("total_agents", len(crew.AgentIDs)).
		Msg("Broadcast message sent")

	s.publish(ctx, it)
	return &BroadcastResult{Interaction: it, TotalAgents: len(crew.AgentIDs)}, nil
}

// Respond fills the response on a message row. The response is set at most
// once per message; the tracker treats any non-null response as closing the
// obligation regardless of who replied.
func (s *Service) Respond(ctx context.Context, interactionID, responderID uuid.UUID, text string) (*Interaction, error) {
	if responderID == uuid.Nil {
		return nil, &ValidationError{Field: "responder_agent_id", Reason: "required"}
	}
	existing, err := s.store.GetByID(ctx, interactionID)
	if err != nil {
		return nil, fmt.Errorf("respond to message %s: %w", interactionID, err)
	}
	if existing.Type != TypeMessage || existing.Message == nil {
		return nil, &ValidationError{Field: "interaction_id", Reason: "not a message"}
	}
	if existing.Message.Response != nil {
		return nil, &ValidationError{Field: "interaction_id", Reason: "message already has a response"}
	}
	if existing.FromAgentID == responderID {
		return nil, &ValidationError{Field: "responder_agent_id", Reason: "sender cannot respond to their own message"}
	}
	it, err := s.store.SetResponse(ctx, interactionID, text)
	if errors.Is(err, ErrAlreadyResponded) {
		// Lost a race after the read-check above; same rejection either way.
		return nil, &ValidationError{Field: "interaction_id", Reason: "message already has a response"}
	}
	if err != nil {
		return nil, fmt.Errorf("respond to message %s: %w", interactionID, err)
	}

	log.Info().
		Str("interaction_id", interactionID.String()).
		Str("responder", responderID.String()).
		Msg("Message response recorded")

	s.publish(ctx, it)
	return it, nil
}
