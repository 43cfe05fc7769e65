package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ResponseStatus classifies an awaited response against its deadline.
type ResponseStatus string

const (
	ResponsePending ResponseStatus = "pending"
	ResponseUrgent  ResponseStatus = "urgent"
	ResponseOverdue ResponseStatus = "overdue"
)

// PendingResponse is one message still waiting on an answer.
type PendingResponse struct {
	Interaction      *Interaction   `json:"interaction"`
	Status           ResponseStatus `json:"status"`
	Deadline         *time.Time     `json:"deadline"`
	MinutesRemaining *float64       `json:"minutes_remaining"`
}

// PendingSummary aggregates the unanswered messages of an execution.
type PendingSummary struct {
	ExecutionID  uuid.UUID          `json:"execution_id"`
	Total        int                `json:"total"`
	OverdueCount int                `json:"overdue_count"`
	UrgentCount  int                `json:"urgent_count"`
	Items        []*PendingResponse `json:"items"`
}

// ListPendingResponses reports every message in the execution that requires a
// response and has none yet, classified against its deadline at call time.
func (s *Service) ListPendingResponses(ctx context.Context, executionID uuid.UUID) (*PendingSummary, error) {
	rows, err := s.store.ListPendingResponses(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("list pending responses: %w", err)
	}

	now := s.now()
	summary := &PendingSummary{
		ExecutionID: executionID,
		Total:       len(rows),
		Items:       make([]*PendingResponse, 0, len(rows)),
	}
	for _, it := range rows {
		item := &PendingResponse{Interaction: it, Status: ResponsePending}
		if it.Message != nil && it.Message.ResponseDeadline != nil {
			deadline := *it.Message.ResponseDeadline
			item.Deadline = &deadline
			remaining := deadline.Sub(now).Minutes()
			item.MinutesRemaining = &remaining
			item.Status = classifyDeadline(now, deadline, s.urgencyWindow)
		}
		switch item.Status {
		case ResponseOverdue:
			summary.OverdueCount++
		case ResponseUrgent:
			summary.UrgentCount++
		}
		summary.Items = append(summary.Items, item)
	}
	return summary, nil
}

// classifyDeadline is evaluated per call; a message drifts from pending to
// urgent to overdue as the clock passes its deadline.
func classifyDeadline(now, deadline time.Time, window time.Duration) ResponseStatus {
	switch {
	case now.After(deadline):
		return ResponseOverdue
	case deadline.Sub(now) <= window:
		return ResponseUrgent
	default:
		return ResponsePending
	}
}

// EscalateOverdueResponses publishes an agent_error event for every message
// whose response deadline has passed without an answer. Events carry the
// overdue message id, so a message already flagged is not flagged again.
// Returns the number of messages newly flagged.
func (s *Service) EscalateOverdueResponses(ctx context.Context) (int, error) {
	now := s.now()
	rows, err := s.store.ListOverduePending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list overdue responses: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	flagged := 0
	for _, it := range rows {
		already, err := s.overdueFlagged(ctx, it)
		if err != nil {
			return flagged, err
		}
		if already {
			continue
		}
		to := it.FromAgentID
		ev := &Interaction{
			ExecutionID: it.ExecutionID,
			FromAgentID: it.FromAgentID,
			ToAgentID:   &to,
			Type:        TypeEvent,
			Priority:    PriorityMax,
			Event: &EventBody{
				Type:    EventAgentError,
				Summary: "Response deadline passed without an answer",
				Data: map[string]any{
					"overdue_message_id": it.ID.String(),
					"deadline":           it.Message.ResponseDeadline.Format(time.RFC3339),
				},
			},
		}
		if err := s.store.Insert(ctx, ev); err != nil {
			return flagged, fmt.Errorf("flag overdue message %s: %w", it.ID, err)
		}
		s.publish(ctx, ev)
		flagged++
	}

	if flagged > 0 {
		log.Warn().Int("flagged", flagged).Msg("Overdue responses escalated")
	}
	return flagged, nil
}

func (s *Service) overdueFlagged(ctx context.Context, msg *Interaction) (bool, error) {
	events, err := s.store.ListEvents(ctx, msg.ExecutionID, []EventType{EventAgentError}, nil)
	if err != nil {
		return false, fmt.Errorf("list overdue flags: %w", err)
	}
	for _, ev := range events {
		if ev.Event == nil {
			continue
		}
		if id, _ := ev.Event.Data["overdue_message_id"].(string); id == msg.ID.String() {
			return true, nil
		}
	}
	return false, nil
}
