package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) sendAwaiting(t *testing.T, deadline *time.Time) *Interaction {
	t.Helper()
	it, err := f.svc.SendDirect(context.Background(), DirectMessageInput{
		ExecutionID:      f.executionID,
		FromAgentID:      f.agents[0],
		ToAgentID:        f.agents[1],
		Text:             "need an answer",
		RequiresResponse: true,
		ResponseDeadline: deadline,
	})
	require.NoError(t, err)
	return it
}

func TestPendingResponseClassification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	past := now.Add(-time.Minute)
	soon := now.Add(3 * time.Minute)
	later := now.Add(time.Hour)

	overdue := f.sendAwaiting(t, &past)
	urgent := f.sendAwaiting(t, &soon)
	relaxed := f.sendAwaiting(t, &later)
	noDeadline := f.sendAwaiting(t, nil)

	summary, err := f.svc.ListPendingResponses(ctx, f.executionID)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 1, summary.OverdueCount)
	assert.Equal(t, 1, summary.UrgentCount)

	statuses := map[uuid.UUID]ResponseStatus{}
	for _, item := range summary.Items {
		statuses[item.Interaction.ID] = item.Status
	}
	assert.Equal(t, ResponseOverdue, statuses[overdue.ID])
	assert.Equal(t, ResponseUrgent, statuses[urgent.ID])
	assert.Equal(t, ResponsePending, statuses[relaxed.ID])
	assert.Equal(t, ResponsePending, statuses[noDeadline.ID])
}

func TestPendingStatusDriftsWithClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deadline := f.clock.Now().Add(time.Hour)
	msg := f.sendAwaiting(t, &deadline)

	statusOf := func() ResponseStatus {
		summary, err := f.svc.ListPendingResponses(ctx, f.executionID)
		require.NoError(t, err)
		require.Len(t, summary.Items, 1)
		return summary.Items[0].Status
	}

	assert.Equal(t, ResponsePending, statusOf())

	f.clock.Advance(57 * time.Minute)
	assert.Equal(t, ResponseUrgent, statusOf())

	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, ResponseOverdue, statusOf())

	// Answering removes it from the pending set entirely.
	_, err := f.svc.Respond(ctx, msg.ID, f.agents[1], "late but done")
	require.NoError(t, err)
	summary, err := f.svc.ListPendingResponses(ctx, f.executionID)
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
}

func TestEscalateOverdueResponsesFlagsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := f.clock.Now().Add(-time.Minute)
	msg := f.sendAwaiting(t, &past)
	future := f.clock.Now().Add(time.Hour)
	f.sendAwaiting(t, &future)

	flagged, err := f.svc.EscalateOverdueResponses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	// Re-running the sweep does not flag the same message again.
	flagged, err = f.svc.EscalateOverdueResponses(ctx)
	require.NoError(t, err)
	assert.Zero(t, flagged)

	events, err := f.svc.QueryEvents(ctx, f.executionID, []EventType{EventAgentError}, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, msg.ID.String(), events[0].Event.Data["overdue_message_id"])
	assert.Equal(t, PriorityMax, events[0].Priority)
}
