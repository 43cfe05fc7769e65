package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishEventRejectsUnknownType(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.PublishEvent(context.Background(), EventInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		Type:        EventType("task_paused"),
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "event_type", ve.Field)
}

func TestPublishEventWritesAndPublishes(t *testing.T) {
	f := newFixture(t)

	it, err := f.svc.PublishEvent(context.Background(), EventInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		Type:        EventTaskStarted,
		Data:        map[string]any{"task": "ingest"},
		Summary:     "started ingest",
		Priority:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, TypeEvent, it.Type)
	assert.Equal(t, EventTaskStarted, it.Event.Type)
	assert.Nil(t, it.ToAgentID)

	published := f.pub.published()
	require.Len(t, published, 1)
	assert.Equal(t, it.ID, published[0].ID)
}

func TestQueryEventsFiltersTypeAndSince(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	publish := func(et EventType) {
		_, err := f.svc.PublishEvent(ctx, EventInput{
			ExecutionID: f.executionID,
			FromAgentID: f.agents[0],
			Type:        et,
		})
		require.NoError(t, err)
	}

	publish(EventWorkflowStarted)
	f.clock.Advance(time.Minute)
	publish(EventTaskStarted)
	f.clock.Advance(time.Minute)
	cutoff := f.clock.Now()
	f.clock.Advance(time.Minute)
	publish(EventTaskCompleted)
	f.clock.Advance(time.Minute)
	publish(EventTaskStarted)

	all, err := f.svc.QueryEvents(ctx, f.executionID, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt), "events out of order")
	}

	starts, err := f.svc.QueryEvents(ctx, f.executionID, []EventType{EventTaskStarted}, nil)
	require.NoError(t, err)
	assert.Len(t, starts, 2)

	recent, err := f.svc.QueryEvents(ctx, f.executionID, nil, &cutoff)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestQueryEventsRejectsUnknownType(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.QueryEvents(context.Background(), f.executionID, []EventType{"bogus"}, nil)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}
