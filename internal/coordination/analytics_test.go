package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedLog writes a small mixed history: two direct messages, one broadcast,
// one event, one state sync, and one resolved conflict.
func seedLog(t *testing.T, f *fixture) (first, last *Interaction) {
	t.Helper()
	ctx := context.Background()

	first, err := f.svc.SendDirect(ctx, DirectMessageInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		ToAgentID:   f.agents[1],
		Text:        "m1",
	})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.svc.SendDirect(ctx, DirectMessageInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[1],
		ToAgentID:   f.agents[0],
		Text:        "m2",
	})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.svc.Broadcast(ctx, BroadcastInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		Text:        "everyone",
	})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.svc.PublishEvent(ctx, EventInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[2],
		Type:        EventTaskStarted,
	})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	f.sync(t, f.agents[1], "progress", 1, map[string]any{"step": 1})

	f.clock.Advance(time.Minute)
	conflict, err := f.svc.ReportConflict(ctx, ConflictInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[2],
		Type:        ConflictStateMismatch,
	})
	require.NoError(t, err)
	f.clock.Advance(4 * time.Minute)
	last, err = f.svc.Resolve(ctx, conflict.ID, StrategyManual, nil)
	require.NoError(t, err)

	return first, last
}

func TestHistoryPagingNewestFirst(t *testing.T) {
	f := newFixture(t)
	seedLog(t, f)
	ctx := context.Background()

	page, err := f.svc.History(ctx, f.executionID, HistoryFilter{}, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, page.TotalCount)
	require.Len(t, page.Interactions, 4)
	for i := 1; i < len(page.Interactions); i++ {
		assert.False(t, page.Interactions[i].CreatedAt.After(page.Interactions[i-1].CreatedAt),
			"history not newest-first")
	}

	rest, err := f.svc.History(ctx, f.executionID, HistoryFilter{}, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, rest.TotalCount)
	assert.Len(t, rest.Interactions, 2)
}

func TestHistoryAppliesDefaultLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < DefaultHistoryLimit+5; i++ {
		_, err := f.svc.SendDirect(ctx, DirectMessageInput{
			ExecutionID: f.executionID,
			FromAgentID: f.agents[0],
			ToAgentID:   f.agents[1],
			Text:        "tick",
		})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	page, err := f.svc.History(ctx, f.executionID, HistoryFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultHistoryLimit+5, page.TotalCount)
	assert.Len(t, page.Interactions, DefaultHistoryLimit)
	assert.Equal(t, DefaultHistoryLimit, page.Limit)

	// The store applies the same default when asked directly.
	rows, total, err := f.store.ListHistory(ctx, f.executionID, HistoryFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultHistoryLimit+5, total)
	assert.Len(t, rows, DefaultHistoryLimit)
}

func TestHistoryFilters(t *testing.T) {
	f := newFixture(t)
	seedLog(t, f)
	ctx := context.Background()

	msgType := TypeMessage
	page, err := f.svc.History(ctx, f.executionID, HistoryFilter{Type: &msgType}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)

	agent := f.agents[1]
	page, err = f.svc.History(ctx, f.executionID, HistoryFilter{AgentID: &agent}, 0, 0)
	require.NoError(t, err)
	// Sent m2 and one state sync, received m1.
	assert.Equal(t, 3, page.TotalCount)

	bogus := InteractionType("carrier_pigeon")
	_, err = f.svc.History(ctx, f.executionID, HistoryFilter{Type: &bogus}, 0, 0)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestActivityCountsPerAgent(t *testing.T) {
	f := newFixture(t)
	seedLog(t, f)

	activity, err := f.svc.Activity(context.Background(), f.executionID, WindowDay)
	require.NoError(t, err)

	byAgent := map[uuid.UUID]*AgentActivity{}
	for _, a := range activity {
		byAgent[a.AgentID] = a
	}

	a0 := byAgent[f.agents[0]]
	require.NotNil(t, a0)
	assert.Equal(t, 2, a0.MessagesSent) // m1 + broadcast
	assert.Equal(t, 1, a0.MessagesReceived)

	a2 := byAgent[f.agents[2]]
	require.NotNil(t, a2)
	assert.Equal(t, 1, a2.EventsPublished)
	assert.Equal(t, 1, a2.ConflictsDetected)
}

func TestActivityWindowExcludesOldRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendDirect(ctx, DirectMessageInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		ToAgentID:   f.agents[1],
		Text:        "ancient",
	})
	require.NoError(t, err)

	f.clock.Advance(26 * time.Hour)
	_, err = f.svc.SendDirect(ctx, DirectMessageInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		ToAgentID:   f.agents[1],
		Text:        "fresh",
	})
	require.NoError(t, err)

	day, err := f.svc.Activity(ctx, f.executionID, WindowDay)
	require.NoError(t, err)
	sent := 0
	for _, a := range day {
		sent += a.MessagesSent
	}
	assert.Equal(t, 1, sent)

	week, err := f.svc.Activity(ctx, f.executionID, WindowWeek)
	require.NoError(t, err)
	total := 0
	for _, a := range week {
		total += a.MessagesSent
	}
	assert.Equal(t, 2, total)

	_, err = f.svc.Activity(ctx, f.executionID, ActivityWindow("30d"))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestTimelineBucketsByGranularity(t *testing.T) {
	f := newFixture(t)
	seedLog(t, f)
	ctx := context.Background()

	// Everything above happened within nine minutes.
	hourly, err := f.svc.Timeline(ctx, f.executionID, GranularityHour)
	require.NoError(t, err)
	require.Len(t, hourly, 1)
	assert.Equal(t, 3, hourly[0].Messages)
	assert.Equal(t, 1, hourly[0].Events)
	assert.Equal(t, 1, hourly[0].StateSyncs)
	assert.Equal(t, 1, hourly[0].Conflicts)

	minutely, err := f.svc.Timeline(ctx, f.executionID, GranularityMinute)
	require.NoError(t, err)
	assert.Len(t, minutely, 6)
	for i := 1; i < len(minutely); i++ {
		assert.True(t, minutely[i-1].Bucket.Before(minutely[i].Bucket))
	}

	_, err = f.svc.Timeline(ctx, f.executionID, TimelineGranularity("fortnight"))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestConflictAnalytics(t *testing.T) {
	f := newFixture(t)
	seedLog(t, f)
	ctx := context.Background()

	_, err := f.svc.ReportConflict(ctx, ConflictInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		Type:        ConflictResourceContention,
	})
	require.NoError(t, err)

	stats, err := f.svc.ConflictAnalytics(ctx, f.executionID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Unresolved)
	assert.Equal(t, 1, stats.ByType[ConflictStateMismatch])
	assert.Equal(t, 1, stats.ByType[ConflictResourceContention])
	assert.Equal(t, 1, stats.ByStrategy[StrategyManual])
	require.NotNil(t, stats.AvgResolutionMinutes)
	assert.InDelta(t, 4.0, *stats.AvgResolutionMinutes, 0.01)
}

func TestMessageFlowExcludesBroadcastEdges(t *testing.T) {
	f := newFixture(t)
	seedLog(t, f)

	graph, err := f.svc.MessageFlow(context.Background(), f.executionID)
	require.NoError(t, err)

	// Only agents appearing on message rows are nodes.
	require.Len(t, graph.Nodes, 2)
	counts := map[uuid.UUID]int{}
	for _, n := range graph.Nodes {
		counts[n.AgentID] = n.MessageCount
	}
	assert.Equal(t, 3, counts[f.agents[0]]) // m1 sent, m2 received, broadcast sent
	assert.Equal(t, 2, counts[f.agents[1]])

	// The broadcast has no recipient, so only the two directed messages
	// produce edges.
	require.Len(t, graph.Edges, 2)
	for _, e := range graph.Edges {
		assert.Equal(t, 1, e.Count)
	}
}
