package coordination

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// HistoryPage is one page of the interaction log, newest first.
type HistoryPage struct {
	ExecutionID  uuid.UUID      `json:"execution_id"`
	Interactions []*Interaction `json:"interactions"`
	TotalCount   int            `json:"total_count"`
	Limit        int            `json:"limit"`
	Offset       int            `json:"offset"`
}

// ActivityWindow bounds the AgentActivity lookback.
type ActivityWindow string

const (
	WindowHour  ActivityWindow = "1h"
	Window6Hour ActivityWindow = "6h"
	WindowDay   ActivityWindow = "24h"
	WindowWeek  ActivityWindow = "7d"
)

func (w ActivityWindow) Duration() (time.Duration, bool) {
	switch w {
	case WindowHour:
		return time.Hour, true
	case Window6Hour:
		return 6 * time.Hour, true
	case WindowDay:
		return 24 * time.Hour, true
	case WindowWeek:
		return 7 * 24 * time.Hour, true
	}
	return 0, false
}

// AgentActivity is one agent's interaction counts within a window.
type AgentActivity struct {
	AgentID           uuid.UUID `json:"agent_id"`
	MessagesSent      int       `json:"messages_sent"`
	MessagesReceived  int       `json:"messages_received"`
	EventsPublished   int       `json:"events_published"`
	ConflictsDetected int       `json:"conflicts_detected"`
	LastActivity      time.Time `json:"last_activity"`
}

// TimelineGranularity selects the bucket width of a Timeline.
type TimelineGranularity string

const (
	GranularityMinute TimelineGranularity = "minute"
	GranularityHour   TimelineGranularity = "hour"
	GranularityDay    TimelineGranularity = "day"
)

func (g TimelineGranularity) truncate(t time.Time) (time.Time, bool) {
	switch g {
	case GranularityMinute:
		return t.Truncate(time.Minute), true
	case GranularityHour:
		return t.Truncate(time.Hour), true
	case GranularityDay:
		return t.Truncate(24 * time.Hour), true
	}
	return t, false
}

// TimelineBucket counts interactions by type inside one time bucket.
type TimelineBucket struct {
	Bucket     time.Time `json:"bucket"`
	Messages   int       `json:"messages"`
	Events     int       `json:"events"`
	StateSyncs int       `json:"state_syncs"`
	Conflicts  int       `json:"conflicts"`
}

// ConflictStats summarizes conflict volume and resolution behavior.
type ConflictStats struct {
	ExecutionID          uuid.UUID                  `json:"execution_id"`
	Total                int                        `json:"total"`
	Resolved             int                        `json:"resolved"`
	Unresolved           int                        `json:"unresolved"`
	ByType               map[ConflictType]int       `json:"by_type"`
	ByStrategy           map[ResolutionStrategy]int `json:"by_strategy"`
	AvgResolutionMinutes *float64                   `json:"avg_resolution_minutes"`
}

// FlowNode is one agent in the message-flow graph.
type FlowNode struct {
	AgentID      uuid.UUID `json:"agent_id"`
	MessageCount int       `json:"message_count"`
}

// FlowEdge is the directed message count between two agents.
type FlowEdge struct {
	From  uuid.UUID `json:"from"`
	To    uuid.UUID `json:"to"`
	Count int       `json:"count"`
}

// MessageFlowGraph is who-talks-to-whom, built from message rows only.
// Broadcasts contribute to the sender's node count but produce no edge.
type MessageFlowGraph struct {
	ExecutionID uuid.UUID  `json:"execution_id"`
	Nodes       []FlowNode `json:"nodes"`
	Edges       []FlowEdge `json:"edges"`
}

// History returns one page of the interaction log, newest first, with the
// unpaged total so callers can page through.
func (s *Service) History(ctx context.Context, executionID uuid.UUID, f HistoryFilter, limit, offset int) (*HistoryPage, error) {
	if f.Type != nil && !f.Type.Valid() {
		return nil, &ValidationError{Field: "interaction_type", Reason: fmt.Sprintf("unknown interaction type %q", *f.Type)}
	}
	if limit < 0 || offset < 0 {
		return nil, &ValidationError{Field: "limit", Reason: "limit and offset must be non-negative"}
	}
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	rows, total, err := s.store.ListHistory(ctx, executionID, f, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return &HistoryPage{
		ExecutionID:  executionID,
		Interactions: rows,
		TotalCount:   total,
		Limit:        limit,
		Offset:       offset,
	}, nil
}

// Activity computes per-agent counts over interactions inside the window,
// most recently active agents first.
func (s *Service) Activity(ctx context.Context, executionID uuid.UUID, window ActivityWindow) ([]*AgentActivity, error) {
	d, ok := window.Duration()
	if !ok {
		return nil, &ValidationError{Field: "window", Reason: fmt.Sprintf("unknown window %q", window)}
	}
	since := s.now().Add(-d)
	rows, err := s.store.ListByExecution(ctx, executionID, &since)
	if err != nil {
		return nil, fmt.Errorf("agent activity: %w", err)
	}

	byAgent := make(map[uuid.UUID]*AgentActivity)
	touch := func(id uuid.UUID, at time.Time) *AgentActivity {
		a := byAgent[id]
		if a == nil {
			a = &AgentActivity{AgentID: id}
			byAgent[id] = a
		}
		if at.After(a.LastActivity) {
			a.LastActivity = at
		}
		return a
	}
	for _, it := range rows {
		from := touch(it.FromAgentID, it.CreatedAt)
		switch it.Type {
		case TypeMessage:
			from.MessagesSent++
			if it.ToAgentID != nil {
				touch(*it.ToAgentID, it.CreatedAt).MessagesReceived++
			}
		case TypeEvent:
			from.EventsPublished++
		case TypeConflict:
			from.ConflictsDetected++
		}
	}

	out := make([]*AgentActivity, 0, len(byAgent))
	for _, a := range byAgent {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].AgentID.String() < out[j].AgentID.String()
	})
	return out, nil
}

// Timeline buckets the execution's interactions by creation time. Only
// buckets with at least one interaction appear, in chronological order.
func (s *Service) Timeline(ctx context.Context, executionID uuid.UUID, granularity TimelineGranularity) ([]*TimelineBucket, error) {
	if _, ok := granularity.truncate(time.Time{}); !ok {
		return nil, &ValidationError{Field: "granularity", Reason: fmt.Sprintf("unknown granularity %q", granularity)}
	}
	rows, err := s.store.ListByExecution(ctx, executionID, nil)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}

	buckets := make(map[time.Time]*TimelineBucket)
	for _, it := range rows {
		at, _ := granularity.truncate(it.CreatedAt.UTC())
		b := buckets[at]
		if b == nil {
			b = &TimelineBucket{Bucket: at}
			buckets[at] = b
		}
		switch it.Type {
		case TypeMessage:
			b.Messages++
		case TypeEvent:
			b.Events++
		case TypeStateSync:
			b.StateSyncs++
		case TypeConflict:
			b.Conflicts++
		}
	}

	out := make([]*TimelineBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

// ConflictAnalytics reports conflict volume, resolution strategy mix, and
// mean time to resolution for one execution.
func (s *Service) ConflictAnalytics(ctx context.Context, executionID uuid.UUID) (*ConflictStats, error) {
	rows, err := s.store.ListByExecution(ctx, executionID, nil)
	if err != nil {
		return nil, fmt.Errorf("conflict analytics: %w", err)
	}

	stats := &ConflictStats{
		ExecutionID: executionID,
		ByType:      make(map[ConflictType]int),
		ByStrategy:  make(map[ResolutionStrategy]int),
	}
	var totalResolution time.Duration
	var timed int
	for _, it := range rows {
		if it.Type != TypeConflict || it.Conflict == nil {
			continue
		}
		c := it.Conflict
		stats.Total++
		stats.ByType[c.Type]++
		if c.Resolved {
			stats.Resolved++
			if c.Strategy != nil {
				stats.ByStrategy[*c.Strategy]++
			}
			if c.ResolvedAt != nil {
				totalResolution += c.ResolvedAt.Sub(it.CreatedAt)
				timed++
			}
		} else {
			stats.Unresolved++
		}
	}
	if timed > 0 {
		avg := totalResolution.Minutes() / float64(timed)
		stats.AvgResolutionMinutes = &avg
	}
	return stats, nil
}

// MessageFlow builds the directed who-talks-to-whom graph from message rows.
func (s *Service) MessageFlow(ctx context.Context, executionID uuid.UUID) (*MessageFlowGraph, error) {
	rows, err := s.store.ListByExecution(ctx, executionID, nil)
	if err != nil {
		return nil, fmt.Errorf("message flow: %w", err)
	}

	nodeCounts := make(map[uuid.UUID]int)
	type pair struct{ from, to uuid.UUID }
	edgeCounts := make(map[pair]int)
	for _, it := range rows {
		if it.Type != TypeMessage {
			continue
		}
		nodeCounts[it.FromAgentID]++
		if it.ToAgentID != nil {
			nodeCounts[*it.ToAgentID]++
			edgeCounts[pair{it.FromAgentID, *it.ToAgentID}]++
		}
	}

	graph := &MessageFlowGraph{ExecutionID: executionID}
	for id, n := range nodeCounts {
		graph.Nodes = append(graph.Nodes, FlowNode{AgentID: id, MessageCount: n})
	}
	sort.Slice(graph.Nodes, func(i, j int) bool {
		return graph.Nodes[i].AgentID.String() < graph.Nodes[j].AgentID.String()
	})
	for p, n := range edgeCounts {
		graph.Edges = append(graph.Edges, FlowEdge{From: p.from, To: p.to, Count: n})
	}
	sort.Slice(graph.Edges, func(i, j int) bool {
		if graph.Edges[i].From != graph.Edges[j].From {
			return graph.Edges[i].From.String() < graph.Edges[j].From.String()
		}
		return graph.Edges[i].To.String() < graph.Edges[j].To.String()
	})
	return graph, nil
}
