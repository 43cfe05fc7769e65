// Package stream delivers just-written interactions to live subscribers.
// Delivery is best effort: a slow or absent subscriber never blocks or
// fails the write that produced the interaction, and there is no replay.
package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jayusctrojan/Empire-sub002/internal/coordination"
)

// ChannelName returns the per-execution channel an interaction is published
// on. External subscribers depend on this shape.
func ChannelName(executionID uuid.UUID) string {
	return "agent_interactions:" + executionID.String()
}

// Hub fans interactions out to in-process subscribers grouped by execution.
type Hub struct {
	mu   sync.RWMutex
	next int
	subs map[uuid.UUID]map[int]chan *coordination.Interaction
}

func NewHub() *Hub {
	return &Hub{subs: map[uuid.UUID]map[int]chan *coordination.Interaction{}}
}

// Subscribe attaches to an execution's channel. Only interactions published
// after the call are delivered. The channel closes when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, executionID uuid.UUID) <-chan *coordination.Interaction {
	ch := make(chan *coordination.Interaction, 64)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[executionID] == nil {
		h.subs[executionID] = map[int]chan *coordination.Interaction{}
	}
	h.subs[executionID][id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[executionID], id)
		if len(h.subs[executionID]) == 0 {
			delete(h.subs, executionID)
		}
		h.mu.Unlock()
		close(ch)
	}()

	return ch
}

// PublishInteraction offers the interaction to every subscriber of its
// execution. Slow subscribers are skipped rather than waited on.
func (h *Hub) PublishInteraction(_ context.Context, it *coordination.Interaction) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[it.ExecutionID] {
		select {
		case ch <- it.Clone():
		default:
			// Drop if subscriber is slow.
		}
	}
	return nil
}

// SubscriberCount reports the live subscribers for an execution.
func (h *Hub) SubscriberCount(executionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[executionID])
}

// MultiPublisher publishes to each publisher in turn, returning the first
// error after all have been attempted.
type MultiPublisher []coordination.StreamPublisher

func (m MultiPublisher) PublishInteraction(ctx context.Context, it *coordination.Interaction) error {
	var first error
	for _, p := range m {
		if err := p.PublishInteraction(ctx, it); err != nil && first == nil {
			first = err
		}
	}
	return first
}
