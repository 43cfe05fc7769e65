package coordination

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jayusctrojan/Empire-sub002/internal/roster"
)

type capturePublisher struct {
	mu    sync.Mutex
	items []*Interaction
}

func (p *capturePublisher) PublishInteraction(_ context.Context, it *Interaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, it.Clone())
	return nil
}

func (p *capturePublisher) published() []*Interaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Interaction(nil), p.items...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc         *Service
	store       *InMemoryStore
	crews       *roster.StaticResolver
	pub         *capturePublisher
	clock       *fakeClock
	executionID uuid.UUID
	agents      []uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := newFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	store := NewInMemoryStore()
	store.SetClock(clock.Now)

	executionID := uuid.New()
	agents := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	crews := roster.NewStaticResolver()
	crews.SetCrew(executionID, roster.Crew{ID: uuid.New(), AgentIDs: agents})

	pub := &capturePublisher{}
	svc := NewService(store, crews,
		WithStream(pub),
		WithClock(clock.Now),
	)

	return &fixture{
		svc:         svc,
		store:       store,
		crews:       crews,
		pub:         pub,
		clock:       clock,
		executionID: executionID,
		agents:      agents,
	}
}
