// Package roster resolves the crew assigned to a workflow execution. The
// coordination core only reads the roster; crews and agents are managed
// elsewhere.
package roster

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("execution or crew not found")

type Crew struct {
	ID       uuid.UUID   `json:"crew_id"`
	AgentIDs []uuid.UUID `json:"agent_ids"`
}

type Resolver interface {
	ResolveCrew(ctx context.Context, executionID uuid.UUID) (*Crew, error)
}

// StaticResolver maps execution ids to fixed crews; tests and tooling.
type StaticResolver struct {
	mu    sync.RWMutex
	crews map[uuid.UUID]*Crew
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{crews: make(map[uuid.UUID]*Crew)}
}

func (r *StaticResolver) SetCrew(executionID uuid.UUID, crew Crew) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := crew
	cp.AgentIDs = append([]uuid.UUID(nil), crew.AgentIDs...)
	r.crews[executionID] = &cp
}

func (r *StaticResolver) ResolveCrew(ctx context.Context, executionID uuid.UUID) (*Crew, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	crew, ok := r.crews[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *crew
	cp.AgentIDs = append([]uuid.UUID(nil), crew.AgentIDs...)
	return &cp, nil
}
