package coordination

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a threadsafe in-memory store for tests and single-process
// use. It enforces the same state-version uniqueness rule as the Postgres
// store.
type InMemoryStore struct {
	mu       sync.RWMutex
	rows     []*Interaction
	byID     map[uuid.UUID]*Interaction
	versions map[string]struct{}
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:     make(map[uuid.UUID]*Interaction),
		versions: make(map[string]struct{}),
		now:      time.Now,
	}
}

// SetClock overrides the timestamp source; tests only.
func (s *InMemoryStore) SetClock(now func() time.Time) { s.now = now }

func versionKey(executionID uuid.UUID, key string, version int) string {
	return fmt.Sprintf("%s|%s|%d", executionID, key, version)
}

func (s *InMemoryStore) Insert(ctx context.Context, it *Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it.Type == TypeStateSync && it.StateSync != nil {
		vk := versionKey(it.ExecutionID, it.StateSync.Key, it.StateSync.Version)
		if _, taken := s.versions[vk]; taken {
			return ErrVersionExists
		}
		s.versions[vk] = struct{}{}
	}
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = s.now()
	}
	row := it.Clone()
	s.rows = append(s.rows, row)
	s.byID[row.ID] = row
	return nil
}

func (s *InMemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return row.Clone(), nil
}

func (s *InMemoryStore) SetResponse(ctx context.Context, id uuid.UUID, response string) (*Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok || row.Type != TypeMessage || row.Message == nil {
		return nil, ErrNotFound
	}
	if row.Message.Response != nil {
		return nil, ErrAlreadyResponded
	}
	r := response
	row.Message.Response = &r
	return row.Clone(), nil
}

func (s *InMemoryStore) MarkConflictResolved(ctx context.Context, id uuid.UUID, strategy ResolutionStrategy, data map[string]any, at time.Time) (*Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok || row.Type != TypeConflict || row.Conflict == nil {
		return nil, ErrNotFound
	}
	st := strategy
	resolvedAt := at
	row.Conflict.Resolved = true
	row.Conflict.Strategy = &st
	if data != nil {
		row.Conflict.Data = cloneMap(data)
	}
	row.Conflict.ResolvedAt = &resolvedAt
	return row.Clone(), nil
}

func (s *InMemoryStore) LatestState(ctx context.Context, executionID uuid.UUID, key string) (*Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *Interaction
	for _, row := range s.rows {
		if row.ExecutionID != executionID || row.Type != TypeStateSync || row.StateSync == nil {
			continue
		}
		if row.StateSync.Key != key {
			continue
		}
		if latest == nil || row.StateSync.Version > latest.StateSync.Version {
			latest = row
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, executionID uuid.UUID, types []EventType, since *time.Time) ([]*Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[EventType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	out := make([]*Interaction, 0)
	for _, row := range s.rows {
		if row.ExecutionID != executionID || row.Type != TypeEvent || row.Event == nil {
			continue
		}
		if len(wanted) > 0 && !wanted[row.Event.Type] {
			continue
		}
		if since != nil && !row.CreatedAt.After(*since) {
			continue
		}
		out = append(out, row.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListUnresolvedConflicts(ctx context.Context, executionID uuid.UUID) ([]*Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Interaction, 0)
	for _, row := range s.rows {
		if row.ExecutionID != executionID || row.Type != TypeConflict || row.Conflict == nil {
			continue
		}
		if row.Conflict.Resolved {
			continue
		}
		out = append(out, row.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) ListPendingResponses(ctx context.Context, executionID uuid.UUID) ([]*Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Interaction, 0)
	for _, row := range s.rows {
		if row.ExecutionID != executionID || row.Type != TypeMessage || row.Message == nil {
			continue
		}
		if !row.Message.RequiresResponse || row.Message.Response != nil {
			continue
		}
		out = append(out, row.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListHistory(ctx context.Context, executionID uuid.UUID, f HistoryFilter, limit, offset int) ([]*Interaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*Interaction, 0)
	for _, row := range s.rows {
		if row.ExecutionID != executionID {
			continue
		}
		if f.Type != nil && row.Type != *f.Type {
			continue
		}
		if f.AgentID != nil {
			involved := row.FromAgentID == *f.AgentID ||
				(row.ToAgentID != nil && *row.ToAgentID == *f.AgentID)
			if !involved {
				continue
			}
		}
		if f.Start != nil && row.CreatedAt.Before(*f.Start) {
			continue
		}
		if f.End != nil && row.CreatedAt.After(*f.End) {
			continue
		}
		matched = append(matched, row)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	if offset >= total {
		return []*Interaction{}, total, nil
	}
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = DefaultHistoryLimit
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*Interaction, 0, end-offset)
	for _, row := range matched[offset:end] {
		out = append(out, row.Clone())
	}
	return out, total, nil
}

func (s *InMemoryStore) ListByExecution(ctx context.Context, executionID uuid.UUID, since *time.Time) ([]*Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Interaction, 0)
	for _, row := range s.rows {
		if row.ExecutionID != executionID {
			continue
		}
		if since != nil && !row.CreatedAt.After(*since) {
			continue
		}
		out = append(out, row.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListOverduePending(ctx context.Context, now time.Time) ([]*Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Interaction, 0)
	for _, row := range s.rows {
		if row.Type != TypeMessage || row.Message == nil {
			continue
		}
		m := row.Message
		if !m.RequiresResponse || m.Response != nil || m.ResponseDeadline == nil {
			continue
		}
		if now.After(*m.ResponseDeadline) {
			out = append(out, row.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
