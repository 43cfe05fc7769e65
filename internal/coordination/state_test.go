package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) sync(t *testing.T, agent uuid.UUID, key string, version int, value map[string]any) *Interaction {
	t.Helper()
	it, err := f.svc.Sync(context.Background(), StateSyncInput{
		ExecutionID: f.executionID,
		FromAgentID: agent,
		Key:         key,
		Value:       value,
		Version:     version,
	})
	require.NoError(t, err)
	return it
}

func TestSyncAcceptsIncreasingVersions(t *testing.T) {
	f := newFixture(t)

	f.sync(t, f.agents[0], "progress", 1, map[string]any{"step": 1})
	f.clock.Advance(time.Second)
	f.sync(t, f.agents[1], "progress", 2, map[string]any{"step": 2})
	f.clock.Advance(time.Second)
	// Versions may skip; only monotonicity matters.
	f.sync(t, f.agents[0], "progress", 7, map[string]any{"step": 7})

	current, err := f.svc.GetCurrent(context.Background(), f.executionID, "progress")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, 7, current.StateSync.Version)
	assert.Equal(t, map[string]any{"step": 7}, current.StateSync.Value)
}

func TestSyncKeysAreIndependent(t *testing.T) {
	f := newFixture(t)

	f.sync(t, f.agents[0], "alpha", 1, map[string]any{"v": "a"})
	f.sync(t, f.agents[1], "beta", 1, map[string]any{"v": "b"})

	alpha, err := f.svc.GetCurrent(context.Background(), f.executionID, "alpha")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": "a"}, alpha.StateSync.Value)
}

func TestSyncRejectsStaleVersionAndRecordsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sync(t, f.agents[0], "progress", 3, map[string]any{"step": 3})

	_, err := f.svc.Sync(ctx, StateSyncInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[1],
		Key:         "progress",
		Value:       map[string]any{"step": 99},
		Version:     3,
	})
	var vc *VersionConflictError
	require.ErrorAs(t, err, &vc)
	assert.Equal(t, "progress", vc.Key)
	assert.Equal(t, 3, vc.Attempted)
	assert.Equal(t, 3, vc.Latest)

	conflict, err := f.store.GetByID(ctx, vc.ConflictID)
	require.NoError(t, err)
	require.NotNil(t, conflict.Conflict)
	assert.Equal(t, ConflictConcurrentUpdate, conflict.Conflict.Type)
	assert.True(t, conflict.Conflict.Detected)
	assert.False(t, conflict.Conflict.Resolved)
	assert.Equal(t, "progress", conflict.Conflict.Data["state_key"])
	assert.Equal(t, 3, conflict.Conflict.Data["expected_version"])
	assert.Equal(t, 3, conflict.Conflict.Data["actual_version"])
	assert.Equal(t, map[string]any{"step": 99}, conflict.Conflict.Data["attempted_value"])
	assert.Equal(t, map[string]any{"step": 3}, conflict.Conflict.Data["current_value"])

	// The rejected write must not have changed current state.
	current, err := f.svc.GetCurrent(ctx, f.executionID, "progress")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"step": 3}, current.StateSync.Value)
}

// raceStore hides the latest state from the advisory read so the write is
// only rejected by the store's uniqueness constraint, the same shape as two
// writers racing between check and insert.
type raceStore struct {
	Store
	hide int
}

func (s *raceStore) LatestState(ctx context.Context, executionID uuid.UUID, key string) (*Interaction, error) {
	if s.hide > 0 {
		s.hide--
		return nil, ErrNotFound
	}
	return s.Store.LatestState(ctx, executionID, key)
}

func TestSyncRaceLosesAtInsertTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sync(t, f.agents[0], "progress", 1, map[string]any{"step": 1})

	racing := NewService(&raceStore{Store: f.store, hide: 1}, f.crews, WithClock(f.clock.Now))
	_, err := racing.Sync(ctx, StateSyncInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[1],
		Key:         "progress",
		Value:       map[string]any{"step": 2},
		Version:     1,
	})
	var vc *VersionConflictError
	require.ErrorAs(t, err, &vc)
	assert.Equal(t, 1, vc.Latest)

	conflict, err := f.store.GetByID(ctx, vc.ConflictID)
	require.NoError(t, err)
	assert.Equal(t, ConflictConcurrentUpdate, conflict.Conflict.Type)
}

func TestSyncValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Sync(ctx, StateSyncInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		Version:     1,
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "state_key", ve.Field)

	_, err = f.svc.Sync(ctx, StateSyncInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		Key:         "progress",
		Version:     0,
	})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "state_version", ve.Field)
}

func TestGetCurrentReturnsNilWhenNeverSynced(t *testing.T) {
	f := newFixture(t)

	current, err := f.svc.GetCurrent(context.Background(), f.executionID, "missing")
	require.NoError(t, err)
	assert.Nil(t, current)
}
