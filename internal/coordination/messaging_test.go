package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jayusctrojan/Empire-sub002/internal/roster"
)

func TestSendDirectRequiresRecipient(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SendDirect(context.Background(), DirectMessageInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		Text:        "hello",
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "to_agent_id", ve.Field)
}

func TestSendDirectWritesAndPublishes(t *testing.T) {
	f := newFixture(t)
	deadline := f.clock.Now().Add(30 * time.Minute)

	it, err := f.svc.SendDirect(context.Background(), DirectMessageInput{
		ExecutionID:      f.executionID,
		FromAgentID:      f.agents[0],
		ToAgentID:        f.agents[1],
		Text:             "review the draft",
		Priority:         3,
		RequiresResponse: true,
		ResponseDeadline: &deadline,
	})
	require.NoError(t, err)
	require.NotNil(t, it.Message)
	assert.Equal(t, TypeMessage, it.Type)
	assert.Equal(t, f.agents[1], *it.ToAgentID)
	assert.True(t, it.Message.RequiresResponse)
	assert.Nil(t, it.Message.Response)
	assert.False(t, it.IsBroadcast())

	stored, err := f.store.GetByID(context.Background(), it.ID)
	require.NoError(t, err)
	assert.Equal(t, "review the draft", stored.Message.Text)

	published := f.pub.published()
	require.Len(t, published, 1)
	assert.Equal(t, it.ID, published[0].ID)
}

func TestSendDirectRejectsOutOfRangePriority(t *testing.T) {
	f := newFixture(t)

	for _, priority := range []int{-11, 11} {
		_, err := f.svc.SendDirect(context.Background(), DirectMessageInput{
			ExecutionID: f.executionID,
			FromAgentID: f.agents[0],
			ToAgentID:   f.agents[1],
			Text:        "x",
			Priority:    priority,
		})
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "priority", ve.Field)
	}
}

func TestBroadcastStampsCrewSize(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Broadcast(context.Background(), BroadcastInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		Text:        "standup in five",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalAgents)

	it := result.Interaction
	assert.True(t, it.IsBroadcast())
	assert.Equal(t, true, it.Metadata["broadcast"])
	assert.Equal(t, 3, it.Metadata["total_agents"])
}

func TestBroadcastSizeIsFixedAtSendTime(t *testing.T) {
	f := newFixture(t)

	before, err := f.svc.Broadcast(context.Background(), BroadcastInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		Text:        "first",
	})
	require.NoError(t, err)

	f.crews.SetCrew(f.executionID, crewOf(f, f.agents[0], f.agents[1]))

	after, err := f.svc.Broadcast(context.Background(), BroadcastInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		Text:        "second",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, before.TotalAgents)
	assert.Equal(t, 2, after.TotalAgents)

	stored, err := f.store.GetByID(context.Background(), before.Interaction.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Metadata["total_agents"])
}

func TestBroadcastFailsWithoutCrew(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Broadcast(context.Background(), BroadcastInput{
		ExecutionID: uuid.New(),
		FromAgentID: f.agents[0],
		Text:        "nobody home",
	})
	require.Error(t, err)
}

func TestRespondSetsResponseOnce(t *testing.T) {
	f := newFixture(t)

	msg, err := f.svc.SendDirect(context.Background(), DirectMessageInput{
		ExecutionID:      f.executionID,
		FromAgentID:      f.agents[0],
		ToAgentID:        f.agents[1],
		Text:             "status?",
		RequiresResponse: true,
	})
	require.NoError(t, err)

	answered, err := f.svc.Respond(context.Background(), msg.ID, f.agents[1], "done")
	require.NoError(t, err)
	require.NotNil(t, answered.Message.Response)
	assert.Equal(t, "done", *answered.Message.Response)

	_, err = f.svc.Respond(context.Background(), msg.ID, f.agents[2], "me too")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

// staleReadStore serves message reads without their response, so a caller's
// read-check passes even after a response landed.
type staleReadStore struct {
	Store
}

func (s *staleReadStore) GetByID(ctx context.Context, id uuid.UUID) (*Interaction, error) {
	it, err := s.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if it.Message != nil {
		it.Message.Response = nil
	}
	return it, nil
}

func TestRespondRaceRejectedByStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.SendDirect(ctx, DirectMessageInput{
		ExecutionID:      f.executionID,
		FromAgentID:      f.agents[0],
		ToAgentID:        f.agents[1],
		Text:             "status?",
		RequiresResponse: true,
	})
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, msg.ID, f.agents[1], "first")
	require.NoError(t, err)

	// The racing writer read the row before the first response landed; the
	// store, not the read-check, has to reject the second write.
	racing := NewService(&staleReadStore{Store: f.store}, f.crews, WithClock(f.clock.Now))
	_, err = racing.Respond(ctx, msg.ID, f.agents[2], "second")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "interaction_id", ve.Field)

	row, err := f.store.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, row.Message.Response)
	assert.Equal(t, "first", *row.Message.Response)
}

func TestSetResponseRefusesSecondWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.SendDirect(ctx, DirectMessageInput{
		ExecutionID: f.executionID,
		FromAgentID: f.agents[0],
		ToAgentID:   f.agents[1],
		Text:        "ping",
	})
	require.NoError(t, err)

	_, err = f.store.SetResponse(ctx, msg.ID, "pong")
	require.NoError(t, err)

	_, err = f.store.SetResponse(ctx, msg.ID, "pong again")
	require.ErrorIs(t, err, ErrAlreadyResponded)
}

func TestRespondRejectsSelfResponse(t *testing.T) {
	f := newFixture(t)

	msg, err := f.svc.SendDirect(context.Background(), DirectMessageInput{
		ExecutionID:      f.executionID,
		FromAgentID:      f.agents[0],
		ToAgentID:        f.agents[1],
		Text:             "ping",
		RequiresResponse: true,
	})
	require.NoError(t, err)

	_, err = f.svc.Respond(context.Background(), msg.ID, f.agents[0], "pong")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "responder_agent_id", ve.Field)
}

func TestRespondUnknownMessage(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Respond(context.Background(), uuid.New(), f.agents[0], "hi")
	require.ErrorIs(t, err, ErrNotFound)
}

func crewOf(_ *fixture, agents ...uuid.UUID) roster.Crew {
	return roster.Crew{ID: uuid.New(), AgentIDs: agents}
}
