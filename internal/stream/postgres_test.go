package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bridgePayload(t *testing.T, origin string, executionID uuid.UUID) (string, uuid.UUID) {
	t.Helper()
	it := interactionFor(executionID)
	raw, err := json.Marshal(it)
	require.NoError(t, err)
	payload, err := json.Marshal(envelope{Origin: origin, Interaction: raw})
	require.NoError(t, err)
	return string(payload), it.ID
}

func TestListenerDeliversForeignNotifications(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	execID := uuid.New()
	sub := hub.Subscribe(ctx, execID)

	l := NewListener(nil, hub, "instance-a")
	payload, wantID := bridgePayload(t, "instance-b", execID)
	l.dispatch(ctx, payload)

	select {
	case got := <-sub:
		assert.Equal(t, wantID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber got nothing")
	}
}

func TestListenerSkipsOwnNotifications(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	execID := uuid.New()
	sub := hub.Subscribe(ctx, execID)

	// The hub already delivered this interaction locally when the service
	// published it; the bridge echo must not deliver it a second time.
	l := NewListener(nil, hub, "instance-a")
	payload, _ := bridgePayload(t, "instance-a", execID)
	l.dispatch(ctx, payload)

	select {
	case got := <-sub:
		t.Fatalf("subscriber got %s twice via the bridge", got.ID)
	default:
	}
}

func TestListenerDropsUndecodablePayloads(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	execID := uuid.New()
	sub := hub.Subscribe(ctx, execID)

	l := NewListener(nil, hub, "instance-a")
	l.dispatch(ctx, "not json")
	l.dispatch(ctx, `{"origin":"instance-b"}`)
	l.dispatch(ctx, `{"origin":"instance-b","interaction":"not an object"}`)

	select {
	case got := <-sub:
		t.Fatalf("subscriber got %s from garbage payloads", got.ID)
	default:
	}
}
