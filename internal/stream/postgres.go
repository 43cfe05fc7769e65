package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/jayusctrojan/Empire-sub002/internal/coordination"
)

// bridgeChannel carries every interaction once, so a single LISTEN can feed
// an in-process hub on another instance.
const bridgeChannel = "agent_interactions_bridge"

// Postgres NOTIFY rejects payloads at or above 8000 bytes.
const maxNotifyPayload = 7999

// envelope wraps a bridge-channel payload with the publishing instance's id.
// The per-execution channels carry the bare interaction; only the bridge
// needs the origin, so a listener can skip notifications its own instance
// sent and not deliver them to local subscribers twice.
type envelope struct {
	Origin      string          `json:"origin"`
	Interaction json.RawMessage `json:"interaction"`
}

// NotifyPublisher publishes interactions over Postgres NOTIFY, once on the
// per-execution channel and once on the shared bridge channel.
type NotifyPublisher struct {
	pool   *pgxpool.Pool
	origin string
}

func NewNotifyPublisher(pool *pgxpool.Pool) *NotifyPublisher {
	return &NotifyPublisher{pool: pool, origin: uuid.NewString()}
}

// Origin identifies this publisher's instance in bridge payloads. Hand it to
// the Listener that shares a hub with this publisher.
func (p *NotifyPublisher) Origin() string { return p.origin }

func (p *NotifyPublisher) PublishInteraction(ctx context.Context, it *coordination.Interaction) error {
	payload, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("encode interaction %s: %w", it.ID, err)
	}
	bridged, err := json.Marshal(envelope{Origin: p.origin, Interaction: payload})
	if err != nil {
		return fmt.Errorf("encode bridge envelope for %s: %w", it.ID, err)
	}
	if len(bridged) > maxNotifyPayload {
		log.Warn().
			Str("interaction_id", it.ID.String()).
			Int("bytes", len(bridged)).
			Msg("Interaction too large for NOTIFY, skipping publication")
		return nil
	}
	if _, err := p.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, ChannelName(it.ExecutionID), string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", ChannelName(it.ExecutionID), err)
	}
	if _, err := p.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, bridgeChannel, string(bridged)); err != nil {
		return fmt.Errorf("notify %s: %w", bridgeChannel, err)
	}
	return nil
}

// Listener bridges the shared NOTIFY channel into a Hub, so subscribers on
// this instance see interactions written by any instance. Notifications
// stamped with skipOrigin are dropped; our own publisher already delivered
// those to the hub directly.
type Listener struct {
	pool       *pgxpool.Pool
	hub        *Hub
	skipOrigin string
}

func NewListener(pool *pgxpool.Pool, hub *Hub, skipOrigin string) *Listener {
	return &Listener{pool: pool, hub: hub, skipOrigin: skipOrigin}
}

// Run listens until ctx is canceled. Decode failures are logged and skipped;
// a broken connection ends the loop with an error so the caller can restart.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+bridgeChannel); err != nil {
		return fmt.Errorf("listen %s: %w", bridgeChannel, err)
	}
	log.Info().Str("channel", bridgeChannel).Msg("Interaction bridge listening")

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		l.dispatch(ctx, notification.Payload)
	}
}

// dispatch decodes one bridge payload and feeds it to the hub unless it came
// from this instance's own publisher.
func (l *Listener) dispatch(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil || len(env.Interaction) == 0 {
		log.Warn().Err(err).Msg("Dropping undecodable interaction notification")
		return
	}
	if l.skipOrigin != "" && env.Origin == l.skipOrigin {
		return
	}
	var it coordination.Interaction
	if err := json.Unmarshal(env.Interaction, &it); err != nil {
		log.Warn().Err(err).Msg("Dropping undecodable interaction notification")
		return
	}
	if err := l.hub.PublishInteraction(ctx, &it); err != nil {
		log.Warn().Err(err).Msg("Hub publish from bridge failed")
	}
}
