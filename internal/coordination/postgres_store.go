package coordination

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore persists interactions as one wide row per interaction in the
// agent_interactions table. The partial unique index on
// (execution_id, state_key, state_version) is what turns a state-sync race
// into ErrVersionExists instead of a silent double-accept.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const interactionColumns = `
	id, execution_id, from_agent_id, to_agent_id, interaction_type,
	message, response, requires_response, response_deadline,
	event_type, event_data, summary,
	state_key, state_value, state_version, previous_state,
	conflict_detected, conflict_type, conflict_resolved,
	resolution_strategy, resolution_data, resolved_at,
	priority, metadata, created_at`

func (s *PostgresStore) Insert(ctx context.Context, it *Interaction) error {
	var message, response, eventType, summary any
	var stateKey, conflictType, resolutionStrategy any
	var requiresResponse, conflictDetected, resolved bool
	var responseDeadline, resolvedAt, stateVersion any
	var eventData, stateValue, previousState, resoData []byte
	var err error

	switch it.Type {
	case TypeMessage:
		m := it.Message
		message = m.Text
		if m.Response != nil {
			response = *m.Response
		}
		requiresResponse = m.RequiresResponse
		if m.ResponseDeadline != nil {
			responseDeadline = *m.ResponseDeadline
		}
	case TypeEvent:
		e := it.Event
		eventType = string(e.Type)
		if e.Summary != "" {
			summary = e.Summary
		}
		if eventData, err = marshalMap(e.Data); err != nil {
			return err
		}
	case TypeStateSync:
		st := it.StateSync
		stateKey = st.Key
		stateVersion = st.Version
		if stateValue, err = marshalMap(st.Value); err != nil {
			return err
		}
		if previousState, err = marshalMap(st.Previous); err != nil {
			return err
		}
	case TypeConflict:
		c := it.Conflict
		conflictDetected = c.Detected
		conflictType = string(c.Type)
		resolved = c.Resolved
		if c.Strategy != nil {
			resolutionStrategy = string(*c.Strategy)
		}
		if c.ResolvedAt != nil {
			resolvedAt = *c.ResolvedAt
		}
		if c.Summary != "" {
			summary = c.Summary
		}
		if resoData, err = marshalMap(c.Data); err != nil {
			return err
		}
	default:
		return fmt.Errorf("insert: unknown interaction type %q", it.Type)
	}

	metadata, err := marshalMap(it.Metadata)
	if err != nil {
		return err
	}

	var id uuid.UUID
	var createdAt time.Time
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO agent_interactions (
			execution_id, from_agent_id, to_agent_id, interaction_type,
			message, response, requires_response, response_deadline,
			event_type, event_data, summary,
			state_key, state_value, state_version, previous_state,
			conflict_detected, conflict_type, conflict_resolved,
			resolution_strategy, resolution_data, resolved_at,
			priority, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING id, created_at
	`,
		it.ExecutionID, it.FromAgentID, nullUUID(it.ToAgentID), string(it.Type),
		message, response, requiresResponse, responseDeadline,
		eventType, nullBytes(eventData), summary,
		stateKey, nullBytes(stateValue), stateVersion, nullBytes(previousState),
		conflictDetected, conflictType, resolved,
		resolutionStrategy, nullBytes(resoData), resolvedAt,
		it.Priority, nullBytes(metadata),
	).Scan(&id, &createdAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrVersionExists
		}
		return fmt.Errorf("insert interaction: %w", err)
	}
	it.ID = id
	it.CreatedAt = createdAt
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Interaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+interactionColumns+`
		FROM agent_interactions WHERE id = $1
	`, id)
	return scanInteraction(row)
}

func (s *PostgresStore) SetResponse(ctx context.Context, id uuid.UUID, response string) (*Interaction, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE agent_interactions SET response = $1
		WHERE id = $2 AND interaction_type = 'message' AND response IS NULL
		RETURNING `+interactionColumns+`
	`, response, id)
	it, err := scanInteraction(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing row from one that lost the write race.
		existing, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Type == TypeMessage && existing.Message != nil && existing.Message.Response != nil {
			return nil, ErrAlreadyResponded
		}
		return nil, ErrNotFound
	}
	return it, err
}

func (s *PostgresStore) MarkConflictResolved(ctx context.Context, id uuid.UUID, strategy ResolutionStrategy, data map[string]any, at time.Time) (*Interaction, error) {
	resoData, err := marshalMap(data)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE agent_interactions
		SET conflict_resolved = TRUE,
		    resolution_strategy = $1,
		    resolution_data = COALESCE($2, resolution_data),
		    resolved_at = $3
		WHERE id = $4 AND interaction_type = 'conflict'
		RETURNING `+interactionColumns+`
	`, string(strategy), nullBytes(resoData), at, id)
	return scanInteraction(row)
}

func (s *PostgresStore) LatestState(ctx context.Context, executionID uuid.UUID, key string) (*Interaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+interactionColumns+`
		FROM agent_interactions
		WHERE execution_id = $1 AND interaction_type = 'state_sync' AND state_key = $2
		ORDER BY state_version DESC
		LIMIT 1
	`, executionID, key)
	return scanInteraction(row)
}

func (s *PostgresStore) ListEvents(ctx context.Context, executionID uuid.UUID, types []EventType, since *time.Time) ([]*Interaction, error) {
	query := `
		SELECT ` + interactionColumns + `
		FROM agent_interactions
		WHERE execution_id = $1 AND interaction_type = 'event'`
	args := []any{executionID}
	if len(types) > 0 {
		names := make([]string, 0, len(types))
		for _, t := range types {
			names = append(names, string(t))
		}
		args = append(args, pq.Array(names))
		query += fmt.Sprintf(" AND event_type = ANY($%d)", len(args))
	}
	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(" AND created_at > $%d", len(args))
	}
	query += " ORDER BY created_at ASC"
	return s.queryInteractions(ctx, query, args...)
}

func (s *PostgresStore) ListUnresolvedConflicts(ctx context.Context, executionID uuid.UUID) ([]*Interaction, error) {
	return s.queryInteractions(ctx, `
		SELECT `+interactionColumns+`
		FROM agent_interactions
		WHERE execution_id = $1 AND conflict_detected = TRUE AND conflict_resolved = FALSE
		ORDER BY priority DESC, created_at ASC
	`, executionID)
}

func (s *PostgresStore) ListPendingResponses(ctx context.Context, executionID uuid.UUID) ([]*Interaction, error) {
	return s.queryInteractions(ctx, `
		SELECT `+interactionColumns+`
		FROM agent_interactions
		WHERE execution_id = $1 AND interaction_type = 'message'
		  AND requires_response = TRUE AND response IS NULL
		ORDER BY created_at ASC
	`, executionID)
}

func (s *PostgresStore) ListHistory(ctx context.Context, executionID uuid.UUID, f HistoryFilter, limit, offset int) ([]*Interaction, int, error) {
	where := "WHERE execution_id = $1"
	args := []any{executionID}
	if f.Type != nil {
		args = append(args, string(*f.Type))
		where += fmt.Sprintf(" AND interaction_type = $%d", len(args))
	}
	if f.AgentID != nil {
		args = append(args, *f.AgentID)
		where += fmt.Sprintf(" AND (from_agent_id = $%d OR to_agent_id = $%d)", len(args), len(args))
	}
	if f.Start != nil {
		args = append(args, *f.Start)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if f.End != nil {
		args = append(args, *f.End)
		where += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agent_interactions "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	if limit <= 0 || limit > MaxHistoryLimit {
		limit = DefaultHistoryLimit
	}
	args = append(args, limit)
	limitClause := fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, offset)
	limitClause += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.queryInteractions(ctx, `
		SELECT `+interactionColumns+`
		FROM agent_interactions `+where+`
		ORDER BY created_at DESC`+limitClause, args...)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (s *PostgresStore) ListByExecution(ctx context.Context, executionID uuid.UUID, since *time.Time) ([]*Interaction, error) {
	query := `
		SELECT ` + interactionColumns + `
		FROM agent_interactions
		WHERE execution_id = $1`
	args := []any{executionID}
	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(" AND created_at > $%d", len(args))
	}
	query += " ORDER BY created_at ASC"
	return s.queryInteractions(ctx, query, args...)
}

func (s *PostgresStore) ListOverduePending(ctx context.Context, now time.Time) ([]*Interaction, error) {
	return s.queryInteractions(ctx, `
		SELECT `+interactionColumns+`
		FROM agent_interactions
		WHERE interaction_type = 'message'
		  AND requires_response = TRUE AND response IS NULL
		  AND response_deadline IS NOT NULL AND response_deadline < $1
		ORDER BY created_at ASC
	`, now)
}

func (s *PostgresStore) queryInteractions(ctx context.Context, query string, args ...any) ([]*Interaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()
	// Non-nil so JSON encodes as [] instead of null
	out := make([]*Interaction, 0)
	for rows.Next() {
		it, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanInteraction(scanner interface{ Scan(dest ...any) error }) (*Interaction, error) {
	var it Interaction
	var toAgent uuid.NullUUID
	var itype string
	var message, response sql.NullString
	var requiresResponse bool
	var responseDeadline, resolvedAt sql.NullTime
	var eventType, summary sql.NullString
	var eventData, stateValue, previousState []byte
	var stateKey sql.NullString
	var stateVersion sql.NullInt64
	var conflictDetected, conflictResolved bool
	var conflictType, resolutionStrategy sql.NullString
	var resolutionData, metadata []byte
	err := scanner.Scan(
		&it.ID, &it.ExecutionID, &it.FromAgentID, &toAgent, &itype,
		&message, &response, &requiresResponse, &responseDeadline,
		&eventType, &eventData, &summary,
		&stateKey, &stateValue, &stateVersion, &previousState,
		&conflictDetected, &conflictType, &conflictResolved,
		&resolutionStrategy, &resolutionData, &resolvedAt,
		&it.Priority, &metadata, &it.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan interaction: %w", err)
	}
	if toAgent.Valid {
		v := toAgent.UUID
		it.ToAgentID = &v
	}
	it.Type = InteractionType(itype)
	if it.Metadata, err = unmarshalMap(metadata); err != nil {
		return nil, err
	}

	switch it.Type {
	case TypeMessage:
		m := &MessageBody{Text: message.String, RequiresResponse: requiresResponse}
		if response.Valid {
			r := response.String
			m.Response = &r
		}
		if responseDeadline.Valid {
			d := responseDeadline.Time
			m.ResponseDeadline = &d
		}
		it.Message = m
	case TypeEvent:
		e := &EventBody{Type: EventType(eventType.String), Summary: summary.String}
		if e.Data, err = unmarshalMap(eventData); err != nil {
			return nil, err
		}
		it.Event = e
	case TypeStateSync:
		st := &StateSyncBody{Key: stateKey.String, Version: int(stateVersion.Int64)}
		if st.Value, err = unmarshalMap(stateValue); err != nil {
			return nil, err
		}
		if st.Previous, err = unmarshalMap(previousState); err != nil {
			return nil, err
		}
		it.StateSync = st
	case TypeConflict:
		c := &ConflictBody{
			Type:     ConflictType(conflictType.String),
			Detected: conflictDetected,
			Resolved: conflictResolved,
			Summary:  summary.String,
		}
		if resolutionStrategy.Valid {
			st := ResolutionStrategy(resolutionStrategy.String)
			c.Strategy = &st
		}
		if resolvedAt.Valid {
			at := resolvedAt.Time
			c.ResolvedAt = &at
		}
		if c.Data, err = unmarshalMap(resolutionData); err != nil {
			return nil, err
		}
		it.Conflict = c
	}
	return &it, nil
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return b, nil
}

func unmarshalMap(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal json column: %w", err)
	}
	return m, nil
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
