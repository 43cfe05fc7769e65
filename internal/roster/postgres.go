package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresResolver reads the executions and crews tables. agent_ids is an
// ARRAY column on crews.
type PostgresResolver struct {
	db *sql.DB
}

func NewPostgresResolver(db *sql.DB) *PostgresResolver { return &PostgresResolver{db: db} }

func (r *PostgresResolver) ResolveCrew(ctx context.Context, executionID uuid.UUID) (*Crew, error) {
	var crewID uuid.UUID
	err := r.db.QueryRowContext(ctx,
		`SELECT crew_id FROM executions WHERE id = $1`, executionID,
	).Scan(&crewID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolve execution %s: %w", executionID, err)
	}

	var raw []string
	err = r.db.QueryRowContext(ctx,
		`SELECT agent_ids FROM crews WHERE id = $1`, crewID,
	).Scan(pq.Array(&raw))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolve crew %s: %w", crewID, err)
	}

	agents := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("crew %s has malformed agent id %q: %w", crewID, s, err)
		}
		agents = append(agents, id)
	}
	return &Crew{ID: crewID, AgentIDs: agents}, nil
}
