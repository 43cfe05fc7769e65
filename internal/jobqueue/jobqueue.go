/*
Package jobqueue provides a River-based job queue for coordination upkeep.

Two jobs run here: conflict escalation retries, which finish a crew-wide
escalation fan-out that failed partway, and a periodic sweep that flags
messages whose response deadline passed without an answer.

For configuration and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/jayusctrojan/Empire-sub002/internal/coordination"
)

// EscalationJobArgs retries the crew fan-out for one conflict.
type EscalationJobArgs struct {
	ConflictID uuid.UUID `json:"conflict_id"`
}

// Kind returns the job kind for River
func (EscalationJobArgs) Kind() string { return "conflict_escalation" }

// EscalationWorker completes partial conflict escalations. The underlying
// fan-out skips agents that were already notified, so re-running a job that
// half succeeded is safe.
type EscalationWorker struct {
	river.WorkerDefaults[EscalationJobArgs]
	svc *coordination.Service
}

func (w *EscalationWorker) Work(ctx context.Context, job *river.Job[EscalationJobArgs]) error {
	if err := w.svc.EnsureEscalated(ctx, job.Args.ConflictID); err != nil {
		return fmt.Errorf("escalation retry for conflict %s: %w", job.Args.ConflictID, err)
	}
	log.Info().
		Str("conflict_id", job.Args.ConflictID.String()).
		Msg("Conflict escalation completed")
	return nil
}

// DeadlineSweepArgs carries no state; each run scans for overdue messages.
type DeadlineSweepArgs struct{}

// Kind returns the job kind for River
func (DeadlineSweepArgs) Kind() string { return "deadline_sweep" }

// DeadlineSweepWorker flags messages whose response deadline has passed.
type DeadlineSweepWorker struct {
	river.WorkerDefaults[DeadlineSweepArgs]
	svc *coordination.Service
}

func (w *DeadlineSweepWorker) Work(ctx context.Context, _ *river.Job[DeadlineSweepArgs]) error {
	flagged, err := w.svc.EscalateOverdueResponses(ctx)
	if err != nil {
		return fmt.Errorf("deadline sweep: %w", err)
	}
	if flagged > 0 {
		log.Info().Int("flagged", flagged).Msg("Deadline sweep flagged overdue responses")
	}
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	config *QueueConfig
}

// NewJobQueue creates a new job queue instance
func NewJobQueue(pool *pgxpool.Pool, svc *coordination.Service, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &EscalationWorker{svc: svc})
	river.AddWorker(workers, &DeadlineSweepWorker{svc: svc})

	periodic := []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(config.SweepInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return DeadlineSweepArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverConfig(config, workers, periodic))
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, config: config}, nil
}

// riverConfig translates our queue tuning into River's client config.
func riverConfig(config *QueueConfig, workers *river.Workers, periodic []*river.PeriodicJob) *river.Config {
	return &river.Config{
		Queues:       config.RiverQueueConfig(),
		Workers:      workers,
		PeriodicJobs: periodic,
		MaxAttempts:  config.MaxRetries,
	}
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// QueueEscalationRetry queues a retry of a conflict's crew fan-out.
func (jq *JobQueue) QueueEscalationRetry(ctx context.Context, conflictID uuid.UUID) error {
	_, err := jq.client.Insert(ctx, EscalationJobArgs{ConflictID: conflictID}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue escalation retry: %w", err)
	}
	return nil
}
