package coordination

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jayusctrojan/Empire-sub002/internal/roster"
)

// StreamPublisher receives every interaction written or mutated by the
// service. Delivery is best-effort: a publish failure never fails the
// originating write.
type StreamPublisher interface {
	PublishInteraction(ctx context.Context, it *Interaction) error
}

// EscalationQueuer schedules a background retry of a conflict's crew
// fan-out. Satisfied by the job queue.
type EscalationQueuer interface {
	QueueEscalationRetry(ctx context.Context, conflictID uuid.UUID) error
}

// DefaultUrgencyWindow is how close to its deadline a pending response has to
// be before it counts as urgent.
const DefaultUrgencyWindow = 5 * time.Minute

// Service implements the coordination operations over a Store, a crew
// Resolver, and an optional StreamPublisher. It holds no mutable state of its
// own; the store is the only shared resource.
type Service struct {
	store         Store
	crews         roster.Resolver
	stream        StreamPublisher
	escalations   EscalationQueuer
	urgencyWindow time.Duration
	now           func() time.Time
}

type Option func(*Service)

// WithStream attaches a live fan-out publisher.
func WithStream(p StreamPublisher) Option {
	return func(s *Service) { s.stream = p }
}

// WithUrgencyWindow overrides the urgent-response classification window.
func WithUrgencyWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.urgencyWindow = d
		}
	}
}

// WithClock overrides the timestamp source; tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// SetEscalationQueue attaches the background retry queue for partial
// escalation fan-outs. The queue needs the service to run its workers, so it
// is attached after construction rather than as an option.
func (s *Service) SetEscalationQueue(q EscalationQueuer) {
	s.escalations = q
}

func NewService(store Store, crews roster.Resolver, opts ...Option) *Service {
	s := &Service{
		store:         store,
		crews:         crews,
		urgencyWindow: DefaultUrgencyWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// publish fans the interaction out to the live stream. Errors are logged and
// swallowed so a stream outage cannot fail the write that triggered it.
func (s *Service) publish(ctx context.Context, it *Interaction) {
	if s.stream == nil || it == nil {
		return
	}
	if err := s.stream.PublishInteraction(ctx, it); err != nil {
		log.Warn().Err(err).
			Str("interaction_id", it.ID.String()).
			Str("execution_id", it.ExecutionID.String()).
			Msg("Live fan-out publish failed")
	}
}

// queueEscalationRetry hands an interrupted fan-out to the job queue. Failing
// to enqueue is logged and swallowed; the caller already carries the fan-out
// error and Resolve stays retryable by hand.
func (s *Service) queueEscalationRetry(ctx context.Context, conflictID uuid.UUID) {
	if s.escalations == nil {
		return
	}
	if err := s.escalations.QueueEscalationRetry(ctx, conflictID); err != nil {
		log.Warn().Err(err).
			Str("conflict_id", conflictID.String()).
			Msg("Failed to queue escalation retry")
		return
	}
	log.Info().
		Str("conflict_id", conflictID.String()).
		Msg("Queued escalation retry")
}

func validatePriority(p int) error {
	if p < PriorityMin || p > PriorityMax {
		return &ValidationError{Field: "priority", Reason: "must be between -10 and 10"}
	}
	return nil
}
