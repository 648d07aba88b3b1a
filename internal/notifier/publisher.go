package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/tasklane/be-workflows/internal/repository"
)

// conn is the slice of the NATS connection the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher emits workflow change events to NATS after the corresponding
// write is durable.
//
// Publish failures are logged and never propagated to the caller, so a
// notification outage never interrupts a workflow operation; the read model
// refreshes from the source of truth on the next query.
type Publisher struct {
	nc  conn
	log zerolog.Logger
}

// NewPublisher creates a publisher backed by the given NATS connection.
func NewPublisher(nc conn, log zerolog.Logger) *Publisher {
	return &Publisher{nc: nc, log: log}
}

// AssignmentCreated publishes a materialization event.
func (p *Publisher) AssignmentCreated(ctx context.Context, a *repository.Assignment) {
	p.publish(SubjectAssignmentCreated, &ChangeEvent{
		Type:       EventAssignmentCreated,
		Assignment: assignmentPayload(a),
		OccurredAt: time.Now().UTC(),
	})
}

// AssignmentStatusChanged publishes a status transition event.
func (p *Publisher) AssignmentStatusChanged(ctx context.Context, a *repository.Assignment) {
	p.publish(SubjectAssignmentStatus, &ChangeEvent{
		Type:       EventAssignmentStatusChanged,
		Assignment: assignmentPayload(a),
		OccurredAt: time.Now().UTC(),
	})
}

// InstanceCompleted publishes an instance completion event.
func (p *Publisher) InstanceCompleted(ctx context.Context, inst *repository.WorkflowInstance) {
	p.publish(SubjectInstanceCompleted, &ChangeEvent{
		Type:       EventInstanceCompleted,
		Instance:   instancePayload(inst),
		OccurredAt: time.Now().UTC(),
	})
}

func (p *Publisher) publish(subject string, event *ChangeEvent) {
	if p.nc == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("notifier: failed to marshal change event")
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("type", string(event.Type)).
			Msg("notifier: failed to publish change event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("type", string(event.Type)).
		Msg("notifier: change event published")
}
