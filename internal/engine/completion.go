package engine

import (
	"context"

	"github.com/tasklane/be-workflows/internal/repository"
)

// EvaluateCompletion closes the instance when every step template that can
// still run has a terminal assignment. It runs after each individual terminal
// transition rather than in batches, so the instance closes at the earliest
// correct moment.
//
// An eligible-but-uncreated template counts as incomplete, which keeps a
// concurrent evaluation from closing the instance in the middle of another
// writer's materialization. The status change itself is compare-and-set, so
// two racing evaluations produce one completion and one no-op.
func (e *Engine) EvaluateCompletion(ctx context.Context, def *repository.WorkflowDefinition, instanceID string) error {
	g, err := BuildGraph(def)
	if err != nil {
		return err
	}

	existing, err := e.assignments.ListByInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	statuses := statusByTemplate(existing)

	blocked := g.Blocked(statuses, e.policy.SkipBlocksDependents)
	if g.Incomplete(statuses, blocked) {
		return nil
	}

	now := e.clock()
	completed, err := e.instances.Transition(ctx, instanceID,
		[]repository.InstanceStatus{repository.InstanceActive},
		repository.InstanceCompleted, &now)
	if err != nil {
		return err
	}
	if !completed {
		// Already closed (or paused/cancelled) by another actor.
		return nil
	}

	e.log.Info().
		Str("instance_id", instanceID).
		Str("definition_id", def.ID).
		Msg("workflow instance completed")

	inst, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}
	e.events.InstanceCompleted(ctx, inst)
	return nil
}
