package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tasklane/be-workflows/internal/repository"
)

// InstanceStore is the persistence surface the engine needs for instances.
type InstanceStore interface {
	// Create inserts an instance together with its initial assignments,
	// atomically.
	Create(ctx context.Context, inst *repository.WorkflowInstance, assignments []*repository.Assignment) error
	GetByID(ctx context.Context, id string) (*repository.WorkflowInstance, error)
	// Transition applies a compare-and-set status change. Returns false when
	// the instance was not in one of the expected statuses.
	Transition(ctx context.Context, id string, from []repository.InstanceStatus, to repository.InstanceStatus, completedAt *time.Time) (bool, error)
}

// AssignmentStore is the persistence surface the engine needs for
// assignments.
type AssignmentStore interface {
	// CreateIfAbsent materializes an assignment unless one already exists for
	// the (instance, step template) pair. Returns true when inserted.
	CreateIfAbsent(ctx context.Context, a *repository.Assignment) (bool, error)
	ListByInstance(ctx context.Context, instanceID string) ([]*repository.Assignment, error)
}

// AssigneeResolver resolves a step template's assignee rule when the
// assignment is materialized. Prior assignments of the instance are passed in
// so resolution can react to earlier step outcomes. A nil user id leaves the
// assignment unassigned.
type AssigneeResolver interface {
	Resolve(ctx context.Context, tmpl *repository.StepTemplate, prior []*repository.Assignment) (*string, error)
}

// EventSink receives change events after the corresponding write is durable.
type EventSink interface {
	AssignmentCreated(ctx context.Context, a *repository.Assignment)
	InstanceCompleted(ctx context.Context, inst *repository.WorkflowInstance)
}

// Policy holds the progression policy knobs.
type Policy struct {
	// SkipBlocksDependents makes a skipped step block its dependents instead
	// of satisfying them. Blocked templates are excluded from materialization
	// and treated as vacuously satisfied by completion evaluation.
	SkipBlocksDependents bool
}

// Engine maintains the invariant that every eligible, not-yet-materialized
// step template of an active instance has exactly one assignment.
type Engine struct {
	instances   InstanceStore
	assignments AssignmentStore
	resolver    AssigneeResolver
	events      EventSink
	policy      Policy
	log         zerolog.Logger
	clock       func() time.Time
}

// Option customizes the engine.
type Option func(*Engine)

// WithClock injects a deterministic clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New wires a progression engine to its stores.
func New(instances InstanceStore, assignments AssignmentStore, resolver AssigneeResolver, events EventSink, policy Policy, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		instances:   instances,
		assignments: assignments,
		resolver:    resolver,
		events:      events,
		policy:      policy,
		log:         log,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartRequest carries the parameters for starting a workflow instance.
type StartRequest struct {
	Name      string
	StartedBy string
	// AssigneeOverrides maps step template ids to user ids, taking precedence
	// over the template's assignee rule for the initial assignments.
	AssigneeOverrides map[string]string
}

// StartInstance validates the definition, creates an active instance and
// materializes one pending assignment per zero-dependency step template. The
// cycle check runs before any record is written, so an invalid definition
// never leaves a partial instance behind.
func (e *Engine) StartInstance(ctx context.Context, def *repository.WorkflowDefinition, req StartRequest) (*repository.WorkflowInstance, []*repository.Assignment, error) {
	g, err := BuildGraph(def)
	if err != nil {
		return nil, nil, err
	}

	inst := &repository.WorkflowInstance{
		ID:           uuid.New().String(),
		DefinitionID: def.ID,
		Name:         req.Name,
		Status:       repository.InstanceActive,
		StartedBy:    req.StartedBy,
	}
	if inst.Name == "" {
		inst.Name = def.Name
	}

	var initial []*repository.Assignment
	for _, tmpl := range g.Roots() {
		assignee, err := e.resolveAssignee(ctx, tmpl, req.AssigneeOverrides, nil)
		if err != nil {
			return nil, nil, err
		}
		initial = append(initial, &repository.Assignment{
			ID:             uuid.New().String(),
			InstanceID:     inst.ID,
			StepTemplateID: tmpl.ID,
			AssigneeID:     assignee,
			Status:         repository.AssignmentPending,
		})
	}

	if err := e.instances.Create(ctx, inst, initial); err != nil {
		return nil, nil, err
	}

	e.log.Info().
		Str("instance_id", inst.ID).
		Str("definition_id", def.ID).
		Int("initial_assignments", len(initial)).
		Msg("workflow instance started")

	for _, a := range initial {
		e.events.AssignmentCreated(ctx, a)
	}

	return inst, initial, nil
}

// OnAssignmentFinished advances progression after an assignment of the
// instance reached a terminal status. It re-evaluates the direct dependents
// of the finished step template, materializes the ones whose entire
// dependency set is now satisfied, then delegates to completion evaluation.
//
// Materialization is idempotent: concurrent completions of two predecessors
// of a shared successor race on the store's uniqueness guarantee, and the
// loser simply observes created == false.
func (e *Engine) OnAssignmentFinished(ctx context.Context, def *repository.WorkflowDefinition, instanceID, finishedTemplateID string) error {
	g, err := BuildGraph(def)
	if err != nil {
		return err
	}

	existing, err := e.assignments.ListByInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	statuses := statusByTemplate(existing)

	for _, tmpl := range g.DirectDependents(finishedTemplateID) {
		if _, materialized := statuses[tmpl.ID]; materialized {
			continue
		}
		if !g.Eligible(tmpl.ID, statuses, e.policy.SkipBlocksDependents) {
			continue
		}

		assignee, err := e.resolver.Resolve(ctx, tmpl, existing)
		if err != nil {
			return err
		}
		a := &repository.Assignment{
			ID:             uuid.New().String(),
			InstanceID:     instanceID,
			StepTemplateID: tmpl.ID,
			AssigneeID:     assignee,
			Status:         repository.AssignmentPending,
		}
		created, err := e.assignments.CreateIfAbsent(ctx, a)
		if err != nil {
			return err
		}
		if !created {
			// Another completion materialized this step first.
			continue
		}

		e.log.Info().
			Str("instance_id", instanceID).
			Str("step_template_id", tmpl.ID).
			Str("assignment_id", a.ID).
			Msg("assignment materialized")
		e.events.AssignmentCreated(ctx, a)
	}

	return e.EvaluateCompletion(ctx, def, instanceID)
}

// resolveAssignee applies the start-time override when present, otherwise
// defers to the resolver.
func (e *Engine) resolveAssignee(ctx context.Context, tmpl *repository.StepTemplate, overrides map[string]string, prior []*repository.Assignment) (*string, error) {
	if userID, ok := overrides[tmpl.ID]; ok && userID != "" {
		return &userID, nil
	}
	return e.resolver.Resolve(ctx, tmpl, prior)
}
