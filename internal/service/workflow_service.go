package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tasklane/be-workflows/internal/engine"
	"github.com/tasklane/be-workflows/internal/platform/errors"
	"github.com/tasklane/be-workflows/internal/repository"
)

// DefinitionStore reads workflow definitions.
type DefinitionStore interface {
	GetByID(ctx context.Context, id string) (*repository.WorkflowDefinition, error)
	List(ctx context.Context, activeOnly bool) ([]*repository.WorkflowDefinition, error)
}

// InstanceStore persists workflow instances.
type InstanceStore interface {
	engine.InstanceStore
	ListByDefinition(ctx context.Context, definitionID string) ([]*repository.WorkflowInstance, error)
}

// AssignmentStore persists assignments.
type AssignmentStore interface {
	engine.AssignmentStore
	GetByID(ctx context.Context, id string) (*repository.Assignment, error)
	// Transition applies a compare-and-set status change; ok is false when
	// the stored status was not among the expected ones, in which case the
	// returned assignment is the current record.
	Transition(ctx context.Context, id string, from []repository.AssignmentStatus, to repository.AssignmentStatus, notes *string) (*repository.Assignment, bool, error)
	ListForAssignee(ctx context.Context, userID string, openOnly bool) ([]*repository.Assignment, error)
}

// ActivityStore persists the append-only activity trail.
type ActivityStore interface {
	Append(ctx context.Context, entry *repository.ActivityEntry) error
	ListByInstance(ctx context.Context, instanceID string) ([]*repository.ActivityEntry, error)
}

// Directory resolves users by role for assignee rules.
type Directory interface {
	UsersWithRole(ctx context.Context, role string) ([]string, error)
}

// Publisher emits change events after durable writes.
type Publisher interface {
	AssignmentCreated(ctx context.Context, a *repository.Assignment)
	AssignmentStatusChanged(ctx context.Context, a *repository.Assignment)
	InstanceCompleted(ctx context.Context, inst *repository.WorkflowInstance)
}

// WorkflowService is the UI-facing orchestration layer over the progression
// engine and the repositories.
type WorkflowService struct {
	definitions DefinitionStore
	instances   InstanceStore
	assignments AssignmentStore
	activity    ActivityStore
	publisher   Publisher
	engine      *engine.Engine
	log         zerolog.Logger
}

// NewWorkflowService wires the service and its progression engine.
func NewWorkflowService(
	definitions DefinitionStore,
	instances InstanceStore,
	assignments AssignmentStore,
	activity ActivityStore,
	directory Directory,
	publisher Publisher,
	policy engine.Policy,
	log zerolog.Logger,
) *WorkflowService {
	s := &WorkflowService{
		definitions: definitions,
		instances:   instances,
		assignments: assignments,
		activity:    activity,
		publisher:   publisher,
		log:         log,
	}
	resolver := &assigneeResolver{directory: directory, log: log}
	sink := &eventSink{service: s}
	s.engine = engine.New(instances, assignments, resolver, sink, policy, log)
	return s
}

// ── Start ─────────────────────────────────────────────────────────────────────

// StartWorkflowRequest carries the parameters for starting an instance.
type StartWorkflowRequest struct {
	DefinitionID      string            `json:"definition_id"`
	Name              string            `json:"name"`
	StartedBy         string            `json:"started_by"`
	AssigneeOverrides map[string]string `json:"assignee_overrides"`
}

// StartWorkflow creates an active instance of a definition and materializes
// the zero-dependency steps. A cyclic or malformed definition fails with
// InvalidDefinition before anything is written.
func (s *WorkflowService) StartWorkflow(ctx context.Context, req *StartWorkflowRequest) (*repository.WorkflowInstance, []*repository.Assignment, error) {
	if req.DefinitionID == "" {
		return nil, nil, errors.InvalidInput("definition_id", "definition id is required")
	}
	if req.StartedBy == "" {
		return nil, nil, errors.InvalidInput("started_by", "starting user is required")
	}

	def, err := retryRead(ctx, func() (*repository.WorkflowDefinition, error) {
		return s.definitions.GetByID(ctx, req.DefinitionID)
	})
	if err != nil {
		return nil, nil, err
	}
	if !def.IsActive {
		return nil, nil, errors.Newf(errors.ErrCodeConflict,
			"definition %s is not active", def.ID)
	}

	inst, initial, err := s.engine.StartInstance(ctx, def, engine.StartRequest{
		Name:              req.Name,
		StartedBy:         req.StartedBy,
		AssigneeOverrides: req.AssigneeOverrides,
	})
	if err != nil {
		return nil, nil, err
	}

	s.appendActivity(ctx, &repository.ActivityEntry{
		InstanceID:  inst.ID,
		Action:      "started",
		PerformedBy: req.StartedBy,
		Detail: map[string]interface{}{
			"definition_id":       def.ID,
			"initial_assignments": len(initial),
		},
	})

	return inst, initial, nil
}

// ── Assignment transitions ────────────────────────────────────────────────────

// StartStep moves a pending assignment to in_progress.
func (s *WorkflowService) StartStep(ctx context.Context, assignmentID, actedBy string) (*repository.Assignment, error) {
	return s.transition(ctx, assignmentID, repository.AssignmentInProgress, actedBy, nil)
}

// CompleteStep marks an assignment completed, with optional notes, and
// advances the instance: newly eligible steps are materialized and instance
// completion is re-evaluated.
func (s *WorkflowService) CompleteStep(ctx context.Context, assignmentID, actedBy string, notes *string) (*repository.Assignment, error) {
	return s.transition(ctx, assignmentID, repository.AssignmentCompleted, actedBy, notes)
}

// SkipStep marks an assignment skipped. Requires manage rights on the
// instance.
func (s *WorkflowService) SkipStep(ctx context.Context, assignmentID, actedBy string, notes *string) (*repository.Assignment, error) {
	return s.transition(ctx, assignmentID, repository.AssignmentSkipped, actedBy, notes)
}

// UpdateAssignmentStatus applies an arbitrary status change requested by the
// UI, subject to the same guards as the dedicated operations.
func (s *WorkflowService) UpdateAssignmentStatus(ctx context.Context, assignmentID string, status repository.AssignmentStatus, actedBy string, notes *string) (*repository.Assignment, error) {
	switch status {
	case repository.AssignmentInProgress, repository.AssignmentCompleted, repository.AssignmentSkipped:
		return s.transition(ctx, assignmentID, status, actedBy, notes)
	default:
		return nil, errors.InvalidInput("status", "unsupported target status "+string(status))
	}
}

// transition validates, persists and propagates one assignment status change.
// Side effects (materialization, completion evaluation, change events) run
// only after the compare-and-set write succeeded, and progression runs on a
// detached context so an abandoned client connection cannot interrupt it
// mid-flight.
func (s *WorkflowService) transition(ctx context.Context, assignmentID string, to repository.AssignmentStatus, actedBy string, notes *string) (*repository.Assignment, error) {
	if actedBy == "" {
		return nil, errors.InvalidInput("acted_by", "acting user is required")
	}

	a, err := retryRead(ctx, func() (*repository.Assignment, error) {
		return s.assignments.GetByID(ctx, assignmentID)
	})
	if err != nil {
		return nil, err
	}

	inst, err := retryRead(ctx, func() (*repository.WorkflowInstance, error) {
		return s.instances.GetByID(ctx, a.InstanceID)
	})
	if err != nil {
		return nil, err
	}
	if inst.Status != repository.InstanceActive {
		return nil, errors.Newf(errors.ErrCodeInvalidTransition,
			"instance %s is %s; assignments are frozen", inst.ID, inst.Status)
	}

	if err := s.authorize(a, inst, actedBy, to); err != nil {
		return nil, err
	}
	if err := engine.CheckTransition(a.ID, a.Status, to); err != nil {
		return nil, err
	}

	from, err := engine.AllowedFrom(to)
	if err != nil {
		return nil, err
	}

	updated, ok, err := s.assignments.Transition(ctx, assignmentID, from, to, notes)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race: another writer moved the assignment first. The
		// stored status is returned untouched for the UI to refresh from.
		return nil, errors.InvalidTransition(assignmentID, string(updated.Status), string(to))
	}

	s.publisher.AssignmentStatusChanged(ctx, updated)
	s.appendActivity(ctx, &repository.ActivityEntry{
		InstanceID:   updated.InstanceID,
		AssignmentID: &updated.ID,
		Action:       "step_" + string(to),
		PerformedBy:  actedBy,
		Detail: map[string]interface{}{
			"step_template_id": updated.StepTemplateID,
		},
	})

	if updated.Status.Terminal() {
		// The write above is durably acknowledged; progression now runs
		// strictly after it, never in parallel. Detached from the request
		// context: UI cancellation is advisory and must not abort the
		// fan-out of dependent steps.
		progressCtx := context.WithoutCancel(ctx)
		def, err := s.definitions.GetByID(progressCtx, inst.DefinitionID)
		if err != nil {
			return updated, err
		}
		if err := s.engine.OnAssignmentFinished(progressCtx, def, updated.InstanceID, updated.StepTemplateID); err != nil {
			return updated, err
		}
	}

	return updated, nil
}

// authorize enforces who may act on an assignment. Skipping requires manage
// rights on the instance; starting and completing require being the
// assignee, unless the assignment is unassigned (anyone may claim it) or the
// caller manages the instance.
func (s *WorkflowService) authorize(a *repository.Assignment, inst *repository.WorkflowInstance, actedBy string, to repository.AssignmentStatus) error {
	manages := inst.StartedBy == actedBy
	if to == repository.AssignmentSkipped {
		if !manages {
			return errors.New(errors.ErrCodeUnauthorized,
				"only an instance manager can skip a step")
		}
		return nil
	}
	if a.AssigneeID == nil || *a.AssigneeID == actedBy || manages {
		return nil
	}
	return errors.New(errors.ErrCodeUnauthorized,
		"user is not the assignee of this step")
}

// ── Instance lifecycle ────────────────────────────────────────────────────────

// PauseInstance freezes an active instance; assignment transitions are
// rejected until it resumes.
func (s *WorkflowService) PauseInstance(ctx context.Context, instanceID, actedBy string) error {
	return s.instanceTransition(ctx, instanceID, actedBy, "paused",
		[]repository.InstanceStatus{repository.InstanceActive}, repository.InstancePaused)
}

// ResumeInstance reactivates a paused instance. Materialization state is
// derived from assignments, so nothing else needs repair.
func (s *WorkflowService) ResumeInstance(ctx context.Context, instanceID, actedBy string) error {
	return s.instanceTransition(ctx, instanceID, actedBy, "resumed",
		[]repository.InstanceStatus{repository.InstancePaused}, repository.InstanceActive)
}

// CancelInstance terminates an active or paused instance. Open assignments
// are left in place but become immutable.
func (s *WorkflowService) CancelInstance(ctx context.Context, instanceID, actedBy string) error {
	return s.instanceTransition(ctx, instanceID, actedBy, "cancelled",
		[]repository.InstanceStatus{repository.InstanceActive, repository.InstancePaused},
		repository.InstanceCancelled)
}

func (s *WorkflowService) instanceTransition(ctx context.Context, instanceID, actedBy, action string, from []repository.InstanceStatus, to repository.InstanceStatus) error {
	inst, err := retryRead(ctx, func() (*repository.WorkflowInstance, error) {
		return s.instances.GetByID(ctx, instanceID)
	})
	if err != nil {
		return err
	}
	if inst.StartedBy != actedBy {
		return errors.New(errors.ErrCodeUnauthorized,
			"only an instance manager can change the instance state")
	}

	ok, err := s.instances.Transition(ctx, instanceID, from, to, nil)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf(errors.ErrCodeConflict,
			"instance %s cannot be %s from its current status", instanceID, action)
	}

	s.appendActivity(ctx, &repository.ActivityEntry{
		InstanceID:  instanceID,
		Action:      action,
		PerformedBy: actedBy,
	})
	return nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetAssignmentsForUser returns a user's assignments; openOnly restricts to
// actionable ones on active instances.
func (s *WorkflowService) GetAssignmentsForUser(ctx context.Context, userID string, openOnly bool) ([]*repository.Assignment, error) {
	return retryRead(ctx, func() ([]*repository.Assignment, error) {
		return s.assignments.ListForAssignee(ctx, userID, openOnly)
	})
}

// GetAssignmentsForInstance returns all assignments of an instance.
func (s *WorkflowService) GetAssignmentsForInstance(ctx context.Context, instanceID string) ([]*repository.Assignment, error) {
	return retryRead(ctx, func() ([]*repository.Assignment, error) {
		return s.assignments.ListByInstance(ctx, instanceID)
	})
}

// GetInstance returns one instance.
func (s *WorkflowService) GetInstance(ctx context.Context, instanceID string) (*repository.WorkflowInstance, error) {
	return retryRead(ctx, func() (*repository.WorkflowInstance, error) {
		return s.instances.GetByID(ctx, instanceID)
	})
}

// ListInstances returns the instances of a definition, newest first.
func (s *WorkflowService) ListInstances(ctx context.Context, definitionID string) ([]*repository.WorkflowInstance, error) {
	return retryRead(ctx, func() ([]*repository.WorkflowInstance, error) {
		return s.instances.ListByDefinition(ctx, definitionID)
	})
}

// GetActivityForInstance returns the activity trail of an instance.
func (s *WorkflowService) GetActivityForInstance(ctx context.Context, instanceID string) ([]*repository.ActivityEntry, error) {
	return retryRead(ctx, func() ([]*repository.ActivityEntry, error) {
		return s.activity.ListByInstance(ctx, instanceID)
	})
}

// GetDefinition returns a definition with its step templates.
func (s *WorkflowService) GetDefinition(ctx context.Context, definitionID string) (*repository.WorkflowDefinition, error) {
	return retryRead(ctx, func() (*repository.WorkflowDefinition, error) {
		return s.definitions.GetByID(ctx, definitionID)
	})
}

// ListDefinitions returns definitions, optionally active only.
func (s *WorkflowService) ListDefinitions(ctx context.Context, activeOnly bool) ([]*repository.WorkflowDefinition, error) {
	return retryRead(ctx, func() ([]*repository.WorkflowDefinition, error) {
		return s.definitions.List(ctx, activeOnly)
	})
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// appendActivity writes an activity entry and logs a warning on failure
// (never returns an error to the caller).
func (s *WorkflowService) appendActivity(ctx context.Context, entry *repository.ActivityEntry) {
	entry.ID = uuid.New().String()
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}
	if err := s.activity.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("instance_id", entry.InstanceID).
			Str("action", entry.Action).
			Msg("failed to write activity entry")
	}
}

// eventSink forwards engine events to the publisher and records instance
// completion in the activity trail.
type eventSink struct {
	service *WorkflowService
}

func (s *eventSink) AssignmentCreated(ctx context.Context, a *repository.Assignment) {
	s.service.publisher.AssignmentCreated(ctx, a)
}

func (s *eventSink) InstanceCompleted(ctx context.Context, inst *repository.WorkflowInstance) {
	s.service.publisher.InstanceCompleted(ctx, inst)
	s.service.appendActivity(ctx, &repository.ActivityEntry{
		InstanceID:  inst.ID,
		Action:      "completed",
		PerformedBy: "system",
	})
}
