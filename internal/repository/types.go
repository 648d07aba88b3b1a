package repository

import "time"

// ── Domain types for workflow progression ────────────────────────────────────

// InstanceStatus is the lifecycle status of a workflow instance.
type InstanceStatus string

const (
	InstanceDraft     InstanceStatus = "draft"
	InstanceActive    InstanceStatus = "active"
	InstanceCompleted InstanceStatus = "completed"
	InstancePaused    InstanceStatus = "paused"
	InstanceCancelled InstanceStatus = "cancelled"
)

// AssignmentStatus is the lifecycle status of a single step assignment.
type AssignmentStatus string

const (
	AssignmentPending    AssignmentStatus = "pending"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentSkipped    AssignmentStatus = "skipped"
)

// Terminal reports whether the status permits no further transitions.
func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentCompleted || s == AssignmentSkipped
}

// WorkflowDefinition is a reusable template describing a DAG of steps.
// Definitions are immutable once an instance references them; edits create
// a new definition rather than altering running instances.
type WorkflowDefinition struct {
	ID          string
	Name        string
	Description *string
	IsActive    bool
	Steps       []*StepTemplate
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Step returns the step template with the given id, or nil.
func (d *WorkflowDefinition) Step(templateID string) *StepTemplate {
	for _, s := range d.Steps {
		if s.ID == templateID {
			return s
		}
	}
	return nil
}

// StepTemplate is one node in a definition's dependency graph.
// AssigneeRule is either "user:<id>" (static assignee) or "role:<name>"
// (resolved through the directory at materialization time); nil leaves the
// assignment unassigned.
type StepTemplate struct {
	ID             string
	DefinitionID   string
	Name           string
	Description    *string
	EstimatedHours *float64
	AssigneeRule   *string
	Position       int
	DependsOn      []string
	CreatedAt      time.Time
}

// WorkflowInstance is one running execution of a definition.
type WorkflowInstance struct {
	ID           string
	DefinitionID string
	Name         string
	Status       InstanceStatus
	StartedBy    string
	CreatedAt    time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// Assignment is the materialized, per-instance, per-step work item.
// At most one assignment exists per (instance, step template) pair; the
// database unique constraint is the source of truth for that guarantee.
type Assignment struct {
	ID             string
	InstanceID     string
	StepTemplateID string
	AssigneeID     *string
	Status         AssignmentStatus
	Notes          *string
	DueAt          *time.Time
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// ActivityEntry is one immutable record in the per-instance activity log.
type ActivityEntry struct {
	ID           string
	InstanceID   string
	AssignmentID *string
	Action       string // started | step_started | step_completed | step_skipped | paused | resumed | cancelled | completed
	PerformedBy  string
	PerformedAt  time.Time
	Detail       map[string]interface{}
}
