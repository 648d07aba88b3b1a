// Package notifier carries workflow changes over NATS: repositories confirm
// the durable write, the publisher emits a change event, and the hub fans the
// events out to in-process subscribers (per-user inboxes, per-instance
// views, administrative firehose).
package notifier

import (
	"time"

	"github.com/tasklane/be-workflows/internal/repository"
)

// EventType identifies a workflow change notification.
type EventType string

const (
	EventAssignmentCreated       EventType = "assignment_created"
	EventAssignmentStatusChanged EventType = "assignment_status_changed"
	EventInstanceCompleted       EventType = "instance_completed"
)

// Subject convention: workflows.assignment.<created|status>,
// workflows.instance.completed. The hub subscribes to the wildcard.
const (
	SubjectAssignmentCreated = "workflows.assignment.created"
	SubjectAssignmentStatus  = "workflows.assignment.status"
	SubjectInstanceCompleted = "workflows.instance.completed"
	SubjectWildcard          = "workflows.>"
)

// AssignmentPayload is the wire form of an assignment inside a change event.
// Creation state and the first status travel in one record, so a status
// change for an assignment is never observed before its creation event.
type AssignmentPayload struct {
	ID             string     `json:"id"`
	InstanceID     string     `json:"instance_id"`
	StepTemplateID string     `json:"step_template_id"`
	AssigneeID     *string    `json:"assignee_id,omitempty"`
	Status         string     `json:"status"`
	Notes          *string    `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// InstancePayload is the wire form of an instance inside a change event.
type InstancePayload struct {
	ID           string     `json:"id"`
	DefinitionID string     `json:"definition_id"`
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ChangeEvent is the JSON schema published to NATS and delivered to
// subscribers. Delivery is at-least-once; consumers dedupe on
// (assignment id, status).
type ChangeEvent struct {
	Type       EventType          `json:"type"`
	Assignment *AssignmentPayload `json:"assignment,omitempty"`
	Instance   *InstancePayload   `json:"instance,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

func assignmentPayload(a *repository.Assignment) *AssignmentPayload {
	return &AssignmentPayload{
		ID:             a.ID,
		InstanceID:     a.InstanceID,
		StepTemplateID: a.StepTemplateID,
		AssigneeID:     a.AssigneeID,
		Status:         string(a.Status),
		Notes:          a.Notes,
		CreatedAt:      a.CreatedAt,
		CompletedAt:    a.CompletedAt,
	}
}

func instancePayload(inst *repository.WorkflowInstance) *InstancePayload {
	return &InstancePayload{
		ID:           inst.ID,
		DefinitionID: inst.DefinitionID,
		Name:         inst.Name,
		Status:       string(inst.Status),
		CompletedAt:  inst.CompletedAt,
	}
}
