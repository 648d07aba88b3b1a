package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tasklane/be-workflows/internal/platform/database"
	"github.com/tasklane/be-workflows/internal/platform/errors"
)

// InstanceRepository manages workflow instances. Instance creation inserts
// the instance together with its initial assignments in one transaction so
// a failed start never leaves a partial instance behind.
type InstanceRepository struct {
	db *database.DB
}

// NewInstanceRepository creates a new InstanceRepository.
func NewInstanceRepository(db *database.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// Create inserts an instance and its initial assignments in one transaction.
func (r *InstanceRepository) Create(ctx context.Context, inst *WorkflowInstance, assignments []*Assignment) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		instQuery := `
			INSERT INTO workflow_instances (id, definition_id, name, status, started_by)
			VALUES ($1, $2, $3, $4::instance_status, $5)
			RETURNING created_at, updated_at
		`

		err := tx.QueryRow(ctx, instQuery,
			inst.ID,
			inst.DefinitionID,
			inst.Name,
			inst.Status,
			inst.StartedBy,
		).Scan(&inst.CreatedAt, &inst.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow instance")
		}

		aQuery := `
			INSERT INTO assignments
			    (id, instance_id, step_template_id, assignee_id, status, due_at)
			VALUES ($1, $2, $3, $4, $5::assignment_status, $6)
			RETURNING created_at, updated_at
		`

		for _, a := range assignments {
			a.InstanceID = inst.ID
			err := tx.QueryRow(ctx, aQuery,
				a.ID,
				a.InstanceID,
				a.StepTemplateID,
				a.AssigneeID,
				a.Status,
				a.DueAt,
			).Scan(&a.CreatedAt, &a.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create initial assignment")
			}
		}

		return nil
	})
}

// GetByID retrieves an instance by its primary key.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*WorkflowInstance, error) {
	query := `
		SELECT id, definition_id, name, status, started_by,
		       created_at, completed_at, updated_at
		FROM workflow_instances
		WHERE id = $1
	`

	inst := &WorkflowInstance{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&inst.ID,
		&inst.DefinitionID,
		&inst.Name,
		&inst.Status,
		&inst.StartedBy,
		&inst.CreatedAt,
		&inst.CompletedAt,
		&inst.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow_instance", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow instance")
	}
	return inst, nil
}

// ListByDefinition returns instances of a definition, newest first.
func (r *InstanceRepository) ListByDefinition(ctx context.Context, definitionID string) ([]*WorkflowInstance, error) {
	query := `
		SELECT id, definition_id, name, status, started_by,
		       created_at, completed_at, updated_at
		FROM workflow_instances
		WHERE definition_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, definitionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow instances")
	}
	defer rows.Close()

	var out []*WorkflowInstance
	for rows.Next() {
		inst := &WorkflowInstance{}
		err := rows.Scan(
			&inst.ID,
			&inst.DefinitionID,
			&inst.Name,
			&inst.Status,
			&inst.StartedBy,
			&inst.CreatedAt,
			&inst.CompletedAt,
			&inst.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow instance")
		}
		out = append(out, inst)
	}
	return out, nil
}

// Transition moves an instance from one of the expected statuses to a new
// status, compare-and-set style. Returns false when the instance exists but
// is not in an expected status.
func (r *InstanceRepository) Transition(ctx context.Context, id string, from []InstanceStatus, to InstanceStatus, completedAt *time.Time) (bool, error) {
	query := `
		UPDATE workflow_instances
		SET status       = $2::instance_status,
		    completed_at = COALESCE($3, completed_at),
		    updated_at   = NOW()
		WHERE id = $1
		  AND status = ANY($4::instance_status[])
		RETURNING id
	`

	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, to, completedAt, expected).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		// Distinguish a missing instance from a stale status.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to transition workflow instance")
	}
	return true, nil
}
