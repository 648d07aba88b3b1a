package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/tasklane/be-workflows/internal/platform/database"
	"github.com/tasklane/be-workflows/internal/platform/errors"
)

// AssignmentRepository handles assignment materialization and status updates.
// The UNIQUE (instance_id, step_template_id) constraint is the arbiter of
// exactly-once materialization under concurrent predecessor completions;
// status updates carry their precondition in the WHERE clause so a stale
// writer loses instead of overwriting.
type AssignmentRepository struct {
	db *database.DB
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(db *database.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

const assignmentColumns = `
	id, instance_id, step_template_id, assignee_id, status, notes,
	due_at, created_at, started_at, completed_at, updated_at
`

// CreateIfAbsent inserts an assignment unless one already exists for the
// (instance, step template) pair. Returns true when a row was inserted,
// false when another writer got there first. Safe to retry.
func (r *AssignmentRepository) CreateIfAbsent(ctx context.Context, a *Assignment) (bool, error) {
	query := `
		INSERT INTO assignments
		    (id, instance_id, step_template_id, assignee_id, status, notes, due_at)
		VALUES ($1, $2, $3, $4, $5::assignment_status, $6, $7)
		ON CONFLICT (instance_id, step_template_id) DO NOTHING
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		a.ID,
		a.InstanceID,
		a.StepTemplateID,
		a.AssigneeID,
		a.Status,
		a.Notes,
		a.DueAt,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to create assignment")
	}
	return true, nil
}

// GetByID retrieves an assignment by its primary key.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`

	a, err := r.scanAssignment(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("assignment", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get assignment")
	}
	return a, nil
}

// ListByInstance returns all assignments of an instance in creation order.
func (r *AssignmentRepository) ListByInstance(ctx context.Context, instanceID string) ([]*Assignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM assignments
		WHERE instance_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list assignments")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListForAssignee returns assignments for a user, open ones first. When
// openOnly is set, terminal assignments and assignments of non-active
// instances are excluded.
func (r *AssignmentRepository) ListForAssignee(ctx context.Context, userID string, openOnly bool) ([]*Assignment, error) {
	query := `
		SELECT a.id, a.instance_id, a.step_template_id, a.assignee_id, a.status, a.notes,
		       a.due_at, a.created_at, a.started_at, a.completed_at, a.updated_at
		FROM assignments a
		JOIN workflow_instances i ON i.id = a.instance_id
		WHERE a.assignee_id = $1
		  AND ($2 = false OR (a.status IN ('pending', 'in_progress') AND i.status = 'active'))
		ORDER BY a.due_at ASC NULLS LAST, a.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID, openOnly)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list assignments for user")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// Transition applies a compare-and-set status change. The expected statuses
// are part of the WHERE clause; when the stored status is not among them the
// update writes nothing and the current record is returned to the caller so
// it can build a precise InvalidTransition error.
func (r *AssignmentRepository) Transition(ctx context.Context, id string, from []AssignmentStatus, to AssignmentStatus, notes *string) (*Assignment, bool, error) {
	query := `
		UPDATE assignments
		SET status       = $2::assignment_status,
		    notes        = COALESCE($3, notes),
		    started_at   = CASE WHEN $2 = 'in_progress' THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $2 IN ('completed', 'skipped') THEN NOW() ELSE completed_at END,
		    updated_at   = NOW()
		WHERE id = $1
		  AND status = ANY($4::assignment_status[])
		RETURNING ` + assignmentColumns + `
	`

	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}

	a, err := r.scanAssignment(r.db.QueryRow(ctx, query, id, to, notes, expected))
	if err == pgx.ErrNoRows {
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeInternal, "failed to update assignment status")
	}
	return a, true, nil
}

// Assign sets the assignee of an assignment that has no terminal status yet.
func (r *AssignmentRepository) Assign(ctx context.Context, id, userID string) error {
	query := `
		UPDATE assignments
		SET assignee_id = $2,
		    updated_at  = NOW()
		WHERE id = $1
		  AND status IN ('pending', 'in_progress')
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, userID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict, "assignment not found or already terminal")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to assign user")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type assignmentScanner interface {
	Scan(dest ...any) error
}

func (r *AssignmentRepository) scanAssignment(row assignmentScanner) (*Assignment, error) {
	a := &Assignment{}
	err := row.Scan(
		&a.ID,
		&a.InstanceID,
		&a.StepTemplateID,
		&a.AssigneeID,
		&a.Status,
		&a.Notes,
		&a.DueAt,
		&a.CreatedAt,
		&a.StartedAt,
		&a.CompletedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AssignmentRepository) scanRows(rows pgx.Rows) ([]*Assignment, error) {
	var out []*Assignment
	for rows.Next() {
		a, err := r.scanAssignment(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan assignment")
		}
		out = append(out, a)
	}
	return out, nil
}
