package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/tasklane/be-workflows/internal/platform/database"
	"github.com/tasklane/be-workflows/internal/platform/errors"
)

// DefinitionRepository reads and writes workflow definitions and their step
// templates. Definition + step creation is always done together in a single
// transaction (the seed importer is the only writer).
type DefinitionRepository struct {
	db *database.DB
}

// NewDefinitionRepository creates a new DefinitionRepository.
func NewDefinitionRepository(db *database.DB) *DefinitionRepository {
	return &DefinitionRepository{db: db}
}

// GetByID returns a definition with its step templates and dependency lists.
func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*WorkflowDefinition, error) {
	query := `
		SELECT id, name, description, is_active, created_at, updated_at
		FROM workflow_definitions
		WHERE id = $1
	`

	def := &WorkflowDefinition{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&def.ID,
		&def.Name,
		&def.Description,
		&def.IsActive,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow_definition", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow definition")
	}

	def.Steps, err = r.loadSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	return def, nil
}

// List returns all definitions, optionally restricted to active ones.
// Step templates are not loaded; callers needing the graph use GetByID.
func (r *DefinitionRepository) List(ctx context.Context, activeOnly bool) ([]*WorkflowDefinition, error) {
	query := `
		SELECT id, name, description, is_active, created_at, updated_at
		FROM workflow_definitions
		WHERE ($1 = false OR is_active)
		ORDER BY name ASC
	`

	rows, err := r.db.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow definitions")
	}
	defer rows.Close()

	var defs []*WorkflowDefinition
	for rows.Next() {
		def := &WorkflowDefinition{}
		err := rows.Scan(
			&def.ID,
			&def.Name,
			&def.Description,
			&def.IsActive,
			&def.CreatedAt,
			&def.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow definition")
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Create inserts a definition, its step templates and their dependency edges
// in one transaction.
func (r *DefinitionRepository) Create(ctx context.Context, def *WorkflowDefinition) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		defQuery := `
			INSERT INTO workflow_definitions (id, name, description, is_active)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, updated_at
		`

		err := tx.QueryRow(ctx, defQuery,
			def.ID,
			def.Name,
			def.Description,
			def.IsActive,
		).Scan(&def.CreatedAt, &def.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow definition")
		}

		stepQuery := `
			INSERT INTO step_templates
			    (id, definition_id, name, description, estimated_hours, assignee_rule, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at
		`
		depQuery := `
			INSERT INTO step_template_dependencies (step_template_id, depends_on_id)
			VALUES ($1, $2)
		`

		for _, step := range def.Steps {
			step.DefinitionID = def.ID
			err := tx.QueryRow(ctx, stepQuery,
				step.ID,
				step.DefinitionID,
				step.Name,
				step.Description,
				step.EstimatedHours,
				step.AssigneeRule,
				step.Position,
			).Scan(&step.CreatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create step template")
			}
		}

		// Edges second so foreign keys resolve regardless of declaration order.
		for _, step := range def.Steps {
			for _, dep := range step.DependsOn {
				if _, err := tx.Exec(ctx, depQuery, step.ID, dep); err != nil {
					return errors.Wrap(err, errors.ErrCodeInternal, "failed to create step dependency")
				}
			}
		}

		return nil
	})
}

// loadSteps fetches the step templates for a definition ordered by position,
// with each template's dependency list.
func (r *DefinitionRepository) loadSteps(ctx context.Context, definitionID string) ([]*StepTemplate, error) {
	query := `
		SELECT id, definition_id, name, description, estimated_hours, assignee_rule, position, created_at
		FROM step_templates
		WHERE definition_id = $1
		ORDER BY position ASC
	`

	rows, err := r.db.Query(ctx, query, definitionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get step templates")
	}
	defer rows.Close()

	var steps []*StepTemplate
	byID := make(map[string]*StepTemplate)
	for rows.Next() {
		s := &StepTemplate{}
		err := rows.Scan(
			&s.ID,
			&s.DefinitionID,
			&s.Name,
			&s.Description,
			&s.EstimatedHours,
			&s.AssigneeRule,
			&s.Position,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan step template")
		}
		steps = append(steps, s)
		byID[s.ID] = s
	}
	rows.Close()

	depQuery := `
		SELECT d.step_template_id, d.depends_on_id
		FROM step_template_dependencies d
		JOIN step_templates s ON s.id = d.step_template_id
		WHERE s.definition_id = $1
	`

	depRows, err := r.db.Query(ctx, depQuery, definitionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get step dependencies")
	}
	defer depRows.Close()

	for depRows.Next() {
		var stepID, dependsOn string
		if err := depRows.Scan(&stepID, &dependsOn); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan step dependency")
		}
		if s, ok := byID[stepID]; ok {
			s.DependsOn = append(s.DependsOn, dependsOn)
		}
	}

	return steps, nil
}
