package repository

import (
	"context"
	"encoding/json"

	"github.com/tasklane/be-workflows/internal/platform/database"
	"github.com/tasklane/be-workflows/internal/platform/errors"
)

// ActivityRepository appends and reads immutable activity log entries.
type ActivityRepository struct {
	db *database.DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *database.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append inserts one activity entry. The table is append-only; this is the
// only mutation operation exposed.
func (r *ActivityRepository) Append(ctx context.Context, entry *ActivityEntry) error {
	var detailJSON []byte
	if entry.Detail != nil {
		var err error
		detailJSON, err = json.Marshal(entry.Detail)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal activity detail")
		}
	}

	query := `
		INSERT INTO activity_log
		    (id, instance_id, assignment_id, action, performed_by, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING performed_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.ID,
		entry.InstanceID,
		entry.AssignmentID,
		entry.Action,
		entry.PerformedBy,
		detailJSON,
	).Scan(&entry.PerformedAt)
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to append activity entry")
}

// ListByInstance returns the activity trail for an instance, oldest first.
func (r *ActivityRepository) ListByInstance(ctx context.Context, instanceID string) ([]*ActivityEntry, error) {
	query := `
		SELECT id, instance_id, assignment_id, action, performed_by, performed_at, detail
		FROM activity_log
		WHERE instance_id = $1
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list activity entries")
	}
	defer rows.Close()

	var out []*ActivityEntry
	for rows.Next() {
		entry := &ActivityEntry{}
		var detailJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.InstanceID,
			&entry.AssignmentID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.PerformedAt,
			&detailJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan activity entry")
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &entry.Detail); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode activity detail")
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
