package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tasklane/be-workflows/internal/repository"
)

// assigneeResolver turns a step template's assignee rule into a user id at
// materialization time. Rules:
//
//	user:<id>    static assignee
//	role:<name>  first available user holding the role, via the directory
//
// A missing or unresolvable rule leaves the assignment unassigned so any
// user can claim it; directory outages degrade the same way instead of
// failing progression.
type assigneeResolver struct {
	directory Directory
	log       zerolog.Logger
}

// Resolve implements engine.AssigneeResolver. Prior assignments are accepted
// so future rules can react to earlier step outcomes; the built-in rules do
// not use them yet.
func (r *assigneeResolver) Resolve(ctx context.Context, tmpl *repository.StepTemplate, prior []*repository.Assignment) (*string, error) {
	if tmpl.AssigneeRule == nil || *tmpl.AssigneeRule == "" {
		return nil, nil
	}

	kind, value, found := strings.Cut(*tmpl.AssigneeRule, ":")
	if !found {
		r.log.Warn().
			Str("step_template_id", tmpl.ID).
			Str("rule", *tmpl.AssigneeRule).
			Msg("malformed assignee rule; leaving assignment unassigned")
		return nil, nil
	}

	switch kind {
	case "user":
		return &value, nil
	case "role":
		users, err := r.directory.UsersWithRole(ctx, value)
		if err != nil {
			r.log.Warn().Err(err).
				Str("role", value).
				Str("step_template_id", tmpl.ID).
				Msg("could not fetch users for role; assignment will be unassigned")
			return nil, nil
		}
		if len(users) == 0 {
			return nil, nil
		}
		return &users[0], nil
	default:
		r.log.Warn().
			Str("step_template_id", tmpl.ID).
			Str("rule", *tmpl.AssigneeRule).
			Msg("unknown assignee rule kind; leaving assignment unassigned")
		return nil, nil
	}
}
