// Package engine implements the workflow progression core: the dependency
// graph over step templates, the per-assignment state machine, lazy
// materialization of eligible steps, and instance completion evaluation.
// Graph and eligibility logic is pure; persistence happens behind narrow
// store interfaces so the rules are testable without a database.
package engine

import (
	"sort"
	"strings"

	"github.com/tasklane/be-workflows/internal/platform/errors"
	"github.com/tasklane/be-workflows/internal/repository"
)

// Graph is the dependency graph of a workflow definition.
type Graph struct {
	steps      map[string]*repository.StepTemplate
	dependents map[string][]string
	ordered    []string // template ids in declaration order
}

// BuildGraph validates a definition's step templates and returns its
// dependency graph. Fails with InvalidDefinition when a dependency references
// an undeclared template or the graph contains a cycle; no instance state is
// touched before this check passes.
func BuildGraph(def *repository.WorkflowDefinition) (*Graph, error) {
	if len(def.Steps) == 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidDefinition,
			"workflow definition %s has no steps", def.ID)
	}

	g := &Graph{
		steps:      make(map[string]*repository.StepTemplate, len(def.Steps)),
		dependents: make(map[string][]string),
	}
	for _, s := range def.Steps {
		if _, dup := g.steps[s.ID]; dup {
			return nil, errors.Newf(errors.ErrCodeInvalidDefinition,
				"step template %s declared twice", s.ID)
		}
		g.steps[s.ID] = s
		g.ordered = append(g.ordered, s.ID)
	}
	for _, s := range def.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := g.steps[dep]; !ok {
				return nil, errors.Newf(errors.ErrCodeInvalidDefinition,
					"step %s depends on undeclared step %s", s.ID, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], s.ID)
		}
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidDefinition,
			"dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	return g, nil
}

// findCycle runs Kahn's algorithm and returns the leftover nodes when the
// topological sort cannot consume the whole graph.
func (g *Graph) findCycle() []string {
	indegree := make(map[string]int, len(g.steps))
	for id, s := range g.steps {
		indegree[id] = len(s.DependsOn)
	}

	var queue []string
	for _, id := range g.ordered {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range g.dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited == len(g.steps) {
		return nil
	}
	var cycle []string
	for _, id := range g.ordered {
		if indegree[id] > 0 {
			cycle = append(cycle, id)
		}
	}
	return cycle
}

// Step returns the template with the given id, or nil.
func (g *Graph) Step(id string) *repository.StepTemplate { return g.steps[id] }

// Roots returns the templates with no dependencies, in declaration order.
func (g *Graph) Roots() []*repository.StepTemplate {
	var roots []*repository.StepTemplate
	for _, id := range g.ordered {
		if len(g.steps[id].DependsOn) == 0 {
			roots = append(roots, g.steps[id])
		}
	}
	return roots
}

// DirectDependents returns the templates that directly depend on the given
// template, in deterministic order.
func (g *Graph) DirectDependents(id string) []*repository.StepTemplate {
	var out []*repository.StepTemplate
	for _, depID := range g.dependents[id] {
		out = append(out, g.steps[depID])
	}
	return out
}

// statusByTemplate indexes assignment statuses by step template id.
func statusByTemplate(assignments []*repository.Assignment) map[string]repository.AssignmentStatus {
	byTemplate := make(map[string]repository.AssignmentStatus, len(assignments))
	for _, a := range assignments {
		byTemplate[a.StepTemplateID] = a.Status
	}
	return byTemplate
}

// satisfies reports whether a dependency's assignment status releases its
// dependents under the given skip policy.
func satisfies(status repository.AssignmentStatus, skipBlocks bool) bool {
	if status == repository.AssignmentCompleted {
		return true
	}
	return status == repository.AssignmentSkipped && !skipBlocks
}

// Eligible reports whether every dependency of the template is terminal and
// satisfying: the template may be materialized.
func (g *Graph) Eligible(templateID string, statuses map[string]repository.AssignmentStatus, skipBlocks bool) bool {
	s := g.steps[templateID]
	if s == nil {
		return false
	}
	for _, dep := range s.DependsOn {
		if !satisfies(statuses[dep], skipBlocks) {
			return false
		}
	}
	return true
}

// Blocked returns the template ids whose dependencies can never be satisfied
// because a predecessor was skipped under a blocking skip policy. Blocking
// propagates: dependents of a blocked template are blocked too. With the
// default pass-through policy the result is always empty.
func (g *Graph) Blocked(statuses map[string]repository.AssignmentStatus, skipBlocks bool) map[string]bool {
	blocked := make(map[string]bool)
	if !skipBlocks {
		return blocked
	}
	var mark func(id string)
	mark = func(id string) {
		for _, dep := range g.dependents[id] {
			if !blocked[dep] {
				blocked[dep] = true
				mark(dep)
			}
		}
	}
	for id, status := range statuses {
		if status == repository.AssignmentSkipped {
			mark(id)
		}
	}
	return blocked
}

// Incomplete reports whether any template outside the blocked set lacks a
// terminal assignment: either un-materialized or still open. The instance may
// close only when this returns false, which also guards against evaluating
// completion mid-materialization (an eligible-but-uncreated step counts as
// incomplete).
func (g *Graph) Incomplete(statuses map[string]repository.AssignmentStatus, blocked map[string]bool) bool {
	for _, id := range g.ordered {
		if blocked[id] {
			continue
		}
		status, materialized := statuses[id]
		if !materialized || !status.Terminal() {
			return true
		}
	}
	return false
}
