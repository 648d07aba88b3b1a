package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasklane/be-workflows/internal/platform/errors"
	"github.com/tasklane/be-workflows/internal/repository"
)

// definition builds a test definition from a template id -> dependencies map
// given in declaration order.
func definition(steps ...*repository.StepTemplate) *repository.WorkflowDefinition {
	return &repository.WorkflowDefinition{
		ID:       "def-1",
		Name:     "test definition",
		IsActive: true,
		Steps:    steps,
	}
}

func step(id string, deps ...string) *repository.StepTemplate {
	return &repository.StepTemplate{ID: id, Name: id, DependsOn: deps}
}

func TestBuildGraphRejectsCycle(t *testing.T) {
	_, err := BuildGraph(definition(
		step("a", "b"),
		step("b", "a"),
	))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidDefinition))
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuildGraphRejectsSelfDependency(t *testing.T) {
	_, err := BuildGraph(definition(step("a", "a")))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidDefinition))
}

func TestBuildGraphRejectsUndeclaredDependency(t *testing.T) {
	_, err := BuildGraph(definition(step("a", "ghost")))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidDefinition))
	assert.Contains(t, err.Error(), "ghost")
}

func TestBuildGraphRejectsEmptyDefinition(t *testing.T) {
	_, err := BuildGraph(definition())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidDefinition))
}

func TestBuildGraphRejectsDuplicateStep(t *testing.T) {
	_, err := BuildGraph(definition(step("a"), step("a")))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidDefinition))
}

func TestRoots(t *testing.T) {
	g, err := BuildGraph(definition(
		step("a"),
		step("b", "a"),
		step("c", "a"),
		step("d", "b", "c"),
	))
	require.NoError(t, err)

	var ids []string
	for _, tmpl := range g.Roots() {
		ids = append(ids, tmpl.ID)
	}
	assert.Equal(t, []string{"a"}, ids)
}

func TestDirectDependents(t *testing.T) {
	g, err := BuildGraph(definition(
		step("a"),
		step("c", "a"),
		step("b", "a"),
		step("d", "b", "c"),
	))
	require.NoError(t, err)

	var ids []string
	for _, tmpl := range g.DirectDependents("a") {
		ids = append(ids, tmpl.ID)
	}
	assert.Equal(t, []string{"b", "c"}, ids, "dependents are deterministic")
	assert.Empty(t, g.DirectDependents("d"))
}

func TestEligible(t *testing.T) {
	g, err := BuildGraph(definition(
		step("a"),
		step("b", "a"),
		step("d", "b", "c"),
		step("c", "a"),
	))
	require.NoError(t, err)

	statuses := map[string]repository.AssignmentStatus{
		"a": repository.AssignmentCompleted,
		"b": repository.AssignmentCompleted,
	}

	assert.True(t, g.Eligible("b", statuses, false))
	assert.False(t, g.Eligible("d", statuses, false), "c is not terminal yet")

	statuses["c"] = repository.AssignmentSkipped
	assert.True(t, g.Eligible("d", statuses, false), "skip passes through by default")
	assert.False(t, g.Eligible("d", statuses, true), "skip blocks when the policy says so")
}

func TestBlockedPropagates(t *testing.T) {
	g, err := BuildGraph(definition(
		step("a"),
		step("b", "a"),
		step("c", "b"),
		step("d", "c"),
	))
	require.NoError(t, err)

	statuses := map[string]repository.AssignmentStatus{
		"a": repository.AssignmentCompleted,
		"b": repository.AssignmentSkipped,
	}

	blocked := g.Blocked(statuses, true)
	assert.True(t, blocked["c"])
	assert.True(t, blocked["d"], "blocking propagates transitively")
	assert.False(t, blocked["a"])
	assert.False(t, blocked["b"], "the skipped step itself is terminal, not blocked")

	assert.Empty(t, g.Blocked(statuses, false), "pass-through policy blocks nothing")
}

func TestIncomplete(t *testing.T) {
	g, err := BuildGraph(definition(
		step("a"),
		step("b", "a"),
	))
	require.NoError(t, err)

	statuses := map[string]repository.AssignmentStatus{
		"a": repository.AssignmentCompleted,
	}
	assert.True(t, g.Incomplete(statuses, nil), "b is not materialized")

	statuses["b"] = repository.AssignmentInProgress
	assert.True(t, g.Incomplete(statuses, nil), "b is open")

	statuses["b"] = repository.AssignmentSkipped
	assert.False(t, g.Incomplete(statuses, nil))
}

func TestIncompleteExcludesBlocked(t *testing.T) {
	g, err := BuildGraph(definition(
		step("a"),
		step("b", "a"),
	))
	require.NoError(t, err)

	statuses := map[string]repository.AssignmentStatus{
		"a": repository.AssignmentSkipped,
	}
	blocked := g.Blocked(statuses, true)
	assert.False(t, g.Incomplete(statuses, blocked),
		"a blocked template is vacuously satisfied")
}
