package engine

import (
	"context"
	"sync"
	"time"

	"github.com/tasklane/be-workflows/internal/platform/errors"
	"github.com/tasklane/be-workflows/internal/repository"
)

// memStore is an in-memory InstanceStore + AssignmentStore with the same
// guarantees as the Postgres repositories: unique (instance, template)
// materialization and compare-and-set transitions.
type memStore struct {
	mu          sync.Mutex
	instances   map[string]*repository.WorkflowInstance
	assignments map[string]*repository.Assignment // key: instance|template
}

func newMemStore() *memStore {
	return &memStore{
		instances:   make(map[string]*repository.WorkflowInstance),
		assignments: make(map[string]*repository.Assignment),
	}
}

func key(instanceID, templateID string) string { return instanceID + "|" + templateID }

func (m *memStore) Create(ctx context.Context, inst *repository.WorkflowInstance, assignments []*repository.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inst
	m.instances[inst.ID] = &cp
	for _, a := range assignments {
		ac := *a
		ac.CreatedAt = time.Now()
		m.assignments[key(a.InstanceID, a.StepTemplateID)] = &ac
	}
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*repository.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, errors.NotFound("workflow_instance", id)
	}
	cp := *inst
	return &cp, nil
}

func (m *memStore) Transition(ctx context.Context, id string, from []repository.InstanceStatus, to repository.InstanceStatus, completedAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return false, errors.NotFound("workflow_instance", id)
	}
	for _, s := range from {
		if inst.Status == s {
			inst.Status = to
			if completedAt != nil {
				inst.CompletedAt = completedAt
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateIfAbsent(ctx context.Context, a *repository.Assignment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(a.InstanceID, a.StepTemplateID)
	if _, exists := m.assignments[k]; exists {
		return false, nil
	}
	cp := *a
	cp.CreatedAt = time.Now()
	m.assignments[k] = &cp
	return true, nil
}

func (m *memStore) ListByInstance(ctx context.Context, instanceID string) ([]*repository.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Assignment
	for _, a := range m.assignments {
		if a.InstanceID == instanceID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// setStatus flips an assignment's status directly, standing in for the state
// machine's persisted transition.
func (m *memStore) setStatus(instanceID, templateID string, status repository.AssignmentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.assignments[key(instanceID, templateID)]; ok {
		a.Status = status
	}
}

func (m *memStore) get(instanceID, templateID string) *repository.Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[key(instanceID, templateID)]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

func (m *memStore) countAssignments(instanceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.assignments {
		if a.InstanceID == instanceID {
			n++
		}
	}
	return n
}

// nilResolver leaves everything unassigned.
type nilResolver struct{}

func (nilResolver) Resolve(ctx context.Context, tmpl *repository.StepTemplate, prior []*repository.Assignment) (*string, error) {
	return nil, nil
}

// recordingSink counts emitted events.
type recordingSink struct {
	mu        sync.Mutex
	created   []*repository.Assignment
	completed []*repository.WorkflowInstance
}

func (s *recordingSink) AssignmentCreated(ctx context.Context, a *repository.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, a)
}

func (s *recordingSink) InstanceCompleted(ctx context.Context, inst *repository.WorkflowInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, inst)
}

func (s *recordingSink) completedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed)
}
