package service

import (
	"context"
	"sync"
	"time"

	"github.com/tasklane/be-workflows/internal/platform/errors"
	"github.com/tasklane/be-workflows/internal/repository"
)

// fakeStore implements every store interface the service consumes, with the
// same semantics as the Postgres repositories: unique materialization per
// (instance, template) and compare-and-set transitions.
type fakeStore struct {
	mu          sync.Mutex
	definitions map[string]*repository.WorkflowDefinition
	instances   map[string]*repository.WorkflowInstance
	assignments map[string]*repository.Assignment // by assignment id
	byPair      map[string]string                 // instance|template -> assignment id
	activity    []*repository.ActivityEntry

	// staleTransition forces assignment CAS failures, simulating a
	// concurrent writer landing between read and write.
	staleTransition bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		definitions: make(map[string]*repository.WorkflowDefinition),
		instances:   make(map[string]*repository.WorkflowInstance),
		assignments: make(map[string]*repository.Assignment),
		byPair:      make(map[string]string),
	}
}

func pairKey(instanceID, templateID string) string { return instanceID + "|" + templateID }

// ── DefinitionStore ───────────────────────────────────────────────────────────

func (f *fakeStore) GetByID(ctx context.Context, id string) (*repository.WorkflowDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.definitions[id]
	if !ok {
		return nil, errors.NotFound("workflow_definition", id)
	}
	return def, nil
}

func (f *fakeStore) List(ctx context.Context, activeOnly bool) ([]*repository.WorkflowDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.WorkflowDefinition
	for _, d := range f.definitions {
		if !activeOnly || d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

// ── InstanceStore ─────────────────────────────────────────────────────────────

type fakeInstances struct{ *fakeStore }

func (f fakeInstances) Create(ctx context.Context, inst *repository.WorkflowInstance, assignments []*repository.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *inst
	f.instances[inst.ID] = &cp
	for _, a := range assignments {
		ac := *a
		ac.CreatedAt = time.Now()
		f.assignments[a.ID] = &ac
		f.byPair[pairKey(a.InstanceID, a.StepTemplateID)] = a.ID
	}
	return nil
}

func (f fakeInstances) GetByID(ctx context.Context, id string) (*repository.WorkflowInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return nil, errors.NotFound("workflow_instance", id)
	}
	cp := *inst
	return &cp, nil
}

func (f fakeInstances) Transition(ctx context.Context, id string, from []repository.InstanceStatus, to repository.InstanceStatus, completedAt *time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
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

func (f fakeInstances) ListByDefinition(ctx context.Context, definitionID string) ([]*repository.WorkflowInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.WorkflowInstance
	for _, inst := range f.instances {
		if inst.DefinitionID == definitionID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ── AssignmentStore ───────────────────────────────────────────────────────────

type fakeAssignments struct{ *fakeStore }

func (f fakeAssignments) CreateIfAbsent(ctx context.Context, a *repository.Assignment) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := pairKey(a.InstanceID, a.StepTemplateID)
	if _, exists := f.byPair[k]; exists {
		return false, nil
	}
	cp := *a
	cp.CreatedAt = time.Now()
	f.assignments[a.ID] = &cp
	f.byPair[k] = a.ID
	return true, nil
}

func (f fakeAssignments) GetByID(ctx context.Context, id string) (*repository.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[id]
	if !ok {
		return nil, errors.NotFound("assignment", id)
	}
	cp := *a
	return &cp, nil
}

func (f fakeAssignments) ListByInstance(ctx context.Context, instanceID string) ([]*repository.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Assignment
	for _, a := range f.assignments {
		if a.InstanceID == instanceID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f fakeAssignments) ListForAssignee(ctx context.Context, userID string, openOnly bool) ([]*repository.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Assignment
	for _, a := range f.assignments {
		if a.AssigneeID == nil || *a.AssigneeID != userID {
			continue
		}
		if openOnly {
			inst := f.instances[a.InstanceID]
			if a.Status.Terminal() || inst == nil || inst.Status != repository.InstanceActive {
				continue
			}
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (f fakeAssignments) Transition(ctx context.Context, id string, from []repository.AssignmentStatus, to repository.AssignmentStatus, notes *string) (*repository.Assignment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[id]
	if !ok {
		return nil, false, errors.NotFound("assignment", id)
	}
	if f.staleTransition {
		cp := *a
		return &cp, false, nil
	}
	for _, s := range from {
		if a.Status == s {
			a.Status = to
			if notes != nil {
				a.Notes = notes
			}
			now := time.Now()
			switch {
			case to == repository.AssignmentInProgress:
				a.StartedAt = &now
			case to.Terminal():
				a.CompletedAt = &now
			}
			cp := *a
			return &cp, true, nil
		}
	}
	cp := *a
	return &cp, false, nil
}

// ── ActivityStore ─────────────────────────────────────────────────────────────

type fakeActivity struct{ *fakeStore }

func (f fakeActivity) Append(ctx context.Context, entry *repository.ActivityEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity = append(f.activity, entry)
	return nil
}

func (f fakeActivity) ListByInstance(ctx context.Context, instanceID string) ([]*repository.ActivityEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ActivityEntry
	for _, e := range f.activity {
		if e.InstanceID == instanceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) actions(instanceID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.activity {
		if e.InstanceID == instanceID {
			out = append(out, e.Action)
		}
	}
	return out
}

func (f *fakeStore) assignmentByPair(instanceID, templateID string) *repository.Assignment {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byPair[pairKey(instanceID, templateID)]
	if !ok {
		return nil
	}
	cp := *f.assignments[id]
	return &cp
}

// ── Directory and Publisher fakes ─────────────────────────────────────────────

type fakeDirectory struct {
	usersByRole map[string][]string
	err         error
}

func (d *fakeDirectory) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.usersByRole[role], nil
}

type fakePublisher struct {
	mu        sync.Mutex
	created   []string // assignment ids
	changed   []string
	completed []string // instance ids
}

func (p *fakePublisher) AssignmentCreated(ctx context.Context, a *repository.Assignment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, a.ID)
}

func (p *fakePublisher) AssignmentStatusChanged(ctx context.Context, a *repository.Assignment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, a.ID)
}

func (p *fakePublisher) InstanceCompleted(ctx context.Context, inst *repository.WorkflowInstance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, inst.ID)
}
