package task

import (
	"sync"

	"github.com/taskmesh/taskmesh/pkg/oerr"
)

// Store owns task instances for one orchestrator session. In-memory only;
// instances are retained for history and never pruned here.
type Store struct {
	mu       sync.RWMutex
	tasks    map[string]*Instance
	order    []string
	watchers map[string][]chan *Instance
}

func NewStore() *Store {
	return &Store{
		tasks:    make(map[string]*Instance),
		watchers: make(map[string][]chan *Instance),
	}
}

// Create stores a new pending instance for the definition. maxRetries is
// the resolved retry budget (definition value or engine default).
func (s *Store) Create(def *Definition, maxRetries int) (*Instance, error) {
	if def == nil || def.ID == "" {
		return nil, oerr.New(oerr.InvalidDefinition, "task definition requires an id", nil)
	}
	if def.RequiredRole == "" {
		return nil, oerr.Newf(oerr.InvalidDefinition, "task %s requires a role", def.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[def.ID]; exists {
		return nil, oerr.Newf(oerr.InvalidDefinition, "task %s already exists", def.ID)
	}
	inst := newInstance(def, maxRetries)
	s.tasks[def.ID] = inst
	s.order = append(s.order, def.ID)
	return inst, nil
}

func (s *Store) Get(id string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.tasks[id]
	if !exists {
		return nil, oerr.Newf(oerr.UnknownTask, "task %s does not exist", id)
	}
	return inst, nil
}

// List returns all instances in creation order.
func (s *Store) List() []*Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*Instance, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, s.tasks[id])
	}
	return tasks
}

// CountByStatus returns how many tasks are in each status.
func (s *Store) CountByStatus() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	for _, inst := range s.tasks {
		counts[inst.Status()]++
	}
	return counts
}

// DependenciesMet reports whether every dependency of the task is completed.
// Unknown dependency ids count as unmet so the task stays parked rather
// than running against a missing prerequisite.
func (s *Store) DependenciesMet(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.tasks[id]
	if !exists {
		return false
	}
	for _, dep := range inst.Definition.DependsOn {
		depInst, ok := s.tasks[dep]
		if !ok || depInst.Status() != StatusCompleted {
			return false
		}
	}
	return true
}

// Watch returns a channel that receives the instance once it reaches a
// terminal status. Already-terminal tasks are delivered immediately. Each
// channel fires at most once.
func (s *Store) Watch(id string) (<-chan *Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, exists := s.tasks[id]
	if !exists {
		return nil, oerr.Newf(oerr.UnknownTask, "task %s does not exist", id)
	}

	ch := make(chan *Instance, 1)
	if inst.Status().Terminal() {
		ch <- inst
		return ch, nil
	}
	s.watchers[id] = append(s.watchers[id], ch)
	return ch, nil
}

// NotifyTerminal delivers the instance to its watchers. Called by the
// scheduler after a terminal transition.
func (s *Store) NotifyTerminal(inst *Instance) {
	s.mu.Lock()
	watchers := s.watchers[inst.ID()]
	delete(s.watchers, inst.ID())
	s.mu.Unlock()

	for _, ch := range watchers {
		ch <- inst
	}
}
