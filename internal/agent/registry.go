package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/taskmesh/taskmesh/internal/event"
	"github.com/taskmesh/taskmesh/pkg/oerr"
)

// Registry owns the set of known agents and their live status. It is a pure
// lookup/mutation surface: reservation of an agent for a task is the
// scheduler's job.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Instance
	bus    *event.Bus
}

func NewRegistry(bus *event.Bus) *Registry {
	return &Registry{
		agents: make(map[string]*Instance),
		bus:    bus,
	}
}

// Register creates an idle instance for the definition. The definition's
// DependsOn agents must already be registered.
func (r *Registry) Register(ctx context.Context, def *Definition) (*Instance, error) {
	if def == nil || def.ID == "" {
		return nil, oerr.New(oerr.InvalidDefinition, "agent definition requires an id", nil)
	}
	if def.Role == "" {
		return nil, oerr.Newf(oerr.InvalidDefinition, "agent %s requires a role", def.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[def.ID]; exists {
		return nil, oerr.Newf(oerr.DuplicateAgent, "agent %s is already registered", def.ID)
	}
	for _, dep := range def.DependsOn {
		if _, exists := r.agents[dep]; !exists {
			return nil, oerr.Newf(oerr.UnknownAgent, "agent %s depends on unregistered agent %s", def.ID, dep)
		}
	}

	inst := newInstance(def)
	r.agents[def.ID] = inst

	r.bus.Publish(ctx, event.AgentCreated, "registry", event.AgentCreatedData{
		AgentID: def.ID,
		Role:    def.Role,
	})
	return inst, nil
}

// Unregister removes an agent. Refused while the agent is busy so a running
// task never loses its worker underneath it.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, exists := r.agents[id]
	if !exists {
		return oerr.Newf(oerr.UnknownAgent, "agent %s is not registered", id)
	}
	if inst.Status() == StatusBusy {
		return oerr.Newf(oerr.AgentBusy, "agent %s is busy with task %s", id, inst.CurrentTaskID())
	}
	delete(r.agents, id)

	r.bus.Publish(ctx, event.AgentRemoved, "registry", event.AgentRemovedData{
		AgentID: id,
		Role:    inst.Role(),
	})
	return nil
}

// Get returns the instance for id.
func (r *Registry) Get(id string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, exists := r.agents[id]
	if !exists {
		return nil, oerr.Newf(oerr.UnknownAgent, "agent %s is not registered", id)
	}
	return inst, nil
}

// FindAvailable returns the idle agent with the given role and the highest
// definition priority, ties broken by id for determinism. Returns nil when
// no agent matches. This is a query, not a reservation.
func (r *Registry) FindAvailable(role string) *Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Instance
	for _, inst := range r.agents {
		if inst.Role() != role || !inst.IsAvailable() {
			continue
		}
		if best == nil ||
			inst.Definition.Priority > best.Definition.Priority ||
			(inst.Definition.Priority == best.Definition.Priority && inst.ID() < best.ID()) {
			best = inst
		}
	}
	return best
}

// List returns all registered agents ordered by id.
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]*Instance, 0, len(r.agents))
	for _, inst := range r.agents {
		agents = append(agents, inst)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID() < agents[j].ID() })
	return agents
}

// ListByRole returns all agents with the given role, ordered by id.
func (r *Registry) ListByRole(role string) []*Instance {
	var agents []*Instance
	for _, inst := range r.List() {
		if inst.Role() == role {
			agents = append(agents, inst)
		}
	}
	return agents
}

// IDs returns the ids of all registered agents.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CountByStatus returns how many agents are in each status.
func (r *Registry) CountByStatus() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Status]int)
	for _, inst := range r.agents {
		counts[inst.Status()]++
	}
	return counts
}

// SetStatus transitions an agent's status and publishes the change. Used by
// the scheduler for idle/busy flips and by hosts for waiting/offline.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status) error {
	inst, err := r.Get(id)
	if err != nil {
		return err
	}
	from := inst.Status()
	if from == status {
		return nil
	}
	inst.SetStatus(status)

	r.bus.Publish(ctx, event.AgentStatusChanged, "registry", event.AgentStatusChangedData{
		AgentID:    id,
		Role:       inst.Role(),
		FromStatus: string(from),
		ToStatus:   string(status),
	})
	return nil
}
