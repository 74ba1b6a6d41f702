package multiagent

import (
	"fmt"
	"sync"
)

// Arena holds the agent definitions of one deployment. Registration order
// does not matter: handoff targets stay unresolved strings until lookup, so
// an agent may point at peers registered after it, including itself through
// a cycle.
type Arena struct {
	mu     sync.RWMutex
	agents map[string]*AgentDefinition
	order  []string
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{agents: make(map[string]*AgentDefinition)}
}

// Register adds an agent definition. Re-registering a name replaces the
// earlier definition.
func (a *Arena) Register(def *AgentDefinition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("agent definition requires a name")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.agents[def.Name]; !exists {
		a.order = append(a.order, def.Name)
	}
	a.agents[def.Name] = def
	return nil
}

// Get resolves an agent by name.
func (a *Arena) Get(name string) (*AgentDefinition, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	def, ok := a.agents[name]
	return def, ok
}

// Agents returns the definitions in registration order.
func (a *Arena) Agents() []*AgentDefinition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*AgentDefinition, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.agents[name])
	}
	return out
}

// Targets resolves an agent's handoff targets to definitions. Unresolvable
// names are reported so misconfiguration surfaces at dispatch, not silently.
func (a *Arena) Targets(def *AgentDefinition) ([]*AgentDefinition, []string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var resolved []*AgentDefinition
	var missing []string
	for _, name := range def.HandoffTargets {
		target, ok := a.agents[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		resolved = append(resolved, target)
	}
	return resolved, missing
}
