package persona

import (
	"fmt"
	"sync"
)

// Info describes a registered persona.
type Info struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Voice       string   `json:"voice"`
	Tools       []string `json:"tools"`
	Scripted    bool     `json:"scripted"`
}

// Registry maps persona ids to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
	overrides map[string]PromptOverride
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		overrides: make(map[string]PromptOverride),
	}
}

// DefaultRegistry registers the six built-in personas.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(BaristaID, NewBarista)
	r.Register(TutorID, NewTutor)
	r.Register(SDRID, NewSDR)
	r.Register(FraudID, NewFraud)
	r.Register(ShoppingID, NewShopping)
	r.Register(GameMasterID, NewGameMaster)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(id string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; !exists {
		r.order = append(r.order, id)
	}
	r.factories[id] = factory
}

// SetOverrides replaces the prompt overrides applied by New.
func (r *Registry) SetOverrides(overrides map[string]PromptOverride) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = make(map[string]PromptOverride, len(overrides))
	for id, o := range overrides {
		r.overrides[id] = o
	}
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// IDs returns persona ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// New builds a fresh persona for one call.
func (r *Registry) New(id string, deps Deps) (Persona, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	override, hasOverride := r.overrides[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPersona, id)
	}

	p := factory(deps)
	if hasOverride {
		if o, ok := p.(overridable); ok {
			o.applyOverride(override)
		}
	}
	return p, nil
}

// List describes every persona in registration order.
func (r *Registry) List() []Info {
	infos := []Info{}
	for _, id := range r.IDs() {
		p, err := r.New(id, Deps{})
		if err != nil {
			continue
		}
		tools := []string{}
		for _, t := range p.Tools() {
			tools = append(tools, t.Name)
		}
		_, scripted := p.(Interceptor)
		infos = append(infos, Info{
			ID:          p.ID(),
			Name:        p.Name(),
			Description: p.Description(),
			Voice:       p.Voice(),
			Tools:       tools,
			Scripted:    scripted,
		})
	}
	return infos
}
