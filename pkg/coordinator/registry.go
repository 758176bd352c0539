/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package coordinator

import (
	"sync"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
)

// RegistryView is the narrow read surface the load balancer and failure
// manager depend on, so neither holds a back-pointer to the full
// Coordinator.
type RegistryView interface {
	Component(id string) (*ComponentDescriptor, bool)
	Health(id string) (*Health, bool)
	All() []*ComponentDescriptor
}

// Registry owns component descriptors and their derived health. Mutations
// are serialized; reads take a read lock.
type Registry struct {
	mu         sync.RWMutex
	components map[string]*ComponentDescriptor
	health     map[string]*Health
	dependents map[string][]string // id -> ids that declare it as a dependency
	bus        *EventBus
}

// NewRegistry returns an empty registry publishing to bus.
func NewRegistry(bus *EventBus) *Registry {
	return &Registry{
		components: make(map[string]*ComponentDescriptor),
		health:     make(map[string]*Health),
		dependents: make(map[string][]string),
		bus:        bus,
	}
}

// RegisterComponent validates dependencies, stores the descriptor,
// initializes health to UNKNOWN, and emits component:registered (plus
// component:dependency-available to each dependency's dependents).
func (r *Registry) RegisterComponent(d *ComponentDescriptor) error {
	if d.ID == "" {
		return apperrors.Validation("component id is required")
	}
	if !validComponentType(d.Type) {
		return apperrors.Validation("unknown component type").WithDetailsf("type=%s", d.Type)
	}

	r.mu.Lock()
	for _, dep := range d.Dependencies {
		if _, ok := r.components[dep]; !ok {
			r.mu.Unlock()
			return apperrors.New(apperrors.ErrorTypeNotFound, "DEPENDENCY_NOT_REGISTERED").WithDetailsf("dependency=%s", dep)
		}
	}

	r.components[d.ID] = d
	r.health[d.ID] = &Health{ComponentID: d.ID, Status: StatusUnknown}
	for _, dep := range d.Dependencies {
		r.dependents[dep] = append(r.dependents[dep], d.ID)
	}
	deps := r.dependents[d.ID]
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(Event{Name: "component:registered", Data: map[string]any{"id": d.ID, "type": d.Type}})
		for _, dependentID := range deps {
			r.bus.Publish(Event{Name: "component:dependency-available", Data: map[string]any{"id": dependentID, "dependency": d.ID}})
		}
	}
	return nil
}

// UnregisterComponent stops monitoring id and removes its descriptor,
// then emits component:unregistered. It does not redistribute load, and
// the load balancer does not subscribe to that event.
func (r *Registry) UnregisterComponent(id string) bool {
	r.mu.Lock()
	_, ok := r.components[id]
	if ok {
		delete(r.components, id)
		delete(r.health, id)
		for dep, ids := range r.dependents {
			r.dependents[dep] = removeString(ids, id)
		}
	}
	r.mu.Unlock()

	if ok && r.bus != nil {
		r.bus.Publish(Event{Name: "component:unregistered", Data: map[string]any{"id": id}})
	}
	return ok
}

// Component returns the descriptor for id, if registered.
func (r *Registry) Component(id string) (*ComponentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.components[id]
	return d, ok
}

// Health returns the live health record for id, if registered.
func (r *Registry) Health(id string) (*Health, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[id]
	return h, ok
}

// All returns every registered descriptor, order unspecified.
func (r *Registry) All() []*ComponentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ComponentDescriptor, 0, len(r.components))
	for _, d := range r.components {
		out = append(out, d)
	}
	return out
}

// SetHealth replaces the live health record for id, emitting
// component:health-changed when the status actually changes.
func (r *Registry) SetHealth(id string, h *Health) {
	r.mu.Lock()
	prev := r.health[id]
	r.health[id] = h
	r.mu.Unlock()

	if r.bus == nil {
		return
	}
	if prev == nil || prev.Status != h.Status {
		var old Status
		if prev != nil {
			old = prev.Status
		}
		r.bus.Publish(Event{Name: "component:health-changed", Data: map[string]any{
			"id": id, "from": old, "to": h.Status, "latency": h.LastLatency,
		}})
	}
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
