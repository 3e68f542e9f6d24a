package monitor

import "layerpaper/internal/layer"

// Registry holds monitors in discovery order.
type Registry struct {
	monitors []*Monitor
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Add(m *Monitor) {
	r.monitors = append(r.monitors, m)
}

// Remove drops the monitor announced under the registry name and returns it.
func (r *Registry) Remove(registryName uint32) *Monitor {
	for i, m := range r.monitors {
		if m.RegistryName == registryName {
			r.monitors = append(r.monitors[:i], r.monitors[i+1:]...)
			return m
		}
	}
	return nil
}

func (r *Registry) Get(registryName uint32) *Monitor {
	for _, m := range r.monitors {
		if m.RegistryName == registryName {
			return m
		}
	}
	return nil
}

// ByName finds a monitor by output name. Monitors that have not sent a name yet never match.
func (r *Registry) ByName(name string) *Monitor {
	if name == "" {
		return nil
	}
	for _, m := range r.monitors {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// BySurface finds the monitor owning s.
func (r *Registry) BySurface(s *layer.Surface) *Monitor {
	for _, m := range r.monitors {
		if m.Owns(s) {
			return m
		}
	}
	return nil
}

// All returns the monitors in discovery order.
func (r *Registry) All() []*Monitor {
	return append([]*Monitor(nil), r.monitors...)
}

func (r *Registry) Len() int { return len(r.monitors) }
