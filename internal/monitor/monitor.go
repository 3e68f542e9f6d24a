// Package monitor tracks the outputs announced by the compositor and the per-output surface state
// the reconciliation loop drives.
package monitor

import (
	"image"
	"math"

	"layerpaper/internal/layer"
	"layerpaper/internal/wl"
)

// State is the lifecycle position of a monitor.
type State int

const (
	Discovered State = iota
	Ready
	NoTarget
	HasTarget
	SurfacePending
	Configured
	Rendered
	Removed
)

func (s State) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Ready:
		return "ready"
	case NoTarget:
		return "no-target"
	case HasTarget:
		return "has-target"
	case SurfacePending:
		return "surface-pending"
	case Configured:
		return "configured"
	case Rendered:
		return "rendered"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Monitor is one output. Everything here is owned by the manager goroutine.
type Monitor struct {
	Name         string
	Description  string
	RegistryName uint32
	Output       wl.Output

	// Mode is the current mode in panel orientation, in pixels.
	Mode      image.Point
	Scale     int32
	Transform wl.Transform
	// Size is the surface-local size in compositor coordinates.
	Size image.Point

	ReadyForSurface bool
	HasTarget       bool
	WantsAck        bool
	WantsReload     bool
	Initialized     bool
	ConfigureSerial uint32

	// Surfaces holds every live surface, Current among them.
	Surfaces []*layer.Surface
	Current  *layer.Surface

	state    State
	listener wl.Listener
}

func New(out wl.Output) *Monitor {
	return &Monitor{Output: out, RegistryName: out.RegistryName(), Scale: 1}
}

func (m *Monitor) State() State { return m.state }

func (m *Monitor) SetState(s State) { m.state = s }

// SetListener stores the output listener so removal can unhook it.
func (m *Monitor) SetListener(l wl.Listener) { m.listener = l }

// ApplyTransform records a new transform. When the quarter-turn parity flips, the cached size is swapped.
func (m *Monitor) ApplyTransform(t wl.Transform) {
	if t.SwapsAxes() != m.Transform.SwapsAxes() {
		m.Size = image.Pt(m.Size.Y, m.Size.X)
	}
	m.Transform = t
}

// ApplyDone finalizes a metadata burst. Before the first configure the size is derived from the mode.
// It reports whether this was the first done.
func (m *Monitor) ApplyDone() bool {
	first := !m.ReadyForSurface
	m.ReadyForSurface = true
	if !m.Initialized && m.Mode != (image.Point{}) {
		scale := m.Scale
		if scale < 1 {
			scale = 1
		}
		sz := image.Pt(m.Mode.X/int(scale), m.Mode.Y/int(scale))
		if m.Transform.SwapsAxes() {
			sz = image.Pt(sz.Y, sz.X)
		}
		m.Size = sz
	}
	if m.state == Discovered {
		m.state = Ready
	}
	return first
}

// ApplyConfigure records a layer-surface configure. Zero dimensions keep the current size.
func (m *Monitor) ApplyConfigure(serial, w, h uint32) {
	if w > 0 && h > 0 {
		m.Size = image.Pt(int(w), int(h))
	}
	m.ConfigureSerial = serial
	m.WantsAck = true
	m.WantsReload = true
	m.Initialized = true
	if m.state < Configured {
		m.state = Configured
	}
}

// EffectiveScale is the fractional scale of the current surface when it has one, else the integer scale.
func (m *Monitor) EffectiveScale() float64 {
	if m.Current != nil && m.Current.Fractional() && m.Current.Scale() > 0 {
		return m.Current.Scale()
	}
	if m.Scale < 1 {
		return 1
	}
	return float64(m.Scale)
}

// PixelSize is the buffer size a paint needs.
func (m *Monitor) PixelSize() image.Point {
	s := m.EffectiveScale()
	return image.Pt(int(math.Round(float64(m.Size.X)*s)), int(math.Round(float64(m.Size.Y)*s)))
}

// AddSurface makes s current and keeps the previous ones until PruneSurfaces.
func (m *Monitor) AddSurface(s *layer.Surface) {
	m.Surfaces = append(m.Surfaces, s)
	m.Current = s
	m.WantsAck = false
	m.state = SurfacePending
}

// DropSurface forgets s after the compositor closed it. When s was current the oldest remaining
// surface is promoted; it reports whether the current surface changed.
func (m *Monitor) DropSurface(s *layer.Surface) bool {
	found := false
	for i, o := range m.Surfaces {
		if o == s {
			m.Surfaces = append(m.Surfaces[:i], m.Surfaces[i+1:]...)
			found = true
			break
		}
	}
	if !found || m.Current != s {
		return false
	}
	if len(m.Surfaces) == 0 {
		m.Current = nil
		m.WantsAck = false
		m.state = Ready
		return true
	}
	// Older surfaces were configured while they were current.
	m.Current = m.Surfaces[0]
	m.WantsReload = true
	m.state = Configured
	return true
}

// PruneSurfaces destroys every surface other than the current one.
func (m *Monitor) PruneSurfaces() {
	kept := m.Surfaces[:0]
	for _, s := range m.Surfaces {
		if s == m.Current {
			kept = append(kept, s)
			continue
		}
		s.Destroy()
	}
	m.Surfaces = kept
}

// ClearSurfaces destroys every surface after the monitor lost its target.
func (m *Monitor) ClearSurfaces() {
	for _, s := range m.Surfaces {
		s.Destroy()
	}
	m.Surfaces = nil
	m.Current = nil
	m.HasTarget = false
	m.WantsAck, m.WantsReload = false, false
	m.state = NoTarget
}

// Teardown destroys all surfaces and unhooks the output listener.
func (m *Monitor) Teardown() {
	for _, s := range m.Surfaces {
		s.Destroy()
	}
	m.Surfaces = nil
	m.Current = nil
	if m.listener != nil {
		m.listener.Remove()
		m.listener = nil
	}
	m.WantsAck, m.WantsReload = false, false
	m.state = Removed
}

// Owns reports whether s belongs to this monitor.
func (m *Monitor) Owns(s *layer.Surface) bool {
	for _, o := range m.Surfaces {
		if o == s {
			return true
		}
	}
	return false
}
