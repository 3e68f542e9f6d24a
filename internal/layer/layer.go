// Package layer creates and presents the per-output background surfaces.
// Each surface sits on the background layer, anchored to all four edges with exclusive zone -1,
// so the compositor sizes it to the whole output and never reserves space for it.
// Protocol events are forwarded to a Sink; the Sink runs on the dispatch goroutine and must not
// touch daemon state directly.
package layer

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"layerpaper/internal/wl"
)

// DefaultNamespace is the layer-shell namespace compositors see for our surfaces.
const DefaultNamespace = "layerpaper"

var ErrMissingGlobal = errors.New("required global missing")

// Sink receives surface events.
type Sink interface {
	Configure(s *Surface, serial, width, height uint32)
	Closed(s *Surface)
	PreferredScale(s *Surface, scale float64)
}

type Options struct {
	Namespace string
	// NoFractionalScale skips wp_fractional_scale_v1 even when the compositor offers it.
	NoFractionalScale bool
}

var nextID atomic.Uint64

// Surface is one layer surface bound to an output.
type Surface struct {
	id       uint64
	surface  wl.Surface
	layer    wl.LayerSurface
	viewport wl.Viewport
	frac     wl.FractionalScale
	comp     wl.Compositor

	listeners []wl.Listener

	scale     float64
	destroyed bool
}

// New creates the surface, its layer role and, when both globals exist, the fractional-scale and
// viewport objects, then performs the initial commit that asks the compositor for a configure.
func New(c wl.Client, out wl.Output, opts Options, sink Sink) (*Surface, error) {
	comp, shell := c.Compositor(), c.LayerShell()
	if comp == nil || shell == nil {
		return nil, fmt.Errorf("layer surface: %w", ErrMissingGlobal)
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}

	ws, err := comp.CreateSurface()
	if err != nil {
		return nil, fmt.Errorf("create surface: %w", err)
	}
	s := &Surface{id: nextID.Add(1), surface: ws, comp: comp}

	// An empty input region lets pointer events fall through to whatever is below.
	input, err := comp.CreateRegion()
	if err != nil {
		ws.Destroy()
		return nil, fmt.Errorf("create input region: %w", err)
	}
	ws.SetInputRegion(input)
	input.Destroy()

	ls, err := shell.GetLayerSurface(ws, out, wl.LayerBackground, opts.Namespace)
	if err != nil {
		ws.Destroy()
		return nil, fmt.Errorf("get layer surface: %w", err)
	}
	s.layer = ls
	ls.SetSize(0, 0)
	ls.SetAnchor(wl.AnchorAll)
	ls.SetExclusiveZone(-1)
	s.listeners = append(s.listeners, ls.Listen(wl.LayerSurfaceEvents{
		Configure: func(serial, w, h uint32) { sink.Configure(s, serial, w, h) },
		Closed:    func() { sink.Closed(s) },
	}))

	if fm, vp := c.FractionalScale(), c.Viewporter(); fm != nil && vp != nil && !opts.NoFractionalScale {
		if frac, err := fm.GetFractionalScale(ws); err == nil {
			s.frac = frac
			s.listeners = append(s.listeners, frac.Listen(wl.FractionalScaleEvents{
				PreferredScale: func(sc120 uint32) { sink.PreferredScale(s, float64(sc120)/120) },
			}))
			if v, err := vp.GetViewport(ws); err == nil {
				s.viewport = v
			} else {
				s.frac.Destroy()
				s.frac = nil
			}
		}
	}

	ws.Commit()
	return s, nil
}

func (s *Surface) ID() uint64 { return s.id }

// Fractional reports whether the surface renders through a viewport at a fractional scale.
func (s *Surface) Fractional() bool { return s.frac != nil && s.viewport != nil }

// Scale is the last preferred fractional scale, or 0 before the compositor sent one.
func (s *Surface) Scale() float64 { return s.scale }

// SetScale records a preferred scale and reports whether it changed.
func (s *Surface) SetScale(scale float64) bool {
	if s.scale == scale {
		return false
	}
	s.scale = scale
	return true
}

func (s *Surface) AckConfigure(serial uint32) {
	if s.destroyed {
		return
	}
	s.layer.AckConfigure(serial)
}

// Frame describes one presentation.
type Frame struct {
	Buffer wl.Buffer
	// Pixels is the buffer size, Logical the surface size in compositor coordinates.
	Pixels  image.Point
	Logical image.Point
	// BufferScale is the integer output scale used when no viewport is bound.
	BufferScale int32
}

// Present attaches, damages and commits a painted buffer.
func (s *Surface) Present(f Frame) error {
	if s.destroyed {
		return errors.New("present on destroyed surface")
	}
	s.surface.Attach(f.Buffer, 0, 0)
	if s.Fractional() {
		s.surface.SetBufferScale(1)
		s.viewport.SetDestination(int32(f.Logical.X), int32(f.Logical.Y))
	} else {
		scale := f.BufferScale
		if scale < 1 {
			scale = 1
		}
		s.surface.SetBufferScale(scale)
	}
	s.surface.DamageBuffer(0, 0, int32(f.Pixels.X), int32(f.Pixels.Y))

	if opaque, err := s.comp.CreateRegion(); err == nil {
		opaque.Add(0, 0, int32(f.Logical.X), int32(f.Logical.Y))
		s.surface.SetOpaqueRegion(opaque)
		opaque.Destroy()
	}
	s.surface.Commit()
	return nil
}

// Destroy tears down every protocol object. It is safe to call twice.
func (s *Surface) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	for _, l := range s.listeners {
		l.Remove()
	}
	s.listeners = nil
	if s.viewport != nil {
		s.viewport.Destroy()
	}
	if s.frac != nil {
		s.frac.Destroy()
	}
	s.layer.Destroy()
	s.surface.Destroy()
}
