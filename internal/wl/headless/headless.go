// Package headless is an in-process display backend. It plays the compositor's part of the protocol:
// it announces virtual outputs, configures layer surfaces and reads back committed shm buffers.
// The daemon runs against it with --headless; tests use it to drive the whole pipeline.
package headless

import (
	"image"
	"sync"

	"layerpaper/internal/wl"
)

// OutputSpec describes a virtual output.
type OutputSpec struct {
	Name        string
	Description string
	Width       int32
	Height      int32
	Scale       int32
	Transform   wl.Transform
}

// Options selects which optional globals the backend advertises.
type Options struct {
	// FractionalScale advertises wp_fractional_scale_manager_v1 and wp_viewporter.
	FractionalScale bool
	// DmabufFormats advertises zwp_linux_dmabuf_v1 with these pairs when non-nil.
	DmabufFormats []wl.FormatModifier
	MainDevice    uint64
	// OnCommit is called on the committing goroutine with a copy of every shm frame presented.
	OnCommit func(output string, frame *image.RGBA)
}

// Client implements wl.Client.
type Client struct {
	opts Options

	mu       sync.Mutex
	pending  []func()
	wake     chan struct{}
	done     chan struct{}
	closed   bool
	handler  wl.OutputHandler
	outputs  map[uint32]*Output
	order    []uint32
	nextName uint32
	serial   uint32
	created  uint32
	surfaces []*Surface
	frames   map[string]*image.RGBA
	buffers  int

	dmabufGlobal *dmabuf

	dispatchMu sync.Mutex
}

func New(opts Options) *Client {
	return &Client{
		opts:     opts,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		outputs:  make(map[uint32]*Output),
		frames:   make(map[string]*image.RGBA),
		nextName: 1,
	}
}

func (c *Client) Compositor() wl.Compositor { return compositor{c} }
func (c *Client) Shm() wl.Shm               { return shm{c} }
func (c *Client) LayerShell() wl.LayerShell { return layerShell{c} }

func (c *Client) Viewporter() wl.Viewporter {
	if !c.opts.FractionalScale {
		return nil
	}
	return viewporter{c}
}

func (c *Client) FractionalScale() wl.FractionalScaleManager {
	if !c.opts.FractionalScale {
		return nil
	}
	return fractionalManager{c}
}

// LinuxDmabuf binds the dmabuf global on first use. Its formats and main device arrive as events, so
// they are only visible after the next Roundtrip or Dispatch.
func (c *Client) LinuxDmabuf() wl.LinuxDmabuf {
	if c.opts.DmabufFormats == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dmabufGlobal == nil {
		d := &dmabuf{c: c}
		c.dmabufGlobal = d
		formats := append([]wl.FormatModifier(nil), c.opts.DmabufFormats...)
		dev := c.opts.MainDevice
		c.queueLocked(func() {
			c.mu.Lock()
			d.formats, d.mainDevice = formats, dev
			c.mu.Unlock()
		})
	}
	return c.dmabufGlobal
}

func (c *Client) SetOutputHandler(h wl.OutputHandler) {
	c.mu.Lock()
	c.handler = h
	for _, name := range c.order {
		o := c.outputs[name]
		c.queueLocked(func() { h.OutputAdded(o) })
		c.queueLocked(o.announceLocked())
	}
	c.mu.Unlock()
}

// queueLocked appends an event for the dispatch goroutine. c.mu must be held.
func (c *Client) queueLocked(ev func()) {
	if c.closed {
		return
	}
	c.pending = append(c.pending, ev)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) queue(ev func()) {
	c.mu.Lock()
	c.queueLocked(ev)
	c.mu.Unlock()
}

func (c *Client) Dispatch() error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return wl.ErrClosed
		}
		evs := c.pending
		c.pending = nil
		c.mu.Unlock()

		if len(evs) > 0 {
			c.run(evs)
			return nil
		}
		select {
		case <-c.wake:
		case <-c.done:
		}
	}
}

// Roundtrip dispatches every queued event on the calling goroutine.
func (c *Client) Roundtrip() error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return wl.ErrClosed
		}
		evs := c.pending
		c.pending = nil
		c.mu.Unlock()
		if len(evs) == 0 {
			return nil
		}
		c.run(evs)
	}
}

func (c *Client) run(evs []func()) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	for _, ev := range evs {
		ev()
	}
}

func (c *Client) Flush() error { return nil }

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.pending = nil
	close(c.done)
	return nil
}

func (c *Client) nextSerial() uint32 {
	c.serial++
	return c.serial
}

// AddOutput announces a new output and returns its registry name.
func (c *Client) AddOutput(spec OutputSpec) uint32 {
	if spec.Scale == 0 {
		spec.Scale = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	o := &Output{c: c, name: c.nextName, spec: spec}
	c.nextName++
	c.outputs[o.name] = o
	c.order = append(c.order, o.name)
	if h := c.handler; h != nil {
		c.queueLocked(func() { h.OutputAdded(o) })
		c.queueLocked(o.announceLocked())
	}
	return o.name
}

// RemoveOutput withdraws the output global. Layer surfaces on it receive closed first.
func (c *Client) RemoveOutput(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.outputByNameLocked(name)
	if o == nil {
		return
	}
	delete(c.outputs, o.name)
	for i, n := range c.order {
		if n == o.name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	for _, s := range c.surfaces {
		if s.output == o && s.layer != nil && !s.destroyed {
			c.queueLocked(s.layer.closedEvent())
		}
	}
	delete(c.frames, name)
	if h := c.handler; h != nil {
		reg := o.name
		c.queueLocked(func() { h.OutputRemoved(reg) })
	}
}

// ResizeOutput changes the current mode and reconfigures the layer surfaces on the output.
func (c *Client) ResizeOutput(name string, width, height int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.outputByNameLocked(name)
	if o == nil {
		return
	}
	o.spec.Width, o.spec.Height = width, height
	c.queueLocked(o.announceLocked())
	c.reconfigureLocked(o)
}

// SetTransform changes the output transform and reconfigures the layer surfaces on the output.
func (c *Client) SetTransform(name string, t wl.Transform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.outputByNameLocked(name)
	if o == nil {
		return
	}
	o.spec.Transform = t
	c.queueLocked(o.announceLocked())
	c.reconfigureLocked(o)
}

func (c *Client) reconfigureLocked(o *Output) {
	for _, s := range c.surfaces {
		if s.output == o && s.layer != nil && s.layer.configured && !s.destroyed {
			c.queueLocked(s.layer.configureEventLocked())
		}
	}
}

// SetPreferredScale sends wp_fractional_scale_v1.preferred_scale to the surfaces on the output.
func (c *Client) SetPreferredScale(name string, scale120 uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.surfaces {
		if s.output == nil || s.output.spec.Name != name || s.fractional == nil || s.destroyed {
			continue
		}
		c.queueLocked(s.fractional.preferredEvent(scale120))
	}
}

// CloseLayerSurfaces sends closed to every live layer surface on the output.
func (c *Client) CloseLayerSurfaces(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.surfaces {
		if s.output != nil && s.output.spec.Name == name && s.layer != nil && !s.destroyed {
			c.queueLocked(s.layer.closedEvent())
		}
	}
}

// Frame returns the last shm frame committed on the output.
func (c *Client) Frame(name string) *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[name]
}

// LiveBuffers reports how many wl_buffers exist.
func (c *Client) LiveBuffers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffers
}

// SurfaceInfo is a snapshot of the state the client set on a surface.
type SurfaceInfo struct {
	// ID numbers surfaces in creation order, starting at 1.
	ID             uint32
	Output         string
	Namespace      string
	Layer          wl.Layer
	Anchor         wl.Anchor
	Width, Height  uint32
	ExclusiveZone  int32
	InputRegion    []image.Rectangle
	OpaqueRegion   []image.Rectangle
	BufferScale    int32
	AckedSerial    uint32
	Destination    image.Point
	HasViewport    bool
	HasFractional  bool
	Commits        int
	CommittedFrame image.Point

	// EarlyAttach reports a buffer commit that preceded every ack_configure.
	EarlyAttach bool
}

// Surfaces lists the live layer surfaces on the output, oldest first.
func (c *Client) Surfaces(name string) []SurfaceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []SurfaceInfo
	for _, s := range c.surfaces {
		if s.destroyed || s.layer == nil || s.output == nil || s.output.spec.Name != name {
			continue
		}
		info := SurfaceInfo{
			ID:             s.id,
			Output:         name,
			Namespace:      s.layer.namespace,
			Layer:          s.layer.layer,
			Anchor:         s.layer.anchor,
			Width:          s.layer.width,
			Height:         s.layer.height,
			ExclusiveZone:  s.layer.zone,
			InputRegion:    s.input,
			OpaqueRegion:   s.opaque,
			BufferScale:    s.scale,
			AckedSerial:    s.layer.acked,
			HasViewport:    s.viewport != nil,
			HasFractional:  s.fractional != nil,
			Commits:        s.commits,
			CommittedFrame: s.committedSize,
			EarlyAttach:    s.earlyAttach,
		}
		if s.viewport != nil {
			info.Destination = s.viewport.dest
		}
		out = append(out, info)
	}
	return out
}

func (c *Client) outputByNameLocked(name string) *Output {
	for _, o := range c.outputs {
		if o.spec.Name == name {
			return o
		}
	}
	return nil
}
