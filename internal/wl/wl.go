// Package wl describes the subset of the Wayland protocol objects the daemon talks to.
// A display backend implements these interfaces; the rest of the daemon never sees wire details.
// Event handlers registered through Listen run on the dispatch goroutine.
package wl

import "errors"

var (
	// ErrClosed is returned by Dispatch once the connection is closed.
	ErrClosed = errors.New("display connection closed")
	// ErrUnsupported is returned when an optional global is missing.
	ErrUnsupported = errors.New("protocol not supported by compositor")
)

// Listener is the handle of an event registration.
type Listener interface {
	Remove()
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func()

func (f ListenerFunc) Remove() { f() }

// Client is a connection to the compositor with its globals bound.
// Optional globals (viewporter, fractional scale, dmabuf) are nil when the compositor lacks them.
type Client interface {
	Compositor() Compositor
	Shm() Shm
	LayerShell() LayerShell
	Viewporter() Viewporter
	FractionalScale() FractionalScaleManager
	LinuxDmabuf() LinuxDmabuf

	// SetOutputHandler installs the handler for wl_output globals. Outputs announced before the call
	// are replayed to the handler.
	SetOutputHandler(OutputHandler)

	// Dispatch blocks until at least one event was read and dispatched.
	Dispatch() error
	Roundtrip() error
	Flush() error
	Close() error
}

// OutputHandler receives wl_output global announcements and removals.
type OutputHandler interface {
	OutputAdded(Output)
	OutputRemoved(registryName uint32)
}

// Output is a bound wl_output.
type Output interface {
	RegistryName() uint32
	Listen(OutputEvents) Listener
	Release()
}

// OutputEvents holds the wl_output event callbacks. Nil callbacks are ignored.
type OutputEvents struct {
	Geometry    func(g Geometry)
	Mode        func(flags uint32, width, height, refresh int32)
	Scale       func(factor int32)
	Name        func(name string)
	Description func(description string)
	Done        func()
}

// Geometry mirrors wl_output.geometry.
type Geometry struct {
	X, Y           int32
	PhysicalWidth  int32
	PhysicalHeight int32
	Subpixel       int32
	Make, Model    string
	Transform      Transform
}

// ModeCurrent is the wl_output.mode flag marking the active mode.
const ModeCurrent uint32 = 0x1

// Compositor is wl_compositor.
type Compositor interface {
	CreateSurface() (Surface, error)
	CreateRegion() (Region, error)
}

// Region is wl_region.
type Region interface {
	Add(x, y, width, height int32)
	Destroy()
}

// Surface is wl_surface.
type Surface interface {
	Attach(buffer Buffer, x, y int32)
	DamageBuffer(x, y, width, height int32)
	SetBufferScale(scale int32)
	SetInputRegion(r Region)
	SetOpaqueRegion(r Region)
	Commit()
	Destroy()
}

// Layer is the zwlr_layer_shell_v1 layer.
type Layer uint32

const (
	LayerBackground Layer = 0
	LayerBottom     Layer = 1
	LayerTop        Layer = 2
	LayerOverlay    Layer = 3
)

// Anchor is the zwlr_layer_surface_v1 anchor bitfield.
type Anchor uint32

const (
	AnchorTop    Anchor = 1
	AnchorBottom Anchor = 2
	AnchorLeft   Anchor = 4
	AnchorRight  Anchor = 8

	AnchorAll = AnchorTop | AnchorBottom | AnchorLeft | AnchorRight
)

// LayerShell is zwlr_layer_shell_v1.
type LayerShell interface {
	GetLayerSurface(s Surface, o Output, layer Layer, namespace string) (LayerSurface, error)
}

// LayerSurface is zwlr_layer_surface_v1.
type LayerSurface interface {
	SetSize(width, height uint32)
	SetAnchor(a Anchor)
	SetExclusiveZone(zone int32)
	AckConfigure(serial uint32)
	Listen(LayerSurfaceEvents) Listener
	Destroy()
}

type LayerSurfaceEvents struct {
	Configure func(serial, width, height uint32)
	Closed    func()
}

// Viewporter is wp_viewporter.
type Viewporter interface {
	GetViewport(s Surface) (Viewport, error)
}

// Viewport is wp_viewport.
type Viewport interface {
	SetDestination(width, height int32)
	Destroy()
}

// FractionalScaleManager is wp_fractional_scale_manager_v1.
type FractionalScaleManager interface {
	GetFractionalScale(s Surface) (FractionalScale, error)
}

// FractionalScale is wp_fractional_scale_v1. The preferred scale is sent in 120ths.
type FractionalScale interface {
	Listen(FractionalScaleEvents) Listener
	Destroy()
}

type FractionalScaleEvents struct {
	PreferredScale func(scale120 uint32)
}

// ShmFormat is a wl_shm pixel format.
type ShmFormat uint32

const (
	ShmFormatARGB8888 ShmFormat = 0
	ShmFormatXRGB8888 ShmFormat = 1
)

// Shm is wl_shm.
type Shm interface {
	CreatePool(fd int, size int32) (ShmPool, error)
}

// ShmPool is wl_shm_pool.
type ShmPool interface {
	CreateBuffer(offset, width, height, stride int32, format ShmFormat) (Buffer, error)
	Destroy()
}

// Buffer is wl_buffer.
type Buffer interface {
	Listen(BufferEvents) Listener
	Destroy()
}

type BufferEvents struct {
	Release func()
}

// FormatModifier is one (DRM fourcc, modifier) pair advertised by zwp_linux_dmabuf_v1.
type FormatModifier struct {
	Format   uint32
	Modifier uint64
}

// LinuxDmabuf is zwp_linux_dmabuf_v1 together with its default feedback, collected
// during the startup roundtrip.
type LinuxDmabuf interface {
	Formats() []FormatModifier
	// MainDevice returns the dev_t of the compositor's main device.
	MainDevice() (dev uint64, ok bool)
	CreateParams() (DmabufParams, error)
}

// DmabufParams is zwp_linux_buffer_params_v1.
type DmabufParams interface {
	Add(fd int, plane, offset, stride uint32, modifier uint64)
	CreateImmed(width, height int32, format, flags uint32) (Buffer, error)
	Destroy()
}
