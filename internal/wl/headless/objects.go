package headless

import (
	"errors"
	"image"
	"sync"

	"golang.org/x/sys/unix"

	"layerpaper/internal/wl"
)

var errBadBuffer = errors.New("headless: buffer outside pool")

// listeners is a small registry of event callback sets.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	set  map[int]T
}

func (l *listeners[T]) add(v T) wl.Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set == nil {
		l.set = make(map[int]T)
	}
	id := l.next
	l.next++
	l.set[id] = v
	return wl.ListenerFunc(func() {
		l.mu.Lock()
		delete(l.set, id)
		l.mu.Unlock()
	})
}

func (l *listeners[T]) each(fn func(T)) {
	l.mu.Lock()
	vs := make([]T, 0, len(l.set))
	for i := 0; i < l.next; i++ {
		if v, ok := l.set[i]; ok {
			vs = append(vs, v)
		}
	}
	l.mu.Unlock()
	for _, v := range vs {
		fn(v)
	}
}

// Output implements wl.Output.
type Output struct {
	c    *Client
	name uint32
	spec OutputSpec
	ls   listeners[wl.OutputEvents]
}

func (o *Output) RegistryName() uint32                    { return o.name }
func (o *Output) Listen(ev wl.OutputEvents) wl.Listener { return o.ls.add(ev) }
func (o *Output) Release()                                {}

// announceLocked captures the current metadata as an event burst ending with done.
func (o *Output) announceLocked() func() {
	spec := o.spec
	return func() {
		o.ls.each(func(ev wl.OutputEvents) {
			if ev.Geometry != nil {
				ev.Geometry(wl.Geometry{Make: "headless", Model: spec.Name, Transform: spec.Transform})
			}
			if ev.Mode != nil {
				ev.Mode(wl.ModeCurrent, spec.Width*spec.Scale, spec.Height*spec.Scale, 60000)
			}
			if ev.Scale != nil {
				ev.Scale(spec.Scale)
			}
			if ev.Name != nil {
				ev.Name(spec.Name)
			}
			if ev.Description != nil {
				ev.Description(spec.Description)
			}
			if ev.Done != nil {
				ev.Done()
			}
		})
	}
}

// logical returns the surface-local size of the output.
func (s OutputSpec) logical() (uint32, uint32) {
	w, h := s.Width, s.Height
	if s.Transform.SwapsAxes() {
		w, h = h, w
	}
	return uint32(w), uint32(h)
}

type compositor struct{ c *Client }

func (k compositor) CreateSurface() (wl.Surface, error) {
	s := &Surface{c: k.c, scale: 1}
	k.c.mu.Lock()
	k.c.created++
	s.id = k.c.created
	k.c.surfaces = append(k.c.surfaces, s)
	k.c.mu.Unlock()
	return s, nil
}

func (k compositor) CreateRegion() (wl.Region, error) { return &Region{}, nil }

// Region implements wl.Region.
type Region struct {
	rects []image.Rectangle
}

func (r *Region) Add(x, y, w, h int32) {
	r.rects = append(r.rects, image.Rect(int(x), int(y), int(x+w), int(y+h)))
}

func (r *Region) Destroy() {}

// Surface implements wl.Surface.
type Surface struct {
	c          *Client
	id         uint32
	output     *Output
	layer      *LayerSurface
	viewport   *viewport
	fractional *fractionalScale

	attached      *Buffer
	scale         int32
	input         []image.Rectangle
	opaque        []image.Rectangle
	commits       int
	committedSize image.Point

	// earlyAttach is set when a buffer was committed before any configure was acked.
	earlyAttach bool
	destroyed   bool
}

func (s *Surface) Attach(b wl.Buffer, x, y int32) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if b == nil {
		s.attached = nil
		return
	}
	s.attached = b.(*Buffer)
}

func (s *Surface) DamageBuffer(x, y, w, h int32) {}

func (s *Surface) SetBufferScale(scale int32) {
	s.c.mu.Lock()
	s.scale = scale
	s.c.mu.Unlock()
}

func (s *Surface) SetInputRegion(r wl.Region) {
	s.c.mu.Lock()
	s.input = append([]image.Rectangle{}, r.(*Region).rects...)
	s.c.mu.Unlock()
}

func (s *Surface) SetOpaqueRegion(r wl.Region) {
	s.c.mu.Lock()
	s.opaque = append([]image.Rectangle{}, r.(*Region).rects...)
	s.c.mu.Unlock()
}

func (s *Surface) Commit() {
	c := s.c
	c.mu.Lock()
	if s.destroyed {
		c.mu.Unlock()
		return
	}
	s.commits++
	if s.layer != nil && !s.layer.configured {
		s.layer.configured = true
		c.queueLocked(s.layer.configureEventLocked())
	}
	b := s.attached
	var frame *image.RGBA
	if b != nil && !b.destroyed {
		if s.layer != nil && s.layer.acked == 0 {
			s.earlyAttach = true
		}
		s.committedSize = image.Pt(int(b.w), int(b.h))
		frame = b.read()
		if frame != nil && s.output != nil {
			c.frames[s.output.spec.Name] = frame
		}
		c.queueLocked(b.releaseEvent())
	}
	onCommit := c.opts.OnCommit
	var outName string
	if s.output != nil {
		outName = s.output.spec.Name
	}
	c.mu.Unlock()

	if frame != nil && onCommit != nil {
		onCommit(outName, frame)
	}
}

func (s *Surface) Destroy() {
	s.c.mu.Lock()
	s.destroyed = true
	s.c.mu.Unlock()
}

type layerShell struct{ c *Client }

func (k layerShell) GetLayerSurface(s wl.Surface, o wl.Output, layer wl.Layer, namespace string) (wl.LayerSurface, error) {
	surf := s.(*Surface)
	out, _ := o.(*Output)
	ls := &LayerSurface{surf: surf, layer: layer, namespace: namespace}
	k.c.mu.Lock()
	surf.output = out
	surf.layer = ls
	k.c.mu.Unlock()
	return ls, nil
}

// LayerSurface implements wl.LayerSurface.
type LayerSurface struct {
	surf       *Surface
	layer      wl.Layer
	namespace  string
	anchor     wl.Anchor
	width      uint32
	height     uint32
	zone       int32
	acked      uint32
	configured bool
	ls         listeners[wl.LayerSurfaceEvents]
}

func (l *LayerSurface) SetSize(w, h uint32) {
	l.surf.c.mu.Lock()
	l.width, l.height = w, h
	l.surf.c.mu.Unlock()
}

func (l *LayerSurface) SetAnchor(a wl.Anchor) {
	l.surf.c.mu.Lock()
	l.anchor = a
	l.surf.c.mu.Unlock()
}

func (l *LayerSurface) SetExclusiveZone(z int32) {
	l.surf.c.mu.Lock()
	l.zone = z
	l.surf.c.mu.Unlock()
}

func (l *LayerSurface) AckConfigure(serial uint32) {
	l.surf.c.mu.Lock()
	l.acked = serial
	l.surf.c.mu.Unlock()
}

func (l *LayerSurface) Listen(ev wl.LayerSurfaceEvents) wl.Listener { return l.ls.add(ev) }

func (l *LayerSurface) Destroy() {
	l.surf.c.mu.Lock()
	l.surf.destroyed = true
	l.surf.c.mu.Unlock()
}

func (l *LayerSurface) configureEventLocked() func() {
	serial := l.surf.c.nextSerial()
	var w, h uint32
	if l.surf.output != nil {
		w, h = l.surf.output.spec.logical()
	}
	return func() {
		l.ls.each(func(ev wl.LayerSurfaceEvents) {
			if ev.Configure != nil {
				ev.Configure(serial, w, h)
			}
		})
	}
}

func (l *LayerSurface) closedEvent() func() {
	return func() {
		l.ls.each(func(ev wl.LayerSurfaceEvents) {
			if ev.Closed != nil {
				ev.Closed()
			}
		})
	}
}

type viewporter struct{ c *Client }

func (k viewporter) GetViewport(s wl.Surface) (wl.Viewport, error) {
	v := &viewport{c: k.c}
	k.c.mu.Lock()
	s.(*Surface).viewport = v
	k.c.mu.Unlock()
	return v, nil
}

type viewport struct {
	c    *Client
	dest image.Point
}

func (v *viewport) SetDestination(w, h int32) {
	v.c.mu.Lock()
	v.dest = image.Pt(int(w), int(h))
	v.c.mu.Unlock()
}

func (v *viewport) Destroy() {}

type fractionalManager struct{ c *Client }

func (k fractionalManager) GetFractionalScale(s wl.Surface) (wl.FractionalScale, error) {
	f := &fractionalScale{}
	k.c.mu.Lock()
	s.(*Surface).fractional = f
	k.c.mu.Unlock()
	return f, nil
}

type fractionalScale struct {
	ls listeners[wl.FractionalScaleEvents]
}

func (f *fractionalScale) Listen(ev wl.FractionalScaleEvents) wl.Listener { return f.ls.add(ev) }
func (f *fractionalScale) Destroy()                                       {}

func (f *fractionalScale) preferredEvent(scale120 uint32) func() {
	return func() {
		f.ls.each(func(ev wl.FractionalScaleEvents) {
			if ev.PreferredScale != nil {
				ev.PreferredScale(scale120)
			}
		})
	}
}

type shm struct{ c *Client }

// CreatePool maps the file the way a compositor does. The mapping outlives the fd.
func (k shm) CreatePool(fd int, size int32) (wl.ShmPool, error) {
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &shmPool{c: k.c, data: data, refs: 1}, nil
}

type shmPool struct {
	c    *Client
	data []byte
	refs int
}

func (p *shmPool) CreateBuffer(offset, w, h, stride int32, format wl.ShmFormat) (wl.Buffer, error) {
	if int(offset)+int(stride)*int(h) > len(p.data) {
		return nil, errBadBuffer
	}
	p.c.mu.Lock()
	p.refs++
	p.c.buffers++
	p.c.mu.Unlock()
	return &Buffer{c: p.c, pool: p, offset: offset, w: w, h: h, stride: stride, format: format}, nil
}

func (p *shmPool) Destroy() {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	p.unrefLocked()
}

func (p *shmPool) unrefLocked() {
	p.refs--
	if p.refs == 0 && p.data != nil {
		unix.Munmap(p.data)
		p.data = nil
	}
}

// Buffer implements wl.Buffer for shm and dmabuf buffers. Dmabuf buffers have no pool.
type Buffer struct {
	c         *Client
	pool      *shmPool
	offset    int32
	w, h      int32
	stride    int32
	format    wl.ShmFormat
	destroyed bool
	ls        listeners[wl.BufferEvents]
}

func (b *Buffer) Listen(ev wl.BufferEvents) wl.Listener { return b.ls.add(ev) }

func (b *Buffer) Destroy() {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.c.buffers--
	if b.pool != nil {
		b.pool.unrefLocked()
	}
}

// read converts the shm contents to RGBA. c.mu must be held.
func (b *Buffer) read() *image.RGBA {
	if b.pool == nil || b.pool.data == nil {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, int(b.w), int(b.h)))
	for y := 0; y < int(b.h); y++ {
		row := b.pool.data[int(b.offset)+y*int(b.stride):]
		for x := 0; x < int(b.w); x++ {
			px := row[x*4 : x*4+4]
			i := img.PixOffset(x, y)
			img.Pix[i+0] = px[2]
			img.Pix[i+1] = px[1]
			img.Pix[i+2] = px[0]
			if b.format == wl.ShmFormatXRGB8888 {
				img.Pix[i+3] = 0xff
			} else {
				img.Pix[i+3] = px[3]
			}
		}
	}
	return img
}

func (b *Buffer) releaseEvent() func() {
	return func() {
		b.ls.each(func(ev wl.BufferEvents) {
			if ev.Release != nil {
				ev.Release()
			}
		})
	}
}

type dmabuf struct {
	c          *Client
	formats    []wl.FormatModifier
	mainDevice uint64
}

func (d *dmabuf) Formats() []wl.FormatModifier {
	d.c.mu.Lock()
	defer d.c.mu.Unlock()
	return append([]wl.FormatModifier(nil), d.formats...)
}

func (d *dmabuf) MainDevice() (uint64, bool) {
	d.c.mu.Lock()
	defer d.c.mu.Unlock()
	return d.mainDevice, d.mainDevice != 0
}

func (d *dmabuf) CreateParams() (wl.DmabufParams, error) { return &dmabufParams{c: d.c}, nil }

type dmabufParams struct {
	c      *Client
	planes int
}

func (p *dmabufParams) Add(fd int, plane, offset, stride uint32, modifier uint64) { p.planes++ }

func (p *dmabufParams) CreateImmed(w, h int32, format, flags uint32) (wl.Buffer, error) {
	if p.planes == 0 {
		return nil, errBadBuffer
	}
	p.c.mu.Lock()
	p.c.buffers++
	p.c.mu.Unlock()
	return &Buffer{c: p.c, w: w, h: h}, nil
}

func (p *dmabufParams) Destroy() {}
