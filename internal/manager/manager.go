// Package manager runs the reconciliation loop that keeps one painted background surface on every output.
//
// Two goroutines cooperate. The dispatch goroutine reads protocol events and only posts work; the manager
// goroutine owns the monitor registry, the matcher, the buffer pool and the image store. It drains the
// work queue and then runs one reconciliation pass over all monitors.
package manager

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"sync"

	"github.com/charmbracelet/log"

	"layerpaper/internal/buffer"
	"layerpaper/internal/cache"
	"layerpaper/internal/layer"
	"layerpaper/internal/matcher"
	"layerpaper/internal/monitor"
	"layerpaper/internal/render"
	"layerpaper/internal/wl"
)

var (
	ErrMissingGlobal  = errors.New("compositor lacks a required global")
	ErrStopped        = errors.New("manager stopped")
	ErrUnknownMonitor = errors.New("unknown monitor")
	ErrNotLoaded      = errors.New("image not loaded")
)

const queueSize = 256

// Options configures a Manager.
type Options struct {
	Namespace         string
	NoFractionalScale bool

	Splash       bool
	SplashOffset float64
	SplashColor  color.NRGBA
	// SplashText supplies the splash line. Run calls it once, off the manager goroutine.
	SplashText func(ctx context.Context) string

	Logger *log.Logger
}

// Manager is the single writer of all daemon state.
type Manager struct {
	client wl.Client
	opts   Options
	log    *log.Logger

	monitors *monitor.Registry
	matcher  *matcher.Matcher
	pool     *buffer.Pool
	images   *cache.Store
	comp     *render.Compositor

	cycles map[string]*cycle
	active map[string]string

	splash string

	queue   chan func()
	dirty   bool
	stop    chan struct{}
	stopped sync.Once
}

// New checks the mandatory globals and builds the components. The manager takes ownership of alloc.
func New(client wl.Client, alloc buffer.Allocator, opts Options) (*Manager, error) {
	if client.Compositor() == nil || client.Shm() == nil || client.LayerShell() == nil {
		return nil, fmt.Errorf("%w: need wl_compositor, wl_shm and zwlr_layer_shell_v1", ErrMissingGlobal)
	}
	comp, err := render.NewCompositor()
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.WithPrefix("manager")
	}
	if opts.Namespace == "" {
		opts.Namespace = layer.DefaultNamespace
	}

	m := &Manager{
		client:   client,
		opts:     opts,
		log:      opts.Logger,
		monitors: monitor.NewRegistry(),
		matcher:  matcher.New(),
		pool:     buffer.NewPool(alloc),
		images:   cache.NewStore(),
		comp:     comp,
		cycles:   make(map[string]*cycle),
		active:   make(map[string]string),
		queue:    make(chan func(), queueSize),
		stop:     make(chan struct{}),
	}
	m.matcher.OnChange(m.retarget)
	return m, nil
}

// Run installs the output handler and serves until ctx is cancelled or the connection fails.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("starting", "buffers", m.pool.Kind())
	m.client.SetOutputHandler(events{m})

	dispatchErr := make(chan error, 1)
	go m.dispatch(dispatchErr)
	if m.opts.Splash && m.opts.SplashText != nil {
		go m.fetchSplash(ctx)
	}

	defer m.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-dispatchErr:
			return err
		case fn := <-m.queue:
			fn()
			m.drain()
		}
		if m.dirty {
			m.dirty = false
			m.reconcile()
		}
	}
}

func (m *Manager) drain() {
	for {
		select {
		case fn := <-m.queue:
			fn()
		default:
			return
		}
	}
}

func (m *Manager) dispatch(errc chan<- error) {
	for {
		if err := m.dispatchOnce(); err != nil {
			if errors.Is(err, wl.ErrClosed) {
				select {
				case <-m.stop:
					return
				default:
				}
			}
			errc <- err
			return
		}
	}
}

// dispatchOnce runs one batch of protocol handlers. A panicking handler is logged, not fatal.
func (m *Manager) dispatchOnce() (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("protocol handler panicked", "panic", r)
			err = nil
		}
	}()
	return m.client.Dispatch()
}

// post hands fn to the manager goroutine. Every posted function schedules a reconciliation pass.
func (m *Manager) post(fn func()) {
	select {
	case m.queue <- func() { fn(); m.dirty = true }:
	case <-m.stop:
	}
}

func (m *Manager) shutdown() {
	m.stopped.Do(func() {
		close(m.stop)
		for name := range m.cycles {
			m.stopCycle(name)
		}
		for _, mon := range m.monitors.All() {
			mon.Teardown()
		}
		if err := m.pool.Close(); err != nil {
			m.log.Warn("closing buffer pool", "err", err)
		}
		m.client.Close()
		m.log.Info("stopped")
	})
}

// reconcile is one pass over every monitor: create missing surfaces, ack pending configures, then paint.
// Requests made during the pass are flushed at its end.
func (m *Manager) reconcile() {
	defer func() {
		if err := m.client.Flush(); err != nil {
			m.log.Error("flushing requests", "err", err)
		}
	}()
	for _, mon := range m.monitors.All() {
		if !mon.ReadyForSurface || mon.State() == monitor.Removed {
			continue
		}
		if !mon.HasTarget {
			if mon.State() == monitor.Ready {
				mon.SetState(monitor.NoTarget)
			}
			continue
		}
		if mon.Current == nil {
			if err := m.createSurface(mon); err != nil {
				m.log.Error("creating surface", "monitor", mon.Name, "err", err)
			}
			continue
		}
		if mon.WantsAck {
			mon.Current.AckConfigure(mon.ConfigureSerial)
			mon.WantsAck = false
		}
		if !mon.WantsReload {
			continue
		}
		if st := mon.State(); st != monitor.Configured && st != monitor.Rendered {
			continue
		}
		if err := m.paint(mon); err != nil {
			m.log.Error("painting", "monitor", mon.Name, "err", err)
			continue
		}
		mon.WantsReload = false
	}
}

func (m *Manager) createSurface(mon *monitor.Monitor) error {
	s, err := layer.New(m.client, mon.Output, layer.Options{
		Namespace:         m.opts.Namespace,
		NoFractionalScale: m.opts.NoFractionalScale,
	}, events{m})
	if err != nil {
		return err
	}
	mon.AddSurface(s)
	m.log.Debug("surface created", "monitor", mon.Name, "surface", s.ID(), "fractional", s.Fractional())
	return nil
}

func (m *Manager) paint(mon *monitor.Monitor) error {
	path := m.active[mon.Name]
	setting, ok := m.matcher.Current(mon.Name)
	if !ok || path == "" {
		return fmt.Errorf("no wallpaper resolved for %s", mon.Name)
	}
	img, err := m.images.Load(path)
	if err != nil {
		return err
	}
	if mon.Size.X <= 0 || mon.Size.Y <= 0 {
		return fmt.Errorf("monitor %s has no size yet", mon.Name)
	}

	buf, err := m.pool.GetOrCreate(buffer.Key{Target: mon.Name, Size: mon.PixelSize()})
	if err != nil {
		return err
	}
	if buf.Busy() {
		m.log.Debug("repainting a buffer the compositor has not released", "monitor", mon.Name)
	}
	size := buf.Size()
	canvas := m.comp.Canvas(size)
	if err := m.comp.Paint(canvas, render.Job{
		Source:   img,
		Fit:      setting.FitMode,
		Rotation: setting.Rotation,
		Splash:   m.splashJob(),
	}); err != nil {
		return err
	}
	if err := buf.Upload(canvas); err != nil {
		return err
	}
	if err := mon.Current.Present(layer.Frame{
		Buffer:      buf.WL(),
		Pixels:      size,
		Logical:     mon.Size,
		BufferScale: mon.Scale,
	}); err != nil {
		return err
	}
	buf.MarkAttached()
	mon.PruneSurfaces()
	mon.SetState(monitor.Rendered)
	m.log.Debug("painted", "monitor", mon.Name, "path", path, "size", size, "scale", mon.EffectiveScale())
	return nil
}

func (m *Manager) splashJob() *render.Splash {
	if !m.opts.Splash || m.splash == "" {
		return nil
	}
	return &render.Splash{Text: m.splash, Offset: m.opts.SplashOffset, Color: m.opts.SplashColor}
}

// fetchSplash queries the splash line and repaints every surface once it arrives.
func (m *Manager) fetchSplash(ctx context.Context) {
	text := m.opts.SplashText(ctx)
	if text == "" || ctx.Err() != nil {
		return
	}
	m.post(func() {
		m.splash = text
		for _, mon := range m.monitors.All() {
			if mon.Current != nil {
				mon.WantsReload = true
			}
		}
	})
}

// retarget follows a matcher change for one monitor. It runs on the manager goroutine.
func (m *Manager) retarget(name string) {
	mon := m.monitors.ByName(name)
	if mon == nil {
		return
	}
	m.stopCycle(name)

	setting, ok := m.matcher.Current(name)
	if !ok {
		m.log.Info("no wallpaper for monitor", "monitor", name)
		delete(m.active, name)
		m.pool.Release(name)
		mon.ClearSurfaces()
		return
	}

	m.log.Debug("monitor retargeted", "monitor", name, "setting", m.matcher.CurrentID(name))
	mon.HasTarget = true
	if mon.State() == monitor.Ready || mon.State() == monitor.NoTarget {
		mon.SetState(monitor.HasTarget)
	}
	c := m.startCycle(name, setting)
	m.setActive(name, c.playlist.Current())
}

// setActive records the image shown on a monitor and schedules a repaint.
func (m *Manager) setActive(name, path string) {
	if prev := m.active[name]; prev != path {
		m.log.Info("active wallpaper changed", "monitor", name, "path", path)
	}
	m.active[name] = path
	if mon := m.monitors.ByName(name); mon != nil {
		mon.WantsReload = true
	}
	m.dirty = true
}

func (m *Manager) addMonitor(out wl.Output, l wl.Listener) {
	mon := monitor.New(out)
	mon.SetListener(l)
	m.monitors.Add(mon)
	m.log.Debug("output announced", "registry", mon.RegistryName)
}

// applyDone finishes a metadata burst. The first done registers the monitor with the matcher.
func (m *Manager) applyDone(mon *monitor.Monitor) {
	if mon.Name == "" {
		mon.Name = fmt.Sprintf("output-%d", mon.RegistryName)
	}
	before := mon.PixelSize()
	if mon.ApplyDone() {
		m.log.Info("monitor ready", "monitor", mon.Name, "description", mon.Description,
			"mode", mon.Mode, "scale", mon.Scale, "transform", mon.Transform)
	}
	m.matcher.RegisterMonitor(mon.Name, mon.Description)
	if mon.Current != nil && mon.PixelSize() != before {
		mon.WantsReload = true
	}
}

// applyTransform records a transform change. When the axes flip the cached size is swapped and the
// current surface repainted in place.
func (m *Manager) applyTransform(mon *monitor.Monitor, t wl.Transform) {
	flips := t.SwapsAxes() != mon.Transform.SwapsAxes()
	mon.ApplyTransform(t)
	if flips && mon.Current != nil {
		mon.WantsReload = true
	}
}

func (m *Manager) removeMonitor(registryName uint32) {
	mon := m.monitors.Remove(registryName)
	if mon == nil {
		return
	}
	m.stopCycle(mon.Name)
	delete(m.active, mon.Name)
	m.pool.Release(mon.Name)
	mon.Teardown()
	mon.Output.Release()
	m.matcher.UnregisterMonitor(mon.Name)
	m.log.Info("monitor removed", "monitor", mon.Name)
}

func (m *Manager) configure(s *layer.Surface, serial, w, h uint32) {
	mon := m.monitors.BySurface(s)
	if mon == nil {
		return
	}
	if mon.Current != s {
		s.AckConfigure(serial)
		return
	}
	mon.ApplyConfigure(serial, w, h)
}

func (m *Manager) closed(s *layer.Surface) {
	mon := m.monitors.BySurface(s)
	if mon == nil {
		s.Destroy()
		return
	}
	if mon.DropSurface(s) {
		m.log.Info("current surface closed by compositor", "monitor", mon.Name, "surface", s.ID(), "remaining", len(mon.Surfaces))
	}
	s.Destroy()
}

func (m *Manager) preferredScale(s *layer.Surface, scale float64) {
	mon := m.monitors.BySurface(s)
	if mon == nil {
		return
	}
	if s.SetScale(scale) && mon.Current == s {
		mon.WantsReload = true
	}
}

// events adapts protocol callbacks to posted work. Its methods run on the dispatch goroutine.
type events struct{ m *Manager }

func (e events) OutputAdded(out wl.Output) {
	m := e.m
	reg := out.RegistryName()
	with := func(fn func(*monitor.Monitor)) func() {
		return func() {
			if mon := m.monitors.Get(reg); mon != nil {
				fn(mon)
			}
		}
	}
	// The listener must be in place before this handler returns, or the first burst is lost.
	l := out.Listen(wl.OutputEvents{
		Geometry: func(g wl.Geometry) {
			m.post(with(func(mon *monitor.Monitor) { m.applyTransform(mon, g.Transform) }))
		},
		Mode: func(flags uint32, w, h, _ int32) {
			if flags&wl.ModeCurrent == 0 {
				return
			}
			m.post(with(func(mon *monitor.Monitor) { mon.Mode.X, mon.Mode.Y = int(w), int(h) }))
		},
		Scale: func(f int32) {
			m.post(with(func(mon *monitor.Monitor) { mon.Scale = f }))
		},
		Name: func(name string) {
			m.post(with(func(mon *monitor.Monitor) { mon.Name = name }))
		},
		Description: func(desc string) {
			m.post(with(func(mon *monitor.Monitor) { mon.Description = desc }))
		},
		Done: func() {
			m.post(with(m.applyDone))
		},
	})
	m.post(func() { m.addMonitor(out, l) })
}

func (e events) OutputRemoved(registryName uint32) {
	e.m.post(func() { e.m.removeMonitor(registryName) })
}

func (e events) Configure(s *layer.Surface, serial, w, h uint32) {
	e.m.post(func() { e.m.configure(s, serial, w, h) })
}

func (e events) Closed(s *layer.Surface) {
	e.m.post(func() { e.m.closed(s) })
}

func (e events) PreferredScale(s *layer.Surface, scale float64) {
	e.m.post(func() { e.m.preferredScale(s, scale) })
}
