package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"layerpaper/internal/cache"
	"layerpaper/internal/matcher"
)

// Active is the image currently shown on a monitor.
type Active struct {
	Monitor string
	Path    string
}

// Stats is a snapshot of the manager's resources, mostly for tests and debug logging.
type Stats struct {
	Monitors    int
	Surfaces    int
	Buffers     int
	BufferBytes int
	Images      int
	Settings    int
}

// do runs fn on the manager goroutine and waits for its result.
func (m *Manager) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case m.queue <- func() { errc <- fn(); m.dirty = true }:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stop:
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stop:
		return ErrStopped
	}
}

func checkPath(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s", cache.ErrNotAbsolute, path)
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return nil
}

// ApplySetting registers a setting at runtime. Exact selectors must name a known monitor and every image
// must already be preloaded; on error nothing changes.
func (m *Manager) ApplySetting(ctx context.Context, s matcher.Setting) error {
	if err := checkSetting(s); err != nil {
		return err
	}
	return m.do(ctx, func() error {
		for _, p := range s.Paths {
			if _, ok := m.images.Get(p); !ok {
				return fmt.Errorf("%w: %s (preload it first)", ErrNotLoaded, p)
			}
		}
		return m.applySetting(s)
	})
}

func checkSetting(s matcher.Setting) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for _, p := range s.Paths {
		if err := checkPath(p); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) applySetting(s matcher.Setting) error {
	sel, err := matcher.ParseSelector(s.Monitor)
	if err != nil {
		return err
	}
	if sel.Kind == matcher.SelectorName && !m.matcher.MonitorExists(sel.Value) {
		return fmt.Errorf("%w: %s", ErrUnknownMonitor, sel.Value)
	}
	added := m.matcher.AddSetting(s)
	m.log.Debug("setting applied", "id", added.ID, "monitor", added.Monitor, "paths", len(added.Paths), "fit", added.FitMode)
	return nil
}

// Reload preloads the setting's images, applies it and then drops decoded images no monitor shows any
// more. A failed decode leaves the previous images and settings in place.
func (m *Manager) Reload(ctx context.Context, s matcher.Setting) error {
	if err := checkSetting(s); err != nil {
		return err
	}
	return m.do(ctx, func() error {
		var fresh []string
		for _, p := range s.Paths {
			if _, ok := m.images.Get(p); ok {
				continue
			}
			if _, err := m.images.Load(p); err != nil {
				for _, f := range fresh {
					m.images.Unload(f)
				}
				return err
			}
			fresh = append(fresh, p)
		}
		if err := m.applySetting(s); err != nil {
			for _, f := range fresh {
				m.images.Unload(f)
			}
			return err
		}
		m.images.UnloadExcept(m.activeSet())
		return nil
	})
}

// ReplaceSettings swaps the whole rule set, as after a config file change.
func (m *Manager) ReplaceSettings(ctx context.Context, settings []matcher.Setting) error {
	return m.do(ctx, func() error {
		m.matcher.ReplaceAll(settings)
		m.log.Info("settings replaced", "count", len(m.matcher.Settings()))
		return nil
	})
}

// AddSettings registers the startup rule set. It may be called before Run.
func (m *Manager) AddSettings(settings []matcher.Setting) {
	m.post(func() { m.matcher.AddSettings(settings) })
}

// Preload decodes an image ahead of use.
func (m *Manager) Preload(ctx context.Context, path string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	return m.do(ctx, func() error {
		_, err := m.images.Load(path)
		return err
	})
}

// Unload drops decoded images: "all" drops every one, "unused" those no monitor shows, anything else
// is a path that must be loaded.
func (m *Manager) Unload(ctx context.Context, target string) error {
	return m.do(ctx, func() error {
		switch target {
		case "all":
			n := m.images.UnloadExcept(nil)
			m.log.Debug("unloaded images", "count", n)
		case "unused":
			n := m.images.UnloadExcept(m.activeSet())
			m.log.Debug("unloaded images", "count", n)
		default:
			if !m.images.Unload(target) {
				return fmt.Errorf("%w: %s", ErrNotLoaded, target)
			}
		}
		return nil
	})
}

// ListLoaded returns the decoded image paths, sorted.
func (m *Manager) ListLoaded(ctx context.Context) ([]string, error) {
	var paths []string
	err := m.do(ctx, func() error {
		paths = m.images.Paths()
		return nil
	})
	return paths, err
}

// ListActive returns the image of every monitor that has one, by monitor name.
func (m *Manager) ListActive(ctx context.Context) ([]Active, error) {
	var out []Active
	err := m.do(ctx, func() error {
		for name, path := range m.active {
			out = append(out, Active{Monitor: name, Path: path})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Monitor < out[j].Monitor })
	return out, err
}

// Stats returns a resource snapshot.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := m.do(ctx, func() error {
		st.Monitors = m.monitors.Len()
		for _, mon := range m.monitors.All() {
			st.Surfaces += len(mon.Surfaces)
		}
		st.Buffers = m.pool.Len()
		st.BufferBytes = m.pool.Bytes()
		st.Images = len(m.images.Paths())
		st.Settings = len(m.matcher.Settings())
		return nil
	})
	return st, err
}

func (m *Manager) activeSet() map[string]bool {
	keep := make(map[string]bool, len(m.active))
	for _, p := range m.active {
		keep[p] = true
	}
	return keep
}
