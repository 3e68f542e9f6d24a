package manager

import (
	"time"

	"layerpaper/internal/backend"
	"layerpaper/internal/matcher"
)

// cycle is the per-monitor rotation state of the resolved setting.
type cycle struct {
	setting  matcher.Setting
	playlist *backend.Playlist
	interval time.Duration
	timer    *time.Timer
	watcher  *backend.Watcher
	snapshot backend.Snapshot
}

func (m *Manager) startCycle(name string, s matcher.Setting) *cycle {
	c := &cycle{
		setting:  s,
		playlist: backend.NewPlaylist(s.Paths),
		interval: s.CycleInterval(),
	}
	m.cycles[name] = c
	m.armTimer(name, c)

	if s.Triggers&matcher.TriggerFileChange != 0 && s.Source != "" {
		c.snapshot = backend.TakeSnapshot(s.Source)
		w, err := backend.Watch(s.Source, s.Debounce, func() {
			m.post(func() { m.refresh(name, c) })
		})
		if err != nil {
			m.log.Warn("cannot watch wallpaper source", "monitor", name, "source", s.Source, "err", err)
		} else {
			c.watcher = w
		}
	}
	return c
}

func (m *Manager) armTimer(name string, c *cycle) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.interval <= 0 || c.playlist.Len() < 2 {
		return
	}
	c.timer = time.AfterFunc(c.interval, func() {
		m.post(func() { m.advance(name, c) })
	})
}

func (m *Manager) stopCycle(name string) {
	c, ok := m.cycles[name]
	if !ok {
		return
	}
	delete(m.cycles, name)
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.watcher != nil {
		if err := c.watcher.Close(); err != nil {
			m.log.Debug("closing watcher", "monitor", name, "err", err)
		}
	}
}

// advance moves a monitor to its next candidate. Work queued by a retired cycle is ignored.
func (m *Manager) advance(name string, c *cycle) {
	if m.cycles[name] != c {
		return
	}
	if c.playlist.Len() >= 2 {
		m.setActive(name, c.playlist.Next())
	}
	m.armTimer(name, c)
}

// refresh rescans a watched source. The first changed or added image becomes current, otherwise the
// current one is kept while it still exists.
func (m *Manager) refresh(name string, c *cycle) {
	if m.cycles[name] != c {
		return
	}
	snap := backend.TakeSnapshot(c.setting.Source)
	if snap.Signature == c.snapshot.Signature {
		return
	}
	changed := snap.ChangedSince(c.snapshot)
	c.snapshot = snap
	if len(snap.Images) == 0 {
		m.log.Warn("watched source has no images", "monitor", name, "source", c.setting.Source)
		return
	}

	prev := c.playlist.Current()
	c.playlist.Update(snap.Images)
	if len(changed) > 0 {
		c.playlist.SetCurrent(changed[0])
	} else if !c.playlist.Contains(prev) {
		m.log.Debug("current wallpaper left the source", "monitor", name, "path", prev)
	}
	for _, p := range changed {
		m.images.Unload(p)
	}
	m.log.Info("wallpaper source changed", "monitor", name, "images", len(snap.Images), "changed", len(changed))
	m.setActive(name, c.playlist.Current())
	m.armTimer(name, c)
}

// Signal advances every monitor whose setting opted into the trigger. Safe from any goroutine.
func (m *Manager) Signal(t matcher.Trigger) {
	m.post(func() {
		for name, c := range m.cycles {
			if c.setting.Triggers&t != 0 {
				m.log.Debug("trigger", "monitor", name, "trigger", t)
				m.advance(name, c)
			}
		}
	})
}
