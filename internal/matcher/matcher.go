// Package matcher stores the declarative wallpaper settings and resolves which one applies to each monitor.
//
// Resolution precedence is: exact output name, then description prefix, then wildcard. Within a tier the
// earliest registered setting wins. Adding a setting whose selector equals an existing one retires the old one.
// A Matcher is owned by a single goroutine and is not safe for concurrent use.
package matcher

// ChangeFunc is called once per monitor whose resolved setting changed during a recomputation.
type ChangeFunc func(monitor string)

type monitorState struct {
	name        string
	description string
	currentID   uint32
}

// Matcher resolves settings for registered monitors.
type Matcher struct {
	settings []Setting
	monitors []*monitorState
	maxID    uint32

	listeners []ChangeFunc
}

func New() *Matcher {
	return &Matcher{}
}

// OnChange registers fn. Listeners are called in registration order.
func (m *Matcher) OnChange(fn ChangeFunc) {
	m.listeners = append(m.listeners, fn)
}

// AddSetting registers s, replacing any setting with the same selector, and returns it with its new ID.
func (m *Matcher) AddSetting(s Setting) Setting {
	out := m.AddSettings([]Setting{s})
	return out[0]
}

// AddSettings registers a batch with a single recomputation.
func (m *Matcher) AddSettings(batch []Setting) []Setting {
	added := make([]Setting, len(batch))
	for i, s := range batch {
		m.maxID++
		s.ID = m.maxID
		s.Paths = append([]string(nil), s.Paths...)
		added[i] = s
	}

	kept := m.settings[:0:0]
	for _, old := range m.settings {
		replaced := false
		for _, s := range added {
			if sameSelector(old.Monitor, s.Monitor) {
				replaced = true
				break
			}
		}
		if !replaced {
			kept = append(kept, old)
		}
	}

	// Within the batch a later duplicate wins too.
	for i, s := range added {
		dup := false
		for _, later := range added[i+1:] {
			if sameSelector(s.Monitor, later.Monitor) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, s)
		}
	}
	m.settings = kept
	m.recalc()
	return added
}

// ReplaceAll swaps the whole rule set, as on a config reload.
func (m *Matcher) ReplaceAll(batch []Setting) []Setting {
	m.settings = nil
	return m.AddSettings(batch)
}

// Settings returns the registered settings in registration order.
func (m *Matcher) Settings() []Setting {
	return append([]Setting(nil), m.settings...)
}

// RegisterMonitor adds an output. Registering a known name updates its description.
func (m *Matcher) RegisterMonitor(name, description string) {
	if st := m.state(name); st != nil {
		st.description = description
	} else {
		m.monitors = append(m.monitors, &monitorState{name: name, description: description})
	}
	m.recalc()
}

func (m *Matcher) UnregisterMonitor(name string) {
	for i, st := range m.monitors {
		if st.name == name {
			m.monitors = append(m.monitors[:i], m.monitors[i+1:]...)
			break
		}
	}
	m.recalc()
}

func (m *Matcher) MonitorExists(name string) bool {
	return m.state(name) != nil
}

// Resolve computes the applicable setting for an output without touching cached state.
func (m *Matcher) Resolve(name, description string) (Setting, bool) {
	for _, s := range m.settings {
		sel, err := ParseSelector(s.Monitor)
		if err == nil && sel.Kind == SelectorName && sel.Value == name {
			return s, true
		}
	}
	for _, s := range m.settings {
		sel, err := ParseSelector(s.Monitor)
		if err == nil && sel.Kind == SelectorDescription && sel.matchesDescription(description) {
			return s, true
		}
	}
	for _, s := range m.settings {
		if IsWildcard(s.Monitor) {
			return s, true
		}
	}
	return Setting{}, false
}

// Current returns the cached resolution for a registered monitor.
func (m *Matcher) Current(name string) (Setting, bool) {
	st := m.state(name)
	if st == nil || st.currentID == InvalidID {
		return Setting{}, false
	}
	for _, s := range m.settings {
		if s.ID == st.currentID {
			return s, true
		}
	}
	return Setting{}, false
}

// CurrentID returns the resolved setting ID, or InvalidID.
func (m *Matcher) CurrentID(name string) uint32 {
	if st := m.state(name); st != nil {
		return st.currentID
	}
	return InvalidID
}

func (m *Matcher) state(name string) *monitorState {
	for _, st := range m.monitors {
		if st.name == name {
			return st
		}
	}
	return nil
}

func (m *Matcher) recalc() {
	var changed []string
	for _, st := range m.monitors {
		id := InvalidID
		if s, ok := m.Resolve(st.name, st.description); ok {
			id = s.ID
		}
		if id != st.currentID {
			st.currentID = id
			changed = append(changed, st.name)
		}
	}

	for _, name := range changed {
		for _, fn := range m.listeners {
			fn(name)
		}
	}
}

// sameSelector compares selectors after parsing, so "" and "*" or "desc:X" and "desc: X" are equal.
func sameSelector(a, b string) bool {
	sa, errA := ParseSelector(a)
	sb, errB := ParseSelector(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return sa == sb
}
