package matcher

import (
	"errors"
	"testing"
	"time"
)

// TestDescriptionSelector covers a description prefix matching an output whose description carries a connector suffix.
func TestDescriptionSelector(t *testing.T) {
	// Arrange
	m := New()
	var changed []string
	m.OnChange(func(name string) { changed = append(changed, name) })
	m.AddSetting(Setting{Monitor: "desc:Dell U2720Q", Paths: []string{"/a.png"}})

	// Act
	m.RegisterMonitor("DP-1", "Dell U2720Q (DP-1)")

	// Assert
	s, ok := m.Current("DP-1")
	if !ok {
		t.Fatalf("Expected DP-1 to resolve a setting")
	}
	if s.Paths[0] != "/a.png" {
		t.Errorf("Expected /a.png, got %v", s.Paths)
	}
	if len(changed) != 1 || changed[0] != "DP-1" {
		t.Errorf("Expected one change notification for DP-1, got %v", changed)
	}
}

// TestWildcardReplacement verifies that a second wildcard setting retires the first.
func TestWildcardReplacement(t *testing.T) {
	m := New()
	first := m.AddSetting(Setting{Monitor: "*", Paths: []string{"/a"}})
	second := m.AddSetting(Setting{Monitor: "*", Paths: []string{"/b"}})

	if len(m.Settings()) != 1 {
		t.Fatalf("Expected exactly one setting, got %d", len(m.Settings()))
	}
	if second.ID <= first.ID {
		t.Errorf("Expected increasing ids, got %d then %d", first.ID, second.ID)
	}

	m.RegisterMonitor("HDMI-A-1", "")
	s, ok := m.Current("HDMI-A-1")
	if !ok || s.Paths[0] != "/b" {
		t.Errorf("Expected /b, got %v (ok=%v)", s.Paths, ok)
	}
}

func TestEmptyAndStarAreTheSameWildcard(t *testing.T) {
	m := New()
	m.AddSetting(Setting{Monitor: "", Paths: []string{"/a"}})
	m.AddSetting(Setting{Monitor: "*", Paths: []string{"/b"}})

	if n := len(m.Settings()); n != 1 {
		t.Fatalf("Expected 1 setting, got %d", n)
	}
}

func TestResolvePrecedence(t *testing.T) {
	m := New()
	m.AddSettings([]Setting{
		{Monitor: "*", Paths: []string{"/wild"}},
		{Monitor: "desc:Acme", Paths: []string{"/desc"}},
		{Monitor: "DP-2", Paths: []string{"/exact"}},
	})

	tests := []struct {
		name, desc string
		want       string
	}{
		{"DP-2", "Acme Panel (DP-2)", "/exact"},
		{"DP-3", "Acme Panel (DP-3)", "/desc"},
		{"DP-4", "Other (DP-4)", "/wild"},
		{"DP-5", "", "/wild"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				s, ok := m.Resolve(tt.name, tt.desc)
				if !ok || s.Paths[0] != tt.want {
					t.Fatalf("Resolve(%q, %q) = %v, %v; want %s", tt.name, tt.desc, s.Paths, ok, tt.want)
				}
			}
		})
	}
}

func TestNoMatchIsInvalid(t *testing.T) {
	m := New()
	m.AddSetting(Setting{Monitor: "DP-1", Paths: []string{"/a"}})
	m.RegisterMonitor("HDMI-A-1", "TV")

	if id := m.CurrentID("HDMI-A-1"); id != InvalidID {
		t.Errorf("Expected InvalidID, got %d", id)
	}
	if _, ok := m.Current("HDMI-A-1"); ok {
		t.Errorf("Expected no setting for HDMI-A-1")
	}
}

// TestBatchNotifiesOncePerMonitor checks that a batch recomputation emits one notification per changed monitor.
func TestBatchNotifiesOncePerMonitor(t *testing.T) {
	m := New()
	m.RegisterMonitor("DP-1", "")
	m.RegisterMonitor("DP-2", "")
	counts := map[string]int{}
	m.OnChange(func(name string) { counts[name]++ })

	m.AddSettings([]Setting{
		{Monitor: "DP-1", Paths: []string{"/a"}},
		{Monitor: "*", Paths: []string{"/b"}},
	})

	if counts["DP-1"] != 1 || counts["DP-2"] != 1 {
		t.Errorf("Expected one notification each, got %v", counts)
	}

	// Re-registering an unrelated selector leaves DP-1 untouched.
	counts = map[string]int{}
	m.AddSetting(Setting{Monitor: "HDMI-A-1", Paths: []string{"/c"}})
	if len(counts) != 0 {
		t.Errorf("Expected no notifications, got %v", counts)
	}
}

func TestReplaceAllFallsBack(t *testing.T) {
	// Arrange
	m := New()
	m.AddSettings([]Setting{
		{Monitor: "*", Paths: []string{"/wild"}},
		{Monitor: "DP-1", Paths: []string{"/exact"}},
	})
	m.RegisterMonitor("DP-1", "")

	// Act
	m.ReplaceAll([]Setting{{Monitor: "*", Paths: []string{"/wild"}}})

	// Assert
	s, ok := m.Current("DP-1")
	if !ok || s.Paths[0] != "/wild" {
		t.Errorf("Expected fallback to wildcard, got %v", s.Paths)
	}
	if n := len(m.Settings()); n != 1 {
		t.Errorf("Expected 1 setting, got %d", n)
	}
}

func TestEquivalentSelectorsReplace(t *testing.T) {
	// Arrange
	m := New()
	m.RegisterMonitor("DP-1", "Dell Inc. U2720Q")
	m.AddSetting(Setting{Monitor: "desc:Dell", Paths: []string{"/a"}})
	m.AddSetting(Setting{Monitor: "", Paths: []string{"/w1"}})

	// Act
	m.AddSetting(Setting{Monitor: "desc: Dell", Paths: []string{"/b"}})
	m.AddSetting(Setting{Monitor: "*", Paths: []string{"/w2"}})

	// Assert
	if n := len(m.Settings()); n != 2 {
		t.Fatalf("Expected equivalent selectors to replace each other, got %d settings", n)
	}
	s, ok := m.Current("DP-1")
	if !ok || s.Paths[0] != "/b" {
		t.Errorf("Expected /b on DP-1, got %v", s.Paths)
	}
}

func TestUnregisterMonitor(t *testing.T) {
	m := New()
	m.RegisterMonitor("DP-1", "")
	m.UnregisterMonitor("DP-1")

	if m.MonitorExists("DP-1") {
		t.Errorf("Expected DP-1 to be gone")
	}
}

func TestParseSelector(t *testing.T) {
	tests := []struct {
		in      string
		kind    SelectorKind
		wantErr bool
	}{
		{"", SelectorWildcard, false},
		{"*", SelectorWildcard, false},
		{"DP-1", SelectorName, false},
		{"desc:LG Electronics", SelectorDescription, false},
		{"desc:", 0, true},
		{"DP-1,DP-2", 0, true},
	}
	for _, tt := range tests {
		sel, err := ParseSelector(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidSelector) {
				t.Errorf("ParseSelector(%q): expected ErrInvalidSelector, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || sel.Kind != tt.kind {
			t.Errorf("ParseSelector(%q) = %v, %v", tt.in, sel, err)
		}
	}
}

func TestPruneDescription(t *testing.T) {
	if got := PruneDescription("Dell Inc. DELL U2720Q 1234 (DP-1)"); got != "Dell Inc. DELL U2720Q 1234" {
		t.Errorf("Unexpected pruned description %q", got)
	}
	if got := PruneDescription("(weird)"); got != "(weird)" {
		t.Errorf("Expected a leading paren to be kept, got %q", got)
	}
}

func TestSettingHelpers(t *testing.T) {
	s := Setting{Paths: []string{"/a", "/b"}}
	if s.CycleInterval() != DefaultTimeout {
		t.Errorf("Expected default timeout, got %v", s.CycleInterval())
	}
	s.Timeout = -1
	if s.CycleInterval() != 0 {
		t.Errorf("Expected cycling disabled")
	}
	s.Timeout = 5 * time.Second
	if s.CycleInterval() != 5*time.Second {
		t.Errorf("Expected 5s, got %v", s.CycleInterval())
	}

	s.Rotation = 45
	if err := s.Validate(); !errors.Is(err, ErrRotation) {
		t.Errorf("Expected ErrRotation, got %v", err)
	}

	trig, err := ParseTriggers([]string{"SIGUSR1", "file_change"})
	if err != nil || trig != TriggerSIGUSR1|TriggerFileChange {
		t.Errorf("ParseTriggers = %v, %v", trig, err)
	}
	if _, err := ParseTriggers([]string{"sigkill"}); !errors.Is(err, ErrTrigger) {
		t.Errorf("Expected ErrTrigger, got %v", err)
	}

	if f, err := ParseFitMode("fill"); err != nil || f != FitStretch {
		t.Errorf("ParseFitMode(fill) = %v, %v", f, err)
	}
}
