package matcher

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// InvalidID marks a monitor that no setting resolves to.
const InvalidID uint32 = 0

// DefaultTimeout is the cycle interval used when a setting leaves Timeout at zero.
const DefaultTimeout = 30 * time.Second

var (
	ErrInvalidSelector = errors.New("invalid monitor selector")
	ErrNoPaths         = errors.New("setting has no image paths")
	ErrFitMode         = errors.New("unknown fit mode")
	ErrRotation        = errors.New("rotation must be 0, 90, 180 or 270")
	ErrTrigger         = errors.New("unknown trigger")
)

const descPrefix = "desc:"

// FitMode is how an image is placed on its monitor.
type FitMode int

const (
	FitCover FitMode = iota
	FitContain
	FitTile
	FitStretch
)

func (f FitMode) String() string {
	switch f {
	case FitCover:
		return "cover"
	case FitContain:
		return "contain"
	case FitTile:
		return "tile"
	case FitStretch:
		return "stretch"
	}
	return fmt.Sprintf("FitMode(%d)", int(f))
}

// ParseFitMode accepts the config/IPC spellings. "fill" is an alias of stretch.
func ParseFitMode(s string) (FitMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cover":
		return FitCover, nil
	case "contain":
		return FitContain, nil
	case "tile":
		return FitTile, nil
	case "stretch", "fill":
		return FitStretch, nil
	}
	return FitCover, fmt.Errorf("%w: %q", ErrFitMode, s)
}

// Trigger is a bit set of events that advance a cycling setting.
type Trigger uint32

const (
	TriggerSIGHUP Trigger = 1 << iota
	TriggerSIGUSR1
	TriggerSIGUSR2
	TriggerFileChange
)

var triggerNames = []struct {
	name string
	bit  Trigger
}{
	{"sighup", TriggerSIGHUP},
	{"sigusr1", TriggerSIGUSR1},
	{"sigusr2", TriggerSIGUSR2},
	{"file_change", TriggerFileChange},
}

// ParseTriggers folds trigger names into a bit set.
func ParseTriggers(names []string) (Trigger, error) {
	var t Trigger
outer:
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		for _, tn := range triggerNames {
			if tn.name == n {
				t |= tn.bit
				continue outer
			}
		}
		return 0, fmt.Errorf("%w: %q", ErrTrigger, n)
	}
	return t, nil
}

func (t Trigger) String() string {
	var parts []string
	for _, tn := range triggerNames {
		if t&tn.bit != 0 {
			parts = append(parts, tn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Setting is one declarative wallpaper rule.
type Setting struct {
	ID uint32
	// Monitor is the selector: an output name, "desc:<prefix>", or "" / "*" for any output.
	Monitor  string
	Paths    []string
	FitMode  FitMode
	Rotation int
	// Timeout is the cycle interval. Zero means DefaultTimeout, negative disables cycling.
	Timeout  time.Duration
	Triggers Trigger
	// Source is the file or directory watched for the file-change trigger.
	Source   string
	Debounce time.Duration
}

// CycleInterval returns the effective timer interval, or zero when timed cycling is off.
func (s Setting) CycleInterval() time.Duration {
	if len(s.Paths) < 2 || s.Timeout < 0 {
		return 0
	}
	if s.Timeout == 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// Validate checks the fields that do not depend on the filesystem.
func (s Setting) Validate() error {
	if _, err := ParseSelector(s.Monitor); err != nil {
		return err
	}
	if len(s.Paths) == 0 {
		return ErrNoPaths
	}
	switch s.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: %d", ErrRotation, s.Rotation)
	}
	return nil
}

// SelectorKind classifies a monitor selector.
type SelectorKind int

const (
	SelectorName SelectorKind = iota
	SelectorDescription
	SelectorWildcard
)

// Selector is a parsed monitor selector.
type Selector struct {
	Kind SelectorKind
	// Value is the output name or the description prefix.
	Value string
}

// IsWildcard reports whether the raw selector matches any output.
func IsWildcard(s string) bool {
	return s == "" || s == "*"
}

func ParseSelector(s string) (Selector, error) {
	if IsWildcard(s) {
		return Selector{Kind: SelectorWildcard}, nil
	}
	if rest, ok := strings.CutPrefix(s, descPrefix); ok {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return Selector{}, fmt.Errorf("%w: empty description in %q", ErrInvalidSelector, s)
		}
		return Selector{Kind: SelectorDescription, Value: rest}, nil
	}
	if strings.ContainsAny(s, ", \t\n") {
		return Selector{}, fmt.Errorf("%w: %q", ErrInvalidSelector, s)
	}
	return Selector{Kind: SelectorName, Value: s}, nil
}

// PruneDescription drops the trailing "(connector)" part compositors append to output descriptions.
func PruneDescription(desc string) string {
	if i := strings.LastIndex(desc, "("); i > 0 {
		desc = desc[:i]
	}
	return strings.TrimSpace(desc)
}

func (sel Selector) matchesDescription(desc string) bool {
	if desc == "" {
		return false
	}
	return strings.HasPrefix(desc, sel.Value) || strings.HasPrefix(PruneDescription(desc), sel.Value)
}
