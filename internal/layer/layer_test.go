package layer

import (
	"image"
	"testing"

	"layerpaper/internal/wl"
	"layerpaper/internal/wl/headless"
)

type recordingSink struct {
	configures []image.Point
	serials    []uint32
	closed     int
	scales     []float64
}

func (r *recordingSink) Configure(s *Surface, serial, w, h uint32) {
	r.serials = append(r.serials, serial)
	r.configures = append(r.configures, image.Pt(int(w), int(h)))
}
func (r *recordingSink) Closed(s *Surface)                      { r.closed++ }
func (r *recordingSink) PreferredScale(s *Surface, sc float64) { r.scales = append(r.scales, sc) }

type outputCollector struct{ outputs []wl.Output }

func (o *outputCollector) OutputAdded(out wl.Output) { o.outputs = append(o.outputs, out) }
func (o *outputCollector) OutputRemoved(uint32)      {}

func setup(t *testing.T, opts headless.Options) (*headless.Client, wl.Output) {
	t.Helper()
	c := headless.New(opts)
	t.Cleanup(func() { c.Close() })
	c.AddOutput(headless.OutputSpec{Name: "DP-1", Width: 1920, Height: 1080})
	col := &outputCollector{}
	c.SetOutputHandler(col)
	if err := c.Roundtrip(); err != nil {
		t.Fatalf("Roundtrip: %v", err)
	}
	if len(col.outputs) != 1 {
		t.Fatalf("Expected one output, got %d", len(col.outputs))
	}
	return c, col.outputs[0]
}

// TestNewConfiguresBackgroundSurface checks the layer-surface role set up on creation.
func TestNewConfiguresBackgroundSurface(t *testing.T) {
	// Arrange
	c, out := setup(t, headless.Options{})
	sink := &recordingSink{}

	// Act
	s, err := New(c, out, Options{}, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Roundtrip()

	// Assert
	infos := c.Surfaces("DP-1")
	if len(infos) != 1 {
		t.Fatalf("Expected one surface, got %d", len(infos))
	}
	info := infos[0]
	if info.Layer != wl.LayerBackground || info.Anchor != wl.AnchorAll || info.ExclusiveZone != -1 {
		t.Errorf("Unexpected role state: %+v", info)
	}
	if info.Width != 0 || info.Height != 0 {
		t.Errorf("Expected 0x0 size request, got %dx%d", info.Width, info.Height)
	}
	if len(info.InputRegion) != 0 {
		t.Errorf("Expected empty input region, got %v", info.InputRegion)
	}
	if info.Namespace != DefaultNamespace {
		t.Errorf("Expected namespace %q, got %q", DefaultNamespace, info.Namespace)
	}
	if len(sink.configures) != 1 || sink.configures[0] != image.Pt(1920, 1080) {
		t.Errorf("Expected one 1920x1080 configure, got %v", sink.configures)
	}
	if s.Fractional() {
		t.Errorf("Expected no fractional scaling without the globals")
	}
}

func TestFractionalScaleAndViewport(t *testing.T) {
	c, out := setup(t, headless.Options{FractionalScale: true})
	sink := &recordingSink{}

	s, err := New(c, out, Options{}, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.SetPreferredScale("DP-1", 180)
	c.Roundtrip()

	if !s.Fractional() {
		t.Fatalf("Expected fractional scaling")
	}
	if len(sink.scales) != 1 || sink.scales[0] != 1.5 {
		t.Errorf("Expected preferred scale 1.5, got %v", sink.scales)
	}
	if !s.SetScale(1.5) || s.SetScale(1.5) {
		t.Errorf("SetScale should report a change exactly once")
	}
}

func TestNoFractionalScaleOption(t *testing.T) {
	c, out := setup(t, headless.Options{FractionalScale: true})

	s, err := New(c, out, Options{NoFractionalScale: true}, &recordingSink{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Fractional() {
		t.Errorf("Expected fractional scaling to be disabled")
	}
}

func TestDestroyIsIdempotentAndSilencesEvents(t *testing.T) {
	c, out := setup(t, headless.Options{})
	sink := &recordingSink{}
	s, _ := New(c, out, Options{}, sink)
	c.Roundtrip()

	s.Destroy()
	s.Destroy()
	c.CloseLayerSurfaces("DP-1")
	c.Roundtrip()

	if sink.closed != 0 {
		t.Errorf("Expected no events after destroy, got %d closed", sink.closed)
	}
	if n := len(c.Surfaces("DP-1")); n != 0 {
		t.Errorf("Expected no live surfaces, got %d", n)
	}
	if err := s.Present(Frame{}); err == nil {
		t.Errorf("Expected present on a destroyed surface to fail")
	}
}
