package monitor

import (
	"image"
	"testing"

	"layerpaper/internal/wl"
)

type fakeOutput struct{ name uint32 }

func (f fakeOutput) RegistryName() uint32               { return f.name }
func (f fakeOutput) Listen(wl.OutputEvents) wl.Listener { return wl.ListenerFunc(func() {}) }
func (f fakeOutput) Release()                           {}

// TestApplyDoneDerivesSize verifies the pre-configure size comes from mode, scale and transform.
func TestApplyDoneDerivesSize(t *testing.T) {
	// Arrange
	m := New(fakeOutput{name: 7})
	m.Mode = image.Pt(3840, 2160)
	m.Scale = 2
	m.Transform = wl.Transform90

	// Act
	first := m.ApplyDone()

	// Assert
	if !first {
		t.Errorf("Expected the first done to be reported")
	}
	if m.Size != image.Pt(1080, 1920) {
		t.Errorf("Expected 1080x1920, got %v", m.Size)
	}
	if m.State() != Ready {
		t.Errorf("Expected Ready, got %v", m.State())
	}
	if m.ApplyDone() {
		t.Errorf("Expected later dones not to be first")
	}
}

func TestApplyTransformParity(t *testing.T) {
	tests := []struct {
		from, to wl.Transform
		want     image.Point
	}{
		{wl.TransformNormal, wl.Transform90, image.Pt(1080, 1920)},
		{wl.TransformNormal, wl.Transform180, image.Pt(1920, 1080)},
		{wl.Transform90, wl.TransformFlipped270, image.Pt(1920, 1080)},
		{wl.Transform270, wl.TransformFlipped, image.Pt(1080, 1920)},
	}
	for _, tt := range tests {
		m := New(fakeOutput{})
		m.Transform = tt.from
		m.Size = image.Pt(1920, 1080)

		m.ApplyTransform(tt.to)

		if m.Size != tt.want {
			t.Errorf("%v -> %v: expected %v, got %v", tt.from, tt.to, tt.want, m.Size)
		}
	}
}

func TestApplyConfigure(t *testing.T) {
	m := New(fakeOutput{})
	m.Size = image.Pt(1920, 1080)

	m.ApplyConfigure(4, 0, 0)
	if m.Size != image.Pt(1920, 1080) {
		t.Errorf("Expected zero configure to keep the size, got %v", m.Size)
	}
	m.ApplyConfigure(5, 2560, 1440)

	if m.Size != image.Pt(2560, 1440) || m.ConfigureSerial != 5 {
		t.Errorf("Unexpected state size=%v serial=%d", m.Size, m.ConfigureSerial)
	}
	if !m.WantsAck || !m.WantsReload || !m.Initialized {
		t.Errorf("Expected ack, reload and initialized flags")
	}
}

func TestPixelSizeUsesIntegerScale(t *testing.T) {
	m := New(fakeOutput{})
	m.Size = image.Pt(1280, 720)
	m.Scale = 2

	if got := m.PixelSize(); got != image.Pt(2560, 1440) {
		t.Errorf("Expected 2560x1440, got %v", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a, b := New(fakeOutput{name: 1}), New(fakeOutput{name: 2})
	a.Name, b.Name = "DP-1", "DP-2"
	r.Add(a)
	r.Add(b)

	if r.ByName("DP-2") != b || r.Get(1) != a {
		t.Fatalf("Lookup failed")
	}
	if r.ByName("") != nil {
		t.Errorf("Expected unnamed lookups to miss")
	}
	if got := r.Remove(1); got != a {
		t.Errorf("Expected Remove to return DP-1")
	}
	if r.Len() != 1 || r.All()[0] != b {
		t.Errorf("Expected only DP-2 to remain")
	}
	if r.Remove(1) != nil {
		t.Errorf("Expected a second removal to return nil")
	}
}
