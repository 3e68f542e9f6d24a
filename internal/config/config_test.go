package config

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"layerpaper/internal/matcher"
)

// TestLoadConfig tests that a missing configuration file loads with defaults.
func TestLoadConfig(t *testing.T) {
	// Arrange: Create a temporary home directory
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("XDG_CONFIG_HOME", "")

	// Act: Load the configuration
	cfg, err := Load("")

	// Assert: It should load without error and have the defaults
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatalf("Expected non-nil config, got nil")
	}
	if !cfg.IPC || cfg.Splash {
		t.Errorf("Expected ipc on and splash off, got ipc=%v splash=%v", cfg.IPC, cfg.Splash)
	}
	if cfg.SplashOffset != 2 || cfg.SplashOpacity != 0.8 || cfg.SplashColor != "55ffffff" {
		t.Errorf("Unexpected splash defaults: %+v", cfg)
	}
	if len(cfg.Wallpapers) != 0 {
		t.Errorf("Expected no wallpapers, got %d", len(cfg.Wallpapers))
	}

	path, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath: %v", err)
	}
	if want := filepath.Join(tmpHome, ".config", "layerpaper", "layerpaper.toml"); path != want {
		t.Errorf("Expected %s, got %s", want, path)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
}

func TestLoadWallpapers(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	walls := filepath.Join(dir, "walls")
	os.Mkdir(walls, 0755)
	writeFile(t, filepath.Join(walls, "b.png"), "")
	writeFile(t, filepath.Join(walls, "a.jpg"), "")
	single := filepath.Join(dir, "single.png")
	writeFile(t, single, "")

	cfgPath := filepath.Join(dir, "layerpaper.toml")
	writeFile(t, cfgPath, `
ipc = false
splash = true
splash_offset = 250
preload = ["`+single+`"]

[[wallpaper]]
monitor = "DP-1"
path = ["`+single+`"]
fit_mode = "contain"

[[wallpaper]]
monitor = "desc:Dell"
path = ["`+walls+`"]
timeout = 5
triggers = ["sighup", "file_change"]
file_change_debounce_ms = 200

[[wallpaper]]
monitor = ""
path = ["`+single+`", "`+walls+`"]
timeout = -1
rotation = 90
`)

	// Act
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	settings, err := cfg.Settings()

	// Assert
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if cfg.IPC || !cfg.Splash {
		t.Errorf("Expected ipc off and splash on")
	}
	if cfg.SplashOffset != 100 {
		t.Errorf("Expected splash_offset clamped to 100, got %v", cfg.SplashOffset)
	}
	if len(cfg.Preload) != 1 || cfg.Preload[0] != single {
		t.Errorf("Unexpected preload list %v", cfg.Preload)
	}
	if len(settings) != 3 {
		t.Fatalf("Expected 3 settings, got %d", len(settings))
	}

	if s := settings[0]; s.Monitor != "DP-1" || s.FitMode != matcher.FitContain || len(s.Paths) != 1 || s.Source != single {
		t.Errorf("Unexpected first setting %+v", s)
	}

	s := settings[1]
	if len(s.Paths) != 2 || s.Paths[0] != filepath.Join(walls, "a.jpg") {
		t.Errorf("Expected the directory to expand in order, got %v", s.Paths)
	}
	if s.Timeout != 5*time.Second || s.CycleInterval() != 5*time.Second {
		t.Errorf("Expected a 5s interval, got %v", s.Timeout)
	}
	if s.Triggers != matcher.TriggerSIGHUP|matcher.TriggerFileChange {
		t.Errorf("Unexpected triggers %v", s.Triggers)
	}
	if s.Debounce != 200*time.Millisecond || s.Source != walls {
		t.Errorf("Unexpected watch settings %v %q", s.Debounce, s.Source)
	}

	s = settings[2]
	if s.Monitor != "" || s.Rotation != 90 || s.Source != "" || len(s.Paths) != 3 {
		t.Errorf("Unexpected wildcard setting %+v", s)
	}
	if s.CycleInterval() != 0 {
		t.Errorf("Expected cycling disabled, got %v", s.CycleInterval())
	}
}

func TestSettingErrors(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "a.png")
	writeFile(t, img, "")

	tests := []struct {
		name string
		w    Wallpaper
	}{
		{"no paths", Wallpaper{Monitor: "DP-1"}},
		{"missing file", Wallpaper{Path: []string{filepath.Join(dir, "nope.png")}}},
		{"bad fit mode", Wallpaper{Path: []string{img}, FitMode: "zoom"}},
		{"bad rotation", Wallpaper{Path: []string{img}, Rotation: 45}},
		{"bad trigger", Wallpaper{Path: []string{img}, Triggers: []string{"sigterm"}}},
		{"file change on a list", Wallpaper{Path: []string{img, img}, Triggers: []string{"file_change"}}},
		{"empty desc", Wallpaper{Monitor: "desc:", Path: []string{img}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.w.Setting(); err == nil {
				t.Errorf("Expected an error")
			}
		})
	}

	cfg := &Config{SplashOpacity: 1, SplashColor: "ffffffff", Wallpapers: []Wallpaper{{Monitor: "DP-1"}}}
	if _, err := cfg.Settings(); !errors.Is(err, matcher.ErrNoPaths) {
		t.Errorf("Expected ErrNoPaths to be wrapped, got %v", err)
	}
}

func TestValidateGlobals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	writeFile(t, path, "splash_opacity = 2.0\n")

	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid for opacity, got %v", err)
	}

	writeFile(t, path, "splash_color = \"nothex\"\n")
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid for colour, got %v", err)
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.NRGBA
		ok   bool
	}{
		{"55ffffff", color.NRGBA{0xff, 0xff, 0xff, 0x55}, true},
		{"0x80102030", color.NRGBA{0x10, 0x20, 0x30, 0x80}, true},
		{"#102030", color.NRGBA{0x10, 0x20, 0x30, 0xff}, true},
		{"12345", color.NRGBA{}, false},
		{"zzzzzzzz", color.NRGBA{}, false},
	}

	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseColor(%q) error = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	cfg := &Config{SplashColor: "80ffffff", SplashOpacity: 0.5}
	if got := cfg.SplashTint(); got.A != 0x40 {
		t.Errorf("Expected the opacity folded into alpha, got %#x", got.A)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := ExpandHome("~/walls/a.png"); got != filepath.Join(home, "walls", "a.png") {
		t.Errorf("Unexpected expansion %s", got)
	}
	if got := ExpandHome("/abs/a.png"); got != "/abs/a.png" {
		t.Errorf("Expected absolute paths untouched, got %s", got)
	}
	if got := ExpandHome("~user/a.png"); got != "~user/a.png" {
		t.Errorf("Expected ~user untouched, got %s", got)
	}
}
