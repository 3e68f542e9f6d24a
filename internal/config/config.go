// Package config loads the daemon configuration: global options and the [[wallpaper]] rules.
// Configuration is stored as TOML in the user's config directory.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"layerpaper/internal/backend"
	"layerpaper/internal/matcher"
)

var ErrInvalid = errors.New("invalid configuration")

// Wallpaper is one [[wallpaper]] table.
type Wallpaper struct {
	Monitor string `mapstructure:"monitor"`
	// Path is a file, a directory, or a list of either.
	Path     []string `mapstructure:"path"`
	FitMode  string   `mapstructure:"fit_mode"`
	Rotation int      `mapstructure:"rotation"`
	// Timeout is the cycle interval in seconds; 0 uses the default, -1 disables cycling.
	Timeout              int      `mapstructure:"timeout"`
	Triggers             []string `mapstructure:"triggers"`
	FileChangeDebounceMs int      `mapstructure:"file_change_debounce_ms"`
}

// Config holds the application settings read from disk.
type Config struct {
	IPC           bool    `mapstructure:"ipc"`
	Splash        bool    `mapstructure:"splash"`
	SplashOffset  float64 `mapstructure:"splash_offset"`
	SplashOpacity float64 `mapstructure:"splash_opacity"`
	SplashColor   string  `mapstructure:"splash_color"`
	// Preload lists images decoded at startup.
	Preload    []string    `mapstructure:"preload"`
	Wallpapers []Wallpaper `mapstructure:"wallpaper"`
}

func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "layerpaper", "layerpaper.toml"), nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetDefault("ipc", true)
	v.SetDefault("splash", false)
	v.SetDefault("splash_offset", 2.0)
	v.SetDefault("splash_opacity", 0.8)
	v.SetDefault("splash_color", "55ffffff")
	return v
}

// Load reads the config file at path, or the default location when path is empty.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v := newViper(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.SplashOffset = min(100, max(0, cfg.SplashOffset))
	for i, p := range cfg.Preload {
		cfg.Preload[i] = ExpandHome(strings.TrimSpace(p))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the global options. Wallpaper tables are checked by Settings.
func (c *Config) Validate() error {
	if c.SplashOpacity < 0 || c.SplashOpacity > 1 {
		return fmt.Errorf("%w: splash_opacity %v outside 0..1", ErrInvalid, c.SplashOpacity)
	}
	if _, err := ParseColor(c.SplashColor); err != nil {
		return err
	}
	return nil
}

// SplashTint is the splash colour with the opacity folded into its alpha.
func (c *Config) SplashTint() color.NRGBA {
	col, err := ParseColor(c.SplashColor)
	if err != nil {
		col = color.NRGBA{0xff, 0xff, 0xff, 0x55}
	}
	col.A = uint8(float64(col.A)*c.SplashOpacity + 0.5)
	return col
}

// ParseColor parses AARRGGBB or RRGGBB hex, with an optional 0x or # prefix.
func ParseColor(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x"), "#")
	if len(h) == 6 {
		h = "ff" + h
	}
	if len(h) != 8 {
		return color.NRGBA{}, fmt.Errorf("%w: color %q", ErrInvalid, s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: color %q", ErrInvalid, s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: uint8(v >> 24)}, nil
}

// Settings converts the wallpaper tables into matcher settings, expanding directories.
func (c *Config) Settings() ([]matcher.Setting, error) {
	out := make([]matcher.Setting, 0, len(c.Wallpapers))
	for i, w := range c.Wallpapers {
		s, err := w.Setting()
		if err != nil {
			return nil, fmt.Errorf("wallpaper[%d] (monitor %q): %w", i, w.Monitor, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Setting converts one table.
func (w Wallpaper) Setting() (matcher.Setting, error) {
	fit, err := matcher.ParseFitMode(w.FitMode)
	if err != nil {
		return matcher.Setting{}, err
	}
	triggers, err := matcher.ParseTriggers(w.Triggers)
	if err != nil {
		return matcher.Setting{}, err
	}

	raw := make([]string, 0, len(w.Path))
	for _, p := range w.Path {
		if p = strings.TrimSpace(p); p != "" {
			raw = append(raw, ExpandHome(p))
		}
	}
	if len(raw) == 0 {
		return matcher.Setting{}, matcher.ErrNoPaths
	}
	paths, err := backend.Expand(raw)
	if err != nil {
		return matcher.Setting{}, err
	}

	s := matcher.Setting{
		Monitor:  strings.TrimSpace(w.Monitor),
		Paths:    paths,
		FitMode:  fit,
		Rotation: w.Rotation,
		Triggers: triggers,
		Debounce: time.Duration(max(0, w.FileChangeDebounceMs)) * time.Millisecond,
	}
	switch {
	case w.Timeout < 0:
		s.Timeout = -1
	case w.Timeout > 0:
		s.Timeout = time.Duration(w.Timeout) * time.Second
	}
	if len(raw) == 1 {
		s.Source = raw[0]
	}
	if triggers&matcher.TriggerFileChange != 0 && s.Source == "" {
		return matcher.Setting{}, fmt.Errorf("%w: file_change needs a single path", ErrInvalid)
	}
	return s, s.Validate()
}

// ExpandHome replaces a leading ~ with the home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Watch reloads the file whenever it changes and hands the result to fn, which runs on the
// watcher goroutine.
func Watch(path string, fn func(*Config, error)) error {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("config changed", "file", e.Name)
		fn(decode(v))
	})
	v.WatchConfig()
	return nil
}
