package main

import (
	"errors"
	"path/filepath"
	"testing"

	"layerpaper/internal/wl/headless"
)

func TestParseOutputSpec(t *testing.T) {
	tests := []struct {
		in   string
		want headless.OutputSpec
	}{
		{"DP-1:1920x1080", headless.OutputSpec{Name: "DP-1", Description: "Headless DP-1", Width: 1920, Height: 1080, Scale: 1}},
		{"eDP-1:2880x1800@2", headless.OutputSpec{Name: "eDP-1", Description: "Headless eDP-1", Width: 2880, Height: 1800, Scale: 2}},
	}
	for _, tt := range tests {
		got, err := parseOutputSpec(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseOutputSpec(%q) = %+v, %v", tt.in, got, err)
		}
	}

	for _, in := range []string{"1920x1080", ":1920x1080", "DP-1:1920", "DP-1:0x1080", "DP-1:1920x1080@0", "DP-1:axb"} {
		if _, err := parseOutputSpec(in); err == nil {
			t.Errorf("parseOutputSpec(%q): expected an error", in)
		}
	}
}

func TestAcquireLock(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), lockName)
	first, err := acquireLock(path)
	if err != nil {
		t.Fatalf("First lock: %v", err)
	}

	// Act
	_, err = acquireLock(path)

	// Assert
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
	first.Close()
	again, err := acquireLock(path)
	if err != nil {
		t.Fatalf("Expected the lock free after close, got %v", err)
	}
	again.Close()
}

func TestConnectWithoutDisplay(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "")
	if _, err := connect(daemonFlags{}); !errors.Is(err, ErrNoDisplay) {
		t.Errorf("Expected ErrNoDisplay, got %v", err)
	}
}
