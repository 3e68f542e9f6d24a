// Package ipc provides the request protocol between the daemon and its command-line clients.
// A client connects to the Unix socket, writes one request line and reads the reply until EOF.
package ipc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"layerpaper/internal/hyprland"
	"layerpaper/internal/matcher"
)

// SocketName is the file name of the daemon socket.
const SocketName = ".layerpaper.sock"

var (
	ErrNoRuntimeDir = errors.New("XDG_RUNTIME_DIR is not set")
	ErrBadRequest   = errors.New("bad request")
)

// Command names understood by the daemon.
const (
	CmdWallpaper  = "wallpaper"
	CmdReload     = "reload"
	CmdPreload    = "preload"
	CmdUnload     = "unload"
	CmdListLoaded = "listloaded"
	CmdListActive = "listactive"
)

// SocketPath returns the daemon socket path: inside the Hyprland instance directory when running under
// Hyprland, else directly in XDG_RUNTIME_DIR.
func SocketPath() (string, error) {
	if dir := hyprland.InstanceDir(); dir != "" {
		return filepath.Join(dir, SocketName), nil
	}
	runtime := os.Getenv("XDG_RUNTIME_DIR")
	if runtime == "" {
		return "", ErrNoRuntimeDir
	}
	return filepath.Join(runtime, SocketName), nil
}

// Request is one parsed command.
type Request struct {
	Command string
	// Monitor is the selector of wallpaper and reload requests.
	Monitor string
	// Path is the image, or the unload target ("all", "unused" or a path).
	Path string
	Fit  matcher.FitMode
	// HasFit is set when the request named a fit mode explicitly.
	HasFit bool
}

// Setting turns a wallpaper or reload request into a single-image setting.
func (r Request) Setting() matcher.Setting {
	return matcher.Setting{Monitor: r.Monitor, Paths: []string{r.Path}, FitMode: r.Fit}
}

// FormatMessage renders a request as its wire line, without the trailing newline.
// wallpaper and reload use "MONITOR,[fit:]PATH".
func FormatMessage(r Request) string {
	switch r.Command {
	case CmdWallpaper, CmdReload:
		path := r.Path
		if r.HasFit {
			path = r.Fit.String() + ":" + path
		}
		return fmt.Sprintf("%s %s,%s", r.Command, r.Monitor, path)
	case CmdPreload, CmdUnload:
		return r.Command + " " + r.Path
	}
	return r.Command
}

// ParseMessage parses a request line.
func ParseMessage(msg string) (Request, error) {
	msg = strings.TrimSpace(msg)
	cmd, arg, _ := strings.Cut(msg, " ")
	arg = strings.TrimSpace(arg)
	r := Request{Command: cmd}

	switch cmd {
	case CmdWallpaper, CmdReload:
		// Handle selectors and paths with colons by splitting at the first comma only.
		mon, target, ok := strings.Cut(arg, ",")
		if !ok {
			return Request{}, fmt.Errorf("%w: %s wants MONITOR,PATH", ErrBadRequest, cmd)
		}
		r.Monitor = strings.TrimSpace(mon)
		target = strings.TrimSpace(target)
		if prefix, rest, ok := strings.Cut(target, ":"); ok && !strings.Contains(prefix, "/") {
			fit, err := matcher.ParseFitMode(prefix)
			if err != nil {
				return Request{}, err
			}
			r.Fit, r.HasFit = fit, true
			target = strings.TrimSpace(rest)
		}
		if target == "" {
			return Request{}, fmt.Errorf("%w: empty path", ErrBadRequest)
		}
		r.Path = target
	case CmdPreload, CmdUnload:
		if arg == "" {
			return Request{}, fmt.Errorf("%w: %s wants an argument", ErrBadRequest, cmd)
		}
		r.Path = arg
	case CmdListLoaded, CmdListActive:
	default:
		return Request{}, fmt.Errorf("%w: unknown command %q", ErrBadRequest, cmd)
	}
	return r, nil
}
