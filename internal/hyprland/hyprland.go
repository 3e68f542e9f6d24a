// Package hyprland talks to the Hyprland instance the daemon runs under, when there is one.
package hyprland

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrNotRunning = errors.New("not running under Hyprland")

// QueryTimeout bounds a request on the instance socket.
const QueryTimeout = 5 * time.Second

// InstanceDir returns $XDG_RUNTIME_DIR/hypr/$HYPRLAND_INSTANCE_SIGNATURE, or "" outside Hyprland.
func InstanceDir() string {
	sig := os.Getenv("HYPRLAND_INSTANCE_SIGNATURE")
	runtime := os.Getenv("XDG_RUNTIME_DIR")
	if sig == "" || runtime == "" {
		return ""
	}
	return filepath.Join(runtime, "hypr", sig)
}

// Query sends one request on the instance's command socket and returns the reply.
func Query(ctx context.Context, request string) (string, error) {
	dir := InstanceDir()
	if dir == "" {
		return "", ErrNotRunning
	}
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", filepath.Join(dir, ".socket.sock"))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte(request)); err != nil {
		return "", err
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		return "", err
	}
	return string(reply), nil
}

// Splash returns the compositor's splash line, or "" when it cannot be fetched.
func Splash(ctx context.Context) string {
	reply, err := Query(ctx, "/splash")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(reply)
}
