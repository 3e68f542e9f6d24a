// Package gbm wraps the parts of libgbm needed to allocate scanout-capable buffers and export them as
// dmabufs. Without cgo every constructor returns ErrUnavailable.
package gbm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

var ErrUnavailable = errors.New("gbm unavailable")

// Plane is one exported dmabuf plane. The caller owns FD.
type Plane struct {
	FD     int
	Offset uint32
	Stride uint32
}

// SysfsRoot is where device nodes are looked up. Tests point it at a fake tree.
var SysfsRoot = "/sys"

// RenderNode resolves a device number, as sent in dmabuf feedback, to its render node path.
func RenderNode(dev uint64) (string, error) {
	major, minor := unix.Major(dev), unix.Minor(dev)
	dir := filepath.Join(SysfsRoot, "dev", "char", fmt.Sprintf("%d:%d", major, minor), "device", "drm")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("device %d:%d: %w", major, minor, err)
	}
	var nodes []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "renderD") {
			nodes = append(nodes, e.Name())
		}
	}
	if len(nodes) == 0 {
		return "", fmt.Errorf("device %d:%d has no render node", major, minor)
	}
	sort.Strings(nodes)
	return filepath.Join("/dev/dri", nodes[0]), nil
}
