package buffer

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"layerpaper/internal/wl"
)

// FilePrefix names the shm backing files created in the runtime directory.
const FilePrefix = ".layerpaper_"

// ShmAllocator creates CPU buffers in wl_shm pools.
type ShmAllocator struct {
	shm wl.Shm
	dir string
}

// NewShmAllocator creates pool files in dir, normally $XDG_RUNTIME_DIR.
func NewShmAllocator(shm wl.Shm, dir string) *ShmAllocator {
	return &ShmAllocator{shm: shm, dir: dir}
}

func (a *ShmAllocator) Kind() Kind { return CPU }

func (a *ShmAllocator) Allocate(size image.Point) (*Buffer, error) {
	stride := size.X * 4
	n := stride * size.Y

	f, err := os.CreateTemp(a.dir, FilePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create pool file: %w", err)
	}
	// The mapping and the compositor's pool keep the memory alive; the name is not needed.
	defer f.Close()
	defer os.Remove(f.Name())

	if err := f.Truncate(int64(n)); err != nil {
		return nil, fmt.Errorf("truncate pool file: %w", err)
	}
	fd := int(f.Fd())
	data, err := unix.Mmap(fd, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap pool file: %w", err)
	}

	pool, err := a.shm.CreatePool(fd, int32(n))
	if err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("create shm pool: %w", err)
	}
	wb, err := pool.CreateBuffer(0, int32(size.X), int32(size.Y), int32(stride), wl.ShmFormatXRGB8888)
	pool.Destroy()
	if err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("create shm buffer: %w", err)
	}

	return newBuffer(CPU, size, wb, &shmBacking{data: data, stride: stride}), nil
}

func (a *ShmAllocator) Close() error { return nil }

type shmBacking struct {
	data   []byte
	stride int
}

func (s *shmBacking) upload(src *image.RGBA) error {
	packRows(s.data, s.stride, src, FormatXRGB8888)
	return nil
}

func (s *shmBacking) bytes() int { return len(s.data) }

func (s *shmBacking) destroy() {
	if s.data != nil {
		unix.Munmap(s.data)
		s.data = nil
	}
}

// CleanupStale removes pool files left behind by a previous run that did not exit cleanly.
func CleanupStale(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), FilePrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			log.Warn("could not remove stale pool file", "name", e.Name(), "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}
