// Package buffer owns the pixel buffers presented on the background surfaces.
//
// A buffer is either CPU-backed (a memory-mapped shm file) or GPU-backed (a gbm buffer object
// imported through linux-dmabuf). Which kind the process uses is decided once at startup by
// NewAllocator; the two are never mixed.
package buffer

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"layerpaper/internal/wl"
)

var (
	ErrDestroyed = errors.New("buffer destroyed")
	ErrSize      = errors.New("invalid buffer size")
)

// Kind tags the backing of a Buffer.
type Kind int

const (
	CPU Kind = iota
	GPU
)

func (k Kind) String() string {
	if k == GPU {
		return "gpu"
	}
	return "cpu"
}

// Key identifies a pooled buffer: the target it is presented on and its pixel size.
type Key struct {
	Target string
	Size   image.Point
}

// Matches reports whether two sizes are within one pixel of each other on both axes.
func (k Key) Matches(size image.Point) bool {
	return abs(k.Size.X-size.X) <= 1 && abs(k.Size.Y-size.Y) <= 1
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// backing is the kind-specific storage of a Buffer.
type backing interface {
	upload(src *image.RGBA) error
	bytes() int
	destroy()
}

// Buffer is one presentable frame.
type Buffer struct {
	Kind Kind
	Key  Key

	wl      wl.Buffer
	release wl.Listener
	backing backing
	busy    atomic.Bool

	destroyed bool
}

func newBuffer(kind Kind, size image.Point, wb wl.Buffer, b backing) *Buffer {
	buf := &Buffer{Kind: kind, Key: Key{Size: size}, wl: wb, backing: b}
	buf.release = wb.Listen(wl.BufferEvents{Release: func() { buf.busy.Store(false) }})
	return buf
}

// WL returns the protocol buffer to attach.
func (b *Buffer) WL() wl.Buffer { return b.wl }

// Size is the pixel size of the buffer.
func (b *Buffer) Size() image.Point { return b.Key.Size }

// Bytes is the memory held by the backing.
func (b *Buffer) Bytes() int {
	if b.destroyed {
		return 0
	}
	return b.backing.bytes()
}

// Busy reports whether the compositor still holds the buffer from the last attach.
func (b *Buffer) Busy() bool { return b.busy.Load() }

// MarkAttached records that the buffer was handed to the compositor.
func (b *Buffer) MarkAttached() { b.busy.Store(true) }

// Upload copies a painted frame into the buffer.
func (b *Buffer) Upload(src *image.RGBA) error {
	if b.destroyed {
		return ErrDestroyed
	}
	if src.Bounds().Size() != b.Key.Size {
		return fmt.Errorf("%w: frame %v, buffer %v", ErrSize, src.Bounds().Size(), b.Key.Size)
	}
	return b.backing.upload(src)
}

// Destroy releases the protocol buffer and its backing. A second call is a no-op.
func (b *Buffer) Destroy() {
	if b.destroyed {
		log.Debug("buffer already destroyed", "target", b.Key.Target, "size", b.Key.Size)
		return
	}
	b.destroyed = true
	if b.release != nil {
		b.release.Remove()
	}
	b.wl.Destroy()
	b.backing.destroy()
}

func (b *Buffer) Destroyed() bool { return b.destroyed }

// Allocator creates buffers of one kind.
type Allocator interface {
	Kind() Kind
	Allocate(size image.Point) (*Buffer, error)
	Close() error
}

// Pool keeps at most one live buffer per target.
type Pool struct {
	alloc   Allocator
	buffers map[string]*Buffer
}

func NewPool(alloc Allocator) *Pool {
	return &Pool{alloc: alloc, buffers: make(map[string]*Buffer)}
}

func (p *Pool) Kind() Kind { return p.alloc.Kind() }

// GetOrCreate returns the target's buffer when its size is within tolerance. Otherwise the stale
// buffer is destroyed first and a new one allocated.
func (p *Pool) GetOrCreate(k Key) (*Buffer, error) {
	if k.Size.X <= 0 || k.Size.Y <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrSize, k.Size)
	}
	if b, ok := p.buffers[k.Target]; ok {
		if b.Key.Matches(k.Size) {
			return b, nil
		}
		log.Debug("replacing buffer", "target", k.Target, "from", b.Key.Size, "to", k.Size)
		b.Destroy()
		delete(p.buffers, k.Target)
	}

	b, err := p.alloc.Allocate(k.Size)
	if err != nil {
		return nil, fmt.Errorf("allocate %s buffer %dx%d: %w", p.alloc.Kind(), k.Size.X, k.Size.Y, err)
	}
	b.Key.Target = k.Target
	p.buffers[k.Target] = b
	return b, nil
}

// Release destroys the target's buffer.
func (p *Pool) Release(target string) {
	if b, ok := p.buffers[target]; ok {
		b.Destroy()
		delete(p.buffers, target)
	}
}

func (p *Pool) Len() int { return len(p.buffers) }

// Bytes sums the memory held by live buffers.
func (p *Pool) Bytes() int {
	n := 0
	for _, b := range p.buffers {
		n += b.Bytes()
	}
	return n
}

// Close destroys all buffers and the allocator.
func (p *Pool) Close() error {
	for t, b := range p.buffers {
		b.Destroy()
		delete(p.buffers, t)
	}
	return p.alloc.Close()
}
