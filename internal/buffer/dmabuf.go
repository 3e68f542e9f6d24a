package buffer

import (
	"errors"
	"fmt"
	"image"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"layerpaper/internal/gbm"
	"layerpaper/internal/wl"
)

var ErrNoFormat = errors.New("no usable dmabuf format")

// preferredFormats is the selection order: 10-bit before 8-bit.
var preferredFormats = []uint32{FormatXRGB2101010, FormatXBGR2101010, FormatXRGB8888, FormatXBGR8888}

// SelectFormat picks the first preferred format the compositor advertised with at least one explicit
// modifier, returning that format's explicit modifiers. Linear and invalid modifiers are skipped.
func SelectFormat(advertised []wl.FormatModifier) (uint32, []uint64, error) {
	for _, f := range preferredFormats {
		var mods []uint64
		for _, fm := range advertised {
			if fm.Format != f || fm.Modifier == ModLinear || fm.Modifier == ModInvalid {
				continue
			}
			mods = append(mods, fm.Modifier)
		}
		if len(mods) > 0 {
			return f, mods, nil
		}
	}
	return 0, nil, ErrNoFormat
}

// DmabufAllocator creates GPU buffers from gbm and imports them with create_immed.
type DmabufAllocator struct {
	dmabuf    wl.LinuxDmabuf
	dev       *gbm.Device
	format    uint32
	modifiers []uint64
}

// testSize is the allocation tried at startup before committing to the GPU path.
var testSize = image.Pt(64, 64)

// NewDmabufAllocator opens the compositor's render node, picks a format and proves an allocation works.
func NewDmabufAllocator(d wl.LinuxDmabuf) (*DmabufAllocator, error) {
	if d == nil {
		return nil, fmt.Errorf("linux-dmabuf: %w", wl.ErrUnsupported)
	}
	devNum, ok := d.MainDevice()
	if !ok {
		return nil, errors.New("compositor sent no main device")
	}
	node, err := gbm.RenderNode(devNum)
	if err != nil {
		return nil, err
	}
	format, mods, err := SelectFormat(d.Formats())
	if err != nil {
		return nil, err
	}
	dev, err := gbm.Open(node)
	if err != nil {
		return nil, err
	}

	a := &DmabufAllocator{dmabuf: d, dev: dev, format: format, modifiers: mods}
	first, err := a.Allocate(testSize)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("test allocation: %w", err)
	}
	first.Destroy()
	log.Info("using dmabuf buffers", "node", node, "format", fmt.Sprintf("%#x", format), "modifiers", len(mods))
	return a, nil
}

func (a *DmabufAllocator) Kind() Kind { return GPU }

func (a *DmabufAllocator) Allocate(size image.Point) (*Buffer, error) {
	bo, err := a.dev.CreateBO(size.X, size.Y, a.format, a.modifiers)
	if err != nil {
		return nil, err
	}
	planes, err := bo.Planes()
	if err != nil {
		bo.Destroy()
		return nil, err
	}
	defer func() {
		for _, p := range planes {
			unix.Close(p.FD)
		}
	}()

	params, err := a.dmabuf.CreateParams()
	if err != nil {
		bo.Destroy()
		return nil, err
	}
	defer params.Destroy()
	mod := bo.Modifier()
	for i, p := range planes {
		params.Add(p.FD, uint32(i), p.Offset, p.Stride, mod)
	}
	wb, err := params.CreateImmed(int32(size.X), int32(size.Y), a.format, 0)
	if err != nil {
		bo.Destroy()
		return nil, fmt.Errorf("import dmabuf: %w", err)
	}

	stride := 0
	if len(planes) > 0 {
		stride = int(planes[0].Stride)
	}
	return newBuffer(GPU, size, wb, &gpuBacking{bo: bo, format: a.format, size: stride * size.Y}), nil
}

func (a *DmabufAllocator) Close() error {
	a.dev.Close()
	return nil
}

type gpuBacking struct {
	bo     *gbm.BO
	format uint32
	size   int
}

func (g *gpuBacking) upload(src *image.RGBA) error {
	return g.bo.Write(func(pix []byte, stride int) {
		packRows(pix, stride, src, g.format)
	})
}

func (g *gpuBacking) bytes() int { return g.size }

func (g *gpuBacking) destroy() { g.bo.Destroy() }

// AllocatorOptions controls NewAllocator.
type AllocatorOptions struct {
	// Dir holds the shm pool files.
	Dir string
	// DisableGPU forces the shm path.
	DisableGPU bool
}

// NewAllocator decides, once, whether the process renders into GPU or CPU buffers. It must run before
// the dispatch loop starts: the dmabuf formats are collected with a blocking roundtrip.
func NewAllocator(c wl.Client, opts AllocatorOptions) Allocator {
	if !opts.DisableGPU {
		d, err := discoverDmabuf(c)
		if err == nil {
			var a *DmabufAllocator
			if a, err = NewDmabufAllocator(d); err == nil {
				return a
			}
		}
		if errors.Is(err, wl.ErrUnsupported) {
			log.Info("compositor has no linux-dmabuf, using shm buffers")
		} else {
			log.Error("dmabuf setup failed, falling back to shm buffers", "err", err)
		}
	}
	return NewShmAllocator(c.Shm(), opts.Dir)
}

// discoverDmabuf binds the dmabuf global and waits for the compositor to advertise its formats.
func discoverDmabuf(c wl.Client) (wl.LinuxDmabuf, error) {
	d := c.LinuxDmabuf()
	if d == nil {
		return nil, fmt.Errorf("linux-dmabuf: %w", wl.ErrUnsupported)
	}
	if err := c.Roundtrip(); err != nil {
		return nil, fmt.Errorf("dmabuf roundtrip: %w", err)
	}
	if len(d.Formats()) == 0 {
		return nil, ErrNoFormat
	}
	return d, nil
}
