//go:build linux && cgo

package gbm

/*
#cgo pkg-config: gbm

#include <stdint.h>
#include <stdlib.h>
#include <gbm.h>
*/
import "C"
import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is an open gbm device on a render node.
type Device struct {
	fd  int
	dev *C.struct_gbm_device
}

// Open opens the render node at path.
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	dev := C.gbm_create_device(C.int(fd))
	if dev == nil {
		unix.Close(fd)
		return nil, fmt.Errorf("gbm_create_device %s failed", path)
	}
	return &Device{fd: fd, dev: dev}, nil
}

func (d *Device) Close() {
	if d.dev != nil {
		C.gbm_device_destroy(d.dev)
		d.dev = nil
		unix.Close(d.fd)
	}
}

// BO is a gbm buffer object.
type BO struct {
	bo *C.struct_gbm_bo
	w  int
	h  int
}

// CreateBO allocates with the given modifiers, retrying without them when the driver refuses.
func (d *Device) CreateBO(w, h int, format uint32, modifiers []uint64) (*BO, error) {
	var bo *C.struct_gbm_bo
	if len(modifiers) > 0 {
		bo = C.gbm_bo_create_with_modifiers2(d.dev, C.uint32_t(w), C.uint32_t(h), C.uint32_t(format),
			(*C.uint64_t)(unsafe.Pointer(&modifiers[0])), C.uint(len(modifiers)), C.GBM_BO_USE_RENDERING)
	}
	if bo == nil {
		bo = C.gbm_bo_create(d.dev, C.uint32_t(w), C.uint32_t(h), C.uint32_t(format), C.GBM_BO_USE_RENDERING)
	}
	if bo == nil {
		return nil, fmt.Errorf("gbm_bo_create %dx%d format %#x failed", w, h, format)
	}
	return &BO{bo: bo, w: w, h: h}, nil
}

func (b *BO) Modifier() uint64 {
	return uint64(C.gbm_bo_get_modifier(b.bo))
}

// Planes exports every plane as a dmabuf fd.
func (b *BO) Planes() ([]Plane, error) {
	n := int(C.gbm_bo_get_plane_count(b.bo))
	planes := make([]Plane, 0, n)
	for i := 0; i < n; i++ {
		fd := int(C.gbm_bo_get_fd_for_plane(b.bo, C.int(i)))
		if fd < 0 {
			for _, p := range planes {
				unix.Close(p.FD)
			}
			return nil, fmt.Errorf("export plane %d failed", i)
		}
		planes = append(planes, Plane{
			FD:     fd,
			Offset: uint32(C.gbm_bo_get_offset(b.bo, C.int(i))),
			Stride: uint32(C.gbm_bo_get_stride_for_plane(b.bo, C.int(i))),
		})
	}
	return planes, nil
}

// Write maps the buffer for writing and hands the mapping to fn.
func (b *BO) Write(fn func(pix []byte, stride int)) error {
	var stride C.uint32_t
	var mapData unsafe.Pointer
	ptr := C.gbm_bo_map(b.bo, 0, 0, C.uint32_t(b.w), C.uint32_t(b.h), C.GBM_BO_TRANSFER_WRITE, &stride, &mapData)
	if ptr == nil {
		return fmt.Errorf("gbm_bo_map failed")
	}
	defer C.gbm_bo_unmap(b.bo, mapData)
	fn(unsafe.Slice((*byte)(ptr), int(stride)*b.h), int(stride))
	return nil
}

func (b *BO) Destroy() {
	if b.bo != nil {
		C.gbm_bo_destroy(b.bo)
		b.bo = nil
	}
}
