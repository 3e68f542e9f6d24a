//go:build !linux || !cgo

package gbm

type Device struct{}

func Open(path string) (*Device, error) { return nil, ErrUnavailable }

func (d *Device) Close() {}

type BO struct{}

func (d *Device) CreateBO(w, h int, format uint32, modifiers []uint64) (*BO, error) {
	return nil, ErrUnavailable
}

func (b *BO) Modifier() uint64                          { return 0 }
func (b *BO) Planes() ([]Plane, error)                  { return nil, ErrUnavailable }
func (b *BO) Write(fn func(pix []byte, stride int)) error { return ErrUnavailable }
func (b *BO) Destroy()                                  {}
