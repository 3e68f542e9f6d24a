package buffer

import (
	"encoding/binary"
	"image"
)

// DRM fourcc codes and modifiers used by the dmabuf path.
const (
	FormatXRGB8888    uint32 = 0x34325258 // XR24
	FormatXBGR8888    uint32 = 0x34324258 // XB24
	FormatXRGB2101010 uint32 = 0x30335258 // XR30
	FormatXBGR2101010 uint32 = 0x30334258 // XB30

	ModLinear  uint64 = 0
	ModInvalid uint64 = 0x00ffffffffffffff
)

// packRows writes src into dst (little-endian, rows of stride bytes) in the given format.
func packRows(dst []byte, stride int, src *image.RGBA, format uint32) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		in := src.Pix[y*src.Stride:]
		out := dst[y*stride:]
		for x := 0; x < w; x++ {
			r, g, bl := in[x*4], in[x*4+1], in[x*4+2]
			o := out[x*4 : x*4+4]
			switch format {
			case FormatXRGB8888:
				o[0], o[1], o[2], o[3] = bl, g, r, 0xff
			case FormatXBGR8888:
				o[0], o[1], o[2], o[3] = r, g, bl, 0xff
			case FormatXRGB2101010:
				binary.LittleEndian.PutUint32(o, 3<<30|expand10(r)<<20|expand10(g)<<10|expand10(bl))
			case FormatXBGR2101010:
				binary.LittleEndian.PutUint32(o, 3<<30|expand10(bl)<<20|expand10(g)<<10|expand10(r))
			}
		}
	}
}

// expand10 widens an 8-bit channel to 10 bits, mapping 0xff to 0x3ff.
func expand10(v uint8) uint32 {
	return uint32(v)<<2 | uint32(v)>>6
}
