// Package render turns a decoded image and a monitor geometry into a painted frame.
package render

import (
	"image"
	"math"

	"layerpaper/internal/matcher"
)

// Placement is where an image lands on a target, in target pixels.
type Placement struct {
	// Image is the effective image size: the source size with axes swapped for quarter-turn rotations.
	Image image.Point
	// ScaleX and ScaleY scale the effective image; they differ only for stretch.
	ScaleX, ScaleY float64
	// X, Y, W, H is the box covered by the scaled effective image. For tile it is the first tile.
	X, Y, W, H float64
	Tile       bool
}

// Place computes the placement of an image of size img on a target of size target.
func Place(img, target image.Point, fit matcher.FitMode, rotation int) Placement {
	eff := img
	if swapsAxes(rotation) {
		eff = image.Pt(img.Y, img.X)
	}
	p := Placement{Image: eff}
	if eff.X <= 0 || eff.Y <= 0 || target.X <= 0 || target.Y <= 0 {
		return p
	}
	iw, ih := float64(eff.X), float64(eff.Y)
	mw, mh := float64(target.X), float64(target.Y)

	switch fit {
	case matcher.FitContain:
		s := math.Min(mw/iw, mh/ih)
		p.ScaleX, p.ScaleY = s, s
	case matcher.FitTile:
		p.ScaleX, p.ScaleY = 1, 1
		p.Tile = true
		p.W, p.H = iw, ih
		return p
	case matcher.FitStretch:
		p.ScaleX, p.ScaleY = mw/iw, mh/ih
	default:
		s := math.Max(mw/iw, mh/ih)
		p.ScaleX, p.ScaleY = s, s
	}
	p.W, p.H = iw*p.ScaleX, ih*p.ScaleY
	p.X, p.Y = (mw-p.W)/2, (mh-p.H)/2
	return p
}

// Rect rounds the placement box to whole pixels.
func (p Placement) Rect() image.Rectangle {
	x0, y0 := int(math.Round(p.X)), int(math.Round(p.Y))
	return image.Rect(x0, y0, x0+int(math.Round(p.W)), y0+int(math.Round(p.H)))
}

func swapsAxes(rotation int) bool {
	r := normalizeRotation(rotation)
	return r == 90 || r == 270
}

func normalizeRotation(rotation int) int {
	r := rotation % 360
	if r < 0 {
		r += 360
	}
	return r
}

// quarterTurn returns exact cosine and sine for multiples of 90 degrees.
func quarterTurn(rotation int) (cos, sin float64) {
	switch normalizeRotation(rotation) {
	case 90:
		return 0, 1
	case 180:
		return -1, 0
	case 270:
		return 0, -1
	}
	return 1, 0
}
