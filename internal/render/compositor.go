package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"

	"layerpaper/internal/matcher"
)

// splashDivisor relates the splash font size to the target height.
const splashDivisor = 76

// Source is a decoded image that can hand out pre-scaled copies.
type Source interface {
	Image() image.Image
	// Scaled returns the image resized to exactly w x h.
	Scaled(w, h int) image.Image
}

// Splash is the optional text drawn over the wallpaper.
type Splash struct {
	Text string
	// Offset is the distance of the text above the bottom edge, in percent of the height.
	Offset float64
	Color  color.NRGBA
}

// Job is one paint request.
type Job struct {
	Source   Source
	Fit      matcher.FitMode
	Rotation int
	Splash   *Splash
}

// Compositor paints frames. It is not safe for concurrent use.
type Compositor struct {
	font   *opentype.Font
	faces  map[float64]font.Face
	canvas *image.RGBA
}

func NewCompositor() (*Compositor, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse splash font: %w", err)
	}
	return &Compositor{font: f, faces: make(map[float64]font.Face)}, nil
}

// Canvas returns a scratch frame of the given size. It is reused by the next call with the same size.
func (c *Compositor) Canvas(size image.Point) *image.RGBA {
	if c.canvas == nil || c.canvas.Bounds().Size() != size {
		c.canvas = image.NewRGBA(image.Rectangle{Max: size})
	}
	return c.canvas
}

// Paint clears dst, draws a black backdrop, the image according to its placement, and the splash text.
func (c *Compositor) Paint(dst *image.RGBA, job Job) error {
	b := dst.Bounds()
	draw.Draw(dst, b, image.Transparent, image.Point{}, draw.Src)
	draw.Draw(dst, b, image.Black, image.Point{}, draw.Src)

	if job.Source != nil {
		img := job.Source.Image()
		p := Place(img.Bounds().Size(), b.Size(), job.Fit, job.Rotation)
		switch {
		case p.Tile:
			tile(dst, rotateQuarter(img, job.Rotation))
		case normalizeRotation(job.Rotation) == 0:
			r := p.Rect().Add(b.Min)
			scaled := job.Source.Scaled(r.Dx(), r.Dy())
			draw.Draw(dst, r, scaled, scaled.Bounds().Min, draw.Over)
		default:
			draw.ApproxBiLinear.Transform(dst, paintMatrix(img.Bounds().Size(), b.Size(), p, job.Rotation), img, img.Bounds(), draw.Over, nil)
		}
	}

	if job.Splash != nil && job.Splash.Text != "" {
		if err := c.drawSplash(dst, job.Splash); err != nil {
			return err
		}
	}
	return nil
}

// paintMatrix maps source pixels onto the target: move the image centre to the origin, scale in the
// image's own axes, rotate, then move to the target centre.
func paintMatrix(img, target image.Point, p Placement, rotation int) f64.Aff3 {
	sx, sy := p.ScaleX, p.ScaleY
	if swapsAxes(rotation) {
		// The placement scales are along the target axes.
		sx, sy = sy, sx
	}
	cos, sin := quarterTurn(rotation)
	a, bb := cos*sx, -sin*sy
	d, e := sin*sx, cos*sy
	hw, hh := float64(img.X)/2, float64(img.Y)/2
	cx, cy := float64(target.X)/2, float64(target.Y)/2
	return f64.Aff3{
		a, bb, cx - a*hw - bb*hh,
		d, e, cy - d*hw - e*hh,
	}
}

// rotateQuarter returns img turned by a multiple of 90 degrees.
func rotateQuarter(img image.Image, rotation int) image.Image {
	if normalizeRotation(rotation) == 0 {
		return img
	}
	size := img.Bounds().Size()
	out := size
	if swapsAxes(rotation) {
		out = image.Pt(size.Y, size.X)
	}
	dst := image.NewRGBA(image.Rectangle{Max: out})
	p := Placement{ScaleX: 1, ScaleY: 1}
	draw.NearestNeighbor.Transform(dst, paintMatrix(size, out, p, rotation), img, img.Bounds(), draw.Src, nil)
	return dst
}

func tile(dst *image.RGBA, img image.Image) {
	sb := img.Bounds()
	db := dst.Bounds()
	if sb.Empty() {
		return
	}
	for y := db.Min.Y; y < db.Max.Y; y += sb.Dy() {
		for x := db.Min.X; x < db.Max.X; x += sb.Dx() {
			draw.Draw(dst, image.Rect(x, y, x+sb.Dx(), y+sb.Dy()), img, sb.Min, draw.Over)
		}
	}
}

func (c *Compositor) face(size float64) (font.Face, error) {
	if f, ok := c.faces[size]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(c.font, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("splash face: %w", err)
	}
	c.faces[size] = f
	return f, nil
}

func (c *Compositor) drawSplash(dst *image.RGBA, s *Splash) error {
	b := dst.Bounds()
	size := math.Max(1, math.Round(float64(b.Dy())/splashDivisor))
	face, err := c.face(size)
	if err != nil {
		return err
	}

	offset := math.Min(100, math.Max(0, s.Offset))
	m := face.Metrics()
	width := font.MeasureString(face, s.Text).Round()
	x := b.Min.X + (b.Dx()-width)/2
	y := b.Min.Y + int(float64(b.Dy())*(100-offset)/100) - (m.Ascent + m.Descent).Round()
	if y < b.Min.Y+m.Ascent.Ceil() {
		y = b.Min.Y + m.Ascent.Ceil()
	}

	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(s.Color),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s.Text)
	return nil
}
