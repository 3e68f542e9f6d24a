// Package cache decodes wallpaper images and keeps them in memory until they are unloaded.
// Scaled copies are produced with Lanczos resampling and memoised per image and size.
package cache

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	ErrNotAbsolute = errors.New("path is not absolute")
	ErrUnsupported = errors.New("unsupported image format")
)

// maxScaled bounds the number of scaled copies kept per image.
const maxScaled = 4

// Image is a decoded wallpaper.
type Image struct {
	Path string
	Size image.Point

	img    image.Image
	scaled map[image.Point]image.Image
	order  []image.Point
}

func (i *Image) Image() image.Image { return i.img }

// Scaled returns the image resized to w x h, reusing an earlier result for the same size.
func (i *Image) Scaled(w, h int) image.Image {
	if w == i.Size.X && h == i.Size.Y {
		return i.img
	}
	key := image.Pt(w, h)
	if s, ok := i.scaled[key]; ok {
		return s
	}
	s := resize.Resize(uint(w), uint(h), i.img, resize.Lanczos3)
	if len(i.order) >= maxScaled {
		delete(i.scaled, i.order[0])
		i.order = i.order[1:]
	}
	i.scaled[key] = s
	i.order = append(i.order, key)
	return s
}

// Decode reads and decodes an image file.
func Decode(path string) (*Image, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("%w: %s", ErrNotAbsolute, path)
	}
	if strings.EqualFold(filepath.Ext(path), ".jxl") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &Image{
		Path:   path,
		Size:   img.Bounds().Size(),
		img:    img,
		scaled: make(map[image.Point]image.Image),
	}, nil
}

// Store holds decoded images by path. It is owned by a single goroutine.
type Store struct {
	images map[string]*Image
	decode func(string) (*Image, error)
}

func NewStore() *Store {
	return &Store{images: make(map[string]*Image), decode: Decode}
}

// Load returns the cached image or decodes it.
func (s *Store) Load(path string) (*Image, error) {
	if img, ok := s.images[path]; ok {
		return img, nil
	}
	img, err := s.decode(path)
	if err != nil {
		return nil, err
	}
	s.images[path] = img
	return img, nil
}

func (s *Store) Get(path string) (*Image, bool) {
	img, ok := s.images[path]
	return img, ok
}

// Unload drops an image and reports whether it was loaded.
func (s *Store) Unload(path string) bool {
	_, ok := s.images[path]
	delete(s.images, path)
	return ok
}

// UnloadExcept drops every image not in keep and returns how many were dropped.
func (s *Store) UnloadExcept(keep map[string]bool) int {
	n := 0
	for p := range s.images {
		if !keep[p] {
			delete(s.images, p)
			n++
		}
	}
	return n
}

// Paths lists the loaded images, sorted.
func (s *Store) Paths() []string {
	paths := make([]string, 0, len(s.images))
	for p := range s.images {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
