package backend

// Playlist is the ordered candidate list of a cycling setting with its current position.
type Playlist struct {
	images  []string
	current int
}

func NewPlaylist(images []string) *Playlist {
	return &Playlist{images: append([]string(nil), images...)}
}

func (p *Playlist) Len() int { return len(p.images) }

// Current returns the current image, or "" for an empty playlist.
func (p *Playlist) Current() string {
	if len(p.images) == 0 {
		return ""
	}
	return p.images[p.current]
}

// Next advances, wrapping around, and returns the new current image.
func (p *Playlist) Next() string {
	if len(p.images) == 0 {
		return ""
	}
	p.current = (p.current + 1) % len(p.images)
	return p.images[p.current]
}

func (p *Playlist) Contains(path string) bool {
	return p.index(path) >= 0
}

// SetCurrent moves to path and reports whether it is in the playlist.
func (p *Playlist) SetCurrent(path string) bool {
	i := p.index(path)
	if i < 0 {
		return false
	}
	p.current = i
	return true
}

// Update replaces the images. The current image stays selected when it survives, otherwise the
// first one is.
func (p *Playlist) Update(images []string) {
	prev := p.Current()
	p.images = append([]string(nil), images...)
	p.current = 0
	p.SetCurrent(prev)
}

func (p *Playlist) index(path string) int {
	for i, img := range p.images {
		if img == path {
			return i
		}
	}
	return -1
}
