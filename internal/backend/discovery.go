// Package backend handles wallpaper file discovery, playlists and source watching.
// It finds all supported image files in a given directory and notices when they change.
package backend

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// validExtensions is a set (map for O(1) lookup) of supported image file types.
var validExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".bmp":  true,
}

// IsImage reports whether the file name has a supported image extension.
func IsImage(name string) bool {
	return validExtensions[strings.ToLower(filepath.Ext(name))]
}

// GetWallpapers scans the given directory and returns a sorted list of absolute paths
// for all supported image files found.
func GetWallpapers(dir string) ([]string, error) {
	var wallpapers []string

	// ReadDir reads the named directory and returns all its directory entries sorted by filename.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		if IsImage(entry.Name()) {
			wallpapers = append(wallpapers, filepath.Join(dir, entry.Name()))
		}
	}

	return wallpapers, nil
}

// Expand replaces directories in paths by the images they contain. Files are kept as given.
func Expand(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		imgs, err := GetWallpapers(p)
		if err != nil {
			return nil, err
		}
		if len(imgs) == 0 {
			return nil, fmt.Errorf("%s: no images found", p)
		}
		out = append(out, imgs...)
	}
	return out, nil
}

// Snapshot is the set of images under a source path with their modification times.
type Snapshot struct {
	Images    []string
	ModTimes  map[string]time.Time
	Signature uint64
}

// TakeSnapshot records the images of a directory source, or the single file source.
// A missing source yields an empty snapshot.
func TakeSnapshot(source string) Snapshot {
	s := Snapshot{ModTimes: make(map[string]time.Time)}
	if source == "" {
		return s
	}
	add := func(path string) {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return
		}
		s.Images = append(s.Images, path)
		s.ModTimes[path] = info.ModTime()
	}

	info, err := os.Stat(source)
	switch {
	case err != nil:
	case info.IsDir():
		entries, _ := os.ReadDir(source)
		for _, e := range entries {
			if IsImage(e.Name()) {
				add(filepath.Join(source, e.Name()))
			}
		}
	case IsImage(source):
		add(source)
	}
	sort.Strings(s.Images)

	h := fnv.New64a()
	for _, img := range s.Images {
		fmt.Fprintf(h, "%s\x00%d\x00", img, s.ModTimes[img].UnixNano())
	}
	s.Signature = h.Sum64()
	return s
}

// ChangedSince lists the images that are new in s or whose modification time differs from old.
func (s Snapshot) ChangedSince(old Snapshot) []string {
	var changed []string
	for _, img := range s.Images {
		prev, ok := old.ModTimes[img]
		if !ok || !prev.Equal(s.ModTimes[img]) {
			changed = append(changed, img)
		}
	}
	return changed
}
