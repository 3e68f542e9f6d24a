package backend

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestGetWallpapers verifies finding image files in a directory.
func TestGetWallpapers(t *testing.T) {
	// Arrange: Setup a dummy directory with specific files
	tmpDir := t.TempDir()

	// Create dummy files
	dummyImages := []string{"test1.jpg", "test2.png", "test3.jpeg", "test4.BMP"}
	for _, f := range dummyImages {
		fPath := filepath.Join(tmpDir, f)
		err := os.WriteFile(fPath, []byte("fake content"), 0644)
		if err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
	}

	// Create a non-image file and a directory that should be ignored
	os.WriteFile(filepath.Join(tmpDir, "ignored.txt"), []byte("ignore me"), 0644)
	os.Mkdir(filepath.Join(tmpDir, "nested.png"), 0755)

	// Act
	images, err := GetWallpapers(tmpDir)

	// Assert
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(images) != 4 {
		t.Errorf("Expected 4 images, found %d", len(images))
	}
}

func TestExpand(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.png"), nil, 0644)
	os.WriteFile(filepath.Join(dir, "a.png"), nil, 0644)
	single := filepath.Join(t.TempDir(), "single.jpg")
	os.WriteFile(single, nil, 0644)

	got, err := Expand([]string{single, dir})

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	want := []string{single, filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, got[i])
		}
	}

	if _, err := Expand([]string{filepath.Join(dir, "missing.png")}); err == nil {
		t.Errorf("Expected an error for a missing path")
	}
	if _, err := Expand([]string{t.TempDir()}); err == nil {
		t.Errorf("Expected an error for an empty directory")
	}
}

func TestSnapshotChanges(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	os.WriteFile(a, nil, 0644)
	before := TakeSnapshot(dir)

	// Act
	b := filepath.Join(dir, "b.png")
	os.WriteFile(b, nil, 0644)
	later := time.Now().Add(time.Hour)
	os.Chtimes(a, later, later)
	after := TakeSnapshot(dir)

	// Assert
	if before.Signature == after.Signature {
		t.Errorf("Expected the signature to change")
	}
	changed := after.ChangedSince(before)
	if len(changed) != 2 || changed[0] != a || changed[1] != b {
		t.Errorf("Expected a and b to be reported, got %v", changed)
	}
	if again := TakeSnapshot(dir); again.Signature != after.Signature {
		t.Errorf("Expected a stable signature")
	}
	if s := TakeSnapshot(filepath.Join(dir, "nope")); len(s.Images) != 0 {
		t.Errorf("Expected an empty snapshot for a missing source")
	}
}

func TestPlaylist(t *testing.T) {
	p := NewPlaylist([]string{"/a", "/b", "/c"})

	if p.Current() != "/a" || p.Next() != "/b" || p.Next() != "/c" || p.Next() != "/a" {
		t.Fatalf("Unexpected cycling order")
	}

	if !p.SetCurrent("/c") || p.SetCurrent("/z") {
		t.Fatalf("Expected SetCurrent to accept only listed images")
	}
	p.Update([]string{"/d", "/c"})
	if p.Current() != "/c" || !p.Contains("/d") {
		t.Errorf("Expected /c to stay current, got %s", p.Current())
	}
	p.Update([]string{"/x"})
	if p.Current() != "/x" || p.Contains("/c") {
		t.Errorf("Expected a reset to the first image, got %s", p.Current())
	}
	if NewPlaylist(nil).Next() != "" {
		t.Errorf("Expected an empty playlist to yield nothing")
	}
}

func TestWatcherDebounces(t *testing.T) {
	dir := t.TempDir()
	fired := make(chan struct{}, 10)
	w, err := Watch(dir, 50*time.Millisecond, func() { fired <- struct{}{} })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		os.WriteFile(filepath.Join(dir, "burst.png"), []byte{byte(i)}, 0644)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatalf("Expected a notification")
	}
	select {
	case <-fired:
		t.Errorf("Expected the burst to be coalesced into one notification")
	case <-time.After(300 * time.Millisecond):
	}
}
