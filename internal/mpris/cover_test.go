//go:build linux

package mpris

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("fake"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestFindArtwork(t *testing.T) {
	dir := t.TempDir()
	posterPath := filepath.Join(dir, "poster.jpg")
	touch(t, posterPath)

	videoPath := filepath.Join(dir, "clip.mp4")

	got := FindArtwork(videoPath)
	if got != posterPath {
		t.Errorf("FindArtwork() = %q, want %q", got, posterPath)
	}
}

func TestFindArtwork_SidecarWins(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "cover.jpg"))
	sidecar := filepath.Join(dir, "clip.png")
	touch(t, sidecar)

	got := FindArtwork(filepath.Join(dir, "clip.mp4"))
	if got != sidecar {
		t.Errorf("FindArtwork() = %q, want %q (sidecar)", got, sidecar)
	}
}

func TestFindArtwork_Priority(t *testing.T) {
	dir := t.TempDir()

	// Create folder.jpg (lower priority)
	touch(t, filepath.Join(dir, "folder.jpg"))

	// Create cover.jpg (higher priority)
	coverPath := filepath.Join(dir, "cover.jpg")
	touch(t, coverPath)

	got := FindArtwork(filepath.Join(dir, "clip.mp4"))
	if got != coverPath {
		t.Errorf("FindArtwork() = %q, want %q (higher priority)", got, coverPath)
	}
}

func TestFindArtwork_FileURL(t *testing.T) {
	dir := t.TempDir()
	coverPath := filepath.Join(dir, "cover.jpg")
	touch(t, coverPath)

	got := FindArtwork("file://" + filepath.Join(dir, "clip.mp4"))
	if got != coverPath {
		t.Errorf("FindArtwork() = %q, want %q", got, coverPath)
	}
}

func TestFindArtwork_NotFound(t *testing.T) {
	dir := t.TempDir()

	for _, locator := range []string{
		filepath.Join(dir, "clip.mp4"),
		"https://example.com/clip.mp4",
		"",
	} {
		if got := FindArtwork(locator); got != "" {
			t.Errorf("FindArtwork(%q) = %q, want empty string", locator, got)
		}
	}
}
