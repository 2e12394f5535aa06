//go:build linux

package mpris

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// artExts lists sidecar image extensions in priority order.
var artExts = []string{".jpg", ".png", ".jpeg", ".webp"}

// artNames lists common directory-level artwork filenames in priority order.
var artNames = []string{
	"poster.jpg", "poster.png",
	"cover.jpg", "cover.png", "cover.jpeg",
	"folder.jpg", "folder.png",
	"thumb.jpg", "thumb.png",
}

// FindArtwork looks for artwork next to a local video: first a sidecar
// image sharing the video's base name, then a directory-level poster.
// Remote locators have no artwork and return the empty string.
func FindArtwork(locator string) string {
	path, ok := localPath(locator)
	if !ok {
		return ""
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range artExts {
		if isFile(base + ext) {
			return base + ext
		}
	}
	dir := filepath.Dir(path)
	for _, name := range artNames {
		p := filepath.Join(dir, name)
		if isFile(p) {
			return p
		}
	}
	return ""
}

func localPath(locator string) (string, bool) {
	if !strings.Contains(locator, "://") {
		return locator, locator != ""
	}
	u, err := url.Parse(locator)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	return u.Path, true
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
