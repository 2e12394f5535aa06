// Package media resolves the locators carried by queued videos before they
// reach the queue.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"github.com/llehouerou/jukebox/internal/queue"
)

var (
	ErrNotFound    = errors.New("media not found")
	ErrUnsupported = errors.New("unsupported locator")
)

// Source turns a requested video into a playable one.
type Source interface {
	Resolve(ctx context.Context, v queue.Video) (queue.Video, error)
}

// Passthrough accepts every video with a non-empty locator as is.
type Passthrough struct{}

func (Passthrough) Resolve(_ context.Context, v queue.Video) (queue.Video, error) {
	if strings.TrimSpace(v.Locator) == "" {
		return v, fmt.Errorf("%w: empty", ErrUnsupported)
	}
	return v, nil
}

// Resolver accepts http(s) URLs untouched and local files (plain paths or
// file:// URLs). Relative paths are taken from Root. Local files missing a
// title or artist get them from their tags, or the title from the file name.
type Resolver struct {
	Root string
}

func NewResolver(root string) *Resolver {
	return &Resolver{Root: root}
}

func (r *Resolver) Resolve(ctx context.Context, v queue.Video) (queue.Video, error) {
	if err := ctx.Err(); err != nil {
		return v, err
	}
	loc := strings.TrimSpace(v.Locator)
	if loc == "" {
		return v, fmt.Errorf("%w: empty", ErrUnsupported)
	}

	u, err := url.Parse(loc)
	if err != nil {
		return v, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	var path string
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return v, fmt.Errorf("%w: %s has no host", ErrUnsupported, loc)
		}
		v.Locator = u.String()
		return v, nil
	case "file":
		path = u.Path
	case "":
		path = loc
	default:
		// Windows drive letters parse as a scheme.
		if len(u.Scheme) == 1 {
			path = loc
			break
		}
		return v, fmt.Errorf("%w: scheme %q", ErrUnsupported, u.Scheme)
	}

	if !filepath.IsAbs(path) && r.Root != "" {
		path = filepath.Join(r.Root, path)
	}
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return v, err
	}
	if info.IsDir() {
		return v, fmt.Errorf("%w: %s is a directory", ErrUnsupported, path)
	}
	v.Locator = path

	if v.Title == "" || v.Artist == "" {
		fillFromTags(&v, path)
	}
	if v.Title == "" {
		base := filepath.Base(path)
		v.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return v, nil
}

// fillFromTags is best effort: files without readable tags keep what the
// request carried.
func fillFromTags(v *queue.Video, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return
	}
	if v.Title == "" {
		v.Title = strings.TrimSpace(m.Title())
	}
	if v.Artist == "" {
		artist := m.Artist()
		if artist == "" {
			artist = m.AlbumArtist()
		}
		v.Artist = strings.TrimSpace(artist)
	}
}

// ResolveAll resolves videos in order and stops at the first failure.
func ResolveAll(ctx context.Context, src Source, videos []queue.Video) ([]queue.Video, error) {
	out := make([]queue.Video, 0, len(videos))
	for i, v := range videos {
		rv, err := src.Resolve(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("video %d: %w", i, err)
		}
		out = append(out, rv)
	}
	return out, nil
}
