package media

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/jukebox/internal/queue"
)

// writeTagged writes an ID3v2.3 tag with a title and an artist followed by
// a single MPEG frame header.
func writeTagged(t *testing.T, path, title, artist string) {
	t.Helper()
	frame := func(id, text string) []byte {
		body := append([]byte{0x00}, text...) // ISO-8859-1
		b := make([]byte, 10, 10+len(body))
		copy(b, id)
		binary.BigEndian.PutUint32(b[4:8], uint32(len(body)))
		return append(b, body...)
	}
	var frames []byte
	frames = append(frames, frame("TIT2", title)...)
	frames = append(frames, frame("TPE1", artist)...)

	size := len(frames)
	header := []byte{'I', 'D', '3', 3, 0, 0,
		byte(size >> 21 & 0x7f), byte(size >> 14 & 0x7f), byte(size >> 7 & 0x7f), byte(size & 0x7f)}

	mp3Frame := make([]byte, 417)
	mp3Frame[0], mp3Frame[1], mp3Frame[2] = 0xff, 0xfb, 0x90

	data := append(header, frames...)
	data = append(data, mp3Frame...)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestResolver_URLs(t *testing.T) {
	r := NewResolver("")
	v, err := r.Resolve(context.Background(), queue.Video{Title: "Clip", Locator: " https://cdn.example.com/a.mp4 "})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.mp4", v.Locator)

	_, err = r.Resolve(context.Background(), queue.Video{Locator: "http:///nohost"})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = r.Resolve(context.Background(), queue.Video{Locator: "ftp://example.com/a.mp4"})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = r.Resolve(context.Background(), queue.Video{Locator: "   "})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestResolver_LocalFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intro clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o600))
	r := NewResolver(dir)

	t.Run("relative to root", func(t *testing.T) {
		v, err := r.Resolve(context.Background(), queue.Video{Locator: "intro clip.mp4"})
		require.NoError(t, err)
		assert.Equal(t, path, v.Locator)
		assert.Equal(t, "intro clip", v.Title, "title falls back to the file name")
	})

	t.Run("file url", func(t *testing.T) {
		v, err := r.Resolve(context.Background(), queue.Video{Title: "Intro", Locator: "file://" + filepath.ToSlash(path)})
		require.NoError(t, err)
		assert.Equal(t, "Intro", v.Title)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), queue.Video{Locator: "gone.mp4"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), queue.Video{Locator: dir})
		assert.ErrorIs(t, err, ErrUnsupported)
	})
}

func TestResolver_ReadsTags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.mp3")
	writeTagged(t, path, "Night Drive", "The Band")

	v, err := NewResolver(dir).Resolve(context.Background(), queue.Video{Locator: "track.mp3"})
	require.NoError(t, err)
	assert.Equal(t, "Night Drive", v.Title)
	assert.Equal(t, "The Band", v.Artist)

	v, err = NewResolver(dir).Resolve(context.Background(), queue.Video{Title: "Requested", Locator: "track.mp3"})
	require.NoError(t, err)
	assert.Equal(t, "Requested", v.Title, "request title wins over tags")
	assert.Equal(t, "The Band", v.Artist)
}

func TestResolver_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewResolver("").Resolve(ctx, queue.Video{Locator: "https://example.com/a.mp4"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveAll(t *testing.T) {
	videos := []queue.Video{{Locator: "a"}, {Locator: ""}, {Locator: "c"}}
	_, err := ResolveAll(context.Background(), Passthrough{}, videos)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.Contains(t, err.Error(), "video 1")

	out, err := ResolveAll(context.Background(), Passthrough{}, videos[:1])
	require.NoError(t, err)
	assert.Len(t, out, 1)
}
