package queue

import "math/rand/v2"

// List holds an ordered sequence of videos.
type List struct {
	videos []Video
}

// NewList creates a new empty list.
func NewList() *List {
	return &List{
		videos: make([]Video, 0),
	}
}

// Append adds videos to the tail of the list.
func (l *List) Append(videos ...Video) {
	l.videos = append(l.videos, videos...)
}

// Insert places v at index, shifting later entries back.
// An index past the tail appends. Returns false if index is negative.
func (l *List) Insert(index int, v Video) bool {
	if index < 0 {
		return false
	}
	if index >= len(l.videos) {
		l.videos = append(l.videos, v)
		return true
	}
	l.videos = append(l.videos, Video{})
	copy(l.videos[index+1:], l.videos[index:])
	l.videos[index] = v
	return true
}

// Remove removes the video at the given index.
// Returns false if index is out of bounds.
func (l *List) Remove(index int) bool {
	if index < 0 || index >= len(l.videos) {
		return false
	}
	l.videos = append(l.videos[:index], l.videos[index+1:]...)
	return true
}

// PopFront removes and returns the head of the list.
func (l *List) PopFront() (Video, bool) {
	if len(l.videos) == 0 {
		return Video{}, false
	}
	v := l.videos[0]
	l.videos = l.videos[1:]
	return v, true
}

// Front returns a copy of the head of the list, or nil if empty.
func (l *List) Front() *Video {
	if len(l.videos) == 0 {
		return nil
	}
	v := l.videos[0]
	return &v
}

// Clear removes all videos.
func (l *List) Clear() {
	l.videos = l.videos[:0]
}

// Replace swaps the whole content of the list.
func (l *List) Replace(videos []Video) {
	l.videos = append(l.videos[:0:0], videos...)
}

// Videos returns a copy of all videos.
func (l *List) Videos() []Video {
	result := make([]Video, len(l.videos))
	copy(result, l.videos)
	return result
}

// Len returns the number of videos.
func (l *List) Len() int {
	return len(l.videos)
}

// Shuffle permutes the list in place (Fisher-Yates).
// With keepFirst the entry at index 0 stays where it is.
func (l *List) Shuffle(r *rand.Rand, keepFirst bool) {
	start := 0
	if keepFirst {
		start = 1
	}
	for i := len(l.videos) - 1; i > start; i-- {
		j := start + r.IntN(i-start+1)
		l.videos[i], l.videos[j] = l.videos[j], l.videos[i]
	}
}
