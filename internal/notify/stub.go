//go:build !linux

package notify

// New always fails outside Linux.
func New() (Notifier, error) {
	return nil, ErrUnavailable
}
