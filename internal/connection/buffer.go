package connection

import (
	"errors"

	"github.com/llehouerou/jukebox/internal/command"
)

// ErrBufferFull is the reason recorded for a command evicted from the
// offline buffer.
var ErrBufferFull = errors.New("offline command buffer full")

// Enqueue buffers a command received while not connected. Duplicates by ID
// are ignored and report queued false. When the buffer is full the oldest
// entry makes room and is returned as evicted.
func (m *Machine) Enqueue(c command.Command) (queued bool, evicted *command.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.queue {
		if q.ID == c.ID {
			return false, nil
		}
	}
	if len(m.queue) >= m.cfg.QueueCapacity {
		oldest := m.queue[0]
		m.queue = m.queue[1:]
		evicted = &oldest
		m.logger.Warn("offline command buffer full, dropping oldest", "id", oldest.ID, "type", string(oldest.Type))
	}
	m.queue = append(m.queue, c)
	return true, evicted
}

// Drain returns the buffered commands in arrival order and empties the buffer.
func (m *Machine) Drain() []command.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}

// Queued returns the number of buffered commands.
func (m *Machine) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
