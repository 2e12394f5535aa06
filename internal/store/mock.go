package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/llehouerou/jukebox/internal/command"
)

// Mock is an in-memory Store for tests.
type Mock struct {
	mu       sync.Mutex
	commands map[string]command.Command
	order    []string
	states   map[string]State
	closed   bool

	// Hooks, when set, run before the operation and may fail it.
	// Set them before the mock is shared.
	QueryHook  func(ctx context.Context) error
	UpsertHook func(ctx context.Context, patch Patch, revision int64) error
	UpdateHook func(ctx context.Context, id string) error
	InsertHook func(ctx context.Context, c command.Command) error

	queries  int
	upserts  []Patch
	updates  []StatusUpdate
	repairs  int
	expiries []StatusUpdate
}

// NewMock creates an empty mock store.
func NewMock() *Mock {
	return &Mock{
		commands: make(map[string]command.Command),
		states:   make(map[string]State),
	}
}

func (m *Mock) InsertCommand(ctx context.Context, c command.Command) error {
	if m.InsertHook != nil {
		if err := m.InsertHook(ctx, c); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.commands[c.ID]; !ok {
		m.order = append(m.order, c.ID)
	}
	if c.Status == "" {
		c.Status = command.StatusPending
	}
	m.commands[c.ID] = c
	return nil
}

func (m *Mock) UpdateCommandStatus(ctx context.Context, id string, status command.Status, result *command.Result) error {
	if m.UpdateHook != nil {
		if err := m.UpdateHook(ctx, id); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, StatusUpdate{ID: id, Status: status})
	c, ok := m.commands[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.Result = result
	m.commands[id] = c
	return nil
}

func (m *Mock) QueryPendingCommands(ctx context.Context, playerID string, since time.Time) ([]command.Command, error) {
	if m.QueryHook != nil {
		if err := m.QueryHook(ctx); err != nil {
			m.mu.Lock()
			m.queries++
			m.mu.Unlock()
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	var out []command.Command
	for _, id := range m.order {
		c := m.commands[id]
		if c.TargetPlayerID != playerID || c.Status != command.StatusPending {
			continue
		}
		if c.IssuedAt.Before(since) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (m *Mock) GetCommand(_ context.Context, id string) (command.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commands[id]
	if !ok {
		return command.Command{}, ErrNotFound
	}
	return c, nil
}

func (m *Mock) ExpireCommands(_ context.Context, updates []StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		m.expiries = append(m.expiries, u)
		if c, ok := m.commands[u.ID]; ok && c.Status == command.StatusPending {
			c.Status = u.Status
			m.commands[u.ID] = c
		}
	}
	return nil
}

func (m *Mock) GetState(_ context.Context, playerID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[playerID]
	if !ok {
		return State{}, ErrNotFound
	}
	return s, nil
}

func (m *Mock) UpsertState(ctx context.Context, playerID string, patch Patch, revision int64) (bool, error) {
	if m.UpsertHook != nil {
		if err := m.UpsertHook(ctx, patch, revision); err != nil {
			return false, err
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.states[playerID]
	if revision <= cur.Revision {
		return false, nil
	}
	m.upserts = append(m.upserts, patch)
	next := patch.Apply(cur)
	next.Revision = revision
	m.states[playerID] = next
	return true, nil
}

func (m *Mock) Repair(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repairs++
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Test helpers

// Command returns the stored command with id.
func (m *Mock) Command(id string) (command.Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commands[id]
	return c, ok
}

// Queries returns the number of QueryPendingCommands calls.
func (m *Mock) Queries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

// Upserts returns the applied state patches in order.
func (m *Mock) Upserts() []Patch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Patch(nil), m.upserts...)
}

// Updates returns the UpdateCommandStatus calls in order.
func (m *Mock) Updates() []StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StatusUpdate(nil), m.updates...)
}

// Expiries returns the ExpireCommands entries in order.
func (m *Mock) Expiries() []StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StatusUpdate(nil), m.expiries...)
}

// Repairs returns the number of Repair calls.
func (m *Mock) Repairs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repairs
}

// SetState seeds the state of playerID.
func (m *Mock) SetState(playerID string, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[playerID] = s
}

// IsClosed reports whether Close was called.
func (m *Mock) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Verify Mock implements Store at compile time.
var _ Store = (*Mock)(nil)
