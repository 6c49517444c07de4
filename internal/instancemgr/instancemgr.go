// Package instancemgr implements the C5 instance manager: a code->game
// instance map that lazily creates instances on first join and reaps
// them once empty (spec.md §4.5).
package instancemgr

import (
	"sync"

	"github.com/rtype/core/internal/instance"
)

// Manager guards the room-code -> instance map with a single lock, per
// spec.md §5 ("C2, C3, C5 each use a single internal lock").
type Manager struct {
	mu        sync.Mutex
	instances map[string]*instance.Instance

	onAutosave instance.AutosaveCallback
}

// New constructs an empty instance manager.
func New(onAutosave instance.AutosaveCallback) *Manager {
	return &Manager{
		instances:  make(map[string]*instance.Instance),
		onAutosave: onAutosave,
	}
}

// GetOrCreate lazily constructs an instance for code at the given
// game-speed percent if one doesn't already exist.
func (m *Manager) GetOrCreate(code string, gameSpeedPercent int) *instance.Instance {
	m.mu.Lock()
	defer m.mu.Unlock()

	if in, ok := m.instances[code]; ok {
		return in
	}
	in := instance.New(code, gameSpeedPercent, m.remove, m.onAutosave)
	m.instances[code] = in
	return in
}

// Get returns an existing instance without creating one.
func (m *Manager) Get(code string) (*instance.Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instances[code]
	return in, ok
}

// Remove tears down and drops the instance for code, if present.
func (m *Manager) Remove(code string) {
	m.mu.Lock()
	in, ok := m.instances[code]
	if ok {
		delete(m.instances, code)
	}
	m.mu.Unlock()

	if ok {
		in.Close()
	}
}

// remove is the instance.EmptyCallback bound at construction time: an
// instance that just emptied itself requests its own teardown.
func (m *Manager) remove(code string) {
	m.Remove(code)
}

// GetActiveRoomCodes returns a snapshot of every room code with a live
// instance, for C7's broadcast scheduler to walk.
func (m *Manager) GetActiveRoomCodes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	codes := make([]string, 0, len(m.instances))
	for code := range m.instances {
		codes = append(codes, code)
	}
	return codes
}

// Count returns the number of live instances.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}
