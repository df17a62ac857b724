package muc

import (
	"sort"
	"sync"
)

// Room is a joined group chat room
type Room struct {
	JID       string
	Occupants map[int64]bool
}

// Manager tracks the rooms the session has asked to join. A room stays
// until it is left or the session is kicked from it, so the set can be
// replayed after a reconnect.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewManager creates a new MUC manager
func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// JoinRoom records a join request for a bare room address
func (m *Manager) JoinRoom(room string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[room]; ok {
		return
	}
	m.rooms[room] = &Room{
		JID:       room,
		Occupants: make(map[int64]bool),
	}
}

// LeaveRoom forgets a room
func (m *Manager) LeaveRoom(room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, room)
}

// Joined reports whether a room is in the set
func (m *Manager) Joined(room string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[room]
	return ok
}

// Rooms returns the joined room addresses in sorted order
func (m *Manager) Rooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]string, 0, len(m.rooms))
	for room := range m.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Clear forgets every room
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = make(map[string]*Room)
}

// AddOccupant records a user present in a joined room
func (m *Manager) AddOccupant(room string, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[room]; ok {
		r.Occupants[userID] = true
	}
}

// RemoveOccupant records a user leaving a joined room
func (m *Manager) RemoveOccupant(room string, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[room]; ok {
		delete(r.Occupants, userID)
	}
}

// Occupants returns the users seen in a room, sorted
func (m *Manager) Occupants(room string) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[room]
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(r.Occupants))
	for id := range r.Occupants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
