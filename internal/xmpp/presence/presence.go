package presence

import (
	"sort"
	"sync"

	"github.com/jackal-xmpp/stravaganza/v2"

	"github.com/meszmate/qbsdk/internal/xmpp/element"
)

// Show represents the presence show state
type Show string

const (
	ShowOnline Show = ""
	ShowAway   Show = "away"
	ShowChat   Show = "chat"
	ShowDND    Show = "dnd"
	ShowXA     Show = "xa"
)

// Status is the last available presence of one resource of a contact
type Status struct {
	UserID   int64
	Resource string
	Show     Show
	Status   string
}

// Manager tracks which contacts are online
type Manager struct {
	mu       sync.RWMutex
	statuses map[int64]map[string]*Status // user id -> resource -> status
}

// NewManager creates a new presence manager
func NewManager() *Manager {
	return &Manager{
		statuses: make(map[int64]map[string]*Status),
	}
}

// Set records an available resource
func (m *Manager) Set(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statuses[status.UserID] == nil {
		m.statuses[status.UserID] = make(map[string]*Status)
	}
	m.statuses[status.UserID][status.Resource] = &status
}

// Remove drops one resource, or every resource when resource is empty
func (m *Manager) Remove(userID int64, resource string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if resource == "" {
		delete(m.statuses, userID)
		return
	}
	if m.statuses[userID] != nil {
		delete(m.statuses[userID], resource)
		if len(m.statuses[userID]) == 0 {
			delete(m.statuses, userID)
		}
	}
}

// Get returns one available status of a user, preferring the plain online show
func (m *Manager) Get(userID int64) *Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Status
	for _, status := range m.statuses[userID] {
		if best == nil || (best.Show != ShowOnline && status.Show == ShowOnline) {
			best = status
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// IsOnline returns whether a user has any available resource
func (m *Manager) IsOnline(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses[userID]) > 0
}

// Online returns the ids of online users, sorted
func (m *Manager) Online() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.statuses))
	for id := range m.statuses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clear clears all presence information
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = make(map[int64]map[string]*Status)
}

// ParseStatus reads the show and status children of an available presence
func ParseStatus(el stravaganza.Element, userID int64, resource string) Status {
	return Status{
		UserID:   userID,
		Resource: resource,
		Show:     Show(element.Text(el, "show")),
		Status:   element.Text(el, "status"),
	}
}
