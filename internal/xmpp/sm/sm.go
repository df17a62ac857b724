// Package sm implements the acknowledgment side of XEP-0198 stream
// management for outgoing chat messages.
package sm

import (
	"strconv"
	"sync"

	"github.com/jackal-xmpp/stravaganza/v2"

	"github.com/meszmate/qbsdk/internal/logging"
	"github.com/meszmate/qbsdk/internal/xmpp/element"
)

// Message is an outgoing chat message awaiting acknowledgment
type Message struct {
	ID      string
	To      string
	Body    string
	Payload any
}

// Callback receives the outcome of a tracked message. Exactly one of lost
// and sent is non-nil.
type Callback func(lost, sent *Message)

// SendFunc writes an element to the stream
type SendFunc func(stravaganza.Element) error

type tracked struct {
	seq uint32
	msg *Message
}

// Manager counts handled stanzas in both directions and matches server
// acknowledgments against the queue of tracked messages.
type Manager struct {
	send SendFunc
	log  logging.Prefixed

	mu       sync.Mutex
	enabled  bool
	outCount uint32
	inCount  uint32
	queue    []tracked
	callback Callback
}

// New creates a disabled manager writing through send
func New(send SendFunc) *Manager {
	return &Manager{send: send, log: logging.Named("QB-SM")}
}

// SetCallback sets the lost/sent callback
func (m *Manager) SetCallback(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = cb
}

// Enabled reports whether the overlay is active on the current stream
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Enable starts counting on a fresh stream. Messages still waiting for an
// acknowledgment from the previous stream are reported as lost.
func (m *Manager) Enable() error {
	m.mu.Lock()
	lost := m.queue
	m.queue = nil
	m.outCount = 0
	m.inCount = 0
	m.enabled = true
	cb := m.callback
	m.mu.Unlock()

	for _, t := range lost {
		if cb != nil {
			cb(t.msg, nil)
		}
	}

	return m.send(element.Empty("enable", stravaganza.Namespace, element.NSSM))
}

// Disable stops counting. Tracked messages are kept so the next Enable can
// report them.
func (m *Manager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Send writes el and counts it. When msg is non-nil the stanza is tracked
// and an acknowledgment is requested right away.
func (m *Manager) Send(el stravaganza.Element, msg *Message) error {
	if err := m.send(el); err != nil {
		return err
	}

	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return nil
	}
	m.outCount++
	if msg == nil {
		m.mu.Unlock()
		return nil
	}
	m.queue = append(m.queue, tracked{seq: m.outCount, msg: msg})
	m.mu.Unlock()

	return m.send(element.Empty("r", stravaganza.Namespace, element.NSSM))
}

// Pending returns the number of unacknowledged tracked messages
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// HandleInbound processes an inbound element. It returns true when the
// element belongs to stream management and must not be dispatched further.
func (m *Manager) HandleInbound(el stravaganza.Element) bool {
	name := element.LocalName(el)
	if element.Namespace(el) == element.NSSM {
		switch name {
		case "a":
			h, err := strconv.ParseUint(element.Attr(el, "h"), 10, 32)
			if err == nil {
				m.ack(uint32(h))
			}
		case "r":
			m.mu.Lock()
			h := m.inCount
			m.mu.Unlock()
			if err := m.send(element.Empty("a", stravaganza.Namespace, element.NSSM, "h", strconv.FormatUint(uint64(h), 10))); err != nil {
				m.log.Warn("failed to answer ack request (h=%d): %v", h, err)
			}
		case "failed":
			m.Disable()
		}
		return true
	}

	switch name {
	case "message", "presence", "iq":
		m.mu.Lock()
		if m.enabled {
			m.inCount++
		}
		m.mu.Unlock()
	}
	return false
}

func (m *Manager) ack(h uint32) {
	m.mu.Lock()
	var acked []*Message
	i := 0
	for ; i < len(m.queue); i++ {
		// wrapping comparison: seq <= h
		if int32(h-m.queue[i].seq) < 0 {
			break
		}
		acked = append(acked, m.queue[i].msg)
	}
	m.queue = m.queue[i:]
	cb := m.callback
	m.mu.Unlock()

	if cb == nil {
		return
	}
	for _, msg := range acked {
		cb(nil, msg)
	}
}
