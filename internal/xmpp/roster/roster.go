package roster

import (
	"sync"

	"github.com/jackal-xmpp/stravaganza/v2"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/qbsdk/internal/xmpp/address"
	"github.com/meszmate/qbsdk/internal/xmpp/element"
)

// Subscription represents the subscription state
type Subscription string

const (
	SubscriptionNone   Subscription = "none"
	SubscriptionTo     Subscription = "to"
	SubscriptionFrom   Subscription = "from"
	SubscriptionBoth   Subscription = "both"
	SubscriptionRemove Subscription = "remove"
)

// AskSubscribe marks an outgoing subscription request awaiting an answer
const AskSubscribe = "subscribe"

// Contact is the subscription state of one user
type Contact struct {
	Subscription Subscription `json:"subscription"`
	Ask          string       `json:"ask,omitempty"`
}

// Contacts maps user ids to their subscription state
type Contacts map[int64]Contact

// Action is the side effect a presence transition requires
type Action int

const (
	ActionNone Action = iota
	// ActionSendSubscribed means a subscribed presence must be sent back
	ActionSendSubscribed
	ActionNotifySubscribe
	ActionNotifyConfirm
	ActionNotifyReject
)

// Transition applies a received presence type to the current state of a
// contact. known is false when no entry exists. It returns the new state,
// whether the store must be updated and the side effect to perform.
func Transition(cur Contact, known bool, typ stanza.PresenceType) (next Contact, update bool, action Action) {
	switch typ {
	case stanza.SubscribePresence:
		if known && cur.Subscription == SubscriptionTo {
			return Contact{Subscription: SubscriptionBoth}, true, ActionSendSubscribed
		}
		return cur, false, ActionNotifySubscribe
	case stanza.SubscribedPresence:
		if known && cur.Subscription == SubscriptionFrom {
			return Contact{Subscription: SubscriptionBoth}, true, ActionNone
		}
		return Contact{Subscription: SubscriptionTo}, true, ActionNotifyConfirm
	case stanza.UnsubscribedPresence:
		return Contact{Subscription: SubscriptionNone}, true, ActionNotifyReject
	case stanza.UnsubscribePresence:
		return Contact{Subscription: SubscriptionTo}, true, ActionNone
	}
	return cur, false, ActionNone
}

// Store holds the contact list of the session
type Store struct {
	mu       sync.RWMutex
	contacts Contacts
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		contacts: make(Contacts),
	}
}

// Set replaces the entry of a user
func (s *Store) Set(userID int64, c Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[userID] = c
}

// Get returns the entry of a user
func (s *Store) Get(userID int64) (Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[userID]
	return c, ok
}

// Remove deletes the entry of a user
func (s *Store) Remove(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, userID)
}

// Subscribed reports whether a user has an entry whose subscription is not none
func (s *Store) Subscribed(userID int64) bool {
	c, ok := s.Get(userID)
	return ok && c.Subscription != SubscriptionNone
}

// Apply runs Transition against the stored entry and saves the result
func (s *Store) Apply(userID int64, typ stanza.PresenceType) Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, known := s.contacts[userID]
	next, update, action := Transition(cur, known, typ)
	if update {
		s.contacts[userID] = next
	}
	return action
}

// All returns a copy of every entry
func (s *Store) All() Contacts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Contacts, len(s.contacts))
	for id, c := range s.contacts {
		out[id] = c
	}
	return out
}

// Replace swaps the whole contact list
func (s *Store) Replace(contacts Contacts) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contacts = make(Contacts, len(contacts))
	for id, c := range contacts {
		s.contacts[id] = c
	}
}

// Clear removes all entries
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = make(Contacts)
}

// Count returns the number of entries
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contacts)
}

// ParseQuery decodes the items of a jabber:iq:roster result
func ParseQuery(iq stravaganza.Element) Contacts {
	contacts := make(Contacts)
	query := element.Child(iq, "query")
	for _, item := range element.Children(query, "item") {
		userID := address.IDFromNode(element.Attr(item, "jid"))
		contacts[userID] = Contact{
			Subscription: Subscription(element.Attr(item, "subscription")),
			Ask:          element.Attr(item, "ask"),
		}
	}
	return contacts
}
