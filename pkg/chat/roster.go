package chat

import (
	"github.com/jackal-xmpp/stravaganza/v2"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/qbsdk/internal/storage/sqlite"
	"github.com/meszmate/qbsdk/internal/xmpp/address"
	"github.com/meszmate/qbsdk/internal/xmpp/element"
	"github.com/meszmate/qbsdk/internal/xmpp/roster"
)

// RosterProxy manages the contact list and subscriptions
type RosterProxy struct {
	s     *session
	store *roster.Store
	cache RosterCache
}

// Contacts returns a copy of the known contacts
func (r *RosterProxy) Contacts() Contacts {
	return r.store.All()
}

// Contact returns the subscription state of one user
func (r *RosterProxy) Contact(userID int64) (Contact, bool) {
	return r.store.Get(userID)
}

// Get fetches the roster from the server and replaces the local contacts
// with it. cb may be nil.
func (r *RosterProxy) Get(cb func(contacts Contacts, err error)) error {
	id := address.UniqueID("getRoster")
	iq := element.New("iq",
		"type", string(stanza.GetIQ),
		"from", r.s.currentJID(),
		"id", id,
	).WithChild(
		element.Empty("query", stravaganza.Namespace, element.NSRoster),
	).Build()

	return r.s.request(id, iq, func(resp stravaganza.Element) {
		if element.IsError(resp) {
			if cb != nil {
				cb(nil, element.ParseError(resp))
			}
			return
		}
		contacts := roster.ParseQuery(resp)
		r.store.Replace(contacts)
		r.saveCache()
		if cb != nil {
			cb(contacts, nil)
		}
	})
}

// Add requests a subscription to a user
func (r *RosterProxy) Add(to any, cb func(err error)) error {
	target, err := r.s.addr.JIDOrUserID(to)
	if err != nil {
		return err
	}
	r.store.Set(address.IDFromNode(target), Contact{
		Subscription: roster.SubscriptionNone,
		Ask:          roster.AskSubscribe,
	})
	r.saveCache()

	if err := r.sendPresence(target, stanza.SubscribePresence); err != nil {
		return err
	}
	if cb != nil {
		r.s.safe("roster add", func() { cb(nil) })
	}
	return nil
}

// Confirm accepts a subscription request and subscribes back
func (r *RosterProxy) Confirm(to any, cb func(err error)) error {
	target, err := r.s.addr.JIDOrUserID(to)
	if err != nil {
		return err
	}
	r.store.Set(address.IDFromNode(target), Contact{
		Subscription: roster.SubscriptionFrom,
		Ask:          roster.AskSubscribe,
	})
	r.saveCache()

	if err := r.sendPresence(target, stanza.SubscribedPresence); err != nil {
		return err
	}
	if err := r.sendPresence(target, stanza.SubscribePresence); err != nil {
		return err
	}
	if cb != nil {
		r.s.safe("roster confirm", func() { cb(nil) })
	}
	return nil
}

// Reject declines a subscription request
func (r *RosterProxy) Reject(to any, cb func(err error)) error {
	target, err := r.s.addr.JIDOrUserID(to)
	if err != nil {
		return err
	}
	r.store.Set(address.IDFromNode(target), Contact{Subscription: roster.SubscriptionNone})
	r.saveCache()

	if err := r.sendPresence(target, stanza.UnsubscribedPresence); err != nil {
		return err
	}
	if cb != nil {
		r.s.safe("roster reject", func() { cb(nil) })
	}
	return nil
}

// Remove deletes a user from the roster. The contact is dropped locally
// once the server answers.
func (r *RosterProxy) Remove(to any, cb func(err error)) error {
	target, err := r.s.addr.JIDOrUserID(to)
	if err != nil {
		return err
	}
	userID := address.IDFromNode(target)

	id := address.UniqueID("getRoster")
	iq := element.New("iq",
		"type", string(stanza.SetIQ),
		"from", r.s.currentJID(),
		"id", id,
	).WithChild(
		element.New("query", stravaganza.Namespace, element.NSRoster).
			WithChild(element.Empty("item",
				"jid", target,
				"subscription", string(roster.SubscriptionRemove),
			)).
			Build(),
	).Build()

	return r.s.request(id, iq, func(resp stravaganza.Element) {
		var err error
		if element.IsError(resp) {
			err = element.ParseError(resp)
		} else {
			r.store.Remove(userID)
			r.saveCache()
		}
		if cb != nil {
			r.s.safe("roster remove", func() { cb(err) })
		}
	})
}

func (r *RosterProxy) sendPresence(to string, typ stanza.PresenceType) error {
	return r.s.send(element.Empty("presence", "to", to, "type", string(typ)))
}

func (r *RosterProxy) account() string {
	return r.s.addr.Current().Bare().String()
}

func (r *RosterProxy) saveCache() {
	if r.cache == nil {
		return
	}
	account := r.account()
	if account == "" {
		return
	}

	contacts := r.store.All()
	entries := make([]sqlite.RosterEntry, 0, len(contacts))
	for userID, c := range contacts {
		entries = append(entries, sqlite.RosterEntry{
			UserID:       userID,
			Subscription: string(c.Subscription),
			Ask:          c.Ask,
		})
	}
	if err := r.cache.SaveRoster(account, entries); err != nil {
		r.s.log.Warn("failed to save roster cache: %v", err)
	}
}

// seedFromCache fills an empty store from the cache of the current account
func (r *RosterProxy) seedFromCache() {
	if r.cache == nil || r.store.Count() > 0 {
		return
	}
	entries, err := r.cache.GetRoster(r.account())
	if err != nil {
		r.s.log.Warn("failed to load roster cache: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	contacts := make(Contacts, len(entries))
	for _, e := range entries {
		contacts[e.UserID] = Contact{
			Subscription: roster.Subscription(e.Subscription),
			Ask:          e.Ask,
		}
	}
	r.store.Replace(contacts)
	r.s.log.Debug("loaded %d cached contacts", len(contacts))
}
