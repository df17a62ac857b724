package chat

import (
	"sort"
	"strconv"

	"github.com/jackal-xmpp/stravaganza/v2"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/qbsdk/internal/xmpp/address"
	"github.com/meszmate/qbsdk/internal/xmpp/element"
	"github.com/meszmate/qbsdk/pkg/qberror"
)

// PrivacyAction is the action of a privacy rule
type PrivacyAction string

const (
	PrivacyAllow PrivacyAction = "allow"
	PrivacyDeny  PrivacyAction = "deny"
)

// PrivacyItem is one rule of a privacy list. MutualBlock with a deny action
// also hides the user's group chat nickname.
type PrivacyItem struct {
	UserID      int64         `json:"user_id"`
	Action      PrivacyAction `json:"action"`
	MutualBlock bool          `json:"mutualBlock"`
}

// PrivacyList is a named rule set
type PrivacyList struct {
	Name  string        `json:"name"`
	Items []PrivacyItem `json:"items"`
}

// PrivacyListNames lists the privacy lists of the account
type PrivacyListNames struct {
	Default string   `json:"default"`
	Active  string   `json:"active"`
	Names   []string `json:"names"`
}

// errPrivacy is reported for every rejected privacy list request
func errPrivacy(resp stravaganza.Element) error {
	detail := ""
	if se := element.ParseError(resp); se != nil {
		detail = se.Condition
	}
	return qberror.New(408, detail)
}

// PrivacyListProxy manages server side privacy lists
type PrivacyListProxy struct {
	s *session
}

// Create stores a list, replacing any list with the same name. Items are
// written in user id order; the first item given for a user wins.
func (p *PrivacyListProxy) Create(list PrivacyList, cb func(err error)) error {
	id := address.UniqueID("edit")
	iq := element.New("iq",
		"type", string(stanza.SetIQ),
		"from", p.s.currentJID(),
		"id", id,
	).WithChild(
		element.New("query", stravaganza.Namespace, element.NSPrivacy).
			WithChild(p.listElement(list)).
			Build(),
	).Build()

	return p.s.request(id, iq, p.ack("privacy create", cb))
}

func (p *PrivacyListProxy) listElement(list PrivacyList) stravaganza.Element {
	byUser := make(map[int64]PrivacyItem, len(list.Items))
	for i := len(list.Items) - 1; i >= 0; i-- {
		byUser[list.Items[i].UserID] = list.Items[i]
	}
	ids := make([]int64, 0, len(byUser))
	for userID := range byUser {
		ids = append(ids, userID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	b := element.New("list", "name", list.Name)
	order := 0
	for _, userID := range ids {
		item := byUser[userID]
		userJID := p.s.addr.UserJID(userID)

		if item.MutualBlock && item.Action == PrivacyDeny {
			order++
			b = b.WithChild(privacyEntry(userJID, item.Action, order, false))
			order++
			b = b.WithChild(privacyEntry(p.s.addr.UserNickWithMUCDomain(userID), item.Action, order, false))
			continue
		}
		order++
		b = b.WithChild(privacyEntry(userJID, item.Action, order, true))
	}
	return b.Build()
}

// privacyEntry builds one item. A scoped item names the stanza kinds it
// applies to; an unscoped one applies to everything.
func privacyEntry(value string, action PrivacyAction, order int, scoped bool) stravaganza.Element {
	b := element.New("item",
		"type", "jid",
		"value", value,
		"action", string(action),
		"order", strconv.Itoa(order),
	)
	if scoped {
		for _, kind := range []string{"message", "presence-in", "presence-out", "iq"} {
			b = b.WithChild(element.Empty(kind))
		}
	}
	return b.Build()
}

// GetList fetches a list by name
func (p *PrivacyListProxy) GetList(name string, cb func(list *PrivacyList, err error)) error {
	id := address.UniqueID("getlist")
	iq := element.New("iq",
		"type", string(stanza.GetIQ),
		"from", p.s.currentJID(),
		"id", id,
	).WithChild(
		element.New("query", stravaganza.Namespace, element.NSPrivacy).
			WithChild(element.Empty("list", "name", name)).
			Build(),
	).Build()

	return p.s.request(id, iq, func(resp stravaganza.Element) {
		if element.IsError(resp) {
			err := errPrivacy(resp)
			if cb != nil {
				p.s.safe("privacy get list", func() { cb(nil, err) })
			}
			return
		}
		list := parseList(element.Child(element.Child(resp, "query"), "list"))
		if cb != nil {
			p.s.safe("privacy get list", func() { cb(list, nil) })
		}
	})
}

// parseList folds wire items back into one item per user. A deny entry on a
// group chat nickname marks the user as mutually blocked.
func parseList(el stravaganza.Element) *PrivacyList {
	list := &PrivacyList{Name: element.Attr(el, "name")}
	index := make(map[int64]int)
	var nicks []int64

	for _, it := range element.Children(el, "item") {
		value := element.Attr(it, "value")
		if userID := address.IDFromNode(value); userID != 0 {
			if _, seen := index[userID]; seen {
				continue
			}
			index[userID] = len(list.Items)
			list.Items = append(list.Items, PrivacyItem{
				UserID: userID,
				Action: PrivacyAction(element.Attr(it, "action")),
			})
			continue
		}
		if PrivacyAction(element.Attr(it, "action")) == PrivacyDeny {
			if userID := address.IDFromResource(value); userID != 0 {
				nicks = append(nicks, userID)
			}
		}
	}
	for _, userID := range nicks {
		if i, ok := index[userID]; ok {
			list.Items[i].MutualBlock = true
		}
	}
	return list
}

// Update merges items into an existing list by user id and stores the result
func (p *PrivacyListProxy) Update(changes PrivacyList, cb func(err error)) error {
	return p.GetList(changes.Name, func(existing *PrivacyList, err error) {
		if err != nil {
			if cb != nil {
				cb(err)
			}
			return
		}
		merged := PrivacyList{
			Name:  changes.Name,
			Items: mergeItems(existing.Items, changes.Items),
		}
		if err := p.Create(merged, cb); err != nil && cb != nil {
			cb(err)
		}
	})
}

func mergeItems(existing, changes []PrivacyItem) []PrivacyItem {
	out := make([]PrivacyItem, len(existing))
	copy(out, existing)
	index := make(map[int64]int, len(out))
	for i, it := range out {
		index[it.UserID] = i
	}
	for _, it := range changes {
		if i, ok := index[it.UserID]; ok {
			out[i] = it
			continue
		}
		index[it.UserID] = len(out)
		out = append(out, it)
	}
	return out
}

// GetNames lists the names of all privacy lists with the default and
// active ones
func (p *PrivacyListProxy) GetNames(cb func(names *PrivacyListNames, err error)) error {
	id := address.UniqueID("getNames")
	iq := element.New("iq",
		"type", string(stanza.GetIQ),
		"from", p.s.currentJID(),
		"id", id,
	).WithChild(
		element.Empty("query", stravaganza.Namespace, element.NSPrivacy),
	).Build()

	return p.s.request(id, iq, func(resp stravaganza.Element) {
		if element.IsError(resp) {
			err := errPrivacy(resp)
			if cb != nil {
				p.s.safe("privacy get names", func() { cb(nil, err) })
			}
			return
		}
		query := element.Child(resp, "query")
		names := &PrivacyListNames{
			Default: element.Attr(element.Child(query, "default"), "name"),
			Active:  element.Attr(element.Child(query, "active"), "name"),
			Names:   []string{},
		}
		for _, l := range element.Children(query, "list") {
			names.Names = append(names.Names, element.Attr(l, "name"))
		}
		if cb != nil {
			p.s.safe("privacy get names", func() { cb(names, nil) })
		}
	})
}

// Delete removes a list
func (p *PrivacyListProxy) Delete(name string, cb func(err error)) error {
	id := address.UniqueID("remove")
	iq := element.New("iq",
		"from", p.s.currentJID(),
		"type", string(stanza.SetIQ),
		"id", id,
	).WithChild(
		element.New("query", stravaganza.Namespace, element.NSPrivacy).
			WithChild(stravaganza.NewBuilder("list").WithAttribute("name", name).Build()).
			Build(),
	).Build()

	return p.s.request(id, iq, p.ack("privacy delete", cb))
}

// SetAsDefault makes a list the default one. An empty name clears the
// default.
func (p *PrivacyListProxy) SetAsDefault(name string, cb func(err error)) error {
	id := address.UniqueID("default")
	iq := element.New("iq",
		"from", p.s.currentJID(),
		"type", string(stanza.SetIQ),
		"id", id,
	).WithChild(
		element.New("query", stravaganza.Namespace, element.NSPrivacy).
			WithChild(element.Empty("default", "name", name)).
			Build(),
	).Build()

	return p.s.request(id, iq, p.ack("privacy set default", cb))
}

func (p *PrivacyListProxy) ack(name string, cb func(err error)) func(stravaganza.Element) {
	return func(resp stravaganza.Element) {
		if cb == nil {
			return
		}
		var err error
		if element.IsError(resp) {
			err = errPrivacy(resp)
		}
		p.s.safe(name, func() { cb(err) })
	}
}
