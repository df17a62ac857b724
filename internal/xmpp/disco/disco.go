package disco

import (
	"github.com/jackal-xmpp/stravaganza/v2"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/qbsdk/internal/xmpp/element"
)

// Item represents a disco item
type Item struct {
	JID  string
	Name string
	Node string
}

// ItemsQuery builds a disco#items get addressed to an entity
func ItemsQuery(id, from, to string) stravaganza.Element {
	return element.New("iq",
		"type", string(stanza.GetIQ),
		"to", to,
		"from", from,
		"id", id,
	).WithChild(
		element.Empty("query", stravaganza.Namespace, element.NSDiscoItems),
	).Build()
}

// ParseItems decodes the items of a disco#items result
func ParseItems(iq stravaganza.Element) []Item {
	query := element.Child(iq, "query")
	var items []Item
	for _, it := range element.Children(query, "item") {
		items = append(items, Item{
			JID:  element.Attr(it, "jid"),
			Name: element.Attr(it, "name"),
			Node: element.Attr(it, "node"),
		})
	}
	return items
}
