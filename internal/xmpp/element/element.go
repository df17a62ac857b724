// Package element contains lookup and construction helpers for stanzas
// built on the stravaganza element model.
package element

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackal-xmpp/stravaganza/v2"
)

// Namespaces used by the chat layer
const (
	NSClient      = "jabber:client"
	NSChatMarkers = "urn:xmpp:chat-markers:0"
	NSChatStates  = "http://jabber.org/protocol/chatstates"
	NSMUC         = "http://jabber.org/protocol/muc"
	NSMUCUser     = "http://jabber.org/protocol/muc#user"
	NSRoster      = "jabber:iq:roster"
	NSPrivacy     = "jabber:iq:privacy"
	NSCarbons     = "urn:xmpp:carbons:2"
	NSForward     = "urn:xmpp:forward:0"
	NSLast        = "jabber:iq:last"
	NSDelay       = "urn:xmpp:delay"
	NSStanzas     = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSDiscoItems  = "http://jabber.org/protocol/disco#items"
	NSSM          = "urn:xmpp:sm:3"
	NSFraming     = "urn:ietf:params:xml:ns:xmpp-framing"
	NSSASL        = "urn:ietf:params:xml:ns:xmpp-sasl"
	NSBind        = "urn:ietf:params:xml:ns:xmpp-bind"
)

// MaxStanzaSize bounds a single inbound stanza
const MaxStanzaSize = 1 << 20

// ModuleSystemNotifications marks headline messages carrying system notifications
const ModuleSystemNotifications = "SystemNotifications"

// Parse decodes one XML element
func Parse(raw string) (stravaganza.Element, error) {
	return stravaganza.NewParser(strings.NewReader(raw), MaxStanzaSize).Parse()
}

// LocalName returns the element name without a namespace prefix
func LocalName(el stravaganza.Element) string {
	if el == nil {
		return ""
	}
	name := el.Name()
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Attr returns an attribute value, or "" for a nil element
func Attr(el stravaganza.Element, name string) string {
	if el == nil {
		return ""
	}
	return el.Attribute(name)
}

// Namespace returns the xmlns attribute
func Namespace(el stravaganza.Element) string {
	return Attr(el, stravaganza.Namespace)
}

// Find returns the first descendant named name, searching depth-first
func Find(el stravaganza.Element, name string) stravaganza.Element {
	if el == nil {
		return nil
	}
	for _, child := range el.AllChildren() {
		if LocalName(child) == name {
			return child
		}
		if found := Find(child, name); found != nil {
			return found
		}
	}
	return nil
}

// FindNS returns the first descendant named name in namespace ns
func FindNS(el stravaganza.Element, name, ns string) stravaganza.Element {
	if el == nil {
		return nil
	}
	for _, child := range el.AllChildren() {
		if LocalName(child) == name && Namespace(child) == ns {
			return child
		}
		if found := FindNS(child, name, ns); found != nil {
			return found
		}
	}
	return nil
}

// Child returns the direct child named name, or nil
func Child(el stravaganza.Element, name string) stravaganza.Element {
	if el == nil {
		return nil
	}
	for _, child := range el.AllChildren() {
		if LocalName(child) == name {
			return child
		}
	}
	return nil
}

// Children returns the direct children named name
func Children(el stravaganza.Element, name string) []stravaganza.Element {
	if el == nil {
		return nil
	}
	var out []stravaganza.Element
	for _, child := range el.AllChildren() {
		if LocalName(child) == name {
			out = append(out, child)
		}
	}
	return out
}

// Text returns the text of the first descendant named name
func Text(el stravaganza.Element, name string) string {
	found := Find(el, name)
	if found == nil {
		return ""
	}
	return found.Text()
}

// IsError reports whether the stanza is an error reply
func IsError(el stravaganza.Element) bool {
	if el == nil {
		return false
	}
	return Attr(el, stravaganza.Type) == stravaganza.ErrorType || Child(el, "error") != nil
}

// New starts a builder for name with attribute pairs. Pairs with an empty
// value are skipped.
func New(name string, kv ...string) *stravaganza.Builder {
	b := stravaganza.NewBuilder(name)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			continue
		}
		b = b.WithAttribute(kv[i], kv[i+1])
	}
	return b
}

// Empty builds a childless element with attribute pairs
func Empty(name string, kv ...string) stravaganza.Element {
	return New(name, kv...).Build()
}

// TextElement builds <name>text</name>
func TextElement(name, text string) stravaganza.Element {
	return stravaganza.NewBuilder(name).WithText(text).Build()
}

// StanzaError is a decoded <error/> child
type StanzaError struct {
	Code      int
	Type      string
	Condition string
	Text      string
}

// Error implements the error interface
func (e *StanzaError) Error() string {
	var b strings.Builder
	b.WriteString("stanza error")
	if e.Code != 0 {
		fmt.Fprintf(&b, " %d", e.Code)
	}
	if e.Condition != "" {
		b.WriteString(": ")
		b.WriteString(e.Condition)
	}
	if e.Text != "" {
		b.WriteString(" (")
		b.WriteString(e.Text)
		b.WriteString(")")
	}
	return b.String()
}

// ParseError decodes the <error/> child of a stanza. It returns nil when
// the stanza carries no error.
func ParseError(el stravaganza.Element) *StanzaError {
	errEl := Child(el, "error")
	if errEl == nil {
		if Attr(el, stravaganza.Type) == stravaganza.ErrorType {
			return &StanzaError{Type: "cancel", Condition: "undefined-condition"}
		}
		return nil
	}

	se := &StanzaError{Type: Attr(errEl, stravaganza.Type)}
	if code := Attr(errEl, "code"); code != "" {
		se.Code, _ = strconv.Atoi(code)
	}
	for _, child := range errEl.AllChildren() {
		switch LocalName(child) {
		case "text":
			se.Text = child.Text()
		default:
			if se.Condition == "" {
				se.Condition = LocalName(child)
			}
		}
	}
	return se
}

// Delay is a decoded urn:xmpp:delay element
type Delay struct {
	Stamp time.Time
	From  string
}

// ParseDelay decodes the delay marker of a stanza, or returns nil
func ParseDelay(el stravaganza.Element) *Delay {
	d := Find(el, "delay")
	if d == nil {
		return nil
	}
	out := &Delay{From: Attr(d, "from")}
	if stamp := Attr(d, "stamp"); stamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, stamp); err == nil {
			out.Stamp = t
		}
	}
	return out
}

// Attachment is one <attachment/> entry of an extension
type Attachment map[string]string

// ParseExtraParams decodes an <extraParams/> element into its dialog id and
// extension map. Attachments are collected under the "attachments" key as
// []Attachment; every other child maps its name to its text.
func ParseExtraParams(el stravaganza.Element) (dialogID string, ext map[string]any) {
	if el == nil {
		return "", nil
	}
	ext = make(map[string]any)
	for _, child := range el.AllChildren() {
		name := LocalName(child)
		switch name {
		case "attachments":
			var attachments []Attachment
			for _, a := range Children(child, "attachment") {
				att := make(Attachment)
				for _, attr := range a.AllAttributes() {
					att[attr.Label] = attr.Value
				}
				attachments = append(attachments, att)
			}
			ext["attachments"] = attachments
		case "moduleIdentifier":
			// routing marker, not part of the payload
		default:
			ext[name] = child.Text()
		}
	}
	if v, ok := ext["dialog_id"].(string); ok {
		dialogID = v
	}
	return dialogID, ext
}

// ExtraParams builds an <extraParams/> element from an extension map.
// Keys are emitted in sorted order. moduleIdentifier, when set, is written
// first.
func ExtraParams(ext map[string]any, moduleIdentifier string) stravaganza.Element {
	b := stravaganza.NewBuilder("extraParams").WithAttribute(stravaganza.Namespace, NSClient)
	if moduleIdentifier != "" {
		b = b.WithChild(TextElement("moduleIdentifier", moduleIdentifier))
	}

	keys := make([]string, 0, len(ext))
	for k := range ext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := ext[k].(type) {
		case []Attachment:
			b = b.WithChild(attachmentsElement(v))
		case []map[string]string:
			list := make([]Attachment, len(v))
			for i := range v {
				list[i] = v[i]
			}
			b = b.WithChild(attachmentsElement(list))
		case nil:
			continue
		default:
			b = b.WithChild(TextElement(k, fmt.Sprint(v)))
		}
	}
	return b.Build()
}

func attachmentsElement(list []Attachment) stravaganza.Element {
	b := stravaganza.NewBuilder("attachments")
	for _, att := range list {
		keys := make([]string, 0, len(att))
		for k := range att {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ab := stravaganza.NewBuilder("attachment")
		for _, k := range keys {
			ab = ab.WithAttribute(k, att[k])
		}
		b = b.WithChild(ab.Build())
	}
	return b.Build()
}
