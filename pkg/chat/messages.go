package chat

import (
	"github.com/jackal-xmpp/stravaganza/v2"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/qbsdk/internal/xmpp/address"
	"github.com/meszmate/qbsdk/internal/xmpp/element"
	"github.com/meszmate/qbsdk/internal/xmpp/sm"
)

// Send sends a message to a user id or address and returns its id. The id
// is generated when msg.ID is empty. With stream management enabled the
// outcome is reported to the sent message listener.
func (c *Client) Send(to any, msg Message) (string, error) {
	target, err := c.s.addr.JIDOrUserID(to)
	if err != nil {
		return "", err
	}

	typ := msg.Type
	if typ == "" {
		typ = stanza.ChatMessage
	}
	id := msg.ID
	if id == "" {
		id = address.ObjectID()
	}

	b := element.New("message",
		"from", c.s.currentJID(),
		"to", target,
		"type", string(typ),
		"id", id,
	)
	if msg.Body != "" {
		b = b.WithChild(bodyElement(msg.Body))
	}
	if msg.Markable {
		b = b.WithChild(element.Empty("markable", stravaganza.Namespace, element.NSChatMarkers))
	}
	if len(msg.Extension) > 0 {
		b = b.WithChild(element.ExtraParams(msg.Extension, ""))
	}

	msg.ID = id
	msg.Type = typ

	var tracked *sm.Message
	if c.sm.Enabled() {
		tracked = &sm.Message{ID: id, To: target, Body: msg.Body, Payload: msg}
	}
	if err := c.sm.Send(b.Build(), tracked); err != nil {
		return "", err
	}
	return id, nil
}

// SendSystemMessage sends a headline notification and returns its id
func (c *Client) SendSystemMessage(to any, msg SystemMessage) (string, error) {
	target, err := c.s.addr.JIDOrUserID(to)
	if err != nil {
		return "", err
	}
	id := msg.ID
	if id == "" {
		id = address.ObjectID()
	}

	b := element.New("message",
		"type", string(stanza.HeadlineMessage),
		"id", id,
		"to", target,
	)
	if msg.Body != "" {
		b = b.WithChild(bodyElement(msg.Body))
	}
	if len(msg.Extension) > 0 {
		b = b.WithChild(element.ExtraParams(msg.Extension, element.ModuleSystemNotifications))
	}
	if err := c.send(b.Build()); err != nil {
		return "", err
	}
	return id, nil
}

// SendIsTypingStatus sends a composing chat state
func (c *Client) SendIsTypingStatus(to any) error {
	return c.sendChatState(to, "composing")
}

// SendIsStopTypingStatus sends a paused chat state
func (c *Client) SendIsStopTypingStatus(to any) error {
	return c.sendChatState(to, "paused")
}

func (c *Client) sendChatState(to any, state string) error {
	target, err := c.s.addr.JIDOrUserID(to)
	if err != nil {
		return err
	}
	typ, err := address.TypeChat(to)
	if err != nil {
		return err
	}

	el := element.New("message",
		"from", c.s.currentJID(),
		"to", target,
		"type", string(typ),
	).WithChild(
		element.Empty(state, stravaganza.Namespace, element.NSChatStates),
	).Build()
	return c.send(el)
}

// SendDeliveredStatus tells the sender a message was received
func (c *Client) SendDeliveredStatus(p StatusParams) error {
	return c.sendMarker("received", p)
}

// SendReadStatus tells the sender a message was displayed
func (c *Client) SendReadStatus(p StatusParams) error {
	return c.sendMarker("displayed", p)
}

func (c *Client) sendMarker(marker string, p StatusParams) error {
	target, err := c.s.addr.JIDOrUserID(p.UserID)
	if err != nil {
		return err
	}

	el := element.New("message",
		"type", string(stanza.ChatMessage),
		"from", c.s.currentJID(),
		"id", address.ObjectID(),
		"to", target,
	).WithChild(
		element.Empty(marker, stravaganza.Namespace, element.NSChatMarkers, "id", p.MessageID),
	).WithChild(
		element.ExtraParams(map[string]any{"dialog_id": p.DialogID}, ""),
	).Build()
	return c.send(el)
}

// GetLastUserActivity asks how long a user has been idle. The answer is
// delivered to the last user activity listener.
func (c *Client) GetLastUserActivity(to any) error {
	target, err := c.s.addr.JIDOrUserID(to)
	if err != nil {
		return err
	}

	iq := element.New("iq",
		"from", c.s.currentJID(),
		"id", address.UniqueID("lastActivity"),
		"to", target,
		"type", string(stanza.GetIQ),
	).WithChild(
		element.Empty("query", stravaganza.Namespace, element.NSLast),
	).Build()
	return c.send(iq)
}

func bodyElement(body string) stravaganza.Element {
	return stravaganza.NewBuilder("body").
		WithAttribute(stravaganza.Namespace, element.NSClient).
		WithText(body).
		Build()
}
