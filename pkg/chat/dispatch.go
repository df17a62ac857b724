package chat

import (
	"strconv"
	"strings"

	"github.com/jackal-xmpp/stravaganza/v2"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/qbsdk/internal/xmpp/address"
	"github.com/meszmate/qbsdk/internal/xmpp/element"
	"github.com/meszmate/qbsdk/internal/xmpp/presence"
	"github.com/meszmate/qbsdk/internal/xmpp/roster"
)

// MUC status codes
const (
	statusSelf   = "110"
	statusKicked = "301"
)

// dispatch routes one inbound stanza by its element name
func (c *Client) dispatch(el stravaganza.Element) {
	switch element.LocalName(el) {
	case "message":
		switch stanza.MessageType(element.Attr(el, stravaganza.Type)) {
		case stanza.HeadlineMessage:
			c.onSystemMessage(el)
		case stanza.ErrorMessage:
			c.onMessageError(el)
		default:
			c.onMessage(el)
		}
	case "presence":
		c.onPresence(el)
	case "iq":
		c.onIQ(el)
	}
}

func (c *Client) onMessage(el stravaganza.Element) {
	l := c.snapshot()

	msgEl := el
	var recipientID int64
	if fwd := element.Find(el, "forwarded"); fwd != nil {
		if inner := element.Child(fwd, "message"); inner != nil {
			if to := element.Attr(inner, "to"); to != "" {
				recipientID = address.IDFromNode(to)
			}
			if element.FindNS(el, "sent", element.NSCarbons) != nil ||
				element.FindNS(el, "received", element.NSCarbons) != nil {
				msgEl = inner
			}
		}
	}

	from := element.Attr(msgEl, "from")
	typ := stanza.MessageType(element.Attr(msgEl, stravaganza.Type))
	messageID := element.Attr(msgEl, "id")

	var dialogID string
	var userID int64
	if typ == stanza.GroupChatMessage {
		dialogID = address.DialogIDFromNode(from)
		userID = address.IDFromResource(from)
	} else {
		userID = address.IDFromNode(from)
	}

	if element.Find(msgEl, "invite") != nil {
		return
	}

	var extension map[string]any
	if xp := element.Find(msgEl, "extraParams"); xp != nil {
		var id string
		id, extension = element.ParseExtraParams(xp)
		if id != "" {
			dialogID = id
		}
	}

	delay := element.ParseDelay(msgEl)

	composing := element.Find(msgEl, "composing")
	paused := element.Find(msgEl, "paused")
	if composing != nil || paused != nil {
		if typ == stanza.ChatMessage || typ == stanza.GroupChatMessage || delay == nil {
			if l.OnMessageTyping != nil {
				c.s.safe("typing", func() { l.OnMessageTyping(composing != nil, userID, dialogID) })
			}
		}
		return
	}

	delivered := element.FindNS(msgEl, "received", element.NSChatMarkers)
	read := element.Find(msgEl, "displayed")
	if delivered != nil || read != nil {
		if typ != stanza.ChatMessage {
			return
		}
		if delivered != nil {
			if l.OnDeliveredStatus != nil {
				id := element.Attr(delivered, "id")
				c.s.safe("delivered status", func() { l.OnDeliveredStatus(id, dialogID, userID) })
			}
		} else if l.OnReadStatus != nil {
			id := element.Attr(read, "id")
			c.s.safe("read status", func() { l.OnReadStatus(id, dialogID, userID) })
		}
		return
	}

	markable := element.Find(msgEl, "markable") != nil
	if markable && userID != c.s.addr.CurrentUserID() {
		err := c.SendDeliveredStatus(StatusParams{
			MessageID: messageID,
			UserID:    userID,
			DialogID:  dialogID,
		})
		if err != nil {
			c.s.log.Warn("failed to send delivery receipt for %s: %v", messageID, err)
		}
	}

	msg := Message{
		ID:          messageID,
		DialogID:    dialogID,
		RecipientID: recipientID,
		Type:        typ,
		Body:        childText(msgEl, "body"),
		Extension:   extension,
		Delay:       delay,
		Markable:    markable,
	}

	if typ != stanza.ChatMessage && typ != stanza.GroupChatMessage {
		return
	}
	if l.OnMessage != nil {
		c.s.safe("message", func() { l.OnMessage(userID, msg) })
	}
}

func (c *Client) onSystemMessage(el stravaganza.Element) {
	xp := element.Find(el, "extraParams")
	if element.Text(xp, "moduleIdentifier") != element.ModuleSystemNotifications {
		return
	}
	fn := c.snapshot().OnSystemMessage
	if fn == nil {
		return
	}

	_, extension := element.ParseExtraParams(xp)
	msg := SystemMessage{
		ID:        element.Attr(el, "id"),
		UserID:    address.IDFromNode(element.Attr(el, "from")),
		Extension: extension,
	}
	msg.Body = childText(el, "body")
	c.s.safe("system message", func() { fn(msg) })
}

func (c *Client) onMessageError(el stravaganza.Element) {
	fn := c.snapshot().OnMessageError
	if fn == nil {
		return
	}
	id := element.Attr(el, "id")
	err := element.ParseError(el)
	c.s.safe("message error", func() { fn(id, err) })
}

func (c *Client) onPresence(el stravaganza.Element) {
	from := element.Attr(el, "from")
	typ := stanza.PresenceType(element.Attr(el, stravaganza.Type))

	if x := element.FindNS(el, "x", element.NSMUCUser); x != nil {
		c.onRoomPresence(el, x)
		return
	}
	if element.FindNS(el, "x", element.NSMUC) != nil {
		if element.IsError(el) {
			c.s.pending.ResolveSuffix(element.Attr(el, "id"), JoinPurpose, el)
		}
		return
	}

	userID := address.IDFromNode(from)
	l := c.snapshot()

	switch typ {
	case "":
		c.presence.Set(presence.ParseStatus(el, userID, resourceOf(from)))
		if c.Roster.store.Subscribed(userID) && l.OnContactList != nil {
			c.s.safe("contact list", func() { l.OnContactList(userID, "") })
		}
	case stanza.SubscribePresence, stanza.SubscribedPresence,
		stanza.UnsubscribePresence, stanza.UnsubscribedPresence:
		switch c.Roster.store.Apply(userID, typ) {
		case roster.ActionSendSubscribed:
			if err := c.Roster.sendPresence(from, stanza.SubscribedPresence); err != nil {
				c.s.log.Warn("failed to confirm subscription of %d: %v", userID, err)
			}
		case roster.ActionNotifySubscribe:
			if l.OnSubscribe != nil {
				c.s.safe("subscribe", func() { l.OnSubscribe(userID) })
			}
		case roster.ActionNotifyConfirm:
			if l.OnConfirmSubscribe != nil {
				c.s.safe("confirm subscribe", func() { l.OnConfirmSubscribe(userID) })
			}
		case roster.ActionNotifyReject:
			if l.OnRejectSubscribe != nil {
				c.s.safe("reject subscribe", func() { l.OnRejectSubscribe(userID) })
			}
		}
		c.Roster.saveCache()
	case stanza.UnavailablePresence:
		c.presence.Remove(userID, resourceOf(from))
		if c.Roster.store.Subscribed(userID) && l.OnContactList != nil {
			c.s.safe("contact list", func() { l.OnContactList(userID, stanza.UnavailablePresence) })
		}
		// another session of ours went away; stay visible
		if userID == c.s.addr.CurrentUserID() {
			if err := c.send(element.Empty("presence")); err != nil {
				c.s.log.Warn("failed to resend presence: %v", err)
			}
		}
	}
}

// onRoomPresence handles presences carrying muc#user data
func (c *Client) onRoomPresence(el, x stravaganza.Element) {
	from := element.Attr(el, "from")
	id := element.Attr(el, "id")
	unavailable := stanza.PresenceType(element.Attr(el, stravaganza.Type)) == stanza.UnavailablePresence

	codes := make(map[string]bool)
	for _, st := range element.Children(x, "status") {
		codes[element.Attr(st, "code")] = true
	}

	room := address.RoomJIDFromRoomFullJID(from)
	dialogID := address.DialogIDFromNode(from)
	occupantID, _ := strconv.ParseInt(address.UserIDFromRoomJID(from), 10, 64)
	l := c.snapshot()

	if codes[statusKicked] {
		actor := element.Find(element.Child(x, "item"), "actor")
		initiator := address.IDFromNode(element.Attr(actor, "jid"))
		c.MUC.rooms.LeaveRoom(room)
		if l.OnKickOccupant != nil {
			c.s.safe("kick occupant", func() { l.OnKickOccupant(dialogID, initiator) })
		}
		return
	}

	if len(codes) == 0 && occupantID != c.s.addr.CurrentUserID() {
		if unavailable {
			c.MUC.rooms.RemoveOccupant(room, occupantID)
			if l.OnLeaveOccupant != nil {
				c.s.safe("leave occupant", func() { l.OnLeaveOccupant(dialogID, occupantID) })
			}
		} else {
			c.MUC.rooms.AddOccupant(room, occupantID)
			if l.OnJoinOccupant != nil {
				c.s.safe("join occupant", func() { l.OnJoinOccupant(dialogID, occupantID) })
			}
		}
		return
	}

	if !codes[statusSelf] {
		return
	}
	if unavailable {
		c.s.pending.Resolve(LeavePurpose, el)
		return
	}
	c.s.pending.ResolveSuffix(id, JoinPurpose, el)
}

func (c *Client) onIQ(el stravaganza.Element) {
	id := element.Attr(el, "id")

	if strings.Contains(id, "lastActivity") {
		if fn := c.snapshot().OnLastUserActivity; fn != nil {
			userID := address.IDFromNode(element.Attr(el, "from"))
			var seconds *int
			if !element.IsError(el) {
				if v, err := strconv.Atoi(element.Attr(element.Child(el, "query"), "seconds")); err == nil {
					seconds = &v
				}
			}
			c.s.safe("last activity", func() { fn(userID, seconds) })
		}
	}

	c.s.pending.Resolve(id, el)
}

func resourceOf(addr string) string {
	j, err := jid.Parse(addr)
	if err != nil {
		return ""
	}
	return j.Resourcepart()
}

func childText(el stravaganza.Element, name string) string {
	child := element.Child(el, name)
	if child == nil {
		return ""
	}
	return child.Text()
}
