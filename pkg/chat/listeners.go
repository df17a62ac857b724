package chat

import (
	"mellium.im/xmpp/stanza"
)

// Listeners holds the optional application callbacks. A nil field is
// skipped.
type Listeners struct {
	OnMessage          func(userID int64, msg Message)
	OnMessageError     func(messageID string, err error)
	OnSentMessage      func(lost, sent *SentMessage)
	OnMessageTyping    func(composing bool, userID int64, dialogID string)
	OnDeliveredStatus  func(messageID, dialogID string, userID int64)
	OnReadStatus       func(messageID, dialogID string, userID int64)
	OnSystemMessage    func(msg SystemMessage)
	OnKickOccupant     func(dialogID string, initiatorID int64)
	OnJoinOccupant     func(dialogID string, userID int64)
	OnLeaveOccupant    func(dialogID string, userID int64)
	OnContactList      func(userID int64, typ stanza.PresenceType)
	OnSubscribe        func(userID int64)
	OnConfirmSubscribe func(userID int64)
	OnRejectSubscribe  func(userID int64)
	OnLastUserActivity func(userID int64, seconds *int)
	OnDisconnected     func()
	OnReconnect        func()
}

// SetListeners replaces every listener at once
func (c *Client) SetListeners(l Listeners) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = l
}

func (c *Client) setListener(fn func(l *Listeners)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.listeners)
}

func (c *Client) snapshot() Listeners {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listeners
}

func (c *Client) SetMessageListener(handler func(userID int64, msg Message)) {
	c.setListener(func(l *Listeners) { l.OnMessage = handler })
}

func (c *Client) SetMessageErrorListener(handler func(messageID string, err error)) {
	c.setListener(func(l *Listeners) { l.OnMessageError = handler })
}

// SetSentMessageListener receives stream management outcomes for messages
// sent with Send
func (c *Client) SetSentMessageListener(handler func(lost, sent *SentMessage)) {
	c.setListener(func(l *Listeners) { l.OnSentMessage = handler })
}

func (c *Client) SetMessageTypingListener(handler func(composing bool, userID int64, dialogID string)) {
	c.setListener(func(l *Listeners) { l.OnMessageTyping = handler })
}

func (c *Client) SetDeliveredStatusListener(handler func(messageID, dialogID string, userID int64)) {
	c.setListener(func(l *Listeners) { l.OnDeliveredStatus = handler })
}

func (c *Client) SetReadStatusListener(handler func(messageID, dialogID string, userID int64)) {
	c.setListener(func(l *Listeners) { l.OnReadStatus = handler })
}

func (c *Client) SetSystemMessageListener(handler func(msg SystemMessage)) {
	c.setListener(func(l *Listeners) { l.OnSystemMessage = handler })
}

func (c *Client) SetKickOccupantListener(handler func(dialogID string, initiatorID int64)) {
	c.setListener(func(l *Listeners) { l.OnKickOccupant = handler })
}

func (c *Client) SetJoinOccupantListener(handler func(dialogID string, userID int64)) {
	c.setListener(func(l *Listeners) { l.OnJoinOccupant = handler })
}

func (c *Client) SetLeaveOccupantListener(handler func(dialogID string, userID int64)) {
	c.setListener(func(l *Listeners) { l.OnLeaveOccupant = handler })
}

// SetContactListListener is called when a subscribed contact comes online
// (typ "") or goes offline (typ unavailable)
func (c *Client) SetContactListListener(handler func(userID int64, typ stanza.PresenceType)) {
	c.setListener(func(l *Listeners) { l.OnContactList = handler })
}

func (c *Client) SetSubscribeListener(handler func(userID int64)) {
	c.setListener(func(l *Listeners) { l.OnSubscribe = handler })
}

func (c *Client) SetConfirmSubscribeListener(handler func(userID int64)) {
	c.setListener(func(l *Listeners) { l.OnConfirmSubscribe = handler })
}

func (c *Client) SetRejectSubscribeListener(handler func(userID int64)) {
	c.setListener(func(l *Listeners) { l.OnRejectSubscribe = handler })
}

// SetLastUserActivityListener receives GetLastUserActivity answers. seconds
// is nil when the server answered with an error.
func (c *Client) SetLastUserActivityListener(handler func(userID int64, seconds *int)) {
	c.setListener(func(l *Listeners) { l.OnLastUserActivity = handler })
}

func (c *Client) SetDisconnectedListener(handler func()) {
	c.setListener(func(l *Listeners) { l.OnDisconnected = handler })
}

func (c *Client) SetReconnectListener(handler func()) {
	c.setListener(func(l *Listeners) { l.OnReconnect = handler })
}
