package chat

import (
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/qbsdk/internal/xmpp/element"
	"github.com/meszmate/qbsdk/internal/xmpp/presence"
	"github.com/meszmate/qbsdk/internal/xmpp/roster"
	"github.com/meszmate/qbsdk/internal/xmpp/sm"
)

// State is the connection state of a Client
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateOnline
	StateReconnecting
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateOnline:
		return "online"
	case StateReconnecting:
		return "reconnecting"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

type (
	Contact      = roster.Contact
	Contacts     = roster.Contacts
	Subscription = roster.Subscription
	Delay        = element.Delay
	Attachment   = element.Attachment
	StanzaError  = element.StanzaError
	SentMessage  = sm.Message

	PresenceStatus = presence.Status
)

// Message is a chat message in either direction. Inbound messages carry
// DialogID, RecipientID and Delay; outbound messages use ID, Type, Body,
// Markable and Extension.
type Message struct {
	ID          string
	DialogID    string
	RecipientID int64
	Type        stanza.MessageType
	Body        string
	Extension   map[string]any
	Delay       *Delay
	Markable    bool
}

// SystemMessage is a headline notification routed to the system listener
type SystemMessage struct {
	ID        string
	UserID    int64
	Body      string
	Extension map[string]any
}

// StatusParams addresses a delivered or read marker
type StatusParams struct {
	MessageID string
	UserID    int64
	DialogID  string
}

// ConnectParams identifies the user opening the chat session
type ConnectParams struct {
	UserID   int64
	JID      string
	Password string
	Resource string

	// ConnectWithoutGettingRoster completes Connect as soon as the session
	// is online and loads the roster in the background.
	ConnectWithoutGettingRoster bool
}

// ConnectCallback completes Connect. contacts is nil when the roster was
// not requested.
type ConnectCallback func(contacts Contacts, err error)
