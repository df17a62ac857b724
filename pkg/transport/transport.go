// Package transport defines the connection contract the chat client runs on
// and a WebSocket implementation of it.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/jackal-xmpp/stravaganza/v2"
	"mellium.im/xmpp/jid"
)

var (
	// ErrNotConnected is returned by Send when no stream is open
	ErrNotConnected = errors.New("not connected")
	// ErrAuthFailed is returned when the server rejects the credentials
	ErrAuthFailed = errors.New("authentication failed")
)

// EventKind identifies a lifecycle or data event
type EventKind int

const (
	EventConnect EventKind = iota
	EventAuth
	EventOnline
	EventReconnect
	EventDisconnect
	EventOffline
	EventError
	EventStanza
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventAuth:
		return "auth"
	case EventOnline:
		return "online"
	case EventReconnect:
		return "reconnect"
	case EventDisconnect:
		return "disconnect"
	case EventOffline:
		return "offline"
	case EventError:
		return "error"
	case EventStanza:
		return "stanza"
	default:
		return "unknown"
	}
}

// Event is emitted by a transport. JID is set on EventOnline, Stanza on
// EventStanza and Err on EventError.
type Event struct {
	Kind   EventKind
	JID    jid.JID
	Stanza stravaganza.Element
	Err    error
}

// Handler receives transport events. A transport calls it from a single
// goroutine, in order.
type Handler func(Event)

// Options configures one connection
type Options struct {
	URL      string
	JID      jid.JID
	Password string
	Resource string

	Reconnect      bool
	ReconnectDelay time.Duration
}

// Transport is a reconnecting stanza stream. Connect returns once the
// connection attempt has started; progress is reported through the handler.
type Transport interface {
	Connect(ctx context.Context, opts Options) error
	Send(el stravaganza.Element) error
	End() error
	SetHandler(h Handler)
}
