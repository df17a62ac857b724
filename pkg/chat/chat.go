// Package chat implements the real-time chat client: a stanza dispatcher
// driving roster, group chat and privacy list proxies over a reconnecting
// transport.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackal-xmpp/stravaganza/v2"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/qbsdk/internal/logging"
	"github.com/meszmate/qbsdk/internal/storage/sqlite"
	"github.com/meszmate/qbsdk/internal/xmpp/address"
	"github.com/meszmate/qbsdk/internal/xmpp/element"
	"github.com/meszmate/qbsdk/internal/xmpp/muc"
	"github.com/meszmate/qbsdk/internal/xmpp/pending"
	"github.com/meszmate/qbsdk/internal/xmpp/presence"
	"github.com/meszmate/qbsdk/internal/xmpp/roster"
	"github.com/meszmate/qbsdk/internal/xmpp/sm"
	"github.com/meszmate/qbsdk/pkg/config"
	"github.com/meszmate/qbsdk/pkg/qberror"
	"github.com/meszmate/qbsdk/pkg/transport"
)

// ErrInvalidParams is returned by Connect when neither a user id nor a JID
// is given, or the password is empty
var ErrInvalidParams = errors.New("connect needs a user id or jid and a password")

// RosterCache persists fetched rosters between runs. *sqlite.DB implements it.
type RosterCache interface {
	SaveRoster(account string, entries []sqlite.RosterEntry) error
	GetRoster(account string) ([]sqlite.RosterEntry, error)
}

// Option configures a Client
type Option func(*Client)

// WithRosterCache enables the persisted roster cache
func WithRosterCache(cache RosterCache) Option {
	return func(c *Client) {
		c.Roster.cache = cache
	}
}

// Client is a chat session. Inbound events are processed one at a time on
// the transport's event goroutine.
type Client struct {
	s         *session
	transport transport.Transport
	sm        *sm.Manager
	presence  *presence.Manager

	Roster      *RosterProxy
	MUC         *MUCProxy
	PrivacyList *PrivacyListProxy

	mu           sync.RWMutex
	state        State
	listeners    Listeners
	connectCB    ConnectCallback
	params       ConnectParams
	disconnected bool
	loggedOut    bool
}

// New creates a chat client. A nil transport selects the WebSocket transport.
func New(cfg *config.Config, t transport.Transport, opts ...Option) *Client {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if t == nil {
		t = transport.NewWebSocket()
	}

	s := &session{
		cfg:     cfg,
		addr:    address.NewResolver(cfg.Credentials.AppID, cfg.Endpoints.Chat, cfg.Endpoints.MUC),
		pending: pending.New[stravaganza.Element](),
		log:     logging.Named("QB-Chat"),
	}

	c := &Client{
		s:         s,
		transport: t,
		sm:        sm.New(t.Send),
		presence:  presence.NewManager(),
	}
	s.send = c.send
	c.sm.SetCallback(c.onSentMessage)

	c.Roster = &RosterProxy{s: s, store: roster.NewStore()}
	c.MUC = &MUCProxy{s: s, rooms: muc.NewManager()}
	c.PrivacyList = &PrivacyListProxy{s: s}

	for _, opt := range opts {
		opt(c)
	}

	t.SetHandler(c.handleEvent)
	return c
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// CurrentJID returns the bound address of the session, empty when offline
func (c *Client) CurrentJID() string {
	return c.s.currentJID()
}

// Connect opens the chat session. cb runs once, when the session first
// comes online or when the connection fails before that. ctx bounds the
// connection attempt only; an online session lasts until Disconnect.
func (c *Client) Connect(ctx context.Context, params ConnectParams, cb ConnectCallback) error {
	if params.Password == "" {
		return ErrInvalidParams
	}

	var addr string
	switch {
	case params.JID != "":
		addr = params.JID
	case params.UserID != 0:
		addr = c.s.addr.UserJID(params.UserID)
	default:
		return ErrInvalidParams
	}
	user, err := jid.Parse(addr)
	if err != nil {
		return fmt.Errorf("invalid jid %q: %w", addr, err)
	}

	resource := params.Resource
	if resource == "" {
		resource = c.s.cfg.ChatProtocol.Resource
	}

	c.mu.Lock()
	c.connectCB = cb
	c.params = params
	c.state = StateConnecting
	c.mu.Unlock()

	c.s.log.Info("connect %s", user.Bare())

	return c.transport.Connect(ctx, transport.Options{
		URL:            c.s.cfg.ChatProtocol.Websocket,
		JID:            user.Bare(),
		Password:       params.Password,
		Resource:       resource,
		Reconnect:      c.s.cfg.Reconnect.Enable,
		ReconnectDelay: c.s.cfg.ReconnectDelay(),
	})
}

// Disconnect ends the session. Joined rooms are forgotten and will not be
// rejoined.
func (c *Client) Disconnect() error {
	c.MUC.rooms.Clear()
	if n := c.s.pending.Len(); n > 0 {
		c.s.log.Debug("dropping %d unanswered requests", n)
		c.s.pending.Clear()
	}

	c.mu.Lock()
	c.loggedOut = true
	c.mu.Unlock()

	c.s.addr.ClearCurrent()
	return c.transport.End()
}

// IsOnline reports whether a contact has an available resource
func (c *Client) IsOnline(userID int64) bool {
	return c.presence.IsOnline(userID)
}

// Presence returns the last available presence of a contact, or nil when
// the contact is offline
func (c *Client) Presence(userID int64) *PresenceStatus {
	return c.presence.Get(userID)
}

// OnlineContacts returns the ids of contacts with an available resource
func (c *Client) OnlineContacts() []int64 {
	return c.presence.Online()
}

// send writes through the stream management counter
func (c *Client) send(el stravaganza.Element) error {
	return c.sm.Send(el, nil)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// markDown sets the disconnect flags and reports whether they were clear
func (c *Client) markDown(s State) (first bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	first = !c.disconnected
	c.disconnected = true
	c.loggedOut = true
	c.state = s
	return first
}

func (c *Client) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnect:
		c.s.log.Info("Status.CONNECTING")
		c.setState(StateConnecting)
	case transport.EventAuth:
		c.s.log.Info("Status.AUTHENTICATED")
		c.setState(StateAuthenticated)
	case transport.EventOnline:
		c.onOnline(ev.JID)
	case transport.EventReconnect:
		c.s.log.Info("Status.RECONNECTING")
		c.markDown(StateReconnecting)
	case transport.EventDisconnect:
		c.onDisconnect()
	case transport.EventOffline:
		c.s.log.Info("Status.OFFLINE")
		c.markDown(StateOffline)
	case transport.EventError:
		c.onError(ev.Err)
	case transport.EventStanza:
		if c.sm.HandleInbound(ev.Stanza) {
			return
		}
		c.dispatch(ev.Stanza)
	}
}

func (c *Client) onOnline(bound jid.JID) {
	c.s.log.Info("Status.CONNECTED at %s", bound)

	if c.s.cfg.StreamManagement.Enable {
		if err := c.sm.Enable(); err != nil {
			c.s.log.Warn("failed to enable stream management: %v", err)
		}
	}

	c.mu.Lock()
	c.disconnected = false
	c.loggedOut = false
	c.state = StateOnline
	cb := c.connectCB
	c.connectCB = nil
	params := c.params
	c.mu.Unlock()

	c.s.addr.SetCurrent(bound)

	if err := c.send(element.Empty("presence")); err != nil {
		c.s.log.Warn("failed to send initial presence: %v", err)
	}
	c.enableCarbons()

	if cb != nil {
		c.Roster.seedFromCache()
		if params.ConnectWithoutGettingRoster {
			c.s.safe("connect", func() { cb(nil, nil) })
			if err := c.Roster.Get(nil); err != nil {
				c.s.log.Warn("failed to request roster: %v", err)
			}
			return
		}
		err := c.Roster.Get(func(contacts Contacts, err error) {
			c.s.safe("connect", func() { cb(contacts, err) })
		})
		if err != nil {
			c.s.safe("connect", func() { cb(nil, err) })
		}
		return
	}

	rooms := c.MUC.rooms.Rooms()
	c.s.log.Info("re-joining %d rooms", len(rooms))
	for _, room := range rooms {
		if err := c.MUC.Join(room, nil); err != nil {
			c.s.log.Warn("failed to re-join %s: %v", room, err)
		}
	}

	if fn := c.snapshot().OnReconnect; fn != nil {
		c.s.safe("reconnect", fn)
	}
}

func (c *Client) onDisconnect() {
	c.mu.RLock()
	byUser := c.loggedOut
	c.mu.RUnlock()
	if byUser {
		c.s.log.Info("Status.DISCONNECTED")
	} else {
		c.s.log.Warn("Status.DISCONNECTED - connection lost")
	}

	first := c.markDown(StateDisconnected)
	if n := c.sm.Pending(); n > 0 {
		c.s.log.Warn("%d messages await acknowledgment", n)
	}
	c.sm.Disable()
	c.presence.Clear()

	if !first {
		return
	}
	if fn := c.snapshot().OnDisconnected; fn != nil {
		c.s.safe("disconnected", fn)
	}
}

func (c *Client) onError(err error) {
	c.s.log.Error("Status.ERROR: %v", err)
	c.markDown(StateDisconnected)

	c.mu.Lock()
	cb := c.connectCB
	c.connectCB = nil
	c.mu.Unlock()

	if cb != nil {
		qbErr := qberror.New(422, "Status.ERROR - An error has occurred")
		c.s.safe("connect", func() { cb(nil, qbErr) })
	}
}

func (c *Client) onSentMessage(lost, sent *sm.Message) {
	if fn := c.snapshot().OnSentMessage; fn != nil {
		c.s.safe("sent message", func() { fn(lost, sent) })
	}
}

func (c *Client) enableCarbons() {
	iq := element.New("iq",
		"type", string(stanza.SetIQ),
		"from", c.s.currentJID(),
		"id", address.UniqueID("enableCarbons"),
	).WithChild(
		element.Empty("enable", stravaganza.Namespace, element.NSCarbons),
	).Build()
	if err := c.send(iq); err != nil {
		c.s.log.Warn("failed to enable carbons: %v", err)
	}
}
