package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jackal-xmpp/stravaganza/v2"
	"mellium.im/sasl"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/qbsdk/internal/logging"
	"github.com/meszmate/qbsdk/internal/xmpp/address"
	"github.com/meszmate/qbsdk/internal/xmpp/element"
)

// Subprotocol is the WebSocket subprotocol for XMPP framing
const Subprotocol = "xmpp"

// WebSocket is a Transport speaking XMPP over WebSocket framing
type WebSocket struct {
	mu        sync.RWMutex
	conn      *websocket.Conn
	opts      Options
	handler   Handler
	connected bool
	ended     bool
	cancel    context.CancelFunc
	done      chan struct{}
	up        chan struct{}

	log logging.Prefixed
}

// NewWebSocket creates an idle WebSocket transport
func NewWebSocket() *WebSocket {
	return &WebSocket{
		log: logging.Named("QB-Chat"),
	}
}

// SetHandler sets the event handler
func (w *WebSocket) SetHandler(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = h
}

// Connect starts connecting in the background. ctx bounds the attempt
// until the stream is first online; after that the session and its
// reconnects run until End.
func (w *WebSocket) Connect(ctx context.Context, opts Options) error {
	if opts.URL == "" {
		return fmt.Errorf("websocket url cannot be empty")
	}
	if opts.JID.Domainpart() == "" || opts.JID.Localpart() == "" {
		return fmt.Errorf("invalid JID: %q", opts.JID.String())
	}

	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("already connecting")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.opts = opts
	w.ended = false
	w.cancel = cancel
	w.done = make(chan struct{})
	w.up = make(chan struct{})
	up, done := w.up, w.done
	w.mu.Unlock()

	go w.run(runCtx)
	go watchConnect(ctx, up, done, cancel)
	return nil
}

// watchConnect cancels a connection attempt whose context ends before the
// stream first comes online
func watchConnect(ctx context.Context, up, done <-chan struct{}, cancel context.CancelFunc) {
	select {
	case <-ctx.Done():
		select {
		case <-up:
		default:
			cancel()
		}
	case <-up:
	case <-done:
	}
}

func (w *WebSocket) markUp() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.up:
	default:
		close(w.up)
	}
}

// Done is closed when the current connection loop has stopped
func (w *WebSocket) Done() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return w.done
}

// Send writes a stanza to the open stream
func (w *WebSocket) Send(el stravaganza.Element) error {
	w.mu.RLock()
	conn := w.conn
	connected := w.connected
	w.mu.RUnlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}

	data := el.String()
	w.log.Debug("SENT: %s", data)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(data)); err != nil {
		return fmt.Errorf("failed to send stanza: %w", err)
	}
	return nil
}

// End closes the stream and stops reconnecting
func (w *WebSocket) End() error {
	w.mu.Lock()
	w.ended = true
	conn := w.conn
	cancel := w.cancel
	w.mu.Unlock()

	if conn == nil {
		if cancel != nil {
			cancel()
		}
		return nil
	}

	ctx, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	closing := element.Empty("close", stravaganza.Namespace, element.NSFraming)
	_ = conn.Write(ctx, websocket.MessageText, []byte(closing.String()))
	return conn.Close(websocket.StatusNormalClosure, "session ended")
}

func (w *WebSocket) emit(ev Event) {
	w.mu.RLock()
	h := w.handler
	w.mu.RUnlock()
	if h != nil {
		h(ev)
	}
}

func (w *WebSocket) isEnded() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ended
}

func (w *WebSocket) setConn(conn *websocket.Conn, connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn = conn
	w.connected = connected
}

func (w *WebSocket) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		if w.cancel != nil {
			w.cancel()
			w.cancel = nil
		}
		close(w.done)
		w.mu.Unlock()
	}()

	everOnline := false
	for {
		online, err := w.session(ctx)
		everOnline = everOnline || online

		if err != nil && !w.isEnded() && ctx.Err() == nil {
			w.log.Warn("connection error: %v", err)
		}
		if online {
			w.emit(Event{Kind: EventDisconnect})
		}
		if w.isEnded() || ctx.Err() != nil {
			w.emit(Event{Kind: EventOffline})
			return
		}
		if !online && (!everOnline || errors.Is(err, ErrAuthFailed)) {
			w.emit(Event{Kind: EventError, Err: err})
			w.emit(Event{Kind: EventOffline})
			return
		}
		if !w.opts.Reconnect {
			w.emit(Event{Kind: EventOffline})
			return
		}

		select {
		case <-ctx.Done():
			w.emit(Event{Kind: EventOffline})
			return
		case <-time.After(w.opts.ReconnectDelay):
		}
		w.emit(Event{Kind: EventReconnect})
	}
}

// session runs one connection from dial to close. online reports whether
// the stream got as far as resource binding.
func (w *WebSocket) session(ctx context.Context) (online bool, err error) {
	conn, _, err := websocket.Dial(ctx, w.opts.URL, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return false, fmt.Errorf("failed to dial %s: %w", w.opts.URL, err)
	}
	conn.SetReadLimit(element.MaxStanzaSize)
	w.setConn(conn, false)
	defer func() {
		w.setConn(nil, false)
		conn.CloseNow()
	}()

	w.emit(Event{Kind: EventConnect})

	s := &stream{conn: conn, log: w.log}
	domain := w.opts.JID.Domainpart()

	features, err := s.open(ctx, domain)
	if err != nil {
		return false, err
	}
	if err := s.authenticate(ctx, features, w.opts); err != nil {
		return false, err
	}
	w.emit(Event{Kind: EventAuth})

	if _, err := s.open(ctx, domain); err != nil {
		return false, err
	}
	bound, err := s.bind(ctx, w.opts)
	if err != nil {
		return false, err
	}

	w.setConn(conn, true)
	w.markUp()
	w.emit(Event{Kind: EventOnline, JID: bound})

	for {
		el, err := s.read(ctx)
		if err != nil {
			return true, err
		}
		if element.LocalName(el) == "close" && element.Namespace(el) == element.NSFraming {
			return true, nil
		}
		w.emit(Event{Kind: EventStanza, Stanza: el})
	}
}

// stream performs negotiation on a dialed connection
type stream struct {
	conn *websocket.Conn
	log  logging.Prefixed
}

func (s *stream) write(ctx context.Context, el stravaganza.Element) error {
	data := el.String()
	s.log.Debug("SENT: %s", data)
	return s.conn.Write(ctx, websocket.MessageText, []byte(data))
}

func (s *stream) read(ctx context.Context) (stravaganza.Element, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	s.log.Debug("RECV: %s", data)
	el, err := element.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}
	return el, nil
}

// open sends an <open/> frame and returns the features that follow it
func (s *stream) open(ctx context.Context, domain string) (stravaganza.Element, error) {
	open := element.Empty("open",
		stravaganza.Namespace, element.NSFraming,
		"to", domain,
		"version", "1.0",
	)
	if err := s.write(ctx, open); err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	for {
		el, err := s.read(ctx)
		if err != nil {
			return nil, err
		}
		switch element.LocalName(el) {
		case "open":
			continue
		case "features":
			return el, nil
		case "close":
			return nil, fmt.Errorf("stream closed by server")
		default:
			return nil, fmt.Errorf("unexpected element during negotiation: %s", el.Name())
		}
	}
}

func (s *stream) authenticate(ctx context.Context, features stravaganza.Element, opts Options) error {
	offered := false
	for _, m := range element.Children(element.Child(features, "mechanisms"), "mechanism") {
		if m.Text() == sasl.Plain.Name {
			offered = true
			break
		}
	}
	if !offered {
		return fmt.Errorf("%w: %s not offered", ErrAuthFailed, sasl.Plain.Name)
	}

	client := sasl.NewClient(sasl.Plain, sasl.Credentials(func() ([]byte, []byte, []byte) {
		return []byte(opts.JID.Localpart()), []byte(opts.Password), nil
	}))
	_, resp, err := client.Step(nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	auth := stravaganza.NewBuilder("auth").
		WithAttribute(stravaganza.Namespace, element.NSSASL).
		WithAttribute("mechanism", sasl.Plain.Name).
		WithText(encodeSASL(resp)).
		Build()
	if err := s.write(ctx, auth); err != nil {
		return err
	}

	for {
		el, err := s.read(ctx)
		if err != nil {
			return err
		}
		switch element.LocalName(el) {
		case "success":
			return nil
		case "failure":
			cond := "not-authorized"
			if children := el.AllChildren(); len(children) > 0 {
				cond = element.LocalName(children[0])
			}
			return fmt.Errorf("%w: %s", ErrAuthFailed, cond)
		case "challenge":
			challenge, err := base64.StdEncoding.DecodeString(el.Text())
			if err != nil {
				return fmt.Errorf("%w: bad challenge: %v", ErrAuthFailed, err)
			}
			_, resp, err := client.Step(challenge)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrAuthFailed, err)
			}
			response := stravaganza.NewBuilder("response").
				WithAttribute(stravaganza.Namespace, element.NSSASL).
				WithText(encodeSASL(resp)).
				Build()
			if err := s.write(ctx, response); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unexpected element during authentication: %s", el.Name())
		}
	}
}

func (s *stream) bind(ctx context.Context, opts Options) (jid.JID, error) {
	resource := opts.Resource
	if resource == "" {
		resource = address.UniqueID("")[:8]
	}

	id := address.UniqueID("bind")
	iq := element.New("iq", "type", string(stanza.SetIQ), "id", id).
		WithChild(
			stravaganza.NewBuilder("bind").
				WithAttribute(stravaganza.Namespace, element.NSBind).
				WithChild(element.TextElement("resource", resource)).
				Build(),
		).Build()
	if err := s.write(ctx, iq); err != nil {
		return jid.JID{}, err
	}

	for {
		el, err := s.read(ctx)
		if err != nil {
			return jid.JID{}, err
		}
		if element.LocalName(el) != "iq" || element.Attr(el, "id") != id {
			continue
		}
		if element.IsError(el) {
			return jid.JID{}, fmt.Errorf("resource binding failed: %w", element.ParseError(el))
		}
		bound, err := jid.Parse(element.Text(el, "jid"))
		if err != nil {
			return jid.JID{}, fmt.Errorf("server bound invalid JID: %w", err)
		}
		return bound, nil
	}
}

func encodeSASL(b []byte) string {
	if len(b) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(b)
}
