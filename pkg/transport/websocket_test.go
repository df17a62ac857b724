package transport

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/qbsdk/internal/xmpp/element"
)

const features = `<stream:features xmlns:stream="http://etherx.jabber.org/streams">` +
	`<mechanisms xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><mechanism>PLAIN</mechanism></mechanisms>` +
	`</stream:features>`

const bindFeatures = `<stream:features xmlns:stream="http://etherx.jabber.org/streams">` +
	`<bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"/></stream:features>`

// fakeServer scripts the server side of one XMPP-over-WebSocket session
type fakeServer struct {
	t        *testing.T
	password string
	received chan string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{Subprotocol}})
	if err != nil {
		f.t.Errorf("accept failed: %v", err)
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()
	read := func() string {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return ""
		}
		return string(data)
	}
	write := func(s string) {
		_ = ws.Write(ctx, websocket.MessageText, []byte(s))
	}

	read() // open
	write(`<open xmlns="urn:ietf:params:xml:ns:xmpp-framing" from="chat" version="1.0"/>`)
	write(features)

	auth, err := element.Parse(read())
	if err != nil {
		f.t.Errorf("bad auth frame: %v", err)
		return
	}
	creds, _ := base64.StdEncoding.DecodeString(auth.Text())
	if !strings.HasSuffix(string(creds), "\x00"+f.password) {
		write(`<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><not-authorized/></failure>`)
		return
	}
	write(`<success xmlns="urn:ietf:params:xml:ns:xmpp-sasl"/>`)

	read() // reopen
	write(`<open xmlns="urn:ietf:params:xml:ns:xmpp-framing" from="chat" version="1.0"/>`)
	write(bindFeatures)

	bind, _ := element.Parse(read())
	write(`<iq type="result" id="` + bind.Attribute("id") + `"><bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><jid>1-9@chat/web</jid></bind></iq>`)

	write(`<message from="2-9@chat/x" type="chat"><body>hi</body></message>`)

	for {
		frame := read()
		if frame == "" {
			return
		}
		f.received <- frame
		if strings.HasPrefix(frame, "<close") {
			write(`<close xmlns="urn:ietf:params:xml:ns:xmpp-framing"/>`)
			return
		}
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	l.notify <- ev
}

func (l *eventLog) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-l.notify:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketSessionLifecycle(t *testing.T) {
	fs := &fakeServer{t: t, password: "secret", received: make(chan string, 16)}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	ws := NewWebSocket()
	log := &eventLog{notify: make(chan Event, 32)}
	ws.SetHandler(log.handle)

	if err := ws.Send(element.Empty("presence")); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected before connect, got %v", err)
	}

	err := ws.Connect(context.Background(), Options{
		URL:      wsURL(srv),
		JID:      jid.MustParse("1-9@chat"),
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	online := log.waitFor(t, EventOnline)
	if online.JID.String() != "1-9@chat/web" {
		t.Fatalf("expected bound jid 1-9@chat/web, got %s", online.JID)
	}

	msg := log.waitFor(t, EventStanza)
	if element.Text(msg.Stanza, "body") != "hi" {
		t.Fatalf("expected message body hi, got %s", msg.Stanza.String())
	}

	if err := ws.Send(element.Empty("presence")); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	select {
	case frame := <-fs.received:
		if !strings.HasPrefix(frame, "<presence") {
			t.Fatalf("expected presence frame, got %q", frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server never received presence")
	}

	_ = ws.End()
	log.waitFor(t, EventOffline)
	<-ws.Done()

	log.mu.Lock()
	defer log.mu.Unlock()
	var kinds []string
	for _, ev := range log.events {
		kinds = append(kinds, ev.Kind.String())
	}
	got := strings.Join(kinds, ",")
	if got != "connect,auth,online,stanza,disconnect,offline" {
		t.Fatalf("unexpected event sequence %s", got)
	}
}

func TestWebSocketAuthFailureReportsError(t *testing.T) {
	fs := &fakeServer{t: t, password: "secret", received: make(chan string, 16)}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	ws := NewWebSocket()
	log := &eventLog{notify: make(chan Event, 32)}
	ws.SetHandler(log.handle)

	err := ws.Connect(context.Background(), Options{
		URL:       wsURL(srv),
		JID:       jid.MustParse("1-9@chat"),
		Password:  "wrong",
		Reconnect: true,
	})
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	ev := log.waitFor(t, EventError)
	if ev.Err == nil || !strings.Contains(ev.Err.Error(), "not-authorized") {
		t.Fatalf("expected not-authorized error, got %v", ev.Err)
	}
	log.waitFor(t, EventOffline)
}

func TestSessionOutlivesConnectContext(t *testing.T) {
	fs := &fakeServer{t: t, password: "secret", received: make(chan string, 16)}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	ws := NewWebSocket()
	log := &eventLog{notify: make(chan Event, 32)}
	ws.SetHandler(log.handle)

	ctx, cancel := context.WithCancel(context.Background())
	if err := ws.Connect(ctx, Options{
		URL:      wsURL(srv),
		JID:      jid.MustParse("1-9@chat"),
		Password: "secret",
	}); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	log.waitFor(t, EventOnline)
	cancel()

	// give a wrongly bound session time to tear down
	time.Sleep(100 * time.Millisecond)

	if err := ws.Send(element.Empty("presence")); err != nil {
		t.Fatalf("expected session to survive its connect context, got %v", err)
	}
	select {
	case frame := <-fs.received:
		if !strings.HasPrefix(frame, "<presence") {
			t.Fatalf("expected presence frame, got %q", frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server never received presence")
	}

	_ = ws.End()
	log.waitFor(t, EventOffline)
}

func TestConnectContextCancelsPendingAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{Subprotocol}})
		if err != nil {
			return
		}
		defer ws.CloseNow()
		// read the stream open and never answer it
		for {
			if _, _, err := ws.Read(context.Background()); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ws := NewWebSocket()
	log := &eventLog{notify: make(chan Event, 32)}
	ws.SetHandler(log.handle)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := ws.Connect(ctx, Options{
		URL:       wsURL(srv),
		JID:       jid.MustParse("1-9@chat"),
		Password:  "secret",
		Reconnect: true,
	}); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	log.waitFor(t, EventOffline)
	select {
	case <-ws.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("connection loop did not stop")
	}
}

func TestConnectValidatesOptions(t *testing.T) {
	ws := NewWebSocket()
	if err := ws.Connect(context.Background(), Options{JID: jid.MustParse("1-9@chat")}); err == nil {
		t.Fatalf("expected error for missing url")
	}
	if err := ws.Connect(context.Background(), Options{URL: "ws://x"}); err == nil {
		t.Fatalf("expected error for missing jid")
	}
}
