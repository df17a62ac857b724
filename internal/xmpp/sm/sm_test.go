package sm

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackal-xmpp/stravaganza/v2"

	"github.com/meszmate/qbsdk/internal/logging"
	"github.com/meszmate/qbsdk/internal/xmpp/element"
)

type recorder struct {
	sent []stravaganza.Element
}

func (r *recorder) send(el stravaganza.Element) error {
	r.sent = append(r.sent, el)
	return nil
}

func (r *recorder) names() []string {
	out := make([]string, len(r.sent))
	for i, el := range r.sent {
		out[i] = el.Name()
	}
	return out
}

func parse(t *testing.T, raw string) stravaganza.Element {
	t.Helper()
	el, err := element.Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return el
}

func TestTrackedMessagesAreReportedSentOnAck(t *testing.T) {
	rec := &recorder{}
	m := New(rec.send)

	var sent []string
	m.SetCallback(func(lost, s *Message) {
		if lost != nil {
			t.Fatalf("unexpected lost message %s", lost.ID)
		}
		sent = append(sent, s.ID)
	})

	if err := m.Enable(); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}
	_ = m.Send(element.Empty("presence"), nil)
	_ = m.Send(element.Empty("message", "id", "m1"), &Message{ID: "m1"})
	_ = m.Send(element.Empty("message", "id", "m2"), &Message{ID: "m2"})

	names := rec.names()
	want := []string{"enable", "presence", "message", "r", "message", "r"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}

	if !m.HandleInbound(parse(t, `<a xmlns="urn:xmpp:sm:3" h="2"/>`)) {
		t.Fatalf("ack should be consumed")
	}
	if len(sent) != 1 || sent[0] != "m1" || m.Pending() != 1 {
		t.Fatalf("expected m1 acknowledged only, got %v (pending %d)", sent, m.Pending())
	}

	m.HandleInbound(parse(t, `<a xmlns="urn:xmpp:sm:3" h="3"/>`))
	if len(sent) != 2 || sent[1] != "m2" || m.Pending() != 0 {
		t.Fatalf("expected m2 acknowledged, got %v", sent)
	}
}

func TestUnackedMessagesAreLostOnReEnable(t *testing.T) {
	rec := &recorder{}
	m := New(rec.send)

	var lost []string
	m.SetCallback(func(l, s *Message) {
		if l != nil {
			lost = append(lost, l.ID)
		}
	})

	_ = m.Enable()
	_ = m.Send(element.Empty("message"), &Message{ID: "m1"})
	m.Disable()

	_ = m.Enable()
	if len(lost) != 1 || lost[0] != "m1" {
		t.Fatalf("expected m1 lost, got %v", lost)
	}
	if m.Pending() != 0 {
		t.Fatalf("expected empty queue after re-enable")
	}
}

func TestAnswersAckRequestWithInboundCount(t *testing.T) {
	rec := &recorder{}
	m := New(rec.send)
	_ = m.Enable()

	if m.HandleInbound(parse(t, `<message/>`)) {
		t.Fatalf("message should not be consumed")
	}
	m.HandleInbound(parse(t, `<iq type="result"/>`))
	m.HandleInbound(parse(t, `<r xmlns="urn:xmpp:sm:3"/>`))

	last := rec.sent[len(rec.sent)-1]
	if last.Name() != "a" || last.Attribute("h") != "2" {
		t.Fatalf("expected <a h=2/>, got %s", last.String())
	}
}

func TestFailedAckAnswerIsLogged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sm.log")
	l, err := logging.New(logging.Config{Level: "warn", File: path})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	logging.SetDefault(l)
	defer logging.SetDefault(nil)

	m := New(func(el stravaganza.Element) error {
		if el.Name() == "a" {
			return errors.New("stream closed")
		}
		return nil
	})
	_ = m.Enable()

	if !m.HandleInbound(parse(t, `<r xmlns="urn:xmpp:sm:3"/>`)) {
		t.Fatalf("ack request should be consumed")
	}
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if !strings.Contains(string(data), "failed to answer ack request (h=0): stream closed") {
		t.Fatalf("expected warning in log, got %q", data)
	}
}

func TestDisabledDoesNotTrack(t *testing.T) {
	rec := &recorder{}
	m := New(rec.send)
	_ = m.Send(element.Empty("message"), &Message{ID: "m1"})
	if m.Pending() != 0 || len(rec.sent) != 1 {
		t.Fatalf("disabled manager should only pass through")
	}
}
