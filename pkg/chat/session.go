package chat

import (
	"github.com/jackal-xmpp/stravaganza/v2"

	"github.com/meszmate/qbsdk/internal/logging"
	"github.com/meszmate/qbsdk/internal/xmpp/address"
	"github.com/meszmate/qbsdk/internal/xmpp/pending"
	"github.com/meszmate/qbsdk/pkg/config"
)

// session is the state shared by the client and its proxies. The Client
// owns it; proxies only read through it.
type session struct {
	cfg     *config.Config
	addr    *address.Resolver
	pending *pending.Registry[stravaganza.Element]
	log     logging.Prefixed
	send    func(stravaganza.Element) error
}

// safe runs a listener, logging instead of propagating a panic
func (s *session) safe(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("%s listener panicked: %v", name, r)
		}
	}()
	fn()
}

// request registers cb under id and sends el. The registration is dropped
// when the send fails.
func (s *session) request(id string, el stravaganza.Element, cb pending.Callback[stravaganza.Element]) error {
	if s.pending.Has(id) {
		s.log.Debug("replacing pending callback for %s", id)
	}
	s.pending.Register(id, cb)
	if err := s.send(el); err != nil {
		s.pending.Remove(id)
		return err
	}
	return nil
}

func (s *session) currentJID() string {
	return s.addr.Current().String()
}
