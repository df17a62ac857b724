package chat

import (
	"strconv"

	"github.com/jackal-xmpp/stravaganza/v2"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/qbsdk/internal/xmpp/address"
	"github.com/meszmate/qbsdk/internal/xmpp/disco"
	"github.com/meszmate/qbsdk/internal/xmpp/element"
	"github.com/meszmate/qbsdk/internal/xmpp/muc"
)

const (
	// JoinPurpose suffixes the id of every room join presence
	JoinPurpose = "join"
	// LeavePurpose is the single pending slot for room leave confirmations
	LeavePurpose = "muc:leave"
)

// MUCProxy joins and leaves group chat rooms
type MUCProxy struct {
	s     *session
	rooms *muc.Manager
}

// RoomJID returns the room address of a group dialog
func (m *MUCProxy) RoomJID(dialogID string) string {
	return m.s.addr.RoomJIDFromDialogID(dialogID)
}

// JoinedRooms returns the rooms that will be rejoined after a reconnect
func (m *MUCProxy) JoinedRooms() []string {
	return m.rooms.Rooms()
}

// Joined reports whether room is in the set rejoined after a reconnect
func (m *MUCProxy) Joined(room string) bool {
	return m.rooms.Joined(room)
}

// Occupants returns the occupants seen in a room since joining
func (m *MUCProxy) Occupants(room string) []int64 {
	return m.rooms.Occupants(room)
}

// Join enters a room without history. cb receives the join result and may
// be nil.
func (m *MUCProxy) Join(room string, cb func(err error)) error {
	if room == "" {
		return address.ErrInvalidTarget
	}
	id := address.UniqueID(JoinPurpose)

	pres := element.New("presence",
		"id", id,
		"from", m.s.currentJID(),
		"to", m.s.addr.RoomJID(room),
	).WithChild(
		element.New("x", stravaganza.Namespace, element.NSMUC).
			WithChild(element.Empty("history", "maxstanzas", "0")).
			Build(),
	).Build()

	m.rooms.JoinRoom(room)

	if cb == nil {
		return m.s.send(pres)
	}
	return m.s.request(id, pres, func(resp stravaganza.Element) {
		var err error
		if element.IsError(resp) {
			err = element.ParseError(resp)
		}
		m.s.safe("room join", func() { cb(err) })
	})
}

// Leave exits a room. cb runs when the server confirms and may be nil.
func (m *MUCProxy) Leave(room string, cb func(err error)) error {
	if room == "" {
		return address.ErrInvalidTarget
	}

	pres := element.Empty("presence",
		"from", m.s.currentJID(),
		"to", m.s.addr.RoomJID(room),
		"type", string(stanza.UnavailablePresence),
	)

	m.rooms.LeaveRoom(room)

	if cb == nil {
		return m.s.send(pres)
	}
	return m.s.request(LeavePurpose, pres, func(stravaganza.Element) {
		m.s.safe("room leave", func() { cb(nil) })
	})
}

// ListOnlineUsers asks the room for its occupants
func (m *MUCProxy) ListOnlineUsers(room string, cb func(userIDs []int64, err error)) error {
	if room == "" {
		return address.ErrInvalidTarget
	}
	id := address.UniqueID("muc_disco_items")
	iq := disco.ItemsQuery(id, m.s.currentJID(), room)

	return m.s.request(id, iq, func(resp stravaganza.Element) {
		if element.IsError(resp) {
			err := element.ParseError(resp)
			if cb != nil {
				m.s.safe("list online users", func() { cb(nil, err) })
			}
			return
		}

		items := disco.ParseItems(resp)

		ids := make([]int64, 0, len(items))
		for _, it := range items {
			userID, err := strconv.ParseInt(address.UserIDFromRoomJID(it.JID), 10, 64)
			if err != nil {
				continue
			}
			ids = append(ids, userID)
		}
		if cb != nil {
			m.s.safe("list online users", func() { cb(ids, nil) })
		}
	})
}
