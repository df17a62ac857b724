// Package address maps between numeric user ids, dialog ids and chat
// addresses.
package address

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// ErrInvalidTarget is returned when a target is neither an address nor a user id
var ErrInvalidTarget = errors.New("target must be a jid string or a numeric user id")

// Resolver builds addresses for one application and remembers the
// session's own address.
type Resolver struct {
	appID      int64
	chatDomain string
	mucDomain  string

	mu      sync.RWMutex
	current jid.JID
}

// NewResolver creates a resolver for an application
func NewResolver(appID int64, chatDomain, mucDomain string) *Resolver {
	return &Resolver{
		appID:      appID,
		chatDomain: chatDomain,
		mucDomain:  mucDomain,
	}
}

// SetCurrent records the session's own full address
func (r *Resolver) SetCurrent(j jid.JID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = j
}

// ClearCurrent forgets the session's own address
func (r *Resolver) ClearCurrent() {
	r.SetCurrent(jid.JID{})
}

// Current returns the session's own full address
func (r *Resolver) Current() jid.JID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// CurrentUserID returns the user id of the session, or 0 when offline
func (r *Resolver) CurrentUserID() int64 {
	return IDFromNode(r.Current().String())
}

// UserJID returns <id>-<appid>@<chat>
func (r *Resolver) UserJID(userID int64) string {
	return r.UserJIDForApp(userID, r.appID)
}

// UserJIDForApp returns the address of a user in another application
func (r *Resolver) UserJIDForApp(userID, appID int64) string {
	if appID == 0 {
		appID = r.appID
	}
	return fmt.Sprintf("%d-%d@%s", userID, appID, r.chatDomain)
}

// UserNickWithMUCDomain returns <muc>/<id>, the address a user has inside
// every room.
func (r *Resolver) UserNickWithMUCDomain(userID int64) string {
	return r.mucDomain + "/" + strconv.FormatInt(userID, 10)
}

// RoomJIDFromDialogID returns <appid>_<dialog>@<muc>
func (r *Resolver) RoomJIDFromDialogID(dialogID string) string {
	return fmt.Sprintf("%d_%s@%s", r.appID, dialogID, r.mucDomain)
}

// RoomJID returns the occupant address of the session inside room
func (r *Resolver) RoomJID(room string) string {
	return room + "/" + strconv.FormatInt(r.CurrentUserID(), 10)
}

// JIDOrUserID resolves a target given as an address string or a user id
func (r *Resolver) JIDOrUserID(target any) (string, error) {
	switch v := target.(type) {
	case string:
		if v == "" {
			return "", ErrInvalidTarget
		}
		if _, err := jid.Parse(v); err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidTarget, v, err)
		}
		return v, nil
	case jid.JID:
		if v.Domainpart() == "" {
			return "", ErrInvalidTarget
		}
		return v.String(), nil
	case int:
		return r.UserJID(int64(v)), nil
	case int64:
		return r.UserJID(v), nil
	case uint64:
		return r.UserJID(int64(v)), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrInvalidTarget, target)
	}
}

// TypeChat returns the message type for a target: groupchat for room
// addresses, chat otherwise.
func TypeChat(target any) (stanza.MessageType, error) {
	switch v := target.(type) {
	case string:
		if strings.Contains(v, "muc") {
			return stanza.GroupChatMessage, nil
		}
		return stanza.ChatMessage, nil
	case jid.JID:
		return TypeChat(v.String())
	case int, int64, uint64:
		return stanza.ChatMessage, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrInvalidTarget, target)
	}
}

// IDFromNode extracts the user id from <id>-<appid>@host. It returns 0 when
// the address has no node.
func IDFromNode(addr string) int64 {
	at := strings.IndexByte(addr, '@')
	if at < 0 {
		return 0
	}
	node := addr[:at]
	if dash := strings.IndexByte(node, '-'); dash >= 0 {
		node = node[:dash]
	}
	id, _ := strconv.ParseInt(node, 10, 64)
	return id
}

// DialogIDFromNode extracts the dialog id from <appid>_<dialog>@host
func DialogIDFromNode(addr string) string {
	at := strings.IndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	parts := strings.Split(addr[:at], "_")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// IDFromResource extracts the numeric resource of room@muc/<id>
func IDFromResource(addr string) int64 {
	slash := strings.IndexByte(addr, '/')
	if slash < 0 {
		return 0
	}
	id, _ := strconv.ParseInt(addr[slash+1:], 10, 64)
	return id
}

// RoomJIDFromRoomFullJID strips the occupant resource. It returns "" for a
// bare address.
func RoomJIDFromRoomFullJID(addr string) string {
	slash := strings.IndexByte(addr, '/')
	if slash < 0 {
		return ""
	}
	return addr[:slash]
}

// UserIDFromRoomJID returns the last path segment of an occupant address
func UserIDFromRoomJID(addr string) string {
	parts := strings.Split(addr, "/")
	return parts[len(parts)-1]
}

// UniqueID returns a process-unique request id of the form <uuid>:<purpose>
func UniqueID(purpose string) string {
	id := uuid.NewString()
	if purpose == "" {
		return id
	}
	return id + ":" + purpose
}

// ObjectID returns a new 24 character BSON object id
func ObjectID() string {
	return primitive.NewObjectID().Hex()
}
