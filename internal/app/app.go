package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/qbsdk/internal/logging"
	"github.com/meszmate/qbsdk/pkg/auth"
	"github.com/meszmate/qbsdk/pkg/chat"
	"github.com/meszmate/qbsdk/pkg/config"
	"github.com/meszmate/qbsdk/pkg/quickblox"
)

const lastRoomKey = "last_room"

var errNoTarget = errors.New("no conversation selected, use /to or /room")

// Options identifies the demo user
type Options struct {
	UserID   int64
	Login    string
	Password string
	Room     string
}

// Command is a parsed input line. Lines without a leading slash are
// messages for the current conversation.
type Command struct {
	Name string
	Args []string
	Text string
}

// ParseLine splits an input line into a command
func ParseLine(line string) Command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{Text: line}
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return Command{}
	}
	cmd := Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
	if cmd.Name == "msg" && len(fields) > 2 {
		cmd.Args = fields[1:2]
		cmd.Text = strings.Join(fields[2:], " ")
	}
	return cmd
}

// App owns the SDK client and turns its callbacks into UI messages
type App struct {
	qb     *quickblox.Client
	cfg    *config.Config
	opts   Options
	events chan EventMsg
	ctx    context.Context
	cancel context.CancelFunc
	log    logging.Prefixed

	mu   sync.RWMutex
	room string
	peer int64
}

// New creates the application
func New(cfg *config.Config, opts Options, qbOpts ...quickblox.Option) (*App, error) {
	qb, err := quickblox.New(cfg, qbOpts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		qb:     qb,
		cfg:    cfg,
		opts:   opts,
		events: make(chan EventMsg, 100),
		ctx:    ctx,
		cancel: cancel,
		log:    logging.Named("qbchat"),
	}
	a.registerListeners()
	return a, nil
}

// Config returns the configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// Init returns an initialization command
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.listenForEvents(),
		a.Connect(),
	)
}

// Target describes the current conversation
func (a *App) Target() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch {
	case a.room != "":
		return "room " + a.room
	case a.peer != 0:
		return "user " + strconv.FormatInt(a.peer, 10)
	default:
		return "none"
	}
}

// State returns the chat connection state
func (a *App) State() chat.State {
	return a.qb.Chat.State()
}

// listenForEvents waits for the next event and hands it to the UI
func (a *App) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		select {
		case event := <-a.events:
			return event
		case <-a.ctx.Done():
			return nil
		}
	}
}

// NextEvent re-arms the event listener after the UI consumed an event
func (a *App) NextEvent() tea.Cmd {
	return a.listenForEvents()
}

func (a *App) sendEvent(typ EventType, format string, args ...any) {
	event := EventMsg{Type: typ, Time: time.Now(), Text: fmt.Sprintf(format, args...)}
	select {
	case a.events <- event:
	default:
		a.log.Warn("event dropped: %s", event.Text)
	}
}

func (a *App) registerListeners() {
	c := a.qb.Chat
	c.SetMessageListener(func(userID int64, msg chat.Message) {
		if msg.DialogID != "" && msg.Type == stanza.GroupChatMessage {
			a.sendEvent(EventMessage, "[%s] %d: %s", msg.DialogID, userID, msg.Body)
			return
		}
		a.sendEvent(EventMessage, "%d: %s", userID, msg.Body)
		if msg.Markable {
			if err := c.SendReadStatus(chat.StatusParams{MessageID: msg.ID, UserID: userID, DialogID: msg.DialogID}); err != nil {
				a.log.Debug("read status: %v", err)
			}
		}
	})
	c.SetMessageErrorListener(func(messageID string, err error) {
		a.sendEvent(EventError, "message %s failed: %v", messageID, err)
	})
	c.SetSentMessageListener(func(lost, sent *chat.SentMessage) {
		if lost != nil {
			a.sendEvent(EventSent, "not delivered: %s", lost.Body)
			return
		}
		a.sendEvent(EventSent, "delivered to server: %s", sent.ID)
	})
	c.SetMessageTypingListener(func(composing bool, userID int64, dialogID string) {
		if composing {
			a.sendEvent(EventTyping, "%d is typing", userID)
		} else {
			a.sendEvent(EventTyping, "%d stopped typing", userID)
		}
	})
	c.SetDeliveredStatusListener(func(messageID, dialogID string, userID int64) {
		a.sendEvent(EventReceipt, "%s delivered to %d", messageID, userID)
	})
	c.SetReadStatusListener(func(messageID, dialogID string, userID int64) {
		a.sendEvent(EventReceipt, "%s read by %d", messageID, userID)
	})
	c.SetSystemMessageListener(func(msg chat.SystemMessage) {
		a.sendEvent(EventSystem, "system from %d: %s", msg.UserID, msg.Body)
	})
	c.SetKickOccupantListener(func(dialogID string, initiatorID int64) {
		a.mu.Lock()
		if a.room == dialogID {
			a.room = ""
		}
		a.mu.Unlock()
		a.sendEvent(EventKicked, "kicked from %s by %d", dialogID, initiatorID)
	})
	c.SetJoinOccupantListener(func(dialogID string, userID int64) {
		a.sendEvent(EventOccupant, "%d joined %s", userID, dialogID)
	})
	c.SetLeaveOccupantListener(func(dialogID string, userID int64) {
		a.sendEvent(EventOccupant, "%d left %s", userID, dialogID)
	})
	c.SetContactListListener(func(userID int64, typ stanza.PresenceType) {
		if typ == stanza.UnavailablePresence {
			a.sendEvent(EventPresence, "%d is offline", userID)
		} else {
			a.sendEvent(EventPresence, "%d is online", userID)
		}
	})
	c.SetSubscribeListener(func(userID int64) {
		a.sendEvent(EventSubscription, "%d wants to add you, /accept %d or /reject %d", userID, userID, userID)
	})
	c.SetConfirmSubscribeListener(func(userID int64) {
		a.sendEvent(EventSubscription, "%d accepted your request", userID)
	})
	c.SetRejectSubscribeListener(func(userID int64) {
		a.sendEvent(EventSubscription, "%d rejected your request", userID)
	})
	c.SetLastUserActivityListener(func(userID int64, seconds *int) {
		if seconds == nil {
			a.sendEvent(EventActivity, "last activity of %d is unknown", userID)
			return
		}
		a.sendEvent(EventActivity, "%d was active %ds ago", userID, *seconds)
	})
	c.SetDisconnectedListener(func() {
		a.sendEvent(EventDisconnected, "disconnected")
	})
	c.SetReconnectListener(func() {
		a.sendEvent(EventReconnected, "reconnected")
	})
}

// Connect opens a REST session when a login is known and connects to chat
func (a *App) Connect() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(a.ctx, a.cfg.Timeout())
		defer cancel()

		if a.opts.Login != "" {
			user := &auth.UserParams{Login: a.opts.Login, Password: a.opts.Password}
			restored, err := a.qb.RestoreSession(user)
			if err != nil {
				a.log.Warn("session cache: %v", err)
			}
			if !restored {
				if _, err := a.qb.CreateSession(ctx, user); err != nil {
					return ConnectResultMsg{Error: err}
				}
			}
		}

		done := make(chan ConnectResultMsg, 1)
		err := a.qb.ConnectChat(ctx, chat.ConnectParams{
			UserID:   a.opts.UserID,
			Password: a.opts.Password,
		}, func(contacts chat.Contacts, err error) {
			done <- ConnectResultMsg{Contacts: len(contacts), Error: err}
		})
		if err != nil {
			return ConnectResultMsg{Error: err}
		}

		select {
		case res := <-done:
			if res.Error == nil {
				a.afterConnect()
			}
			return res
		case <-ctx.Done():
			return ConnectResultMsg{Error: ctx.Err()}
		}
	}
}

// afterConnect joins the requested or remembered room
func (a *App) afterConnect() {
	room := a.opts.Room
	if store := a.qb.Store(); room == "" && store != nil {
		if last, err := store.GetAppState(lastRoomKey); err == nil {
			room = last
		}
	}
	if room != "" {
		a.join(room, nil)
	}
}

func (a *App) join(dialogID string, done chan<- JoinResultMsg) {
	roomJID := a.qb.Chat.MUC.RoomJID(dialogID)
	if a.qb.Chat.MUC.Joined(roomJID) {
		a.selectRoom(dialogID)
		if done != nil {
			done <- JoinResultMsg{DialogID: dialogID}
		}
		return
	}
	err := a.qb.Chat.MUC.Join(roomJID, func(err error) {
		if err == nil {
			a.selectRoom(dialogID)
		}
		if done != nil {
			done <- JoinResultMsg{DialogID: dialogID, Error: err}
		}
	})
	if err != nil && done != nil {
		done <- JoinResultMsg{DialogID: dialogID, Error: err}
	}
}

func (a *App) selectRoom(dialogID string) {
	a.mu.Lock()
	a.room = dialogID
	a.mu.Unlock()
	if store := a.qb.Store(); store != nil {
		if err := store.SetAppState(lastRoomKey, dialogID); err != nil {
			a.log.Warn("failed to remember room: %v", err)
		}
	}
}

// Execute runs an input line
func (a *App) Execute(line string) tea.Cmd {
	cmd := ParseLine(line)
	if cmd.Name == "" {
		if cmd.Text == "" {
			return nil
		}
		return a.sendText(cmd.Text)
	}

	c := a.qb.Chat
	userArg := func() (int64, error) {
		if len(cmd.Args) == 0 {
			return 0, fmt.Errorf("/%s needs a user id", cmd.Name)
		}
		return strconv.ParseInt(cmd.Args[0], 10, 64)
	}
	report := func(what string) func(error) {
		return func(err error) {
			if err != nil {
				a.sendEvent(EventError, "%s: %v", what, err)
				return
			}
			a.sendEvent(EventSubscription, "%s: done", what)
		}
	}

	var err error
	switch cmd.Name {
	case "to":
		var id int64
		if id, err = userArg(); err == nil {
			a.mu.Lock()
			a.peer, a.room = id, ""
			a.mu.Unlock()
			a.sendEvent(EventSystem, "talking to %d", id)
		}
	case "msg":
		var id int64
		if id, err = userArg(); err == nil {
			return a.send(id, stanza.ChatMessage, cmd.Text)
		}
	case "room":
		if len(cmd.Args) == 0 {
			err = fmt.Errorf("/room needs a dialog id")
			break
		}
		dialogID := cmd.Args[0]
		return func() tea.Msg {
			done := make(chan JoinResultMsg, 1)
			a.join(dialogID, done)
			select {
			case res := <-done:
				return res
			case <-time.After(a.cfg.Timeout()):
				return JoinResultMsg{DialogID: dialogID, Error: context.DeadlineExceeded}
			}
		}
	case "leave":
		a.mu.Lock()
		room := a.room
		a.room = ""
		a.mu.Unlock()
		if room == "" {
			err = fmt.Errorf("not in a room")
			break
		}
		err = c.MUC.Leave(c.MUC.RoomJID(room), nil)
	case "online":
		a.mu.RLock()
		room := a.room
		a.mu.RUnlock()
		if room == "" {
			err = fmt.Errorf("not in a room")
			break
		}
		err = c.MUC.ListOnlineUsers(c.MUC.RoomJID(room), func(ids []int64, err error) {
			if err != nil {
				a.sendEvent(EventError, "occupants: %v", err)
				return
			}
			a.sendEvent(EventOccupant, "online in %s: %v", room, ids)
		})
	case "add", "accept", "reject", "remove", "last", "block", "unblock":
		var id int64
		if id, err = userArg(); err != nil {
			break
		}
		switch cmd.Name {
		case "add":
			err = c.Roster.Add(id, report("add "+cmd.Args[0]))
		case "accept":
			err = c.Roster.Confirm(id, report("accept "+cmd.Args[0]))
		case "reject":
			err = c.Roster.Reject(id, report("reject "+cmd.Args[0]))
		case "remove":
			err = c.Roster.Remove(id, report("remove "+cmd.Args[0]))
		case "last":
			err = c.GetLastUserActivity(id)
		case "block", "unblock":
			action := chat.PrivacyDeny
			if cmd.Name == "unblock" {
				action = chat.PrivacyAllow
			}
			err = a.updateBlockList(id, action, report(cmd.Name+" "+cmd.Args[0]))
		}
	case "roster":
		contacts := c.Roster.Contacts()
		ids := make([]int64, 0, len(contacts))
		for id := range contacts {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			state := "offline"
			if c.IsOnline(id) {
				state = "online"
			}
			a.sendEvent(EventPresence, "%d %s (%s)", id, contacts[id].Subscription, state)
		}
	case "typing":
		err = a.withPeer(c.SendIsTypingStatus)
	case "paused":
		err = a.withPeer(c.SendIsStopTypingStatus)
	default:
		err = fmt.Errorf("unknown command /%s", cmd.Name)
	}

	if err != nil {
		a.sendEvent(EventError, "%v", err)
	}
	return nil
}

// updateBlockList merges one rule into the "blocked" privacy list and makes
// it the default list
func (a *App) updateBlockList(userID int64, action chat.PrivacyAction, done func(error)) error {
	privacy := a.qb.Chat.PrivacyList
	list := chat.PrivacyList{
		Name:  "blocked",
		Items: []chat.PrivacyItem{{UserID: userID, Action: action, MutualBlock: action == chat.PrivacyDeny}},
	}
	return privacy.GetNames(func(names *chat.PrivacyListNames, err error) {
		if err != nil {
			done(err)
			return
		}
		exists := false
		for _, n := range names.Names {
			if n == list.Name {
				exists = true
			}
		}
		store := privacy.Create
		if exists {
			store = privacy.Update
		}
		if err := store(list, func(err error) {
			if err != nil {
				done(err)
				return
			}
			if err := privacy.SetAsDefault(list.Name, done); err != nil {
				done(err)
			}
		}); err != nil {
			done(err)
		}
	})
}

func (a *App) withPeer(fn func(to any) error) error {
	a.mu.RLock()
	room, peer := a.room, a.peer
	a.mu.RUnlock()
	switch {
	case room != "":
		return fn(a.qb.Chat.MUC.RoomJID(room))
	case peer != 0:
		return fn(peer)
	default:
		return errNoTarget
	}
}

func (a *App) sendText(text string) tea.Cmd {
	a.mu.RLock()
	room, peer := a.room, a.peer
	a.mu.RUnlock()
	switch {
	case room != "":
		return a.send(a.qb.Chat.MUC.RoomJID(room), stanza.GroupChatMessage, text)
	case peer != 0:
		return a.send(peer, stanza.ChatMessage, text)
	default:
		a.sendEvent(EventError, "%v", errNoTarget)
		return nil
	}
}

func (a *App) send(to any, typ stanza.MessageType, body string) tea.Cmd {
	return func() tea.Msg {
		msg := chat.Message{
			Type:     typ,
			Body:     body,
			Markable: typ == stanza.ChatMessage,
			Extension: map[string]any{
				"save_to_history": 1,
			},
		}
		id, err := a.qb.Chat.Send(to, msg)
		return SendResultMsg{ID: id, To: fmt.Sprint(to), Body: body, Error: err}
	}
}

// Close disconnects and releases resources
func (a *App) Close() {
	a.cancel()
	if err := a.qb.Close(); err != nil {
		a.log.Warn("close: %v", err)
	}
}
