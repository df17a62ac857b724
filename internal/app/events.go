package app

import (
	"time"
)

// EventType represents the type of event
type EventType int

const (
	EventMessage EventType = iota
	EventTyping
	EventReceipt
	EventSystem
	EventPresence
	EventSubscription
	EventOccupant
	EventKicked
	EventActivity
	EventSent
	EventConnected
	EventDisconnected
	EventReconnected
	EventError
)

// EventMsg is delivered to the UI for every chat event
type EventMsg struct {
	Type EventType
	Time time.Time
	Text string
}

// ConnectResultMsg is sent when the first connection attempt completes
type ConnectResultMsg struct {
	Contacts int
	Error    error
}

// SendResultMsg is sent after a line was handed to the chat client
type SendResultMsg struct {
	ID    string
	To    string
	Body  string
	Error error
}

// JoinResultMsg is sent when a room join completes
type JoinResultMsg struct {
	DialogID string
	Error    error
}
