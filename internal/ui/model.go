package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/meszmate/qbsdk/internal/app"
	"github.com/meszmate/qbsdk/internal/ui/theme"
)

const maxLines = 500

type lineKind int

const (
	lineIncoming lineKind = iota
	lineOutgoing
	lineSystem
	linePresence
	lineError
)

type line struct {
	at   time.Time
	kind lineKind
	text string
}

// Model is the root Bubble Tea model
type Model struct {
	app    *app.App
	styles *theme.Styles
	width  int
	height int

	lines      []line
	input      []rune
	history    []string
	historyPos int
	quitting   bool
}

// NewModel creates a new root model
func NewModel(application *app.App, styles *theme.Styles) Model {
	return Model{
		app:        application,
		styles:     styles,
		historyPos: -1,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return m.app.Init()
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case app.EventMsg:
		m.push(kindOf(msg.Type), msg.Text)
		return m, m.app.NextEvent()

	case app.ConnectResultMsg:
		if msg.Error != nil {
			m.push(lineError, "connect failed: "+msg.Error.Error())
		} else {
			m.push(lineSystem, fmt.Sprintf("online, %d contacts", msg.Contacts))
		}
		return m, nil

	case app.SendResultMsg:
		if msg.Error != nil {
			m.push(lineError, "send failed: "+msg.Error.Error())
		} else {
			m.push(lineOutgoing, "me: "+msg.Body)
		}
		return m, nil

	case app.JoinResultMsg:
		if msg.Error != nil {
			m.push(lineError, fmt.Sprintf("join %s failed: %v", msg.DialogID, msg.Error))
		} else {
			m.push(lineSystem, "joined "+msg.DialogID)
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.quitting = true
		return m, tea.Quit

	case tea.KeyEnter:
		text := strings.TrimSpace(string(m.input))
		m.input = m.input[:0]
		m.historyPos = -1
		if text == "" {
			return m, nil
		}
		m.history = append(m.history, text)
		if text == "/quit" || text == "/q" {
			m.quitting = true
			return m, tea.Quit
		}
		if text == "/help" {
			m.push(lineSystem, helpText)
			return m, nil
		}
		return m, m.app.Execute(text)

	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}

	case tea.KeyUp:
		if len(m.history) == 0 {
			break
		}
		if m.historyPos == -1 {
			m.historyPos = len(m.history) - 1
		} else if m.historyPos > 0 {
			m.historyPos--
		}
		m.input = []rune(m.history[m.historyPos])

	case tea.KeyDown:
		if m.historyPos == -1 {
			break
		}
		if m.historyPos < len(m.history)-1 {
			m.historyPos++
			m.input = []rune(m.history[m.historyPos])
		} else {
			m.historyPos = -1
			m.input = m.input[:0]
		}

	case tea.KeySpace:
		m.input = append(m.input, ' ')

	case tea.KeyRunes:
		m.input = append(m.input, msg.Runes...)
	}
	return m, nil
}

const helpText = "/to <id>, /msg <id> <text>, /room <dialog>, /leave, /online, " +
	"/add|accept|reject|remove <id>, /block|unblock <id>, /last <id>, /roster, /typing, /paused, /quit"

func (m *Model) push(kind lineKind, text string) {
	m.lines = append(m.lines, line{at: time.Now(), kind: kind, text: text})
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
}

func kindOf(t app.EventType) lineKind {
	switch t {
	case app.EventMessage:
		return lineIncoming
	case app.EventError, app.EventKicked:
		return lineError
	case app.EventPresence, app.EventOccupant, app.EventTyping, app.EventActivity:
		return linePresence
	default:
		return lineSystem
	}
}

func (m Model) style(kind lineKind) lipgloss.Style {
	switch kind {
	case lineIncoming:
		return m.styles.Incoming
	case lineOutgoing:
		return m.styles.Outgoing
	case linePresence:
		return m.styles.Presence
	case lineError:
		return m.styles.Error
	default:
		return m.styles.System
	}
}

// View renders the model
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.styles.Title.Render("qbchat"))
	b.WriteString("\n")

	visible := m.height - 3
	if visible < 1 {
		visible = 10
	}
	start := 0
	if len(m.lines) > visible {
		start = len(m.lines) - visible
	}
	for _, l := range m.lines[start:] {
		b.WriteString(m.styles.Time.Render(l.at.Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(m.style(l.kind).Render(l.text))
		b.WriteString("\n")
	}
	for i := len(m.lines) - start; i < visible; i++ {
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Prompt.Render("> "))
	b.WriteString(string(m.input))
	b.WriteString("\n")

	state := m.app.State().String()
	stateStyle := m.styles.Offline
	if state == "online" {
		stateStyle = m.styles.Online
	}
	status := fmt.Sprintf("%s  to: %s", stateStyle.Render(state), m.app.Target())
	bar := m.styles.Bar
	if m.width > 0 {
		bar = bar.Width(m.width)
	}
	b.WriteString(bar.Render(status))
	return b.String()
}
