package theme

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
)

// Theme is the demo color palette
type Theme struct {
	Name     string `toml:"name"`
	Primary  string `toml:"primary"`
	Muted    string `toml:"muted"`
	Incoming string `toml:"incoming"`
	Outgoing string `toml:"outgoing"`
	System   string `toml:"system"`
	Presence string `toml:"presence"`
	Error    string `toml:"error"`
	Success  string `toml:"success"`
	BarFg    string `toml:"bar_fg"`
	BarBg    string `toml:"bar_bg"`
}

// Styles contains the compiled lipgloss styles for a theme
type Styles struct {
	Title    lipgloss.Style
	Incoming lipgloss.Style
	Outgoing lipgloss.Style
	System   lipgloss.Style
	Presence lipgloss.Style
	Error    lipgloss.Style
	Time     lipgloss.Style
	Prompt   lipgloss.Style
	Bar      lipgloss.Style
	Online   lipgloss.Style
	Offline  lipgloss.Style
}

// Default is the built-in palette
func Default() *Theme {
	return &Theme{
		Name:     "default",
		Primary:  "#7aa2f7",
		Muted:    "#565f89",
		Incoming: "#c0caf5",
		Outgoing: "#9ece6a",
		System:   "#bb9af7",
		Presence: "#7dcfff",
		Error:    "#f7768e",
		Success:  "#9ece6a",
		BarFg:    "#1a1b26",
		BarBg:    "#7aa2f7",
	}
}

// Mono avoids color entirely
func Mono() *Theme {
	return &Theme{Name: "mono"}
}

// Manager handles theme loading and switching
type Manager struct {
	themes    map[string]*Theme
	current   *Theme
	styles    *Styles
	themeDirs []string
}

// NewManager creates a manager that looks for <name>.toml in themeDirs
func NewManager(themeDirs ...string) *Manager {
	m := &Manager{
		themes:    map[string]*Theme{"default": Default(), "mono": Mono()},
		themeDirs: themeDirs,
	}
	m.current = m.themes["default"]
	m.styles = Compile(m.current)
	return m
}

// LoadTheme loads a theme from a TOML file. Missing colors keep the
// default palette.
func (m *Manager) LoadTheme(name string) error {
	for _, dir := range m.themeDirs {
		path := filepath.Join(dir, name+".toml")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		t := *Default()
		if _, err := toml.DecodeFile(path, &t); err != nil {
			return fmt.Errorf("failed to parse theme file %s: %w", path, err)
		}
		t.Name = name
		m.themes[name] = &t
		return nil
	}
	return fmt.Errorf("theme %q not found", name)
}

// SetTheme switches to a built-in or loadable theme
func (m *Manager) SetTheme(name string) error {
	t, ok := m.themes[name]
	if !ok {
		if err := m.LoadTheme(name); err != nil {
			return err
		}
		t = m.themes[name]
	}
	m.current = t
	m.styles = Compile(t)
	return nil
}

// Current returns the active theme
func (m *Manager) Current() *Theme {
	return m.current
}

// Styles returns the compiled styles of the active theme
func (m *Manager) Styles() *Styles {
	return m.styles
}

// AvailableThemes returns the known theme names
func (m *Manager) AvailableThemes() []string {
	names := make([]string, 0, len(m.themes))
	for name := range m.themes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile builds lipgloss styles. Empty colors leave the terminal default.
func Compile(t *Theme) *Styles {
	fg := func(c string) lipgloss.Style {
		s := lipgloss.NewStyle()
		if c != "" {
			s = s.Foreground(lipgloss.Color(c))
		}
		return s
	}
	bar := lipgloss.NewStyle().Padding(0, 1)
	if t.BarFg != "" {
		bar = bar.Foreground(lipgloss.Color(t.BarFg))
	}
	if t.BarBg != "" {
		bar = bar.Background(lipgloss.Color(t.BarBg))
	} else {
		bar = bar.Reverse(true)
	}

	return &Styles{
		Title:    fg(t.Primary).Bold(true),
		Incoming: fg(t.Incoming),
		Outgoing: fg(t.Outgoing),
		System:   fg(t.System).Italic(true),
		Presence: fg(t.Presence),
		Error:    fg(t.Error).Bold(true),
		Time:     fg(t.Muted),
		Prompt:   fg(t.Primary).Bold(true),
		Bar:      bar,
		Online:   fg(t.Success),
		Offline:  fg(t.Muted),
	}
}
