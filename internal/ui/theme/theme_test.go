package theme

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultTheme(t *testing.T) {
	m := NewManager()
	if m.Current().Name != "default" {
		t.Fatalf("expected default theme, got %s", m.Current().Name)
	}
	if m.Styles() == nil {
		t.Fatalf("expected compiled styles")
	}
	names := m.AvailableThemes()
	if len(names) != 2 || names[0] != "default" || names[1] != "mono" {
		t.Fatalf("unexpected themes %v", names)
	}
}

func TestLoadThemeFromFile(t *testing.T) {
	dir := t.TempDir()
	data := "primary = \"#ff0000\"\nerror = \"#00ff00\"\n"
	if err := os.WriteFile(filepath.Join(dir, "red.toml"), []byte(data), 0600); err != nil {
		t.Fatalf("failed to write theme: %v", err)
	}

	m := NewManager(dir)
	if err := m.SetTheme("red"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cur := m.Current()
	if cur.Name != "red" || cur.Primary != "#ff0000" || cur.Error != "#00ff00" {
		t.Fatalf("unexpected theme %+v", cur)
	}
	if cur.Muted != Default().Muted {
		t.Fatalf("expected unset colors to keep defaults, got %q", cur.Muted)
	}
}

func TestMissingTheme(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.SetTheme("nope"); err == nil {
		t.Fatalf("expected error for missing theme")
	}
	if m.Current().Name != "default" {
		t.Fatalf("expected theme to stay default")
	}
}
