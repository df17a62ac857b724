package main

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/meszmate/qbsdk/internal/app"
	"github.com/meszmate/qbsdk/internal/logging"
	"github.com/meszmate/qbsdk/internal/ui"
	"github.com/meszmate/qbsdk/internal/ui/theme"
	"github.com/meszmate/qbsdk/pkg/config"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config.toml")
	userID := pflag.Int64P("user-id", "u", 0, "chat user id")
	login := pflag.StringP("login", "l", "", "user login, opens a REST session first")
	password := pflag.StringP("password", "p", "", "user password (or QB_PASSWORD)")
	room := pflag.StringP("room", "r", "", "group dialog id to join")
	themeName := pflag.String("theme", "default", "color theme")
	envFile := pflag.String("env", ".env", "dotenv file to load")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid environment: %v\n", err)
		os.Exit(1)
	}

	paths, err := config.GetPaths()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve paths: %v\n", err)
		os.Exit(1)
	}
	logFile := cfg.Logging.File
	if logFile == "" {
		// the terminal belongs to the UI
		logFile = filepath.Join(paths.DataDir, "qbchat.log")
	}
	if err := logging.Init(logging.Config{Level: cfg.Logging.Level, File: logFile}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	pass := *password
	if pass == "" {
		pass = os.Getenv("QB_PASSWORD")
	}
	if (*userID == 0 && *login == "") || pass == "" {
		fmt.Fprintln(os.Stderr, "Usage: qbchat --user-id <id> --password <password> [--room <dialog id>]")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	application, err := app.New(cfg, app.Options{
		UserID:   *userID,
		Login:    *login,
		Password: pass,
		Room:     *room,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	themes := theme.NewManager(filepath.Join(paths.ConfigDir, "themes"))
	if err := themes.SetTheme(*themeName); err != nil {
		_ = themes.SetTheme("default")
	}

	p := tea.NewProgram(ui.NewModel(application, themes.Styles()), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}
