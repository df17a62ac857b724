package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is reported to the backend in the QB-SDK header
const Version = "2.5.0"

// Config represents the SDK configuration
type Config struct {
	Credentials      CredentialsConfig      `toml:"credentials"`
	Endpoints        EndpointsConfig        `toml:"endpoints"`
	ChatProtocol     ChatProtocolConfig     `toml:"chat_protocol"`
	StreamManagement StreamManagementConfig `toml:"stream_management"`
	Reconnect        ReconnectConfig        `toml:"reconnect"`
	URLs             URLsConfig             `toml:"urls"`
	Logging          LoggingConfig          `toml:"logging"`
	Storage          StorageConfig          `toml:"storage"`

	// TimeoutMS bounds every REST call (0 = no timeout)
	TimeoutMS int  `toml:"timeout_ms"`
	Debug     bool `toml:"debug"`
}

// CredentialsConfig identifies the application
type CredentialsConfig struct {
	AppID      int64  `toml:"app_id"`
	AuthKey    string `toml:"auth_key"`
	AuthSecret string `toml:"auth_secret"`
	AccountKey string `toml:"account_key"`
}

// EndpointsConfig contains backend host names
type EndpointsConfig struct {
	API  string `toml:"api"`
	Chat string `toml:"chat"`
	MUC  string `toml:"muc"`
}

// ChatProtocolConfig contains chat transport settings
type ChatProtocolConfig struct {
	Websocket string `toml:"websocket"`
	Resource  string `toml:"resource"`
}

// StreamManagementConfig toggles the acknowledgment overlay
type StreamManagementConfig struct {
	Enable bool `toml:"enable"`
}

// ReconnectConfig controls transport reconnection
type ReconnectConfig struct {
	Enable  bool `toml:"enable"`
	DelayMS int  `toml:"delay_ms"`
}

// URLsConfig contains REST path fragments
type URLsConfig struct {
	Session string `toml:"session"`
	Login   string `toml:"login"`
	Users   string `toml:"users"`
	Data    string `toml:"data"`
	Type    string `toml:"type"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	Console bool   `toml:"console"`
}

// StorageConfig contains local storage settings
type StorageConfig struct {
	DataDir string `toml:"data_dir"`

	// RosterCache persists fetched rosters between runs
	RosterCache bool `toml:"roster_cache"`
}

// Paths holds the XDG-compliant paths for the SDK
type Paths struct {
	ConfigDir string
	DataDir   string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Endpoints: EndpointsConfig{
			API:  "api.quickblox.com",
			Chat: "chat.quickblox.com",
			MUC:  "muc.chat.quickblox.com",
		},
		ChatProtocol: ChatProtocolConfig{
			Websocket: "wss://chat.quickblox.com:5291",
		},
		StreamManagement: StreamManagementConfig{
			Enable: false,
		},
		Reconnect: ReconnectConfig{
			Enable:  true,
			DelayMS: 3000,
		},
		URLs: URLsConfig{
			Session: "session",
			Login:   "login",
			Users:   "users",
			Data:    "data",
			Type:    ".json",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		TimeoutMS: 60000,
	}
}

// Timeout returns the REST timeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ReconnectDelay returns the transport reconnect delay
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Reconnect.DelayMS) * time.Millisecond
}

// APIURL builds an absolute REST URL for a path such as "data/cars"
func (c *Config) APIURL(path string) string {
	base := c.Endpoints.API
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return strings.TrimSuffix(base, "/") + "/" + path + c.URLs.Type
}

// Validate checks the fields required to talk to the backend
func (c *Config) Validate() error {
	if c.Credentials.AppID <= 0 {
		return fmt.Errorf("app_id must be > 0")
	}
	if c.Endpoints.API == "" {
		return fmt.Errorf("api endpoint cannot be empty")
	}
	if c.Endpoints.Chat == "" || c.Endpoints.MUC == "" {
		return fmt.Errorf("chat endpoints cannot be empty")
	}
	if c.URLs.Session == "" {
		return fmt.Errorf("session url cannot be empty")
	}
	if c.TimeoutMS < 0 {
		return fmt.Errorf("timeout_ms must be >= 0")
	}
	return nil
}

// ApplyEnv overrides credentials and endpoints from QB_* environment variables
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("QB_APP_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid QB_APP_ID: %w", err)
		}
		c.Credentials.AppID = id
	}
	if v := os.Getenv("QB_AUTH_KEY"); v != "" {
		c.Credentials.AuthKey = v
	}
	if v := os.Getenv("QB_AUTH_SECRET"); v != "" {
		c.Credentials.AuthSecret = v
	}
	if v := os.Getenv("QB_API_ENDPOINT"); v != "" {
		c.Endpoints.API = v
	}
	if v := os.Getenv("QB_CHAT_ENDPOINT"); v != "" {
		c.Endpoints.Chat = v
	}
	return nil
}

// GetPaths returns XDG-compliant paths for the SDK
func GetPaths() (*Paths, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}

	return &Paths{
		ConfigDir: filepath.Join(configDir, "qbsdk"),
		DataDir:   filepath.Join(dataDir, "qbsdk"),
	}, nil
}

// Load loads the configuration from path, or from the XDG config
// directory when path is empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = filepath.Join(paths.ConfigDir, "config.toml")
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.Storage.DataDir = paths.DataDir
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = paths.DataDir
	} else {
		cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir)
	}

	if cfg.Logging.File != "" {
		cfg.Logging.File = expandPath(cfg.Logging.File)
	}

	return cfg, nil
}

// Save writes the configuration to path
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
