package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/roomlink/roomlink/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	Server   Server   `json:"server"`
	Channel  Channel  `json:"channel"`
	History  History  `json:"history"`
	Call     Call     `json:"call"`
}

type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type Server struct {
	// Base URL for the backlog/history HTTP API, e.g. "http://localhost:8000".
	BaseURL string `json:"base_url"`

	// WebSocket path for the room channel. The room id is appended:
	// {ws(base_url)}{channel_path}{roomId}/
	ChannelPath string `json:"channel_path"`
}

type Channel struct {
	// Interval in milliseconds between join_room send attempts while the
	// socket is settling. One successful send cancels the retry loop.
	JoinRetryMs int `json:"join_retry_ms"`

	// Outbound write deadline in seconds.
	WriteTimeoutSec int `json:"write_timeout_sec"`
}

type History struct {
	// Maximum number of messages kept materialized in the window.
	WindowSize int `json:"window_size"`

	// Messages fetched per page request.
	PageSize int `json:"page_size"`

	// Boundary tolerance in seconds for the window continuity check.
	ContinuitySlackSec int `json:"continuity_slack_sec"`

	// Optional path to a SQLite database mirroring received pages, served
	// when the HTTP backlog store is unreachable. Empty disables the cache.
	BacklogDBPath string `json:"backlog_db_path"`
}

type Call struct {
	ICEServers    []string `json:"ice_servers"`
	PreferredCam  string   `json:"preferred_cam"`
	PreferredMic  string   `json:"preferred_mic"`
	VideoDisabled bool     `json:"video_disabled"` // disable local capture, receive-only calls
}

func Default() Config {
	return Config{
		Identity: Identity{},
		Server: Server{
			BaseURL:     "http://localhost:8000",
			ChannelPath: "/ws/chat/",
		},
		Channel: Channel{
			JoinRetryMs:     500,
			WriteTimeoutSec: 10,
		},
		History: History{
			WindowSize:         40,
			PageSize:           20,
			ContinuitySlackSec: 60,
		},
		Call: Call{
			ICEServers: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.UserID) == "" {
		return errors.New("identity.user_id is required")
	}
	if strings.TrimSpace(c.Identity.Username) == "" {
		return errors.New("identity.username is required")
	}

	// Server
	if err := validateBaseURL(c.Server.BaseURL); err != nil {
		return fmt.Errorf("server.base_url: %v", err)
	}
	if !strings.HasPrefix(c.Server.ChannelPath, "/") {
		return errors.New("server.channel_path must start with '/'")
	}

	// Channel
	if c.Channel.JoinRetryMs <= 0 {
		return errors.New("channel.join_retry_ms must be > 0")
	}
	if c.Channel.WriteTimeoutSec <= 0 {
		return errors.New("channel.write_timeout_sec must be > 0")
	}

	// History
	if c.History.WindowSize <= 0 {
		return errors.New("history.window_size must be > 0")
	}
	if c.History.PageSize <= 0 {
		return errors.New("history.page_size must be > 0")
	}
	if c.History.PageSize > c.History.WindowSize {
		return errors.New("history.page_size must be <= history.window_size")
	}
	if c.History.ContinuitySlackSec <= 0 {
		return errors.New("history.continuity_slack_sec must be > 0")
	}

	// Call
	for _, s := range c.Call.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			return fmt.Errorf("call.ice_servers: %q must be a stun:/turn:/turns: URL", s)
		}
	}

	return nil
}

func validateBaseURL(raw string) error {
	raw = util.NormalizeURL(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// The created default is a skeleton with an empty identity, written without
// validation so the user has a file to fill in. Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := util.WriteJSONFile(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
