package config

import "time"

// Config holds runtime settings for the SecureChat client.
//
// Fields:
//   - ServerURL: base URL of the auth/directory/history REST service.
//   - WebsocketURL: endpoint of the real-time delivery channel.
//   - DatabasePath: local sqlite file holding key records.
//   - RefreshInterval: how often the session credential is refreshed.
type Config struct {
	ServerURL       string
	WebsocketURL    string
	DatabasePath    string
	RefreshInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.WebsocketURL = "ws://127.0.0.1:8080/ws"
	c.DatabasePath = "securechat.db"
	c.RefreshInterval = 15 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
