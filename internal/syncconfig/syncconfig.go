// Package syncconfig resolves teer settings from the environment, the
// global config file and built-in defaults, in that order.
package syncconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AutoSyncConfig holds auto-sync settings.
type AutoSyncConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`  // nil = default true
	OnStart  *bool  `json:"on_start,omitempty"` // nil = default true
	Interval string `json:"interval,omitempty"` // duration string, default "5m"
}

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	MaxAttempts *int           `json:"max_attempts,omitempty"`
	Auto        AutoSyncConfig `json:"auto"`
}

// ServerConfig locates the betting server.
type ServerConfig struct {
	URL     string `json:"url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// NetworkConfig controls connectivity detection.
type NetworkConfig struct {
	Mode string `json:"mode,omitempty"` // auto, online, offline
	Poll string `json:"poll,omitempty"`
}

// AgentConfig configures the background agent transport.
type AgentConfig struct {
	Channel  string `json:"channel,omitempty"` // mailbox or redis
	RedisURL string `json:"redis_url,omitempty"`
	Addr     string `json:"addr,omitempty"`
}

// WebhookConfig configures the sync event webhook.
type WebhookConfig struct {
	URL    string `json:"url,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// Config is the global teer config stored at ~/.config/teer/config.json.
type Config struct {
	Server       ServerConfig    `json:"server"`
	Sync         SyncConfig      `json:"sync"`
	Network      NetworkConfig   `json:"network"`
	Agent        AgentConfig     `json:"agent"`
	Webhook      *WebhookConfig  `json:"webhook,omitempty"`
	FeatureFlags map[string]bool `json:"feature_flags,omitempty"`
}

// AuthCredentials stores authentication state at ~/.config/teer/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	UserID    int64  `json:"user_id"`
	ServerURL string `json:"server_url,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// Agent channel kinds
const (
	ChannelMailbox = "mailbox"
	ChannelRedis   = "redis"
)

const (
	defaultServerURL    = "http://localhost:5000"
	defaultTimeout      = 15 * time.Second
	defaultMaxAttempts  = 5
	defaultInterval     = 5 * time.Minute
	defaultNetworkPoll  = 5 * time.Second
	defaultAgentAddr    = "127.0.0.1:7788"
	defaultRedisAddress = "redis://localhost:6379/0"
)

// LoadDotEnv loads KEY=value pairs from .env files into the environment.
// Variables already set are kept. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ConfigDir returns the teer home, creating it if necessary.
// Priority: TEER_HOME env > ~/.config/teer.
func ConfigDir() (string, error) {
	dir := os.Getenv("TEER_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "teer")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// DataDir returns the directory of the local store. It is the config dir.
func DataDir() (string, error) {
	return ConfigDir()
}

// LoadConfig reads the global config from config.json.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config to config.json.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads auth credentials from auth.json. Returns nil, nil when
// there are none.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes auth credentials to auth.json (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetServerURL returns the betting server URL.
// Priority: TEER_SERVER_URL env > auth.json server_url > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("TEER_SERVER_URL"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Server.URL != "" {
		return cfg.Server.URL
	}
	return defaultServerURL
}

// GetServerTimeout bounds each server request.
// Priority: TEER_SERVER_TIMEOUT env > config.json server.timeout > 15s
func GetServerTimeout() time.Duration {
	return durationSetting("TEER_SERVER_TIMEOUT", func(c *Config) string { return c.Server.Timeout }, defaultTimeout)
}

// GetAPIKey returns the API key.
// Priority: TEER_AUTH_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("TEER_AUTH_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// IsAuthenticated returns true if an API key is available.
func IsAuthenticated() bool {
	return GetAPIKey() != ""
}

// GetMaxAttempts returns how many transient failures a queued operation
// survives. Zero or less means unbounded.
// Priority: TEER_SYNC_MAX_ATTEMPTS env > config.json sync.max_attempts > 5
func GetMaxAttempts() int {
	if v := os.Getenv("TEER_SYNC_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.MaxAttempts != nil {
		return *cfg.Sync.MaxAttempts
	}
	return defaultMaxAttempts
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := os.Getenv(envKey)
	if v == "" {
		return nil
	}
	v = strings.ToLower(v)
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}

// GetAutoSyncEnabled returns whether auto-sync is enabled.
// Priority: TEER_SYNC_AUTO env > config.json sync.auto.enabled > true
func GetAutoSyncEnabled() bool {
	if v := parseBoolEnv("TEER_SYNC_AUTO"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Auto.Enabled != nil {
		return *cfg.Sync.Auto.Enabled
	}
	return true
}

// GetAutoSyncOnStart returns whether to sync on startup.
// Priority: TEER_SYNC_AUTO_START env > config.json sync.auto.on_start > true
func GetAutoSyncOnStart() bool {
	if v := parseBoolEnv("TEER_SYNC_AUTO_START"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Auto.OnStart != nil {
		return *cfg.Sync.Auto.OnStart
	}
	return true
}

// GetAutoSyncInterval returns the periodic sync interval.
// Priority: TEER_SYNC_INTERVAL env > config.json sync.auto.interval > 5m
func GetAutoSyncInterval() time.Duration {
	return durationSetting("TEER_SYNC_INTERVAL", func(c *Config) string { return c.Sync.Auto.Interval }, defaultInterval)
}

// GetNetworkMode returns how connectivity is detected: auto, online or offline.
// Priority: TEER_NETWORK_MODE env > config.json network.mode > auto
func GetNetworkMode() string {
	return stringSetting("TEER_NETWORK_MODE", func(c *Config) string { return c.Network.Mode }, "auto")
}

// GetNetworkPoll returns the connectivity polling interval.
// Priority: TEER_NETWORK_POLL env > config.json network.poll > 5s
func GetNetworkPoll() time.Duration {
	return durationSetting("TEER_NETWORK_POLL", func(c *Config) string { return c.Network.Poll }, defaultNetworkPoll)
}

// GetAgentChannel returns the agent transport: mailbox or redis.
// Priority: TEER_AGENT_CHANNEL env > config.json agent.channel > mailbox
func GetAgentChannel() string {
	return strings.ToLower(stringSetting("TEER_AGENT_CHANNEL", func(c *Config) string { return c.Agent.Channel }, ChannelMailbox))
}

// GetAgentRedisURL returns the Redis URL for the redis agent channel.
// Priority: TEER_AGENT_REDIS_URL env > config.json agent.redis_url > local default
func GetAgentRedisURL() string {
	return stringSetting("TEER_AGENT_REDIS_URL", func(c *Config) string { return c.Agent.RedisURL }, defaultRedisAddress)
}

// GetAgentAddr returns the listen address of the agent's HTTP endpoint.
// Priority: TEER_AGENT_ADDR env > config.json agent.addr > 127.0.0.1:7788
func GetAgentAddr() string {
	return stringSetting("TEER_AGENT_ADDR", func(c *Config) string { return c.Agent.Addr }, defaultAgentAddr)
}

// GetWebhookURL returns the sync event webhook URL, empty when unset.
// Priority: TEER_WEBHOOK_URL env > config.json webhook.url.
func GetWebhookURL() string {
	return stringSetting("TEER_WEBHOOK_URL", func(c *Config) string {
		if c.Webhook == nil {
			return ""
		}
		return c.Webhook.URL
	}, "")
}

// GetWebhookSecret returns the webhook HMAC secret.
// Priority: TEER_WEBHOOK_SECRET env > config.json webhook.secret.
func GetWebhookSecret() string {
	return stringSetting("TEER_WEBHOOK_SECRET", func(c *Config) string {
		if c.Webhook == nil {
			return ""
		}
		return c.Webhook.Secret
	}, "")
}

func stringSetting(envKey string, fromConfig func(*Config) string, def string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil {
		if v := fromConfig(cfg); v != "" {
			return v
		}
	}
	return def
}

func durationSetting(envKey string, fromConfig func(*Config) string, def time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil {
		if v := fromConfig(cfg); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		}
	}
	return def
}
