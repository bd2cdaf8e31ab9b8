package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/teer/internal/features"
	"github.com/marcus/teer/internal/output"
	"github.com/marcus/teer/internal/syncconfig"
	"github.com/spf13/cobra"
)

// configKey describes one settable config.json value.
type configKey struct {
	name string
	def  string
	get  func(*syncconfig.Config) string
	set  func(*syncconfig.Config, string) error
}

// configKeys lists the supported config keys for set/get.
var configKeys = []configKey{
	{
		name: "server.url",
		def:  "http://localhost:5000",
		get:  func(c *syncconfig.Config) string { return c.Server.URL },
		set:  func(c *syncconfig.Config, v string) error { c.Server.URL = v; return nil },
	},
	{
		name: "server.timeout",
		def:  "15s",
		get:  func(c *syncconfig.Config) string { return c.Server.Timeout },
		set: func(c *syncconfig.Config, v string) error {
			return setDuration(&c.Server.Timeout, v)
		},
	},
	{
		name: "sync.max_attempts",
		def:  "5",
		get: func(c *syncconfig.Config) string {
			if c.Sync.MaxAttempts == nil {
				return ""
			}
			return strconv.Itoa(*c.Sync.MaxAttempts)
		},
		set: func(c *syncconfig.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid int value %q: %v", v, err)
			}
			c.Sync.MaxAttempts = intPtr(n)
			return nil
		},
	},
	{
		name: "sync.auto.enabled",
		def:  "true",
		get:  func(c *syncconfig.Config) string { return formatBoolPtr(c.Sync.Auto.Enabled) },
		set: func(c *syncconfig.Config, v string) error {
			return setBool(&c.Sync.Auto.Enabled, v)
		},
	},
	{
		name: "sync.auto.on_start",
		def:  "true",
		get:  func(c *syncconfig.Config) string { return formatBoolPtr(c.Sync.Auto.OnStart) },
		set: func(c *syncconfig.Config, v string) error {
			return setBool(&c.Sync.Auto.OnStart, v)
		},
	},
	{
		name: "sync.auto.interval",
		def:  "5m",
		get:  func(c *syncconfig.Config) string { return c.Sync.Auto.Interval },
		set: func(c *syncconfig.Config, v string) error {
			return setDuration(&c.Sync.Auto.Interval, v)
		},
	},
	{
		name: "network.mode",
		def:  "auto",
		get:  func(c *syncconfig.Config) string { return c.Network.Mode },
		set: func(c *syncconfig.Config, v string) error {
			switch v {
			case "auto", "online", "offline":
				c.Network.Mode = v
				return nil
			}
			return fmt.Errorf("invalid network mode %q (use auto/online/offline)", v)
		},
	},
	{
		name: "network.poll",
		def:  "5s",
		get:  func(c *syncconfig.Config) string { return c.Network.Poll },
		set: func(c *syncconfig.Config, v string) error {
			return setDuration(&c.Network.Poll, v)
		},
	},
	{
		name: "agent.channel",
		def:  syncconfig.ChannelMailbox,
		get:  func(c *syncconfig.Config) string { return c.Agent.Channel },
		set: func(c *syncconfig.Config, v string) error {
			switch v {
			case syncconfig.ChannelMailbox, syncconfig.ChannelRedis:
				c.Agent.Channel = v
				return nil
			}
			return fmt.Errorf("invalid agent channel %q (use mailbox/redis)", v)
		},
	},
	{
		name: "agent.redis_url",
		def:  "redis://localhost:6379/0",
		get:  func(c *syncconfig.Config) string { return c.Agent.RedisURL },
		set:  func(c *syncconfig.Config, v string) error { c.Agent.RedisURL = v; return nil },
	},
	{
		name: "agent.addr",
		def:  "127.0.0.1:7788",
		get:  func(c *syncconfig.Config) string { return c.Agent.Addr },
		set:  func(c *syncconfig.Config, v string) error { c.Agent.Addr = v; return nil },
	},
	{
		name: "webhook.url",
		get: func(c *syncconfig.Config) string {
			if c.Webhook == nil {
				return ""
			}
			return c.Webhook.URL
		},
		set: func(c *syncconfig.Config, v string) error {
			if c.Webhook == nil {
				c.Webhook = &syncconfig.WebhookConfig{}
			}
			c.Webhook.URL = v
			return nil
		},
	},
	{
		name: "webhook.secret",
		get: func(c *syncconfig.Config) string {
			if c.Webhook == nil {
				return ""
			}
			return c.Webhook.Secret
		},
		set: func(c *syncconfig.Config, v string) error {
			if c.Webhook == nil {
				c.Webhook = &syncconfig.WebhookConfig{}
			}
			c.Webhook.Secret = v
			return nil
		},
	},
}

const featureKeyPrefix = "features."

// lookupConfigKey resolves a key, including features.<name> flag keys.
func lookupConfigKey(name string) (configKey, bool) {
	for _, k := range configKeys {
		if k.name == name {
			return k, true
		}
	}
	if flag, ok := strings.CutPrefix(name, featureKeyPrefix); ok && features.IsKnownFeature(flag) {
		return configKey{
			name: name,
			get: func(c *syncconfig.Config) string {
				v, ok := c.FeatureFlags[flag]
				if !ok {
					return ""
				}
				return strconv.FormatBool(v)
			},
			set: func(c *syncconfig.Config, v string) error {
				b, err := parseBool(v)
				if err != nil {
					return err
				}
				if c.FeatureFlags == nil {
					c.FeatureFlags = make(map[string]bool)
				}
				c.FeatureFlags[flag] = b
				return nil
			},
		}, true
	}
	return configKey{}, false
}

func validConfigKeyNames() string {
	names := make([]string, 0, len(configKeys)+1)
	for _, k := range configKeys {
		names = append(names, k.name)
	}
	names = append(names, featureKeyPrefix+"<name>")
	return strings.Join(names, ", ")
}

func parseBool(val string) (bool, error) {
	switch strings.ToLower(val) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q (use true/false/1/0)", val)
	}
}

func setBool(dst **bool, val string) error {
	b, err := parseBool(val)
	if err != nil {
		return err
	}
	*dst = &b
	return nil
}

func setDuration(dst *string, val string) error {
	if _, err := time.ParseDuration(val); err != nil {
		return fmt.Errorf("invalid duration %q: %v", val, err)
	}
	*dst = val
	return nil
}

func formatBoolPtr(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func intPtr(n int) *int { return &n }

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage teer configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, val := args[0], args[1]

		key, ok := lookupConfigKey(name)
		if !ok {
			output.Error("unknown config key: %s", name)
			fmt.Println("Valid keys:", validConfigKeyNames())
			return fmt.Errorf("unknown config key: %s", name)
		}

		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}
		if err := key.set(cfg, val); err != nil {
			output.Error("%v", err)
			return err
		}
		if err := syncconfig.SaveConfig(cfg); err != nil {
			output.Error("save config: %v", err)
			return err
		}

		output.Success("set %s = %s", name, val)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		key, ok := lookupConfigKey(name)
		if !ok {
			output.Error("unknown config key: %s", name)
			fmt.Println("Valid keys:", validConfigKeyNames())
			return fmt.Errorf("unknown config key: %s", name)
		}

		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}

		val := key.get(cfg)
		if val == "" && key.def != "" {
			val = key.def + " (default)"
		}
		fmt.Println(val)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all config values",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}

		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			output.Error("marshal config: %v", err)
			return err
		}

		fmt.Println(string(data))
		return nil
	},
}

var configFeaturesCmd = &cobra.Command{
	Use:   "features",
	Short: "Show feature flags and where their value comes from",
	RunE: func(cmd *cobra.Command, args []string) error {
		type row struct {
			Name        string `json:"name"`
			Enabled     bool   `json:"enabled"`
			Source      string `json:"source"`
			Description string `json:"description"`
		}
		var rows []row
		for _, f := range features.ListAll() {
			enabled, source := features.Resolve(f.Name)
			rows = append(rows, row{Name: f.Name, Enabled: enabled, Source: source, Description: f.Description})
		}

		if jsonOut {
			return output.JSON(rows)
		}
		for _, r := range rows {
			state := "off"
			if r.Enabled {
				state = "on"
			}
			fmt.Printf("%-20s %-3s (%s)  %s\n", r.Name, state, r.Source, r.Description)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configFeaturesCmd)
	rootCmd.AddCommand(configCmd)
}
