package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// PathEnv names the environment variable holding the config file path.
const PathEnv = "DUTYLOG_CONFIG_PATH"

// Config defines service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	DB         DBConfig         `yaml:"db" toml:"db"`
	Log        LogConfig        `yaml:"log" toml:"log"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Discord    DiscordConfig    `yaml:"discord" toml:"discord"`
	Protocols  ProtocolsConfig  `yaml:"protocols" toml:"protocols"`
	Escalation EscalationConfig `yaml:"escalation" toml:"escalation"`
	MCP        MCPConfig        `yaml:"mcp" toml:"mcp"`
}

type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

type DBConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Path   string `yaml:"path" toml:"path"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret" toml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl" toml:"token_ttl"`
}

type DiscordConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	Token         string        `yaml:"token" toml:"token"`
	ChannelID     string        `yaml:"channel_id" toml:"channel_id"`
	ProducerID    string        `yaml:"producer_id" toml:"producer_id"`
	Interval      time.Duration `yaml:"interval" toml:"interval"`
	CycleTimeout  time.Duration `yaml:"cycle_timeout" toml:"cycle_timeout"`
	HTTPTimeout   time.Duration `yaml:"http_timeout" toml:"http_timeout"`
	FetchLimit    int           `yaml:"fetch_limit" toml:"fetch_limit"`
	DedupCapacity int           `yaml:"dedup_capacity" toml:"dedup_capacity"`
}

type ProtocolsConfig struct {
	Vehicle  string `yaml:"vehicle" toml:"vehicle"`
	Timezone string `yaml:"timezone" toml:"timezone"`
}

type EscalationConfig struct {
	Enabled   bool          `yaml:"enabled" toml:"enabled"`
	Interval  time.Duration `yaml:"interval" toml:"interval"`
	Threshold time.Duration `yaml:"threshold" toml:"threshold"`
	AutoWarn  bool          `yaml:"auto_warn" toml:"auto_warn"`
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3001,
		},
		DB: DBConfig{
			Driver: "sqlite",
			DSN:    "dutylog.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: AuthConfig{
			TokenTTL: 7 * 24 * time.Hour,
		},
		Discord: DiscordConfig{
			Interval:      time.Minute,
			CycleTimeout:  30 * time.Second,
			HTTPTimeout:   15 * time.Second,
			FetchLimit:    10,
			DedupCapacity: 1000,
		},
		Protocols: ProtocolsConfig{
			Vehicle:  "Yamara Tenere",
			Timezone: "America/Sao_Paulo",
		},
		Escalation: EscalationConfig{
			Interval:  15 * time.Minute,
			Threshold: 12 * time.Hour,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration from defaults, the file named by DUTYLOG_CONFIG_PATH
// and DUTYLOG_* environment variables, in that order.
func Load() (Config, error) {
	return LoadFile(os.Getenv(PathEnv))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Location resolves the configured protocol timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Protocols.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Protocols.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid protocols.timezone: %w", err)
	}
	return loc, nil
}

// Validate checks settings that cannot be defaulted.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Discord.Enabled {
		if c.Discord.Token == "" {
			return fmt.Errorf("discord.token is required when discord is enabled")
		}
		if c.Discord.ChannelID == "" || c.Discord.ProducerID == "" {
			return fmt.Errorf("discord.channel_id and discord.producer_id are required when discord is enabled")
		}
	}
	if c.Discord.FetchLimit < 0 || c.Discord.DedupCapacity < 0 {
		return fmt.Errorf("discord.fetch_limit and discord.dedup_capacity must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("DUTYLOG_SERVER_HOST", &cfg.Server.Host)
	str("DUTYLOG_DB_DRIVER", &cfg.DB.Driver)
	str("DUTYLOG_DB_DSN", &cfg.DB.DSN)
	str("DUTYLOG_LOG_LEVEL", &cfg.Log.Level)
	str("DUTYLOG_LOG_FORMAT", &cfg.Log.Format)
	str("DUTYLOG_LOG_PATH", &cfg.Log.Path)
	str("DUTYLOG_AUTH_SECRET", &cfg.Auth.Secret)
	str("DUTYLOG_DISCORD_TOKEN", &cfg.Discord.Token)
	str("DUTYLOG_DISCORD_CHANNEL_ID", &cfg.Discord.ChannelID)
	str("DUTYLOG_DISCORD_PRODUCER_ID", &cfg.Discord.ProducerID)
	str("DUTYLOG_PROTOCOLS_VEHICLE", &cfg.Protocols.Vehicle)
	str("DUTYLOG_PROTOCOLS_TIMEZONE", &cfg.Protocols.Timezone)

	for _, apply := range []func() error{
		func() error { return num("DUTYLOG_SERVER_PORT", &cfg.Server.Port) },
		func() error { return num("DUTYLOG_DISCORD_FETCH_LIMIT", &cfg.Discord.FetchLimit) },
		func() error { return num("DUTYLOG_DISCORD_DEDUP_CAPACITY", &cfg.Discord.DedupCapacity) },
		func() error { return dur("DUTYLOG_AUTH_TOKEN_TTL", &cfg.Auth.TokenTTL) },
		func() error { return dur("DUTYLOG_DISCORD_INTERVAL", &cfg.Discord.Interval) },
		func() error { return dur("DUTYLOG_DISCORD_CYCLE_TIMEOUT", &cfg.Discord.CycleTimeout) },
		func() error { return dur("DUTYLOG_DISCORD_HTTP_TIMEOUT", &cfg.Discord.HTTPTimeout) },
		func() error { return dur("DUTYLOG_ESCALATION_INTERVAL", &cfg.Escalation.Interval) },
		func() error { return dur("DUTYLOG_ESCALATION_THRESHOLD", &cfg.Escalation.Threshold) },
		func() error { return flag("DUTYLOG_DISCORD_ENABLED", &cfg.Discord.Enabled) },
		func() error { return flag("DUTYLOG_ESCALATION_ENABLED", &cfg.Escalation.Enabled) },
		func() error { return flag("DUTYLOG_ESCALATION_AUTO_WARN", &cfg.Escalation.AutoWarn) },
		func() error { return flag("DUTYLOG_MCP_ENABLED", &cfg.MCP.Enabled) },
	} {
		if err := apply(); err != nil {
			return err
		}
	}
	return nil
}
