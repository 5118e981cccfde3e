package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/planlines/server/internal/tile"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Network   NetworkConfig   `toml:"network"`
	Map       tile.Layout     `toml:"map"`
	Plans     PlansConfig     `toml:"plans"`
	Save      SaveConfig      `toml:"save"`
	Scripting ScriptingConfig `toml:"scripting"`
	Logging   LoggingConfig   `toml:"logging"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

type ServerConfig struct {
	Name string `toml:"name"`
	ID   int    `toml:"id"`
	// AdminPasswordHash is a bcrypt hash. Sessions presenting the matching
	// password act with deity permission. Empty disables admin login.
	AdminPasswordHash string `toml:"admin_password_hash"`
	StartTime         int64  // set at boot, not from config
}

type DatabaseConfig struct {
	// DSN selects the save store: postgres://... or sqlite://path.
	// Empty keeps saves on disk only.
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

// Driver reports which store the DSN selects: "postgres", "sqlite" or "".
func (d DatabaseConfig) Driver() string {
	switch {
	case strings.HasPrefix(d.DSN, "postgres://"), strings.HasPrefix(d.DSN, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(d.DSN, "sqlite://"):
		return "sqlite"
	default:
		return ""
	}
}

// SQLitePath is the file path of a sqlite:// DSN.
func (d DatabaseConfig) SQLitePath() string {
	return strings.TrimPrefix(d.DSN, "sqlite://")
}

type NetworkConfig struct {
	BindAddress       string        `toml:"bind_address"`
	TickRate          time.Duration `toml:"tick_rate"`
	InQueueSize       int           `toml:"in_queue_size"`
	OutQueueSize      int           `toml:"out_queue_size"`
	MaxPacketsPerTick int           `toml:"max_packets_per_tick"`
	WriteTimeout      time.Duration `toml:"write_timeout"`
	ReadTimeout       time.Duration `toml:"read_timeout"`
	// DigestEvery is how many ticks pass between digest broadcasts.
	DigestEvery int `toml:"digest_every"`
}

type PlansConfig struct {
	MaxPlans    int `toml:"max_plans"`
	TicksPerDay int `toml:"ticks_per_day"`
}

type SaveConfig struct {
	Path        string `toml:"path"`
	Compression string `toml:"compression"` // "none", "lz4" or "zstd"
	// AutosaveTicks is the autosave interval in ticks; 0 disables it.
	AutosaveTicks int `toml:"autosave_ticks"`
	LoadOnStart   bool `toml:"load_on_start"`
}

type ScriptingConfig struct {
	// Dir holds the Lua command policy. Empty uses the built-in permission
	// check only.
	Dir string `toml:"dir"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type RateLimitConfig struct {
	Enabled           bool `toml:"enabled"`
	HelloPerMinute    int  `toml:"hello_per_minute"`
	PacketsPerSecond  int  `toml:"packets_per_second"`
	CommandsPerSecond int  `toml:"commands_per_second"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

// Default returns the built-in configuration, used when no file is given.
func Default() *Config {
	cfg := defaults()
	cfg.Server.StartTime = time.Now().Unix()
	return cfg
}

func (c *Config) validate() error {
	if err := c.Map.Validate(); err != nil {
		return fmt.Errorf("[map]: %w", err)
	}
	if c.Plans.MaxPlans <= 0 || c.Plans.MaxPlans > 64000 {
		return fmt.Errorf("[plans] max_plans %d out of range 1..64000", c.Plans.MaxPlans)
	}
	if c.Plans.TicksPerDay <= 0 {
		return fmt.Errorf("[plans] ticks_per_day must be positive")
	}
	switch c.Save.Compression {
	case "none", "lz4", "zstd":
	default:
		return fmt.Errorf("[save] unknown compression %q", c.Save.Compression)
	}
	if c.Database.DSN != "" && c.Database.Driver() == "" {
		return fmt.Errorf("[database] unsupported dsn scheme")
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "planlines",
			ID:   1,
		},
		Database: DatabaseConfig{
			DSN:             "sqlite://planlines.db",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Network: NetworkConfig{
			BindAddress:       "0.0.0.0:3979",
			TickRate:          30 * time.Millisecond,
			InQueueSize:       128,
			OutQueueSize:      256,
			MaxPacketsPerTick: 32,
			WriteTimeout:      10 * time.Second,
			ReadTimeout:       60 * time.Second,
			DigestEvery:       74,
		},
		Map: tile.DefaultLayout,
		Plans: PlansConfig{
			MaxPlans:    64000,
			TicksPerDay: 74,
		},
		Save: SaveConfig{
			Path:          "planlines.sav",
			Compression:   "lz4",
			AutosaveTicks: 74 * 30,
			LoadOnStart:   true,
		},
		Scripting: ScriptingConfig{
			Dir: "scripts",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			HelloPerMinute:    10,
			PacketsPerSecond:  60,
			CommandsPerSecond: 20,
		},
	}
}
