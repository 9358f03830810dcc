package core

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every runtime-wide setting, resolved in three layers exactly
// as the teacher's core.Config does: defaults (lowest priority) → environment
// variables → functional Option overrides (highest priority).
type Config struct {
	// TickInterval is the wall-clock period between simulation ticks when
	// driving the loop outside of the simulation's own callback (used by
	// tests and standalone demos; in production the simulation drives ticks).
	TickInterval time.Duration `json:"tick_interval" env:"RUNTIME_TICK_INTERVAL" default:"50ms"`

	// RCON connects to the simulation's command channel.
	RCON RCONConfig `json:"rcon"`

	// Notify configures the UDP completion-notification side-channel.
	Notify NotifyConfig `json:"notify"`

	// Queue configures the action queue's persistence backend.
	Queue QueueConfig `json:"queue"`

	// SnapshotDB configures the read-only analytical store handle.
	SnapshotDB SnapshotDBConfig `json:"snapshot_db"`

	// Reach holds the default reach distances new agents are seeded with.
	Reach ReachConfig `json:"reach"`

	// Logging configures the structured logger.
	Logging LoggingConfig `json:"logging"`

	logger Logger `json:"-"`
}

// RCONConfig targets the simulation's command channel.
type RCONConfig struct {
	Address       string        `json:"address" env:"RUNTIME_RCON_ADDRESS" default:"127.0.0.1:27015"`
	Password      string        `json:"-" env:"RUNTIME_RCON_PASSWORD"`
	DialTimeout   time.Duration `json:"dial_timeout" env:"RUNTIME_RCON_DIAL_TIMEOUT" default:"5s"`
	CommandTimeout time.Duration `json:"command_timeout" env:"RUNTIME_RCON_COMMAND_TIMEOUT" default:"2s"`
	MaxReconnect  int           `json:"max_reconnect" env:"RUNTIME_RCON_MAX_RECONNECT" default:"0"`
}

// NotifyConfig targets the UDP completion-notification channel.
type NotifyConfig struct {
	Address    string `json:"address" env:"RUNTIME_NOTIFY_ADDRESS" default:"127.0.0.1:27016"`
	BufferSize int    `json:"buffer_size" env:"RUNTIME_NOTIFY_BUFFER_SIZE" default:"1024"`
}

// QueueConfig selects and tunes the action queue's persistence.
type QueueConfig struct {
	RedisURL      string `json:"redis_url" env:"RUNTIME_QUEUE_REDIS_URL"`
	SnapshotKey   string `json:"snapshot_key" env:"RUNTIME_QUEUE_SNAPSHOT_KEY" default:"agentrt:queue:snapshot"`
	MaxQueueSize  int    `json:"max_queue_size" env:"RUNTIME_QUEUE_MAX_SIZE" default:"10000"`
	ImmediateMode bool   `json:"immediate_mode" env:"RUNTIME_QUEUE_IMMEDIATE_MODE" default:"false"`
}

// SnapshotDBConfig targets the read-only analytical store (§6, out of
// scope collaborator — only a query handle is needed).
type SnapshotDBConfig struct {
	DSN          string `json:"dsn" env:"RUNTIME_SNAPSHOT_DB_DSN"`
	MaxConns     int32  `json:"max_conns" env:"RUNTIME_SNAPSHOT_DB_MAX_CONNS" default:"4"`
}

// ReachConfig seeds default reach distances for new agents (tiles).
type ReachConfig struct {
	ReachDistance         float64 `json:"reach_distance" env:"RUNTIME_REACH_DISTANCE" default:"3.0"`
	ResourceReachDistance float64 `json:"resource_reach_distance" env:"RUNTIME_RESOURCE_REACH_DISTANCE" default:"2.7"`
	DirtyMoveThreshold    float64 `json:"dirty_move_threshold" env:"RUNTIME_REACH_DIRTY_THRESHOLD" default:"0.5"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `json:"level" env:"RUNTIME_LOG_LEVEL" default:"info"`
}

// Option mutates a Config during construction (highest-priority layer).
type Option func(*Config) error

// DefaultConfig returns a Config populated entirely from struct defaults.
func DefaultConfig() *Config {
	return &Config{
		TickInterval: 50 * time.Millisecond,
		RCON: RCONConfig{
			Address:        "127.0.0.1:27015",
			DialTimeout:    5 * time.Second,
			CommandTimeout: 2 * time.Second,
		},
		Notify: NotifyConfig{
			Address:    "127.0.0.1:27016",
			BufferSize: 1024,
		},
		Queue: QueueConfig{
			SnapshotKey:  "agentrt:queue:snapshot",
			MaxQueueSize: 10000,
		},
		SnapshotDB: SnapshotDBConfig{
			MaxConns: 4,
		},
		Reach: ReachConfig{
			ReachDistance:         3.0,
			ResourceReachDistance: 2.7,
			DirtyMoveThreshold:    0.5,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadFromEnv overlays environment variables onto the config, following the
// teacher's one-var-at-a-time pattern so partial overrides are observable.
// It reads only the variables below. RUNTIME_TICK_INTERVAL,
// RUNTIME_RCON_MAX_RECONNECT, RUNTIME_QUEUE_SNAPSHOT_KEY,
// RUNTIME_SNAPSHOT_DB_MAX_CONNS and RUNTIME_REACH_DIRTY_THRESHOLD appear in
// struct tags but are not read, so those fields keep their default or
// option value.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("RUNTIME_RCON_ADDRESS"); v != "" {
		c.RCON.Address = v
	}
	if v := os.Getenv("RUNTIME_RCON_PASSWORD"); v != "" {
		c.RCON.Password = v
	}
	if v := os.Getenv("RUNTIME_RCON_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RCON.DialTimeout = d
		} else {
			return fmt.Errorf("invalid RUNTIME_RCON_DIAL_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("RUNTIME_RCON_COMMAND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RCON.CommandTimeout = d
		} else {
			return fmt.Errorf("invalid RUNTIME_RCON_COMMAND_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("RUNTIME_NOTIFY_ADDRESS"); v != "" {
		c.Notify.Address = v
	}
	if v := os.Getenv("RUNTIME_NOTIFY_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Notify.BufferSize = n
		}
	}
	if v := os.Getenv("RUNTIME_QUEUE_REDIS_URL"); v != "" {
		c.Queue.RedisURL = v
	}
	if v := os.Getenv("RUNTIME_QUEUE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.MaxQueueSize = n
		}
	}
	if v := os.Getenv("RUNTIME_QUEUE_IMMEDIATE_MODE"); v != "" {
		c.Queue.ImmediateMode = v == "true" || v == "1"
	}
	if v := os.Getenv("RUNTIME_SNAPSHOT_DB_DSN"); v != "" {
		c.SnapshotDB.DSN = v
	}
	if v := os.Getenv("RUNTIME_REACH_DISTANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Reach.ReachDistance = f
		}
	}
	if v := os.Getenv("RUNTIME_RESOURCE_REACH_DISTANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Reach.ResourceReachDistance = f
		}
	}
	if v := os.Getenv("RUNTIME_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// WithRCONAddress overrides the RCON dial target.
func WithRCONAddress(addr string) Option {
	return func(c *Config) error {
		c.RCON.Address = addr
		return nil
	}
}

// WithNotifyAddress overrides the UDP completion-notification target.
func WithNotifyAddress(addr string) Option {
	return func(c *Config) error {
		c.Notify.Address = addr
		return nil
	}
}

// WithQueueRedisURL points the action queue's persistence at Redis.
func WithQueueRedisURL(url string) Option {
	return func(c *Config) error {
		c.Queue.RedisURL = url
		return nil
	}
}

// WithMaxQueueSize caps the action queue (SPEC_FULL.md §C.3).
func WithMaxQueueSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("%w: max_queue_size must be positive", ErrInvalidParameter)
		}
		c.Queue.MaxQueueSize = n
		return nil
	}
}

// WithLogger attaches a logger used during config resolution itself.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// NewConfig builds a Config applying defaults, then env vars, then options.
func NewConfig(opts ...Option) (*Config, error) {
	c := DefaultConfig()
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.logger != nil {
		c.logger.Info("configuration resolved", map[string]interface{}{
			"rcon_address":   c.RCON.Address,
			"notify_address": c.Notify.Address,
			"queue_backend":  map[bool]string{true: "redis", false: "memory"}[c.Queue.RedisURL != ""],
		})
	}
	return c, nil
}
