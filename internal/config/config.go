package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Redis     RedisConfig     `mapstructure:"redis"`
	IDGen     IDGenConfig     `mapstructure:"idgen"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds the backend endpoints
type ServerConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	WSURL      string `mapstructure:"ws_url"`
	PlatformId int    `mapstructure:"platform_id"`
	SDKType    string `mapstructure:"sdk_type"`

	// REST client timeouts
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig holds login credentials. Token takes precedence over password login.
type AuthConfig struct {
	UserId   string `mapstructure:"user_id"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`
}

// LifecycleConfig holds foreground/background policy
type LifecycleConfig struct {
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	ReconnectMin time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
}

// ReconcileConfig holds speculative entry matching policy
type ReconcileConfig struct {
	MatchWindow time.Duration `mapstructure:"match_window"`
	// CatchUpLimit is how many recent messages are pulled per conversation
	// after a reconnect when speculative entries are still pending
	CatchUpLimit int `mapstructure:"catch_up_limit"`
	// HistoryPageSize is the default page size of LoadMessages
	HistoryPageSize int `mapstructure:"history_page_size"`
}

// CacheConfig holds conversation list settings
type CacheConfig struct {
	PageSize       int           `mapstructure:"page_size"`
	SearchDebounce time.Duration `mapstructure:"search_debounce"`
	SearchLimit    int           `mapstructure:"search_limit"`
}

// PlaybackConfig holds audio playback settings
type PlaybackConfig struct {
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// WebSocketConfig holds channel transport settings
type WebSocketConfig struct {
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	WriteChannelSize int           `mapstructure:"write_channel_size"`
}

// RedisConfig holds the optional snapshot store. Empty host disables it.
type RedisConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether a redis snapshot store is configured
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// IDGenConfig selects the temp id generator
type IDGenConfig struct {
	Kind      string `mapstructure:"kind"`
	MachineId uint16 `mapstructure:"machine_id"`
}

// MetricsConfig holds the prometheus listener. Empty addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://localhost:8080"
	}
	if cfg.Server.WSURL == "" {
		cfg.Server.WSURL = "ws://localhost:8080/ws"
	}
	if cfg.Server.SDKType == "" {
		cfg.Server.SDKType = "go"
	}
	if cfg.Server.DialTimeout <= 0 {
		cfg.Server.DialTimeout = 10 * time.Second
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Lifecycle.GracePeriod <= 0 {
		cfg.Lifecycle.GracePeriod = 10 * time.Second
	}
	if cfg.Lifecycle.StaleAfter <= 0 {
		cfg.Lifecycle.StaleAfter = 30 * time.Second
	}
	if cfg.Lifecycle.ReconnectMin <= 0 {
		cfg.Lifecycle.ReconnectMin = time.Second
	}
	if cfg.Lifecycle.ReconnectMax <= 0 {
		cfg.Lifecycle.ReconnectMax = 30 * time.Second
	}
	if cfg.Reconcile.MatchWindow <= 0 {
		cfg.Reconcile.MatchWindow = 30 * time.Second
	}
	if cfg.Reconcile.CatchUpLimit <= 0 {
		cfg.Reconcile.CatchUpLimit = 50
	}
	if cfg.Reconcile.HistoryPageSize <= 0 {
		cfg.Reconcile.HistoryPageSize = 20
	}
	if cfg.Cache.PageSize <= 0 {
		cfg.Cache.PageSize = 20
	}
	if cfg.Cache.SearchDebounce <= 0 {
		cfg.Cache.SearchDebounce = 300 * time.Millisecond
	}
	if cfg.Cache.SearchLimit <= 0 {
		cfg.Cache.SearchLimit = 50
	}
	if cfg.Playback.StopTimeout <= 0 {
		cfg.Playback.StopTimeout = 2 * time.Second
	}
	if cfg.WebSocket.DialTimeout <= 0 {
		cfg.WebSocket.DialTimeout = 10 * time.Second
	}
	if cfg.WebSocket.RequestTimeout <= 0 {
		cfg.WebSocket.RequestTimeout = 15 * time.Second
	}
	if cfg.WebSocket.MaxMessageSize <= 0 {
		cfg.WebSocket.MaxMessageSize = 51200
	}
	if cfg.WebSocket.WriteWait <= 0 {
		cfg.WebSocket.WriteWait = 10 * time.Second
	}
	if cfg.WebSocket.PongWait <= 0 {
		cfg.WebSocket.PongWait = 30 * time.Second
	}
	if cfg.WebSocket.PingPeriod <= 0 {
		cfg.WebSocket.PingPeriod = 27 * time.Second
	}
	if cfg.WebSocket.WriteChannelSize <= 0 {
		cfg.WebSocket.WriteChannelSize = 256
	}
	if cfg.Redis.Port <= 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "convsync:"
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 7 * 24 * time.Hour
	}
	if cfg.IDGen.Kind == "" {
		cfg.IDGen.Kind = "uuid"
	}
	if cfg.IDGen.MachineId == 0 {
		cfg.IDGen.MachineId = 1
	}
}
