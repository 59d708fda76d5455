// Package config loads the typed service configuration through viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hamzaKhattat/pbx-call-control/internal/agi"
	"github.com/hamzaKhattat/pbx-call-control/internal/ami"
	"github.com/hamzaKhattat/pbx-call-control/internal/db"
	"github.com/hamzaKhattat/pbx-call-control/internal/ivr"
	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

// EnvPrefix prefixes environment overrides, e.g. CALLCONTROL_AGI_PORT.
const EnvPrefix = "CALLCONTROL"

type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	AGI        AGIConfig        `mapstructure:"agi"`
	Recording  RecordingConfig  `mapstructure:"recording"`
	IVR        IVRConfig        `mapstructure:"ivr"`
	Outbound   OutboundConfig   `mapstructure:"outbound"`
	Dialer     DialerConfig     `mapstructure:"dialer"`
	Asterisk   AsteriskConfig   `mapstructure:"asterisk"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	MaxRetries   int    `mapstructure:"max_retries"`
	Prefix       string `mapstructure:"prefix"`
}

type AGIConfig struct {
	ListenAddress    string        `mapstructure:"listen_address"`
	Port             int           `mapstructure:"port"`
	MaxConnections   int           `mapstructure:"max_connections"`
	AcceptRate       float64       `mapstructure:"accept_rate"`
	AcceptBurst      int           `mapstructure:"accept_burst"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

type RecordingConfig struct {
	Dir    string `mapstructure:"dir"`
	Prefix string `mapstructure:"prefix"`
}

type IVRConfig struct {
	OutboundContext string        `mapstructure:"outbound_context"`
	InternalContext string        `mapstructure:"internal_context"`
	Prompts         PromptsConfig `mapstructure:"prompts"`
}

type PromptsConfig struct {
	Closed  string `mapstructure:"closed"`
	Error   string `mapstructure:"error"`
	Goodbye string `mapstructure:"goodbye"`
}

type OutboundConfig struct {
	RelayAddress string `mapstructure:"relay_address"`
}

type DialerConfig struct {
	EventsChannel string `mapstructure:"events_channel"`
}

type AsteriskConfig struct {
	AMI AMIConfig `mapstructure:"ami"`
}

type AMIConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
}

type MonitoringConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Health struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"health"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   struct {
		Enabled    bool   `mapstructure:"enabled"`
		Path       string `mapstructure:"path"`
		MaxSize    int    `mapstructure:"max_size"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAge     int    `mapstructure:"max_age"`
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"file"`
}

// SetDefaults registers the default of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "asterisk")
	v.SetDefault("database.password", "asterisk")
	v.SetDefault("database.database", "callcontrol")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.retry_attempts", 3)
	v.SetDefault("database.retry_delay", "1s")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.prefix", "callcontrol")

	v.SetDefault("agi.listen_address", "0.0.0.0")
	v.SetDefault("agi.port", 4573)
	v.SetDefault("agi.max_connections", 1000)
	v.SetDefault("agi.accept_rate", 0)
	v.SetDefault("agi.accept_burst", 0)
	v.SetDefault("agi.handshake_timeout", agi.DefaultHandshakeTimeout.String())
	v.SetDefault("agi.command_timeout", agi.DefaultCommandTimeout.String())
	v.SetDefault("agi.dial_timeout", agi.DefaultDialTimeout.String())
	v.SetDefault("agi.shutdown_timeout", "30s")

	v.SetDefault("recording.dir", ivr.DefaultRecordingDir)
	v.SetDefault("recording.prefix", ivr.DefaultRecordingPrefix)

	v.SetDefault("ivr.outbound_context", "outbound-trunks")
	v.SetDefault("ivr.internal_context", "from-internal")

	v.SetDefault("outbound.relay_address", "127.0.0.1:9092")
	v.SetDefault("dialer.events_channel", "dialer:contact-events")

	v.SetDefault("asterisk.ami.port", 5038)
	v.SetDefault("asterisk.ami.reconnect_interval", "5s")
	v.SetDefault("asterisk.ami.ping_interval", "30s")
	v.SetDefault("asterisk.ami.action_timeout", "10s")

	v.SetDefault("monitoring.metrics.enabled", true)
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.health.enabled", true)
	v.SetDefault("monitoring.health.port", 8080)
	v.SetDefault("monitoring.logging.level", "info")
	v.SetDefault("monitoring.logging.format", "json")
	v.SetDefault("monitoring.logging.file.path", "/var/log/callcontrol/callcontrol.log")
	v.SetDefault("monitoring.logging.file.max_size", 100)
	v.SetDefault("monitoring.logging.file.max_backups", 5)
	v.SetDefault("monitoring.logging.file.max_age", 30)
}

// Prepare wires v to the config file and environment. An empty file searches
// callcontrol.yaml in ./configs and /etc/callcontrol.
func Prepare(v *viper.Viper, file string) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("callcontrol")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/callcontrol")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
}

// Load reads the config file, if any, and decodes every key.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, errors.ErrConfiguration, "failed to read config file")
		}
		logger.Warn("No config file found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfiguration, "failed to decode config")
	}
	return &cfg, nil
}

func (c *Config) DB() db.Config {
	d := c.Database
	return db.Config{
		Driver:          d.Driver,
		Host:            d.Host,
		Port:            d.Port,
		Username:        d.Username,
		Password:        d.Password,
		Database:        d.Database,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		RetryAttempts:   d.RetryAttempts,
		RetryDelay:      d.RetryDelay,
	}
}

func (c *Config) Cache() db.CacheConfig {
	r := c.Redis
	return db.CacheConfig{
		Host:         r.Host,
		Port:         r.Port,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		MinIdleConns: r.MinIdleConns,
		MaxRetries:   r.MaxRetries,
	}
}

func (c *Config) Server() agi.Config {
	a := c.AGI
	return agi.Config{
		ListenAddress:    a.ListenAddress,
		Port:             a.Port,
		MaxConnections:   a.MaxConnections,
		AcceptRate:       a.AcceptRate,
		AcceptBurst:      a.AcceptBurst,
		HandshakeTimeout: a.HandshakeTimeout,
		CommandTimeout:   a.CommandTimeout,
		DialTimeout:      a.DialTimeout,
		ShutdownTimeout:  a.ShutdownTimeout,
	}
}

func (c *Config) AMI() ami.Config {
	a := c.Asterisk.AMI
	return ami.Config{
		Host:              a.Host,
		Port:              a.Port,
		Username:          a.Username,
		Password:          a.Password,
		ReconnectInterval: a.ReconnectInterval,
		PingInterval:      a.PingInterval,
		ActionTimeout:     a.ActionTimeout,
	}
}

func (c *Config) Prompts() ivr.Prompts {
	p := c.IVR.Prompts
	return ivr.Prompts{Closed: p.Closed, Error: p.Error, Goodbye: p.Goodbye}
}

func (c *Config) Logger() logger.Config {
	l := c.Monitoring.Logging
	return logger.Config{
		Level:  l.Level,
		Format: l.Format,
		File: logger.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSize:    l.File.MaxSize,
			MaxBackups: l.File.MaxBackups,
			MaxAge:     l.File.MaxAge,
			Compress:   l.File.Compress,
		},
	}
}
