package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/l1jgo/realmd/internal/realm"
	"go.uber.org/multierr"
)

// Environment variables naming the config file for each binary.
const (
	LoginConfigEnv = "REALMD_LOGIN_CONFIG"
	WorldConfigEnv = "REALMD_WORLD_CONFIG"
)

// LoginConfig configures the login service.
type LoginConfig struct {
	Server   LoginServerConfig `toml:"server"`
	Registry RegistryConfig    `toml:"registry"`
	Database DatabaseConfig    `toml:"database"`
	Redis    RedisConfig       `toml:"redis"`
	Metrics  MetricsConfig     `toml:"metrics"`
	Logging  LoggingConfig     `toml:"logging"`
	Accounts []AccountSeed     `toml:"accounts"`
}

type LoginServerConfig struct {
	BindAddress      string        `toml:"bind_address"`
	HeartbeatAddress string        `toml:"heartbeat_address"` // UDP
	ReadTimeout      time.Duration `toml:"read_timeout"`
	WriteTimeout     time.Duration `toml:"write_timeout"`
	CheckTimeout     time.Duration `toml:"check_timeout"` // one credential lookup
}

type RegistryConfig struct {
	SweepInterval    time.Duration `toml:"sweep_interval"`
	HeartbeatTimeout time.Duration `toml:"heartbeat_timeout"`
	SeedFile         string        `toml:"seed_file"` // YAML list of worlds known before their first heartbeat
}

// DatabaseConfig selects the account store. An empty DSN keeps accounts in
// memory, seeded from [[accounts]].
type DatabaseConfig struct {
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	Migrate         bool          `toml:"migrate"`
}

type RedisConfig struct {
	Enabled  bool          `toml:"enabled"`
	Addr     string        `toml:"addr"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	Refresh  time.Duration `toml:"refresh"` // periodic full rewrite
}

type MetricsConfig struct {
	Address string `toml:"address"` // empty = disabled
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type AccountSeed struct {
	Name     string `toml:"name"`
	Password string `toml:"password"`
}

// WorldConfig configures one world server.
type WorldConfig struct {
	World     WorldSettings   `toml:"world"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Scripting ScriptingConfig `toml:"scripting"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Logging   LoggingConfig   `toml:"logging"`
}

type WorldSettings struct {
	ID                 uint8            `toml:"id"`
	Name               string           `toml:"name"`
	Host               string           `toml:"host"`           // bind host
	AdvertiseHost      string           `toml:"advertise_host"` // address sent in heartbeats
	Port               int              `toml:"port"`           // client port; monitors use port+1
	State              realm.WorldState `toml:"state"`
	MaxUsers           int              `toml:"max_users"`
	LoginHost          string           `toml:"login_host"`
	LoginHeartbeatPort int              `toml:"login_heartbeat_port"`
	HeartbeatInterval  time.Duration    `toml:"heartbeat_interval"`
	ReadTimeout        time.Duration    `toml:"read_timeout"` // 0 = none
	WriteTimeout       time.Duration    `toml:"write_timeout"`
}

type MonitorConfig struct {
	QueueSize    int           `toml:"queue_size"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

type ScriptingConfig struct {
	Dir string `toml:"dir"` // empty = built-in greeting
}

// LoadLogin reads a login config, applying defaults for missing keys.
func LoadLogin(path string) (*LoginConfig, error) {
	cfg := LoginDefaults()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWorld reads a world config, applying defaults for missing keys.
func LoadWorld(path string) (*WorldConfig, error) {
	cfg := WorldDefaults()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string, into any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), into); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// PathFromEnv returns the value of env, or def when it is unset.
func PathFromEnv(env, def string) string {
	if p := os.Getenv(env); p != "" {
		return p
	}
	return def
}

func LoginDefaults() *LoginConfig {
	return &LoginConfig{
		Server: LoginServerConfig{
			BindAddress:      "0.0.0.0:14002",
			HeartbeatAddress: "0.0.0.0:14004",
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     10 * time.Second,
			CheckTimeout:     5 * time.Second,
		},
		Registry: RegistryConfig{
			SweepInterval:    30 * time.Second,
			HeartbeatTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Migrate:         true,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Refresh: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func WorldDefaults() *WorldConfig {
	return &WorldConfig{
		World: WorldSettings{
			ID:                 1,
			Name:               "World",
			Host:               "0.0.0.0",
			AdvertiseHost:      "127.0.0.1",
			Port:               15001,
			State:              realm.Available,
			MaxUsers:           100,
			LoginHost:          "127.0.0.1",
			LoginHeartbeatPort: 14004,
			HeartbeatInterval:  5 * time.Second,
			WriteTimeout:       10 * time.Second,
		},
		Monitor: MonitorConfig{
			QueueSize:    64,
			WriteTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate reports every problem in the config at once.
func (c *LoginConfig) Validate() error {
	var err error
	if c.Server.BindAddress == "" {
		err = multierr.Append(err, errors.New("server.bind_address is required"))
	}
	if c.Server.HeartbeatAddress == "" {
		err = multierr.Append(err, errors.New("server.heartbeat_address is required"))
	}
	if c.Registry.SweepInterval <= 0 {
		err = multierr.Append(err, errors.New("registry.sweep_interval must be positive"))
	}
	if c.Registry.HeartbeatTimeout <= 0 {
		err = multierr.Append(err, errors.New("registry.heartbeat_timeout must be positive"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		err = multierr.Append(err, errors.New("redis.addr is required when redis is enabled"))
	}
	for i, a := range c.Accounts {
		if a.Name == "" {
			err = multierr.Append(err, fmt.Errorf("accounts[%d].name is required", i))
		}
	}
	return multierr.Append(err, validateLogging(c.Logging))
}

func (c *WorldConfig) Validate() error {
	w := c.World
	var err error
	if w.Name == "" || len(w.Name) > math.MaxUint8 {
		err = multierr.Append(err, fmt.Errorf("world.name must be 1-%d bytes", math.MaxUint8))
	}
	if w.AdvertiseHost == "" || len(w.AdvertiseHost) > math.MaxUint8 {
		err = multierr.Append(err, fmt.Errorf("world.advertise_host must be 1-%d bytes", math.MaxUint8))
	}
	// The monitor listener takes port+1.
	if w.Port < 0 || w.Port >= math.MaxUint16 {
		err = multierr.Append(err, fmt.Errorf("world.port %d out of range", w.Port))
	}
	if !w.State.Valid() {
		err = multierr.Append(err, fmt.Errorf("world.state %d is not a world state", w.State))
	}
	if w.MaxUsers < 0 || w.MaxUsers > math.MaxUint16 {
		err = multierr.Append(err, fmt.Errorf("world.max_users %d out of range", w.MaxUsers))
	}
	if w.LoginHost == "" {
		err = multierr.Append(err, errors.New("world.login_host is required"))
	}
	if w.LoginHeartbeatPort <= 0 || w.LoginHeartbeatPort > math.MaxUint16 {
		err = multierr.Append(err, fmt.Errorf("world.login_heartbeat_port %d out of range", w.LoginHeartbeatPort))
	}
	if w.HeartbeatInterval <= 0 {
		err = multierr.Append(err, errors.New("world.heartbeat_interval must be positive"))
	}
	if c.Monitor.QueueSize <= 0 {
		err = multierr.Append(err, errors.New("monitor.queue_size must be positive"))
	}
	return multierr.Append(err, validateLogging(c.Logging))
}

func validateLogging(l LoggingConfig) error {
	if l.Format != "json" && l.Format != "console" {
		return fmt.Errorf("logging.format %q must be json or console", l.Format)
	}
	return nil
}

// Descriptor is the descriptor this world advertises at startup.
func (w WorldSettings) Descriptor() realm.WorldDescriptor {
	return realm.WorldDescriptor{
		ID:       w.ID,
		Name:     w.Name,
		IP:       w.AdvertiseHost,
		Port:     w.Port,
		State:    w.State,
		MaxUsers: w.MaxUsers,
	}
}
