// Package config provides Viper-based configuration loading for the
// game server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NetworkConfig holds the transport layer settings. TCP and UDP share
// the same port number.
type NetworkConfig struct {
	// Host is the bind address for both transports.
	Host string `mapstructure:"host"`
	// Port is the well-known port for both the TCP listener and the UDP socket.
	Port int `mapstructure:"port"`
	// EnableUDP offers the UDP transport when true; TCP is always offered.
	EnableUDP bool `mapstructure:"enable_udp"`
	// TCPReadTimeout bounds how long the TCP reader may spend on one
	// connection per pass.
	TCPReadTimeout time.Duration `mapstructure:"tcp_read_timeout"`
	// WriteTimeout is the per-write deadline for TCP connections.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// AcceptTimeout bounds each accept wait so shutdown is observed promptly.
	AcceptTimeout time.Duration `mapstructure:"accept_timeout"`
	// UDPReadTimeout bounds each UDP receive wait.
	UDPReadTimeout time.Duration `mapstructure:"udp_read_timeout"`
	// UDPSendBuffer is the socket send buffer size in bytes, sized to
	// absorb bursts of a few dozen full packets.
	UDPSendBuffer int `mapstructure:"udp_send_buffer"`
	// MaxMessageSize caps a single message body on either transport.
	MaxMessageSize int `mapstructure:"max_message_size"`
	// SendQueueSize is the per-transport outbound queue depth.
	SendQueueSize int `mapstructure:"send_queue_size"`
	// PollInterval is how long the TCP reader sleeps when every
	// connection is idle.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (n NetworkConfig) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// GameConfig holds game loop settings.
type GameConfig struct {
	// TickInterval is the period of the game loop tick.
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// BanlistConfig holds banned-address filter settings.
type BanlistConfig struct {
	// Path is the YAML ban rule file; empty means no addresses are banned.
	Path string `mapstructure:"path"`
	// Watch reloads the rule file automatically when it changes on disk.
	Watch bool `mapstructure:"watch"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	// Addr is the "host:port" for the /metrics endpoint; empty disables it.
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Network NetworkConfig `mapstructure:"network"`
	Game    GameConfig    `mapstructure:"game"`
	Banlist BanlistConfig `mapstructure:"banlist"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateNetwork(c.Network); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGame(c.Game); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateNetwork(n NetworkConfig) error {
	var errs []string
	if n.Host == "" {
		errs = append(errs, "network.host must not be empty")
	}
	if n.Port < 1 || n.Port > 65535 {
		errs = append(errs, fmt.Sprintf("network.port must be 1-65535, got %d", n.Port))
	}
	if n.TCPReadTimeout <= 0 {
		errs = append(errs, "network.tcp_read_timeout must be positive")
	}
	if n.WriteTimeout <= 0 {
		errs = append(errs, "network.write_timeout must be positive")
	}
	if n.AcceptTimeout <= 0 {
		errs = append(errs, "network.accept_timeout must be positive")
	}
	if n.UDPReadTimeout <= 0 {
		errs = append(errs, "network.udp_read_timeout must be positive")
	}
	if n.UDPSendBuffer < 1500 {
		errs = append(errs, fmt.Sprintf("network.udp_send_buffer must be >= 1500, got %d", n.UDPSendBuffer))
	}
	if n.MaxMessageSize < 64 {
		errs = append(errs, fmt.Sprintf("network.max_message_size must be >= 64, got %d", n.MaxMessageSize))
	}
	if n.SendQueueSize < 1 {
		errs = append(errs, fmt.Sprintf("network.send_queue_size must be >= 1, got %d", n.SendQueueSize))
	}
	if n.PollInterval <= 0 {
		errs = append(errs, "network.poll_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGame(g GameConfig) error {
	if g.TickInterval <= 0 {
		return errors.New("game.tick_interval must be positive")
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with STORMFELL_ prefix
	v.SetEnvPrefix("STORMFELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns the built-in configuration used when no config file is
// given on the command line.
//
// Postcondition: Returns a Config that passes Validate.
func Default() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Unmarshalling pure defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network.host", "0.0.0.0")
	v.SetDefault("network.port", 32160)
	v.SetDefault("network.enable_udp", true)
	v.SetDefault("network.tcp_read_timeout", "500ms")
	v.SetDefault("network.write_timeout", "30s")
	v.SetDefault("network.accept_timeout", "1s")
	v.SetDefault("network.udp_read_timeout", "1s")
	v.SetDefault("network.udp_send_buffer", 96000)
	v.SetDefault("network.max_message_size", 65536)
	v.SetDefault("network.send_queue_size", 128)
	v.SetDefault("network.poll_interval", "10ms")

	v.SetDefault("game.tick_interval", "100ms")

	v.SetDefault("banlist.path", "")
	v.SetDefault("banlist.watch", false)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
