package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Network: NetworkConfig{
			Host:           "0.0.0.0",
			Port:           32160,
			EnableUDP:      true,
			TCPReadTimeout: 500 * time.Millisecond,
			WriteTimeout:   30 * time.Second,
			AcceptTimeout:  time.Second,
			UDPReadTimeout: time.Second,
			UDPSendBuffer:  96000,
			MaxMessageSize: 65536,
			SendQueueSize:  128,
			PollInterval:   10 * time.Millisecond,
		},
		Game: GameConfig{
			TickInterval: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestNetworkAddr(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "0.0.0.0:32160", cfg.Network.Addr())
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 32160, cfg.Network.Port)
	assert.True(t, cfg.Network.EnableUDP)
	assert.Equal(t, 96000, cfg.Network.UDPSendBuffer)
	assert.Equal(t, 500*time.Millisecond, cfg.Network.TCPReadTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Game.TickInterval)
	assert.Equal(t, "", cfg.Banlist.Path)
	assert.Equal(t, "", cfg.Metrics.Addr)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	err := os.WriteFile(path, []byte(`
network:
  host: 127.0.0.1
  port: 4501
  enable_udp: false
  tcp_read_timeout: 250ms
game:
  tick_interval: 50ms
banlist:
  path: /etc/stormfell/banned.yaml
  watch: true
metrics:
  addr: 127.0.0.1:9100
logging:
  level: debug
  format: console
`), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Network.Host)
	assert.Equal(t, 4501, cfg.Network.Port)
	assert.False(t, cfg.Network.EnableUDP)
	assert.Equal(t, 250*time.Millisecond, cfg.Network.TCPReadTimeout)
	// Unset keys fall back to defaults.
	assert.Equal(t, 96000, cfg.Network.UDPSendBuffer)
	assert.Equal(t, 50*time.Millisecond, cfg.Game.TickInterval)
	assert.Equal(t, "/etc/stormfell/banned.yaml", cfg.Banlist.Path)
	assert.True(t, cfg.Banlist.Watch)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestValidateNetworkPort(t *testing.T) {
	cfg := validConfig()
	cfg.Network.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Network.Port = 65536
	assert.Error(t, cfg.Validate())
}

func TestValidateNetworkHostEmpty(t *testing.T) {
	cfg := validConfig()
	cfg.Network.Host = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateNetworkTimeouts(t *testing.T) {
	cfg := validConfig()
	cfg.Network.TCPReadTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Network.AcceptTimeout = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Network.UDPReadTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateUDPSendBuffer(t *testing.T) {
	cfg := validConfig()
	cfg.Network.UDPSendBuffer = 100
	assert.Error(t, cfg.Validate())
}

func TestValidateSendQueueSize(t *testing.T) {
	cfg := validConfig()
	cfg.Network.SendQueueSize = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateTickInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Game.TickInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateLoggingLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := validConfig()
		cfg.Logging.Level = level
		assert.NoError(t, cfg.Validate(), "level %q should be valid", level)
	}
	cfg := validConfig()
	cfg.Logging.Level = "trace"
	assert.Error(t, cfg.Validate())
}

func TestValidateLoggingFormat(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		cfg := validConfig()
		cfg.Logging.Format = format
		assert.NoError(t, cfg.Validate(), "format %q should be valid", format)
	}
	cfg := validConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

// Property-based tests

func TestPropertyValidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(1, 65535).Draw(t, "port")
		cfg := validConfig()
		cfg.Network.Port = port
		if err := cfg.Validate(); err != nil {
			t.Fatalf("valid port %d rejected: %v", port, err)
		}
	})
}

func TestPropertyInvalidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// Generate ports outside valid range
		port := rapid.OneOf(
			rapid.IntRange(-1000, 0),
			rapid.IntRange(65536, 100000),
		).Draw(t, "port")
		cfg := validConfig()
		cfg.Network.Port = port
		if err := cfg.Validate(); err == nil {
			t.Fatalf("invalid port %d accepted", port)
		}
	})
}

func TestPropertyPositiveTimeoutsAccepted(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := validConfig()
		cfg.Network.TCPReadTimeout = time.Duration(rapid.Int64Range(1, int64(time.Minute)).Draw(t, "tcp_read"))
		cfg.Network.UDPReadTimeout = time.Duration(rapid.Int64Range(1, int64(time.Minute)).Draw(t, "udp_read"))
		cfg.Network.AcceptTimeout = time.Duration(rapid.Int64Range(1, int64(time.Minute)).Draw(t, "accept"))
		if err := cfg.Validate(); err != nil {
			t.Fatalf("valid timeouts rejected: %v", err)
		}
	})
}
