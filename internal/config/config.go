// Package config resolves bridge settings from defaults, an optional YAML
// file, PLUGBRIDGE_* environment variables, and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/koltyakov/plugbridge/internal/log"
)

type BridgeConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	PortRangeSize      int           `yaml:"port_range_size"`
	AdvertiseDir       string        `yaml:"advertise_dir"`
	LogLevel           string        `yaml:"log_level"`
	GracePeriod        time.Duration `yaml:"grace_period"`
	IdentifyTimeout    time.Duration `yaml:"identify_timeout"`
	DefaultCallTimeout time.Duration `yaml:"default_call_timeout"`
	MaxCallTimeout     time.Duration `yaml:"max_call_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	ConsoleCapacity    int           `yaml:"console_capacity"`
	ChangeCapacity     int           `yaml:"change_capacity"`
	MaxMessageBytes    int64         `yaml:"max_message_bytes"`
	CDPEndpoint        string        `yaml:"cdp_endpoint"`
	PprofListen        string        `yaml:"pprof_listen"`
}

const (
	defaultHost               = "localhost"
	defaultPort               = 9223
	defaultPortRangeSize      = 10
	defaultGracePeriod        = 5 * time.Second
	defaultIdentifyTimeout    = 30 * time.Second
	defaultCallTimeout        = 15 * time.Second
	defaultMaxCallTimeout     = 5 * time.Minute
	defaultWriteTimeout       = 10 * time.Second
	defaultPingInterval       = 30 * time.Second
	defaultConsoleCapacity    = 1000
	defaultChangeCapacity     = 200
	defaultMaxMessageBytes    = 100 * 1024 * 1024
	envPrefix                 = "PLUGBRIDGE_"
	defaultAdvertiseDirSuffix = "plugbridge"
)

// Default returns the built-in configuration.
func Default() BridgeConfig {
	return BridgeConfig{
		Host:               defaultHost,
		Port:               defaultPort,
		PortRangeSize:      defaultPortRangeSize,
		AdvertiseDir:       DefaultAdvertiseDir(),
		LogLevel:           "info",
		GracePeriod:        defaultGracePeriod,
		IdentifyTimeout:    defaultIdentifyTimeout,
		DefaultCallTimeout: defaultCallTimeout,
		MaxCallTimeout:     defaultMaxCallTimeout,
		WriteTimeout:       defaultWriteTimeout,
		PingInterval:       defaultPingInterval,
		ConsoleCapacity:    defaultConsoleCapacity,
		ChangeCapacity:     defaultChangeCapacity,
		MaxMessageBytes:    defaultMaxMessageBytes,
	}
}

// DefaultAdvertiseDir is where advertisement records live unless overridden.
func DefaultAdvertiseDir() string {
	return filepath.Join(os.TempDir(), defaultAdvertiseDirSuffix)
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *BridgeConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays PLUGBRIDGE_* environment variables onto cfg.
func ApplyEnv(cfg *BridgeConfig) {
	cfg.Host = envOrDefault(envPrefix+"HOST", cfg.Host)
	cfg.Port = envIntOrDefault(envPrefix+"PORT", cfg.Port)
	cfg.PortRangeSize = envIntOrDefault(envPrefix+"PORT_RANGE_SIZE", cfg.PortRangeSize)
	cfg.AdvertiseDir = envOrDefault(envPrefix+"ADVERTISE_DIR", cfg.AdvertiseDir)
	cfg.LogLevel = envOrDefault(envPrefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.GracePeriod = envDurationOrDefault(envPrefix+"GRACE_PERIOD", cfg.GracePeriod)
	cfg.IdentifyTimeout = envDurationOrDefault(envPrefix+"IDENTIFY_TIMEOUT", cfg.IdentifyTimeout)
	cfg.DefaultCallTimeout = envDurationOrDefault(envPrefix+"CALL_TIMEOUT", cfg.DefaultCallTimeout)
	cfg.MaxCallTimeout = envDurationOrDefault(envPrefix+"MAX_CALL_TIMEOUT", cfg.MaxCallTimeout)
	cfg.WriteTimeout = envDurationOrDefault(envPrefix+"WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.PingInterval = envDurationOrDefault(envPrefix+"PING_INTERVAL", cfg.PingInterval)
	cfg.ConsoleCapacity = envIntOrDefault(envPrefix+"CONSOLE_CAPACITY", cfg.ConsoleCapacity)
	cfg.ChangeCapacity = envIntOrDefault(envPrefix+"CHANGE_CAPACITY", cfg.ChangeCapacity)
	cfg.MaxMessageBytes = envInt64OrDefault(envPrefix+"MAX_MESSAGE_BYTES", cfg.MaxMessageBytes)
	cfg.CDPEndpoint = envOrDefault(envPrefix+"CDP_ENDPOINT", cfg.CDPEndpoint)
	cfg.PprofListen = envOrDefault(envPrefix+"PPROF_LISTEN", cfg.PprofListen)
}

// BindFlags registers bridge flags on fs, writing into cfg.
func BindFlags(fs *pflag.FlagSet, cfg *BridgeConfig) {
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Listen host")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Preferred listen port (falls back through the port range)")
	fs.IntVar(&cfg.PortRangeSize, "port-range", cfg.PortRangeSize, "Number of consecutive ports to try")
	fs.StringVar(&cfg.AdvertiseDir, "advertise-dir", cfg.AdvertiseDir, "Directory for port advertisement records")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.DurationVar(&cfg.GracePeriod, "grace-period", cfg.GracePeriod, "How long a disconnected session is kept for reconnect")
	fs.DurationVar(&cfg.IdentifyTimeout, "identify-timeout", cfg.IdentifyTimeout, "Drop connections that do not identify within this window")
	fs.DurationVar(&cfg.DefaultCallTimeout, "call-timeout", cfg.DefaultCallTimeout, "Default per-call timeout")
	fs.DurationVar(&cfg.MaxCallTimeout, "max-call-timeout", cfg.MaxCallTimeout, "Upper bound for any call timeout")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Deadline for a single WebSocket write")
	fs.DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "WebSocket keepalive ping interval (0 disables)")
	fs.IntVar(&cfg.ConsoleCapacity, "console-capacity", cfg.ConsoleCapacity, "Console entries kept per session")
	fs.IntVar(&cfg.ChangeCapacity, "change-capacity", cfg.ChangeCapacity, "Document-change events kept per session")
	fs.Int64Var(&cfg.MaxMessageBytes, "max-message-bytes", cfg.MaxMessageBytes, "Largest inbound WebSocket message accepted (0 means no limit)")
	fs.StringVar(&cfg.CDPEndpoint, "cdp-endpoint", cfg.CDPEndpoint, "Remote-debugging endpoint for the fallback transport (e.g. http://localhost:9222)")
	fs.StringVar(&cfg.PprofListen, "pprof-listen", cfg.PprofListen, "Optional pprof listen address (e.g. 127.0.0.1:6060)")
}

// ParseBridgeFlags resolves the full configuration for the serve command.
func ParseBridgeFlags(args []string) (BridgeConfig, error) {
	cfg := Default()

	path, err := configPathFromArgs(args)
	if err != nil {
		return cfg, err
	}
	if path == "" {
		path = strings.TrimSpace(os.Getenv(envPrefix + "CONFIG"))
	}
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	ApplyEnv(&cfg)

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("config", path, "YAML config file")
	BindFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c *BridgeConfig) Validate() error {
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		return errors.New("host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if c.PortRangeSize <= 0 {
		return errors.New("port range must be > 0")
	}
	if c.Port+c.PortRangeSize-1 > 65535 {
		return errors.New("port range exceeds 65535")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.GracePeriod <= 0 {
		return errors.New("grace period must be > 0")
	}
	if c.IdentifyTimeout <= 0 {
		return errors.New("identify timeout must be > 0")
	}
	if c.DefaultCallTimeout <= 0 || c.MaxCallTimeout <= 0 {
		return errors.New("call timeouts must be > 0")
	}
	if c.DefaultCallTimeout > c.MaxCallTimeout {
		return errors.New("call timeout cannot exceed max call timeout")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be > 0")
	}
	if c.MaxMessageBytes < 0 {
		return errors.New("max message bytes must be >= 0")
	}
	if c.PingInterval < 0 {
		return errors.New("ping interval must be >= 0")
	}
	if c.ConsoleCapacity <= 0 || c.ChangeCapacity <= 0 {
		return errors.New("buffer capacities must be > 0")
	}
	return nil
}

// configPathFromArgs finds --config ahead of the full parse so the file can
// sit below env and flags in precedence.
func configPathFromArgs(args []string) (string, error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return strings.TrimSpace(v), nil
		}
		if arg == "--config" {
			if i+1 >= len(args) {
				return "", errors.New("flag needs an argument: --config")
			}
			return strings.TrimSpace(args[i+1]), nil
		}
	}
	return "", nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64OrDefault(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
