package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/gridlink/internal/eventlog"
	"github.com/shaunagostinho/gridlink/internal/grid"
	"github.com/shaunagostinho/gridlink/internal/link"
	"github.com/shaunagostinho/gridlink/internal/logging"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// GRIDLINK_LINK_PORT_PATH or GRIDLINK_SERVER_LISTEN_ADDR.
	EnvPrefix = "GRIDLINK"

	DefaultConfigPath = "/etc/gridlink/config.yaml"

	LinkSerial = "serial"
	LinkDemo   = "demo"
)

// Config holds all gridlink configuration.
type Config struct {
	mu sync.RWMutex

	Link     LinkConfig      `yaml:"link" json:"link" mapstructure:"link"`
	Board    BoardConfig     `yaml:"board" json:"board" mapstructure:"board"`
	EventLog eventlog.Config `yaml:"event_log" json:"eventLog" mapstructure:"event_log"`
	Logging  logging.Config  `yaml:"logging" json:"logging" mapstructure:"logging"`
	Server   ServerConfig    `yaml:"server" json:"server" mapstructure:"server"`

	path string // file path for save/load
}

// LinkConfig selects and tunes the hardware link. Type is "serial" or
// "demo"; a PortPath of "auto" picks the first serial port. After
// ReconnectMaxAttempts logged failures, retries continue at the maximum
// delay.
type LinkConfig struct {
	Type                 string     `yaml:"type" json:"type" mapstructure:"type"`
	PortPath             string     `yaml:"port_path" json:"portPath" mapstructure:"port_path"`
	BaudRate             int        `yaml:"baud_rate" json:"baudRate" mapstructure:"baud_rate"`
	ReadTimeoutMs        int        `yaml:"read_timeout_ms" json:"readTimeoutMs" mapstructure:"read_timeout_ms"`
	AutoConnect          bool       `yaml:"auto_connect" json:"autoConnect" mapstructure:"auto_connect"`
	AutoReconnect        bool       `yaml:"auto_reconnect" json:"autoReconnect" mapstructure:"auto_reconnect"`
	ReconnectMaxAttempts int        `yaml:"reconnect_max_attempts" json:"reconnectMaxAttempts" mapstructure:"reconnect_max_attempts"`
	Demo                 DemoConfig `yaml:"demo" json:"demo" mapstructure:"demo"`
}

// DemoConfig tunes the simulated device used when Type is "demo".
type DemoConfig struct {
	IntervalMs      int `yaml:"interval_ms" json:"intervalMs" mapstructure:"interval_ms"`
	FaultDurationMs int `yaml:"fault_duration_ms" json:"faultDurationMs" mapstructure:"fault_duration_ms"`
}

type BoardConfig struct {
	NumLights int `yaml:"num_lights" json:"numLights" mapstructure:"num_lights"`
	MaxEvents int `yaml:"max_events" json:"maxEvents" mapstructure:"max_events"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr" mapstructure:"listen_addr"`
	// Empty allows all origins.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowedOrigins" mapstructure:"allowed_origins"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Link: LinkConfig{
			Type:                 LinkSerial,
			PortPath:             "auto",
			BaudRate:             link.DefaultBaudRate,
			ReadTimeoutMs:        int(link.DefaultReadTimeout / time.Millisecond),
			AutoConnect:          false,
			AutoReconnect:        false,
			ReconnectMaxAttempts: 10,
			Demo: DemoConfig{
				IntervalMs:      8000,
				FaultDurationMs: 3000,
			},
		},
		Board: BoardConfig{
			NumLights: grid.DefaultLights,
			MaxEvents: grid.DefaultMaxEvents,
		},
		EventLog: eventlog.Config{
			Enabled: false,
			Path:    eventlog.DefaultPath,
			MaxRows: eventlog.DefaultMaxRows,
		},
		Logging: logging.Config{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and
// GRIDLINK_* environment overrides. A missing file leaves the defaults in
// place; a malformed one is an error.
func LoadConfig(path string, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "config"))

	// Load .env file from the same directory as the config, or from CWD
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		if loadEnvFile(ep) {
			log.Info("Loaded .env", zap.String("path", ep))
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			log.Info("No config file, using defaults", zap.String("path", path))
		} else {
			log.Info("Loaded config", zap.String("path", path))
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.path = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key of def with v, so that AutomaticEnv can
// override keys the file does not mention.
func setDefaults(v *viper.Viper, def *Config) {
	data, err := yaml.Marshal(def)
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars. It
// reports whether the file existed.
func loadEnvFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		// Real env takes precedence
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, val)
		}
	}
	return true
}

// Validate checks values the rest of the program relies on.
func (c *Config) Validate() error {
	var errs []error
	switch c.Link.Type {
	case LinkSerial, LinkDemo:
	default:
		errs = append(errs, fmt.Errorf("link.type must be %q or %q, got %q", LinkSerial, LinkDemo, c.Link.Type))
	}
	if c.Link.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("link.baud_rate must be positive, got %d", c.Link.BaudRate))
	}
	if c.Link.ReadTimeoutMs < 0 {
		errs = append(errs, errors.New("link.read_timeout_ms must not be negative"))
	}
	if c.Board.NumLights < 1 {
		errs = append(errs, fmt.Errorf("board.num_lights must be at least 1, got %d", c.Board.NumLights))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	for _, origin := range c.Server.AllowedOrigins {
		if !validOrigin(origin) {
			errs = append(errs, fmt.Errorf("server.allowed_origins: %q must be \"*\" or start with http:// or https://", origin))
		}
	}
	if err := multierr.Combine(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// validOrigin mirrors what gin-contrib/cors accepts without panicking.
func validOrigin(origin string) bool {
	if origin == "*" {
		return true
	}
	return strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://")
}

// Path returns the file the config was loaded from and is saved to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.path
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// Snapshot returns a copy of the link and board sections for callers that
// must not hold the lock.
func (c *Config) Snapshot() (LinkConfig, BoardConfig) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Link, c.Board
}

// SetBaudRate updates the configured link baud rate.
func (c *Config) SetBaudRate(rate int) {
	c.mu.Lock()
	c.Link.BaudRate = rate
	c.mu.Unlock()
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved. The update is rejected as a whole if the
// result does not validate.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Marshal current config to a generic map
	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	next := &Config{}
	if err := json.Unmarshal(merged, next); err != nil {
		return fmt.Errorf("unmarshal merged config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return err
	}

	c.Link = next.Link
	c.Board = next.Board
	c.EventLog = next.EventLog
	c.Logging = next.Logging
	c.Server = next.Server
	return nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
