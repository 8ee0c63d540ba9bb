package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/streamrelay/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. STREAMRELAY_RELAY_BACKOFF=5s
const EnvPrefix = "STREAMRELAY"

// Config represents the application configuration
type Config struct {
	ServerPort int           `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string        `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty  bool          `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	BaseDir    string        `json:"base_dir" yaml:"base_dir" mapstructure:"base_dir"` // Local file locators resolve against this
	Decoder    DecoderConfig `json:"decoder" yaml:"decoder" mapstructure:"decoder"`
	Relay      RelayConfig   `json:"relay" yaml:"relay" mapstructure:"relay"`
	Store      StoreConfig   `json:"store" yaml:"store" mapstructure:"store"`
}

// DecoderConfig selects and configures the capture backend
type DecoderConfig struct {
	Backend       string        `json:"backend" yaml:"backend" mapstructure:"backend"`
	FFmpegPath    string        `json:"ffmpeg_path" yaml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	FFprobePath   string        `json:"ffprobe_path" yaml:"ffprobe_path" mapstructure:"ffprobe_path"`
	GstLaunchPath string        `json:"gst_launch_path" yaml:"gst_launch_path" mapstructure:"gst_launch_path"`
	Debug         bool          `json:"debug" yaml:"debug" mapstructure:"debug"`
	ProbeTimeout  time.Duration `json:"probe_timeout" yaml:"probe_timeout" mapstructure:"probe_timeout"`
}

// RelayConfig tunes how sources are opened and encoded
type RelayConfig struct {
	Attempts    int           `json:"attempts" yaml:"attempts" mapstructure:"attempts"`
	Backoff     time.Duration `json:"backoff" yaml:"backoff" mapstructure:"backoff"`
	JPEGQuality int           `json:"jpeg_quality" yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
}

// StoreConfig selects the overlay store
type StoreConfig struct {
	Backend    string `json:"backend" yaml:"backend" mapstructure:"backend"`
	FilePath   string `json:"file_path" yaml:"file_path" mapstructure:"file_path"`
	MongoURI   string `json:"mongo_uri" yaml:"mongo_uri" mapstructure:"mongo_uri"`
	Database   string `json:"database" yaml:"database" mapstructure:"database"`
	Collection string `json:"collection" yaml:"collection" mapstructure:"collection"`
}

type keyKind int

const (
	kindString keyKind = iota
	kindInt
	kindBool
	kindDuration
)

type keySpec struct {
	kind    keyKind
	def     any
	allowed []string
}

// keys lists every setting with its type and default
var keys = map[string]keySpec{
	"server_port":             {kind: kindInt, def: 5000},
	"log_level":               {kind: kindString, def: "info", allowed: []string{"trace", "debug", "info", "warn", "error"}},
	"log_pretty":              {kind: kindBool, def: true},
	"base_dir":                {kind: kindString, def: ""},
	"decoder.backend":         {kind: kindString, def: "ffmpeg", allowed: []string{"ffmpeg", "gstreamer"}},
	"decoder.ffmpeg_path":     {kind: kindString, def: "ffmpeg"},
	"decoder.ffprobe_path":    {kind: kindString, def: "ffprobe"},
	"decoder.gst_launch_path": {kind: kindString, def: "gst-launch-1.0"},
	"decoder.debug":           {kind: kindBool, def: false},
	"decoder.probe_timeout":   {kind: kindDuration, def: 10 * time.Second},
	"relay.attempts":          {kind: kindInt, def: 3},
	"relay.backoff":           {kind: kindDuration, def: 2 * time.Second},
	"relay.jpeg_quality":      {kind: kindInt, def: 80},
	"store.backend":           {kind: kindString, def: "file", allowed: []string{"file", "mongo"}},
	"store.file_path":         {kind: kindString, def: ""},
	"store.mongo_uri":         {kind: kindString, def: "mongodb://localhost:27017/"},
	"store.database":          {kind: kindString, def: "claimss"},
	"store.collection":        {kind: kindString, def: "overlays"},
}

// Keys returns the known setting names in sorted order
func Keys() []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Manager handles configuration: defaults, the YAML file, environment
// overrides and anything bound on top through GetViper
type Manager struct {
	configPath string
	v          *viper.Viper
	mu         sync.RWMutex
}

// DefaultConfigPath returns $HOME/.config/streamrelay/config.yaml
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "streamrelay", "config.yaml"), nil
}

// NewManager creates a new configuration manager. A missing config file is
// created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	for k, spec := range keys {
		v.SetDefault(k, spec.def)
	}
	v.SetConfigFile(actualConfigPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{
		configPath: actualConfigPath,
		v:          v,
	}

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config loaded")

	return m, nil
}

// GetViper exposes the underlying viper instance for flag binding
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

func (m *Manager) decode() (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Get returns the effective configuration with derived defaults filled in:
// an empty base_dir becomes the working directory and an empty
// store.file_path becomes overlays.yaml next to the config file
func (m *Manager) Get() (*Config, error) {
	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}

	if cfg.BaseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve base_dir: %w", err)
		}
		cfg.BaseDir = wd
	}
	if cfg.Store.FilePath == "" {
		cfg.Store.FilePath = filepath.Join(m.GetConfigDir(), "overlays.yaml")
	}
	return cfg, nil
}

// Value returns the effective value of key
func (m *Manager) Value(key string) (any, error) {
	if _, ok := keys[key]; !ok {
		return nil, fmt.Errorf("configuration key not found: %s", key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.Get(key), nil
}

// Set parses value for key and stores it. Call Save to persist.
func (m *Manager) Set(key, value string) error {
	spec, ok := keys[key]
	if !ok {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	var parsed any
	switch spec.kind {
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %s", key, value)
		}
		parsed = n
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %s (use: true or false)", key, value)
		}
		parsed = b
	case kindDuration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %s (e.g. 2s, 500ms)", key, value)
		}
		parsed = d
	default:
		if len(spec.allowed) > 0 && !slices.Contains(spec.allowed, value) {
			return fmt.Errorf("invalid value for %s: %s (use: %s)", key, value, strings.Join(spec.allowed, ", "))
		}
		parsed = value
	}

	m.mu.Lock()
	m.v.Set(key, parsed)
	m.mu.Unlock()
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	cfg, err := m.decode()
	if err != nil {
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// GetConfigPath returns the config file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the directory holding the config file
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		result = multierror.Append(result, fmt.Errorf("server_port must be 1-65535, got %d", c.ServerPort))
	}
	if c.Relay.Attempts < 1 {
		result = multierror.Append(result, fmt.Errorf("relay.attempts must be at least 1, got %d", c.Relay.Attempts))
	}
	if c.Relay.Backoff < 0 {
		result = multierror.Append(result, fmt.Errorf("relay.backoff must not be negative, got %s", c.Relay.Backoff))
	}
	if c.Relay.JPEGQuality < 1 || c.Relay.JPEGQuality > 100 {
		result = multierror.Append(result, fmt.Errorf("relay.jpeg_quality must be 1-100, got %d", c.Relay.JPEGQuality))
	}
	if c.Decoder.ProbeTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("decoder.probe_timeout must be positive, got %s", c.Decoder.ProbeTimeout))
	}
	for key, value := range map[string]string{
		"log_level":       c.LogLevel,
		"decoder.backend": c.Decoder.Backend,
		"store.backend":   c.Store.Backend,
	} {
		if allowed := keys[key].allowed; !slices.Contains(allowed, value) {
			result = multierror.Append(result, fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value))
		}
	}

	return result.ErrorOrNil()
}
