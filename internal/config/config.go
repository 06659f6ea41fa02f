// Package config loads worktrace settings from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DirName is the data directory created under the user's home.
const DirName = ".worktrace"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Duration is a time.Duration written as a Go duration string ("16s").
type Duration time.Duration

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config holds daemon and client configuration.
type Config struct {
	// Listen is the control plane address.
	Listen string `yaml:"listen" toml:"listen" json:"listen"`
	// DataDir holds the databases and archives unless overridden below.
	DataDir string `yaml:"data_dir" toml:"data_dir" json:"data_dir"`
	// TransferDB stores intervals until they are exported.
	TransferDB string `yaml:"transfer_db,omitempty" toml:"transfer_db,omitempty" json:"transfer_db"`
	// StatisticsDB stores intervals for local statistics.
	StatisticsDB string `yaml:"statistics_db,omitempty" toml:"statistics_db,omitempty" json:"statistics_db"`
	// ArchiveDir receives exported batches.
	ArchiveDir string `yaml:"archive_dir,omitempty" toml:"archive_dir,omitempty" json:"archive_dir"`

	UserTimeout   Duration `yaml:"user_timeout" toml:"user_timeout" json:"user_timeout"`
	EditorTimeout Duration `yaml:"editor_timeout" toml:"editor_timeout" json:"editor_timeout"`
	// StatisticsRetention bounds the statistics store relative to its newest interval.
	StatisticsRetention Duration `yaml:"statistics_retention" toml:"statistics_retention" json:"statistics_retention"`
	PruneInterval       Duration `yaml:"prune_interval" toml:"prune_interval" json:"prune_interval"`

	EventQueueSize  int      `yaml:"event_queue_size" toml:"event_queue_size" json:"event_queue_size"`
	WriterQueueSize int      `yaml:"writer_queue_size" toml:"writer_queue_size" json:"writer_queue_size"`
	EnqueueTimeout  Duration `yaml:"enqueue_timeout" toml:"enqueue_timeout" json:"enqueue_timeout"`

	ProjectID string `yaml:"project_id,omitempty" toml:"project_id,omitempty" json:"project_id,omitempty"`
	UserID    string `yaml:"user_id,omitempty" toml:"user_id,omitempty" json:"user_id,omitempty"`

	LogLevel  string `yaml:"log_level" toml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" toml:"log_format" json:"log_format"`

	// TestCommands lists the executables `worktrace test` may run.
	TestCommands []string `yaml:"test_commands" toml:"test_commands" json:"test_commands"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	dataDir := DirName
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, DirName)
	}
	return &Config{
		Listen:              "127.0.0.1:7467",
		DataDir:             dataDir,
		UserTimeout:         Duration(16 * time.Second),
		EditorTimeout:       Duration(16 * time.Second),
		StatisticsRetention: Duration(time.Hour),
		PruneInterval:       Duration(time.Minute),
		EventQueueSize:      1024,
		WriterQueueSize:     256,
		EnqueueTimeout:      Duration(2 * time.Second),
		LogLevel:            "info",
		LogFormat:           "json",
		TestCommands:        []string{"go", "make", "mvn", "gradle", "npm", "pytest"},
	}
}

// Resolve fills derived paths from DataDir.
func (c *Config) Resolve() {
	if c.TransferDB == "" {
		c.TransferDB = filepath.Join(c.DataDir, "transfer.db")
	}
	if c.StatisticsDB == "" {
		c.StatisticsDB = filepath.Join(c.DataDir, "statistics.db")
	}
	if c.ArchiveDir == "" {
		c.ArchiveDir = filepath.Join(c.DataDir, "archive")
	}
}

// Load loads configuration from a YAML or TOML file over the defaults. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.Resolve()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HomePath returns the first existing config file under ~/.worktrace,
// preferring config.yaml over config.toml.
func HomePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home dir: %w", err)
	}
	dir := filepath.Join(home, DirName)
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LoadFromHome loads ~/.worktrace/config.yaml or config.toml.
func LoadFromHome() (*Config, error) {
	path, err := HomePath()
	if err != nil {
		cfg := DefaultConfig()
		cfg.Resolve()
		return cfg, nil
	}
	return Load(path)
}

// Save writes the configuration, as TOML when path ends in .toml and YAML
// otherwise, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var data []byte
	if isTOML(path) {
		var buf strings.Builder
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
		data = []byte(buf.String())
	} else {
		var err error
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("%w: listen %q: %v", ErrInvalid, c.Listen, err)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalid)
	}
	if c.UserTimeout <= 0 || c.EditorTimeout <= 0 {
		return fmt.Errorf("%w: activity timeouts must be positive", ErrInvalid)
	}
	if c.StatisticsRetention <= 0 {
		return fmt.Errorf("%w: statistics_retention must be positive", ErrInvalid)
	}
	if c.PruneInterval <= 0 {
		return fmt.Errorf("%w: prune_interval must be positive", ErrInvalid)
	}
	if c.EventQueueSize < 1 || c.WriterQueueSize < 1 {
		return fmt.Errorf("%w: queue sizes must be at least 1", ErrInvalid)
	}
	if c.EnqueueTimeout <= 0 {
		return fmt.Errorf("%w: enqueue_timeout must be positive", ErrInvalid)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("%w: log_format %q, must be json or console", ErrInvalid, c.LogFormat)
	}
	return nil
}

// AllowsTestCommand reports whether name may be run by the test runner.
func (c *Config) AllowsTestCommand(name string) bool {
	for _, allowed := range c.TestCommands {
		if allowed == name {
			return true
		}
	}
	return false
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
