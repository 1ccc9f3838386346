package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "3s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the application configuration for the stepflow CLI.
type Config struct {
	// DataDir is the base directory for state files. Relative storage
	// paths below resolve against it.
	DataDir string `yaml:"data_dir"`

	// DatabasePath is the SQLite state database file.
	DatabasePath string `yaml:"database_path"`

	// FrameworksDir holds the JSON framework definitions.
	FrameworksDir string `yaml:"frameworks_dir"`

	// ContextStorePath is the encrypted context store file.
	ContextStorePath string `yaml:"context_store_path"`

	// ContextKeyPath is the key file the store secret is derived from.
	ContextKeyPath string `yaml:"context_key_path"`

	// SSH holds connection defaults applied to every target host.
	SSH SSHConfig `yaml:"ssh"`

	// Retry overrides the execution retry policy.
	Retry RetryConfig `yaml:"retry"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// MetricsListenAddress enables the Prometheus endpoint when set.
	MetricsListenAddress string `yaml:"metrics_listen_address"`

	// TracingExporter selects the trace exporter (otlp, stdout, none).
	// Tracing stays disabled when empty.
	TracingExporter string `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`

	// TracingEndpoint is the OTLP collector endpoint.
	TracingEndpoint string `yaml:"tracing_endpoint"`
}

// SSHConfig holds SSH connection defaults.
type SSHConfig struct {
	User                  string   `yaml:"user"`
	Port                  int      `yaml:"port" validate:"min=0,max=65535"`
	AuthMethod            string   `yaml:"auth_method" validate:"omitempty,oneof=password key"`
	Password              string   `yaml:"password"`
	PrivateKeyPath        string   `yaml:"private_key_path"`
	PrivateKeyPassphrase  string   `yaml:"private_key_passphrase"`
	KnownHostsPath        string   `yaml:"known_hosts_path"`
	StrictHostKeyChecking bool     `yaml:"strict_host_key_checking"`
	ConnectionTimeout     Duration `yaml:"connection_timeout"`
	RemoteTempDir         string   `yaml:"remote_temp_dir"`
}

// RetryConfig overrides the retry policy defaults.
type RetryConfig struct {
	MaxAttempts  int      `yaml:"max_attempts" validate:"min=0"`
	Delay        Duration `yaml:"delay"`
	StepTimeout  Duration `yaml:"step_timeout"`
	ProbeTimeout Duration `yaml:"probe_timeout"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
	Output string `yaml:"output"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		DataDir:          defaultDataDir(),
		DatabasePath:     "stepflow.db",
		FrameworksDir:    "frameworks",
		ContextStorePath: "context.enc",
		ContextKeyPath:   "context.key",
		SSH: SSHConfig{
			User:              "root",
			Port:              22,
			AuthMethod:        "key",
			ConnectionTimeout: Duration(10 * time.Second),
			RemoteTempDir:     "/tmp",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load reads the configuration from path. A missing file yields the
// defaults; a present but malformed or invalid file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// ResolvePath resolves p against DataDir unless it is already absolute.
func (c *Config) ResolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepflow"
	}
	return filepath.Join(home, ".stepflow")
}
