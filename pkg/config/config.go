package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "5m" or "90s" into a time.Duration
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"5m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the process configuration, loaded from an optional YAML file
// and overridable via command-line flags.
type Config struct {
	// DataDir holds the state database, working copies, and activity logs
	DataDir string `yaml:"data_dir"`

	// Listen is the API bind address
	Listen string `yaml:"listen"`

	// Interval between periodic reconciliation sweeps
	Interval Duration `yaml:"interval"`

	// PassTimeout bounds one repository's reconciliation pass
	PassTimeout Duration `yaml:"pass_timeout"`

	// Parallelism bounds concurrent per-repository passes
	Parallelism int `yaml:"parallelism"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`

	Remediation struct {
		// BaseURL overrides the remediation API endpoint (testing)
		BaseURL string `yaml:"base_url"`
	} `yaml:"remediation"`

	GitHub struct {
		// BaseURL overrides the GitHub API endpoint (testing)
		BaseURL string `yaml:"base_url"`
	} `yaml:"github"`
}

// Default returns the built-in configuration
func Default() Config {
	cfg := Config{
		DataDir:     "./data",
		Listen:      ":8080",
		Interval:    Duration(5 * time.Minute),
		PassTimeout: Duration(10 * time.Minute),
		Parallelism: 1,
	}
	cfg.Log.Level = "info"
	return cfg
}

// Load reads a YAML config file over the defaults. A missing path is not
// an error; the defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
