package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration: an optional YAML file (path in
// CONFIG_FILE) plus PORT and API_KEY env overrides.
type Config struct {
	HTTPPort string `yaml:"port"`
	APIKey   string `yaml:"apiKey"`

	Builder  Builder   `yaml:"builder"`
	Archives []Archive `yaml:"archives"`
}

// Builder bounds the manifest build registry.
type Builder struct {
	PoolSize       int      `yaml:"poolSize"`
	CleanFrequency Duration `yaml:"cleanFrequency"`
	MaxLifeCycle   Duration `yaml:"maxLifeCycle"`
}

// Duration accepts time.ParseDuration strings in YAML ("30s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Archive declares one queryable backend. Kind selects the adapter:
// "qido" talks DICOMweb QIDO-RS, "db" queries a relational archive index.
type Archive struct {
	ID      string `yaml:"id"`
	Kind    string `yaml:"kind"`
	Default bool   `yaml:"default"`

	// qido
	QidoURL    string `yaml:"qidoURL"`
	AuthHeader string `yaml:"authHeader"`

	// db
	DSN string `yaml:"dsn"`

	WadoURL           string `yaml:"wadoURL"`
	TransferSyntaxUID string `yaml:"transferSyntaxUID"`
	CompressionRate   int    `yaml:"compressionRate"`
}

func NewConfigFromEnv() (Config, error) {
	cfg := Config{
		HTTPPort: "8080",
		Builder: Builder{
			PoolSize:       5,
			CleanFrequency: Duration(time.Minute),
			MaxLifeCycle:   Duration(5 * time.Minute),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTPPort = port
	}
	if key := os.Getenv("API_KEY"); key != "" {
		cfg.APIKey = key
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Builder.PoolSize <= 0 {
		return fmt.Errorf("builder.poolSize must be positive, got %d", c.Builder.PoolSize)
	}
	if c.Builder.CleanFrequency <= 0 {
		return fmt.Errorf("builder.cleanFrequency must be positive, got %s", c.Builder.CleanFrequency.Std())
	}
	if c.Builder.MaxLifeCycle <= 0 {
		return fmt.Errorf("builder.maxLifeCycle must be positive, got %s", c.Builder.MaxLifeCycle.Std())
	}
	seen := make(map[string]bool, len(c.Archives))
	for i, a := range c.Archives {
		if a.ID == "" {
			return fmt.Errorf("archives[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("archives[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		switch a.Kind {
		case "qido":
			if a.QidoURL == "" {
				return fmt.Errorf("archive %q: qidoURL is required for kind qido", a.ID)
			}
		case "db":
			if a.DSN == "" {
				return fmt.Errorf("archive %q: dsn is required for kind db", a.ID)
			}
		default:
			return fmt.Errorf("archive %q: unknown kind %q", a.ID, a.Kind)
		}
		if a.WadoURL == "" {
			return fmt.Errorf("archive %q: wadoURL is required", a.ID)
		}
	}
	return nil
}
