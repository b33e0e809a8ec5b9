package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mdsync/internal/domain"
	"mdsync/internal/etl"
)

// DefaultPath is used when neither -config nor MDSYNC_CONFIG is set.
const DefaultPath = "./mdsync.yaml"

// EnvPath names the environment variable holding the config path.
const EnvPath = "MDSYNC_CONFIG"

// Config is the whole mdsync configuration file.
type Config struct {
	StateDB     string                            `yaml:"state_db"`
	APIAddr     string                            `yaml:"api_addr"`
	MetricsAddr string                            `yaml:"metrics_addr"`
	Secrets     string                            `yaml:"secrets"` // "env" | "keychain"
	Staging     domain.StagingConnection          `yaml:"staging"`
	Fields      []etl.FieldDescriptor             `yaml:"fields"`
	Providers   map[string]*domain.ProviderConfig `yaml:"providers"`

	path   string
	schema *etl.FieldSchema
}

// ErrUnknownProvider is returned for provider names not in the config.
var ErrUnknownProvider = errors.New("unknown provider")

var tableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ResolvePath picks the config path: explicit flag, then MDSYNC_CONFIG,
// then DefaultPath.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads .env (if present) and the YAML file at path, applies defaults
// and validates the result, including the field schema.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

// Parse decodes, defaults and validates a YAML document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StateDB == "" {
		c.StateDB = "./data/mdsync.db"
	}
	if c.Secrets == "" {
		c.Secrets = "env"
	}
	if c.Staging.Table == "" {
		c.Staging.Table = "trips"
	}
	if c.Staging.KeyColumn == "" {
		c.Staging.KeyColumn = etl.DefaultDedupeKey
	}
	if len(c.Fields) == 0 {
		c.Fields = DefaultFields()
	}
	for name, p := range c.Providers {
		if p == nil {
			p = &domain.ProviderConfig{}
			c.Providers[name] = p
		}
		p.Name = name
		if p.Source == "" {
			p.Source = "mds"
		}
		if p.Interval == 0 {
			p.Interval = 3600
		}
		if p.Timeout == 0 {
			p.Timeout = 30
		}
		if p.TimeFormat == "" {
			p.TimeFormat = domain.TimeFormatSeconds
		}
		if p.AuthType == "" {
			p.AuthType = domain.AuthTypeBearer
		}
		if p.ProviderID == "" {
			p.ProviderID = name
		}
	}
}

func (c *Config) validate() error {
	switch c.Staging.Driver {
	case domain.DatabaseDriverPostgres, domain.DatabaseDriverMySQL, domain.DatabaseDriverSQLite, domain.DatabaseDriverMongoDB:
	case "":
		return fmt.Errorf("staging.driver is required")
	default:
		return fmt.Errorf("staging.driver %q is not supported", c.Staging.Driver)
	}
	if c.Staging.Host == "" {
		return fmt.Errorf("staging.host is required")
	}
	if !tableRe.MatchString(c.Staging.Table) {
		return fmt.Errorf("staging.table %q is not a valid identifier", c.Staging.Table)
	}

	schema, err := etl.NewFieldSchema(c.Fields)
	if err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	if !schema.Uploads(c.Staging.KeyColumn) {
		return fmt.Errorf("fields: key %q must be an uploaded field", c.Staging.KeyColumn)
	}
	if !schema.Uploads(etl.CheckpointField) {
		return fmt.Errorf("fields: %q must be an uploaded field", etl.CheckpointField)
	}
	c.schema = schema

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	for _, name := range c.ProviderNames() {
		if err := validateProvider(c.Providers[name]); err != nil {
			return fmt.Errorf("providers.%s: %w", name, err)
		}
	}
	return nil
}

func validateProvider(p *domain.ProviderConfig) error {
	if p.Interval < 0 {
		return fmt.Errorf("interval must be positive")
	}
	if p.TimeOffsetSeconds < 0 {
		return fmt.Errorf("time_offset_seconds must not be negative")
	}
	switch strings.ToLower(p.TimeFormat) {
	case domain.TimeFormatSeconds, domain.TimeFormatMillis, "mills":
	default:
		return fmt.Errorf("time_format %q is not supported", p.TimeFormat)
	}
	switch strings.ToLower(p.AuthType) {
	case domain.AuthTypeBearer, domain.AuthTypeToken, domain.AuthTypeHTTPBasicAuth:
	default:
		return fmt.Errorf("auth_type %q is not supported", p.AuthType)
	}

	switch p.Source {
	case "mds":
		if p.URL == "" {
			return fmt.Errorf("url is required")
		}
		if p.NeedsToken() {
			if p.AuthURL == "" {
				return fmt.Errorf("token or auth_url is required")
			}
			if p.AuthTokenResKey == "" {
				return fmt.Errorf("auth_token_res_key is required with auth_url")
			}
		}
	case "json_file":
		if p.FilePath == "" {
			return fmt.Errorf("file_path is required")
		}
	default:
		return fmt.Errorf("source %q is not supported", p.Source)
	}
	return nil
}

// Path returns the file the config was loaded from, if any.
func (c *Config) Path() string { return c.path }

// Schema returns the validated field schema.
func (c *Config) Schema() *etl.FieldSchema { return c.schema }

// Provider looks up a provider by name.
func (c *Config) Provider(name string) (*domain.ProviderConfig, error) {
	p, ok := c.Providers[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// ProviderNames returns provider names in sorted order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
