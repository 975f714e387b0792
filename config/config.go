package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"daotreasury/native/treasury"
	"daotreasury/storage"
)

// Duration wraps time.Duration so both YAML and TOML files can use Go duration
// strings such as "72h".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config captures the runtime settings for treasuryd.
type Config struct {
	Network         string          `yaml:"network" toml:"network"`
	Environment     string          `yaml:"environment" toml:"environment"`
	ListenAddress   string          `yaml:"listen" toml:"listen"`
	DataDir         string          `yaml:"data_dir" toml:"data_dir"`
	AdminKeystore   string          `yaml:"admin_keystore" toml:"admin_keystore"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	Storage         StorageConfig   `yaml:"storage" toml:"storage"`
	Treasury        TreasuryConfig  `yaml:"treasury" toml:"treasury"`
	Auth            AuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Journal         JournalConfig   `yaml:"journal" toml:"journal"`
	Logging         LoggingConfig   `yaml:"logging" toml:"logging"`
	Telemetry       TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// StorageConfig selects the ledger database backend.
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
}

// TreasuryConfig holds the three deployment parameters. Exactly one of
// ContributionEnd (RFC3339) and ContributionWindow must be set. Unset fields
// are taken from the network preset.
type TreasuryConfig struct {
	ContributionEnd    string   `yaml:"contribution_end" toml:"contribution_end"`
	ContributionWindow Duration `yaml:"contribution_window" toml:"contribution_window"`
	VoteWindow         Duration `yaml:"vote_window" toml:"vote_window"`
	QuorumPercent      *uint64  `yaml:"quorum_percent" toml:"quorum_percent"`
}

// AuthConfig describes how bearer tokens are verified.
type AuthConfig struct {
	JWTSecretEnv string `yaml:"jwt_secret_env" toml:"jwt_secret_env"`
	Issuer       string `yaml:"issuer" toml:"issuer"`
	Audience     string `yaml:"audience" toml:"audience"`
}

// RateLimitConfig bounds write requests per client.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"rps" toml:"rps"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// JournalConfig points at the event journal database. A postgres:// DSN selects
// Postgres; anything else is treated as a SQLite path.
type JournalConfig struct {
	DSN string `yaml:"dsn" toml:"dsn"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	Headers     string  `yaml:"headers" toml:"headers"`
	Metrics     bool    `yaml:"metrics" toml:"metrics"`
	Traces      bool    `yaml:"traces" toml:"traces"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`

	// ExportInterval is the OTLP metric push period. Zero means 15s.
	ExportInterval Duration `yaml:"export_interval" toml:"export_interval"`
}

// Load reads the configuration from disk. Files ending in .toml are decoded
// as TOML, everything else as YAML.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("decode config: unknown key %q", undecoded[0].String())
		}
	default:
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if strings.TrimSpace(c.Network) == "" {
		c.Network = DefaultNetwork
	}
	preset, ok := Presets[c.Network]
	if !ok {
		return fmt.Errorf("unknown network %q", c.Network)
	}
	if c.ListenAddress == "" {
		c.ListenAddress = preset.ListenAddress
	}
	if c.DataDir == "" {
		c.DataDir = "./treasury-data"
	}
	if c.AdminKeystore == "" {
		c.AdminKeystore = filepath.Join(c.DataDir, "admin.keystore")
	}
	if c.ShutdownTimeout.Duration == 0 {
		c.ShutdownTimeout.Duration = 10 * time.Second
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = storage.BackendLevelDB
	}
	if c.Treasury.ContributionEnd == "" && c.Treasury.ContributionWindow.Duration == 0 {
		c.Treasury.ContributionWindow = Duration{preset.ContributionWindow}
	}
	if c.Treasury.VoteWindow.Duration == 0 {
		c.Treasury.VoteWindow = Duration{preset.VoteWindow}
	}
	if c.Treasury.QuorumPercent == nil {
		quorum := preset.QuorumPercent
		c.Treasury.QuorumPercent = &quorum
	}
	if c.Auth.JWTSecretEnv == "" {
		c.Auth.JWTSecretEnv = "TREASURY_JWT_SECRET"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Journal.DSN == "" {
		c.Journal.DSN = filepath.Join(c.DataDir, "journal.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Environment == "" {
		c.Environment = c.Network
	}
	return nil
}

// Validate checks the configuration is internally consistent.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("listen address is required")
	}
	switch c.Storage.Backend {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	t := c.Treasury
	if t.ContributionEnd != "" && t.ContributionWindow.Duration != 0 {
		return fmt.Errorf("treasury: set either contribution_end or contribution_window, not both")
	}
	if t.ContributionEnd != "" {
		if _, err := time.Parse(time.RFC3339, t.ContributionEnd); err != nil {
			return fmt.Errorf("treasury: contribution_end: %w", err)
		}
	} else if t.ContributionWindow.Duration <= 0 {
		return fmt.Errorf("treasury: contribution_window must be positive")
	}
	if t.VoteWindow.Duration <= 0 {
		return fmt.Errorf("treasury: vote_window must be positive")
	}
	if t.QuorumPercent == nil || *t.QuorumPercent > treasury.MaxQuorumPercent {
		return fmt.Errorf("treasury: quorum_percent must be between 0 and %d", treasury.MaxQuorumPercent)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1]")
	}
	if c.Telemetry.ExportInterval.Duration < 0 {
		return fmt.Errorf("telemetry: export_interval must not be negative")
	}
	return nil
}

// Relative reports whether the contribution end is derived from the time the
// treasury is first initialised.
func (c Config) Relative() bool {
	return c.Treasury.ContributionEnd == ""
}

// TreasuryParams resolves the ledger parameters. A relative contribution
// window is measured from now.
func (c Config) TreasuryParams(now time.Time) (treasury.Params, error) {
	params := treasury.Params{
		VoteWindow: c.Treasury.VoteWindow.Duration,
	}
	if c.Treasury.QuorumPercent != nil {
		params.QuorumPercent = *c.Treasury.QuorumPercent
	}
	if c.Relative() {
		params.ContributionEnd = now.Add(c.Treasury.ContributionWindow.Duration).UTC()
	} else {
		end, err := time.Parse(time.RFC3339, c.Treasury.ContributionEnd)
		if err != nil {
			return treasury.Params{}, fmt.Errorf("treasury: contribution_end: %w", err)
		}
		params.ContributionEnd = end.UTC()
	}
	if err := params.Validate(); err != nil {
		return treasury.Params{}, err
	}
	return params, nil
}
