package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the main configuration for qsync.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // debug, info, warn, error
	Storage    StorageConfig    `toml:"storage"`
	S3         S3Config         `toml:"s3"`
	Database   DatabaseConfig   `toml:"database"`
	Preview    PreviewConfig    `toml:"preview"`
	Sync       SyncConfig       `toml:"sync"`
	Summary    SummaryConfig    `toml:"summary"`
	Encryption EncryptionConfig `toml:"encryption"`
	HTTP       HTTPConfig       `toml:"http"`
}

// StorageConfig selects the storage driver.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type          string   `toml:"type"`            // "local", "remote", or "" (remote when s3.bucket is set)
	LocalRoot     string   `toml:"local_root"`      // always used: previews are written locally
	StaticBaseURL string   `toml:"static_base_url"` // prefix of local "signed" URLs
	SignedURLTTL  Duration `toml:"signed_url_ttl"`
	ScanIgnore    []string `toml:"scan_ignore"` // extra patterns skipped by directory scans
}

// S3Config holds the S3-compatible object store settings (AWS, R2, MinIO).
type S3Config struct {
	Bucket          string `toml:"bucket,omitempty"`
	Region          string `toml:"region,omitempty"`
	Endpoint        string `toml:"endpoint,omitempty"`
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`
	Prefix          string `toml:"prefix,omitempty"`
	UsePathStyle    bool   `toml:"use_path_style,omitempty"`
}

// DatabaseConfig represents configuration for the metadata registry.
type DatabaseConfig struct {
	Type string `toml:"type"`           // "sqlite" or "memory"
	Path string `toml:"path,omitempty"` // only used for type=sqlite
}

// PreviewConfig configures the preview generation worker.
type PreviewConfig struct {
	Enabled      bool     `toml:"enabled"`
	BatchSize    int      `toml:"batch_size"`
	SizeClasses  []int    `toml:"size_classes"`
	JPEGQuality  int      `toml:"jpeg_quality"`
	Interval     Duration `toml:"interval"`      // pause between passes under `qsync run`
	FetchTimeout Duration `toml:"fetch_timeout"` // signed URL downloads
}

// SyncConfig configures the quote sync worker and its retry helper.
type SyncConfig struct {
	MaxAttempts      int      `toml:"max_attempts"` // outer, per queue item
	PollInterval     Duration `toml:"poll_interval"`
	RetryBase        Duration `toml:"retry_base"`
	RetryMaxAttempts int      `toml:"retry_max_attempts"` // inner, per remote call
	RetryMaxJitter   Duration `toml:"retry_max_jitter"`
}

// SummaryConfig selects where quote summaries are upserted.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SummaryConfig struct {
	Type string `toml:"type"`          // "none", "memory", or "postgres"
	DSN  string `toml:"dsn,omitempty"` // only used for type=postgres
}

// EncryptionConfig holds paths to the age key pair used for snapshot payloads.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age", or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// HTTPConfig configures the companion endpoint.
type HTTPConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Duration is a time.Duration written as a string ("5s", "15m") in TOML.
type Duration struct {
	time.Duration
}

// D wraps a time.Duration.
func D(d time.Duration) Duration { return Duration{d} }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NewConfig creates a new Config rooted at baseDir with defaults applied.
func NewConfig(baseDir string) *Config {
	cfg := &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Storage: StorageConfig{
			Type:      "local",
			LocalRoot: filepath.Join(baseDir, "uploads"),
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "qsync.db"),
		},
		Preview: PreviewConfig{Enabled: true},
		Summary: SummaryConfig{Type: "none"},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "qsync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "qsync.key"),
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued tunables.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Storage.StaticBaseURL == "" {
		cfg.Storage.StaticBaseURL = "/files"
	}
	if cfg.Storage.SignedURLTTL.Duration == 0 {
		cfg.Storage.SignedURLTTL = D(15 * time.Minute)
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	if cfg.Preview.BatchSize <= 0 {
		cfg.Preview.BatchSize = 25
	}
	if len(cfg.Preview.SizeClasses) == 0 {
		cfg.Preview.SizeClasses = []int{256, 1024}
	}
	if cfg.Preview.JPEGQuality <= 0 {
		cfg.Preview.JPEGQuality = 82
	}
	if cfg.Preview.Interval.Duration == 0 {
		cfg.Preview.Interval = D(time.Minute)
	}
	if cfg.Preview.FetchTimeout.Duration == 0 {
		cfg.Preview.FetchTimeout = D(30 * time.Second)
	}
	if cfg.Sync.MaxAttempts <= 0 {
		cfg.Sync.MaxAttempts = 5
	}
	if cfg.Sync.PollInterval.Duration == 0 {
		cfg.Sync.PollInterval = D(5 * time.Second)
	}
	if cfg.Sync.RetryBase.Duration == 0 {
		cfg.Sync.RetryBase = D(500 * time.Millisecond)
	}
	if cfg.Sync.RetryMaxAttempts <= 0 {
		cfg.Sync.RetryMaxAttempts = 4
	}
	if cfg.Sync.RetryMaxJitter.Duration == 0 {
		cfg.Sync.RetryMaxJitter = D(250 * time.Millisecond)
	}
	if cfg.Summary.Type == "" {
		cfg.Summary.Type = "none"
	}
	if cfg.Encryption.Type == "" {
		cfg.Encryption.Type = "none"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = "127.0.0.1:8080"
	}
}

// StorageType resolves the effective storage driver type: an explicit type
// wins, otherwise a configured bucket selects the remote driver.
func (c *Config) StorageType() string {
	if c.Storage.Type != "" {
		return c.Storage.Type
	}
	if c.S3.Bucket != "" {
		return "remote"
	}
	return "local"
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	switch c.StorageType() {
	case "local":
	case "remote":
		if c.S3.Bucket == "" {
			return fmt.Errorf("remote storage requires s3.bucket")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}
	if c.Storage.LocalRoot == "" {
		return fmt.Errorf("storage.local_root is required")
	}
	if c.Summary.Type == "postgres" && c.Summary.DSN == "" {
		return fmt.Errorf("postgres summary store requires summary.dsn")
	}
	for _, s := range c.Preview.SizeClasses {
		if s <= 0 {
			return fmt.Errorf("preview size class must be positive, got %d", s)
		}
	}
	return nil
}

// envOverrides maps environment variables onto config fields.
var envOverrides = map[string]func(*Config, string) error{
	"QSYNC_STORAGE_TYPE":         func(c *Config, v string) error { c.Storage.Type = v; return nil },
	"QSYNC_LOCAL_ROOT":           func(c *Config, v string) error { c.Storage.LocalRoot = v; return nil },
	"QSYNC_S3_BUCKET":            func(c *Config, v string) error { c.S3.Bucket = v; return nil },
	"QSYNC_S3_REGION":            func(c *Config, v string) error { c.S3.Region = v; return nil },
	"QSYNC_S3_ENDPOINT":          func(c *Config, v string) error { c.S3.Endpoint = v; return nil },
	"QSYNC_S3_ACCESS_KEY_ID":     func(c *Config, v string) error { c.S3.AccessKeyID = v; return nil },
	"QSYNC_S3_SECRET_ACCESS_KEY": func(c *Config, v string) error { c.S3.SecretAccessKey = v; return nil },
	"QSYNC_S3_PREFIX":            func(c *Config, v string) error { c.S3.Prefix = v; return nil },
	"QSYNC_DB_PATH":              func(c *Config, v string) error { c.Database.Path = v; return nil },
	"QSYNC_PREVIEW_ENABLED": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Preview.Enabled = b
		return nil
	},
	"QSYNC_SYNC_MAX_ATTEMPTS": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Sync.MaxAttempts = n
		return nil
	},
	"QSYNC_SUMMARY_DSN": func(c *Config, v string) error {
		c.Summary.Type = "postgres"
		c.Summary.DSN = v
		return nil
	},
}

// ApplyEnv overrides config fields from the environment. lookup is usually os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for name, apply := range envOverrides {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := apply(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the config file, applies defaults and environment overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may carry S3 credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
