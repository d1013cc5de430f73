package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/pipeline"
)

// Upload modes.
const (
	UploadModeS3   = "s3"
	UploadModeDir  = "dir"
	UploadModeNoop = "noop"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Vault    VaultConfig       `yaml:"vault"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Pipeline PipelineConfig    `yaml:"pipeline"`
	Upload   UploadConfig      `yaml:"upload"`
	Watch    WatchConfig       `yaml:"watch"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Vault.Validate(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return c.Watch.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	Log      LogConfig  `yaml:"log"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// LogConfig configures the optional rotating log file. Output always goes
// to stdout; File additionally tees it into a rotated file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Validate validates the log configuration.
func (c *LogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxSizeMB, validation.Min(0)),
		validation.Field(&c.MaxBackups, validation.Min(0)),
		validation.Field(&c.MaxAgeDays, validation.Min(0)),
	)
}

// HTTPConfig holds the watch-mode status server configuration. Port 0
// disables the server.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Enabled reports whether the status server should run.
func (c *HTTPConfig) Enabled() bool { return c.Port != 0 }

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the content vault and its frontmatter
// delimiter.
type VaultConfig struct {
	Path      string `yaml:"path"`
	Delimiter string `yaml:"delimiter"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Delimiter, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// PipelineConfig controls the ingest run.
type PipelineConfig struct {
	Workers   int           `yaml:"workers"`
	Timeout   time.Duration `yaml:"timeout"`
	Reconcile bool          `yaml:"reconcile"`
	Prune     bool          `yaml:"prune"`
}

// Validate validates the pipeline configuration.
func (c *PipelineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// UploadConfig selects and configures the asset uploader.
//
// Mode is one of:
//   - "s3" (default): PutObject into Bucket; Endpoint selects an S3
//     compatible service such as Tigris or MinIO.
//   - "dir": mirror assets into Dir.
//   - "noop": discard uploads.
//
// Skip forces "noop" whatever the mode.
type UploadConfig struct {
	Mode            string        `yaml:"mode"`
	Skip            bool          `yaml:"skip"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	Prefix          string        `yaml:"prefix"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Timeout         time.Duration `yaml:"timeout"`
	Dir             string        `yaml:"dir"`
}

// EffectiveMode returns the mode after applying Skip.
func (c *UploadConfig) EffectiveMode() string {
	if c.Skip {
		return UploadModeNoop
	}
	return c.Mode
}

// Validate validates the upload configuration.
func (c *UploadConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = UploadModeS3
	}
	mode := c.EffectiveMode()
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(UploadModeS3, UploadModeDir, UploadModeNoop)),
		validation.Field(&c.Bucket, validation.When(mode == UploadModeS3, validation.Required)),
		validation.Field(&c.Dir, validation.When(mode == UploadModeDir, validation.Required)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.When(c.Enabled, validation.Required, validation.Min(time.Millisecond))),
	)
}

// IngestConfig converts the pipeline section into the ingester's config.
func (c *Config) IngestConfig() pipeline.Config {
	return pipeline.Config{
		Workers:   c.Pipeline.Workers,
		Timeout:   c.Pipeline.Timeout,
		Reconcile: c.Pipeline.Reconcile,
		Prune:     c.Pipeline.Prune,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			Log: LogConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
		Vault: VaultConfig{
			Path:      "./vault",
			Delimiter: "---",
		},
		SQLite: SQLiteConfig{
			Path: "./master.db",
		},
		Pipeline: PipelineConfig{
			Workers:   pipeline.DefaultWorkers,
			Timeout:   300 * time.Second,
			Reconcile: true,
		},
		Upload: UploadConfig{
			Mode:   UploadModeS3,
			Bucket: "conneroh-com",
			Region: "auto",
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}
