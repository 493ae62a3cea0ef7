package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/handiism/dlmanager/internal/model"
	"github.com/handiism/dlmanager/internal/store"
)

// EnvPrefix prefixes the environment variables that override the file.
const EnvPrefix = "DLM"

// State backends.
const (
	BackendFile     = "file"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
)

// ErrUnsupportedFormat is returned for configuration files that are
// neither JSON nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported configuration format")

// Settings holds all configuration options.
type Settings struct {
	// Manager settings
	Identifier        string `json:"identifier"          yaml:"identifier"          envconfig:"IDENTIFIER"`
	DownloadsPath     string `json:"downloads_path"      yaml:"downloads_path"      envconfig:"DOWNLOADS_PATH"`
	MaxConcurrent     int    `json:"max_concurrent"      yaml:"max_concurrent"      envconfig:"MAX_CONCURRENT"`
	PauseBySuspension bool   `json:"pause_by_suspension" yaml:"pause_by_suspension" envconfig:"PAUSE_BY_SUSPENSION"`
	TrashEnabled      bool   `json:"trash_enabled"       yaml:"trash_enabled"       envconfig:"TRASH_ENABLED"`
	SortMode          string `json:"sort_mode"           yaml:"sort_mode"           envconfig:"SORT_MODE"`   // manual, add_time, name, size, type
	SortOrder         string `json:"sort_order"          yaml:"sort_order"          envconfig:"SORT_ORDER"`  // ascending, descending

	// State persistence
	StateBackend string `json:"state_backend" yaml:"state_backend" envconfig:"STATE_BACKEND"` // file, s3, postgres
	StatePath    string `json:"state_path"    yaml:"state_path"    envconfig:"STATE_PATH"`
	S3Bucket     string `json:"s3_bucket"     yaml:"s3_bucket"     envconfig:"S3_BUCKET"`
	S3Prefix     string `json:"s3_prefix"     yaml:"s3_prefix"     envconfig:"S3_PREFIX"`
	S3Region     string `json:"s3_region"     yaml:"s3_region"     envconfig:"S3_REGION"`
	PostgresDSN  string `json:"postgres_dsn"  yaml:"postgres_dsn"  envconfig:"POSTGRES_DSN"`

	// HTTP transfers
	UserAgent      string `json:"user_agent"      yaml:"user_agent"      envconfig:"USER_AGENT"`
	RequestTimeout int    `json:"request_timeout" yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"` // seconds, 0 for none

	// Background work, in seconds
	ProgressInterval  int `json:"progress_interval"  yaml:"progress_interval"  envconfig:"PROGRESS_INTERVAL"`
	ReconcileInterval int `json:"reconcile_interval" yaml:"reconcile_interval" envconfig:"RECONCILE_INTERVAL"`

	LogLevel string `json:"log_level" yaml:"log_level" envconfig:"LOG_LEVEL"` // debug, info, warn, error
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	return &Settings{
		Identifier:        "default",
		DownloadsPath:     filepath.Join(homeDir, "Downloads"),
		MaxConcurrent:     3,
		PauseBySuspension: true,
		TrashEnabled:      true,
		SortMode:          model.SortByAddTime.String(),
		SortOrder:         model.Ascending.String(),

		StateBackend: BackendFile,
		StatePath:    filepath.Join(homeDir, ".local", "state", "dlm"),
		S3Region:     "us-east-1",

		UserAgent:      "dlm/1.0",
		RequestTimeout: 60,

		ProgressInterval:  1,
		ReconcileInterval: 30,

		LogLevel: "info",
	}
}

// DefaultPath returns the configuration file used when none is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "dlm", "config.yaml")
}

// Load reads settings from a JSON or YAML file, chosen by extension, and
// applies DLM_* environment overrides. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := settings.decode(path, data); err != nil {
			return nil, fmt.Errorf("reading config file `%s`: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading config file `%s`: %w", path, err)
	}

	if err := envconfig.Process(EnvPrefix, settings); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	return settings, nil
}

func (s *Settings) decode(path string, data []byte) error {
	switch format(path) {
	case "json":
		return json.Unmarshal(data, s)
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
}

// Save writes settings to a JSON or YAML file, chosen by extension.
func (s *Settings) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch format(path) {
	case "json":
		data, err = json.MarshalIndent(s, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(s)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	return ""
}

// Validate checks the values that cannot be defaulted.
func (s *Settings) Validate() error {
	if _, err := model.ParseSortMode(s.SortMode); err != nil {
		return err
	}
	if _, err := model.ParseSortOrder(s.SortOrder); err != nil {
		return err
	}
	if _, err := s.Level(); err != nil {
		return err
	}
	if s.DownloadsPath == "" {
		return fmt.Errorf("missing required configuration: downloads_path / %s_DOWNLOADS_PATH", EnvPrefix)
	}
	if s.RequestTimeout < 0 || s.ProgressInterval < 0 || s.ReconcileInterval < 0 {
		return errors.New("intervals and timeouts must not be negative")
	}

	switch s.StateBackend {
	case BackendFile:
		if s.StatePath == "" {
			return fmt.Errorf("missing required configuration: state_path / %s_STATE_PATH", EnvPrefix)
		}
	case BackendS3:
		if s.S3Bucket == "" {
			return fmt.Errorf("missing required configuration: s3_bucket / %s_S3_BUCKET", EnvPrefix)
		}
	case BackendPostgres:
		if s.PostgresDSN == "" {
			return fmt.Errorf("missing required configuration: postgres_dsn / %s_POSTGRES_DSN", EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown state backend %q", s.StateBackend)
	}
	return nil
}

// Level parses LogLevel. An empty level means info.
func (s *Settings) Level() (slog.Level, error) {
	var level slog.Level
	if s.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}
	return level, nil
}

// ToOptions converts settings to the manager's runtime options.
func (s *Settings) ToOptions() (model.Options, error) {
	mode, err := model.ParseSortMode(s.SortMode)
	if err != nil {
		return model.Options{}, err
	}
	order, err := model.ParseSortOrder(s.SortOrder)
	if err != nil {
		return model.Options{}, err
	}
	return model.Options{
		Identifier:        s.Identifier,
		DownloadsPath:     s.DownloadsPath,
		MaxConcurrent:     s.MaxConcurrent,
		PauseBySuspension: s.PauseBySuspension,
		TrashEnabled:      s.TrashEnabled,
		SortMode:          mode,
		SortOrder:         order,
	}, nil
}

// Timeout returns the per-request timeout, 0 for none.
func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

// Intervals returns the aggregate progress and reconciliation periods,
// falling back to one second and thirty seconds.
func (s *Settings) Intervals() (progress, reconcile time.Duration) {
	progress, reconcile = time.Second, 30*time.Second
	if s.ProgressInterval > 0 {
		progress = time.Duration(s.ProgressInterval) * time.Second
	}
	if s.ReconcileInterval > 0 {
		reconcile = time.Duration(s.ReconcileInterval) * time.Second
	}
	return progress, reconcile
}

// OpenEngine connects the configured state backend. The returned close
// function releases the backend's resources.
func (s *Settings) OpenEngine(ctx context.Context, logger *slog.Logger) (*store.Engine, func() error, error) {
	var (
		backend store.Backend
		closer  = func() error { return nil }
	)
	switch s.StateBackend {
	case BackendFile:
		backend = store.NewOSBackend(s.StatePath)
	case BackendS3:
		b, err := store.OpenS3(s.S3Region, s.S3Bucket, s.S3Prefix)
		if err != nil {
			return nil, nil, err
		}
		backend = b
	case BackendPostgres:
		b, err := store.OpenPostgres(ctx, s.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := b.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, nil, err
		}
		backend, closer = b, b.Close
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", s.StateBackend)
	}
	return store.NewEngine(backend, s.Identifier, store.WithLogger(logger)), closer, nil
}
