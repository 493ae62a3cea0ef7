package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/dlmanager/internal/model"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), settings)
	assert.NoError(t, settings.Validate())
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "config.json", `{"max_concurrent": 7, "sort_mode": "name", "state_backend": "s3", "s3_bucket": "b"}`},
		{"yaml", "config.yaml", "max_concurrent: 7\nsort_mode: name\nstate_backend: s3\ns3_bucket: b\n"},
		{"yml", "config.yml", "max_concurrent: 7\nsort_mode: name\nstate_backend: s3\ns3_bucket: b\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			settings, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 7, settings.MaxConcurrent)
			assert.Equal(t, "name", settings.SortMode)
			assert.Equal(t, BackendS3, settings.StateBackend)
			assert.Equal(t, "default", settings.Identifier, "unset fields keep their defaults")
			assert.NoError(t, settings.Validate())
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("no_such_field: 1\n"), 0644))
	_, err := Load(unknown)
	assert.Error(t, err)

	toml := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(toml, []byte("x = 1"), 0644))
	_, err = Load(toml)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_concurrent": 2, "log_level": "warn"}`), 0644))
	t.Setenv("DLM_MAX_CONCURRENT", "9")
	t.Setenv("DLM_TRASH_ENABLED", "false")

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, settings.MaxConcurrent)
	assert.False(t, settings.TrashEnabled)
	assert.Equal(t, "warn", settings.LogLevel)
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			settings := DefaultSettings()
			settings.MaxConcurrent = 0
			settings.SortMode = "manual"
			settings.UserAgent = "tester"
			require.NoError(t, settings.Save(path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, settings, loaded)
		})
	}
	assert.ErrorIs(t, DefaultSettings().Save(filepath.Join(t.TempDir(), "config.ini")), ErrUnsupportedFormat)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		ok     bool
	}{
		{"defaults", func(*Settings) {}, true},
		{"unknown sort mode", func(s *Settings) { s.SortMode = "color" }, false},
		{"unknown sort order", func(s *Settings) { s.SortOrder = "sideways" }, false},
		{"unknown log level", func(s *Settings) { s.LogLevel = "loud" }, false},
		{"unknown backend", func(s *Settings) { s.StateBackend = "tape" }, false},
		{"s3 without bucket", func(s *Settings) { s.StateBackend = BackendS3 }, false},
		{"postgres without dsn", func(s *Settings) { s.StateBackend = BackendPostgres }, false},
		{"postgres", func(s *Settings) { s.StateBackend = BackendPostgres; s.PostgresDSN = "postgres://x" }, true},
		{"file without path", func(s *Settings) { s.StatePath = "" }, false},
		{"negative timeout", func(s *Settings) { s.RequestTimeout = -1 }, false},
		{"no downloads path", func(s *Settings) { s.DownloadsPath = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)
			if tt.ok {
				assert.NoError(t, s.Validate())
			} else {
				assert.Error(t, s.Validate())
			}
		})
	}
}

func TestToOptions(t *testing.T) {
	s := DefaultSettings()
	s.Identifier = "work"
	s.MaxConcurrent = 4
	s.SortMode = "size"
	s.SortOrder = "desc"
	s.PauseBySuspension = false

	opts, err := s.ToOptions()
	require.NoError(t, err)
	assert.Equal(t, model.Options{
		Identifier:        "work",
		DownloadsPath:     s.DownloadsPath,
		MaxConcurrent:     4,
		PauseBySuspension: false,
		TrashEnabled:      true,
		SortMode:          model.SortBySize,
		SortOrder:         model.Descending,
	}, opts)

	s.SortMode = "nope"
	_, err = s.ToOptions()
	assert.Error(t, err)
}

func TestLevelAndDurations(t *testing.T) {
	s := DefaultSettings()
	s.LogLevel = "debug"
	level, err := s.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	s.RequestTimeout = 15
	assert.Equal(t, 15*time.Second, s.Timeout())

	s.ProgressInterval, s.ReconcileInterval = 0, 5
	progress, reconcile := s.Intervals()
	assert.Equal(t, time.Second, progress)
	assert.Equal(t, 5*time.Second, reconcile)
}

func TestOpenEngine_File(t *testing.T) {
	s := DefaultSettings()
	s.StatePath = t.TempDir()
	s.Identifier = "My Downloads"

	engine, closeFn, err := s.OpenEngine(context.Background(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer closeFn()
	assert.Equal(t, "my-downloads", engine.Namespace())

	s.StateBackend = "tape"
	_, _, err = s.OpenEngine(context.Background(), slog.Default())
	assert.Error(t, err)
}
