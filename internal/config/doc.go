// Package config provides configuration management for the download
// manager binaries.
//
// This package handles:
//   - Loading and saving settings from JSON or YAML files
//   - Environment overrides with the DLM_ prefix
//   - Default configuration values
//   - Conversion to model.Options and opening the state backend
//
// # Loading from File
//
//	settings, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    return err
//	}
//	if err := settings.Validate(); err != nil {
//	    return err
//	}
//
// A missing file yields the defaults. Environment variables such as
// DLM_MAX_CONCURRENT or DLM_STATE_BACKEND override values from the file.
//
// # Saving Settings
//
//	settings.MaxConcurrent = 5
//	err := settings.Save("/path/to/config.yaml")
//
// # State Backends
//
// StateBackend selects where the manager keeps its records: "file" under
// StatePath, "s3" in S3Bucket below S3Prefix, or "postgres" at PostgresDSN.
package config
