// Package config provides centralized configuration management for the
// surveykit estimation service. It handles loading configuration from
// multiple sources, validation, and provides a type-safe API for accessing
// configuration values throughout the application.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. Configuration file (YAML)
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern SVY_* for namespacing:
//
//	SVY_SERVER_PORT=8080
//	SVY_LOGGING_LEVEL=info
//	SVY_PATHS_DATA_DIR=/srv/surveykit/data
//	SVY_PATHS_STORE_FILE=/srv/surveykit/runs.db
//	SVY_OBSERVABILITY_ENABLE_METRICS=true
//
// The config file location may be pinned with SVY_CONFIG_FILE; otherwise
// config.yaml and configs/config.yaml are probed.
//
// # Path Management
//
// Relative paths in the configuration are resolved against the executable
// directory, never the working directory, via the Paths type:
//
//	paths, err := config.GetPaths()
//	datasetPath := paths.GetDatasetPath("catch_survey.csv")
//
// # Validation
//
// All configuration is validated at load time to ensure required fields are
// present and values are within acceptable ranges. Load never touches the
// file system beyond reading the config file; directory creation happens
// explicitly through EnsurePaths at startup.
//
// # Usage
//
// Load configuration at application startup:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
