// Package config provides configuration management for nfse-downloader.
//
// This package handles:
//   - Loading and saving settings from JSON or YAML files
//   - Default configuration values
//   - Environment overrides for secrets and paths
//   - Validation
//   - Conversion to the cache, runner and path configurations
//
// # Default Settings
//
// Use DefaultSettings() to get sensible defaults:
//
//	settings := config.DefaultSettings()
//	// Downloads to ~/NFSe/{year}/{month}{year}/{taxpayer}/
//	// Two jobs at a time, conflicts reported for review
//
// # Loading from File
//
//	settings, err := config.Load("/etc/nfse/config.yaml")
//	if err != nil {
//	    // Uses defaults if file doesn't exist
//	}
//	if err := settings.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
// Files ending in .yaml or .yml are read as YAML, anything else as JSON.
//
// # Environment
//
// These variables override the file:
//
//	NFSE_PORTAL_TOKEN     portal_token
//	NFSE_ARCHIVE_DSN      archive_dsn
//	NFSE_DOWNLOADS_PATH   downloads_path
//
// # Cache Namespaces
//
// Each namespace is bounded independently:
//
//	cache:
//	  sweep_interval_seconds: 60
//	  namespaces:
//	    file-listing:       {ttl_seconds: 30, max_entries: 1000}
//	    content-hash:       {ttl_seconds: 86400, max_entries: 100000}
//	    parsed-artifact:    {ttl_seconds: 3600, max_entries: 10000}
//	    duplicate-decision: {ttl_seconds: 21600, max_entries: 100000}
package config
