package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/handiism/nfse-downloader/internal/cache"
	"github.com/handiism/nfse-downloader/internal/download"
	"github.com/handiism/nfse-downloader/internal/model"
)

const (
	portalTokenEnv   = "NFSE_PORTAL_TOKEN"
	archiveDSNEnv    = "NFSE_ARCHIVE_DSN"
	downloadsPathEnv = "NFSE_DOWNLOADS_PATH"
)

// Settings holds all configuration options.
type Settings struct {
	// Download settings
	DownloadsPath          string  `json:"downloads_path" yaml:"downloads_path"`
	MaxConcurrentJobs      int     `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	MaxConcurrentDocuments int     `json:"max_concurrent_documents" yaml:"max_concurrent_documents"`
	DownloadMaxRetries     int     `json:"download_max_retries" yaml:"download_max_retries"`
	DownloadRetryCooldown  float64 `json:"download_retry_cooldown" yaml:"download_retry_cooldown"`
	DownloadRetryExponent  float64 `json:"download_retry_exponent" yaml:"download_retry_exponent"`

	// Conflict handling
	ConflictAction string `json:"conflict_action" yaml:"conflict_action"` // report, quarantine
	ConflictsPath  string `json:"conflicts_path" yaml:"conflicts_path"`

	// Portal settings
	PortalURL      string  `json:"portal_url" yaml:"portal_url"`
	PortalToken    string  `json:"portal_token,omitempty" yaml:"portal_token,omitempty"`
	PortalCookie   string  `json:"portal_cookie,omitempty" yaml:"portal_cookie,omitempty"` // NAME=value
	UserAgent      string  `json:"user_agent" yaml:"user_agent"`
	RequestTimeout float64 `json:"request_timeout" yaml:"request_timeout"`

	// Cache settings
	Cache CacheSettings `json:"cache" yaml:"cache"`

	// Reporting and archive
	ReportAddress string `json:"report_address" yaml:"report_address"`
	ArchiveDSN    string `json:"archive_dsn,omitempty" yaml:"archive_dsn,omitempty"`

	LogLevel string `json:"log_level" yaml:"log_level"`
}

// CacheSettings configures the shared cache.
type CacheSettings struct {
	SweepIntervalSeconds int                          `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"`
	Namespaces           map[string]NamespaceSettings `json:"namespaces" yaml:"namespaces"`
}

// NamespaceSettings bounds one cache namespace. Zero values disable the
// corresponding limit.
type NamespaceSettings struct {
	TTLSeconds int `json:"ttl_seconds" yaml:"ttl_seconds"`
	MaxEntries int `json:"max_entries" yaml:"max_entries"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()

	runner := download.DefaultConfig()
	cacheCfg := cache.DefaultConfig()

	namespaces := make(map[string]NamespaceSettings, len(cacheCfg.Policies))
	for ns, p := range cacheCfg.Policies {
		namespaces[string(ns)] = NamespaceSettings{
			TTLSeconds: int(p.TTL / time.Second),
			MaxEntries: p.MaxEntries,
		}
	}

	return &Settings{
		DownloadsPath:          filepath.Join(homeDir, "NFSe"),
		MaxConcurrentJobs:      runner.MaxConcurrentJobs,
		MaxConcurrentDocuments: 4,
		DownloadMaxRetries:     runner.DownloadMaxRetries,
		DownloadRetryCooldown:  runner.DownloadRetryCooldown,
		DownloadRetryExponent:  runner.DownloadRetryExponent,

		ConflictAction: string(download.ConflictReport),

		PortalURL:      "https://www.nfse.gov.br/EmissorNacional",
		UserAgent:      "nfse-downloader",
		RequestTimeout: 60,

		Cache: CacheSettings{
			SweepIntervalSeconds: int(cacheCfg.SweepInterval / time.Second),
			Namespaces:           namespaces,
		},

		LogLevel: "info",
	}
}

// Load reads settings from a JSON or YAML file (by extension) and applies
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	settings := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := unmarshal(path, data, settings); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, err
		}
	}

	settings.applyEnvOverrides()
	return settings, nil
}

// Save writes settings to a JSON or YAML file (by extension).
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(s)
	} else {
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func unmarshal(path string, data []byte, s *Settings) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, s)
	}
	return json.Unmarshal(data, s)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (s *Settings) applyEnvOverrides() {
	if v := os.Getenv(portalTokenEnv); v != "" {
		s.PortalToken = v
	}
	if v := os.Getenv(archiveDSNEnv); v != "" {
		s.ArchiveDSN = v
	}
	if v := os.Getenv(downloadsPathEnv); v != "" {
		s.DownloadsPath = v
	}
}

// Validate reports every invalid option at once.
func (s *Settings) Validate() error {
	var errs []error

	if strings.TrimSpace(s.DownloadsPath) == "" {
		errs = append(errs, errors.New("downloads_path is required"))
	}
	if s.MaxConcurrentJobs < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_jobs must be at least 1, got %d", s.MaxConcurrentJobs))
	}
	if s.MaxConcurrentDocuments < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_documents must be at least 1, got %d", s.MaxConcurrentDocuments))
	}
	if s.DownloadMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("download_max_retries must not be negative, got %d", s.DownloadMaxRetries))
	}
	if s.DownloadRetryCooldown < 0 || s.DownloadRetryExponent < 1 {
		errs = append(errs, errors.New("download_retry_cooldown must be >= 0 and download_retry_exponent >= 1"))
	}

	switch download.ConflictAction(s.ConflictAction) {
	case download.ConflictReport, download.ConflictQuarantine:
	default:
		errs = append(errs, fmt.Errorf("conflict_action must be %q or %q, got %q",
			download.ConflictReport, download.ConflictQuarantine, s.ConflictAction))
	}

	if s.PortalCookie != "" {
		if name, value, ok := strings.Cut(s.PortalCookie, "="); !ok || name == "" || value == "" {
			errs = append(errs, errors.New("portal_cookie must look like NAME=value"))
		}
	}
	if s.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request_timeout must not be negative, got %v", s.RequestTimeout))
	}

	if s.Cache.SweepIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("cache.sweep_interval_seconds must not be negative, got %d", s.Cache.SweepIntervalSeconds))
	}
	for name, ns := range s.Cache.Namespaces {
		if !knownNamespace(name) {
			errs = append(errs, fmt.Errorf("cache.namespaces: unknown namespace %q", name))
			continue
		}
		if ns.TTLSeconds < 0 || ns.MaxEntries < 0 {
			errs = append(errs, fmt.Errorf("cache.namespaces.%s: ttl_seconds and max_entries must not be negative", name))
		}
	}

	return errors.Join(errs...)
}

func knownNamespace(name string) bool {
	for _, ns := range cache.Namespaces {
		if string(ns) == name {
			return true
		}
	}
	return false
}

// CachePolicies converts settings to the cache configuration. Namespaces not
// listed keep their defaults.
func (s *Settings) CachePolicies() cache.Config {
	cfg := cache.DefaultConfig()
	if s.Cache.SweepIntervalSeconds > 0 {
		cfg.SweepInterval = time.Duration(s.Cache.SweepIntervalSeconds) * time.Second
	}
	for name, ns := range s.Cache.Namespaces {
		if !knownNamespace(name) {
			continue
		}
		cfg.Policies[cache.Namespace(name)] = cache.Policy{
			TTL:        time.Duration(ns.TTLSeconds) * time.Second,
			MaxEntries: ns.MaxEntries,
		}
	}
	return cfg
}

// RunnerConfig converts settings to the job runner configuration.
func (s *Settings) RunnerConfig() download.Config {
	return download.Config{
		MaxConcurrentJobs:     s.MaxConcurrentJobs,
		DownloadMaxRetries:    s.DownloadMaxRetries,
		DownloadRetryCooldown: s.DownloadRetryCooldown,
		DownloadRetryExponent: s.DownloadRetryExponent,
		ConflictAction:        download.ConflictAction(s.ConflictAction),
	}
}

// ToPathConfig converts settings to PathConfig.
func (s *Settings) ToPathConfig() *model.PathConfig {
	return &model.PathConfig{
		DownloadsPath: s.DownloadsPath,
	}
}

// Timeout returns the HTTP request timeout.
func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.RequestTimeout * float64(time.Second))
}

// Cookie splits PortalCookie into name and value.
func (s *Settings) Cookie() (name, value string) {
	name, value, _ = strings.Cut(s.PortalCookie, "=")
	return strings.TrimSpace(name), strings.TrimSpace(value)
}
