package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/nfse-downloader/internal/cache"
	"github.com/handiism/nfse-downloader/internal/download"
)

func TestDefaultSettings_Valid(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	cfg := s.CachePolicies()
	assert.Equal(t, cache.DefaultConfig(), cfg)
	assert.Equal(t, download.DefaultConfig(), s.RunnerConfig())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings().MaxConcurrentJobs, s.MaxConcurrentJobs)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
downloads_path: /srv/nfse
max_concurrent_jobs: 4
conflict_action: quarantine
cache:
  sweep_interval_seconds: 15
  namespaces:
    file-listing:
      ttl_seconds: 5
      max_entries: 50
`), 0644))

	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, "/srv/nfse", s.DownloadsPath)
	assert.Equal(t, 4, s.RunnerConfig().MaxConcurrentJobs)
	assert.Equal(t, download.ConflictQuarantine, s.RunnerConfig().ConflictAction)

	cfg := s.CachePolicies()
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Equal(t, cache.Policy{TTL: 5 * time.Second, MaxEntries: 50}, cfg.Policies[cache.NamespaceListing])
	assert.Equal(t, cache.DefaultConfig().Policies[cache.NamespaceHash], cfg.Policies[cache.NamespaceHash])
}

func TestLoad_JSONAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"downloads_path": "/from/file", "portal_token": "file-token"}`), 0644))

	t.Setenv(portalTokenEnv, "env-token")
	t.Setenv(downloadsPathEnv, "/from/env")
	t.Setenv(archiveDSNEnv, "postgres://localhost/nfse")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", s.PortalToken)
	assert.Equal(t, "/from/env", s.DownloadsPath)
	assert.Equal(t, "postgres://localhost/nfse", s.ArchiveDSN)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			s := DefaultSettings()
			s.DownloadsPath = "/srv/nfse"
			s.ConflictAction = string(download.ConflictQuarantine)
			require.NoError(t, s.Save(path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, s, loaded)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Settings)
		want   string
	}{
		{"empty path", func(s *Settings) { s.DownloadsPath = " " }, "downloads_path"},
		{"no jobs", func(s *Settings) { s.MaxConcurrentJobs = 0 }, "max_concurrent_jobs"},
		{"negative retries", func(s *Settings) { s.DownloadMaxRetries = -1 }, "download_max_retries"},
		{"unknown conflict action", func(s *Settings) { s.ConflictAction = "rename" }, "conflict_action"},
		{"bad cookie", func(s *Settings) { s.PortalCookie = "JSESSIONID" }, "portal_cookie"},
		{"unknown namespace", func(s *Settings) {
			s.Cache.Namespaces["thumbnails"] = NamespaceSettings{TTLSeconds: 1}
		}, "unknown namespace"},
		{"negative ttl", func(s *Settings) {
			s.Cache.Namespaces[string(cache.NamespaceHash)] = NamespaceSettings{TTLSeconds: -1}
		}, "content-hash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCookie(t *testing.T) {
	s := DefaultSettings()
	s.PortalCookie = "JSESSIONID=abc=def"
	name, value := s.Cookie()
	assert.Equal(t, "JSESSIONID", name)
	assert.Equal(t, "abc=def", value)
}
