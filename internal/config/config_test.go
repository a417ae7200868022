package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearCredentialEnv pins every variable applyEnvOverrides consults so
// the host environment cannot leak into assertions.
func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{"GITHUB_TOKEN", "GH_TOKEN", "POSTGRES_DSN", "REDIS_ADDR",
		"NEO4J_URI", "NEO4J_USER", "NEO4J_PASSWORD"} {
		t.Setenv(v, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("GITHUB_TOKEN", "env-token")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.GitHubToken)
	assert.Equal(t, 30, cfg.FreshnessWindowDays)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.Equal(t, 50, cfg.PerUserRepoCap)
	assert.Equal(t, 30, cfg.HTTPTimeoutSeconds)
	assert.Equal(t, 600, cfg.PerCandidateBudgetSeconds)
	assert.Contains(t, cfg.SQLitePath, ".devscope")
	assert.Empty(t, cfg.PostgresDSN)
	assert.Empty(t, cfg.SeedOrgs)
}

func TestLoadFromFile(t *testing.T) {
	clearCredentialEnv(t)

	path := writeConfig(t, `
github_token: file-token
seed_orgs: [acme, globex]
seed_repos: [acme/widgets]
watchlist_usernames: [octocat]
freshness_window_days: 7
worker_concurrency: 4
postgres_dsn: postgres://localhost/devscope
redis_addr: localhost:6379
metrics_addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.GitHubToken)
	assert.Equal(t, []string{"acme", "globex"}, cfg.SeedOrgs)
	assert.Equal(t, []string{"acme/widgets"}, cfg.SeedRepos)
	assert.Equal(t, []string{"octocat"}, cfg.WatchlistUsernames)
	assert.Equal(t, 7, cfg.FreshnessWindowDays)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.True(t, cfg.UsePostgres())
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("GITHUB_TOKEN", "env-token")
	t.Setenv("POSTGRES_DSN", "postgres://env/devscope")

	path := writeConfig(t, `
github_token: file-token
postgres_dsn: postgres://file/devscope
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.GitHubToken)
	assert.Equal(t, "postgres://env/devscope", cfg.PostgresDSN)
}

func TestLoadGHTokenFallback(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("GH_TOKEN", "gh-cli-token")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "gh-cli-token", cfg.GitHubToken)
}

func TestLoadRejectsUnknownOptions(t *testing.T) {
	clearCredentialEnv(t)

	path := writeConfig(t, `
freshness_days: 7
worker_count: 4
seed_orgs: [acme]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized configuration options")
	assert.Contains(t, err.Error(), "freshness_days")
	assert.Contains(t, err.Error(), "worker_count")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearCredentialEnv(t)

	_, err := Load(writeConfig(t, "worker_concurrency: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker_concurrency")
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return Default() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults pass", func(*Config) {}, ""},
		{"negative freshness", func(c *Config) { c.FreshnessWindowDays = -1 }, "freshness_window_days"},
		{"zero workers", func(c *Config) { c.WorkerConcurrency = 0 }, "worker_concurrency"},
		{"zero repo cap", func(c *Config) { c.PerUserRepoCap = 0 }, "per_user_repo_cap"},
		{"zero timeout", func(c *Config) { c.HTTPTimeoutSeconds = 0 }, "http_timeout_seconds"},
		{"bad seed repo", func(c *Config) { c.SeedRepos = []string{"no-owner"} }, "owner/name"},
		{"bad seed repo empty owner", func(c *Config) { c.SeedRepos = []string{"/name"} }, "owner/name"},
		{"no store at all", func(c *Config) { c.SQLitePath = "" }, "postgres_dsn or sqlite_path"},
		{"neo4j without credentials", func(c *Config) { c.Neo4jURI = "bolt://localhost" }, "neo4j_user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSpacingAndPermits(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 60, cfg.PermitsPerHour(), "anonymous quota without a token")
	assert.Equal(t, time.Minute, cfg.Spacing())

	cfg.GitHubToken = "ghp_sometoken"
	assert.Equal(t, 5000, cfg.PermitsPerHour())
	assert.Equal(t, 720*time.Millisecond, cfg.Spacing())

	cfg.MinIntercallSpacingMS = 1000
	assert.Equal(t, time.Second, cfg.Spacing(), "explicit override beats credential defaults")
}

func TestDerivedDurations(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, 10*time.Minute, cfg.CandidateBudget())
	assert.Equal(t, 30*24*time.Hour, cfg.FreshnessWindow())
}

func TestCheckDictionaries(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.CheckDictionaries("v1"), "unpinned accepts whatever ships")

	cfg.DictionariesVersion = "v1"
	assert.NoError(t, cfg.CheckDictionaries("v1"))

	cfg.DictionariesVersion = "v2"
	err := cfg.CheckDictionaries("v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "v2")
}

func TestSaveKeepsSecretsOutWhenBlanked(t *testing.T) {
	cfg := Default()
	cfg.SeedOrgs = []string{"acme"}
	cfg.GitHubToken = ""

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "github_token")
	assert.Contains(t, string(data), "freshness_window_days: 30")
	assert.Contains(t, string(data), "acme")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "data", "x.db"), expandPath("~/data/x.db"))
	assert.Equal(t, "/var/lib/x.db", expandPath("/var/lib/x.db"))
	assert.Equal(t, "", expandPath(""))
}
