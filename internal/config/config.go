// Package config loads and validates the runtime configuration. Options
// live under flat snake_case keys in a YAML file, overridable through
// environment variables, with .env files loaded first. Unknown keys are
// rejected at startup rather than ignored, so a typo fails loudly
// instead of silently running with a default.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/devscope-hq/devscope/internal/errs"
)

// GitHub core API quotas per hour, and the inter-call spacing that
// spreads a full window across it.
const (
	authenticatedPermits = 5000
	anonymousPermits     = 60

	authenticatedSpacing = 720 * time.Millisecond
	anonymousSpacing     = time.Minute
)

// Config is the full recognized option set.
type Config struct {
	GitHubToken        string   `mapstructure:"github_token" yaml:"github_token,omitempty"`
	SeedOrgs           []string `mapstructure:"seed_orgs" yaml:"seed_orgs,omitempty"`
	SeedRepos          []string `mapstructure:"seed_repos" yaml:"seed_repos,omitempty"`
	WatchlistUsernames []string `mapstructure:"watchlist_usernames" yaml:"watchlist_usernames,omitempty"`

	FreshnessWindowDays       int    `mapstructure:"freshness_window_days" yaml:"freshness_window_days"`
	WorkerConcurrency         int    `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	PerUserRepoCap            int    `mapstructure:"per_user_repo_cap" yaml:"per_user_repo_cap"`
	HTTPTimeoutSeconds        int    `mapstructure:"http_timeout_seconds" yaml:"http_timeout_seconds"`
	PerCandidateBudgetSeconds int    `mapstructure:"per_candidate_budget_seconds" yaml:"per_candidate_budget_seconds"`
	MinIntercallSpacingMS     int    `mapstructure:"min_intercall_spacing_ms" yaml:"min_intercall_spacing_ms,omitempty"`
	DictionariesVersion       string `mapstructure:"dictionaries_version" yaml:"dictionaries_version,omitempty"`

	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn,omitempty"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path,omitempty"`

	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr,omitempty"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db,omitempty"`

	Neo4jURI      string `mapstructure:"neo4j_uri" yaml:"neo4j_uri,omitempty"`
	Neo4jUser     string `mapstructure:"neo4j_user" yaml:"neo4j_user,omitempty"`
	Neo4jPassword string `mapstructure:"neo4j_password" yaml:"neo4j_password,omitempty"`

	MetricsAddr    string `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
	CheckpointPath string `mapstructure:"checkpoint_path" yaml:"checkpoint_path,omitempty"`
}

var recognizedKeys = map[string]bool{
	"github_token":                 true,
	"seed_orgs":                    true,
	"seed_repos":                   true,
	"watchlist_usernames":          true,
	"freshness_window_days":        true,
	"worker_concurrency":           true,
	"per_user_repo_cap":            true,
	"http_timeout_seconds":         true,
	"per_candidate_budget_seconds": true,
	"min_intercall_spacing_ms":     true,
	"dictionaries_version":         true,
	"postgres_dsn":                 true,
	"sqlite_path":                  true,
	"redis_addr":                   true,
	"redis_password":               true,
	"redis_db":                     true,
	"neo4j_uri":                    true,
	"neo4j_user":                   true,
	"neo4j_password":               true,
	"metrics_addr":                 true,
	"checkpoint_path":              true,
}

// Default returns the documented defaults. Paths land under ~/.devscope
// so the tool works out of the box without provisioning.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		FreshnessWindowDays:       30,
		WorkerConcurrency:         8,
		PerUserRepoCap:            50,
		HTTPTimeoutSeconds:        30,
		PerCandidateBudgetSeconds: 600,
		SQLitePath:                filepath.Join(homeDir, ".devscope", "devscope.db"),
		CheckpointPath:            filepath.Join(homeDir, ".devscope", "checkpoint.db"),
	}
}

// Load reads configuration from path, or from the standard locations
// (./.devscope, ., ~/.devscope) when path is empty. A missing file is
// fine; an unreadable or unrecognized one is a ConfigurationError.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	defaults := Default()
	v.SetDefault("github_token", defaults.GitHubToken)
	v.SetDefault("seed_orgs", defaults.SeedOrgs)
	v.SetDefault("seed_repos", defaults.SeedRepos)
	v.SetDefault("watchlist_usernames", defaults.WatchlistUsernames)
	v.SetDefault("freshness_window_days", defaults.FreshnessWindowDays)
	v.SetDefault("worker_concurrency", defaults.WorkerConcurrency)
	v.SetDefault("per_user_repo_cap", defaults.PerUserRepoCap)
	v.SetDefault("http_timeout_seconds", defaults.HTTPTimeoutSeconds)
	v.SetDefault("per_candidate_budget_seconds", defaults.PerCandidateBudgetSeconds)
	v.SetDefault("min_intercall_spacing_ms", defaults.MinIntercallSpacingMS)
	v.SetDefault("dictionaries_version", defaults.DictionariesVersion)
	v.SetDefault("postgres_dsn", defaults.PostgresDSN)
	v.SetDefault("sqlite_path", defaults.SQLitePath)
	v.SetDefault("redis_addr", defaults.RedisAddr)
	v.SetDefault("redis_password", defaults.RedisPassword)
	v.SetDefault("redis_db", defaults.RedisDB)
	v.SetDefault("neo4j_uri", defaults.Neo4jURI)
	v.SetDefault("neo4j_user", defaults.Neo4jUser)
	v.SetDefault("neo4j_password", defaults.Neo4jPassword)
	v.SetDefault("metrics_addr", defaults.MetricsAddr)
	v.SetDefault("checkpoint_path", defaults.CheckpointPath)

	v.SetEnvPrefix("DEVSCOPE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".devscope")
		v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".devscope"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errs.ConfigErrorf("read config: %v", err)
		}
	}

	if unknown := unknownOptions(v); len(unknown) > 0 {
		return nil, errs.ConfigErrorf("unrecognized configuration options: %s",
			strings.Join(unknown, ", "))
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errs.ConfigErrorf("parse config: %v", err)
	}

	applyEnvOverrides(cfg)
	cfg.SQLitePath = expandPath(cfg.SQLitePath)
	cfg.CheckpointPath = expandPath(cfg.CheckpointPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// unknownOptions lists config-file keys outside the recognized set.
func unknownOptions(v *viper.Viper) []string {
	var unknown []string
	for _, key := range v.AllKeys() {
		if v.InConfig(key) && !recognizedKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// loadEnvFiles loads .env files without overriding already-set
// variables, closest directory first.
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		homeEnv := filepath.Join(homeDir, ".devscope", ".env")
		if _, err := os.Stat(homeEnv); err == nil {
			godotenv.Load(homeEnv)
		}
	}
}

// applyEnvOverrides applies the conventional unprefixed variables.
// GITHUB_TOKEN and GH_TOKEN are checked in that order, then the OS
// keychain fills the token last so a shell export always wins.
func applyEnvOverrides(cfg *Config) {
	for _, envVar := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if token := os.Getenv(envVar); token != "" {
			cfg.GitHubToken = token
			break
		}
	}
	if cfg.GitHubToken == "" {
		kr := NewKeyring()
		if kr.IsAvailable() {
			if token, err := kr.GitHubToken(); err == nil && token != "" {
				cfg.GitHubToken = token
			}
		}
	}

	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.PostgresDSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Neo4jURI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		cfg.Neo4jUser = user
	}
	if password := os.Getenv("NEO4J_PASSWORD"); password != "" {
		cfg.Neo4jPassword = password
	}
}

// Validate checks option values. Seed emptiness is not checked here;
// commands that need seeds enforce that themselves.
func (c *Config) Validate() error {
	if c.FreshnessWindowDays < 0 {
		return errs.ConfigErrorf("freshness_window_days must be >= 0, got %d", c.FreshnessWindowDays)
	}
	if c.WorkerConcurrency < 1 {
		return errs.ConfigErrorf("worker_concurrency must be >= 1, got %d", c.WorkerConcurrency)
	}
	if c.PerUserRepoCap < 1 {
		return errs.ConfigErrorf("per_user_repo_cap must be >= 1, got %d", c.PerUserRepoCap)
	}
	if c.HTTPTimeoutSeconds < 1 {
		return errs.ConfigErrorf("http_timeout_seconds must be >= 1, got %d", c.HTTPTimeoutSeconds)
	}
	if c.PerCandidateBudgetSeconds < 1 {
		return errs.ConfigErrorf("per_candidate_budget_seconds must be >= 1, got %d", c.PerCandidateBudgetSeconds)
	}
	if c.MinIntercallSpacingMS < 0 {
		return errs.ConfigErrorf("min_intercall_spacing_ms must be >= 0, got %d", c.MinIntercallSpacingMS)
	}

	for _, repo := range c.SeedRepos {
		parts := strings.Split(repo, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return errs.ConfigErrorf("seed_repos entries must be owner/name, got %q", repo)
		}
	}

	if c.PostgresDSN == "" && c.SQLitePath == "" {
		return errs.ConfigError("either postgres_dsn or sqlite_path must be set")
	}
	if c.Neo4jURI != "" && (c.Neo4jUser == "" || c.Neo4jPassword == "") {
		return errs.ConfigError("neo4j_uri requires neo4j_user and neo4j_password")
	}
	return nil
}

// CheckDictionaries rejects a pinned dictionaries_version the binary
// cannot honor. Derived outputs depend on the dictionaries, so running
// with a different version than the operator pinned would silently
// change results.
func (c *Config) CheckDictionaries(embedded string) error {
	if c.DictionariesVersion != "" && c.DictionariesVersion != embedded {
		return errs.ConfigErrorf("dictionaries_version %s not available, binary ships %s",
			c.DictionariesVersion, embedded)
	}
	return nil
}

// Authenticated reports whether a token is configured.
func (c *Config) Authenticated() bool {
	return c.GitHubToken != ""
}

// PermitsPerHour returns the hourly API quota for the configured
// credential level.
func (c *Config) PermitsPerHour() int {
	if c.Authenticated() {
		return authenticatedPermits
	}
	return anonymousPermits
}

// Spacing returns the minimum inter-call interval: the configured
// override when set, otherwise the default for the credential level.
func (c *Config) Spacing() time.Duration {
	if c.MinIntercallSpacingMS > 0 {
		return time.Duration(c.MinIntercallSpacingMS) * time.Millisecond
	}
	if c.Authenticated() {
		return authenticatedSpacing
	}
	return anonymousSpacing
}

// HTTPTimeout returns the per-request timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// CandidateBudget returns the soft per-candidate time budget.
func (c *Config) CandidateBudget() time.Duration {
	return time.Duration(c.PerCandidateBudgetSeconds) * time.Second
}

// FreshnessWindow returns the re-enrichment age threshold.
func (c *Config) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessWindowDays) * 24 * time.Hour
}

// UsePostgres reports whether the relational store should be Postgres;
// otherwise the SQLite fallback at SQLitePath is used.
func (c *Config) UsePostgres() bool {
	return c.PostgresDSN != ""
}

// Save writes the configuration as YAML with owner-only permissions.
// Callers should blank GitHubToken first when the keychain holds it;
// the omitempty tags then keep secrets out of the file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errs.FileSystemError(err, "create config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errs.ConfigErrorf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errs.FileSystemError(err, "write config file")
	}
	return nil
}

// DefaultPath returns ~/.devscope/config.yaml.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".devscope", "config.yaml")
	}
	return filepath.Join(homeDir, ".devscope", "config.yaml")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Summary returns the loggable non-secret view of the configuration.
func (c *Config) Summary() map[string]any {
	store := "sqlite"
	if c.UsePostgres() {
		store = "postgres"
	}
	return map[string]any{
		"authenticated":    c.Authenticated(),
		"token":            MaskToken(c.GitHubToken),
		"seed_orgs":        len(c.SeedOrgs),
		"seed_repos":       len(c.SeedRepos),
		"watchlist":        len(c.WatchlistUsernames),
		"freshness_days":   c.FreshnessWindowDays,
		"workers":          c.WorkerConcurrency,
		"store":            store,
		"cache":            c.RedisAddr != "",
		"graph":            c.Neo4jURI != "",
		"spacing":          c.Spacing().String(),
		"permits_per_hour": c.PermitsPerHour(),
	}
}
