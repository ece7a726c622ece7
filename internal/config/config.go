package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/concord-cpg-engine/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	file   string
	config *domain.Config
}

var _ domain.ConfigManager = (*Manager)(nil)

// NewManager creates a new configuration manager that searches the standard
// locations for concord.yaml
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile creates a configuration manager reading the given file. An
// empty path falls back to searching the standard locations.
func NewManagerFromFile(path string) (*Manager, error) {
	m := &Manager{file: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.file != "" {
		v.SetConfigFile(m.file)
	} else {
		v.SetConfigName("concord")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.concord")
		v.AddConfigPath("/etc/concord/")
	}

	// CONCORD_DATABASE_URL overrides database.url and so on
	v.SetEnvPrefix("CONCORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// The file is optional; defaults and environment variables are enough
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if config.Attestation.SQLitePath == "" {
		config.Attestation.SQLitePath = AttestationDBPath(config.DataDir)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Evaluation defaults
	v.SetDefault("evaluation.persona", string(domain.PATIENT))
	v.SetDefault("evaluation.undeclared_policy", string(domain.FAIL_FAST))
	v.SetDefault("evaluation.strict_validation", false)
	v.SetDefault("evaluation.until_year", 0)

	// Guideline defaults
	v.SetDefault("guidelines.dir", "./guidelines")
	v.SetDefault("guidelines.cache_size", 64)

	// Attestation defaults
	v.SetDefault("attestation.store", "sqlite")
	v.SetDefault("attestation.sqlite_path", "")

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "concord")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle", "30m")
	v.SetDefault("database.migrate", true)

	// Redis defaults
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.ttl", "0s")

	// Circuit breaker defaults
	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval", "60s")
	v.SetDefault("breaker.timeout", "30s")
	v.SetDefault("breaker.failure_threshold", 5)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Batch defaults
	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.rate", 0)
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// ConfigFileUsed returns the path of the file read, or "" when running on defaults
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a configuration for values the engine cannot run with
func Validate(config *domain.Config) error {
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}
	if f := strings.ToLower(config.Log.Format); f != "json" && f != "text" {
		return fmt.Errorf("invalid log format: %s", config.Log.Format)
	}

	// Validate evaluation configuration
	if _, err := domain.ParsePersona(config.Evaluation.Persona); err != nil {
		return fmt.Errorf("invalid evaluation persona: %w", err)
	}
	if _, err := domain.ParseUndeclaredPolicy(config.Evaluation.UndeclaredPolicy); err != nil {
		return fmt.Errorf("invalid undeclared policy: %w", err)
	}
	if config.Evaluation.UntilYear < 0 {
		return fmt.Errorf("invalid until year: %d", config.Evaluation.UntilYear)
	}

	if config.Guidelines.CacheSize <= 0 {
		return fmt.Errorf("guideline cache size must be positive: %d", config.Guidelines.CacheSize)
	}

	// Validate attestation store selection
	switch strings.ToLower(config.Attestation.Store) {
	case "none", "":
	case "sqlite":
		if config.Attestation.SQLitePath == "" {
			return fmt.Errorf("sqlite attestation store requires a path")
		}
	case "postgres":
		if config.Database.URL == "" && config.Database.Host == "" {
			return fmt.Errorf("postgres attestation store requires database url or host")
		}
		if config.Database.MaxConns < config.Database.MinConns {
			return fmt.Errorf("database max_conns %d is below min_conns %d",
				config.Database.MaxConns, config.Database.MinConns)
		}
	case "redis":
		if _, err := url.Parse(config.Redis.URL); err != nil || config.Redis.URL == "" {
			return fmt.Errorf("redis attestation store requires a valid url")
		}
	default:
		return fmt.Errorf("invalid attestation store: %s", config.Attestation.Store)
	}

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Batch.Workers <= 0 {
		return fmt.Errorf("batch workers must be positive: %d", config.Batch.Workers)
	}
	if config.Batch.Rate < 0 {
		return fmt.Errorf("batch rate cannot be negative: %v", config.Batch.Rate)
	}
	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	return DatabaseConnectionString(m.config.Database)
}

// DatabaseConnectionString prefers the configured URL and otherwise builds a
// postgres URL from the individual fields
func DatabaseConnectionString(db domain.DatabaseConfig) string {
	if db.URL != "" {
		return db.URL
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.User, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     "/" + db.Name,
		RawQuery: "sslmode=" + url.QueryEscape(db.SSLMode),
	}
	if db.Password == "" {
		u.User = url.User(db.User)
	}
	return u.String()
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Redis.URL
}

// AttestationDBPath returns the path of the SQLite attestation database in dataDir
func AttestationDBPath(dataDir string) string {
	return filepath.Join(dataDir, "attestations.db")
}
