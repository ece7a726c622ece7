package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	DataDir     string            `mapstructure:"data_dir"`
	Log         LogConfig         `mapstructure:"log"`
	Evaluation  EvaluationConfig  `mapstructure:"evaluation"`
	Guidelines  GuidelinesConfig  `mapstructure:"guidelines"`
	Attestation AttestationConfig `mapstructure:"attestation"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Server      ServerConfig      `mapstructure:"server"`
	Batch       BatchConfig       `mapstructure:"batch"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json", "text"
}

// EvaluationConfig controls how guidelines are evaluated
type EvaluationConfig struct {
	Persona          string `mapstructure:"persona"`
	UndeclaredPolicy string `mapstructure:"undeclared_policy"` // "fail_fast", "null_and_continue"
	StrictValidation bool   `mapstructure:"strict_validation"`
	// UntilYear drops subject data dated after the end of this year; 0 disables.
	UntilYear int `mapstructure:"until_year"`
}

// GuidelinesConfig represents guideline document loading configuration
type GuidelinesConfig struct {
	Dir       string `mapstructure:"dir"`
	CacheSize int    `mapstructure:"cache_size"`
}

// AttestationConfig selects where attestations are persisted
type AttestationConfig struct {
	Store      string `mapstructure:"store"` // "none", "sqlite", "postgres", "redis"
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdle     time.Duration `mapstructure:"conn_max_idle"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RedisConfig represents Redis attestation store configuration
type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

// BreakerConfig configures the circuit breaker around remote stores
type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// BatchConfig represents batch evaluation configuration
type BatchConfig struct {
	Workers int     `mapstructure:"workers"`
	Rate    float64 `mapstructure:"rate"` // subjects per second; 0 is unlimited
}
