package domain

// EvaluationFunc computes a derived payload from the current value of every record in
// the dependency pool, keyed by id. A missing record maps to nil. Returning nil signals
// that the function could not produce a value.
type EvaluationFunc func(values map[string]*Value) interface{}

// FunctionResolver looks up named evaluation functions for function-backed assessments.
type FunctionResolver interface {
	Lookup(name string) (EvaluationFunc, bool)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
}
