package config

import "time"

type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	LLM           LLMConfig               `mapstructure:"llm"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Redis         RedisConfig             `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig     `mapstructure:"elasticsearch"`
	Pipeline      PipelineConfig          `mapstructure:"pipeline"`
	Schema        SchemaConfig            `mapstructure:"schema"`
	Examples      ExamplesConfig          `mapstructure:"examples"`
	Server        ServerConfig            `mapstructure:"server"`
	Session       SessionConfig           `mapstructure:"session"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// LLMConfig selects and tunes the language model provider.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"` // gemini | openai | fake
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Timeout     int     `mapstructure:"timeout"` // milliseconds
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres | mysql | sqlite
	DSN             string `mapstructure:"dsn"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Path            string `mapstructure:"path"` // sqlite file
	MaxConnections  int    `mapstructure:"max_connections"`
	MaxIdle         int    `mapstructure:"max_idle"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // milliseconds
}

// RedisConfig backs the session store and the schema cache. Timeouts are
// milliseconds.
type RedisConfig struct {
	Address      string `mapstructure:"address"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  int    `mapstructure:"dial_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// ElasticsearchConfig locates the few-shot example index.
type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	// MaxRetries below zero turns retries off.
	MaxRetries int `mapstructure:"max_retries"`
	// PingTimeout is milliseconds.
	PingTimeout int `mapstructure:"ping_timeout"`
}

// PipelineConfig is handed to the orchestrator and its stages at
// construction time.
type PipelineConfig struct {
	Timeout        int    `mapstructure:"timeout"` // milliseconds, per question
	TopK           int    `mapstructure:"top_k"`
	ExtractionMode string `mapstructure:"extraction_mode"` // parse | model
	ReadOnly       bool   `mapstructure:"read_only"`
	MaxRows        int    `mapstructure:"max_rows"`
	QueryTimeout   int    `mapstructure:"query_timeout"` // milliseconds
}

type SchemaConfig struct {
	IncludeTables []string `mapstructure:"include_tables"`
	SampleRows    int      `mapstructure:"sample_rows"`
	CacheEnabled  bool     `mapstructure:"cache_enabled"`
	CacheTTL      int      `mapstructure:"cache_ttl"` // milliseconds
}

// ExamplesConfig enables few-shot retrieval of curated question/SQL pairs.
type ExamplesConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
	TopK    int    `mapstructure:"top_k"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type SessionConfig struct {
	Store      string `mapstructure:"store"` // redis | memory
	CookieName string `mapstructure:"cookie_name"`
	TTL        int    `mapstructure:"ttl"` // milliseconds
	MaxHistory int    `mapstructure:"max_history"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	Plaintext      bool   `mapstructure:"plaintext"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// Millis converts a millisecond setting into a time.Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
