package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	validProviders       = []string{"gemini", "openai", "fake"}
	validDrivers         = []string{"postgres", "mysql", "sqlite"}
	validExtractionModes = []string{"parse", "model"}
	validSessionStores   = []string{"redis", "memory"}
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml on top
// and applies environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return finish(v)
}

// LoadFromFile reads a single YAML file with the same override rules as Load.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers keys whose zero value is a legitimate setting, plus
// every key that must be reachable through AutomaticEnv without a YAML file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "sql-assistant")
	v.SetDefault("app.environment", "development")
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.path", "")
	v.SetDefault("redis.address", "")
	v.SetDefault("pipeline.read_only", true)
	v.SetDefault("schema.cache_enabled", false)
	v.SetDefault("examples.enabled", false)
	v.SetDefault("camunda.broker_address", "")
	v.SetDefault("camunda.plaintext", true)
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig picks up the conventional provider variables when the
// YAML leaves secrets blank.
func overrideEmptyConfig(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		var candidates []string
		switch cfg.LLM.Provider {
		case "gemini":
			candidates = []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"}
		case "openai":
			candidates = []string{"OPENAI_API_KEY"}
		}
		for _, name := range candidates {
			if val := os.Getenv(name); val != "" {
				cfg.LLM.APIKey = val
				break
			}
		}
	}

	if cfg.Database.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.User = val
		}
	}
	if cfg.Database.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Password = val
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "sql-assistant"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "gemini"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "gemini":
			cfg.LLM.Model = "gemini-1.5-flash-latest"
		case "openai":
			cfg.LLM.Model = "gpt-4o-mini"
		}
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == "openai" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60000
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Port == 0 {
		switch cfg.Database.Driver {
		case "postgres":
			cfg.Database.Port = 5432
		case "mysql":
			cfg.Database.Port = 3306
		}
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.MaxIdle == 0 {
		cfg.Database.MaxIdle = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300000
	}

	if cfg.Pipeline.Timeout == 0 {
		cfg.Pipeline.Timeout = 120000
	}
	if cfg.Pipeline.TopK == 0 {
		cfg.Pipeline.TopK = 5
	}
	if cfg.Pipeline.ExtractionMode == "" {
		cfg.Pipeline.ExtractionMode = "parse"
	}
	if cfg.Pipeline.MaxRows == 0 {
		cfg.Pipeline.MaxRows = 200
	}
	if cfg.Pipeline.QueryTimeout == 0 {
		cfg.Pipeline.QueryTimeout = 30000
	}

	if cfg.Schema.SampleRows == 0 {
		cfg.Schema.SampleRows = 3
	}
	if cfg.Schema.CacheTTL == 0 {
		cfg.Schema.CacheTTL = 600000
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.MinIdleConns == 0 {
		cfg.Redis.MinIdleConns = 2
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5000
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3000
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3000
	}

	if cfg.Elasticsearch.MaxRetries == 0 {
		cfg.Elasticsearch.MaxRetries = 3
	}
	if cfg.Elasticsearch.PingTimeout == 0 {
		cfg.Elasticsearch.PingTimeout = 5000
	}

	if cfg.Examples.Index == "" {
		cfg.Examples.Index = "sql-examples"
	}
	if cfg.Examples.TopK == 0 {
		cfg.Examples.TopK = 3
	}
	if cfg.Examples.Timeout == 0 {
		cfg.Examples.Timeout = 2000
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 150000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30000
	}

	if cfg.Session.Store == "" {
		if cfg.Redis.Address != "" {
			cfg.Session.Store = "redis"
		} else {
			cfg.Session.Store = "memory"
		}
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "session_id"
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 86400000
	}
	if cfg.Session.MaxHistory == 0 {
		cfg.Session.MaxHistory = 100
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = cfg.Pipeline.Timeout
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

func validateConfig(cfg *Config) error {
	if !oneOf(cfg.LLM.Provider, validProviders) {
		return fmt.Errorf("llm.provider must be one of %v, got %q", validProviders, cfg.LLM.Provider)
	}
	if cfg.LLM.Provider != "fake" && cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for provider %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}

	if !oneOf(cfg.Database.Driver, validDrivers) {
		return fmt.Errorf("database.driver must be one of %v, got %q", validDrivers, cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		switch cfg.Database.Driver {
		case "sqlite":
			if cfg.Database.Path == "" {
				return fmt.Errorf("database.path or database.dsn is required for sqlite")
			}
		default:
			if cfg.Database.Host == "" || cfg.Database.Name == "" {
				return fmt.Errorf("database.host and database.name are required for %s", cfg.Database.Driver)
			}
		}
	}

	if !oneOf(cfg.Pipeline.ExtractionMode, validExtractionModes) {
		return fmt.Errorf("pipeline.extraction_mode must be one of %v", validExtractionModes)
	}
	if cfg.Pipeline.TopK < 0 || cfg.Pipeline.MaxRows < 0 {
		return fmt.Errorf("pipeline.top_k and pipeline.max_rows must not be negative")
	}

	if !oneOf(cfg.Session.Store, validSessionStores) {
		return fmt.Errorf("session.store must be one of %v", validSessionStores)
	}
	if cfg.Session.Store == "redis" && cfg.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when session.store is redis")
	}
	if cfg.Schema.CacheEnabled && cfg.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when schema.cache_enabled is true")
	}
	if cfg.Examples.Enabled && len(cfg.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("elasticsearch.addresses is required when examples.enabled is true")
	}

	return nil
}

func oneOf(val string, allowed []string) bool {
	for _, a := range allowed {
		if val == a {
			return true
		}
	}
	return false
}
