package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const envPrefix = "TEXT2SQL_"

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	Schema        SchemaConfig
	Dataset       DatasetConfig
	AI            AIConfig
	Repair        RepairConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	// Driver is one of postgres, mysql, sqlite or duckdb.
	Driver string
	// DSN is the connection string. For duckdb it is the database file path
	// and may be empty for an in-memory database.
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	RowLimit        int
	ReadOnly        bool
}

type SchemaConfig struct {
	MaxTables  int
	SampleRows int
	// ExcludeTables are never described to the models.
	ExcludeTables []string
}

// DatasetConfig points the duckdb driver at parquet datasets in S3-compatible
// object storage.
type DatasetConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type AIConfig struct {
	BaseURL        string
	APIKey         string
	SQLModel       string
	DiagnosisModel string
	FixModel       string
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration
}

type RepairConfig struct {
	MaxRetry      int
	MaxErrorChars int
	RunTimeout    time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required bool
	// StaticKeys is a comma separated list of key:client entries.
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup(envPrefix + "PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid %sPROFILE: %q", envPrefix, profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	e := &env{lookup: lookup}
	e.applyString("SERVICE_NAME", &cfg.Service.Name)

	e.applyString("HTTP_ADDR", &cfg.HTTP.Address)
	e.applyDuration("HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	e.applyDuration("HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	e.applyDuration("HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout)

	e.applyString("DB_DRIVER", &cfg.Database.Driver)
	e.applyString("DB_DSN", &cfg.Database.DSN)
	e.applyInt("DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	e.applyInt("DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)
	e.applyDuration("DB_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime)
	e.applyDuration("DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)
	e.applyInt("DB_ROW_LIMIT", &cfg.Database.RowLimit)
	e.applyBool("DB_READ_ONLY", &cfg.Database.ReadOnly)

	e.applyInt("SCHEMA_MAX_TABLES", &cfg.Schema.MaxTables)
	e.applyInt("SCHEMA_SAMPLE_ROWS", &cfg.Schema.SampleRows)
	e.applyList("SCHEMA_EXCLUDE_TABLES", &cfg.Schema.ExcludeTables)

	e.applyBool("DATASET_ENABLED", &cfg.Dataset.Enabled)
	e.applyString("DATASET_S3_ENDPOINT", &cfg.Dataset.Endpoint)
	e.applyString("DATASET_S3_REGION", &cfg.Dataset.Region)
	e.applyString("DATASET_S3_BUCKET", &cfg.Dataset.Bucket)
	e.applyString("DATASET_S3_ACCESS_KEY", &cfg.Dataset.AccessKeyID)
	e.applyString("DATASET_S3_SECRET_KEY", &cfg.Dataset.SecretAccessKey)
	e.applyBool("DATASET_S3_USE_SSL", &cfg.Dataset.UseSSL)
	e.applyString("DATASET_S3_PREFIX", &cfg.Dataset.Prefix)

	e.applyString("AI_BASE_URL", &cfg.AI.BaseURL)
	e.applyRawString("OPENAI_API_KEY", &cfg.AI.APIKey)
	e.applyString("AI_API_KEY", &cfg.AI.APIKey)
	e.applyString("AI_SQL_MODEL", &cfg.AI.SQLModel)
	e.applyString("AI_DIAGNOSIS_MODEL", &cfg.AI.DiagnosisModel)
	e.applyString("AI_FIX_MODEL", &cfg.AI.FixModel)
	e.applyFloat("AI_TEMPERATURE", &cfg.AI.Temperature)
	e.applyInt("AI_MAX_TOKENS", &cfg.AI.MaxTokens)
	e.applyDuration("AI_TIMEOUT", &cfg.AI.Timeout)

	e.applyInt("REPAIR_MAX_RETRY", &cfg.Repair.MaxRetry)
	e.applyInt("REPAIR_MAX_ERROR_CHARS", &cfg.Repair.MaxErrorChars)
	e.applyDuration("REPAIR_RUN_TIMEOUT", &cfg.Repair.RunTimeout)

	e.applyBool("LOG_JSON", &cfg.Observability.LogJSON)
	e.applyLogLevel("LOG_LEVEL", &cfg.Observability.LogLevel)

	e.applyBool("AUTH_REQUIRED", &cfg.Auth.Required)
	e.applyString("AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys)

	if e.err != nil {
		return Config{}, e.err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "postgresql", "mysql", "sqlite", "sqlite3":
		if c.Database.DSN == "" {
			return fmt.Errorf("%sDB_DSN is required for driver %q", envPrefix, c.Database.Driver)
		}
	case "duckdb":
	default:
		return fmt.Errorf("invalid %sDB_DRIVER: %q", envPrefix, c.Database.Driver)
	}
	if c.Dataset.Enabled && strings.ToLower(c.Database.Driver) != "duckdb" {
		return fmt.Errorf("datasets require the duckdb driver")
	}
	if c.Dataset.Enabled && c.Dataset.Bucket == "" {
		return fmt.Errorf("%sDATASET_S3_BUCKET is required when datasets are enabled", envPrefix)
	}
	if c.Auth.Required && strings.TrimSpace(c.Auth.StaticKeys) == "" {
		return fmt.Errorf("%sAUTH_STATIC_KEYS is required when auth is required", envPrefix)
	}
	if c.Repair.MaxRetry < 0 {
		return fmt.Errorf("%sREPAIR_MAX_RETRY must be >= 0", envPrefix)
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "text2sql-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "duckdb",
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			RowLimit:        1000,
			ReadOnly:        true,
		},
		Schema: SchemaConfig{
			MaxTables:     10,
			SampleRows:    3,
			ExcludeTables: []string{"text2sql_sample_versions"},
		},
		Dataset: DatasetConfig{
			Enabled:         false,
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			Bucket:          "text2sql",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
			UseSSL:          false,
			Prefix:          "datasets",
		},
		AI: AIConfig{
			BaseURL:        "https://api.openai.com",
			SQLModel:       "gpt-4o-mini",
			DiagnosisModel: "gpt-4o",
			FixModel:       "gpt-4o-mini",
			Temperature:    0.0,
			MaxTokens:      2000,
			Timeout:        60 * time.Second,
		},
		Repair: RepairConfig{
			MaxRetry:      3,
			MaxErrorChars: 500,
			RunTimeout:    100 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Dataset.UseSSL = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

// env applies TEXT2SQL_* variables onto a config and keeps the first parse
// error.
type env struct {
	lookup LookupFunc
	err    error
}

func (e *env) raw(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	raw, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(raw), true
}

func (e *env) fail(key string, err error) {
	e.err = fmt.Errorf("invalid %s: %w", key, err)
}

func (e *env) applyRawString(key string, dst *string) {
	if value, ok := e.raw(key); ok && value != "" {
		*dst = value
	}
}

func (e *env) applyString(key string, dst *string) {
	if value, ok := e.raw(envPrefix + key); ok {
		*dst = value
	}
}

func (e *env) applyList(key string, dst *[]string) {
	value, ok := e.raw(envPrefix + key)
	if !ok {
		return
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

func (e *env) applyDuration(key string, dst *time.Duration) {
	key = envPrefix + key
	raw, ok := e.raw(key)
	if !ok {
		return
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = value
}

func (e *env) applyBool(key string, dst *bool) {
	key = envPrefix + key
	raw, ok := e.raw(key)
	if !ok {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = value
}

func (e *env) applyInt(key string, dst *int) {
	key = envPrefix + key
	raw, ok := e.raw(key)
	if !ok {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = value
}

func (e *env) applyFloat(key string, dst *float64) {
	key = envPrefix + key
	raw, ok := e.raw(key)
	if !ok {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = value
}

func (e *env) applyLogLevel(key string, dst *slog.Level) {
	key = envPrefix + key
	raw, ok := e.raw(key)
	if !ok {
		return
	}
	switch strings.ToLower(raw) {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		e.err = fmt.Errorf("invalid %s: %q", key, raw)
	}
}
