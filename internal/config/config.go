package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "ACCOUNTING_"

type Config struct {
	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost string
	RedisPort string
	NatsHost  string
	NatsPort  string

	BusProvider    string
	EventsGRPCHost string
	EventsGRPCPort string

	GRPCPort   string
	ApiEnabled string
	ApiPort    string

	Hierarchy         string
	HierarchyFile     string
	HierarchyCacheTTL time.Duration

	JWTSecret         string
	ServiceUserPrefix string
	WorkerEnabled     bool
	LogLevel          string
}

// New loads and validates configuration from ACCOUNTING_* environment variables.
// The HTTP API is optional: if ACCOUNTING_API_ENABLED != "true", ApiAddr() returns
// an error and the HTTP server simply won't start.
func New() (*Config, error) {
	cfg, err := NewDatabase()
	if err != nil {
		return nil, err
	}

	cfg.RedisHost = getEnv("REDIS_HOST", "")
	cfg.RedisPort = getEnv("REDIS_PORT", "6379")
	cfg.NatsHost = getEnv("NATS_HOST", "")
	cfg.NatsPort = getEnv("NATS_PORT", "4222")
	cfg.BusProvider = getEnv("BUS_PROVIDER", "")
	cfg.EventsGRPCHost = getEnv("EVENTS_GRPC_HOST", "")
	cfg.EventsGRPCPort = getEnv("EVENTS_GRPC_PORT", "")
	cfg.GRPCPort = getEnv("GRPC_PORT", "50051")
	cfg.ApiEnabled = getEnv("API_ENABLED", "")
	cfg.ApiPort = getEnv("API_PORT", "")
	cfg.Hierarchy = getEnv("HIERARCHY_ADDR", "")
	cfg.HierarchyFile = getEnv("HIERARCHY_FILE", "")
	cfg.HierarchyCacheTTL = getEnvDuration("HIERARCHY_CACHE_TTL", time.Minute)
	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.ServiceUserPrefix = getEnv("SERVICE_USER_PREFIX", "_")
	cfg.WorkerEnabled = getEnv("WORKER_ENABLED", "") == "true"
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	// Required: redis
	if cfg.RedisHost == "" {
		return nil, fmt.Errorf("missing required env for redis: ACCOUNTING_REDIS_HOST")
	}

	// Required: bus provider
	switch cfg.BusProvider {
	case "nats":
	case "grpc":
		if cfg.EventsGRPCHost == "" || cfg.EventsGRPCPort == "" {
			return nil, fmt.Errorf("missing required env for grpc bus: ACCOUNTING_EVENTS_GRPC_HOST/PORT")
		}
	case "":
		return nil, fmt.Errorf("missing required env: ACCOUNTING_BUS_PROVIDER (nats|grpc)")
	default:
		return nil, fmt.Errorf("invalid bus provider %q, must be 'nats' or 'grpc'", cfg.BusProvider)
	}
	if cfg.NeedsNats() && cfg.NatsHost == "" {
		return nil, fmt.Errorf("missing required env for nats: ACCOUNTING_NATS_HOST")
	}

	// Required: one hierarchy source
	if cfg.Hierarchy == "" && cfg.HierarchyFile == "" {
		return nil, fmt.Errorf("missing required env: ACCOUNTING_HIERARCHY_ADDR or ACCOUNTING_HIERARCHY_FILE")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("missing required env: ACCOUNTING_JWT_SECRET")
	}

	return cfg, nil
}

// NewDatabase loads only the Postgres settings. Used by cmd/migrate.
func NewDatabase() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:  getEnv("POSTGRES_USER", ""),
		DBPass:  getEnv("POSTGRES_PASSWORD", ""),
		DBHost:  getEnv("POSTGRES_HOST", ""),
		DBPort:  getEnv("POSTGRES_PORT", "5432"),
		DBName:  getEnv("POSTGRES_DB", ""),
		SSLMode: getEnv("POSTGRES_SSLMODE", "disable"),
	}
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("missing required env for database: ACCOUNTING_POSTGRES_USER/HOST/DB")
	}
	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

// NeedsNats reports whether a NATS connection is required: for the bus or for
// the usage worker.
func (c *Config) NeedsNats() bool {
	return c.BusProvider == "nats" || c.WorkerEnabled
}

// GRPCAddr is the listen address of the accounting gRPC server.
func (c *Config) GRPCAddr() string {
	return ":" + c.GRPCPort
}

// EventsAddr is the remote EventService used by the grpc bus provider.
func (c *Config) EventsAddr() string {
	return fmt.Sprintf("%s:%s", c.EventsGRPCHost, c.EventsGRPCPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if ACCOUNTING_API_ENABLED != "true"; callers should skip starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("ACCOUNTING_API_PORT is required when ACCOUNTING_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (ACCOUNTING_API_ENABLED != true)")
}

// HierarchyAddr returns the hierarchy service address. An error means the
// directory is loaded from ACCOUNTING_HIERARCHY_FILE instead.
func (c *Config) HierarchyAddr() (string, error) {
	if c.Hierarchy == "" {
		return "", fmt.Errorf("hierarchy service is not configured (ACCOUNTING_HIERARCHY_ADDR is empty)")
	}
	return c.Hierarchy, nil
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(envPrefix + key); ok && val != "" {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := getEnv(key, "")
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
