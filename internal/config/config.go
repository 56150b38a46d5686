package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server struct {
		Port          string        `envconfig:"PORT" default:"8080"`
		AllowedOrigin string        `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
		Timeout       time.Duration `envconfig:"SERVER_TIMEOUT" default:"15s"`
	}

	Store struct {
		Backend         string `envconfig:"STORE_BACKEND" default:"memory"`
		MongoURI        string `envconfig:"MONGO_URI"`
		MongoDatabase   string `envconfig:"MONGO_DATABASE" default:"paperpos"`
		MongoReplicaSet string `envconfig:"MONGO_REPLICA_SET"`
		DatabaseURL     string `envconfig:"DATABASE_URL"`
		UseTransactions bool   `envconfig:"USE_TRANSACTIONS" default:"false"`
		EnforceTotals   bool   `envconfig:"ENFORCE_TOTALS" default:"false"`
	}

	Redis struct {
		Addr     string        `envconfig:"REDIS_ADDR"`
		Password string        `envconfig:"REDIS_PASSWORD"`
		DB       int           `envconfig:"REDIS_DB" default:"0"`
		LockTTL  time.Duration `envconfig:"LOCK_TTL" default:"30s"`
	}

	Auth struct {
		Secret         string        `envconfig:"AUTH_SECRET"`
		AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
		AdminUsername  string        `envconfig:"ADMIN_USERNAME" default:"admin"`
		AdminPassword  string        `envconfig:"ADMIN_PASSWORD"`
	}

	Dashboard struct {
		Refresh  string        `envconfig:"DASHBOARD_REFRESH" default:"@every 5m"`
		CacheTTL time.Duration `envconfig:"DASHBOARD_CACHE_TTL" default:"1m"`
	}

	Log struct {
		Mode string `envconfig:"LOG_MODE" default:"production"`
		File string `envconfig:"LOG_FILE"`
	}
}

const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	cfg.Auth.Secret = strings.TrimSpace(cfg.Auth.Secret)
	cfg.Auth.AdminUsername = strings.TrimSpace(cfg.Auth.AdminUsername)

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
	}
	switch cfg.Store.Backend {
	case BackendMemory, BackendMongo, BackendPostgres:
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == BackendMongo && cfg.Store.MongoURI == "" {
		return nil, fmt.Errorf("MONGO_URI is required for the mongo backend")
	}
	if cfg.Store.Backend == BackendPostgres && cfg.Store.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	if cfg.Auth.AccessTokenTTL <= 0 {
		cfg.Auth.AccessTokenTTL = 8 * time.Hour
	}

	return &cfg, nil
}

func (c *Config) Address() string {
	return fmt.Sprintf(":%s", c.Server.Port)
}
