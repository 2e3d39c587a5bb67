package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	RegistryBackend string `env:"REGISTRY_BACKEND" envDefault:"redis" validate:"oneof=redis postgres memory"`

	RedisHost     string `env:"REDIS_HOST"     envDefault:"localhost"`
	RedisPort     uint16 `env:"REDIS_PORT"     envDefault:"6379" validate:"min=1000,max=65535"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDb       int    `env:"REDIS_DB"       envDefault:"0"    validate:"min=0,max=15"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"chat_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"chat_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"chat_db"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`

	// NodeID names this process in the registry; blank means a fresh UUID.
	NodeID        string        `env:"NODE_ID"`
	NodeHeartbeat time.Duration `env:"NODE_HEARTBEAT" envDefault:"10s" validate:"gt=0"`
	NodeTTL       time.Duration `env:"NODE_TTL"       envDefault:"30s" validate:"gtfield=NodeHeartbeat"`

	PushMaxAttempts     uint          `env:"PUSH_MAX_ATTEMPTS"     envDefault:"3"     validate:"min=1,max=10"`
	PushInitialBackoff  time.Duration `env:"PUSH_INITIAL_BACKOFF"  envDefault:"50ms"  validate:"gt=0"`
	StoreMaxAttempts    uint          `env:"STORE_MAX_ATTEMPTS"    envDefault:"3"     validate:"min=1,max=10"`
	StoreInitialBackoff time.Duration `env:"STORE_INITIAL_BACKOFF" envDefault:"100ms" validate:"gt=0"`

	FanoutConcurrency int           `env:"FANOUT_CONCURRENCY" envDefault:"64"   validate:"min=0"`
	WsReadLimit       int64         `env:"WS_READ_LIMIT"      envDefault:"4096" validate:"min=64"`
	MessageTimeout    time.Duration `env:"MESSAGE_TIMEOUT"    envDefault:"5s"   validate:"gt=0"`

	LogMode string `env:"LOG_MODE" envDefault:"development" validate:"oneof=development production"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}

	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
