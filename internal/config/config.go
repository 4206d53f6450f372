package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	DBSource      string
	StoreDriver   string
	RunMigrations bool
	Port          string
	Env           string
	LogMode       string

	AMQPURL      string
	AMQPExchange string

	ActionTimeout   time.Duration
	PublishTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment and, when CONFIG_FILE is set, from that file.
// Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("RUN_MIGRATIONS", true)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_MODE", "release")
	v.SetDefault("AMQP_EXCHANGE", "feefines")
	v.SetDefault("ACTION_TIMEOUT", 10*time.Second)
	v.SetDefault("PUBLISH_TIMEOUT", 5*time.Second)
	v.SetDefault("SHUTDOWN_TIMEOUT", 30*time.Second)

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		DBSource:        v.GetString("DB_SOURCE"),
		StoreDriver:     v.GetString("STORE_DRIVER"),
		RunMigrations:   v.GetBool("RUN_MIGRATIONS"),
		Port:            v.GetString("SERVER_PORT"),
		Env:             v.GetString("ENVIRONMENT"),
		LogMode:         v.GetString("LOG_MODE"),
		AMQPURL:         v.GetString("AMQP_URL"),
		AMQPExchange:    v.GetString("AMQP_EXCHANGE"),
		ActionTimeout:   v.GetDuration("ACTION_TIMEOUT"),
		PublishTimeout:  v.GetDuration("PUBLISH_TIMEOUT"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
	}

	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case DriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	return cfg, nil
}
