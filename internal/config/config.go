package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Broker   BrokerConfig
	Geo      GeoConfig
}

type ServerConfig struct {
	Port         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type BrokerConfig struct {
	// ActiveWindow and StaleWindow bound the liveness classification:
	// heartbeat within ActiveWindow is active, within StaleWindow is stale,
	// older is disconnected.
	ActiveWindow time.Duration
	StaleWindow  time.Duration

	ClaimCodeTTL    time.Duration
	ClaimCodeLength int

	// CommandBatchLimit caps how many queued commands one heartbeat drains.
	CommandBatchLimit int

	// Engagement points accrued for claimed devices.
	ConnectPoints   int64
	HeartbeatPoints int64
}

type GeoConfig struct {
	Enabled    bool
	ServiceURL string
	Timeout    time.Duration
}

func Load() (*Config, error) {
	// .env is optional in production
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "broker"),
			Password: getEnv("DB_PASSWORD", "broker"),
			DBName:   getEnv("DB_NAME", "brokerdb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Broker: BrokerConfig{
			ActiveWindow:      getDurationEnv("BROKER_ACTIVE_WINDOW", 5*time.Minute),
			StaleWindow:       getDurationEnv("BROKER_STALE_WINDOW", 15*time.Minute),
			ClaimCodeTTL:      getDurationEnv("BROKER_CLAIM_CODE_TTL", 10*time.Minute),
			ClaimCodeLength:   getIntEnv("BROKER_CLAIM_CODE_LENGTH", 6),
			CommandBatchLimit: getIntEnv("BROKER_COMMAND_BATCH_LIMIT", 10),
			ConnectPoints:     int64(getIntEnv("BROKER_CONNECT_POINTS", 10)),
			HeartbeatPoints:   int64(getIntEnv("BROKER_HEARTBEAT_POINTS", 1)),
		},
		Geo: GeoConfig{
			Enabled:    getBoolEnv("GEO_ENABLED", false),
			ServiceURL: getEnv("GEO_SERVICE_URL", "http://ip-api.com"),
			Timeout:    getDurationEnv("GEO_TIMEOUT", 3*time.Second),
		},
	}

	return cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
