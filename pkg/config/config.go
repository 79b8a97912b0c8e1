package config

import (
	"fmt"
	"time"

	"voxlink-backend/pkg/constants"
	"voxlink-backend/pkg/env"
)

// Config holds all configuration for the signaling service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	JWT       JWTConfig
	Signaling SignalingConfig
	Push      PushConfig
	Log       LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// CassandraConfig holds Cassandra configuration
type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Consistency string
	Timeout     time.Duration
}

// JWTConfig holds identity token verification configuration
type JWTConfig struct {
	Secret   string
	Audience string
}

// SignalingConfig holds call lifecycle tuning
type SignalingConfig struct {
	RingTimeout       time.Duration
	ReaperInterval    time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// PushConfig holds push notification provider configuration.
// A provider is enabled only when its credentials are present.
type PushConfig struct {
	FCMCredentialsPath string
	FCMProjectID       string
	APNsKeyPath        string
	APNsKeyID          string
	APNsTeamID         string
	APNsTopic          string
	APNsProduction     bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        env.GetInt("PORT", 8080),
			Environment: env.GetString("ENV", "development"),
			ServiceName: env.GetString("SERVICE_NAME", "signaling-service"),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "voxlink"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Cassandra: CassandraConfig{
			Hosts:       env.GetSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace:    env.GetString("CASSANDRA_KEYSPACE", "voxlink"),
			Consistency: env.GetString("CASSANDRA_CONSISTENCY", "QUORUM"),
			Timeout:     env.GetDuration("CASSANDRA_TIMEOUT", 600*time.Millisecond),
		},
		JWT: JWTConfig{
			Secret:   env.GetStringFromFile("JWT_SECRET", ""),
			Audience: env.GetString("JWT_AUDIENCE", "voxlink-api"),
		},
		Signaling: SignalingConfig{
			RingTimeout:       env.GetDuration("RING_TIMEOUT", constants.DefaultRingTimeout),
			ReaperInterval:    env.GetDuration("REAPER_INTERVAL", constants.DefaultReaperInterval),
			RateLimitRequests: env.GetInt("RATE_LIMIT_REQUESTS", 300),
			RateLimitWindow:   env.GetDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Push: PushConfig{
			FCMCredentialsPath: env.GetString("FCM_CREDENTIALS_PATH", ""),
			FCMProjectID:       env.GetString("FCM_PROJECT_ID", ""),
			APNsKeyPath:        env.GetString("APNS_KEY_PATH", ""),
			APNsKeyID:          env.GetString("APNS_KEY_ID", ""),
			APNsTeamID:         env.GetString("APNS_TEAM_ID", ""),
			APNsTopic:          env.GetString("APNS_TOPIC", ""),
			APNsProduction:     env.GetBool("APNS_PRODUCTION", false),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}

	if c.Signaling.RingTimeout <= 0 {
		return fmt.Errorf("RING_TIMEOUT must be positive")
	}
	if c.Signaling.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be positive")
	}

	return nil
}

// DSN returns the CockroachDB connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
