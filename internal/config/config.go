package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	BackendMemory = "memory"
	BackendMySQL  = "mysql"
	BackendRedis  = "redis"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`
	Env  string `env:"ENV" envDefault:"dev"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	StoreBackend  string `env:"STORE_BACKEND" envDefault:"memory"`
	DSN           string `env:"DB_DSN"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"huddle:"`

	RoomCapacity      int           `env:"ROOM_CAPACITY" envDefault:"8"`
	InactivityTimeout time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"5m"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL"`
	StuckMultiplier   float64       `env:"STUCK_MULTIPLIER" envDefault:"2"`
	JoinMaxRetries    int           `env:"JOIN_MAX_RETRIES" envDefault:"25"`
	DeleteEmptyRooms  bool          `env:"DELETE_EMPTY_ROOMS" envDefault:"true"`

	TicketSecret string        `env:"TICKET_SECRET"`
	TicketTTL    time.Duration `env:"TICKET_TTL" envDefault:"12h"`

	CORSOrigins     []string      `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendRedis:
	case BackendMySQL:
		if c.DSN == "" {
			return errors.New("config: DB_DSN is required for the mysql backend")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.RoomCapacity < 1 {
		return errors.New("config: ROOM_CAPACITY must be at least 1")
	}
	if c.StuckMultiplier <= 1 {
		return errors.New("config: STUCK_MULTIPLIER must be greater than 1")
	}
	if c.InactivityTimeout <= 0 {
		return errors.New("config: INACTIVITY_TIMEOUT must be positive")
	}
	if c.SweepInterval < 0 {
		return errors.New("config: SWEEP_INTERVAL must not be negative")
	}
	if c.JoinMaxRetries < 1 {
		return errors.New("config: JOIN_MAX_RETRIES must be at least 1")
	}
	return nil
}

func (c *Config) Addr() string { return ":" + c.Port }

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
