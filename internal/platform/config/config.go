package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"

	"gitlab.com/dirk.krummacker/phonebook-service/internal/store"
)

// Config holds the settings of the phonebook service. Values come from, in increasing order of
// precedence, the defaults below, an optional phonebook.yaml file and the environment.
type Config struct {
	Port       int    `mapstructure:"PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	GinLogging string `mapstructure:"GIN_LOGGING"`

	DBDriver          string        `mapstructure:"DB_DRIVER"`
	DBDSN             string        `mapstructure:"DB_DSN"`
	DBHost            string        `mapstructure:"DBHOST"`
	DBUser            string        `mapstructure:"DBUSER"`
	DBPassword        string        `mapstructure:"DBPWD"`
	DBName            string        `mapstructure:"DBNAME"`
	DBMaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns    int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`

	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

// Load reads the configuration.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("phonebook")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/phonebook")
	v.AutomaticEnv()

	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GIN_LOGGING", "on")
	v.SetDefault("DB_DRIVER", store.DriverMySQL)
	v.SetDefault("DB_DSN", "")
	v.SetDefault("DBHOST", "localhost")
	v.SetDefault("DBUSER", "")
	v.SetDefault("DBPWD", "")
	v.SetDefault("DBNAME", "phonebook")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("SHUTDOWN_TIMEOUT", 15*time.Second)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		slog.Debug("no config file found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that cannot be defaulted sensibly.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	switch c.DBDriver {
	case store.DriverMySQL, store.DriverPostgres, store.DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// RequestLogging reports whether HTTP requests shall be logged. GIN_LOGGING=off turns it off.
func (c *Config) RequestLogging() bool {
	return !strings.EqualFold(c.GinLogging, "off")
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Pool returns the connection pool limits.
func (c *Config) Pool() store.PoolConfig {
	return store.PoolConfig{
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: c.DBConnMaxLifetime,
	}
}

// DSN returns DB_DSN if set, otherwise a data source name built from the DBHOST, DBUSER, DBPWD
// and DBNAME settings for the configured driver.
func (c *Config) DSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	switch c.DBDriver {
	case store.DriverPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.DBUser, c.DBPassword),
			Host:     c.DBHost,
			Path:     "/" + c.DBName,
			RawQuery: "sslmode=disable",
		}
		return u.String()
	case store.DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = c.DBUser
		mc.Passwd = c.DBPassword
		mc.Net = "tcp"
		mc.Addr = c.DBHost
		mc.DBName = c.DBName
		mc.ParseTime = true
		return mc.FormatDSN()
	}
	return ""
}
