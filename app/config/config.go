package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigFile is read from the working directory when no path is given.
const DefaultConfigFile = "tasktree.yaml"

// EnvPrefix prefixes environment overrides, e.g. TASKTREE_STORAGE_DRIVER.
const EnvPrefix = "TASKTREE"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNeo4j    = "neo4j"
)

// Config represents the full tasktree configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	MCP     MCPConfig     `yaml:"mcp" mapstructure:"mcp"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// StorageConfig selects and configures the task store
type StorageConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
	Neo4j    Neo4jConfig    `yaml:"neo4j" mapstructure:"neo4j"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MCPConfig configures the MCP server
type MCPConfig struct {
	User string `yaml:"user" mapstructure:"user"`
}

var defaults = map[string]any{
	"server.addr":             ":8080",
	"server.shutdown_timeout": "10s",
	"storage.driver":          DriverSQLite,
	"storage.sqlite.path":     "tasktree.db",
	"storage.postgres.dsn":    "",
	"storage.neo4j.uri":       "neo4j://localhost:7687",
	"storage.neo4j.username":  "neo4j",
	"storage.neo4j.password":  "password",
	"storage.neo4j.database":  "",
	"log.level":               "info",
	"log.format":              "text",
	"mcp.user":                "",
}

// Load reads configuration from defaults, then the YAML file at path (or
// ./tasktree.yaml if path is empty and the file exists), then TASKTREE_*
// environment variables.
func Load(path string) (*Config, error) {
	v := newViper()

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg, err := load(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, errors.New("storage.sqlite.path is required"))
		}
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required"))
		}
	case DriverNeo4j:
		if c.Storage.Neo4j.URI == "" {
			errs = append(errs, errors.New("storage.neo4j.uri is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Log.Format {
	case "text", "json", "logfmt":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	return cfg, nil
}
