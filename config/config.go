/*
Package config loads server configuration.

SOURCES (later wins):
  1. Optional TOML file (default ledger.toml; missing file is fine)
  2. .env file in the working directory, if present
  3. Environment variables with the LEDGER_ prefix

  LEDGER_SERVER_PORT          HTTP port (default 8080)
  LEDGER_SERVER_CORS_ORIGINS  comma-separated allowed origins
  LEDGER_DATA_SOURCE_PATH     SQLite path (default ledger.db)
  LEDGER_COMMIT_TIMEOUT       allocation commit timeout (default 10s)
  LEDGER_COMMIT_RETRIES       busy-database retries per commit (default 5)
  LEDGER_LOG_LEVEL            logrus level (default info)
  LEDGER_LOG_FORMAT           text | json (default text)
  LEDGER_METRICS_REFRESH      portfolio gauge refresh interval (default 1m, 0 disables)

The loaded configuration is kept in an atomic.Value and read with Fetch.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPort           = "8080"
	DefaultDataSource     = "ledger.db"
	DefaultCommitTimeout  = 10 * time.Second
	DefaultCommitRetries  = 5
	DefaultMetricsRefresh = time.Minute
)

var configStore atomic.Value

type ServerConfig struct {
	Port        string   `toml:"port" envconfig:"LEDGER_SERVER_PORT"`
	CORSOrigins []string `toml:"cors_origins" envconfig:"LEDGER_SERVER_CORS_ORIGINS"`
}

type DataSourceConfig struct {
	Path string `toml:"path" envconfig:"LEDGER_DATA_SOURCE_PATH"`
}

type CommitConfig struct {
	Timeout duration `toml:"timeout" envconfig:"LEDGER_COMMIT_TIMEOUT"`
	Retries *uint64  `toml:"retries" envconfig:"LEDGER_COMMIT_RETRIES"`
}

type LogConfig struct {
	Level  string `toml:"level" envconfig:"LEDGER_LOG_LEVEL"`
	Format string `toml:"format" envconfig:"LEDGER_LOG_FORMAT"`
}

type MetricsConfig struct {
	Refresh string `toml:"refresh" envconfig:"LEDGER_METRICS_REFRESH"`

	refresh time.Duration
}

type Configuration struct {
	Server     ServerConfig     `toml:"server"`
	DataSource DataSourceConfig `toml:"data_source"`
	Commit     CommitConfig     `toml:"commit"`
	Log        LogConfig        `toml:"log"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// duration decodes "10s"-style values from both TOML and the environment.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Decode satisfies envconfig.Decoder.
func (d *duration) Decode(value string) error {
	return d.UnmarshalText([]byte(value))
}

// Load reads file, .env and environment, applies defaults and returns the result
// without storing it.
func Load(file string) (*Configuration, error) {
	var cnf Configuration

	if file != "" {
		_, err := toml.DecodeFile(file, &cnf)
		switch {
		case err == nil:
		case errors.Is(err, os.ErrNotExist):
			logrus.WithField("file", file).Debug("config file not found, using environment")
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	if err := envconfig.Process("ledger", &cnf); err != nil {
		return nil, err
	}

	if err := cnf.validateAndAddDefaults(); err != nil {
		return nil, err
	}
	return &cnf, nil
}

// InitConfig loads the configuration, stores it for Fetch and configures logrus.
func InitConfig(file string) (*Configuration, error) {
	cnf, err := Load(file)
	if err != nil {
		return nil, err
	}
	if err := cnf.ConfigureLogging(); err != nil {
		return nil, err
	}
	configStore.Store(cnf)
	return cnf, nil
}

// Fetch returns the configuration stored by InitConfig or MockConfig.
func Fetch() (*Configuration, error) {
	c, ok := configStore.Load().(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded, call InitConfig first")
	}
	return c, nil
}

// MockConfig sets a configuration for tests.
func MockConfig(mockConfig *Configuration) {
	configStore.Store(mockConfig)
}

// CommitTimeout is the effective allocation commit timeout.
func (cnf *Configuration) CommitTimeout() time.Duration {
	return cnf.Commit.Timeout.Duration
}

// CommitRetries is the effective busy-retry budget.
func (cnf *Configuration) CommitRetries() uint64 {
	if cnf.Commit.Retries == nil {
		return DefaultCommitRetries
	}
	return *cnf.Commit.Retries
}

// MetricsRefresh is the portfolio gauge refresh interval. Zero disables it.
func (cnf *Configuration) MetricsRefresh() time.Duration {
	return cnf.Metrics.refresh
}

// ConfigureLogging applies the log section to the standard logrus logger.
func (cnf *Configuration) ConfigureLogging() error {
	level, err := logrus.ParseLevel(cnf.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cnf.Log.Level, err)
	}
	logrus.SetLevel(level)
	if cnf.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Path = strings.TrimSpace(cnf.DataSource.Path)
	cnf.Log.Level = strings.ToLower(strings.TrimSpace(cnf.Log.Level))
	cnf.Log.Format = strings.ToLower(strings.TrimSpace(cnf.Log.Format))

	if cnf.Server.Port == "" {
		cnf.Server.Port = DefaultPort
		logrus.Debugf("port not specified, using default %s", DefaultPort)
	}
	if len(cnf.Server.CORSOrigins) == 0 {
		cnf.Server.CORSOrigins = []string{"http://localhost:5173", "http://localhost:" + cnf.Server.Port}
	}
	if cnf.DataSource.Path == "" {
		cnf.DataSource.Path = DefaultDataSource
		logrus.Debugf("data source not specified, using default %s", DefaultDataSource)
	}
	if cnf.Commit.Timeout.Duration == 0 {
		cnf.Commit.Timeout.Duration = DefaultCommitTimeout
	}
	if cnf.Commit.Timeout.Duration < 0 {
		return errors.New("commit timeout must be positive")
	}
	cnf.Metrics.refresh = DefaultMetricsRefresh
	if raw := strings.TrimSpace(cnf.Metrics.Refresh); raw != "" {
		refresh, err := time.ParseDuration(raw)
		if err != nil || refresh < 0 {
			return fmt.Errorf("invalid metrics refresh %q", raw)
		}
		cnf.Metrics.refresh = refresh
	}
	if cnf.Log.Level == "" {
		cnf.Log.Level = "info"
	}
	switch cnf.Log.Format {
	case "":
		cnf.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", cnf.Log.Format)
	}
	return nil
}
