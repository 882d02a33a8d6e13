// Package config loads the middleware settings from a YAML file, a .env file
// and EIDMW_ environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Drivers selecting the reader source.
const (
	DriverPCSC    = "pcsc"
	DriverVirtual = "virtual"
)

// Config is the complete middleware configuration.
type Config struct {
	Driver  string        `mapstructure:"driver"`
	Reader  ReaderConfig  `mapstructure:"reader"`
	APDU    APDUConfig    `mapstructure:"apdu"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ReaderConfig selects and polls readers.
type ReaderConfig struct {
	// Name binds the middleware to one reader. Empty means the first reader
	// reporting a card.
	Name         string        `mapstructure:"name"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// APDUConfig tunes card exchanges.
type APDUConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	ReadChunk    int           `mapstructure:"read_chunk"`
	MaxExchanges int           `mapstructure:"max_exchanges"`
}

// CacheConfig tunes the file cache.
type CacheConfig struct {
	FileTTL time.Duration `mapstructure:"file_ttl"`
}

// LoggingConfig sets the logrus level and formatter.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the configuration. configFile overrides the search path when
// set.
func Load(configFile string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	setupViper(v, configFile)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFile() {
	if err := gotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Failed to load .env file")
	}
}

func setupViper(v *viper.Viper, configFile string) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/eidmw")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "eidmw"))
	}

	if len(configFile) > 0 {
		v.SetConfigFile(configFile)
	}

	setDefaults(v)

	v.SetEnvPrefix("EIDMW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("driver", DriverPCSC)

	v.SetDefault("reader.name", "")
	v.SetDefault("reader.poll_interval", "2s")

	v.SetDefault("apdu.timeout", "30s")
	v.SetDefault("apdu.read_chunk", 0xF8)
	v.SetDefault("apdu.max_exchanges", 64)

	v.SetDefault("cache.file_ttl", "10m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Default returns the configuration used when no file or variable is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		logrus.Fatalf("error unmarshaling default config: %v", err)
	}
	return &cfg
}

// Validate checks values that would otherwise fail late, at the first card
// exchange.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverPCSC, DriverVirtual:
	default:
		return fmt.Errorf("unknown driver %q (expected %q or %q)", c.Driver, DriverPCSC, DriverVirtual)
	}
	if c.APDU.ReadChunk < 1 || c.APDU.ReadChunk > 256 {
		return fmt.Errorf("apdu.read_chunk must be between 1 and 256, got %d", c.APDU.ReadChunk)
	}
	if c.APDU.Timeout <= 0 {
		return fmt.Errorf("apdu.timeout must be positive, got %s", c.APDU.Timeout)
	}
	if c.APDU.MaxExchanges < 1 {
		return fmt.Errorf("apdu.max_exchanges must be positive, got %d", c.APDU.MaxExchanges)
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("error parsing log level: %w", err)
	}
	return nil
}

// SetupLogging applies the logging settings to the standard logrus logger
// and returns the entry the middleware logs through.
func (c *Config) SetupLogging() (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("error parsing log level: %w", err)
	}
	logrus.SetLevel(level)

	switch strings.ToLower(c.Logging.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	default:
		logrus.WithField("format", c.Logging.Format).Warn("Unknown log format")
	}

	return logrus.WithField("driver", c.Driver), nil
}
