package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DriverPCSC, cfg.Driver)
	assert.Equal(t, "", cfg.Reader.Name)
	assert.Equal(t, 2*time.Second, cfg.Reader.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.APDU.Timeout)
	assert.Equal(t, 0xF8, cfg.APDU.ReadChunk)
	assert.Equal(t, 64, cfg.APDU.MaxExchanges)
	assert.Equal(t, 10*time.Minute, cfg.Cache.FileTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
driver: virtual
reader:
  name: "ACS ACR38U 00 00"
  poll_interval: 500ms
apdu:
  timeout: 5s
  read_chunk: 128
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverVirtual, cfg.Driver)
	assert.Equal(t, "ACS ACR38U 00 00", cfg.Reader.Name)
	assert.Equal(t, 500*time.Millisecond, cfg.Reader.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.APDU.Timeout)
	assert.Equal(t, 128, cfg.APDU.ReadChunk)
	assert.Equal(t, 64, cfg.APDU.MaxExchanges)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "reader:\n  name: from-file\n")
	t.Setenv("EIDMW_READER_NAME", "from-env")
	t.Setenv("EIDMW_APDU_TIMEOUT", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Reader.Name)
	assert.Equal(t, time.Minute, cfg.APDU.Timeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown driver", content: "driver: bluetooth\n"},
		{name: "chunk too large", content: "apdu:\n  read_chunk: 300\n"},
		{name: "zero timeout", content: "apdu:\n  timeout: 0s\n"},
		{name: "bad level", content: "logging:\n  level: chatty\n"},
		{name: "malformed yaml", content: "reader: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())
	defer logrus.SetFormatter(logrus.StandardLogger().Formatter)

	cfg := Default()
	cfg.Driver = DriverVirtual
	cfg.Logging = LoggingConfig{Level: "warn", Format: "json"}

	log, err := cfg.SetupLogging()
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)
	assert.Equal(t, DriverVirtual, log.Data["driver"])

	cfg.Logging.Level = "loud"
	_, err = cfg.SetupLogging()
	assert.Error(t, err)
}
