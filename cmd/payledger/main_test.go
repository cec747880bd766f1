package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/payledger"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "payledger dev")
}

func TestMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.sqlite")
	t.Setenv("PAYLEDGER_STORE_DRIVER", "sqlite")
	t.Setenv("PAYLEDGER_STORE_DSN", path)

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrated sqlite store")

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestMigrateCommandConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "payledger.yaml")
	boltPath := filepath.Join(dir, "ledger.bolt")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  driver: bolt\n  dsn: "+boltPath+"\nlog:\n  format: json\n"), 0o600))

	out, err := execute(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "migrated bolt store")
	assert.Contains(t, out, `"msg":"store migrated"`)
}

func TestMigrateCommandUnknownDriver(t *testing.T) {
	t.Setenv("PAYLEDGER_STORE_DRIVER", "cassandra")

	_, err := execute(t, "migrate")
	require.ErrorIs(t, err, payledger.ErrInvalidInput)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(payledger.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"service":"payledger"`)

	_, err = newLogger(payledger.LogConfig{Level: "loud"}, &buf)
	require.Error(t, err)

	_, err = newLogger(payledger.LogConfig{Level: "info", Format: "xml"}, &buf)
	require.Error(t, err)
}
