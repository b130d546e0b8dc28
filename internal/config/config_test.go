package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset(t *testing.T) {
	t.Helper()
	viper.Reset()
	SetConfigPath("")
	Set(nil)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Cleanup(func() {
		viper.Reset()
		SetConfigPath("")
		Set(nil)
	})
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rotations.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestInitDefaults(t *testing.T) {
	reset(t)
	require.NoError(t, Init())

	c := Get()
	assert.Equal(t, 10*time.Second, c.Requests.Timeout)
	assert.Equal(t, 2*time.Second, c.Requests.SweepInterval)
	assert.True(t, c.Tray.ShowReflections)
	assert.Empty(t, c.Display.Name)
	assert.Empty(t, c.Metrics.Listen)
}

func TestInitReadsFile(t *testing.T) {
	reset(t)
	SetConfigPath(writeConfig(t, `
[display]
name = ":1"

[requests]
timeout = "3s"

[metrics]
listen = "127.0.0.1:9377"

[tray]
show_reflections = false
`))
	require.NoError(t, Init())

	c := Get()
	assert.Equal(t, ":1", c.Display.Name)
	assert.Equal(t, 3*time.Second, c.Requests.Timeout)
	assert.Equal(t, 2*time.Second, c.Requests.SweepInterval, "unset keys keep their default")
	assert.Equal(t, "127.0.0.1:9377", c.Metrics.Listen)
	assert.False(t, c.Tray.ShowReflections)
}

func TestInitSearchesXDGConfigHome(t *testing.T) {
	reset(t)
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "rotations"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "rotations", "rotations.toml"),
		[]byte("[logging]\nlog_level = \"debug\"\n"), 0o644))

	require.NoError(t, Init())
	assert.Equal(t, "debug", Get().Logging.LogLevel)
	assert.Equal(t, filepath.Join(xdg, "rotations", "rotations.toml"), ConfigFile())
}

func TestInitEnvironmentOverrides(t *testing.T) {
	reset(t)
	t.Setenv("ROTATIONS_DISPLAY_NAME", ":7")
	require.NoError(t, Init())
	assert.Equal(t, ":7", Get().Display.Name)
}

func TestInitRejectsMalformedFile(t *testing.T) {
	reset(t)
	SetConfigPath(writeConfig(t, "[requests\ntimeout = 3s"))
	assert.Error(t, Init())
}

func TestInitRejectsNegativeTimeout(t *testing.T) {
	reset(t)
	SetConfigPath(writeConfig(t, "[requests]\ntimeout = \"-1s\"\n"))
	assert.Error(t, Init())
}

func TestGetBeforeInit(t *testing.T) {
	reset(t)
	assert.Equal(t, &DefaultConfig, Get())
}

func TestSetReplacesCurrent(t *testing.T) {
	reset(t)
	c := DefaultConfig
	c.Display.Name = ":7"
	Set(&c)
	assert.Equal(t, ":7", Get().Display.Name)

	Set(nil)
	assert.Equal(t, DefaultConfig.Display.Name, Get().Display.Name)
}
