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

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"session": { "name": "shop-1", "frameRate": 30 }
	}`)
	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "shop-1", viper.GetString("session.name"))
	assert.Equal(t, 30, viper.GetInt("session.frameRate"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./itemsynclogs", viper.GetString("logsDir"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, "10s", viper.GetString("monitor.interval"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("ITEMSYNC_SESSION_RELAYURL", "ws://relay.example:9000/ws")
	t.Setenv("ITEMSYNC_STORAGE_TYPE", "sqlite")

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "ws://relay.example:9000/ws", GetSessionConfig().RelayURL)
	assert.Equal(t, "sqlite", GetStorageConfig().Type)
}

func TestGetters(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	viper.Set("testInt", 42)
	viper.Set("testBool", true)

	assert.Equal(t, "testValue", GetString("testKey"))
	assert.Equal(t, 42, GetInt("testInt"))
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetSessionConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetSessionConfig()
	assert.Equal(t, "ws://localhost:7777/ws", cfg.RelayURL)
	assert.Equal(t, "default", cfg.Name)
	assert.Equal(t, 60, cfg.FrameRate)
	assert.Equal(t, 500*time.Millisecond, cfg.RegistryRebuildInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.ActionInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.PoseSyncInterval)
	assert.Equal(t, time.Second, cfg.PresenceInterval)
	assert.Equal(t, 1.0, cfg.GrabRadius)
	assert.Equal(t, 100, cfg.StartingBalance)
	assert.Equal(t, "json", cfg.Codec)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"type": "postgres",
			"sqlite": { "path": "/tmp/relay.db" },
			"postgres": { "host": "10.0.0.1", "port": "5433", "database": "shop" }
		}
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "postgres", sc.Type)
	assert.Equal(t, "/tmp/relay.db", sc.SQLite.Path)
	assert.Equal(t, "10.0.0.1", sc.Postgres.Host)
	assert.Equal(t, "5433", sc.Postgres.Port)
	assert.Equal(t, "postgres", sc.Postgres.Username, "unset keys keep defaults")
	assert.Equal(t, "shop", sc.Postgres.Database)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "itemsync", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, "", cfg.Endpoint)
	assert.Equal(t, true, cfg.Insecure)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"endpoint": "localhost:4317",
			"insecure": false
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4317", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}

func TestGetRelayAndInfluxConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"relay": { "listen": ":9000" },
		"influx": { "enabled": true, "host": "metrics", "token": "t0k" }
	}`)))

	rc := GetRelayConfig()
	assert.Equal(t, ":9000", rc.Listen)
	assert.Equal(t, "/ws", rc.Path)
	assert.Equal(t, 1024, rc.SendBuffer)

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "http://metrics:8086", ic.URL())
	assert.Equal(t, "t0k", ic.Token)
	assert.Equal(t, "itemsync_status", ic.Bucket)

	assert.Equal(t, 10*time.Second, GetMonitorConfig().Interval)
	assert.False(t, GetGraylogConfig().Enabled)
}
