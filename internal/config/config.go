package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "itemsync.cfg.json"

// SessionConfig holds the peer's frame loop and relay settings.
type SessionConfig struct {
	RelayURL                string        `json:"relayUrl" mapstructure:"relayUrl"`
	Name                    string        `json:"name" mapstructure:"name"`
	ScenePath               string        `json:"scenePath" mapstructure:"scenePath"`
	FrameRate               int           `json:"frameRate" mapstructure:"frameRate"`
	RegistryRebuildInterval time.Duration `json:"registryRebuildInterval" mapstructure:"registryRebuildInterval"`
	ActionInterval          time.Duration `json:"actionInterval" mapstructure:"actionInterval"`
	PoseSyncInterval        time.Duration `json:"poseSyncInterval" mapstructure:"poseSyncInterval"`
	PresenceInterval        time.Duration `json:"presenceInterval" mapstructure:"presenceInterval"`
	GrabRadius              float64       `json:"grabRadius" mapstructure:"grabRadius"`
	StartingBalance         int           `json:"startingBalance" mapstructure:"startingBalance"`
	Codec                   string        `json:"codec" mapstructure:"codec"`
}

// SQLiteConfig holds SQLite storage settings. An empty path means in-memory.
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// StorageConfig selects the relay's buffered message store.
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	SQLite   SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `json:"postgres" mapstructure:"postgres"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// RelayConfig holds the relay server settings.
type RelayConfig struct {
	Listen     string `json:"listen" mapstructure:"listen"`
	Path       string `json:"path" mapstructure:"path"`
	SendBuffer int    `json:"sendBuffer" mapstructure:"sendBuffer"`
}

// InfluxConfig holds InfluxDB settings for the status monitor.
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// URL returns the InfluxDB server address.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// GraylogConfig holds the GELF sink settings.
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// MonitorConfig holds the status monitor settings.
type MonitorConfig struct {
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
	StatusPath string        `json:"statusPath" mapstructure:"statusPath"`
}

// SetDefaults registers every default value and the ITEMSYNC_ environment
// overrides. Load calls it; tools that run without a file call it directly.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./itemsynclogs")

	viper.SetDefault("session.relayUrl", "ws://localhost:7777/ws")
	viper.SetDefault("session.name", "default")
	viper.SetDefault("session.scenePath", "scene.yaml")
	viper.SetDefault("session.frameRate", 60)
	viper.SetDefault("session.registryRebuildInterval", "500ms")
	viper.SetDefault("session.actionInterval", "100ms")
	viper.SetDefault("session.poseSyncInterval", "250ms")
	viper.SetDefault("session.presenceInterval", "1s")
	viper.SetDefault("session.grabRadius", 1.0)
	viper.SetDefault("session.startingBalance", 100)
	viper.SetDefault("session.codec", "json")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "itemsync")

	viper.SetDefault("relay.listen", ":7777")
	viper.SetDefault("relay.path", "/ws")
	viper.SetDefault("relay.sendBuffer", 1024)

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "itemsync")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "itemsync")
	viper.SetDefault("influx.bucket", "itemsync_status")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("monitor.interval", "10s")
	viper.SetDefault("monitor.statusPath", "")

	viper.SetEnvPrefix("ITEMSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads configuration from the JSON file in configDir and sets default values.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetSessionConfig returns the peer session settings.
func GetSessionConfig() SessionConfig {
	return SessionConfig{
		RelayURL:                viper.GetString("session.relayUrl"),
		Name:                    viper.GetString("session.name"),
		ScenePath:               viper.GetString("session.scenePath"),
		FrameRate:               viper.GetInt("session.frameRate"),
		RegistryRebuildInterval: viper.GetDuration("session.registryRebuildInterval"),
		ActionInterval:          viper.GetDuration("session.actionInterval"),
		PoseSyncInterval:        viper.GetDuration("session.poseSyncInterval"),
		PresenceInterval:        viper.GetDuration("session.presenceInterval"),
		GrabRadius:              viper.GetFloat64("session.grabRadius"),
		StartingBalance:         viper.GetInt("session.startingBalance"),
		Codec:                   viper.GetString("session.codec"),
	}
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		SQLite: SQLiteConfig{
			Path: viper.GetString("storage.sqlite.path"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetRelayConfig returns the relay server configuration.
func GetRelayConfig() RelayConfig {
	return RelayConfig{
		Listen:     viper.GetString("relay.listen"),
		Path:       viper.GetString("relay.path"),
		SendBuffer: viper.GetInt("relay.sendBuffer"),
	}
}

// GetInfluxConfig returns the InfluxDB configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF sink configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetMonitorConfig returns the status monitor configuration.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:   viper.GetDuration("monitor.interval"),
		StatusPath: viper.GetString("monitor.statusPath"),
	}
}
