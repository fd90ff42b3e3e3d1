package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "fleetsim.cfg.json"

// StoreConfig selects the broadcast store backend.
type StoreConfig struct {
	Type string `json:"type" mapstructure:"type"` // "memory" or "mqtt"
	Path string `json:"path" mapstructure:"path"`
}

// MQTTConfig holds broker settings for the mqtt store.
type MQTTConfig struct {
	Broker   string        `json:"broker" mapstructure:"broker"`
	ClientID string        `json:"clientId" mapstructure:"clientId"`
	QoS      byte          `json:"qos" mapstructure:"qos"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
}

// SimulationConfig holds route catalog and fallback settings.
type SimulationConfig struct {
	DefaultRoute string `json:"defaultRoute" mapstructure:"defaultRoute"`
	CatalogFile  string `json:"catalogFile" mapstructure:"catalogFile"`
}

// CatalogConfig points at an optional remote route catalog service.
type CatalogConfig struct {
	ServerURL string `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey    string `json:"apiKey" mapstructure:"apiKey"`
}

// GatewayConfig holds the HTTP/websocket gateway settings.
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
}

// HistoryConfig holds position history recorder settings.
type HistoryConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	Type          string        `json:"type" mapstructure:"type"` // "postgres" or "sqlite"
	SQLitePath    string        `json:"sqlitePath" mapstructure:"sqlitePath"`
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
	MaxPending    int           `json:"maxPending" mapstructure:"maxPending"`
}

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	Enabled    bool          `json:"enabled" mapstructure:"enabled"`
	Host       string        `json:"host" mapstructure:"host"`
	Port       string        `json:"port" mapstructure:"port"`
	Protocol   string        `json:"protocol" mapstructure:"protocol"`
	Token      string        `json:"token" mapstructure:"token"`
	Org        string        `json:"org" mapstructure:"org"`
	BackupPath string        `json:"backupPath" mapstructure:"backupPath"`
	Retention  time.Duration `json:"retention" mapstructure:"retention"` // of newly created buckets
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`

	// MetricInterval is how often metrics are written to the OTel log file;
	// zero disables metric export.
	MetricInterval time.Duration `json:"metricInterval" mapstructure:"metricInterval"`
}

// GraylogConfig holds GELF log shipping settings.
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// GPSConfig holds the serial port of a real GPS receiver.
type GPSConfig struct {
	SerialPort  string        `json:"serialPort" mapstructure:"serialPort"`
	BaudRate    uint          `json:"baudRate" mapstructure:"baudRate"`
	MinInterval time.Duration `json:"minInterval" mapstructure:"minInterval"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// Watch calls onChange with the new log level whenever the loaded config
// file is rewritten. Only the log level is applied live; everything else
// needs a restart.
func Watch(onChange func(logLevel string)) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Has(fsnotify.Write) || e.Has(fsnotify.Create) {
			onChange(viper.GetString("logLevel"))
		}
	})
	viper.WatchConfig()
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("store.type", "memory")
	viper.SetDefault("store.path", "activeDrivers")

	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientId", "fleetsim")
	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("mqtt.timeout", "5s")

	viper.SetDefault("simulation.defaultRoute", "LRT_BUKIT_JALIL")
	viper.SetDefault("simulation.catalogFile", "")

	viper.SetDefault("catalog.serverUrl", "")
	viper.SetDefault("catalog.apiKey", "")

	viper.SetDefault("gateway.enabled", true)
	viper.SetDefault("gateway.listen", ":8080")

	viper.SetDefault("history.enabled", false)
	viper.SetDefault("history.type", "sqlite")
	viper.SetDefault("history.sqlitePath", "./fleetsim_history.db")
	viper.SetDefault("history.flushInterval", "2s")
	viper.SetDefault("history.maxPending", 50000)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "fleetsim")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "campus-shuttle")
	viper.SetDefault("influx.backupPath", "./influx_backup.lp.gz")
	viper.SetDefault("influx.retention", "720h")

	viper.SetDefault("monitor.interval", "30s")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "fleetsim")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
	viper.SetDefault("otel.metricInterval", "30s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("gps.serialPort", "/dev/serial0")
	viper.SetDefault("gps.baudRate", 9600)
	viper.SetDefault("gps.minInterval", "1s")
}

// LoadDefaults sets default values without reading a file.
func LoadDefaults() {
	setDefaults()
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

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetStoreConfig returns the broadcast store settings.
func GetStoreConfig() StoreConfig {
	return StoreConfig{
		Type: viper.GetString("store.type"),
		Path: viper.GetString("store.path"),
	}
}

// GetMQTTConfig returns the broker settings.
func GetMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:   viper.GetString("mqtt.broker"),
		ClientID: viper.GetString("mqtt.clientId"),
		QoS:      byte(viper.GetUint("mqtt.qos")),
		Timeout:  viper.GetDuration("mqtt.timeout"),
	}
}

// GetSimulationConfig returns the route catalog settings.
func GetSimulationConfig() SimulationConfig {
	return SimulationConfig{
		DefaultRoute: viper.GetString("simulation.defaultRoute"),
		CatalogFile:  viper.GetString("simulation.catalogFile"),
	}
}

// GetCatalogConfig returns the remote catalog settings.
func GetCatalogConfig() CatalogConfig {
	return CatalogConfig{
		ServerURL: viper.GetString("catalog.serverUrl"),
		APIKey:    viper.GetString("catalog.apiKey"),
	}
}

// GetGatewayConfig returns the gateway settings.
func GetGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Enabled: viper.GetBool("gateway.enabled"),
		Listen:  viper.GetString("gateway.listen"),
	}
}

// GetHistoryConfig returns the history recorder settings.
func GetHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Enabled:       viper.GetBool("history.enabled"),
		Type:          viper.GetString("history.type"),
		SQLitePath:    viper.GetString("history.sqlitePath"),
		FlushInterval: viper.GetDuration("history.flushInterval"),
		MaxPending:    viper.GetInt("history.maxPending"),
	}
}

// GetDBConfig returns the Postgres settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Protocol:   viper.GetString("influx.protocol"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		BackupPath: viper.GetString("influx.backupPath"),
		Retention:  viper.GetDuration("influx.retention"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),

		MetricInterval: viper.GetDuration("otel.metricInterval"),
	}
}

// GetGraylogConfig returns the Graylog settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetGPSConfig returns the GPS receiver settings.
func GetGPSConfig() GPSConfig {
	return GPSConfig{
		SerialPort:  viper.GetString("gps.serialPort"),
		BaudRate:    viper.GetUint("gps.baudRate"),
		MinInterval: viper.GetDuration("gps.minInterval"),
	}
}
