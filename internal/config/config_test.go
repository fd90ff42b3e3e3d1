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
		"store": { "type": "mqtt", "path": "drivers" },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
	assert.Equal(t, StoreConfig{Type: "mqtt", Path: "drivers"}, GetStoreConfig())
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./logs", viper.GetString("logsDir"))
	assert.Equal(t, StoreConfig{Type: "memory", Path: "activeDrivers"}, GetStoreConfig())
	assert.Equal(t, MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "fleetsim", QoS: 1, Timeout: 5 * time.Second}, GetMQTTConfig())
	assert.Equal(t, SimulationConfig{DefaultRoute: "LRT_BUKIT_JALIL"}, GetSimulationConfig())
	assert.Equal(t, CatalogConfig{}, GetCatalogConfig())
	assert.Equal(t, GatewayConfig{Enabled: true, Listen: ":8080"}, GetGatewayConfig())
	assert.Equal(t, HistoryConfig{Type: "sqlite", SQLitePath: "./fleetsim_history.db", FlushInterval: 2 * time.Second, MaxPending: 50000}, GetHistoryConfig())
	assert.Equal(t, "fleetsim", GetDBConfig().Database)
	assert.Equal(t, false, GetInfluxConfig().Enabled)
	assert.Equal(t, "./influx_backup.lp.gz", GetInfluxConfig().BackupPath)
	assert.Equal(t, 30*24*time.Hour, GetInfluxConfig().Retention)
	assert.Equal(t, 30*time.Second, GetDuration("monitor.interval"))
	assert.Equal(t, GraylogConfig{Address: "localhost:12201"}, GetGraylogConfig())
	assert.Equal(t, GPSConfig{SerialPort: "/dev/serial0", BaudRate: 9600, MinInterval: time.Second}, GetGPSConfig())
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	// defaults are still in place for callers that continue
	assert.Equal(t, "memory", GetStoreConfig().Type)
}

func TestLoadDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	LoadDefaults()
	assert.Equal(t, ":8080", GetGatewayConfig().Listen)
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetHistoryConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"history": { "enabled": true, "type": "postgres", "flushInterval": "500ms" }
	}`)))

	hc := GetHistoryConfig()
	assert.Equal(t, true, hc.Enabled)
	assert.Equal(t, "postgres", hc.Type)
	assert.Equal(t, 500*time.Millisecond, hc.FlushInterval)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "fleetsim", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, "", cfg.Endpoint)
	assert.Equal(t, true, cfg.Insecure)
	assert.Equal(t, 30*time.Second, cfg.MetricInterval)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"endpoint": "localhost:4318",
			"insecure": false,
			"metricInterval": "0s"
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4318", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
	assert.Zero(t, oc.MetricInterval)
}

func TestWatch_ReportsNewLogLevel(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{ "logLevel": "info" }`)
	require.NoError(t, Load(dir))

	levels := make(chan string, 8)
	Watch(func(level string) { levels <- level })

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`{ "logLevel": "debug" }`), 0644))

	assert.Eventually(t, func() bool {
		select {
		case l := <-levels:
			return l == "debug"
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatch_NoConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	called := false
	Watch(func(string) { called = true })
	assert.False(t, called)
}
