package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// Cursor store drivers
const (
	DriverNone   = ""
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// JournalConfiguration controls the local commit journal
type JournalConfiguration struct {
	CompactionIntervalSeconds int `toml:"compaction_interval_seconds"` // 0 disables compaction
}

// CursorStoreConfiguration selects the relational store for sync revisions
type CursorStoreConfiguration struct {
	Driver        string `toml:"driver"` // "sqlite3", "mysql" or "" for none
	DSN           string `toml:"dsn"`    // Defaults to {data_dir}/sync_revisions.db for sqlite3
	Table         string `toml:"table"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

// ReaderConfiguration holds the default change journal read parameters
type ReaderConfiguration struct {
	SoftLimit        int      `toml:"soft_limit"`
	Scopes           []string `toml:"scopes"`
	IgnoreProperties []string `toml:"ignore_properties"`
	Squash           bool     `toml:"squash"`
}

// SinkConfiguration configures one sync job publishing ChangeLogs to a sink
type SinkConfiguration struct {
	Name            string   `toml:"name"`   // Also the sync revision id
	Type            string   `toml:"type"`   // "kafka" or "nats"
	Format          string   `toml:"format"` // "json" or "msgpack"
	Compression     string   `toml:"compression"`
	Topic           string   `toml:"topic"`
	Brokers         []string `toml:"brokers"`
	NatsURL         string   `toml:"nats_url"`
	Acks            string   `toml:"acks"`           // Kafka: "all", "leader" or "none"
	StartRevision   int64    `toml:"start_revision"` // Used until the cursor exists
	SoftLimit       int      `toml:"soft_limit"`     // 0 uses reader.soft_limit
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
	MaxRetries      int      `toml:"max_retries"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled                bool `toml:"enabled"`
	CollectIntervalSeconds int  `toml:"collect_interval_seconds"`
}

// HTTPConfiguration for the admin and metrics endpoints
type HTTPConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Pre-shared key for /admin; empty disables auth
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Journal     JournalConfiguration     `toml:"journal"`
	CursorStore CursorStoreConfiguration `toml:"cursor_store"`
	Reader      ReaderConfiguration      `toml:"reader"`
	Sinks       []SinkConfiguration      `toml:"sink"`
	Logging     LoggingConfiguration     `toml:"logging"`
	Prometheus  PrometheusConfiguration  `toml:"prometheus"`
	HTTP        HTTPConfiguration        `toml:"http"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	HTTPPortFlag   = flag.Int("http-port", 0, "Admin/metrics HTTP port (overrides config)")
)

// Default configuration
var Config = Default()

// Default returns a fresh configuration with default values
func Default() *Configuration {
	return &Configuration{
		NodeID:  0, // Auto-generate
		DataDir: "./changejournal-data",

		Journal: JournalConfiguration{
			CompactionIntervalSeconds: 60,
		},

		CursorStore: CursorStoreConfiguration{
			Driver:        DriverSQLite,
			Table:         "sync_revisions",
			BusyTimeoutMS: 5000,
		},

		Reader: ReaderConfiguration{
			SoftLimit:        1000,
			Scopes:           []string{"/"},
			IgnoreProperties: []string{},
			Squash:           true,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled:                true,
			CollectIntervalSeconds: 15,
		},

		HTTP: HTTPConfiguration{
			Enabled:     true,
			BindAddress: "0.0.0.0",
			Port:        8090,
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *HTTPPortFlag != 0 {
		Config.HTTP.Port = *HTTPPortFlag
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("changejournal")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}

	if Config.Journal.CompactionIntervalSeconds < 0 {
		return fmt.Errorf("journal compaction interval must be >= 0")
	}

	switch Config.CursorStore.Driver {
	case DriverNone, DriverSQLite:
	case DriverMySQL:
		if Config.CursorStore.DSN == "" {
			return fmt.Errorf("cursor store dsn is required for mysql")
		}
	default:
		return fmt.Errorf("invalid cursor store driver: %s", Config.CursorStore.Driver)
	}
	if Config.CursorStore.Driver != DriverNone && Config.CursorStore.Table == "" {
		return fmt.Errorf("cursor store table is required")
	}

	if Config.Reader.SoftLimit < 0 {
		return fmt.Errorf("reader soft limit must be >= 0")
	}
	if len(Config.Reader.Scopes) == 0 {
		return fmt.Errorf("at least one reader scope is required")
	}
	for _, scope := range Config.Reader.Scopes {
		if !strings.HasPrefix(scope, "/") {
			return fmt.Errorf("reader scope %q must be an absolute path", scope)
		}
	}

	if Config.Prometheus.Enabled && Config.Prometheus.CollectIntervalSeconds < 1 {
		return fmt.Errorf("prometheus collect interval must be >= 1 second")
	}

	if Config.HTTP.Enabled && (Config.HTTP.Port < 1 || Config.HTTP.Port > 65535) {
		return fmt.Errorf("invalid HTTP port: %d", Config.HTTP.Port)
	}

	if len(Config.Sinks) > 0 && Config.CursorStore.Driver == DriverNone {
		return fmt.Errorf("sinks require a cursor store")
	}

	names := make(map[string]bool, len(Config.Sinks))
	for i, sink := range Config.Sinks {
		if err := validateSink(sink); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
		if names[sink.Name] {
			return fmt.Errorf("duplicate sink name: %s", sink.Name)
		}
		names[sink.Name] = true
	}

	return nil
}

func validateSink(sink SinkConfiguration) error {
	if strings.TrimSpace(sink.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if sink.Type == "" {
		return fmt.Errorf("type is required")
	}
	switch sink.Format {
	case "", "json", "msgpack":
	default:
		return fmt.Errorf("invalid format: %s", sink.Format)
	}
	switch sink.Compression {
	case "", "none", "zstd":
	default:
		return fmt.Errorf("invalid compression: %s", sink.Compression)
	}
	switch sink.Acks {
	case "", "all", "leader", "none":
	default:
		return fmt.Errorf("invalid acks: %s", sink.Acks)
	}
	if sink.StartRevision < 0 {
		return fmt.Errorf("start revision must be >= 0")
	}
	if sink.SoftLimit < 0 {
		return fmt.Errorf("soft limit must be >= 0")
	}
	return nil
}

// CursorStoreDSN returns the configured DSN, defaulting to a SQLite file in the data directory
func CursorStoreDSN() string {
	if Config.CursorStore.DSN == "" && Config.CursorStore.Driver == DriverSQLite {
		return filepath.Join(Config.DataDir, "sync_revisions.db")
	}
	return Config.CursorStore.DSN
}

// AdminSecretEnv overrides http.secret when set
const AdminSecretEnv = "CHANGEJOURNAL_ADMIN_SECRET"

// GetAdminSecret returns the admin pre-shared key, preferring the environment
func GetAdminSecret() string {
	if secret := os.Getenv(AdminSecretEnv); secret != "" {
		return secret
	}
	return Config.HTTP.Secret
}

// IsAdminAuthEnabled reports whether admin endpoints require the secret
func IsAdminAuthEnabled() bool {
	return GetAdminSecret() != ""
}
