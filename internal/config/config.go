package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "markerscene.cfg.json"

// DefaultFallbackShaders is the material-repair preference list.
var DefaultFallbackShaders = []string{
	"Shader Graphs/glTF-pbrMetallicRoughness",
	"Universal Render Pipeline/Lit",
}

// BackendConfig holds HTTP settings shared by the scene client and downloads.
type BackendConfig struct {
	// BaseURL is probed by health checks. Activations carry their own base.
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// ContentConfig holds content loader settings.
type ContentConfig struct {
	MaxBytes        int64
	FallbackShaders []string
	RootName        string
	Prefetch        bool
	PrefetchLimit   int
}

// ResolverConfig selects how cloud-storage locators are resolved.
type ResolverConfig struct {
	Mode           string // public, exchange or gcs
	PublicHost     string
	ExchangeURL    string
	FallbackPublic bool
	GCS            GCSConfig
}

// GCSConfig holds signed URL settings.
type GCSConfig struct {
	CredentialsFile string
	Expiry          time.Duration
}

// OrchestratorConfig holds state machine settings.
type OrchestratorConfig struct {
	MailboxSize int
	WorldRoot   string
	JobTimeout  time.Duration
}

// MemoryConfig holds in-memory journal settings.
type MemoryConfig struct {
	ExportPath string `json:"exportPath" mapstructure:"exportPath"`
}

// SQLiteConfig holds SQLite journal settings.
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// StreamConfig holds journal streaming settings.
type StreamConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// StorageConfig selects the journal backend.
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
	Stream StreamConfig `json:"stream" mapstructure:"stream"`
}

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// DSN returns the lib/pq style connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// InfluxConfig holds InfluxDB metrics settings.
type InfluxConfig struct {
	Enabled  bool
	Protocol string
	Host     string
	Port     string
	Token    string
	Org      string
	Bucket   string
}

// URL returns the InfluxDB server URL.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// GraylogConfig holds GELF sink settings.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// SetDefaults registers every default value. Load calls it; tests that skip
// the config file can call it directly.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./markerscene_logs")

	viper.SetDefault("backend.baseUrl", "")
	viper.SetDefault("backend.timeout", "30s")
	viper.SetDefault("backend.userAgent", "markerscene/1.0")

	viper.SetDefault("content.maxBytes", int64(64<<20))
	viper.SetDefault("content.fallbackShaders", DefaultFallbackShaders)
	viper.SetDefault("content.rootName", "")
	viper.SetDefault("content.prefetch", false)
	viper.SetDefault("content.prefetchLimit", 4)

	viper.SetDefault("resolver.mode", "public")
	viper.SetDefault("resolver.publicHost", "storage.googleapis.com")
	viper.SetDefault("resolver.exchangeUrl", "")
	viper.SetDefault("resolver.fallbackPublic", true)
	viper.SetDefault("resolver.gcs.credentialsFile", "")
	viper.SetDefault("resolver.gcs.expiry", "15m")

	viper.SetDefault("marker.jobTimeout", "30s")

	viper.SetDefault("orchestrator.mailboxSize", 256)
	viper.SetDefault("orchestrator.worldRoot", "")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.exportPath", "")
	viper.SetDefault("storage.sqlite.path", "./markerscene_journal.db")
	viper.SetDefault("storage.stream.url", "")
	viper.SetDefault("storage.stream.secret", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "markerscene")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "markerscene")
	viper.SetDefault("influx.bucket", "ar_runtime")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "markerscene")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("monitor.listen", "")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
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

// GetBackendConfig returns the HTTP settings.
func GetBackendConfig() BackendConfig {
	return BackendConfig{
		BaseURL:   viper.GetString("backend.baseUrl"),
		Timeout:   viper.GetDuration("backend.timeout"),
		UserAgent: viper.GetString("backend.userAgent"),
	}
}

// GetContentConfig returns the content loader settings.
func GetContentConfig() ContentConfig {
	shaders := viper.GetStringSlice("content.fallbackShaders")
	if len(shaders) == 0 {
		shaders = DefaultFallbackShaders
	}
	return ContentConfig{
		MaxBytes:        viper.GetInt64("content.maxBytes"),
		FallbackShaders: shaders,
		RootName:        viper.GetString("content.rootName"),
		Prefetch:        viper.GetBool("content.prefetch"),
		PrefetchLimit:   viper.GetInt("content.prefetchLimit"),
	}
}

// GetResolverConfig returns the locator resolution settings.
func GetResolverConfig() ResolverConfig {
	return ResolverConfig{
		Mode:           viper.GetString("resolver.mode"),
		PublicHost:     viper.GetString("resolver.publicHost"),
		ExchangeURL:    viper.GetString("resolver.exchangeUrl"),
		FallbackPublic: viper.GetBool("resolver.fallbackPublic"),
		GCS: GCSConfig{
			CredentialsFile: viper.GetString("resolver.gcs.credentialsFile"),
			Expiry:          viper.GetDuration("resolver.gcs.expiry"),
		},
	}
}

// GetOrchestratorConfig returns the state machine settings.
func GetOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MailboxSize: viper.GetInt("orchestrator.mailboxSize"),
		WorldRoot:   viper.GetString("orchestrator.worldRoot"),
		JobTimeout:  viper.GetDuration("marker.jobTimeout"),
	}
}

// GetStorageConfig returns the journal backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			ExportPath: viper.GetString("storage.memory.exportPath"),
		},
		SQLite: SQLiteConfig{
			Path: viper.GetString("storage.sqlite.path"),
		},
		Stream: StreamConfig{
			URL:    viper.GetString("storage.stream.url"),
			Secret: viper.GetString("storage.stream.secret"),
		},
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

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
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

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}
