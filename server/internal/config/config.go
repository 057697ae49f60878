package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultStatsInterval   = 5 * time.Second
	DefaultSendBuffer      = 64
	DefaultMaxFrameBytes   = 16 << 10
	DefaultMaxConnections  = 1000
	DefaultRateBurst       = 20
	DefaultRateRefill      = time.Second
	DefaultDrainTimeout    = 5 * time.Second
	DefaultStorageBackend  = "memory"
	DefaultStorageTimeout  = 5 * time.Second
	DefaultStorageDatabase = "collabhub"
	DefaultStoragePath     = "collabhub.db"
	DefaultDeleteMode      = "soft"
	DefaultLogLevel        = "info"
	DefaultURIEnv          = "COLLABHUB_STORAGE_URI"
	minStatsInterval       = 100 * time.Millisecond
	maxAllowedFrameBytes   = 1 << 20
	maxAllowedSendBuffer   = 4096
	maxAllowedRateBurst    = 10000
	maxStorageTimeout      = time.Minute
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the WebSocket hub, REST API and /metrics listen on.
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Hub tunes the live collaboration hub.
	Hub HubConfig `yaml:"hub"`

	// Storage selects and configures the persistence backend.
	Storage StorageConfig `yaml:"storage"`
}

// HubConfig controls connection handling and fan-out.
type HubConfig struct {
	// StatsInterval is how often dashboard statistics are pushed to all
	// clients. Default: 5s.
	StatsInterval time.Duration `yaml:"stats_interval"`

	// SendBuffer is the per-connection outgoing message buffer depth.
	// A client whose buffer fills up is disconnected.
	SendBuffer int `yaml:"send_buffer"`

	// MaxFrameBytes is the largest inbound frame accepted; larger frames
	// close the connection.
	MaxFrameBytes int64 `yaml:"max_frame_bytes"`

	// MaxConnections caps concurrent sessions; further upgrades get 503.
	MaxConnections int `yaml:"max_connections"`

	// AllowedOrigins lists the origins allowed to open a WebSocket.
	// "*" allows every origin. Empty allows every origin as well, which
	// matches the development default.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// RateLimit throttles inbound events per connection.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// DrainTimeout bounds how long shutdown waits for closed sessions to
	// record their users as offline. Default: 5s.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// RateLimitConfig is a token bucket: Burst events, refilled completely every
// RefillInterval.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is one of: memory | mongo | sqlite | postgres.
	Backend string `yaml:"backend"`

	// URIEnv is the name of the environment variable that holds the
	// connection string. Used when Backend is "mongo" or "postgres".
	URIEnv string `yaml:"uri_env"`

	// Database is the MongoDB database name.
	Database string `yaml:"database"`

	// Path is the SQLite database file. Used when Backend == "sqlite".
	Path string `yaml:"path"`

	// Timeout bounds every persistence call. A call that exceeds it is
	// reported to the client as persistence_timeout.
	Timeout time.Duration `yaml:"timeout"`

	// DeleteMode is one of: soft | hard.
	DeleteMode string `yaml:"delete_mode"`

	// Retention purges soft-deleted messages older than this. Zero keeps
	// them forever.
	Retention time.Duration `yaml:"retention"`
}

// URI returns the connection string resolved from the environment.
func (s StorageConfig) URI() string {
	if s.URIEnv == "" {
		return ""
	}
	return os.Getenv(s.URIEnv)
}

// HardDelete reports whether message deletion removes the document.
func (s StorageConfig) HardDelete() bool {
	return s.DeleteMode == "hard"
}

// Level returns the slog level for LogLevel.
func (s ServerConfig) Level() slog.Level {
	switch s.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			LogLevel: DefaultLogLevel,
			Hub: HubConfig{
				StatsInterval:  DefaultStatsInterval,
				SendBuffer:     DefaultSendBuffer,
				MaxFrameBytes:  DefaultMaxFrameBytes,
				MaxConnections: DefaultMaxConnections,
				DrainTimeout:   DefaultDrainTimeout,
				RateLimit: RateLimitConfig{
					Burst:          DefaultRateBurst,
					RefillInterval: DefaultRateRefill,
				},
			},
			Storage: StorageConfig{
				Backend:    DefaultStorageBackend,
				URIEnv:     DefaultURIEnv,
				Database:   DefaultStorageDatabase,
				Path:       DefaultStoragePath,
				Timeout:    DefaultStorageTimeout,
				DeleteMode: DefaultDeleteMode,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}

	h := s.Hub
	if h.StatsInterval < minStatsInterval {
		return fmt.Errorf("server.hub.stats_interval must be at least %v", minStatsInterval)
	}
	if h.SendBuffer <= 0 || h.SendBuffer > maxAllowedSendBuffer {
		return fmt.Errorf("server.hub.send_buffer %d is out of range [1, %d]", h.SendBuffer, maxAllowedSendBuffer)
	}
	if h.MaxFrameBytes <= 0 || h.MaxFrameBytes > maxAllowedFrameBytes {
		return fmt.Errorf("server.hub.max_frame_bytes %d is out of range [1, %d]", h.MaxFrameBytes, maxAllowedFrameBytes)
	}
	if h.MaxConnections <= 0 {
		return fmt.Errorf("server.hub.max_connections must be positive")
	}
	if h.RateLimit.Burst <= 0 || h.RateLimit.Burst > maxAllowedRateBurst {
		return fmt.Errorf("server.hub.rate_limit.burst %d is out of range [1, %d]", h.RateLimit.Burst, maxAllowedRateBurst)
	}
	if h.RateLimit.RefillInterval <= 0 {
		return fmt.Errorf("server.hub.rate_limit.refill_interval must be positive")
	}
	if h.DrainTimeout < 0 {
		return fmt.Errorf("server.hub.drain_timeout must not be negative")
	}

	st := s.Storage
	switch st.Backend {
	case "memory", "sqlite":
	case "mongo", "postgres":
		if st.URIEnv == "" {
			return fmt.Errorf("server.storage.uri_env is required for the %s backend", st.Backend)
		}
		if st.Backend == "mongo" && st.Database == "" {
			return fmt.Errorf("server.storage.database is required for the mongo backend")
		}
	default:
		return fmt.Errorf("server.storage.backend %q unknown: want memory|mongo|sqlite|postgres", st.Backend)
	}
	if st.Backend == "sqlite" && st.Path == "" {
		return fmt.Errorf("server.storage.path is required for the sqlite backend")
	}
	if st.Timeout <= 0 || st.Timeout > maxStorageTimeout {
		return fmt.Errorf("server.storage.timeout must be in (0, %v]", maxStorageTimeout)
	}
	switch st.DeleteMode {
	case "soft", "hard":
	default:
		return fmt.Errorf("server.storage.delete_mode %q unknown: want soft|hard", st.DeleteMode)
	}
	if st.Retention < 0 {
		return fmt.Errorf("server.storage.retention must not be negative")
	}
	return nil
}
