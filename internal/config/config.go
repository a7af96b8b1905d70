package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Bridge Gateway - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Bus       BusConfig       `yaml:"bus"`
	Authority AuthorityConfig `yaml:"authority"`
	Identity  IdentityConfig  `yaml:"identity"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	Interface        string   `yaml:"interface"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// BridgeConfig holds the event-bus bridge's own tunables (spec §6).
type BridgeConfig struct {
	Transport       string `yaml:"transport"` // "websocket" or "sockio"
	AuthTimeoutMs   int    `yaml:"auth_timeout_ms"`
	AuthAddress     string `yaml:"auth_address"`
	ReplyTimeoutSec int    `yaml:"reply_timeout_sec"`
	PermissionsPath string `yaml:"permissions_path"` // YAML file with inboundPermitted/outboundPermitted
}

// BusConfig selects and configures the event bus backend.
type BusConfig struct {
	Backend       string `yaml:"backend"` // "local", "redis", or "gcp"
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	GCPProjectID  string `yaml:"gcp_project_id"`
	TopicPrefix   string `yaml:"topic_prefix"`
}

// AuthorityConfig selects and configures the auth-authority backend
// consulted by the Auth Coordinator on cache misses.
type AuthorityConfig struct {
	Backend  string `yaml:"backend"` // "bus" or "grpc"
	GRPCAddr string `yaml:"grpc_addr"`
	// BusUpstreamAddress is the address the "bus" backend forwards auth
	// checks to — a separate, upstream bus address (e.g. a federated
	// identity service) rather than the bridge's own AuthAddress, so the
	// forward never loops back onto the request it is answering.
	BusUpstreamAddress string `yaml:"bus_upstream_address"`
}

// IdentityConfig configures SPIFFE/SPIRE pre-authorisation of
// service-to-service socket clients.
type IdentityConfig struct {
	Enabled     bool   `yaml:"enabled"`
	SocketPath  string `yaml:"socket_path"`
	TrustDomain string `yaml:"trust_domain"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance, loaded once from
// CONFIG_PATH (default config.yaml) with environment overrides applied.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides onto c, then
// fills any remaining zero values with defaults.
func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("BRIDGE_ENV", c.Server.Env)
	c.Server.Interface = getEnv("BRIDGE_INTERFACE", c.Server.Interface)

	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
	if origins := getEnv("BRIDGE_ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	c.Bridge.Transport = getEnv("BRIDGE_TRANSPORT", c.Bridge.Transport)
	c.Bridge.AuthAddress = getEnv("BRIDGE_AUTH_ADDRESS", c.Bridge.AuthAddress)
	c.Bridge.PermissionsPath = getEnv("BRIDGE_PERMISSIONS_PATH", c.Bridge.PermissionsPath)
	if v := getEnvInt("BRIDGE_AUTH_TIMEOUT_MS", -1); v >= 0 {
		c.Bridge.AuthTimeoutMs = v
	}
	if v := getEnvInt("BRIDGE_REPLY_TIMEOUT_SEC", 0); v > 0 {
		c.Bridge.ReplyTimeoutSec = v
	}

	c.Bus.Backend = getEnv("BRIDGE_BUS_BACKEND", c.Bus.Backend)
	c.Bus.RedisAddr = getEnv("BRIDGE_REDIS_ADDR", c.Bus.RedisAddr)
	c.Bus.RedisPassword = getEnv("BRIDGE_REDIS_PASSWORD", c.Bus.RedisPassword)
	c.Bus.GCPProjectID = getEnv("BRIDGE_GCP_PROJECT_ID", c.Bus.GCPProjectID)
	c.Bus.TopicPrefix = getEnv("BRIDGE_TOPIC_PREFIX", c.Bus.TopicPrefix)
	if v := getEnvInt("BRIDGE_REDIS_DB", -1); v >= 0 {
		c.Bus.RedisDB = v
	}

	c.Authority.Backend = getEnv("BRIDGE_AUTHORITY_BACKEND", c.Authority.Backend)
	c.Authority.GRPCAddr = getEnv("BRIDGE_AUTHORITY_GRPC_ADDR", c.Authority.GRPCAddr)
	c.Authority.BusUpstreamAddress = getEnv("BRIDGE_AUTHORITY_BUS_ADDRESS", c.Authority.BusUpstreamAddress)

	c.Identity.Enabled = getEnvBool("BRIDGE_SPIFFE_ENABLED", c.Identity.Enabled)
	c.Identity.SocketPath = getEnv("BRIDGE_SPIFFE_SOCKET", c.Identity.SocketPath)
	c.Identity.TrustDomain = getEnv("BRIDGE_SPIFFE_TRUST_DOMAIN", c.Identity.TrustDomain)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}

	if c.Bridge.Transport == "" {
		c.Bridge.Transport = "websocket"
	}
	if c.Bridge.AuthAddress == "" {
		c.Bridge.AuthAddress = "vertx.basicauthmanager.authorise"
	}
	if c.Bridge.AuthTimeoutMs == 0 {
		c.Bridge.AuthTimeoutMs = 300000
	}
	if c.Bridge.ReplyTimeoutSec == 0 {
		c.Bridge.ReplyTimeoutSec = 30
	}

	if c.Bus.Backend == "" {
		c.Bus.Backend = "local"
	}
	if c.Bus.TopicPrefix == "" {
		c.Bus.TopicPrefix = "bridge-"
	}

	if c.Authority.Backend == "" {
		c.Authority.Backend = "bus"
	}
	if c.Authority.BusUpstreamAddress == "" {
		c.Authority.BusUpstreamAddress = "identity.authorise"
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}
