// Package config loads the host agent's configuration from a YAML file,
// environment variables, and CLI flags, layered exactly as the teacher's
// viper-based config.Load does (flags override env override file override
// built-in defaults).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the host agent needs, grouped by concern.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Match    MatchConfig    `mapstructure:"match"`
	Registry RegistryConfig `mapstructure:"registry"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig holds the agent's own HTTP listener settings.
type ServerConfig struct {
	RestPort    int    `mapstructure:"rest_port"`
	GameIP      string `mapstructure:"game_ip"`
	PublicIP    string `mapstructure:"public_ip"`
	MetricsPort int    `mapstructure:"metrics_port"`
	InstanceID  string `mapstructure:"instance_id"`
	Region      string `mapstructure:"region"`
	Verbose     bool   `mapstructure:"verbose"`
}

// MatchConfig holds the lifecycle engine's tunables.
type MatchConfig struct {
	Engine             string        `mapstructure:"engine"` // "ue4" or "unity"
	BinaryPath         string        `mapstructure:"binary_path"`
	UseBeacon          bool          `mapstructure:"use_beacon"`
	RunAsUnityEditor   bool          `mapstructure:"run_as_unity_editor"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	ConcurrentServers  int           `mapstructure:"concurrent_servers"`
	MaxDSUptimeSeconds time.Duration `mapstructure:"max_ds_uptime_seconds"`
	PortPoolBase       int           `mapstructure:"port_pool_base"`
	PortPoolSize       int           `mapstructure:"port_pool_size"`
}

// RegistryConfig selects and configures the registry-client backend.
type RegistryConfig struct {
	Backend string `mapstructure:"backend"` // "kv" or "http"

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	HTTPBaseURL       string `mapstructure:"http_base_url"`
	OAuthTokenURL     string `mapstructure:"oauth_token_url"`
	OAuthClientID     string `mapstructure:"oauth_client_id"`
	OAuthClientSecret string `mapstructure:"oauth_client_secret"`
}

// AuthConfig configures backend-facing bearer-token enforcement.
type AuthConfig struct {
	EnableOAuth        bool   `mapstructure:"enable_oauth"`
	VerificationPubKey string `mapstructure:"oauth_verification_public_key"`
}

// Load reads configuration from ./config.yaml (or /etc/dshostd/config.yaml),
// overlaid with DSHOSTD_-prefixed environment variables, overlaid with any
// flags the caller has already bound into v.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/dshostd")

	v.SetEnvPrefix("DSHOSTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.rest_port", 5000)
	v.SetDefault("server.game_ip", "127.0.0.1")
	v.SetDefault("server.public_ip", "127.0.0.1")
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.region", "")
	v.SetDefault("server.verbose", false)

	v.SetDefault("match.engine", "ue4")
	v.SetDefault("match.binary_path", "")
	v.SetDefault("match.use_beacon", false)
	v.SetDefault("match.run_as_unity_editor", false)
	v.SetDefault("match.heartbeat_interval", "10s")
	v.SetDefault("match.concurrent_servers", 1)
	v.SetDefault("match.max_ds_uptime_seconds", "0s")
	v.SetDefault("match.port_pool_base", 7500)
	v.SetDefault("match.port_pool_size", 500)

	v.SetDefault("registry.backend", "kv")
	v.SetDefault("registry.redis_addr", "127.0.0.1:6379")
	v.SetDefault("registry.redis_db", 0)

	v.SetDefault("auth.enable_oauth", false)
}
