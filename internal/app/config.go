package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loomworks/fabricgate/internal/auth"
	"github.com/loomworks/fabricgate/internal/cache"
	"github.com/loomworks/fabricgate/internal/database"
	"github.com/loomworks/fabricgate/internal/policy"
)

// Config represents the runtime configuration for the FabricGate services.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the policy service HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// GatewayConfig configures the edge gateway binary.
type GatewayConfig struct {
	Port        int      `mapstructure:"port"`
	Upstream    string   `mapstructure:"upstream"`
	PublicPaths []string `mapstructure:"public_paths"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes the two cache tiers.
type CacheConfig struct {
	Redis    RedisCacheConfig `mapstructure:"redis"`
	Local    LocalCacheConfig `mapstructure:"local"`
	LocalTTL time.Duration    `mapstructure:"local_ttl"`
}

// RedisCacheConfig holds Redis connection options for the shared tier.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LocalCacheConfig tunes the in-process tier.
type LocalCacheConfig struct {
	NumCounters int64 `mapstructure:"num_counters"`
	MaxCost     int64 `mapstructure:"max_cost"`
	BufferItems int64 `mapstructure:"buffer_items"`
}

// PolicyConfig controls evaluation behaviour and the declared registry.
type PolicyConfig struct {
	TTL                TTLSettings                  `mapstructure:"ttl"`
	ServicePublicPaths []string                     `mapstructure:"service_public_paths"`
	Registry           []policy.RegistryDeclaration `mapstructure:"registry"`
}

// TTLSettings sets per-key-class cache expiry.
type TTLSettings struct {
	Policy time.Duration `mapstructure:"policy"`
	User   time.Duration `mapstructure:"user"`
	Role   time.Duration `mapstructure:"role"`
	Tenant time.Duration `mapstructure:"tenant"`
}

// AuditConfig tunes the async decision trail writer.
type AuditConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// AuthConfig captures token verification settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures access token verification.
type JWTSettings struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// MonitoringConfig enables metrics endpoints.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("FABRICGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("gateway.port", 8081)
	v.SetDefault("gateway.upstream", "http://127.0.0.1:8080")
	v.SetDefault("gateway.public_paths", []string{"/healthz", "/metrics"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/fabricgate.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.local.num_counters", 1_000_000)
	v.SetDefault("cache.local.max_cost", 64<<20)
	v.SetDefault("cache.local.buffer_items", 64)
	v.SetDefault("cache.local_ttl", "1m")

	v.SetDefault("policy.ttl.policy", "30m")
	v.SetDefault("policy.ttl.user", "15m")
	v.SetDefault("policy.ttl.role", "60m")
	v.SetDefault("policy.ttl.tenant", "120m")
	v.SetDefault("policy.service_public_paths", []string{})

	v.SetDefault("audit.queue_size", 1024)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// DatabaseSettings converts the configured database section into connection options.
func (c *Config) DatabaseSettings() database.Config {
	cfg := database.Config{
		Driver: c.Database.Driver,
		Path:   c.Database.Path,
		DSN:    c.Database.DSN,
	}

	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "postgresql":
		cfg.Host = c.Database.Postgres.Host
		cfg.Port = c.Database.Postgres.Port
		cfg.Name = c.Database.Postgres.Database
		cfg.User = c.Database.Postgres.Username
		cfg.Password = c.Database.Postgres.Password
	case "mysql":
		cfg.Host = c.Database.MySQL.Host
		cfg.Port = c.Database.MySQL.Port
		cfg.Name = c.Database.MySQL.Database
		cfg.User = c.Database.MySQL.Username
		cfg.Password = c.Database.MySQL.Password
	}

	return cfg
}

// RedisSettings converts the Redis section into store options.
func (c *Config) RedisSettings() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  c.Cache.Redis.Address,
		Username: c.Cache.Redis.Username,
		Password: c.Cache.Redis.Password,
		DB:       c.Cache.Redis.DB,
		TLS:      c.Cache.Redis.TLS,
		Timeout:  c.Cache.Redis.Timeout,
	}
}

// LocalCacheSettings converts the local cache section into store options.
func (c *Config) LocalCacheSettings() cache.LocalConfig {
	return cache.LocalConfig{
		NumCounters: c.Cache.Local.NumCounters,
		MaxCost:     c.Cache.Local.MaxCost,
		BufferItems: c.Cache.Local.BufferItems,
	}
}

// CacheTTLSettings converts the policy TTL section into cache expiry options.
func (c *Config) CacheTTLSettings() policy.TTLConfig {
	return policy.TTLConfig{
		Policy: c.Policy.TTL.Policy,
		User:   c.Policy.TTL.User,
		Role:   c.Policy.TTL.Role,
		Tenant: c.Policy.TTL.Tenant,
	}
}

// JWTSettings converts the auth section into verifier options.
func (c *Config) JWTVerifierSettings() auth.JWTConfig {
	return auth.JWTConfig{
		Secret: c.Auth.JWT.Secret,
		Issuer: c.Auth.JWT.Issuer,
	}
}
