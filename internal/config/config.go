package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const envPrefix = "SHAREGATE"

type Config struct {
	Port         int             `json:"port" validate:"required,min=1,max=65535"`
	JWTSecret    string          `json:"jwt_secret" validate:"required"`
	JWTTTL       time.Duration   `json:"jwt_ttl"`
	CORSOrigins  []string        `json:"cors_origins"`
	PublicURL    string          `json:"public_url"`
	SecureCookie bool            `json:"secure_cookie"`
	Database     DatabaseConfig  `json:"database"`
	LogConfig    LogConfig       `json:"log_config"`
	Share        ShareConfig     `json:"share"`
	SMTP         SMTPConfig      `json:"smtp"`
	DenyCache    DenyCacheConfig `json:"deny_cache"`
	Cleanup      CleanupConfig   `json:"cleanup"`
	RateLimit    time.Duration   `json:"rate_limit"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver" validate:"oneof=postgres sqlite"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type LogConfig struct {
	File      string `json:"file"`
	Level     string `json:"level"`
	FileCount int    `json:"file_count"`
	FileSize  int    `json:"file_size"`
	KeepDays  int    `json:"keep_days"`
	Console   bool   `json:"console"`
}

// ShareConfig holds the share policy knobs. MaxExpiration caps how far in the
// future a share may expire; zero means no cap, including shares that never
// expire.
type ShareConfig struct {
	AllowUnauthenticatedShares bool          `json:"allow_unauthenticated_shares"`
	MaxExpiration              time.Duration `json:"max_expiration"`
	AccessTokenTTL             time.Duration `json:"access_token_ttl"`
	TokenSecret                string        `json:"token_secret"`
}

type SMTPConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host" validate:"required_if=Enabled true"`
	Port     int    `json:"port" validate:"required_if=Enabled true"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from" validate:"required_if=Enabled true"`
}

type DenyCacheConfig struct {
	Type  string        `json:"type" validate:"omitempty,oneof=none lru redis"`
	Size  int           `json:"size"`
	TTL   time.Duration `json:"ttl"`
	Redis RedisConfig   `json:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type CleanupConfig struct {
	ShareCron        string        `json:"share_cron"`
	ReverseShareCron string        `json:"reverse_share_cron"`
	Retention        time.Duration `json:"retention"`
}

// Properties are the flags exposed to clients through the configs endpoint.
type Properties struct {
	AllowUnauthenticatedShares bool  `json:"allow_unauthenticated_shares"`
	MaxExpirationSeconds       int64 `json:"max_expiration_seconds"`
	SMTPEnabled                bool  `json:"smtp_enabled"`
}

func (c *Config) Properties() Properties {
	return Properties{
		AllowUnauthenticatedShares: c.Share.AllowUnauthenticatedShares,
		MaxExpirationSeconds:       int64(c.Share.MaxExpiration / time.Second),
		SMTPEnabled:                c.SMTP.Enabled,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_ttl", "72h")
	v.SetDefault("rate_limit", "1s")
	v.SetDefault("public_url", "")
	v.SetDefault("secure_cookie", false)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("log_config.level", "info")
	v.SetDefault("log_config.console", true)
	v.SetDefault("share.allow_unauthenticated_shares", false)
	v.SetDefault("share.max_expiration", "0s")
	v.SetDefault("share.access_token_ttl", "1h")
	v.SetDefault("share.token_secret", "")
	v.SetDefault("smtp.enabled", false)
	v.SetDefault("deny_cache.type", "lru")
	v.SetDefault("deny_cache.size", 4096)
	v.SetDefault("deny_cache.ttl", "30s")
	v.SetDefault("cleanup.share_cron", "0 * * * *")
	v.SetDefault("cleanup.reverse_share_cron", "30 * * * *")
	v.SetDefault("cleanup.retention", "168h")
}

// Load reads a json config file. Every key can be overridden from the
// environment, e.g. SHAREGATE_SHARE_ALLOW_UNAUTHENTICATED_SHARES=true.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Share.TokenSecret == "" {
		c.Share.TokenSecret = c.JWTSecret
	}
	if c.Share.AccessTokenTTL <= 0 {
		c.Share.AccessTokenTTL = time.Hour
	}
	if c.JWTTTL <= 0 {
		c.JWTTTL = 72 * time.Hour
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.DenyCache.Type == "" {
		c.DenyCache.Type = "lru"
	}
	if c.Share.MaxExpiration < 0 {
		return fmt.Errorf("share.max_expiration must not be negative")
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" && c.Database.Host == "" {
			return fmt.Errorf("database.dsn or database.host is required for postgres")
		}
	}
	if c.DenyCache.Type == "redis" && c.DenyCache.Redis.Addr == "" {
		return fmt.Errorf("deny_cache.redis.addr is required for redis cache")
	}
	return nil
}
