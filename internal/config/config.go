package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "BUTO"
	defaultHTTPAddress      = "0.0.0.0:3000"
	defaultDatabasePath     = "buto.db"
	defaultLogLevel         = "info"
	defaultTokenTTLMinutes  = 60
	defaultRedisAddr        = "127.0.0.1:6379"
	defaultAIEndpoint       = "https://api.openai.com/v1"
	defaultAIModel          = "gpt-4o"
	defaultAIMaxAttempts    = 3
	defaultAIRetryBaseMilli = 1000
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	AIEndpoint    string
	AIAPIKey      string
	AIModel       string
	AIMaxAttempts int
	AIRetryBase   time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("redis.addr", defaultRedisAddr)
	configViper.SetDefault("ai.endpoint", defaultAIEndpoint)
	configViper.SetDefault("ai.model", defaultAIModel)
	configViper.SetDefault("ai.max_attempts", defaultAIMaxAttempts)
	configViper.SetDefault("ai.retry_base_ms", defaultAIRetryBaseMilli)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		RedisAddr:     configViper.GetString("redis.addr"),
		RedisPassword: configViper.GetString("redis.password"),
		AIEndpoint:    configViper.GetString("ai.endpoint"),
		AIAPIKey:      configViper.GetString("ai.api_key"),
		AIModel:       configViper.GetString("ai.model"),
		AIMaxAttempts: configViper.GetInt("ai.max_attempts"),
		AIRetryBase:   time.Duration(configViper.GetInt("ai.retry_base_ms")) * time.Millisecond,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.AIModel) == "" {
		return fmt.Errorf("ai.model is required")
	}
	if c.AIMaxAttempts <= 0 {
		return fmt.Errorf("ai.max_attempts must be positive")
	}
	return nil
}
