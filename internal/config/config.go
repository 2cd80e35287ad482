package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Log           struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Server struct {
		Address         string        `mapstructure:"address"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	} `mapstructure:"server"`
	DB struct {
		Driver     string `mapstructure:"driver"`
		Host       string `mapstructure:"host"`
		Port       int    `mapstructure:"port"`
		User       string `mapstructure:"user"`
		Password   string `mapstructure:"password"`
		Name       string `mapstructure:"name"`
		SSLMode    string `mapstructure:"sslmode"`
		AppRole    string `mapstructure:"app_role"`
		MaxConns   int32  `mapstructure:"max_conns"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"db"`
	Auth struct {
		Mode       string        `mapstructure:"mode"`
		JWTSecret  string        `mapstructure:"jwt_secret"`
		Algorithm  string        `mapstructure:"algorithm"`
		Issuer     string        `mapstructure:"issuer"`
		Audience   string        `mapstructure:"audience"`
		ClockSkew  time.Duration `mapstructure:"clock_skew"`
		RequireExp bool          `mapstructure:"require_exp"`
		OIDCIssuer string        `mapstructure:"oidc_issuer"`
		ClientID   string        `mapstructure:"client_id"`
	} `mapstructure:"auth"`
	Generation struct {
		Provider  string        `mapstructure:"provider"`
		Model     string        `mapstructure:"model"`
		APIKey    string        `mapstructure:"api_key"`
		BaseURL   string        `mapstructure:"base_url"`
		MaxTokens int64         `mapstructure:"max_tokens"`
		MockDelay time.Duration `mapstructure:"mock_delay"`
		Sidecar   struct {
			URL          string   `mapstructure:"url"`
			TokenURL     string   `mapstructure:"token_url"`
			ClientID     string   `mapstructure:"client_id"`
			ClientSecret string   `mapstructure:"client_secret"`
			Scopes       []string `mapstructure:"scopes"`
		} `mapstructure:"sidecar"`
	} `mapstructure:"generation"`
	Workflow struct {
		MaxConcurrency      int           `mapstructure:"max_concurrency"`
		TaskTimeout         time.Duration `mapstructure:"task_timeout"`
		PlanTimeout         time.Duration `mapstructure:"plan_timeout"`
		MaxTasks            int           `mapstructure:"max_tasks"`
		DefaultHistoryLimit int           `mapstructure:"default_history_limit"`
		MaxHistoryLimit     int           `mapstructure:"max_history_limit"`
	} `mapstructure:"workflow"`
	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		PlanTTL  time.Duration `mapstructure:"plan_ttl"`
	} `mapstructure:"redis"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// IsDev reports whether the process runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// LoadConfig loads the configuration from a file and the environment. An empty
// path searches for config.yaml in the working directory and ./config; a
// missing file is not an error since every key has a default or an env override.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// legacy names used by the hosted auth provider
	if err := v.BindEnv("auth.jwt_secret", "NEXUS_AUTH_JWT_SECRET", "JWT_SECRET", "SUPABASE_JWT_SECRET"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	config.Auth.OIDCIssuer = normalizeIssuer(config.Auth.OIDCIssuer)
	config.Auth.Issuer = strings.TrimSpace(config.Auth.Issuer)
	config.Auth.Mode = strings.ToLower(strings.TrimSpace(config.Auth.Mode))
	config.Generation.Provider = strings.ToLower(strings.TrimSpace(config.Generation.Provider))
	config.DB.Driver = strings.ToLower(strings.TrimSpace(config.DB.Driver))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	// a workflow run holds the request open for the whole fan-out
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "nexus")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.app_role", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.sqlite_path", "nexus.db")

	v.SetDefault("auth.mode", "hmac")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.algorithm", "HS256")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.clock_skew", time.Duration(0))
	v.SetDefault("auth.require_exp", true)
	v.SetDefault("auth.oidc_issuer", "")
	v.SetDefault("auth.client_id", "")

	v.SetDefault("generation.provider", "mock")
	v.SetDefault("generation.model", "")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.base_url", "")
	v.SetDefault("generation.max_tokens", 1024)
	v.SetDefault("generation.mock_delay", 500*time.Millisecond)
	v.SetDefault("generation.sidecar.url", "")
	v.SetDefault("generation.sidecar.token_url", "")
	v.SetDefault("generation.sidecar.client_id", "")
	v.SetDefault("generation.sidecar.client_secret", "")
	v.SetDefault("generation.sidecar.scopes", []string{})

	v.SetDefault("workflow.max_concurrency", 0)
	v.SetDefault("workflow.task_timeout", 60*time.Second)
	v.SetDefault("workflow.plan_timeout", 30*time.Second)
	v.SetDefault("workflow.max_tasks", 5)
	v.SetDefault("workflow.default_history_limit", 10)
	v.SetDefault("workflow.max_history_limit", 100)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.plan_ttl", time.Hour)

	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.hostnames", []string{})
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	bypass := c.IsDev() && c.DevModeBypass
	if c.DevModeBypass && !c.IsDev() {
		return errors.New("dev_mode_bypass is only allowed when environment is DEV")
	}

	switch c.Auth.Mode {
	case "hmac":
		if c.Auth.JWTSecret == "" && !bypass {
			return errors.New("auth.jwt_secret is required for hmac mode")
		}
		if !strings.HasPrefix(strings.ToUpper(c.Auth.Algorithm), "HS") {
			return fmt.Errorf("auth.algorithm %q is not an HMAC algorithm", c.Auth.Algorithm)
		}
	case "oidc":
		if c.Auth.OIDCIssuer == "" && !bypass {
			return errors.New("auth.oidc_issuer is required for oidc mode")
		}
	default:
		return fmt.Errorf("unknown auth.mode %q", c.Auth.Mode)
	}
	if c.Auth.ClockSkew < 0 {
		return errors.New("auth.clock_skew must not be negative")
	}

	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}

	switch c.Generation.Provider {
	case "mock", "anthropic", "openai":
	case "http":
		if c.Generation.Sidecar.URL == "" {
			return errors.New("generation.sidecar.url is required for the http provider")
		}
	default:
		return fmt.Errorf("unknown generation.provider %q", c.Generation.Provider)
	}

	if c.Workflow.MaxConcurrency < 0 {
		return errors.New("workflow.max_concurrency must not be negative")
	}
	if c.Workflow.MaxTasks <= 0 {
		return errors.New("workflow.max_tasks must be positive")
	}
	if c.Workflow.DefaultHistoryLimit <= 0 || c.Workflow.MaxHistoryLimit < c.Workflow.DefaultHistoryLimit {
		return errors.New("workflow history limits are inconsistent")
	}
	return nil
}

// normalizeIssuer strips surrounding whitespace and any trailing slash so the
// issuer matches the value providers put in the iss claim.
func normalizeIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
