// Package serverconfig loads the registry server's configuration from a
// config file and STARDAG_-prefixed environment variables.
package serverconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the registry server's full configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Debug      bool   `mapstructure:"debug"`

	DatabaseURL string `mapstructure:"database_url"`

	OIDC struct {
		IssuerURL string `mapstructure:"issuer_url"`
		Audience  string `mapstructure:"audience"`
		ClientID  string `mapstructure:"client_id"`
	} `mapstructure:"oidc"`

	Token struct {
		Secret string        `mapstructure:"secret"`
		Issuer string        `mapstructure:"issuer"`
		TTL    time.Duration `mapstructure:"ttl"`
	} `mapstructure:"token"`

	Janitor struct {
		Enabled   bool          `mapstructure:"enabled"`
		Schedule  string        `mapstructure:"schedule"`
		LockGrace time.Duration `mapstructure:"lock_grace"`
	} `mapstructure:"janitor"`

	Metrics struct {
		Enabled        bool `mapstructure:"enabled"`
		PrometheusPort int  `mapstructure:"prometheus_port"`
	} `mapstructure:"metrics"`

	Tracing struct {
		Enabled      bool    `mapstructure:"enabled"`
		OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
		SampleRate   float64 `mapstructure:"sample_rate"`
	} `mapstructure:"tracing"`

	SuggestTTL time.Duration `mapstructure:"suggest_ttl"`

	Seed bool `mapstructure:"seed"`
}

// Load reads config from the given file (optional) and the environment.
// STARDAG_DATABASE_URL overrides database_url, STARDAG_TOKEN_SECRET
// overrides token.secret, and so on.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	v.SetDefault("listen_addr", ":8420")
	v.SetDefault("debug", false)
	v.SetDefault("token.issuer", "stardag-registry")
	v.SetDefault("token.ttl", 10*time.Minute)
	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.schedule", "* * * * *")
	v.SetDefault("janitor.lock_grace", 5*time.Minute)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.prometheus_port", 9420)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("suggest_ttl", 30*time.Second)
	v.SetDefault("seed", false)

	v.SetEnvPrefix("STARDAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (STARDAG_DATABASE_URL)")
	}
	if c.Token.Secret == "" {
		return fmt.Errorf("token.secret is required (STARDAG_TOKEN_SECRET)")
	}
	return nil
}
