package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the optional YAML file at path, with
// POSEHUB_-prefixed environment variables overriding file values
// (e.g. POSEHUB_AUTH_MASTER_SECRET overrides auth.master_secret).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		_ = v.ReadInConfig()
	}

	v.SetDefault("app.name", "posehub-auth")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.version", "")

	// Empty defaults register the keys so AutomaticEnv can fill them during
	// Unmarshal even without a config file.
	v.SetDefault("db.dsn", "")
	v.SetDefault("auth.master_secret", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.graceful_timeout", "10s")

	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("auth.issuer", "posehub")
	v.SetDefault("auth.audience", "posehub-api")
	v.SetDefault("auth.access_ttl", "15m")
	v.SetDefault("auth.refresh_ttl", "336h")
	v.SetDefault("auth.fail_closed", true)
	v.SetDefault("auth.single_session", false)
	v.SetDefault("auth.login_per_minute", 10)
	v.SetDefault("auth.login_burst", 5)
	v.SetDefault("auth.prune_interval", "5m")

	v.SetDefault("signed_url.ttl", "10m")
	v.SetDefault("images.dir", "")

	v.SetEnvPrefix("POSEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Auth.MasterSecret) == "" {
		return nil, errors.New("config: auth.master_secret is required")
	}
	return &cfg, nil
}
