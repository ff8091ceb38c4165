package config

import "time"

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type DB struct {
	// DSN may be empty: the service then runs on in-memory stores, which is
	// only suitable for development.
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Auth struct {
	// MasterSecret is the only key material the process is given; token and
	// signed-URL keys are derived from it (see auth.DeriveKeys).
	MasterSecret   string        `mapstructure:"master_secret"`
	Issuer         string        `mapstructure:"issuer"`
	Audience       string        `mapstructure:"audience"`
	AccessTTL      time.Duration `mapstructure:"access_ttl"`
	RefreshTTL     time.Duration `mapstructure:"refresh_ttl"`
	FailClosed     bool          `mapstructure:"fail_closed"`
	SingleSession  bool          `mapstructure:"single_session"`
	LoginPerMinute int           `mapstructure:"login_per_minute"`
	LoginBurst     int           `mapstructure:"login_burst"`
	PruneInterval  time.Duration `mapstructure:"prune_interval"`
}

type SignedURL struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type Images struct {
	Dir string `mapstructure:"dir"`
}

type Config struct {
	App       App       `mapstructure:"app"`
	Server    Server    `mapstructure:"server"`
	DB        DB        `mapstructure:"db"`
	Log       Log       `mapstructure:"log"`
	Auth      Auth      `mapstructure:"auth"`
	SignedURL SignedURL `mapstructure:"signed_url"`
	Images    Images    `mapstructure:"images"`
}
