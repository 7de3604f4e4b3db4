package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "edbase"
	DefaultPGSSLMode    = "disable"
	DefaultGraphBaseURL = "https://graph.facebook.com"
	DefaultGraphVersion = "v21.0"
)

// DefaultMediaAllowedHosts are the vendor CDN hosts the media proxy will
// fetch from when a record carries a direct URL instead of a media id.
var DefaultMediaAllowedHosts = []string{
	"lookaside.fbsbx.com",
	"cdn.fbsbx.com",
	"scontent.*.fbcdn.net",
	"mmg.whatsapp.net",
}

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Meta     MetaConfig     `toml:"meta"`
	WhatsApp WhatsAppConfig `toml:"whatsapp"`
	Media    MediaConfig    `toml:"media"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret" envconfig:"JWT_SECRET"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password" envconfig:"PG_PASSWORD"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// MetaConfig covers Messenger and Instagram, which share one Meta app.
type MetaConfig struct {
	AppSecret   string `toml:"app_secret" envconfig:"META_APP_SECRET"`
	VerifyToken string `toml:"verify_token" envconfig:"META_VERIFY_TOKEN"`
	PageToken   string `toml:"page_token" envconfig:"META_PAGE_TOKEN"`
}

type WhatsAppConfig struct {
	AppSecret     string `toml:"app_secret" envconfig:"WA_APP_SECRET"`
	VerifyToken   string `toml:"verify_token" envconfig:"WA_VERIFY_TOKEN"`
	AccessToken   string `toml:"access_token" envconfig:"WA_ACCESS_TOKEN"`
	PhoneNumberID string `toml:"phone_number_id" envconfig:"WA_PHONE_NUMBER_ID"`
}

type MediaConfig struct {
	AllowedHosts []string `toml:"allowed_hosts"`
	GraphBaseURL string   `toml:"graph_base_url"`
	GraphVersion string   `toml:"graph_version"`
}

// Load reads the toml config at path (defaults applied first), then overlays
// EDBASE_* environment variables so secrets can stay out of the file.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Media: MediaConfig{
			AllowedHosts: DefaultMediaAllowedHosts,
			GraphBaseURL: DefaultGraphBaseURL,
			GraphVersion: DefaultGraphVersion,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := envconfig.Process("edbase", &cfg); err != nil {
		return cfg, fmt.Errorf("env overlay: %w", err)
	}

	return cfg, nil
}
