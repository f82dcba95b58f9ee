package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"maunium.net/go/mautrix/id"
)

// SecretPlaceholder is the sentinel value shipped in the example config.
// Startup fails while any required secret still carries it.
const SecretPlaceholder = "CHANGE_ME"

type MatrixConfig struct {
	BaseURL      string `yaml:"base_url"`
	Homeserver   string `yaml:"homeserver"`
	ASToken      string `yaml:"as_token"`
	HSToken      string `yaml:"hs_token"`
	BotLocalpart string `yaml:"bot_localpart"`
}

func (mc *MatrixConfig) BotMXID() id.UserID {
	return id.NewUserID(mc.BotLocalpart, mc.Homeserver)
}

type OpenSimConfig struct {
	BridgeSecret string `yaml:"bridge_secret"`
	RegionURL    string `yaml:"region_url"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
}

// URI builds the driver connection string from the flat coordinates.
// sqlite3 treats the database name as a file path.
func (dc *DatabaseConfig) URI() string {
	if dc.Type == "sqlite3" || dc.Type == "sqlite3-fk-wal" {
		return fmt.Sprintf("file:%s?_txlock=immediate", dc.Name)
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(dc.User, dc.Password),
		Host:   fmt.Sprintf("%s:%d", dc.Host, dc.Port),
		Path:   dc.Name,
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

type AvatarConfig struct {
	// BaseURL is a template with a {uuid} placeholder pointing at the grid's
	// profile picture endpoint. Empty disables avatar syncing.
	BaseURL string `yaml:"base_url"`
	// CacheDir and AssetServiceURL are reserved for the asset pipeline and
	// not consumed by the relay core.
	CacheDir        string `yaml:"cache_dir"`
	AssetServiceURL string `yaml:"asset_service_url"`
}

type ServerConfig struct {
	AppserviceHost string `yaml:"appservice_host"`
	AppservicePort int    `yaml:"appservice_port"`
	OpenSimHost    string `yaml:"opensim_host"`
	OpenSimPort    int    `yaml:"opensim_port"`
}

func (sc *ServerConfig) AppserviceAddr() string {
	return fmt.Sprintf("%s:%d", sc.AppserviceHost, sc.AppservicePort)
}

func (sc *ServerConfig) OpenSimAddr() string {
	return fmt.Sprintf("%s:%d", sc.OpenSimHost, sc.OpenSimPort)
}

type Config struct {
	Matrix   MatrixConfig      `yaml:"matrix"`
	OpenSim  OpenSimConfig     `yaml:"opensim"`
	Database DatabaseConfig    `yaml:"database"`
	Avatar   AvatarConfig      `yaml:"avatar"`
	Server   ServerConfig      `yaml:"server"`
	Logging  zeroconfig.Config `yaml:"logging"`
}

func Load(data []byte) (*Config, error) {
	cfg := &Config{
		Matrix: MatrixConfig{
			BaseURL:      "http://127.0.0.1:6167",
			Homeserver:   "localhost",
			BotLocalpart: "opensim_bot",
		},
		OpenSim: OpenSimConfig{
			RegionURL: "http://127.0.0.1:9000",
		},
		Database: DatabaseConfig{
			Type:         "postgres",
			Host:         "127.0.0.1",
			Port:         5432,
			Name:         "opensim_matrix_bridge",
			User:         "bridge",
			MaxOpenConns: 5,
			MaxIdleConns: 2,
		},
		Avatar: AvatarConfig{
			CacheDir:        "./data/avpic-cache",
			AssetServiceURL: "http://127.0.0.1:8003",
		},
		Server: ServerConfig{
			AppserviceHost: "127.0.0.1",
			AppservicePort: 9009,
			OpenSimHost:    "0.0.0.0",
			OpenSimPort:    9010,
		},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	secrets := map[string]string{
		"matrix.as_token":       cfg.Matrix.ASToken,
		"matrix.hs_token":       cfg.Matrix.HSToken,
		"opensim.bridge_secret": cfg.OpenSim.BridgeSecret,
	}
	for key, value := range secrets {
		if value == "" || value == SecretPlaceholder {
			return fmt.Errorf("%s must be set in the config file", key)
		}
	}
	if cfg.Matrix.Homeserver == "" {
		return errors.New("matrix.homeserver must be set")
	}
	if cfg.Matrix.BotLocalpart == "" || strings.ContainsRune(cfg.Matrix.BotLocalpart, ':') {
		return errors.New("matrix.bot_localpart must be a plain localpart")
	}
	switch cfg.Database.Type {
	case "postgres", "sqlite3", "sqlite3-fk-wal":
	default:
		return fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
	return nil
}
