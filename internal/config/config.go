package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/codec"
	"github.com/KevinKickass/PanelBridge/internal/mapping"
	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/spf13/viper"
)

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Simulator   SimulatorConfig   `mapstructure:"simulator"`
	Reconnect   ReconnectConfig   `mapstructure:"reconnect"`
	Panels      []PanelConfig     `mapstructure:"panels"`
	Mapping     MappingConfig     `mapstructure:"mapping"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SimulatorConfig points at the relay running next to the simulator.
type SimulatorConfig struct {
	URL            string        `mapstructure:"url"`
	ClientName     string        `mapstructure:"client_name"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
}

type ReconnectConfig struct {
	Initial     time.Duration `mapstructure:"initial"`
	Max         time.Duration `mapstructure:"max"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type PanelConfig struct {
	ID      string `mapstructure:"id"`
	Type    string `mapstructure:"type"`
	Address string `mapstructure:"address"`
	// BaudRate 0 uses the panel type's default.
	BaudRate int `mapstructure:"baud_rate"`
	// SettleDelay 0 uses the panel type's default.
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	QueueSize        int           `mapstructure:"queue_size"`
	// MaxAttempts overrides reconnect.max_attempts when set.
	MaxAttempts int `mapstructure:"max_attempts"`
	// Elements declares element directions for panel types without a
	// fixed catalog. A list, since viper lowercases map keys.
	Elements []ElementConfig `mapstructure:"elements"`
}

type ElementConfig struct {
	ID        string `mapstructure:"id"`
	Direction string `mapstructure:"direction"`
}

type MappingConfig struct {
	Path        string   `mapstructure:"path"`
	SearchPaths []string `mapstructure:"search_paths"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	Enabled                bool                 `mapstructure:"enabled"`
	JWTSecretEnv           string               `mapstructure:"jwt_secret_env"`
	AccessTokenTTL         time.Duration        `mapstructure:"access_token_ttl"`
	MaxFailedLoginAttempts int                  `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration        `mapstructure:"account_lock_duration"`
	Users                  []UserConfig         `mapstructure:"users"`
	MachineTokens          []MachineTokenConfig `mapstructure:"machine_tokens"`
}

// UserConfig is an operator account. PasswordHash is an argon2id hash as
// printed by cmd/hashpw.
type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// MachineTokenConfig grants a static token to scripts and cockpit tools.
// TokenHash is the hex sha256 of the token.
type MachineTokenConfig struct {
	Name        string   `mapstructure:"name"`
	TokenHash   string   `mapstructure:"token_hash"`
	Permissions []string `mapstructure:"permissions"`
}

type DiagnosticsConfig struct {
	StreamBuffer  int `mapstructure:"stream_buffer"`
	JournalBuffer int `mapstructure:"journal_buffer"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults setzen
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("simulator.client_name", "PanelBridge")
	v.SetDefault("simulator.request_timeout", "2s")
	v.SetDefault("simulator.dial_timeout", "5s")
	v.SetDefault("reconnect.initial", "500ms")
	v.SetDefault("reconnect.max", "5s")
	v.SetDefault("reconnect.multiplier", 2.0)
	v.SetDefault("mapping.path", "mapping.yaml")
	v.SetDefault("diagnostics.stream_buffer", 100)
	v.SetDefault("diagnostics.journal_buffer", 1024)

	// Auth Defaults
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")

	// Environment Variables mit Prefix PANELBRIDGE_, z.B. PANELBRIDGE_SIMULATOR_URL
	v.SetEnvPrefix("PANELBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks what viper cannot: known panel types, unique panel ids
// and declared element directions.
func (c *Config) Validate() error {
	if c.Simulator.URL == "" {
		return invalid("simulator.url is required")
	}
	if c.Mapping.Path == "" {
		return invalid("mapping.path is required")
	}

	seen := make(map[string]bool, len(c.Panels))
	for i, p := range c.Panels {
		if p.ID == "" {
			return invalid("panels[%d]: id is required", i)
		}
		if seen[p.ID] {
			return invalid("panels[%d]: duplicate panel id %q", i, p.ID)
		}
		seen[p.ID] = true

		spec, ok := codec.Lookup(p.Type)
		if !ok {
			return invalid("panels[%d]: unknown panel type %q (known: %s)",
				i, p.Type, strings.Join(codec.Kinds(), ", "))
		}
		if p.Address == "" {
			return invalid("panels[%d]: address is required", i)
		}

		declared := make(map[string]bool, len(p.Elements))
		for _, el := range p.Elements {
			if !spec.OpenCatalog() {
				return invalid("panels[%d]: panel type %q has a fixed element catalog, element %q cannot be declared", i, p.Type, el.ID)
			}
			if el.ID == "" || declared[el.ID] {
				return invalid("panels[%d]: element id %q is empty or declared twice", i, el.ID)
			}
			declared[el.ID] = true
			if !types.Direction(el.Direction).Valid() {
				return invalid("panels[%d]: element %q has invalid direction %q", i, el.ID, el.Direction)
			}
		}
	}

	for i, u := range c.Auth.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return invalid("auth.users[%d]: username and password_hash are required", i)
		}
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return &types.ConfigurationError{Index: -1, Reason: fmt.Sprintf(format, args...)}
}

// Panel returns the configuration of panel id.
func (c *Config) Panel(id types.PanelID) (PanelConfig, bool) {
	for _, p := range c.Panels {
		if p.ID == string(id) {
			return p, true
		}
	}
	return PanelConfig{}, false
}

// Catalog resolves element directions for the mapping table: from the panel
// type's fixed catalog, or from the declared elements for open types. An
// open type without declared elements accepts every element.
func (c *Config) Catalog() mapping.Catalog {
	return mapping.CatalogFunc(func(el types.PanelElement) (types.Direction, bool) {
		p, ok := c.Panel(el.Panel)
		if !ok {
			return "", false
		}
		spec, ok := codec.Lookup(p.Type)
		if !ok {
			return "", false
		}
		if !spec.OpenCatalog() {
			return spec.Direction(el.Element)
		}
		if len(p.Elements) == 0 {
			return types.DirectionBidirectional, true
		}
		for _, e := range p.Elements {
			if e.ID == string(el.Element) {
				return types.Direction(e.Direction), true
			}
		}
		return "", false
	})
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return devJWTSecret
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}
