package server

import (
	"time"

	"github.com/teamtally/tally/pkg/auth"
)

// ServerConfig is the sealed, validated runtime configuration.
//
// To get an instance, Load or Unmarshal a yaml document; the raw
// marshall form never leaves this package.
type ServerConfig struct {
	port     int32
	database string
	timezone *time.Location
	loglevel string
	token    TokenConfig
	users    map[string]UserConfig
}

func (c *ServerConfig) Port() int32 { return c.port }

// Connection string for the database.
func (c *ServerConfig) Database() string { return c.database }

// Timezone deciding which calendar day a timestamp belongs to.
// default = "America/New_York"
func (c *ServerConfig) Timezone() *time.Location { return c.timezone }

// Log level for the web server. default = "info"
func (c *ServerConfig) LogLevel() string { return c.loglevel }

func (c *ServerConfig) Token() TokenConfig { return c.token }

func (c *ServerConfig) Users() map[string]UserConfig { return c.users }

type TokenConfig struct {
	key []byte
	ttl time.Duration
}

// Key signs and verifies session tokens.
func (t TokenConfig) Key() []byte { return t.key }

// TTL of issued tokens. default = 12h
func (t TokenConfig) TTL() time.Duration { return t.ttl }

type UserConfig struct {
	passwordHash string
	permissions  auth.Permission
}

// PasswordHash is the hex encoded SHA-256 of the user's password.
func (u UserConfig) PasswordHash() string { return u.passwordHash }

func (u UserConfig) Permissions() auth.Permission { return u.permissions }
