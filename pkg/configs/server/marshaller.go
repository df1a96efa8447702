package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teamtally/tally/pkg/auth"
)

type ServerConfigMarshall struct {
	Port     int32                         `yaml:"port"`
	Database string                        `yaml:"database"`
	Timezone string                        `yaml:"timezone"`
	LogLevel string                        `yaml:"loglevel"`
	Token    *TokenConfigMarshall          `yaml:"token"`
	Users    map[string]UserConfigMarshall `yaml:"users"`
}

type TokenConfigMarshall struct {
	Key string `yaml:"key"`
	TTL string `yaml:"ttl"`
}

type UserConfigMarshall struct {
	PasswordHash string   `yaml:"password_sha256"`
	Permissions  []string `yaml:"permissions"`
}

// load server config from a file.
func LoadServerConfig(filepath string) (*ServerConfig, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

func Unmarshal(conf []byte) (*ServerConfig, error) {
	var raw ServerConfigMarshall
	if err := yaml.Unmarshal(conf, &raw); err != nil {
		return nil, err
	}
	return TrySeal(&raw)
}

// TrySeal validates the marshall form, fills defaults and seals it.
func TrySeal(raw *ServerConfigMarshall) (*ServerConfig, error) {
	if raw == nil {
		return nil, fmt.Errorf("config: empty document")
	}
	if raw.Port == 0 {
		raw.Port = 8080
	}
	if raw.Database == "" {
		return nil, fmt.Errorf("config: database is required")
	}

	if raw.Timezone == "" {
		raw.Timezone = "America/New_York"
	}
	loc, err := time.LoadLocation(raw.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone: %w", err)
	}

	if raw.LogLevel == "" {
		raw.LogLevel = "info"
	}

	if raw.Token == nil || raw.Token.Key == "" {
		return nil, fmt.Errorf("config: token.key is required")
	}
	ttl := 12 * time.Hour
	if raw.Token.TTL != "" {
		ttl, err = time.ParseDuration(raw.Token.TTL)
		if err != nil {
			return nil, fmt.Errorf("config: token.ttl: %w", err)
		}
	}

	users := map[string]UserConfig{}
	for name, u := range raw.Users {
		perms, err := parsePermissions(u.Permissions)
		if err != nil {
			return nil, fmt.Errorf("config: users.%s: %w", name, err)
		}
		users[name] = UserConfig{passwordHash: u.PasswordHash, permissions: perms}
	}

	return &ServerConfig{
		port:     raw.Port,
		database: raw.Database,
		timezone: loc,
		loglevel: raw.LogLevel,
		token:    TokenConfig{key: []byte(raw.Token.Key), ttl: ttl},
		users:    users,
	}, nil
}

func parsePermissions(names []string) (auth.Permission, error) {
	var perms auth.Permission
	for _, name := range names {
		switch name {
		case "roster":
			perms |= auth.PermRoster
		case "hours_view":
			perms |= auth.PermHoursView
		case "hours_edit":
			perms |= auth.PermHoursEdit
		case "telemetry":
			perms |= auth.PermTelemetry
		case "admin":
			perms |= auth.PermAdmin
		default:
			return 0, fmt.Errorf("unknown permission: %q", name)
		}
	}
	return perms, nil
}
