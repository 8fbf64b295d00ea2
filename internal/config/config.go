// Package config loads ghrelay's startup configuration.
//
// The file may be YAML or JSON (chosen by extension); YAML is coerced to JSON
// so both formats go through the same strict decoder. Required fields left
// empty in the file fall back to environment variables; a field still empty
// after the fallback is a fatal startup error naming the field.
//
// Configuration is immutable for the process lifetime. Editing the file while
// the relay runs only produces a "restart to apply" warning.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

type Config struct {
	// Homeserver is the chat system's base URL, e.g. "https://matrix.example.org".
	Homeserver string `json:"homeserver"`
	// AccessToken authenticates the relay's own chat user.
	AccessToken string `json:"access_token"`

	Logging LoggingConfig `json:"logging,omitempty"`

	// Accounts maps an account name to its hosting credential and target room.
	// Each account gets its own independent worker.
	Accounts map[string]AccountConfig `json:"accounts"`
}

type AccountConfig struct {
	// GitHubToken is a personal access token with notifications scope.
	GitHubToken string `json:"github_token"`
	// Room is the destination room ID, e.g. "!abcdef:example.org".
	Room string `json:"room"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
	Room    LoggingRoom `json:"room,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// LoggingRoom forwards warn+ log lines into a chat room as notices.
type LoggingRoom struct {
	Enabled    bool   `json:"enabled,omitempty"`
	RoomID     string `json:"room_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// Load reads, strictly decodes, env-completes, and validates the config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := parse(path, b)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(path string, data []byte) (*Config, error) {
	jb, _, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// applyEnv fills missing required fields from the environment:
// GHRELAY_HOMESERVER, GHRELAY_ACCESS_TOKEN, and per account
// GHRELAY_<NAME>_GITHUB_TOKEN / GHRELAY_<NAME>_ROOM.
func (c *Config) applyEnv(getenv func(string) string) {
	if c.Homeserver == "" {
		c.Homeserver = getenv("GHRELAY_HOMESERVER")
	}
	if c.AccessToken == "" {
		c.AccessToken = getenv("GHRELAY_ACCESS_TOKEN")
	}
	for name, acct := range c.Accounts {
		prefix := "GHRELAY_" + envName(name) + "_"
		if acct.GitHubToken == "" {
			acct.GitHubToken = getenv(prefix + "GITHUB_TOKEN")
		}
		if acct.Room == "" {
			acct.Room = getenv(prefix + "ROOM")
		}
		c.Accounts[name] = acct
	}
}

func envName(account string) string {
	s := strings.ToUpper(account)
	s = strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(s)
	return s
}

func (c *Config) validate() error {
	if c.Homeserver == "" {
		return requiredErr("homeserver", "GHRELAY_HOMESERVER")
	}
	if c.AccessToken == "" {
		return requiredErr("access_token", "GHRELAY_ACCESS_TOKEN")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("config: at least one account is required under accounts")
	}
	for name, acct := range c.Accounts {
		prefix := "GHRELAY_" + envName(name) + "_"
		if acct.GitHubToken == "" {
			return requiredErr("accounts."+name+".github_token", prefix+"GITHUB_TOKEN")
		}
		if acct.Room == "" {
			return requiredErr("accounts."+name+".room", prefix+"ROOM")
		}
	}
	return nil
}

func requiredErr(field, env string) error {
	return fmt.Errorf("config: %s is required (set %s in the file or %s)", field, field, env)
}

// ConsoleEnabled defaults to true when logging.console is omitted.
func (l LoggingConfig) ConsoleEnabled() bool {
	if l.Console == nil {
		return true
	}
	return *l.Console
}
