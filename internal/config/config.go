// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the bot configuration.
type Config struct {
	// Mode is the operating mode: prod or dev. Dev switches event delivery
	// to the tunneled (socket) transport and selects the loopback OAuth
	// redirect URI.
	Mode string `json:"mode"`

	// ListenAddr is the address the HTTP server listens on.
	ListenAddr string `json:"listen_addr"`

	// ExternalOrigin is the public origin (scheme + host + optional port)
	// under which the OAuth callback is reachable in prod mode.
	ExternalOrigin string `json:"external_origin"`

	Logging LoggingConfig `json:"logging"`
	Store   StoreConfig   `json:"store"`
	Chat    ChatConfig    `json:"chat"`
	Google  GoogleConfig  `json:"google"`
	Guard   GuardConfig   `json:"guard"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `json:"level"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Driver is the persistence driver name: sqlite or postgres.
	Driver string `json:"driver"`

	// DataDir is the directory for the sqlite database file.
	DataDir string `json:"data_dir"`

	// DSN is the postgres connection string (postgres driver only).
	DSN string `json:"dsn,omitempty"`
}

// ChatConfig holds chat-platform credentials and endpoints.
type ChatConfig struct {
	// APIBase is the chat platform Web API base URL.
	APIBase string `json:"api_base" mapstructure:"api_base"`

	// BotToken authenticates Web API calls made as the bot.
	BotToken string `json:"bot_token,omitempty" mapstructure:"bot_token"`

	// UserToken is the elevated token used only for deleting the original
	// upload, which the bot token cannot do.
	UserToken string `json:"user_token,omitempty" mapstructure:"user_token"`

	// AppToken authenticates the socket-mode connection (dev mode).
	AppToken string `json:"app_token,omitempty" mapstructure:"app_token"`

	// SigningSecret verifies inbound event signatures (prod mode).
	SigningSecret string `json:"signing_secret,omitempty" mapstructure:"signing_secret"`
}

// GoogleConfig holds the OAuth client registration for the destination store.
type GoogleConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`

	// RedirectURIs holds the two registered redirect URI variants:
	// index 0 is the dev (loopback) URI, index 1 the prod URI. An empty
	// prod entry is derived from ExternalOrigin at load time.
	RedirectURIs []string `json:"redirect_uris"`
}

// GuardConfig holds the file-interception policy.
type GuardConfig struct {
	// FolderName is the well-known destination folder name.
	FolderName string `json:"folder_name"`

	// Extensions is the sensitive-extension allow-list, matched
	// case-insensitively against the part after the final dot.
	Extensions []string `json:"extensions"`

	// StagingDir is where fetched files are staged before upload.
	StagingDir string `json:"staging_dir"`

	// RetryMaxElapsedMS bounds per-stage retry of transient pipeline
	// failures. Zero disables retry.
	RetryMaxElapsedMS int `json:"retry_max_elapsed_ms"`
}

// DefaultExtensions is the allow-list of file types treated as potentially
// sensitive.
var DefaultExtensions = []string{
	"pdf", "csv",
	"doc", "docx",
	"xls", "xlsx",
	"ppt", "pptx",
	"txt", "rtf",
	"odt", "ods", "odp",
	"zip",
}

// RedirectURI returns the OAuth redirect URI variant for the configured mode.
func (c *Config) RedirectURI() string {
	if c.Mode == ModeDev {
		return c.Google.RedirectURIs[0]
	}
	return c.Google.RedirectURIs[1]
}

// SocketMode reports whether events arrive over the tunneled transport.
func (c *Config) SocketMode() bool {
	return c.Mode == ModeDev
}

// Redacted returns a copy of the config with secret values replaced, safe
// for logging at startup.
func (c *Config) Redacted() Config {
	out := *c
	out.Chat.BotToken = redact(c.Chat.BotToken)
	out.Chat.UserToken = redact(c.Chat.UserToken)
	out.Chat.AppToken = redact(c.Chat.AppToken)
	out.Chat.SigningSecret = redact(c.Chat.SigningSecret)
	out.Google.ClientSecret = redact(c.Google.ClientSecret)
	out.Store.DSN = redactDSN(c.Store.DSN)
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// redactDSN blanks the password portion of a connection string without
// hiding the host, which is useful in startup logs.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	parts := strings.Fields(dsn)
	for i, p := range parts {
		if strings.HasPrefix(p, "password=") {
			parts[i] = "password=[REDACTED]"
		}
	}
	return strings.Join(parts, " ")
}

// Validate checks invariants that hold regardless of mode.
func (c *Config) Validate() error {
	if c.Chat.BotToken == "" {
		return fmt.Errorf("chat.bot_token is required")
	}
	if c.SocketMode() {
		if c.Chat.AppToken == "" {
			return fmt.Errorf("chat.app_token is required in dev mode")
		}
	} else {
		if c.Chat.SigningSecret == "" {
			return fmt.Errorf("chat.signing_secret is required in prod mode")
		}
	}
	if c.Google.ClientID == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if len(c.Google.RedirectURIs) != 2 {
		return fmt.Errorf("google.redirect_uris must have exactly two entries (dev, prod)")
	}
	if c.RedirectURI() == "" {
		return fmt.Errorf("no redirect URI available for mode %q", c.Mode)
	}
	return nil
}

// EnsureDirs creates the directories the config points at.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Store.DataDir, c.Guard.StagingDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DefaultStagingDir returns the fallback staging directory.
func DefaultStagingDir() string {
	return filepath.Join(os.TempDir(), "driveguard")
}
