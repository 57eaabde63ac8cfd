package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
)

// Operating modes.
const (
	ModeProd = "prod"
	ModeDev  = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "":
		return ModeProd, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of prod, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional). If provided
	// but missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warnings (e.g. undecoded keys). Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr     *string
	ExternalOrigin *string
	StoreDriver    *string
	LoggingLevel   *string
}

// fileConfig mirrors Config but with pointer sections to detect presence.
// The chat section is kept generic and decoded with mapstructure so the
// transport settings stay self-describing.
type fileConfig struct {
	Mode           string `toml:"mode"`
	ListenAddr     string `toml:"listen_addr"`
	ExternalOrigin string `toml:"external_origin"`

	Logging *LoggingConfig `toml:"logging"`
	Store   *StoreConfig   `toml:"store"`
	Chat    map[string]any `toml:"chat"`
	Google  *googleConfig  `toml:"google"`
	Guard   *guardConfig   `toml:"guard"`
}

type googleConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURIs []string `toml:"redirect_uris"`
}

type guardConfig struct {
	FolderName        string   `toml:"folder_name"`
	Extensions        []string `toml:"extensions"`
	StagingDir        string   `toml:"staging_dir"`
	RetryMaxElapsedMS int      `toml:"retry_max_elapsed_ms"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > mode in config file > prod
//  2. Start from the mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay CLI flags
//  5. Derive the prod redirect URI from external_origin when unset
//  6. Validate enum fields
//
// Unknown TOML keys produce a warning but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}

	modeStr := fc.Mode
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)

	if opts.ConfigPath != "" {
		if err := overlayFileConfig(cfg, &fc); err != nil {
			return nil, err
		}
	}

	overlayFlags(cfg, opts.FlagOverrides)

	// Derive the prod redirect URI from external_origin when not given
	// explicitly. The dev (loopback) variant is always explicit.
	if len(cfg.Google.RedirectURIs) == 2 && cfg.Google.RedirectURIs[1] == "" && cfg.ExternalOrigin != "" {
		cfg.Google.RedirectURIs[1] = strings.TrimRight(cfg.ExternalOrigin, "/") + "/oauth2callback"
	}

	if err := validateEnums(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode string) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return ProdConfig()
}

// ProdConfig returns production defaults: direct HTTP event delivery,
// signature verification on, redirect URI derived from external origin.
func ProdConfig() *Config {
	return &Config{
		Mode:       ModeProd,
		ListenAddr: ":8080",
		Logging:    LoggingConfig{Level: "info"},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: ".driveguard",
		},
		Chat: ChatConfig{
			APIBase: "https://slack.com/api",
		},
		Google: GoogleConfig{
			RedirectURIs: []string{"http://localhost:8080/oauth2callback", ""},
		},
		Guard: GuardConfig{
			FolderName: "Driveguard Files",
			Extensions: DefaultExtensions,
			StagingDir: DefaultStagingDir(),
		},
	}
}

// DevConfig returns development defaults: tunneled (socket) event delivery
// and the loopback redirect URI.
func DevConfig() *Config {
	cfg := ProdConfig()
	cfg.Mode = ModeDev
	cfg.Logging.Level = "debug"
	return cfg
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) error {
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.ExternalOrigin != "" {
		cfg.ExternalOrigin = fc.ExternalOrigin
	}

	if fc.Logging != nil && fc.Logging.Level != "" {
		cfg.Logging.Level = fc.Logging.Level
	}

	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if fc.Store.DataDir != "" {
			cfg.Store.DataDir = fc.Store.DataDir
		}
		if fc.Store.DSN != "" {
			cfg.Store.DSN = fc.Store.DSN
		}
	}

	if fc.Chat != nil {
		var chat ChatConfig
		if err := mapstructure.Decode(fc.Chat, &chat); err != nil {
			return fmt.Errorf("failed to decode chat settings: %w", err)
		}
		if chat.APIBase != "" {
			cfg.Chat.APIBase = chat.APIBase
		}
		if chat.BotToken != "" {
			cfg.Chat.BotToken = chat.BotToken
		}
		if chat.UserToken != "" {
			cfg.Chat.UserToken = chat.UserToken
		}
		if chat.AppToken != "" {
			cfg.Chat.AppToken = chat.AppToken
		}
		if chat.SigningSecret != "" {
			cfg.Chat.SigningSecret = chat.SigningSecret
		}
	}

	if fc.Google != nil {
		if fc.Google.ClientID != "" {
			cfg.Google.ClientID = fc.Google.ClientID
		}
		if fc.Google.ClientSecret != "" {
			cfg.Google.ClientSecret = fc.Google.ClientSecret
		}
		if len(fc.Google.RedirectURIs) > 0 {
			cfg.Google.RedirectURIs = fc.Google.RedirectURIs
		}
	}

	if fc.Guard != nil {
		if fc.Guard.FolderName != "" {
			cfg.Guard.FolderName = fc.Guard.FolderName
		}
		if len(fc.Guard.Extensions) > 0 {
			cfg.Guard.Extensions = fc.Guard.Extensions
		}
		if fc.Guard.StagingDir != "" {
			cfg.Guard.StagingDir = fc.Guard.StagingDir
		}
		if fc.Guard.RetryMaxElapsedMS != 0 {
			cfg.Guard.RetryMaxElapsedMS = fc.Guard.RetryMaxElapsedMS
		}
	}

	return nil
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	if f.ExternalOrigin != nil && *f.ExternalOrigin != "" {
		cfg.ExternalOrigin = *f.ExternalOrigin
	}
	if f.StoreDriver != nil && *f.StoreDriver != "" {
		cfg.Store.Driver = *f.StoreDriver
	}
	if f.LoggingLevel != nil && *f.LoggingLevel != "" {
		cfg.Logging.Level = *f.LoggingLevel
	}
}

// validateEnums validates enum-like config fields.
func validateEnums(cfg *Config) error {
	switch cfg.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of sqlite, postgres", cfg.Store.Driver)
	}

	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for the postgres driver")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of debug, info, warn, error", cfg.Logging.Level)
	}

	return nil
}
