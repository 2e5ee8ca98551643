package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/steamanim/internal/models"
)

// Config represents the application configuration
type Config struct {
	Steam     SteamConfig     `toml:"steam"`
	Login     LoginConfig     `toml:"login"`
	Animation AnimationConfig `toml:"animation"`
	Storage   StorageConfig   `toml:"storage"`
	Render    RenderConfig    `toml:"render"`
	HTTP      HTTPConfig      `toml:"http"`
	Endpoints EndpointsConfig `toml:"endpoints"`
	Logging   LoggingConfig   `toml:"logging"`
}

// SteamConfig holds the account credentials
type SteamConfig struct {
	AccountName  string `toml:"account_name" validate:"required"`
	Password     string `toml:"password" validate:"required_unless=LoginMethod qr"`
	SharedSecret string `toml:"shared_secret"` // Optional, enables automatic second factor
	CodeFormat   string `toml:"code_format"`   // "steam" (5 chars) or "digits" (6 digits)
	DeviceName   string `toml:"device_name"`   // Friendly name shown in the account's authorized devices
	LoginMethod  string `toml:"login_method" validate:"omitempty,oneof=password qr"`
}

// QRLogin reports whether the account signs in by scanning a QR code.
func (s SteamConfig) QRLogin() bool {
	return s.LoginMethod == "qr"
}

// LoginConfig controls the retry behaviour of the login controller
type LoginConfig struct {
	BackoffUnit       string `toml:"backoff_unit"`       // Linear backoff step, e.g. "30s"
	BackoffCap        string `toml:"backoff_cap"`        // Maximum backoff, e.g. "10m"
	InvalidCodeDelay  string `toml:"invalid_code_delay"` // Wait before retrying after a rejected code
	TransportDelay    string `toml:"transport_delay"`    // Wait before retrying after a network failure
	PollTimeout       string `toml:"poll_timeout"`       // How long to wait for the auth session to be approved
	WrongCodeWarnings int    `toml:"wrong_code_warnings"` // Rejected codes in a row before clock skew guidance is logged
}

// AnimationConfig controls the profile animation
type AnimationConfig struct {
	Interval         string   `toml:"interval"`          // Tick period, e.g. "30s"
	Mode             string   `toml:"mode"`              // "frames" (round robin) or "phrases" (time of day)
	Field            string   `toml:"field"`             // Form field to mutate
	Frames           []string `toml:"frames"`            // Round robin frames
	TimestampLayout  string   `toml:"timestamp_layout"`  // Go time layout appended to phrases
	SnapshotAttempts int      `toml:"snapshot_attempts"` // Reads of an empty form before giving up
}

// StorageConfig selects where the trust token lives
type StorageConfig struct {
	Type   string       `toml:"type"` // "file" or "badger"
	File   FileConfig   `toml:"file"`
	Badger BadgerConfig `toml:"badger"`
}

// FileConfig represents the single-file trust token store
type FileConfig struct {
	Path string `toml:"path"` // Relative to the working directory
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path string `toml:"path"` // Database directory path
}

// RenderConfig enables a headless Chrome fallback for edit pages that carry
// neither the form nor the embedded profile config
type RenderConfig struct {
	Enabled    bool   `toml:"enabled"`
	ChromePath string `toml:"chrome_path"` // Empty means look up Chrome on PATH
	Timeout    string `toml:"timeout"`     // Whole render, including browser start
	Settle     string `toml:"settle"`      // Wait after load for scripts to build the form
}

// HTTPConfig applies to every outbound request
type HTTPConfig struct {
	Timeout   string  `toml:"timeout"`
	UserAgent string  `toml:"user_agent"`
	RateLimit float64 `toml:"rate_limit"` // Requests per second
}

// EndpointsConfig overrides the service base URLs (tests, proxies)
type EndpointsConfig struct {
	API       string `toml:"api"`
	Login     string `toml:"login"`
	Community string `toml:"community"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Steam: SteamConfig{
			CodeFormat:  "steam",
			DeviceName:  "steamanim",
			LoginMethod: "password",
		},
		Login: LoginConfig{
			BackoffUnit:       "30s",
			BackoffCap:        "10m",
			InvalidCodeDelay:  "30s", // One code window
			TransportDelay:    "15s",
			PollTimeout:       "2m",
			WrongCodeWarnings: 3,
		},
		Animation: AnimationConfig{
			Interval: "30s",
			Mode:     "frames",
			Field:    "summary",
			Frames: []string{
				"(•_•)",
				"( •_•)>⌐■-■",
				"(⌐■_■)",
			},
			TimestampLayout:  "15:04 Mon 2 Jan",
			SnapshotAttempts: 3,
		},
		Storage: StorageConfig{
			Type: "file",
			File: FileConfig{
				Path: "sentry.bin",
			},
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Render: RenderConfig{
			Enabled: false,
			Timeout: "45s",
			Settle:  "2s",
		},
		HTTP: HTTPConfig{
			Timeout:   "30s",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RateLimit: 2,
		},
		Endpoints: EndpointsConfig{
			API:       "https://api.steampowered.com",
			Login:     "https://login.steampowered.com",
			Community: "https://steamcommunity.com",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// STEAM_* and UPDATE_INTERVAL_MS are accepted alongside the STEAMANIM_* names.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("STEAM_LOGIN"); v != "" {
		config.Steam.AccountName = v
	}
	if v := os.Getenv("STEAM_PASSWORD"); v != "" {
		config.Steam.Password = v
	}
	if v := os.Getenv("STEAM_SHARED_SECRET"); v != "" {
		config.Steam.SharedSecret = v
	}
	if v := os.Getenv("STEAMANIM_CODE_FORMAT"); v != "" {
		config.Steam.CodeFormat = v
	}
	if v := os.Getenv("STEAMANIM_LOGIN_METHOD"); v != "" {
		config.Steam.LoginMethod = strings.ToLower(v)
	}

	if v := os.Getenv("UPDATE_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			config.Animation.Interval = (time.Duration(ms) * time.Millisecond).String()
		}
	}
	if v := os.Getenv("STEAMANIM_ANIMATION_MODE"); v != "" {
		config.Animation.Mode = v
	}

	if v := os.Getenv("STEAMANIM_RENDER"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			config.Render.Enabled = enabled
		}
	}
	if v := os.Getenv("STEAMANIM_CHROME_PATH"); v != "" {
		config.Render.ChromePath = v
	}

	if v := os.Getenv("STEAMANIM_STORAGE_TYPE"); v != "" {
		config.Storage.Type = v
	}
	if v := os.Getenv("STEAMANIM_TOKEN_PATH"); v != "" {
		config.Storage.File.Path = v
	}
	if v := os.Getenv("STEAMANIM_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}

	if v := os.Getenv("STEAMANIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("STEAMANIM_LOG_OUTPUT"); v != "" {
		outputs := []string{}
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, interval string, logLevel string) {
	if interval != "" {
		config.Animation.Interval = interval
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
}

// Validate checks required credentials and every duration field.
// Failures are reported as configuration errors so the process can exit
// before any network activity.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c.Steam); err != nil {
		var missing []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				missing = append(missing, fe.Field())
			}
		}
		return models.NewError(models.KindConfiguration,
			fmt.Sprintf("missing or invalid steam settings: %s", strings.Join(missing, ", ")), err)
	}

	durations := map[string]string{
		"login.backoff_unit":       c.Login.BackoffUnit,
		"login.backoff_cap":        c.Login.BackoffCap,
		"login.invalid_code_delay": c.Login.InvalidCodeDelay,
		"login.transport_delay":    c.Login.TransportDelay,
		"login.poll_timeout":       c.Login.PollTimeout,
		"animation.interval":       c.Animation.Interval,
		"http.timeout":             c.HTTP.Timeout,
		"render.timeout":           c.Render.Timeout,
		"render.settle":            c.Render.Settle,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return models.NewError(models.KindConfiguration, fmt.Sprintf("invalid duration for %s", key), err)
		}
	}

	if c.AnimationInterval() < time.Second {
		return models.NewError(models.KindConfiguration, "animation.interval must be at least 1s", nil)
	}

	switch strings.ToLower(c.Animation.Mode) {
	case "frames":
		if len(c.Animation.Frames) == 0 {
			return models.NewError(models.KindConfiguration, "animation.frames must not be empty in frames mode", nil)
		}
	case "phrases":
	default:
		return models.NewError(models.KindConfiguration, fmt.Sprintf("unknown animation.mode %q", c.Animation.Mode), nil)
	}

	switch strings.ToLower(c.Storage.Type) {
	case "file", "badger":
	default:
		return models.NewError(models.KindConfiguration, fmt.Sprintf("unknown storage.type %q", c.Storage.Type), nil)
	}

	return nil
}

// Credentials returns the account credentials
func (c *Config) Credentials() models.Credentials {
	return models.Credentials{
		AccountName:  c.Steam.AccountName,
		Password:     c.Steam.Password,
		SharedSecret: c.Steam.SharedSecret,
		QR:           c.Steam.QRLogin(),
	}
}

// AnimationInterval returns the parsed animation period
func (c *Config) AnimationInterval() time.Duration {
	return parseDuration(c.Animation.Interval)
}

// RenderDurations returns the parsed render timeout and settle wait
func (c *Config) RenderDurations() (timeout, settle time.Duration) {
	return parseDuration(c.Render.Timeout), parseDuration(c.Render.Settle)
}

// HTTPTimeout returns the parsed outbound request timeout
func (c *Config) HTTPTimeout() time.Duration {
	return parseDuration(c.HTTP.Timeout)
}

// Durations is a helper for the login settings
func (l LoginConfig) Durations() (unit, maxDelay, invalidCode, transport, poll time.Duration) {
	return parseDuration(l.BackoffUnit), parseDuration(l.BackoffCap),
		parseDuration(l.InvalidCodeDelay), parseDuration(l.TransportDelay), parseDuration(l.PollTimeout)
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
