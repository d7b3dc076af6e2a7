// Package config loads and migrates takopi's TOML configuration, grounded
// on the teacher's internal/config/config.go (defaults -> TOML -> env
// overrides) and original_source's config_migrations.py for the legacy
// key/value rewrites applied on load.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/hotaru-dev/takopi"
)

// Config is the root of takopi's TOML configuration.
type Config struct {
	Transport  string           `toml:"transport"`
	Transports TransportsConfig `toml:"transports"`
	Engine     EngineConfig     `toml:"engine"`
	Inject     InjectConfig     `toml:"inject"`
}

// TransportsConfig groups per-transport settings; only telegram exists today.
type TransportsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

// TelegramConfig holds the Telegram transport's connection and behavior settings.
type TelegramConfig struct {
	BotToken           string       `toml:"bot_token"`
	ChatID             int64        `toml:"chat_id"`
	Topics             TopicsConfig `toml:"topics"`
	VoiceTranscription bool         `toml:"voice_transcription"`
	VoiceModel         string       `toml:"voice_model"`
	VoiceBaseURL       string       `toml:"voice_base_url"`
	VoiceAPIKey        string       `toml:"voice_api_key"`
	VoiceMaxBytes      int64        `toml:"voice_max_bytes"`
}

// TopicsConfig controls whether one chat serves all projects (main) or each
// project gets its own subthread (projects).
type TopicsConfig struct {
	Scope string `toml:"scope"`
}

// EngineConfig selects and configures the CLI engine adapter (codex/claude).
type EngineConfig struct {
	Default string `toml:"default"`
}

// InjectConfig configures the filesystem injection watcher.
type InjectConfig struct {
	Dir          string `toml:"dir"`
	PollInterval int    `toml:"poll_interval_ms"`
}

// Default returns a Config with every field set to its documented default.
func Default() Config {
	return Config{
		Transport: "telegram",
		Transports: TransportsConfig{
			Telegram: TelegramConfig{
				Topics:        TopicsConfig{Scope: "main"},
				VoiceModel:    "whisper-1",
				VoiceMaxBytes: 25 * 1024 * 1024,
			},
		},
		Engine: EngineConfig{Default: "codex"},
		Inject: InjectConfig{Dir: "inject", PollInterval: 1000},
	}
}

// Load reads config: defaults -> TOML file -> legacy migration -> env vars
// (env wins). Returns a *takopi.ErrConfig-wrapping error (via errConfig) on
// a malformed file or a legacy value migrate can't interpret.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "takopi.toml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, errConfig(path, fmt.Sprintf("read config: %v", err))
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return cfg, errConfig(path, fmt.Sprintf("parse config: %v", err))
	}

	migrated, err := migrate(raw, path)
	if err != nil {
		return cfg, err
	}

	// Re-encode the (possibly migrated) raw map and decode that into the
	// typed Config, rather than decoding `data` directly, so migrated keys
	// are honored even before they're written back to disk.
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
		return cfg, errConfig(path, fmt.Sprintf("re-encode migrated config: %v", err))
	}
	if err := toml.Unmarshal(buf.Bytes(), &cfg); err != nil {
		return cfg, errConfig(path, fmt.Sprintf("decode config: %v", err))
	}

	if migrated {
		if err := writeTOML(path, buf.Bytes()); err != nil {
			return cfg, errConfig(path, fmt.Sprintf("write migrated config: %v", err))
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TAKOPI_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Transports.Telegram.BotToken = v
	}
	if v := os.Getenv("TAKOPI_VOICE_API_KEY"); v != "" {
		cfg.Transports.Telegram.VoiceAPIKey = v
	}
}

func writeTOML(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}

func errConfig(path, msg string) error {
	return &takopi.ErrConfig{Path: path, Message: msg}
}
