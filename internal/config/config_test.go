package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Transport != "telegram" {
		t.Errorf("expected telegram, got %s", cfg.Transport)
	}
	if cfg.Transports.Telegram.Topics.Scope != "main" {
		t.Errorf("expected main, got %s", cfg.Transports.Telegram.Topics.Scope)
	}
	if cfg.Engine.Default != "codex" {
		t.Errorf("expected codex, got %s", cfg.Engine.Default)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
transport = "telegram"

[transports.telegram]
bot_token = "tok123"
chat_id = 42
`), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transports.Telegram.BotToken != "tok123" {
		t.Errorf("expected tok123, got %s", cfg.Transports.Telegram.BotToken)
	}
	if cfg.Transports.Telegram.ChatID != 42 {
		t.Errorf("expected 42, got %d", cfg.Transports.Telegram.ChatID)
	}
	// Defaults preserved for untouched fields.
	if cfg.Transports.Telegram.Topics.Scope != "main" {
		t.Errorf("default scope should be preserved, got %s", cfg.Transports.Telegram.Topics.Scope)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport != "telegram" {
		t.Errorf("expected default transport, got %s", cfg.Transport)
	}
}

func TestLoadMigratesLegacyTopLevelTelegramKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
bot_token = "legacy-tok"
chat_id = 7
`), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transports.Telegram.BotToken != "legacy-tok" {
		t.Errorf("expected legacy-tok migrated, got %s", cfg.Transports.Telegram.BotToken)
	}
	if cfg.Transports.Telegram.ChatID != 7 {
		t.Errorf("expected 7, got %d", cfg.Transports.Telegram.ChatID)
	}

	rewritten, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read rewritten file: %v", err)
	}
	if strings.Contains(string(rewritten), "\nbot_token") {
		t.Errorf("expected top-level bot_token removed after migration, file:\n%s", rewritten)
	}
}

func TestLoadMigrationIsIdempotentOnSecondLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
bot_token = "legacy-tok"
chat_id = 7

[transports.telegram.topics]
mode = "multi_project_chat"
`), 0644)

	first, err := Load(path)
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if first.Transports.Telegram.Topics.Scope != "main" {
		t.Fatalf("expected mode migrated to scope=main, got %s", first.Transports.Telegram.Topics.Scope)
	}

	second, err := Load(path)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if second.Transports.Telegram.BotToken != "legacy-tok" || second.Transports.Telegram.ChatID != 7 {
		t.Fatalf("expected values preserved across reload: %+v", second.Transports.Telegram)
	}
	if second.Transports.Telegram.Topics.Scope != "main" {
		t.Fatalf("expected scope preserved across reload, got %s", second.Transports.Telegram.Topics.Scope)
	}
}

func TestLoadMigratesTopicsModePerProjectChat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[transports.telegram]
bot_token = "t"

[transports.telegram.topics]
mode = "per_project_chat"
`), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transports.Telegram.Topics.Scope != "projects" {
		t.Errorf("expected projects, got %s", cfg.Transports.Telegram.Topics.Scope)
	}
}

func TestLoadRejectsUnknownTopicsMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[transports.telegram.topics]
mode = "something_else"
`), 0644)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown topics.mode")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TAKOPI_TELEGRAM_BOT_TOKEN", "env-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transports.Telegram.BotToken != "env-token" {
		t.Errorf("expected env-token, got %s", cfg.Transports.Telegram.BotToken)
	}
}
