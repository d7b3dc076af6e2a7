package config

import "fmt"

// migrate applies every legacy-config rewrite to raw in place, returning
// true if any rewrite fired (the caller should then persist raw back to
// disk). Grounded on original_source's config_migrations.py: each
// migration is independently idempotent (a no-op once already applied) and
// migrate_config runs them in a fixed order, collecting which fired.
func migrate(raw map[string]any, path string) (bool, error) {
	any1, err := migrateLegacyTelegram(raw, path)
	if err != nil {
		return false, err
	}
	any2, err := migrateTopicsScope(raw, path)
	if err != nil {
		return false, err
	}
	return any1 || any2, nil
}

// ensureTable returns raw[key] as a table, creating an empty one if absent,
// and erroring if the existing value isn't a table.
func ensureTable(raw map[string]any, key, path string) (map[string]any, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		t := map[string]any{}
		raw[key] = t
		return t, nil
	}
	t, ok := v.(map[string]any)
	if !ok {
		return nil, errConfig(path, fmt.Sprintf("invalid `%s`; expected a table", key))
	}
	return t, nil
}

// migrateLegacyTelegram moves top-level bot_token/chat_id into
// transports.telegram, matching config_migrations.py's _migrate_legacy_telegram.
func migrateLegacyTelegram(raw map[string]any, path string) (bool, error) {
	_, hasToken := raw["bot_token"]
	_, hasChatID := raw["chat_id"]
	if !hasToken && !hasChatID {
		return false, nil
	}

	transports, err := ensureTable(raw, "transports", path)
	if err != nil {
		return false, err
	}
	telegramAny, ok := transports["telegram"]
	if !ok || telegramAny == nil {
		telegramAny = map[string]any{}
		transports["telegram"] = telegramAny
	}
	telegram, ok := telegramAny.(map[string]any)
	if !ok {
		return false, errConfig(path, "invalid `transports.telegram`; expected a table")
	}

	if hasToken {
		if _, exists := telegram["bot_token"]; !exists {
			telegram["bot_token"] = raw["bot_token"]
		}
	}
	if hasChatID {
		if _, exists := telegram["chat_id"]; !exists {
			telegram["chat_id"] = raw["chat_id"]
		}
	}

	delete(raw, "bot_token")
	delete(raw, "chat_id")
	if _, exists := raw["transport"]; !exists {
		raw["transport"] = "telegram"
	}
	return true, nil
}

var topicsModeToScope = map[string]string{
	"multi_project_chat": "main",
	"per_project_chat":   "projects",
}

// migrateTopicsScope rewrites transports.telegram.topics.mode to .scope,
// matching config_migrations.py's _migrate_topics_scope.
func migrateTopicsScope(raw map[string]any, path string) (bool, error) {
	transportsAny, ok := raw["transports"]
	if !ok || transportsAny == nil {
		return false, nil
	}
	transports, ok := transportsAny.(map[string]any)
	if !ok {
		return false, errConfig(path, "invalid `transports`; expected a table")
	}

	telegramAny, ok := transports["telegram"]
	if !ok || telegramAny == nil {
		return false, nil
	}
	telegram, ok := telegramAny.(map[string]any)
	if !ok {
		return false, errConfig(path, "invalid `transports.telegram`; expected a table")
	}

	topicsAny, ok := telegram["topics"]
	if !ok || topicsAny == nil {
		return false, nil
	}
	topics, ok := topicsAny.(map[string]any)
	if !ok {
		return false, errConfig(path, "invalid `transports.telegram.topics`; expected a table")
	}

	modeAny, hasMode := topics["mode"]
	if !hasMode {
		return false, nil
	}

	if _, hasScope := topics["scope"]; !hasScope {
		mode, ok := modeAny.(string)
		if !ok {
			return false, errConfig(path, "invalid `transports.telegram.topics.mode`; expected a string")
		}
		scope, known := topicsModeToScope[mode]
		if !known {
			return false, errConfig(path, "invalid `transports.telegram.topics.mode`; expected 'multi_project_chat' or 'per_project_chat'")
		}
		topics["scope"] = scope
	}

	delete(topics, "mode")
	return true, nil
}
