package takopi

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestRedactStringBotToken(t *testing.T) {
	in := "failed to call bot123456789:AAHd_some-secret_value1234"
	out := redactString(in)
	if strings.Contains(out, "AAHd_some-secret_value1234") {
		t.Errorf("token leaked: %s", out)
	}
	if !strings.Contains(out, "bot[REDACTED]") {
		t.Errorf("expected redaction marker, got: %s", out)
	}
}

func TestRedactStringBareToken(t *testing.T) {
	in := "token=123456789:AAHd_some-secret_value1234 rejected"
	out := redactString(in)
	if strings.Contains(out, "AAHd_some-secret_value1234") {
		t.Errorf("token leaked: %s", out)
	}
	if !strings.Contains(out, "[REDACTED_TOKEN]") {
		t.Errorf("expected redaction marker, got: %s", out)
	}
}

func TestRedactStringIdempotent(t *testing.T) {
	in := "bot123456789:AAHd_some-secret_value1234"
	once := redactString(in)
	twice := redactString(once)
	if once != twice {
		t.Errorf("redaction not idempotent: %q vs %q", once, twice)
	}
}

func TestRedactingHandlerRedactsMessageAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, nil)
	logger := slog.New(NewRedactingHandler(base))

	logger.Info("sending via bot987654321:ZZtopSecretValue0000", "token", "123456789:AAHd_some-secret_value1234")

	out := buf.String()
	if strings.Contains(out, "ZZtopSecretValue0000") || strings.Contains(out, "AAHd_some-secret_value1234") {
		t.Errorf("secret leaked into log output: %s", out)
	}
}

func TestDiscardHandlerDropsEverything(t *testing.T) {
	if discardHandler{}.Enabled(nil, slog.LevelError) {
		t.Error("discardHandler should report disabled for all levels")
	}
}
