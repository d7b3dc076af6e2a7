package takopi

import (
	"errors"
	"testing"
	"time"
)

func TestErrHTTP(t *testing.T) {
	e := &ErrHTTP{Status: 429, Body: "slow down", RetryAfter: 3 * time.Second}
	if e.Error() != "http 429: slow down" {
		t.Errorf("unexpected message: %s", e.Error())
	}
}

func TestErrChildSpawnUnwraps(t *testing.T) {
	cause := errors.New("permission denied")
	e := &ErrChildSpawn{Command: "codex", Cause: cause}
	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestErrConfigWithoutPath(t *testing.T) {
	e := &ErrConfig{Message: "bad token"}
	if e.Error() != "bad token" {
		t.Errorf("unexpected message: %s", e.Error())
	}
}
