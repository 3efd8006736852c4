package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TYPING_IDLE", "")
	t.Setenv("SEARCH_DEBOUNCE", "250ms")
	t.Setenv("PHOTO_MAX_BYTES", "not-a-number")

	cfg := Load()

	if cfg.TypingIdle != 2*time.Second {
		t.Errorf("TypingIdle = %v, want 2s fallback for an empty value", cfg.TypingIdle)
	}
	if cfg.SearchDebounce != 250*time.Millisecond {
		t.Errorf("SearchDebounce = %v, want 250ms", cfg.SearchDebounce)
	}
	if cfg.PhotoMaxBytes != 1<<20 {
		t.Errorf("PhotoMaxBytes = %d, want fallback", cfg.PhotoMaxBytes)
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := &Config{DatabaseURL: "sqlite:///tmp/chat.db"}
	if got := cfg.CleanDatabasePath(); got != "/tmp/chat.db" {
		t.Errorf("CleanDatabasePath() = %q", got)
	}

	cfg.UpdateDatabasePath("/tmp/loadtest.db")
	if cfg.DatabaseURL != "sqlite:///tmp/loadtest.db" {
		t.Errorf("prefix lost: %q", cfg.DatabaseURL)
	}

	cfg = &Config{DatabaseURL: "relative/chat.db"}
	if got := cfg.CleanDatabasePath(); !filepath.IsAbs(got) {
		t.Errorf("expected an absolute path, got %q", got)
	}
}

func TestStringHidesSecrets(t *testing.T) {
	cfg := &Config{ServerAddress: ":1", JWTSecret: "jwt-secret", SessionSecret: "session-secret"}
	s := cfg.String()
	for _, secret := range []string{"jwt-secret", "session-secret"} {
		if strings.Contains(s, secret) {
			t.Errorf("String() leaks %q: %s", secret, s)
		}
	}
}
