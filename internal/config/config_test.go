package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.MetricsNamespace != "trunkline" {
		t.Fatalf("MetricsNamespace = %q, want %q", cfg.MetricsNamespace, "trunkline")
	}
	if cfg.OpenAIBaseURL != "wss://api.openai.com/v1/realtime" {
		t.Fatalf("OpenAIBaseURL = %q, want realtime default", cfg.OpenAIBaseURL)
	}
	if cfg.OpenAIModel != "gpt-4o-realtime-preview" {
		t.Fatalf("OpenAIModel = %q, want default model", cfg.OpenAIModel)
	}
	if cfg.SessionInactivityTimeout != 5*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v, want 5m", cfg.SessionInactivityTimeout)
	}
	if cfg.ObserverGracePeriod != 30*time.Second {
		t.Fatalf("ObserverGracePeriod = %v, want 30s", cfg.ObserverGracePeriod)
	}
	if cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin should default to false")
	}
}

func TestLoadUsesExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("OPENAI_API_KEY", " sk-test ")
	t.Setenv("OPENAI_REALTIME_VOICE", "ash")
	t.Setenv("APP_SESSION_INACTIVITY_TIMEOUT", "90s")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("OpenAIAPIKey = %q, want trimmed value", cfg.OpenAIAPIKey)
	}
	if cfg.OpenAIVoice != "ash" {
		t.Fatalf("OpenAIVoice = %q, want %q", cfg.OpenAIVoice, "ash")
	}
	if cfg.SessionInactivityTimeout != 90*time.Second {
		t.Fatalf("SessionInactivityTimeout = %v, want 90s", cfg.SessionInactivityTimeout)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject an unparsable duration")
	}
}

func TestLoadRejectsTooShortInactivityTimeout(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_SESSION_INACTIVITY_TIMEOUT", "1s")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject a sub-5s inactivity timeout")
	}
}

func TestLoadRejectsBadBool(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "maybe")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject an unparsable bool")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_PUBLIC_HOST",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_OBSERVER_GRACE_PERIOD",
		"APP_JANITOR_INTERVAL",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_INSTRUCTIONS",
		"APP_GREETING",
		"APP_HOLD_MUSIC_DIR",
		"APP_HOLD_MUSIC_DEFAULT_TRACK",
		"OPENAI_API_KEY",
		"OPENAI_REALTIME_URL",
		"OPENAI_REALTIME_MODEL",
		"OPENAI_REALTIME_VOICE",
		"DATABASE_URL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
